package padapi

// ControllerInfo identifies an opened physical controller.
type ControllerInfo struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// Describer is implemented by sources that know which controller they read from.
type Describer interface {
	Controller() ControllerInfo
}
