package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/neuroplastio/neio-pad/internal/transport"
	"github.com/neuroplastio/neio-pad/padapi"
)

// Config points to the locations the bridge works with. It comes from command line flags.
type Config struct {
	DataDir      string `json:"dataDir"`
	BridgeConfig string `json:"bridgeConfig"`
	LogFile      string `json:"logFile"`
	Debug        bool   `json:"debug"`
}

// Settings is the user-editable bridge.yml. Sensitivity and StopOnGuide are reloaded while a
// session runs; everything else is read when a session starts.
type Settings struct {
	Address         string   `json:"address"`
	Sensitivity     float64  `json:"sensitivity"`
	DialTimeout     Duration `json:"dialTimeout"`
	ControllerIndex int      `json:"controllerIndex"`
	StopOnGuide     bool     `json:"stopOnGuide"`
	Feedback        Feedback `json:"feedback"`
	StatsInterval   Duration `json:"statsInterval"`
}

type Feedback struct {
	Rumble bool `json:"rumble"`
	LED    bool `json:"led"`
}

func DefaultSettings() Settings {
	return Settings{
		Address:       transport.DefaultAddress,
		Sensitivity:   padapi.DefaultSensitivity,
		DialTimeout:   Duration(5 * time.Second),
		Feedback:      Feedback{Rumble: true, LED: true},
		StatsInterval: Duration(30 * time.Second),
	}
}

func (s Settings) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address is required")
	}
	if s.Sensitivity < 0 || s.Sensitivity >= 1 {
		return fmt.Errorf("sensitivity must be in [0, 1), got %v", s.Sensitivity)
	}
	if s.ControllerIndex < 0 {
		return fmt.Errorf("controllerIndex must not be negative")
	}
	if s.DialTimeout < 0 || s.StatsInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Duration reads and writes time.Duration in its string form ("5s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
