// Package sdlpad reads controller events through the SDL GameController API.
//
// SDL requires initialization and event polling to happen on one OS thread: call Open and
// Next from a goroutine that has called runtime.LockOSThread.
package sdlpad

import (
	"context"
	"fmt"

	"github.com/neuroplastio/neio-pad/padapi"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"
)

// pollTimeout bounds how long Next waits for SDL before checking its context again, in ms.
const pollTimeout = 50

type Feedback struct {
	Rumble bool
	LED    bool
}

type Source struct {
	log  *zap.Logger
	ctrl *sdl.GameController
	id   sdl.JoystickID
	info padapi.ControllerInfo
}

// Open initializes SDL and opens the index-th game controller. On success the controller
// rumbles briefly and its light turns green, as enabled by feedback.
func Open(log *zap.Logger, index int, feedback Feedback) (*Source, error) {
	err := sdl.Init(sdl.INIT_GAMECONTROLLER)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SDL: %w", err)
	}
	log.Info("Looking for controllers")
	count := sdl.NumJoysticks()
	if count <= index {
		sdl.Quit()
		return nil, fmt.Errorf("controller %d not found, %d joysticks connected", index, count)
	}
	if !sdl.IsGameController(index) {
		sdl.Quit()
		return nil, fmt.Errorf("joystick %d is not a game controller", index)
	}
	ctrl := sdl.GameControllerOpen(index)
	if ctrl == nil {
		err := sdl.GetError()
		sdl.Quit()
		return nil, fmt.Errorf("failed to open controller %d: %w", index, err)
	}
	joy := ctrl.Joystick()
	s := &Source{
		log:  log,
		ctrl: ctrl,
		id:   joy.InstanceID(),
		info: padapi.ControllerInfo{
			GUID: sdl.JoystickGetGUIDString(joy.GUID()),
			Name: ctrl.Name(),
		},
	}
	log.Info("Controller opened", zap.String("name", s.info.Name), zap.String("guid", s.info.GUID))
	s.greet(feedback)
	return s, nil
}

func (s *Source) greet(feedback Feedback) {
	if feedback.Rumble {
		if err := s.ctrl.Rumble(0x7fff, 0xffff, 500); err != nil {
			s.log.Debug("rumble not supported", zap.Error(err))
		}
	}
	if feedback.LED {
		if err := s.ctrl.SetLED(0x00, 0xff, 0x00); err != nil {
			s.log.Debug("LED not supported", zap.Error(err))
		}
	}
}

func (s *Source) Controller() padapi.ControllerInfo {
	return s.info
}

// Next returns the next event of the opened controller. SDL quit requests become Quit events;
// unplugging the controller ends the source.
func (s *Source) Next(ctx context.Context) (padapi.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return padapi.Event{}, err
		}
		ev := sdl.WaitEventTimeout(pollTimeout)
		if ev == nil {
			continue
		}
		event, ok, err := s.translate(ev)
		if err != nil {
			return padapi.Event{}, err
		}
		if ok {
			return event, nil
		}
	}
}

func (s *Source) translate(ev sdl.Event) (padapi.Event, bool, error) {
	switch e := ev.(type) {
	case *sdl.ControllerButtonEvent:
		if e.Which != s.id {
			return padapi.Event{}, false, nil
		}
		if e.Type == sdl.CONTROLLERBUTTONDOWN {
			return padapi.ButtonDown(padapi.Button(e.Button)), true, nil
		}
		return padapi.ButtonUp(padapi.Button(e.Button)), true, nil
	case *sdl.ControllerAxisEvent:
		if e.Which != s.id {
			return padapi.Event{}, false, nil
		}
		return padapi.AxisMotion(padapi.Axis(e.Axis), e.Value), true, nil
	case *sdl.ControllerDeviceEvent:
		if e.Type == sdl.CONTROLLERDEVICEREMOVED && e.Which == s.id {
			s.log.Warn("Controller removed", zap.String("name", s.info.Name))
			return padapi.Event{}, false, fmt.Errorf("controller removed: %w", padapi.ErrSourceClosed)
		}
	case *sdl.QuitEvent:
		return padapi.Quit(), true, nil
	}
	return padapi.Event{}, false, nil
}

func (s *Source) Close() error {
	s.ctrl.Close()
	sdl.Quit()
	return nil
}
