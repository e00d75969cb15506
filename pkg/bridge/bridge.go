package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/neio-pad/internal/configsvc"
	"github.com/neuroplastio/neio-pad/internal/devicesvc"
	"github.com/neuroplastio/neio-pad/internal/inputsvc/sdlpad"
	"github.com/neuroplastio/neio-pad/internal/sessionsvc"
	"github.com/neuroplastio/neio-pad/internal/transport"
	"github.com/neuroplastio/neio-pad/padapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Bridge struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	configSvc *configsvc.Service
	devices   *devicesvc.Service
}

func NewBridge(config Config) (*Bridge, error) {
	logger, err := newLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	err = os.MkdirAll(config.DataDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &Bridge{
		config:    config,
		log:       logger,
		db:        db,
		configSvc: configsvc.New(logger.Named("config")),
		devices:   devicesvc.New(db, logger.Named("devices"), time.Now),
	}, nil
}

func (b *Bridge) Close() error {
	err := b.db.Close()
	_ = b.log.Sync()
	if err != nil {
		return fmt.Errorf("failed to close badger db: %w", err)
	}
	return nil
}

func (b *Bridge) Devices() *devicesvc.Service {
	return b.devices
}

// Settings reads bridge.yml, creating it with defaults on first use.
func (b *Bridge) Settings() (Settings, error) {
	settings, err := configsvc.Load(b.config.BridgeConfig, DefaultSettings())
	if err != nil {
		return Settings{}, err
	}
	err = settings.Validate()
	if err != nil {
		return Settings{}, fmt.Errorf("invalid config %s: %w", b.config.BridgeConfig, err)
	}
	return settings, nil
}

// Override adjusts settings after they are read from disk, including on reload.
type Override func(*Settings)

// Run bridges the controller to the device until the session ends. Edits to bridge.yml are
// applied to the running session.
func (b *Bridge) Run(ctx context.Context, overrides ...Override) error {
	settings, err := b.Settings()
	if err != nil {
		return err
	}
	applyOverrides(&settings, overrides)
	err = settings.Validate()
	if err != nil {
		return err
	}

	session := b.newSession(settings, b.openConnection(settings))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		defer cancel()
		select {
		case <-groupCtx.Done():
			return nil
		case <-b.configSvc.Ready():
		}
		err := configsvc.Register(b.configSvc, b.config.BridgeConfig, DefaultSettings(), func(s Settings, err error) {
			if err == nil {
				applyOverrides(&s, overrides)
				err = s.Validate()
			}
			if err != nil {
				b.log.Error("Ignoring config change", zap.Error(err))
				return
			}
			session.Update(sessionsvc.Settings{Sensitivity: s.Sensitivity, StopOnGuide: s.StopOnGuide})
		})
		if err != nil {
			b.log.Warn("Config reload disabled", zap.Error(err))
		}
		return session.Run(groupCtx)
	})

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("bridge failed: %w", err)
	}
	return nil
}

// Monitor runs the router against out instead of the device. The Guide button stops it.
func (b *Bridge) Monitor(ctx context.Context, out io.Writer, overrides ...Override) error {
	settings, err := b.Settings()
	if err != nil {
		return err
	}
	applyOverrides(&settings, overrides)
	settings.StopOnGuide = true
	session := b.newSession(settings, func(context.Context) (padapi.SinkCloser, error) {
		return padapi.NewWriterSink(out), nil
	})
	return session.Run(ctx)
}

// Ping checks that the device accepts connections and answers a greeting.
func (b *Bridge) Ping(ctx context.Context, timeout time.Duration, overrides ...Override) (string, error) {
	settings, err := b.Settings()
	if err != nil {
		return "", err
	}
	applyOverrides(&settings, overrides)
	b.log.Info("Pinging device", zap.String("address", settings.Address))
	return transport.Ping(ctx, settings.Address, timeout, transport.WithDialTimeout(time.Duration(settings.DialTimeout)))
}

func (b *Bridge) newSession(settings Settings, openSink sessionsvc.SinkOpener) *sessionsvc.Session {
	openSource := func() (padapi.Source, error) {
		src, err := sdlpad.Open(b.log.Named("sdl"), settings.ControllerIndex, sdlpad.Feedback{
			Rumble: settings.Feedback.Rumble,
			LED:    settings.Feedback.LED,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return sessionsvc.New(b.log.Named("session"), openSource, openSink,
		sessionsvc.WithSettings(sessionsvc.Settings{
			Sensitivity: settings.Sensitivity,
			StopOnGuide: settings.StopOnGuide,
		}),
		sessionsvc.WithStatsInterval(time.Duration(settings.StatsInterval)),
		sessionsvc.WithRecorder(b.devices),
	)
}

func (b *Bridge) openConnection(settings Settings) sessionsvc.SinkOpener {
	return func(ctx context.Context) (padapi.SinkCloser, error) {
		conn, err := transport.Dial(ctx, b.log.Named("transport"), settings.Address,
			transport.WithDialTimeout(time.Duration(settings.DialTimeout)),
		)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func applyOverrides(s *Settings, overrides []Override) {
	for _, o := range overrides {
		o(s)
	}
}
