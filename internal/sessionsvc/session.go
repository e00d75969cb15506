// Package sessionsvc runs the bridge event loop: one controller, one connection, one router.
package sessionsvc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/neuroplastio/neio-pad/internal/devicesvc"
	"github.com/neuroplastio/neio-pad/internal/routersvc"
	"github.com/neuroplastio/neio-pad/padapi"
	"github.com/neuroplastio/neio-pad/wire"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type (
	SourceOpener func() (padapi.Source, error)
	SinkOpener   func(ctx context.Context) (padapi.SinkCloser, error)
)

// Recorder stores the controllers sessions were run with.
type Recorder interface {
	RecordSession(info padapi.ControllerInfo) (devicesvc.Controller, error)
}

// Settings can change while a session runs.
type Settings struct {
	Sensitivity float64
	StopOnGuide bool
}

type Stats struct {
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	Ignored    uint64 `json:"ignored"`
	Failed     uint64 `json:"failed"`
}

type counters struct {
	sent       *atomic.Uint64
	suppressed *atomic.Uint64
	ignored    *atomic.Uint64
	failed     *atomic.Uint64
}

type sessionOptions struct {
	settings      Settings
	statsInterval time.Duration
	recorder      Recorder
	routerOptions []routersvc.Option
}

type Option func(*sessionOptions)

func WithSettings(s Settings) Option {
	return func(o *sessionOptions) {
		o.settings = s
	}
}

// WithStatsInterval logs counters periodically at debug level. Zero disables it.
func WithStatsInterval(d time.Duration) Option {
	return func(o *sessionOptions) {
		o.statsInterval = d
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *sessionOptions) {
		o.recorder = r
	}
}

// WithRouterOptions is applied to the router of every run, after the session's own options.
func WithRouterOptions(opts ...routersvc.Option) Option {
	return func(o *sessionOptions) {
		o.routerOptions = append(o.routerOptions, opts...)
	}
}

type Session struct {
	log        *zap.Logger
	openSource SourceOpener
	openSink   SinkOpener
	options    sessionOptions

	settings chan Settings
	counters counters
}

func New(log *zap.Logger, openSource SourceOpener, openSink SinkOpener, opts ...Option) *Session {
	options := sessionOptions{
		settings: Settings{Sensitivity: padapi.DefaultSensitivity},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Session{
		log:        log,
		openSource: openSource,
		openSink:   openSink,
		options:    options,
		settings:   make(chan Settings, 1),
		counters: counters{
			sent:       atomic.NewUint64(0),
			suppressed: atomic.NewUint64(0),
			ignored:    atomic.NewUint64(0),
			failed:     atomic.NewUint64(0),
		},
	}
}

// Update hands new settings to the running loop. They apply before the next event.
func (s *Session) Update(settings Settings) {
	for {
		select {
		case s.settings <- settings:
			return
		default:
		}
		select {
		case <-s.settings:
		default:
		}
	}
}

func (s *Session) Stats() Stats {
	return Stats{
		Sent:       s.counters.sent.Load(),
		Suppressed: s.counters.suppressed.Load(),
		Ignored:    s.counters.ignored.Load(),
		Failed:     s.counters.failed.Load(),
	}
}

// Run opens the controller, then the connection, and forwards events until a Quit event,
// ctx cancellation, or a stop request from the Guide button. A send failure ends the run with
// an error; there is no reconnection.
func (s *Session) Run(ctx context.Context) error {
	// input sources such as SDL are bound to the thread that opened them
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	source, err := s.openSource()
	if err != nil {
		return fmt.Errorf("failed to open input source: %w", err)
	}
	defer source.Close()
	s.record(source)

	sink, err := s.openSink(ctx)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer sink.Close()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	reports := routersvc.NewReportBus(s.log.Named("reports"))
	reportCh := reports.Subscribe(ctx)
	err = reports.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start report bus: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range reportCh {
			s.log.Warn("Ignored input", zap.Stringer("signal", msg.Message.Signal), zap.Error(msg.Message.Err))
		}
	}()
	if s.options.statsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logStats(ctx)
		}()
	}

	settings := s.options.settings
	routerOptions := append([]routersvc.Option{
		routersvc.WithSensitivity(settings.Sensitivity),
		routersvc.WithReportBus(reports),
	}, s.options.routerOptions...)
	router := routersvc.New(s.log.Named("router"), sink, routerOptions...)
	s.log.Info("Session started", zap.Float64("sensitivity", settings.Sensitivity), zap.Bool("stopOnGuide", settings.StopOnGuide))
	for {
		select {
		case settings = <-s.settings:
			router.SetSensitivity(settings.Sensitivity)
			s.log.Info("Settings updated", zap.Float64("sensitivity", settings.Sensitivity), zap.Bool("stopOnGuide", settings.StopOnGuide))
		default:
		}

		event, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("Session stopped")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		outcome, err := router.Dispatch(event)
		if err != nil {
			s.counters.failed.Inc()
			if errors.Is(err, wire.ErrMessageTooLong) || errors.Is(err, wire.ErrInvalidName) {
				s.log.Error("Message dropped", zap.Error(err))
				continue
			}
			return fmt.Errorf("session aborted: %w", err)
		}
		s.count(outcome)

		switch {
		case outcome == routersvc.OutcomeQuit:
			s.log.Info("Quit requested")
			return nil
		case settings.StopOnGuide && event.Type == padapi.EventButtonDown && event.Button == padapi.ButtonGuide:
			s.log.Info("Guide button pressed, stopping")
			return nil
		}
	}
}

func (s *Session) record(source padapi.Source) {
	d, ok := source.(padapi.Describer)
	if !ok || s.options.recorder == nil {
		return
	}
	_, err := s.options.recorder.RecordSession(d.Controller())
	if err != nil {
		s.log.Warn("Failed to record controller", zap.Error(err))
	}
}

func (s *Session) count(outcome routersvc.Outcome) {
	switch outcome {
	case routersvc.OutcomeSent:
		s.counters.sent.Inc()
	case routersvc.OutcomeSuppressed:
		s.counters.suppressed.Inc()
	case routersvc.OutcomeIgnored:
		s.counters.ignored.Inc()
	}
}

func (s *Session) logStats(ctx context.Context) {
	t := time.NewTicker(s.options.statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := s.Stats()
			s.log.Debug("stats",
				zap.Uint64("sent", st.Sent),
				zap.Uint64("suppressed", st.Suppressed),
				zap.Uint64("ignored", st.Ignored),
				zap.Uint64("failed", st.Failed),
			)
		}
	}
}
