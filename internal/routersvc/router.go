// Package routersvc turns raw controller events into protocol lines and owns the per-axis
// state of one connection.
package routersvc

import (
	"errors"
	"fmt"

	"github.com/neuroplastio/neio-pad/padapi"
	"github.com/neuroplastio/neio-pad/pkg/bus"
	"github.com/neuroplastio/neio-pad/wire"
	"go.uber.org/zap"
)

var (
	ErrUnknownSignal = errors.New("unknown signal")
	ErrBusy          = errors.New("router is already dispatching")
)

// Outcome describes what Dispatch did with an event.
type Outcome uint8

const (
	OutcomeSent Outcome = iota
	OutcomeSuppressed
	OutcomeIgnored
	OutcomeQuit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeQuit:
		return "quit"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

type State uint8

const (
	StateIdle State = iota
	StateDispatching
)

// Report is published for events the router drops without touching the wire.
type Report struct {
	Event  padapi.Event
	Signal padapi.Signal
	Err    error
}

type (
	ReportBus        = bus.Bus[padapi.SignalKind, Report]
	ReportPublisher  = bus.Publisher[Report]
	ReportSubscriber = bus.Subscriber[padapi.SignalKind, Report]
)

func NewReportBus(log *zap.Logger) *ReportBus {
	return bus.NewBus[padapi.SignalKind, Report](log)
}

// SignalState is kept for every axis seen on the connection. Baseline is the last value that
// was transmitted, never a rejected sample.
type SignalState struct {
	Baseline float64
}

// Vocabulary maps signals to wire names. The zero value of a field falls back to the padapi tables.
type Vocabulary struct {
	Press   func(padapi.Button) (string, bool)
	Release func(padapi.Button) (string, bool)
	Axis    func(padapi.Axis) (string, bool)
}

func (v Vocabulary) withDefaults() Vocabulary {
	if v.Press == nil {
		v.Press = padapi.PressLabel
	}
	if v.Release == nil {
		v.Release = padapi.ReleaseLabel
	}
	if v.Axis == nil {
		v.Axis = padapi.AxisName
	}
	return v
}

type routerOptions struct {
	sensitivity float64
	report      func(key padapi.SignalKind, r Report) bool
	vocabulary  Vocabulary
}

type Option func(*routerOptions)

func WithSensitivity(s float64) Option {
	return func(o *routerOptions) {
		o.sensitivity = s
	}
}

func WithVocabulary(v Vocabulary) Option {
	return func(o *routerOptions) {
		o.vocabulary = v
	}
}

// WithReportBus publishes unknown-signal reports on b, keyed by signal kind. Reports are
// dropped rather than delaying dispatch when the bus is backed up.
func WithReportBus(b *ReportBus) Option {
	return func(o *routerOptions) {
		o.report = b.TryPublish
	}
}

// Router is bound to one connection. It is not safe for concurrent use.
type Router struct {
	log         *zap.Logger
	sink        padapi.Sink
	encoder     *wire.Encoder
	sensitivity float64
	report      func(key padapi.SignalKind, r Report) bool
	vocabulary  Vocabulary

	state  State
	states map[padapi.Axis]*SignalState
}

func New(log *zap.Logger, sink padapi.Sink, opts ...Option) *Router {
	options := routerOptions{
		sensitivity: padapi.DefaultSensitivity,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Router{
		log:         log,
		sink:        sink,
		encoder:     wire.NewEncoder(),
		sensitivity: options.sensitivity,
		report:      options.report,
		vocabulary:  options.vocabulary.withDefaults(),
		states:      make(map[padapi.Axis]*SignalState),
	}
}

func (r *Router) State() State {
	return r.state
}

func (r *Router) Sensitivity() float64 {
	return r.sensitivity
}

// SetSensitivity changes the threshold for subsequent samples. Stored baselines are kept.
func (r *Router) SetSensitivity(s float64) {
	r.sensitivity = s
}

// Baseline returns the last transmitted value of a, if any sample of a was seen.
func (r *Router) Baseline(a padapi.Axis) (float64, bool) {
	st, ok := r.states[a]
	if !ok {
		return 0, false
	}
	return st.Baseline, true
}

// Dispatch processes one event to completion. Unknown signals are reported, not returned.
// Encoding and transport failures are returned to the caller, which decides whether to go on.
func (r *Router) Dispatch(event padapi.Event) (Outcome, error) {
	if r.state != StateIdle {
		return OutcomeIgnored, ErrBusy
	}
	r.state = StateDispatching
	defer func() {
		r.state = StateIdle
	}()

	switch event.Type {
	case padapi.EventButtonDown:
		return r.dispatchButton(event, r.vocabulary.Press)
	case padapi.EventButtonUp:
		return r.dispatchButton(event, r.vocabulary.Release)
	case padapi.EventAxisMotion:
		return r.dispatchAxis(event)
	case padapi.EventQuit:
		return OutcomeQuit, nil
	default:
		r.log.Debug("unsupported event type", zap.Stringer("type", event.Type))
		return OutcomeIgnored, nil
	}
}

func (r *Router) dispatchButton(event padapi.Event, labelOf func(padapi.Button) (string, bool)) (Outcome, error) {
	label, ok := labelOf(event.Button)
	if !ok {
		r.reportUnknown(event)
		return OutcomeIgnored, nil
	}
	line, err := r.encoder.EncodeDiscrete(label)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to encode %s: %w", event.Button, err)
	}
	if err := r.send(line); err != nil {
		return OutcomeIgnored, err
	}
	return OutcomeSent, nil
}

func (r *Router) dispatchAxis(event padapi.Event) (Outcome, error) {
	name, ok := r.vocabulary.Axis(event.Axis)
	if !ok {
		r.reportUnknown(event)
		return OutcomeIgnored, nil
	}
	st, ok := r.states[event.Axis]
	if !ok {
		st = &SignalState{Baseline: 0}
		r.states[event.Axis] = st
	}

	value := padapi.Normalize(int(event.Value), padapi.FullScale)
	if !padapi.ShouldEmit(st.Baseline, value, r.sensitivity, 1) {
		return OutcomeSuppressed, nil
	}
	line, err := r.encoder.EncodeState(name, value)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to encode %s: %w", event.Axis, err)
	}
	if err := r.send(line); err != nil {
		return OutcomeIgnored, err
	}
	st.Baseline = value
	return OutcomeSent, nil
}

func (r *Router) send(line []byte) error {
	if err := r.sink.Send(line); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	if ce := r.log.Check(zap.DebugLevel, "sent"); ce != nil {
		ce.Write(zap.ByteString("line", line))
	}
	return nil
}

func (r *Router) reportUnknown(event padapi.Event) {
	signal, _ := event.Signal()
	r.log.Debug("unknown signal", zap.Stringer("event", event.Type), zap.Stringer("signal", signal))
	if r.report == nil {
		return
	}
	ok := r.report(signal.Kind, Report{
		Event:  event,
		Signal: signal,
		Err:    fmt.Errorf("%w: %s", ErrUnknownSignal, signal),
	})
	if !ok {
		r.log.Warn("report bus is full, unknown signal report dropped", zap.Stringer("signal", signal))
	}
}
