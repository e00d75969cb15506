package padapi

import (
	"context"
	"errors"
	"fmt"
	"io"
)

type EventType uint8

const (
	EventButtonDown EventType = iota
	EventButtonUp
	EventAxisMotion
	EventQuit
)

func (t EventType) String() string {
	switch t {
	case EventButtonDown:
		return "buttonDown"
	case EventButtonUp:
		return "buttonUp"
	case EventAxisMotion:
		return "axisMotion"
	case EventQuit:
		return "quit"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is one raw input event as produced by a Source.
type Event struct {
	Type   EventType
	Button Button
	Axis   Axis
	Value  int16
}

func ButtonDown(b Button) Event {
	return Event{Type: EventButtonDown, Button: b}
}

func ButtonUp(b Button) Event {
	return Event{Type: EventButtonUp, Button: b}
}

func AxisMotion(a Axis, value int16) Event {
	return Event{Type: EventAxisMotion, Axis: a, Value: value}
}

func Quit() Event {
	return Event{Type: EventQuit}
}

// Signal returns the input the event originates from. Quit events have no signal.
func (e Event) Signal() (Signal, bool) {
	switch e.Type {
	case EventButtonDown, EventButtonUp:
		return ButtonSignal(e.Button), true
	case EventAxisMotion:
		return AxisSignal(e.Axis), true
	default:
		return Signal{}, false
	}
}

var ErrSourceClosed = errors.New("source closed")

// Source produces raw controller events. Next blocks until an event is available or ctx is done.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Sink delivers encoded lines in order. Send does not retry.
type Sink interface {
	Send(p []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p []byte) error

func (f SinkFunc) Send(p []byte) error {
	return f(p)
}

// SinkCloser is a Sink owning a connection.
type SinkCloser interface {
	Sink
	io.Closer
}

type writerSink struct {
	w io.Writer
}

// NewWriterSink returns a sink writing lines to w. Closing it does not close w.
func NewWriterSink(w io.Writer) SinkCloser {
	return writerSink{w: w}
}

func (s writerSink) Send(p []byte) error {
	_, err := s.w.Write(p)
	return err
}

func (s writerSink) Close() error {
	return nil
}
