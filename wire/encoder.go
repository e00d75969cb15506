// Package wire renders protocol messages into the newline-delimited text format understood by the device.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxLineLength bounds an encoded line, newline included. The device side reads into a 50 byte
// buffer that also holds a terminator.
const MaxLineLength = 49

const stateDecimals = 2

var (
	ErrMessageTooLong = errors.New("message too long")
	ErrInvalidName    = errors.New("invalid name")
)

// Message is a single protocol line before encoding.
type Message interface {
	AppendLine(dst []byte) ([]byte, error)
}

// StateUpdate carries the normalized value of an analog signal.
type StateUpdate struct {
	Name  string
	Value float64
}

func (m StateUpdate) AppendLine(dst []byte) ([]byte, error) {
	if err := validateName(m.Name); err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, m.Name...)
	dst = append(dst, ':')
	dst = strconv.AppendFloat(dst, m.Value, 'f', stateDecimals, 64)
	dst = append(dst, '\n')
	return checkLength(dst, start)
}

// DiscreteEvent is a button transition label.
type DiscreteEvent struct {
	Label string
}

func (m DiscreteEvent) AppendLine(dst []byte) ([]byte, error) {
	if err := validateName(m.Label); err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, m.Label...)
	dst = append(dst, '\n')
	return checkLength(dst, start)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, ":\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func checkLength(dst []byte, start int) ([]byte, error) {
	if n := len(dst) - start; n > MaxLineLength {
		return dst[:start], fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLong, n, MaxLineLength)
	}
	return dst, nil
}

// Encoder turns messages into lines. It reuses one buffer, so a returned line is only valid until
// the next call. Not safe for concurrent use.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, MaxLineLength)}
}

func (e *Encoder) Encode(m Message) ([]byte, error) {
	line, err := m.AppendLine(e.buf[:0])
	if err != nil {
		return nil, err
	}
	e.buf = line
	return line, nil
}

// EncodeState renders "<name>:<value>\n" with the value rounded to two decimals.
func (e *Encoder) EncodeState(name string, value float64) ([]byte, error) {
	return e.Encode(StateUpdate{Name: name, Value: value})
}

// EncodeDiscrete renders "<label>\n".
func (e *Encoder) EncodeDiscrete(label string) ([]byte, error) {
	return e.Encode(DiscreteEvent{Label: label})
}
