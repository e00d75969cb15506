package routersvc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neuroplastio/neio-pad/padapi"
	"github.com/neuroplastio/neio-pad/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	lines []string
	err   error
}

func (s *recordingSink) Send(p []byte) error {
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, string(p))
	return nil
}

func newTestRouter(t *testing.T, opts ...Option) (*Router, *recordingSink) {
	sink := &recordingSink{}
	return New(zaptest.NewLogger(t), sink, opts...), sink
}

// raw returns the raw sample for a normalized value.
func raw(v float64) int16 {
	return int16(v * padapi.FullScale)
}

func TestPressThenRelease(t *testing.T) {
	r, sink := newTestRouter(t)

	outcome, err := r.Dispatch(padapi.ButtonDown(padapi.ButtonA))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	outcome, err = r.Dispatch(padapi.ButtonUp(padapi.ButtonA))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	assert.Equal(t, []string{"CroixP\n", "CroixR\n"}, sink.lines)
}

func TestEveryButton(t *testing.T) {
	r, sink := newTestRouter(t)
	var expected []string
	for _, b := range padapi.Buttons() {
		press, _ := padapi.PressLabel(b)
		release, _ := padapi.ReleaseLabel(b)
		expected = append(expected, press+"\n", release+"\n")

		_, err := r.Dispatch(padapi.ButtonDown(b))
		require.NoError(t, err)
		_, err = r.Dispatch(padapi.ButtonUp(b))
		require.NoError(t, err)
	}
	assert.Equal(t, expected, sink.lines)
}

func TestGuideIsOnlyAMessage(t *testing.T) {
	r, sink := newTestRouter(t)
	outcome, err := r.Dispatch(padapi.ButtonDown(padapi.ButtonGuide))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, []string{"PsP\n"}, sink.lines)
}

func TestQuitIsNotEncoded(t *testing.T) {
	r, sink := newTestRouter(t)
	outcome, err := r.Dispatch(padapi.Quit())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuit, outcome)
	assert.Empty(t, sink.lines)
}

func TestUnknownButtonIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zaptest.NewLogger(t)
	reports := NewReportBus(log)
	sub := reports.Subscribe(ctx, padapi.SignalButton)
	require.NoError(t, reports.Start(ctx))

	sink := &recordingSink{}
	r := New(log, sink, WithReportBus(reports))

	outcome, err := r.Dispatch(padapi.ButtonDown(padapi.Button(20)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, sink.lines)

	select {
	case msg := <-sub:
		assert.Equal(t, padapi.SignalButton, msg.Key)
		assert.ErrorIs(t, msg.Message.Err, ErrUnknownSignal)
		assert.Equal(t, padapi.ButtonSignal(padapi.Button(20)), msg.Message.Signal)
	case <-time.After(time.Second):
		t.Fatal("no report received")
	}
}

func TestUnknownAxisIsIgnored(t *testing.T) {
	r, sink := newTestRouter(t)
	outcome, err := r.Dispatch(padapi.AxisMotion(padapi.Axis(9), 30000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, sink.lines)
	_, ok := r.Baseline(padapi.Axis(9))
	assert.False(t, ok)
}

func TestAxisThreshold(t *testing.T) {
	r, sink := newTestRouter(t)

	// first sample is compared against an explicit zero baseline
	outcome, err := r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(0.03)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	baseline, ok := r.Baseline(padapi.AxisLeftX)
	require.True(t, ok)
	assert.Equal(t, 0.0, baseline)

	outcome, err = r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, 13865))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, []string{"JGX:0.42\n"}, sink.lines)
	baseline, _ = r.Baseline(padapi.AxisLeftX)
	assert.Equal(t, padapi.Normalize(13865, padapi.FullScale), baseline)

	// same value again emits nothing
	outcome, err = r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, 13865))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Len(t, sink.lines, 1)
}

func TestAxesAreIndependent(t *testing.T) {
	r, sink := newTestRouter(t)

	_, err := r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(0.5)))
	require.NoError(t, err)
	_, err = r.Dispatch(padapi.AxisMotion(padapi.AxisRightY, raw(-0.5)))
	require.NoError(t, err)
	_, err = r.Dispatch(padapi.AxisMotion(padapi.AxisTriggerLeft, raw(0.25)))
	require.NoError(t, err)
	_, err = r.Dispatch(padapi.AxisMotion(padapi.AxisTriggerRight, 32767))
	require.NoError(t, err)

	assert.Equal(t, []string{"JGX:0.50\n", "JDY:-0.50\n", "GG:0.25\n", "GD:1.00\n"}, sink.lines)
	_, ok := r.Baseline(padapi.AxisLeftY)
	assert.False(t, ok)
}

func TestSubThresholdStepsNeverAccumulate(t *testing.T) {
	r, sink := newTestRouter(t)

	// each step is 0.04 from the previous sample, but the baseline stays at zero until a
	// sample is more than 0.05 away from it
	steps := []float64{0.04, 0.0, 0.04, 0.0, 0.04, 0.01, 0.03, 0.05}
	for _, v := range steps {
		outcome, err := r.Dispatch(padapi.AxisMotion(padapi.AxisTriggerLeft, raw(v)))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuppressed, outcome, "value %v", v)
	}
	assert.Empty(t, sink.lines)

	outcome, err := r.Dispatch(padapi.AxisMotion(padapi.AxisTriggerLeft, raw(0.06)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, []string{"GG:0.06\n"}, sink.lines)
}

func TestSlowRampIsMeasuredFromLastSent(t *testing.T) {
	r, sink := newTestRouter(t)
	for i := 1; i < 20; i++ {
		_, err := r.Dispatch(padapi.AxisMotion(padapi.AxisRightX, raw(float64(i)/100)))
		require.NoError(t, err)
	}
	// sends happen once the ramp has moved more than 0.05 from the previously sent value
	assert.Equal(t, []string{"JDX:0.06\n", "JDX:0.12\n", "JDX:0.18\n"}, sink.lines)
}

func TestEmissionProperty(t *testing.T) {
	samples := []int16{0, 100, 2000, 1500, 4000, -4000, -3000, 32767, 31000, -32768, -30000, 0, 1700}
	r, sink := newTestRouter(t)
	last := 0.0
	expectedSends := 0
	for _, s := range samples {
		v := padapi.Normalize(int(s), padapi.FullScale)
		emit := v-last > padapi.DefaultSensitivity || last-v > padapi.DefaultSensitivity
		outcome, err := r.Dispatch(padapi.AxisMotion(padapi.AxisLeftY, s))
		require.NoError(t, err)
		if emit {
			expectedSends++
			last = v
			assert.Equal(t, OutcomeSent, outcome, "sample %d", s)
		} else {
			assert.Equal(t, OutcomeSuppressed, outcome, "sample %d", s)
		}
		baseline, _ := r.Baseline(padapi.AxisLeftY)
		assert.Equal(t, last, baseline)
	}
	assert.Len(t, sink.lines, expectedSends)
}

func TestTransportErrorKeepsBaseline(t *testing.T) {
	errBroken := errors.New("broken pipe")
	r, sink := newTestRouter(t)

	_, err := r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(0.5)))
	require.NoError(t, err)

	sink.err = errBroken
	outcome, err := r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(-0.5)))
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, OutcomeIgnored, outcome)
	baseline, _ := r.Baseline(padapi.AxisLeftX)
	assert.Equal(t, 0.5, baseline)

	_, err = r.Dispatch(padapi.ButtonDown(padapi.ButtonB))
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, StateIdle, r.State())
}

func TestSetSensitivity(t *testing.T) {
	r, sink := newTestRouter(t, WithSensitivity(0.2))
	assert.Equal(t, 0.2, r.Sensitivity())

	_, err := r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(0.15)))
	require.NoError(t, err)
	assert.Empty(t, sink.lines)

	r.SetSensitivity(0.1)
	_, err = r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(0.15)))
	require.NoError(t, err)
	assert.Equal(t, []string{"JGX:0.15\n"}, sink.lines)
}

func TestReentrantDispatch(t *testing.T) {
	var inner error
	var r *Router
	r = New(zaptest.NewLogger(t), padapi.SinkFunc(func(p []byte) error {
		assert.Equal(t, StateDispatching, r.State())
		_, inner = r.Dispatch(padapi.ButtonDown(padapi.ButtonB))
		return nil
	}))
	_, err := r.Dispatch(padapi.ButtonDown(padapi.ButtonA))
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrBusy)
	assert.Equal(t, StateIdle, r.State())
}

func TestVocabularyFitsLineLimit(t *testing.T) {
	r, sink := newTestRouter(t)
	for _, b := range padapi.Buttons() {
		_, err := r.Dispatch(padapi.ButtonDown(b))
		require.NotErrorIs(t, err, wire.ErrMessageTooLong)
	}
	assert.Len(t, sink.lines, len(padapi.Buttons()))
}

func TestEncodeErrorIsReturned(t *testing.T) {
	long := strings.Repeat("X", wire.MaxLineLength)
	r, sink := newTestRouter(t, WithVocabulary(Vocabulary{
		Press: func(b padapi.Button) (string, bool) {
			if b == padapi.ButtonB {
				return long, true
			}
			return padapi.PressLabel(b)
		},
		Axis: func(padapi.Axis) (string, bool) { return long, true },
	}))

	outcome, err := r.Dispatch(padapi.ButtonDown(padapi.ButtonB))
	assert.ErrorIs(t, err, wire.ErrMessageTooLong)
	assert.Equal(t, OutcomeIgnored, outcome)

	_, err = r.Dispatch(padapi.AxisMotion(padapi.AxisLeftX, raw(0.5)))
	assert.ErrorIs(t, err, wire.ErrMessageTooLong)
	baseline, ok := r.Baseline(padapi.AxisLeftX)
	require.True(t, ok)
	assert.Equal(t, 0.0, baseline)

	outcome, err = r.Dispatch(padapi.ButtonUp(padapi.ButtonB))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, []string{"RondR\n"}, sink.lines)
	assert.Equal(t, StateIdle, r.State())
}
