package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/decode"
	"github.com/usnistgov/delila/errs"
	"github.com/usnistgov/delila/record"
)

type fakeDigitizer struct {
	opened        bool
	armCalled     bool
	startCommand  string
	endpointErr   error
	commandErr    error
}

func (f *fakeDigitizer) Open(url string) error { f.opened = true; return nil }
func (f *fakeDigitizer) GetDeviceInfo() (DeviceInfo, error) { return DeviceInfo{}, nil }
func (f *fakeDigitizer) SetValue(path, value string) error { return nil }
func (f *fakeDigitizer) GetValue(path string) (string, error) { return "", nil }
func (f *fakeDigitizer) ConfigureEndpoint() error { return f.endpointErr }
func (f *fakeDigitizer) Close() error { f.opened = false; return nil }
func (f *fakeDigitizer) SendCommand(cmd string) error {
	if f.commandErr != nil {
		return f.commandErr
	}
	if cmd == "arm" {
		f.armCalled = true
	} else {
		f.startCommand = cmd
	}
	return nil
}
func (f *fakeDigitizer) ReadData(timeout time.Duration) (ReadResult, error) {
	return ReadResult{Outcome: OutcomeStop}, nil
}

func TestSource_Configure_RequiresIdle(t *testing.T) {
	dig := &fakeDigitizer{}
	src := New(1, dig, decode.NewPSD2Decoder(1), "inproc://test-configure")

	require.NoError(t, src.Configure(record.RunConfig{RunNumber: 1}))

	err := src.Configure(record.RunConfig{RunNumber: 2})
	assert.ErrorIs(t, err, errs.ErrStateTransition)
}

func TestSource_Arm_PSD2UsesHardwareArm(t *testing.T) {
	dig := &fakeDigitizer{}
	src := New(1, dig, decode.NewPSD2Decoder(1), "inproc://test-arm-psd2")
	require.NoError(t, src.Configure(record.RunConfig{}))
	require.NoError(t, src.watcher.SetState(control.Configured))

	require.NoError(t, src.Arm())
	assert.True(t, dig.armCalled, "PSD2 decoder has ArmPolicyHardwareArm by default")
}

func TestSource_Arm_PSD1DefersToStart(t *testing.T) {
	dig := &fakeDigitizer{}
	src := New(1, dig, decode.NewPSD1Decoder(1), "inproc://test-arm-psd1")
	require.NoError(t, src.Configure(record.RunConfig{}))
	require.NoError(t, src.watcher.SetState(control.Configured))

	require.NoError(t, src.Arm())
	assert.False(t, dig.armCalled, "PSD1's ArmPolicyArmIsNoop defers the hardware arm to Start")
}

func TestSource_ArmPolicy_Helper(t *testing.T) {
	psd2Src := New(1, &fakeDigitizer{}, decode.NewPSD2Decoder(1), "inproc://test-policy-psd2")
	assert.Equal(t, decode.ArmPolicyHardwareArm, psd2Src.armPolicy())

	psd1Src := New(1, &fakeDigitizer{}, decode.NewPSD1Decoder(1), "inproc://test-policy-psd1")
	assert.Equal(t, decode.ArmPolicyArmIsNoop, psd1Src.armPolicy())
}

func TestEmulator_ModeRawBytes_TimeoutOnNilFn(t *testing.T) {
	e := NewEmulator(ModeRawBytes, 1)
	require.NoError(t, e.Open("emu://"))

	res, err := e.ReadData(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
}

func TestEmulator_ModeDirectEvents_ProducesDecodableBuffer(t *testing.T) {
	e := NewEmulator(ModeDirectEvents, 42)
	e.BatchSize = 8
	require.NoError(t, e.Open("emu://"))

	res, err := e.ReadData(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)

	dec := decode.NewPSD2Decoder(0)
	events, err := dec.Decode(res.Buf)
	require.NoError(t, err)
	assert.Len(t, events, 8)
}

func TestEmulator_StopAfter(t *testing.T) {
	e := NewEmulator(ModeDirectEvents, 1)
	e.StopAfter = 2
	require.NoError(t, e.Open("emu://"))

	for i := 0; i < 2; i++ {
		res, err := e.ReadData(time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, OutcomeOK, res.Outcome)
	}
	res, err := e.ReadData(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStop, res.Outcome)
}

func TestPublishBatch_SequenceNumbersAreContiguousAndResetOnStart(t *testing.T) {
	e := NewEmulator(ModeDirectEvents, 7)
	e.BatchSize = 4
	require.NoError(t, e.Open("emu://"))

	src := New(1, e, decode.NewPSD2Decoder(1), "inproc://test-seq")

	var seqs []uint64
	for i := 0; i < 5; i++ {
		res, err := e.ReadData(time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, OutcomeOK, res.Outcome)
		src.publishBatch(res.Buf)
		seqs = append(seqs, src.seq-1)
	}
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, seqs, "sequence_number must be {0,1,...,final} with no duplicates")

	// A fresh Start resets the counter to zero (source.go's Start does this
	// before launching the read/decode loops).
	src.seq = 0
	res, err := e.ReadData(time.Millisecond)
	require.NoError(t, err)
	src.publishBatch(res.Buf)
	assert.Equal(t, uint64(1), src.seq, "sequence resets to 0 on every Start")
}

func TestEmulator_ReadData_ErrorsWhenNotOpened(t *testing.T) {
	e := NewEmulator(ModeDirectEvents, 1)
	_, err := e.ReadData(time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrDeviceHardware)
}
