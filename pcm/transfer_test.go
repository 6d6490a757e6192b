package pcm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFast is a minimal FastOps double that lets the transfer-engine tests
// (S3, S4 scenarios / §8 properties) drive avail, state and the transfer
// callback directly without a real backend.
type fakeFast struct {
	state        State
	availSeq     []int64 // Successive AvailUpdate results; last value repeats.
	availIdx     int
	exhaustErr   error // If set, returned instead of repeating once availSeq is exhausted.
	transferFn   func(areas []ChannelArea, offset, frames uint) (int64, error)
	startCalls   int
	pollFD       int
	availUpdates int
}

func (f *fakeFast) nextAvail() (int64, error) {
	f.availUpdates++
	if f.availIdx < len(f.availSeq) {
		v := f.availSeq[f.availIdx]
		f.availIdx++
		return v, nil
	}
	if f.exhaustErr != nil {
		return 0, f.exhaustErr
	}
	return f.availSeq[len(f.availSeq)-1], nil
}

func (f *fakeFast) Status() (StatusSnapshot, error)        { return StatusSnapshot{State: f.state}, nil }
func (f *fakeFast) State() State                            { return f.state }
func (f *fakeFast) Delay() (int64, error)                   { return 0, nil }
func (f *fakeFast) Prepare() error                           { f.state = StatePrepared; return nil }
func (f *fakeFast) Reset() error                             { f.state = StatePrepared; return nil }
func (f *fakeFast) Start() error                             { f.startCalls++; f.state = StateRunning; return nil }
func (f *fakeFast) Drop() error                              { f.state = StateSetup; return nil }
func (f *fakeFast) Drain() error                             { f.state = StateSetup; return nil }
func (f *fakeFast) Pause(enable bool) error                  { return nil }
func (f *fakeFast) Rewind(n uint) (uint, error)               { return n, nil }
func (f *fakeFast) SetAvailMin(n uint) error                  { return nil }
func (f *fakeFast) AvailUpdate() (int64, error)               { return f.nextAvail() }
func (f *fakeFast) MMapForward(n uint) (uint, error)          { return n, nil }
func (f *fakeFast) PollDescriptor() int                       { return f.pollFD }
func (f *fakeFast) WriteAreas(areas []ChannelArea, offset, frames uint) (int64, error) {
	return f.transferFn(areas, offset, frames)
}
func (f *fakeFast) ReadAreas(areas []ChannelArea, offset, frames uint) (int64, error) {
	return f.transferFn(areas, offset, frames)
}

// alwaysReadyFD returns a pipe write-end fd: poll(2) reports a pipe's
// write side as writable whenever it isn't full, so this is a
// readily-available descriptor to satisfy Stream.wait in blocking tests
// without needing a real audio device.
func alwaysReadyFD(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	return int(w.Fd())
}

func newTestStream(direction Direction, fast *fakeFast, availMin uint, nonblock bool) *Stream {
	s := New(KindNull, direction, 0, "test", &noopControl{}, fast, nil)
	s.setup = true
	s.bitsPerSample = 16
	s.bitsPerFrame = 32
	s.hw = HWParams{Channels: 2, Format: S16LE, Access: AccessRWInterleaved}
	s.sw = SoftwareParameters{AvailMin: availMin, StartMode: StartData}
	if nonblock {
		s.mode |= ModeNonblock
	}
	return s
}

type noopControl struct{}

func (noopControl) Close() error                          { return nil }
func (noopControl) SetNonblock(bool) error                { return nil }
func (noopControl) Async(int, int) error                  { return nil }
func (noopControl) Info() (Info, error)                   { return Info{}, nil }
func (noopControl) HWRefine(*HWParams) error               { return nil }
func (noopControl) HWParams(*HWParams) error                { return nil }
func (noopControl) SWParams(*SoftwareParameters) error      { return nil }
func (noopControl) ChannelInfo(uint) (ChannelInfo, error)  { return ChannelInfo{}, nil }
func (noopControl) Dump(interface{ Write([]byte) (int, error) }) error {
	return nil
}
func (noopControl) MMap() ([]ChannelArea, error) { return nil, nil }
func (noopControl) MUnmap() error                { return nil }
func (noopControl) Card() (int, error)           { return -1, nil }
func (noopControl) Link(ControlOps) error        { return ErrNotSupported }
func (noopControl) Unlink() error                { return ErrNotSupported }

// TestWriteAreasConvergence is property 5 of §8: with a responsive
// backend, writeAreas eventually transfers the full request.
func TestWriteAreasConvergence(t *testing.T) {
	fast := &fakeFast{
		state:    StateRunning,
		availSeq: []int64{100, 200, 300},
		pollFD:   alwaysReadyFD(t),
	}
	var moved uint
	fast.transferFn = func(areas []ChannelArea, offset, frames uint) (int64, error) {
		moved += frames
		return int64(frames), nil
	}
	s := newTestStream(Playback, fast, 1, false)
	areas := []ChannelArea{{Addr: make([]byte, 4000), First: 0, Step: 32}}

	xfer, err := s.writeAreas(areas, 0, 300, fast.WriteAreas)
	require.NoError(t, err)
	assert.EqualValues(t, 300, xfer)
	assert.EqualValues(t, 300, moved)
}

// TestWriteAreasXRunSurfacing is S3: the stream goes XRUN mid-stream with
// 300 frames already moved; the short-I/O rule (property 6) says the
// in-progress call returns the partial count, and the next call surfaces
// ErrBrokenPipe.
func TestWriteAreasXRunSurfacing(t *testing.T) {
	fast := &fakeFast{
		state:      StateRunning,
		availSeq:   []int64{300},
		exhaustErr: ErrBrokenPipe, // Hardware surfaces the xrun via avail_update, per the real driver contract.
		pollFD:     alwaysReadyFD(t),
	}
	calls := 0
	fast.transferFn = func(areas []ChannelArea, offset, frames uint) (int64, error) {
		calls++
		fast.state = StateXRun // underrun occurs during this very transfer.
		return int64(frames), nil
	}
	s := newTestStream(Playback, fast, 1, false)
	areas := []ChannelArea{{Addr: make([]byte, 4000), First: 0, Step: 32}}

	xfer, err := s.writeAreas(areas, 0, 1000, fast.WriteAreas)
	require.NoError(t, err, "short-I/O rule: partial transfer must not surface the error yet")
	assert.EqualValues(t, 300, xfer)
	assert.Equal(t, 1, calls)

	_, err = s.writeAreas(areas, 0, 1, fast.WriteAreas)
	assert.ErrorIs(t, err, ErrBrokenPipe, "the next call must surface XRUN")
}

// TestReadAreasNonBlockingEAGAIN is S4: a non-blocking capture stream with
// avail_min=64 and avail=32 must return ErrWouldBlock immediately, without
// calling the transfer function (property 7).
func TestReadAreasNonBlockingEAGAIN(t *testing.T) {
	fast := &fakeFast{state: StateRunning, availSeq: []int64{32}, pollFD: alwaysReadyFD(t)}
	called := false
	fast.transferFn = func(areas []ChannelArea, offset, frames uint) (int64, error) {
		called = true
		return int64(frames), nil
	}
	s := newTestStream(Capture, fast, 64, true)
	areas := []ChannelArea{{Addr: make([]byte, 4000), First: 0, Step: 32}}

	xfer, err := s.readAreas(areas, 0, 128, fast.ReadAreas)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.EqualValues(t, 0, xfer)
	assert.False(t, called, "transfer_fn must not be called when avail < avail_min in non-blocking mode")
}

// TestImplicitStartWrite is property 8, write side: the first successful
// write chunk while PREPARED and start_mode==DATA transitions to RUNNING,
// started only *after* that chunk (SPEC_FULL.md §9's preserved asymmetry).
func TestImplicitStartWrite(t *testing.T) {
	fast := &fakeFast{state: StatePrepared, availSeq: []int64{50, 50}, pollFD: alwaysReadyFD(t)}
	var stateAtTransfer State
	fast.transferFn = func(areas []ChannelArea, offset, frames uint) (int64, error) {
		stateAtTransfer = fast.state
		return int64(frames), nil
	}
	s := newTestStream(Playback, fast, 1, false)
	areas := []ChannelArea{{Addr: make([]byte, 4000), First: 0, Step: 32}}

	_, err := s.writeAreas(areas, 0, 50, fast.WriteAreas)
	require.NoError(t, err)
	assert.Equal(t, StatePrepared, stateAtTransfer, "write must start only after a successful chunk")
	assert.Equal(t, 1, fast.startCalls)
	assert.Equal(t, StateRunning, fast.state)
}

// TestImplicitStartRead is property 8, read side: the read call starts
// the stream *before* its first chunk.
func TestImplicitStartRead(t *testing.T) {
	fast := &fakeFast{state: StatePrepared, availSeq: []int64{50}, pollFD: alwaysReadyFD(t)}
	var stateAtTransfer State
	fast.transferFn = func(areas []ChannelArea, offset, frames uint) (int64, error) {
		stateAtTransfer = fast.state
		return int64(frames), nil
	}
	s := newTestStream(Capture, fast, 1, false)
	areas := []ChannelArea{{Addr: make([]byte, 4000), First: 0, Step: 32}}

	_, err := s.readAreas(areas, 0, 50, fast.ReadAreas)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, stateAtTransfer, "read must start before its first chunk")
	assert.Equal(t, 1, fast.startCalls)
}

func TestBytesFramesConversions(t *testing.T) {
	fast := &fakeFast{}
	s := newTestStream(Playback, fast, 0, false)
	assert.EqualValues(t, 20, s.FramesToBytes(5))  // 5 frames * 32 bits / 8.
	assert.EqualValues(t, 5, s.BytesToFrames(20))  // 20 bytes * 8 / 32 bits.
	assert.EqualValues(t, 5, s.BytesToSamples(10)) // 10 bytes * 8 / 16 bits.
	assert.EqualValues(t, 10, s.SamplesToBytes(5)) // 5 samples * 16 bits / 8.
}
