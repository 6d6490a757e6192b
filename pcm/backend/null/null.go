// Package null implements the trivial sink/source backend: a ring buffer
// paced by a real-time clock instead of hardware, so streams can be
// opened, negotiated and transferred through without any device present.
// Other backends (file, plug) wrap it as their "device" when no real
// hardware backs them.
package null

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/deepwave-audio/pcmcore/pcm"
)

const (
	defaultFragmentSize = 1024
	defaultFragments    = 4
	defaultRate         = 48000
	defaultChannels     = 1
)

// Backend is a *pcm.Stream's bound ControlOps and FastOps: a byte ring
// buffer whose hardware pointer advances with wall-clock time at the
// negotiated rate, the way a real codec's DMA pointer would.
type Backend struct {
	mu sync.Mutex

	log       logging.Logger
	name      string
	direction pcm.Direction
	nonblock  bool

	state State
	hw    pcm.HWParams
	sw    pcm.SoftwareParameters

	frameBytes uint
	capacity   uint64 // Ring capacity in frames.
	ring       []byte

	applFrames uint64 // Frames the application has written (playback) or read (capture).
	startedAt  time.Time
	running    bool

	rfd, wfd *os.File // Always-ready poll descriptors; see PollDescriptor.
}

// State mirrors pcm.State locally so the zero value (StateOpen) is
// meaningful before HWParams has run.
type State = pcm.State

// Open constructs a Stream bound to a fresh null Backend.
func Open(name string, direction pcm.Direction, log logging.Logger) (*pcm.Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("null: open pipe: %w", err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return nil, fmt.Errorf("null: prime pipe: %w", err)
	}
	b := &Backend{
		log:       log,
		name:      name,
		direction: direction,
		state:     pcm.StateOpen,
		rfd:       r,
		wfd:       w,
	}
	return pcm.New(pcm.KindNull, direction, 0, name, b, b, log), nil
}

// --- ControlOps ------------------------------------------------------------

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rfd.Close()
	b.wfd.Close()
	b.state = pcm.StateDisconnected
	return nil
}

func (b *Backend) SetNonblock(nonblock bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonblock = nonblock
	return nil
}

func (b *Backend) Async(signal, pid int) error { return pcm.ErrNotSupported }

func (b *Backend) Info() (pcm.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return pcm.Info{Kind: pcm.KindNull, Direction: b.direction, Name: b.name, Card: -1, Device: -1, Subdevice: -1}, nil
}

// HWRefine clamps an incoming request to what the null backend accepts:
// RW access (interleaved or non-interleaved), any byte-aligned format, and
// whatever channels/rate/fragment geometry the caller asked for, filling
// in defaults where the caller left zero values.
func (b *Backend) HWRefine(params *pcm.HWParams) error {
	if params.Access != pcm.AccessRWInterleaved && params.Access != pcm.AccessRWNonInterleaved {
		params.Access = pcm.AccessRWInterleaved
	}
	if params.Format == pcm.Unknown {
		params.Format = pcm.S16LE
	}
	if pcm.PhysicalWidth(params.Format)%8 != 0 {
		return &pcm.StreamError{Stream: b.name, Err: pcm.ErrInvalidArg}
	}
	if params.Channels == 0 {
		params.Channels = defaultChannels
	}
	if params.Rate == 0 {
		params.Rate = defaultRate
	}
	if params.RateNum == 0 {
		params.RateNum, params.RateDen = params.Rate, 1
	}
	if params.FragmentSize == 0 {
		params.FragmentSize = defaultFragmentSize
	}
	if params.Fragments == 0 {
		params.Fragments = defaultFragments
	}
	return nil
}

func (b *Backend) HWParams(params *pcm.HWParams) error {
	if err := b.HWRefine(params); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	width := uint(pcm.PhysicalWidth(params.Format))
	b.frameBytes = width / 8 * params.Channels
	b.capacity = uint64(params.FragmentSize) * uint64(params.Fragments)
	b.ring = make([]byte, b.capacity*uint64(b.frameBytes))
	b.hw = *params
	b.state = pcm.StateSetup
	return nil
}

func (b *Backend) SWParams(params *pcm.SoftwareParameters) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sw = *params
	return nil
}

func (b *Backend) ChannelInfo(channel uint) (pcm.ChannelInfo, error) {
	return pcm.ChannelInfo{}, pcm.ErrNotSupported
}

func (b *Backend) Dump(w interface{ Write([]byte) (int, error) }) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := fmt.Fprintf(w, "backend          : null\nname             : %s\nstate            : %s\nring capacity    : %d frames\n", b.name, b.state, b.capacity)
	return err
}

func (b *Backend) MMap() ([]pcm.ChannelArea, error) { return nil, pcm.ErrNotSupported }
func (b *Backend) MUnmap() error                    { return pcm.ErrNotSupported }
func (b *Backend) Card() (int, error)                { return -1, nil }
func (b *Backend) Link(pcm.ControlOps) error          { return pcm.ErrNotSupported }
func (b *Backend) Unlink() error                      { return pcm.ErrNotSupported }

// --- FastOps -----------------------------------------------------------

func (b *Backend) Status() (pcm.StatusSnapshot, error) {
	avail, err := b.AvailUpdate()
	if err != nil {
		avail = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return pcm.StatusSnapshot{
		State:     b.state,
		Timestamp: time.Now(),
		Avail:     uint(avail),
	}, nil
}

func (b *Backend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Backend) Delay() (int64, error) {
	avail, err := b.AvailUpdate()
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.direction == pcm.Playback {
		return int64(b.capacity) - avail, nil
	}
	return avail, nil
}

func (b *Backend) Prepare() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applFrames = 0
	b.running = false
	for i := range b.ring {
		b.ring[i] = 0
	}
	b.state = pcm.StatePrepared
	return nil
}

func (b *Backend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applFrames = 0
	b.running = false
	b.state = pcm.StatePrepared
	return nil
}

func (b *Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startedAt = time.Now()
	b.running = true
	b.state = pcm.StateRunning
	return nil
}

func (b *Backend) Drop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.applFrames = 0
	b.state = pcm.StateSetup
	return nil
}

func (b *Backend) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.state = pcm.StateSetup
	return nil
}

func (b *Backend) Pause(enable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if enable {
		b.state = pcm.StatePaused
	} else {
		b.state = pcm.StateRunning
		b.startedAt = time.Now()
	}
	return nil
}

func (b *Backend) Rewind(frames uint) (uint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if uint64(frames) > b.applFrames {
		frames = uint(b.applFrames)
	}
	b.applFrames -= uint64(frames)
	return frames, nil
}

func (b *Backend) SetAvailMin(frames uint) error { return nil }

// clockFrames returns how many frames would have elapsed at the
// negotiated rate since the stream started running.
func (b *Backend) clockFrames() uint64 {
	if !b.running {
		return 0
	}
	elapsed := time.Since(b.startedAt)
	return uint64(elapsed.Seconds() * float64(b.hw.Rate))
}

// AvailUpdate reports, for playback, the free ring space (capacity minus
// frames written but not yet "played" by the simulated clock), and for
// capture, the frames the simulated clock has produced but the
// application hasn't read yet. An overrun on capture (clock has produced
// more than the ring can hold) surfaces as ErrBrokenPipe, matching a real
// driver's xrun report on AvailUpdate (§4.4 of the transfer contract).
func (b *Backend) AvailUpdate() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	clock := b.clockFrames()
	if b.direction == pcm.Playback {
		played := clock
		if played > b.applFrames {
			played = b.applFrames
		}
		inFlight := b.applFrames - played
		return int64(b.capacity - inFlight), nil
	}
	captured := clock
	unread := captured - b.applFrames
	if unread > b.capacity {
		b.state = pcm.StateXRun
		return 0, pcm.ErrBrokenPipe
	}
	return int64(unread), nil
}

func (b *Backend) MMapForward(frames uint) (uint, error) { return 0, pcm.ErrNotSupported }

func (b *Backend) PollDescriptor() int {
	if b.direction == pcm.Playback {
		return int(b.wfd.Fd())
	}
	return int(b.rfd.Fd())
}

// WriteAreas copies frames frames from the caller's per-channel areas into
// the ring at the application pointer, then advances it.
func (b *Backend) WriteAreas(areas []pcm.ChannelArea, offset, frames uint) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.applFrames % b.capacity
	if err := copyInterleaved(b.ring, pos, b.frameBytes, b.capacity, areas, offset, frames, true); err != nil {
		return 0, err
	}
	b.applFrames += uint64(frames)
	return int64(frames), nil
}

// ReadAreas copies frames frames out of the ring at the application
// pointer into the caller's per-channel areas, then advances it.
func (b *Backend) ReadAreas(areas []pcm.ChannelArea, offset, frames uint) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.applFrames % b.capacity
	if err := copyInterleaved(b.ring, pos, b.frameBytes, b.capacity, areas, offset, frames, false); err != nil {
		return 0, err
	}
	b.applFrames += uint64(frames)
	return int64(frames), nil
}

// copyInterleaved moves frames frames between ring (an interleaved ring
// buffer of capacity frames, frameBytes bytes each, wrapping at capacity)
// starting at ringPos, and a caller-supplied per-channel area list starting
// at areaOffset. toRing selects the direction. Areas are assumed
// byte-aligned (First%8==0, widths a multiple of 8), which HWRefine
// enforces for every format this backend accepts.
func copyInterleaved(ring []byte, ringPos uint64, frameBytes uint, capacity uint64, areas []pcm.ChannelArea, areaOffset, frames uint, toRing bool) error {
	channels := uint(len(areas))
	if channels == 0 {
		return pcm.ErrInvalidArg
	}
	sampleBytes := frameBytes / channels
	for f := uint(0); f < frames; f++ {
		ringFrame := (ringPos + uint64(f)) % capacity
		ringOff := ringFrame * uint64(frameBytes)
		for c, a := range areas {
			bitOff := a.First + (areaOffset+f)*a.Step
			srcOff := bitOff / 8
			chanOff := ringOff + uint64(c)*uint64(sampleBytes)
			if toRing {
				copy(ring[chanOff:chanOff+uint64(sampleBytes)], a.Addr[srcOff:srcOff+uint64(sampleBytes)])
			} else {
				copy(a.Addr[srcOff:srcOff+uint64(sampleBytes)], ring[chanOff:chanOff+uint64(sampleBytes)])
			}
		}
	}
	return nil
}
