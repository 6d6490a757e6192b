package pcm

import "github.com/pkg/errors"

// requireSetup panics if the stream hasn't completed hardware parameter
// negotiation; every data-path call requires this (§3 invariant).
func (s *Stream) requireSetup() {
	assert(s != nil, "nil stream")
	assert(s.setup, "stream %q is not set up", s.name)
}

// Close releases every resource the stream owns: it drains on a blocking
// stream, drops on a non-blocking one, unmaps if mapped, then calls the
// backend's Close. Per the Open Question in §9, this implementation
// returns the first non-zero sub-error instead of the source's
// always-zero return — best-effort cleanup still runs regardless (§5, §7).
func (s *Stream) Close() error {
	assert(s != nil, "nil stream")
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.setup {
		if s.mode&ModeNonblock != 0 {
			record(s.drop())
		} else {
			record(s.drain())
		}
	}
	if s.areas != nil {
		record(s.control.MUnmap())
		s.areas = nil
	}
	record(s.control.Close())
	s.setup = false
	return first
}

// Nonblock sets or clears the non-blocking mode bit after the backend
// accepts the change (§4.3: "nonblock mirrors the bit in mode after the
// backend accepts").
func (s *Stream) Nonblock(nonblock bool) error {
	assert(s != nil, "nil stream")
	if err := s.control.SetNonblock(nonblock); err != nil {
		return err
	}
	if nonblock {
		s.mode |= ModeNonblock
	} else {
		s.mode &^= ModeNonblock
	}
	return nil
}

// Async requests signal delivery to pid on I/O readiness.
func (s *Stream) Async(signal, pid int) error {
	assert(s != nil, "nil stream")
	return s.control.Async(signal, pid)
}

// Info returns the backend-reported identity. Unlike every other
// control-path call, this may be called before Setup — backends are free
// to return partial data pre-setup (§9 open question).
func (s *Stream) Info() (Info, error) {
	assert(s != nil, "nil stream")
	return s.control.Info()
}

// HWRefine narrows params against what the backend can actually do,
// without committing them (§4.3).
func (s *Stream) HWRefine(params *HWParams) error {
	assert(s != nil, "nil stream")
	assert(params != nil, "nil params")
	return s.control.HWRefine(params)
}

// HWParams negotiates and commits hardware parameters. On success the
// Stream's cached layout (access, format, channels, ...) and derived
// bits-per-sample/bits-per-frame are updated and Setup becomes true.
func (s *Stream) HWParams(params *HWParams) error {
	assert(s != nil, "nil stream")
	assert(params != nil, "nil params")
	if err := s.control.HWParams(params); err != nil {
		return err
	}
	s.hw = *params
	s.bitsPerSample = uint(PhysicalWidth(params.Format))
	if s.bitsPerSample == 0 {
		// Formats outside the kernel-known widths still carry an
		// msbits-derived frame size; fall back to msbits if set.
		s.bitsPerSample = params.MSBits
	}
	s.bitsPerFrame = s.bitsPerSample * params.Channels
	s.setup = true
	return nil
}

// SWParams negotiates software parameters and, on success, caches the
// accepted values on the Stream (§4.3: "so subsequent decisions ... can be
// made without calling the backend").
func (s *Stream) SWParams(params *SoftwareParameters) error {
	assert(s != nil, "nil stream")
	assert(params != nil, "nil params")
	s.requireSetup()
	if err := s.control.SWParams(params); err != nil {
		return err
	}
	s.sw = *params
	return nil
}

// ChannelInfo returns where the given channel's samples live once mapped.
func (s *Stream) ChannelInfo(channel uint) (ChannelInfo, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.control.ChannelInfo(channel)
}

// Dump writes a pretty-printed setup/status report to w (C6).
func (s *Stream) Dump(w interface{ Write([]byte) (int, error) }) error {
	assert(s != nil, "nil stream")
	return s.control.Dump(w)
}

// MMap maps the stream's ring buffer and caches the resulting channel
// areas on the Stream.
func (s *Stream) MMap() ([]ChannelArea, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	areas, err := s.control.MMap()
	if err != nil {
		return nil, err
	}
	s.areas = areas
	return areas, nil
}

// MUnmap releases the mapping created by MMap.
func (s *Stream) MUnmap() error {
	assert(s != nil, "nil stream")
	err := s.control.MUnmap()
	s.areas = nil
	return err
}

// Card returns the sound card index backing this stream, if any.
func (s *Stream) Card() (int, error) {
	assert(s != nil, "nil stream")
	return s.control.Card()
}

// Link wires streams a and b together for synchronized start/stop
// (§4.3). Backends without a driver-level link mechanism return
// ErrNotSupported.
func Link(a, b *Stream) error {
	assert(a != nil && b != nil, "nil stream")
	if err := a.control.Link(b.control); err != nil {
		return errors.Wrap(err, "link")
	}
	return nil
}

// Unlink undoes a prior Link.
func (s *Stream) Unlink() error {
	assert(s != nil, "nil stream")
	return s.control.Unlink()
}

// --- Fast-path facade -----------------------------------------------------

// Status fills a caller-allocated StatusSnapshot.
func (s *Stream) Status() (StatusSnapshot, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Status()
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.State()
}

// Delay returns the number of frames of delay between the application and
// hardware pointers.
func (s *Stream) Delay() (int64, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Delay()
}

// Prepare transitions SETUP/XRUN -> PREPARED.
func (s *Stream) Prepare() error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Prepare()
}

// Reset transitions back to PREPARED after a drop, without reopening the
// device.
func (s *Stream) Reset() error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Reset()
}

// Start explicitly begins the stream (PREPARED -> RUNNING). Implicit start
// (start_mode == DATA) is performed by the transfer engine instead; see
// transfer.go.
func (s *Stream) Start() error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Start()
}

// Drop stops the stream immediately, discarding buffered frames, and
// returns to SETUP.
func (s *Stream) Drop() error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.drop()
}

func (s *Stream) drop() error { return s.fast.Drop() }

// Drain waits for buffered frames to finish playing (playback) or stops
// immediately (capture has nothing to drain).
func (s *Stream) Drain() error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.drain()
}

func (s *Stream) drain() error { return s.fast.Drain() }

// Pause pauses (enable=true) or resumes (enable=false) a RUNNING stream.
func (s *Stream) Pause(enable bool) error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Pause(enable)
}

// Rewind moves the application pointer backward by up to frames frames
// (without touching hardware) and returns the number actually rewound.
func (s *Stream) Rewind(frames uint) (uint, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.Rewind(frames)
}

// SetAvailMin updates the avail_min threshold used by the transfer engine.
func (s *Stream) SetAvailMin(frames uint) error {
	assert(s != nil, "nil stream")
	s.requireSetup()
	if err := s.fast.SetAvailMin(frames); err != nil {
		return err
	}
	s.sw.AvailMin = frames
	return nil
}

// AvailUpdate returns the number of frames currently available for
// transfer, or a non-nil error.
func (s *Stream) AvailUpdate() (int64, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	return s.fast.AvailUpdate()
}

// MMapForward commits frames forward in the mapped ring without a syscall.
func (s *Stream) MMapForward(frames uint) (uint, error) {
	assert(s != nil, "nil stream")
	s.requireSetup()
	assert(frames > 0, "MMapForward: frames must be > 0")
	return s.fast.MMapForward(frames)
}
