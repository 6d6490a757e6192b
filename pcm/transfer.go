package pcm

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// wait blocks on the stream's poll descriptor for write-readiness
// (playback) or read-readiness (capture), per §4.4. timeout is in
// milliseconds; negative means wait forever.
func (s *Stream) wait(timeout int) error {
	events := int16(unix.POLLIN)
	if s.direction == Playback {
		events = int16(unix.POLLOUT)
	}
	fds := []unix.PollFd{{Fd: int32(s.fast.PollDescriptor()), Events: events}}
	_, err := unix.Poll(fds, timeout)
	if err != nil {
		return errors.Wrap(err, "pcm: wait")
	}
	return nil
}

// Wait is the exported, explicit-timeout form of wait for callers that
// want to poll themselves before a non-blocking retry (§4.4, §5).
func (s *Stream) Wait(timeout time.Duration) error {
	s.requireSetup()
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	return s.wait(ms)
}

// writeAreas is the availability-driven write loop of §4.4. It moves up to
// size frames of areas (starting at offset) through fn, blocking on
// s.wait when avail is short (unless non-blocking), and performs an
// implicit start after the first successful chunk when start_mode ==
// DATA. It returns the number of frames actually transferred, or a
// negative-carrying error if none were.
func (s *Stream) writeAreas(areas []ChannelArea, offset, size uint, fn func(areas []ChannelArea, offset, frames uint) (int64, error)) (uint, error) {
	assert(size > 0, "writeAreas: size must be > 0")
	var xfer uint
	state := s.fast.State()
	for xfer < size {
		if state == StateXRun {
			return xfer, withPartial(xfer, ErrBrokenPipe)
		}
		avail, err := s.fast.AvailUpdate()
		if err != nil {
			return xfer, withPartial(xfer, err)
		}
		if uint(avail) < s.sw.AvailMin {
			if state != StateRunning {
				return xfer, withPartial(xfer, ErrBrokenPipe)
			}
			if s.mode&ModeNonblock != 0 {
				return xfer, withPartial(xfer, ErrWouldBlock)
			}
			if err := s.wait(-1); err != nil {
				return xfer, withPartial(xfer, err)
			}
			state = s.fast.State()
			continue
		}
		frames := size - xfer
		if frames > uint(avail) {
			frames = uint(avail)
		}
		moved, err := fn(areas, offset, frames)
		if err != nil {
			return xfer, withPartial(xfer, err)
		}
		assert(uint(moved) == frames, "writeAreas: transfer_fn moved %d, wanted %d", moved, frames)
		xfer += uint(moved)
		offset += uint(moved)
		if state == StatePrepared && s.sw.StartMode != StartExplicit {
			if err := s.fast.Start(); err != nil {
				return xfer, withPartial(xfer, err)
			}
			state = StateRunning
		}
	}
	return xfer, nil
}

// readAreas is the capture counterpart of writeAreas. It differs in that
// implicit start (if configured) happens before the loop rather than after
// each successful chunk, and there is no explicit XRUN test inside the
// loop — a short avail while not RUNNING reports ErrBrokenPipe instead
// (§4.4; the asymmetry is intentional, see SPEC_FULL.md §9).
func (s *Stream) readAreas(areas []ChannelArea, offset, size uint, fn func(areas []ChannelArea, offset, frames uint) (int64, error)) (uint, error) {
	assert(size > 0, "readAreas: size must be > 0")
	var xfer uint
	state := s.fast.State()
	if state == StatePrepared && s.sw.StartMode != StartExplicit {
		if err := s.fast.Start(); err != nil {
			return 0, err
		}
		state = StateRunning
	}
	for xfer < size {
		avail, err := s.fast.AvailUpdate()
		if err != nil {
			return xfer, withPartial(xfer, err)
		}
		if uint(avail) < s.sw.AvailMin {
			if state != StateRunning {
				return xfer, withPartial(xfer, ErrBrokenPipe)
			}
			if s.mode&ModeNonblock != 0 {
				return xfer, withPartial(xfer, ErrWouldBlock)
			}
			if err := s.wait(-1); err != nil {
				return xfer, withPartial(xfer, err)
			}
			state = s.fast.State()
			continue
		}
		frames := size - xfer
		if frames > uint(avail) {
			frames = uint(avail)
		}
		moved, err := fn(areas, offset, frames)
		if err != nil {
			return xfer, withPartial(xfer, err)
		}
		assert(uint(moved) == frames, "readAreas: transfer_fn moved %d, wanted %d", moved, frames)
		xfer += uint(moved)
		offset += uint(moved)
	}
	return xfer, nil
}

// withPartial implements the short-I/O rule of §8: if any frames moved,
// the error is suppressed here and the partial count is what the caller
// sees; the next call re-encounters err. Call sites always return (xfer,
// result-of-withPartial) so xfer is the return value whenever it's
// nonzero.
func withPartial(xfer uint, err error) error {
	if xfer > 0 {
		return nil
	}
	return err
}

// WriteAreas is the public entry point for writing through an arbitrary
// channel-area view, e.g. a caller-synthesized descriptor.
func (s *Stream) WriteAreas(areas []ChannelArea, offset, size uint) (uint, error) {
	s.requireSetup()
	assert(s.direction == Playback, "WriteAreas: not a playback stream")
	return s.writeAreas(areas, offset, size, s.fast.WriteAreas)
}

// ReadAreas is the public entry point for reading into an arbitrary
// channel-area view.
func (s *Stream) ReadAreas(areas []ChannelArea, offset, size uint) (uint, error) {
	s.requireSetup()
	assert(s.direction == Capture, "ReadAreas: not a capture stream")
	return s.readAreas(areas, offset, size, s.fast.ReadAreas)
}

// interleavedAreas synthesizes one ChannelArea per channel from a flat
// buffer: all channels share the base address, first = channel *
// bits_per_sample, step = bits_per_frame (§4.4).
func (s *Stream) interleavedAreas(buf []byte) []ChannelArea {
	channels := s.hw.Channels
	areas := make([]ChannelArea, channels)
	for c := uint(0); c < channels; c++ {
		areas[c] = ChannelArea{
			Addr:  buf,
			First: c * s.bitsPerSample,
			Step:  s.bitsPerFrame,
		}
	}
	return areas
}

// nonInterleavedAreas synthesizes one ChannelArea per channel from an
// array of per-channel buffers: first = 0, step = bits_per_sample (§4.4).
func (s *Stream) nonInterleavedAreas(bufs [][]byte) []ChannelArea {
	areas := make([]ChannelArea, len(bufs))
	for c, b := range bufs {
		areas[c] = ChannelArea{Addr: b, First: 0, Step: s.bitsPerSample}
	}
	return areas
}

// WriteInterleaved writes frames frames from a single interleaved buffer.
// The stream must have been negotiated for interleaved access.
func (s *Stream) WriteInterleaved(buf []byte, frames uint) (uint, error) {
	s.requireSetup()
	assert(s.direction == Playback, "WriteInterleaved: not a playback stream")
	assert(s.hw.Access == AccessRWInterleaved || s.hw.Access == AccessMMapInterleaved,
		"WriteInterleaved: stream negotiated for non-interleaved access")
	areas := s.interleavedAreas(buf)
	return s.writeAreas(areas, 0, frames, s.fast.WriteAreas)
}

// ReadInterleaved reads frames frames into a single interleaved buffer.
func (s *Stream) ReadInterleaved(buf []byte, frames uint) (uint, error) {
	s.requireSetup()
	assert(s.direction == Capture, "ReadInterleaved: not a capture stream")
	assert(s.hw.Access == AccessRWInterleaved || s.hw.Access == AccessMMapInterleaved,
		"ReadInterleaved: stream negotiated for non-interleaved access")
	areas := s.interleavedAreas(buf)
	return s.readAreas(areas, 0, frames, s.fast.ReadAreas)
}

// WriteNonInterleaved writes frames frames from one buffer per channel.
func (s *Stream) WriteNonInterleaved(bufs [][]byte, frames uint) (uint, error) {
	s.requireSetup()
	assert(s.direction == Playback, "WriteNonInterleaved: not a playback stream")
	assert(s.hw.Access == AccessRWNonInterleaved || s.hw.Access == AccessMMapNonInterleaved,
		"WriteNonInterleaved: stream negotiated for interleaved access")
	assert(uint(len(bufs)) == s.hw.Channels, "WriteNonInterleaved: expected %d channel buffers, got %d", s.hw.Channels, len(bufs))
	areas := s.nonInterleavedAreas(bufs)
	return s.writeAreas(areas, 0, frames, s.fast.WriteAreas)
}

// ReadNonInterleaved reads frames frames into one buffer per channel.
func (s *Stream) ReadNonInterleaved(bufs [][]byte, frames uint) (uint, error) {
	s.requireSetup()
	assert(s.direction == Capture, "ReadNonInterleaved: not a capture stream")
	assert(s.hw.Access == AccessRWNonInterleaved || s.hw.Access == AccessMMapNonInterleaved,
		"ReadNonInterleaved: stream negotiated for interleaved access")
	assert(uint(len(bufs)) == s.hw.Channels, "ReadNonInterleaved: expected %d channel buffers, got %d", s.hw.Channels, len(bufs))
	areas := s.nonInterleavedAreas(bufs)
	return s.readAreas(areas, 0, frames, s.fast.ReadAreas)
}

// WriteIovec writes from a vector of per-channel buffers whose lengths
// must all equal the first (§4.4).
func (s *Stream) WriteIovec(iov [][]byte) (uint, error) {
	assert(len(iov) > 0, "WriteIovec: empty iovec")
	n := len(iov[0])
	for _, v := range iov[1:] {
		assert(len(v) == n, "WriteIovec: iovec lengths must be equal")
	}
	frames := uint(n*8) / s.bitsPerSample
	return s.WriteNonInterleaved(iov, frames)
}

// ReadIovec reads into a vector of per-channel buffers whose lengths must
// all equal the first.
func (s *Stream) ReadIovec(iov [][]byte) (uint, error) {
	assert(len(iov) > 0, "ReadIovec: empty iovec")
	n := len(iov[0])
	for _, v := range iov[1:] {
		assert(len(v) == n, "ReadIovec: iovec lengths must be equal")
	}
	frames := uint(n*8) / s.bitsPerSample
	return s.ReadNonInterleaved(iov, frames)
}
