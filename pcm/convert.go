package pcm

// BytesToFrames converts a byte count to a frame count using the stream's
// negotiated bits_per_frame. May only be called after Setup (§4.7).
func (s *Stream) BytesToFrames(bytes uint) uint {
	s.requireSetup()
	return bytes * 8 / s.bitsPerFrame
}

// FramesToBytes converts a frame count to a byte count.
func (s *Stream) FramesToBytes(frames uint) uint {
	s.requireSetup()
	return frames * s.bitsPerFrame / 8
}

// BytesToSamples converts a byte count to a sample count using the
// stream's negotiated bits_per_sample.
func (s *Stream) BytesToSamples(bytes uint) uint {
	s.requireSetup()
	return bytes * 8 / s.bitsPerSample
}

// SamplesToBytes converts a sample count to a byte count.
func (s *Stream) SamplesToBytes(samples uint) uint {
	s.requireSetup()
	return samples * s.bitsPerSample / 8
}

// PollDescriptor returns the cached file handle the transfer engine (and
// callers doing their own polling) waits on.
func (s *Stream) PollDescriptor() int {
	assert(s != nil, "nil stream")
	return s.fast.PollDescriptor()
}
