package pcm

import "errors"

// Error kinds returned by data-path and control-path calls. Data-path calls
// (read/write/avail_update/...) return a frame count alongside an error
// that is nil or one of these; control-path calls return nil or one of
// these directly. Precondition violations are never returned here — they panic,
// since the source treats them as programmer errors (assert()).
var (
	// ErrInvalidArg mirrors -EINVAL: a bad enum, an out of range value, or
	// a configuration the backend will never accept.
	ErrInvalidArg = errors.New("pcm: invalid argument")

	// ErrNotReady mirrors -EBADFD: the stream needs setup or prepare
	// before the requested operation.
	ErrNotReady = errors.New("pcm: stream not ready")

	// ErrNotSupported mirrors -ENOSYS: the backend doesn't implement the
	// capability (e.g. link on a plug stream).
	ErrNotSupported = errors.New("pcm: not supported by backend")

	// ErrWouldBlock mirrors -EAGAIN: non-blocking mode, no space/data yet.
	ErrWouldBlock = errors.New("pcm: operation would block")

	// ErrBrokenPipe mirrors -EPIPE: underrun (playback) or overrun
	// (capture) while running, or a short avail outside RUNNING.
	ErrBrokenPipe = errors.New("pcm: broken pipe (xrun)")

	// ErrNoEntry mirrors -ENOENT: unknown stream name or missing backend.
	ErrNoEntry = errors.New("pcm: no such stream")
)

// StreamError wraps a *Stream.Name() onto one of the sentinel error kinds
// above, matching the source's behavior of logging the stream name
// alongside an unknown-device diagnostic.
type StreamError struct {
	Stream string
	Err    error
}

func (e *StreamError) Error() string {
	if e.Stream == "" {
		return e.Err.Error()
	}
	return e.Stream + ": " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }
