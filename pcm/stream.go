// Package pcm is the user-space core of a PCM streaming library: a stream
// object with two polymorphic dispatch tables (control, fast), a transfer
// engine driving blocking/non-blocking read and write, and the channel-area
// silence/copy kernels that back both. See SPEC_FULL.md for the expanded
// design this package implements.
package pcm

import (
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
)

// Mode is a bit set of stream-wide policy flags.
type Mode uint

const (
	// ModeNonblock causes data-path calls to return ErrWouldBlock rather
	// than wait when avail is short.
	ModeNonblock Mode = 1 << iota
)

// HWParams is the negotiated hardware layout (§3): access, format,
// channels, rate and the buffer/fragment geometry. It is both the input to
// hw_refine/hw_params and, after acceptance, cached on the Stream.
type HWParams struct {
	Access       Access
	Format       Format
	Subformat    int
	Channels     uint
	Rate         uint
	RateNum      uint
	RateDen      uint
	MSBits       uint
	FragmentSize uint // Frames per fragment.
	Fragments    uint // Fragment count (periods per buffer).
}

// SoftwareParameters carries the software policy fields of §3 plus a
// FailMask populated by the backend when negotiation fails, bit-indexed by
// SWParamID, so the caller can pinpoint the rejected field.
type SoftwareParameters struct {
	StartMode StartMode
	ReadyMode ReadyMode
	XRunMode  XRunMode
	AvailMin  uint
	XferMin   uint
	XferAlign uint
	Time      bool
	Boundary  uint
	FailMask  uint64
}

// StatusSnapshot is a caller-allocated value object populated by the Status
// fast op (§3).
type StatusSnapshot struct {
	State       State
	TriggerTime time.Time
	Timestamp   time.Time
	Delay       int64 // Frames of delay between application and hardware pointers.
	Avail       uint  // Frames currently available for transfer.
	AvailMax    uint  // High-water mark of Avail since the last status call.
}

// Info is the backend-reported identity returned by the Info control op.
type Info struct {
	Kind      BackendKind
	Direction Direction
	Name      string
	Card      int
	Device    int
	Subdevice int
}

// ChannelInfo describes where one channel's samples live when mapped,
// returned by the ChannelInfo control op.
type ChannelInfo struct {
	Channel uint
	Area    ChannelArea
}

// ControlOps is the "slow" op table (§4.3): configuration and lifecycle
// calls that are not expected on the hot data path. A backend binds one
// ControlOps and one FastOps to a Stream; a wrapping backend (plug, file)
// may implement ControlOps itself while forwarding FastOps straight to an
// inner stream's table.
type ControlOps interface {
	Close() error
	SetNonblock(nonblock bool) error
	Async(signal int, pid int) error
	Info() (Info, error)
	HWRefine(params *HWParams) error
	HWParams(params *HWParams) error
	SWParams(params *SoftwareParameters) error
	ChannelInfo(channel uint) (ChannelInfo, error)
	Dump(w interface{ Write([]byte) (int, error) }) error
	MMap() ([]ChannelArea, error)
	MUnmap() error
	Card() (int, error)

	// Link wires this stream to another for synchronized start/stop via
	// an out-of-band driver mechanism. Backends that can't support it
	// return ErrNotSupported (§4.3, §4.7).
	Link(other ControlOps) error
	Unlink() error
}

// FastOps is the "fast" op table (§4.3): the data-path calls, including the
// read/write entry points the transfer engine calls back into.
type FastOps interface {
	Status() (StatusSnapshot, error)
	State() State
	Delay() (frames int64, err error)
	Prepare() error
	Reset() error
	Start() error
	Drop() error
	Drain() error
	Pause(enable bool) error
	Rewind(frames uint) (uint, error)
	SetAvailMin(frames uint) error
	AvailUpdate() (int64, error)
	MMapForward(frames uint) (uint, error)

	// WriteAreas/ReadAreas move up to frames frames of areas (starting at
	// offset) into/out of the hardware buffer and return the number
	// actually moved, or a non-nil error carrying an error kind. These
	// are the transfer_fn callbacks of §4.4.
	WriteAreas(areas []ChannelArea, offset, frames uint) (int64, error)
	ReadAreas(areas []ChannelArea, offset, frames uint) (int64, error)

	// PollDescriptor returns the file descriptor the transfer engine
	// polls on while waiting (§4.7).
	PollDescriptor() int
}

// Stream is the top-level handle (§3). All data-path operations require
// Setup to be true; the facade in dispatch.go enforces this before
// forwarding to control/fast.
type Stream struct {
	mu sync.Mutex

	log       logging.Logger
	kind      BackendKind
	direction Direction
	mode      Mode
	name      string

	setup bool

	hw HWParams

	bitsPerSample uint
	bitsPerFrame  uint

	sw SoftwareParameters

	control ControlOps
	fast    FastOps

	areas []ChannelArea // Populated once mapped; nil for rw access.
}

// New constructs a Stream bound to the given backend op tables. Backends
// call this from their factory (§4.5); it performs no I/O itself.
func New(kind BackendKind, direction Direction, mode Mode, name string, control ControlOps, fast FastOps, log logging.Logger) *Stream {
	if log == nil {
		log = logging.New(logging.Error, discardWriter{}, true)
	}
	return &Stream{
		kind:      kind,
		direction: direction,
		mode:      mode,
		name:      name,
		control:   control,
		fast:      fast,
		log:       log,
	}
}

// Name returns the stream's human name, or "" if none was given.
func (s *Stream) Name() string { return s.name }

// Kind returns the backend kind bound to this stream.
func (s *Stream) Kind() BackendKind { return s.kind }

// Direction returns the stream's direction.
func (s *Stream) Direction() Direction { return s.direction }

// IsSetup reports whether hardware parameters have been accepted.
func (s *Stream) IsSetup() bool { return s.setup }

// HWParamsCached returns the negotiated hardware layout, valid once IsSetup.
func (s *Stream) HWParamsCached() HWParams { return s.hw }

// BitsPerSample returns the derived sample width, valid once IsSetup.
func (s *Stream) BitsPerSample() uint { return s.bitsPerSample }

// BitsPerFrame returns the derived frame width, valid once IsSetup.
func (s *Stream) BitsPerFrame() uint { return s.bitsPerFrame }

// SWParamsCached returns the last accepted software parameters.
func (s *Stream) SWParamsCached() SoftwareParameters { return s.sw }

// Mode returns the current mode bit set.
func (s *Stream) Mode() Mode { return s.mode }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
