// Package hw implements the direct hardware backend: negotiation and
// transfer against a real ALSA device via github.com/yobert/alsa.
package hw

import (
	"fmt"
	"os"
	"sync"

	yalsa "github.com/yobert/alsa"

	"github.com/ausocean/utils/logging"

	"github.com/deepwave-audio/pcmcore/pcm"
)

// Backend binds a *pcm.Stream to a negotiated yobert/alsa device. Unlike
// the null backend, flow control for the data path is delegated entirely
// to the device's own blocking Read/Write: AvailUpdate always reports the
// full request as available, so the transfer engine's loop calls straight
// through to the device on every iteration instead of polling first. This
// mirrors how yobert/alsa itself works — it wraps the kernel ioctls
// directly rather than exposing a separate pollable readiness fd, so
// there's nothing useful to poll() on here; PollDescriptor returns an
// always-ready descriptor purely to satisfy the FastOps contract.
type Backend struct {
	mu sync.Mutex

	log       logging.Logger
	title     string
	direction pcm.Direction
	nonblock  bool

	dev   *yalsa.Device
	state pcm.State
	hw    pcm.HWParams

	rfd, wfd *os.File
}

// Open finds and opens an ALSA device matching title (or the first
// suitable device if title is ""), returning a Stream bound to it.
// Negotiation of access/format/channels/rate/period happens in HWParams,
// per the control-path contract (§4.3); Open itself only locates and
// opens the card device.
func Open(title string, direction pcm.Direction, log logging.Logger) (*pcm.Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("hw: open pipe: %w", err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return nil, fmt.Errorf("hw: prime pipe: %w", err)
	}
	b := &Backend{
		log:       log,
		title:     title,
		direction: direction,
		state:     pcm.StateOpen,
		rfd:       r,
		wfd:       w,
	}
	if err := b.open(); err != nil {
		r.Close()
		w.Close()
		return nil, &pcm.StreamError{Stream: title, Err: err}
	}
	return pcm.New(pcm.KindHW, direction, 0, title, b, b, log), nil
}

// open locates the requested card device and opens it, following the same
// card/device enumeration ausocean-av's ALSA input device uses.
func (b *Backend) open() error {
	cards, err := yalsa.OpenCards()
	if err != nil {
		return err
	}
	defer yalsa.CloseCards(cards)

	var dev *yalsa.Device
	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, d := range devices {
			if d.Type != yalsa.PCM {
				continue
			}
			wantsCapture := b.direction == pcm.Capture && d.Record
			wantsPlayback := b.direction == pcm.Playback && d.Play
			if !wantsCapture && !wantsPlayback {
				continue
			}
			if d.Title == b.title || b.title == "" {
				dev = d
				break
			}
		}
		if dev != nil {
			break
		}
	}
	if dev == nil {
		return pcm.ErrNoEntry
	}
	if err := dev.Open(); err != nil {
		return err
	}
	b.dev = dev
	b.state = pcm.StateSetup
	return nil
}

// --- ControlOps ------------------------------------------------------------

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rfd.Close()
	b.wfd.Close()
	if b.dev != nil {
		b.dev.Close()
	}
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
	return pcm.Info{Kind: pcm.KindHW, Direction: b.direction, Name: b.title}, nil
}

func alsaFormat(f pcm.Format) (yalsa.FormatType, error) {
	switch f {
	case pcm.S16LE:
		return yalsa.S16_LE, nil
	case pcm.S32LE:
		return yalsa.S32_LE, nil
	default:
		return 0, pcm.ErrInvalidArg
	}
}

func fromAlsaFormat(f yalsa.FormatType) pcm.Format {
	switch f {
	case yalsa.S16_LE:
		return pcm.S16LE
	case yalsa.S32_LE:
		return pcm.S32LE
	default:
		return pcm.Unknown
	}
}

// HWRefine fills in defaults for zero-valued fields (RW interleaved
// access, 1 channel, S16LE, 48kHz, 1024-frame fragments, 4 fragments) and
// rejects any other access mode, without committing anything (§4.3). It
// does not query the device: the values the hardware actually settles on
// are only known after HWParams.
func (b *Backend) HWRefine(params *pcm.HWParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return pcm.ErrNotReady
	}
	if params.Access == 0 {
		params.Access = pcm.AccessRWInterleaved
	}
	if params.Access != pcm.AccessRWInterleaved {
		return pcm.ErrInvalidArg
	}
	if params.Channels == 0 {
		params.Channels = 1
	}
	if params.Format == pcm.Unknown {
		params.Format = pcm.S16LE
	}
	if params.Rate == 0 {
		params.Rate = 48000
	}
	if params.FragmentSize == 0 {
		params.FragmentSize = 1024
	}
	if params.Fragments == 0 {
		params.Fragments = 4
	}
	return nil
}

// HWParams negotiates and commits. Negotiation order (channels, then
// rate, then format, then period, then buffer size) follows
// ausocean-av's device open() exactly, since ALSA drivers can reject a
// later parameter based on an earlier one and this ordering is what the
// teacher found worked in practice.
func (b *Backend) HWParams(params *pcm.HWParams) error {
	if err := b.HWRefine(params); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	channels, err := b.dev.NegotiateChannels(int(params.Channels))
	if err != nil {
		return fmt.Errorf("negotiate channels: %w", err)
	}
	rate, err := b.dev.NegotiateRate(int(params.Rate))
	if err != nil {
		return fmt.Errorf("negotiate rate: %w", err)
	}
	wantFmt, err := alsaFormat(params.Format)
	if err != nil {
		return err
	}
	gotFmt, err := b.dev.NegotiateFormat(wantFmt)
	if err != nil {
		return fmt.Errorf("negotiate format: %w", err)
	}
	periodSize, err := b.dev.NegotiatePeriodSize(int(params.FragmentSize))
	if err != nil {
		return fmt.Errorf("negotiate period size: %w", err)
	}
	if _, err := b.dev.NegotiateBufferSize(periodSize * int(params.Fragments)); err != nil {
		return fmt.Errorf("negotiate buffer size: %w", err)
	}
	if err := b.dev.Prepare(); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	params.Channels = uint(channels)
	params.Rate = uint(rate)
	params.RateNum, params.RateDen = uint(rate), 1
	params.Format = fromAlsaFormat(gotFmt)
	params.FragmentSize = uint(periodSize)
	b.hw = *params
	b.state = pcm.StatePrepared
	return nil
}

func (b *Backend) SWParams(params *pcm.SoftwareParameters) error { return nil }

func (b *Backend) ChannelInfo(channel uint) (pcm.ChannelInfo, error) {
	return pcm.ChannelInfo{}, pcm.ErrNotSupported
}

func (b *Backend) Dump(w interface{ Write([]byte) (int, error) }) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := fmt.Fprintf(w, "backend          : hw\ntitle            : %s\nstate            : %s\n", b.title, b.state)
	return err
}

func (b *Backend) MMap() ([]pcm.ChannelArea, error) { return nil, pcm.ErrNotSupported }
func (b *Backend) MUnmap() error                    { return pcm.ErrNotSupported }
func (b *Backend) Card() (int, error)                { return 0, nil }
func (b *Backend) Link(pcm.ControlOps) error          { return pcm.ErrNotSupported }
func (b *Backend) Unlink() error                      { return pcm.ErrNotSupported }

// --- FastOps -----------------------------------------------------------

func (b *Backend) Status() (pcm.StatusSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return pcm.StatusSnapshot{State: b.state}, nil
}

func (b *Backend) State() pcm.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Backend) Delay() (int64, error) { return 0, nil }

func (b *Backend) Prepare() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.dev.Prepare(); err != nil {
		return err
	}
	b.state = pcm.StatePrepared
	return nil
}

func (b *Backend) Reset() error { return b.Prepare() }

func (b *Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = pcm.StateRunning
	return nil
}

func (b *Backend) Drop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = pcm.StateSetup
	return nil
}

func (b *Backend) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = pcm.StateSetup
	return nil
}

func (b *Backend) Pause(enable bool) error { return pcm.ErrNotSupported }

func (b *Backend) Rewind(frames uint) (uint, error) { return 0, pcm.ErrNotSupported }

func (b *Backend) SetAvailMin(frames uint) error { return nil }

// AvailUpdate always reports the full request as available; see the
// Backend doc comment for why flow control lives in Read/Write instead.
func (b *Backend) AvailUpdate() (int64, error) { return 1 << 30, nil }

func (b *Backend) MMapForward(frames uint) (uint, error) { return 0, pcm.ErrNotSupported }

func (b *Backend) PollDescriptor() int {
	if b.direction == pcm.Playback {
		return int(b.wfd.Fd())
	}
	return int(b.rfd.Fd())
}

// frameBytes returns the negotiated frame size in bytes.
func (b *Backend) frameBytes() uint {
	return uint(pcm.PhysicalWidth(b.hw.Format)) / 8 * b.hw.Channels
}

// WriteAreas flattens the (necessarily interleaved, for this backend)
// areas into a contiguous buffer and writes it through the device. Only
// interleaved access is negotiated (HWRefine rejects anything else), so a
// single contiguous region is always available starting at areas[0]'s
// base address.
func (b *Backend) WriteAreas(areas []pcm.ChannelArea, offset, frames uint) (int64, error) {
	b.mu.Lock()
	dev := b.dev
	fb := b.frameBytes()
	b.mu.Unlock()
	if len(areas) == 0 {
		return 0, pcm.ErrInvalidArg
	}
	start := areas[0].First / 8
	buf := areas[0].Addr[start+offset*fb : start+(offset+frames)*fb]
	if err := dev.Write(buf); err != nil {
		return 0, &pcm.StreamError{Stream: b.title, Err: err}
	}
	return int64(frames), nil
}

// ReadAreas is the capture counterpart of WriteAreas.
func (b *Backend) ReadAreas(areas []pcm.ChannelArea, offset, frames uint) (int64, error) {
	b.mu.Lock()
	dev := b.dev
	fb := b.frameBytes()
	b.mu.Unlock()
	if len(areas) == 0 {
		return 0, pcm.ErrInvalidArg
	}
	start := areas[0].First / 8
	buf := areas[0].Addr[start+offset*fb : start+(offset+frames)*fb]
	if err := dev.Read(buf); err != nil {
		return 0, &pcm.StreamError{Stream: b.title, Err: err}
	}
	return int64(frames), nil
}
