// Package plug implements the conversion backend: it wraps an inner
// stream (typically hw or null) and applies channel downmixing,
// integer-ratio downsampling and amplification between the application
// and the inner device, the way an ALSA "plug" PCM sits between a
// hardware PCM and whatever format the application actually asked for.
package plug

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/mjibson/go-dsp/window"

	"github.com/ausocean/utils/logging"

	"github.com/deepwave-audio/pcmcore/pcm"
)

// Options configures the conversion pipeline. The inner stream is
// negotiated at NativeChannels/NativeRate; the application sees
// AppChannels/AppRate. Only stereo-to-mono downmixing (NativeChannels==2,
// AppChannels==1) and integer-ratio downsampling (NativeRate a multiple
// of AppRate) are supported, matching the conversions
// ausocean-av's codec/pcm package implements; Wrap rejects any other
// channel or rate conversion.
type Options struct {
	NativeChannels uint
	NativeRate     uint
	AppChannels    uint
	AppRate        uint

	// AmpFactor scales every sample by this factor, clipping at full
	// scale. Zero disables amplification.
	AmpFactor float64

	// FadeInFrames ramps the first N frames after Start up from silence
	// using a Hann window, to avoid the click a hard start produces.
	// Zero disables the fade.
	FadeInFrames uint
}

// Backend is the ControlOps/FastOps pair bound to the plug Stream. Most
// control-path calls forward straight to the inner stream; the data path
// (WriteAreas/ReadAreas) runs the inner transfer through the conversion
// pipeline.
type Backend struct {
	mu sync.Mutex

	log   logging.Logger
	inner *pcm.Stream
	opts  Options

	ratio      int // NativeRate / AppRate, for downsampling.
	fadeLeft   uint
	fadeWindow []float64
}

// Wrap negotiates the inner stream at opts.NativeChannels/NativeRate and
// returns a plug Stream exposing opts.AppChannels/AppRate to the caller.
// inner must already be Open (but not yet Setup); Wrap calls its
// HWParams.
func Wrap(inner *pcm.Stream, opts Options, log logging.Logger) (*pcm.Stream, error) {
	if opts.AppChannels == 0 {
		opts.AppChannels = opts.NativeChannels
	}
	if opts.AppRate == 0 {
		opts.AppRate = opts.NativeRate
	}
	if opts.AppChannels != opts.NativeChannels && !(opts.NativeChannels == 2 && opts.AppChannels == 1) {
		return nil, fmt.Errorf("plug: unsupported channel conversion %d -> %d", opts.NativeChannels, opts.AppChannels)
	}
	ratio := 1
	if opts.AppRate != opts.NativeRate {
		if opts.NativeRate == 0 || opts.NativeRate%opts.AppRate != 0 {
			return nil, fmt.Errorf("plug: native rate %d is not an integer multiple of app rate %d", opts.NativeRate, opts.AppRate)
		}
		ratio = int(opts.NativeRate / opts.AppRate)
	}

	innerHW := pcm.HWParams{
		Access:       pcm.AccessRWInterleaved,
		Format:       pcm.S16LE,
		Channels:     opts.NativeChannels,
		Rate:         opts.NativeRate,
		FragmentSize: 1024,
		Fragments:    4,
	}
	if err := inner.HWParams(&innerHW); err != nil {
		return nil, fmt.Errorf("plug: negotiate inner stream: %w", err)
	}

	b := &Backend{log: log, inner: inner, opts: opts, ratio: ratio}
	if opts.FadeInFrames > 0 {
		b.fadeWindow = window.Hann(int(opts.FadeInFrames) * 2)
		b.fadeLeft = opts.FadeInFrames
	}
	return pcm.New(pcm.KindPlug, inner.Direction(), 0, inner.Name(), b, b, log), nil
}

// --- ControlOps: mostly pass-through to the inner stream ------------------

func (b *Backend) Close() error             { return b.inner.Close() }
func (b *Backend) SetNonblock(nb bool) error { return b.inner.Nonblock(nb) }
func (b *Backend) Async(signal, pid int) error { return b.inner.Async(signal, pid) }

func (b *Backend) Info() (pcm.Info, error) {
	info, err := b.inner.Info()
	info.Kind = pcm.KindPlug
	return info, err
}

// HWRefine reports the application-facing format this plug was
// configured with; it doesn't renegotiate the inner stream (that already
// happened in Wrap).
func (b *Backend) HWRefine(params *pcm.HWParams) error {
	params.Access = pcm.AccessRWInterleaved
	params.Format = pcm.S16LE
	params.Channels = b.opts.AppChannels
	params.Rate = b.opts.AppRate
	return nil
}

func (b *Backend) HWParams(params *pcm.HWParams) error {
	if err := b.HWRefine(params); err != nil {
		return err
	}
	return nil
}

func (b *Backend) SWParams(params *pcm.SoftwareParameters) error { return b.inner.SWParams(params) }

func (b *Backend) ChannelInfo(channel uint) (pcm.ChannelInfo, error) {
	return pcm.ChannelInfo{}, pcm.ErrNotSupported
}

func (b *Backend) Dump(w interface{ Write([]byte) (int, error) }) error {
	_, err := fmt.Fprintf(w, "backend          : plug\nnative           : %dch @ %dHz\napp              : %dch @ %dHz\n",
		b.opts.NativeChannels, b.opts.NativeRate, b.opts.AppChannels, b.opts.AppRate)
	return err
}

func (b *Backend) MMap() ([]pcm.ChannelArea, error) { return nil, pcm.ErrNotSupported }
func (b *Backend) MUnmap() error                    { return pcm.ErrNotSupported }
func (b *Backend) Card() (int, error)                { return b.inner.Card() }
func (b *Backend) Link(pcm.ControlOps) error          { return pcm.ErrNotSupported }
func (b *Backend) Unlink() error                      { return pcm.ErrNotSupported }

// --- FastOps: pass-through lifecycle, converting data path ----------------

func (b *Backend) Status() (pcm.StatusSnapshot, error) { return b.inner.Status() }
func (b *Backend) State() pcm.State                     { return b.inner.State() }
func (b *Backend) Delay() (int64, error)                { return b.inner.Delay() }
func (b *Backend) Prepare() error                        { return b.inner.Prepare() }
func (b *Backend) Reset() error                           { return b.inner.Reset() }

func (b *Backend) Start() error {
	b.mu.Lock()
	if b.opts.FadeInFrames > 0 {
		b.fadeLeft = b.opts.FadeInFrames
	}
	b.mu.Unlock()
	return b.inner.Start()
}

func (b *Backend) Drop() error                         { return b.inner.Drop() }
func (b *Backend) Drain() error                         { return b.inner.Drain() }
func (b *Backend) Pause(enable bool) error              { return b.inner.Pause(enable) }
func (b *Backend) Rewind(frames uint) (uint, error)     { return b.inner.Rewind(frames) }
func (b *Backend) SetAvailMin(frames uint) error        { return b.inner.SetAvailMin(frames) }
func (b *Backend) AvailUpdate() (int64, error)           { return b.inner.AvailUpdate() }
func (b *Backend) MMapForward(frames uint) (uint, error) { return b.inner.MMapForward(frames) }
func (b *Backend) PollDescriptor() int                   { return b.inner.PollDescriptor() }

// WriteAreas applies amplification (and fade-in) to the application's
// interleaved buffer, then writes it straight through to the inner
// stream — playback never changes channel count or rate in this
// backend (only capture downmixes/downsamples, matching the direction
// ausocean-av's own conversions run in: hardware capture down to what a
// downstream encoder wants).
func (b *Backend) WriteAreas(areas []pcm.ChannelArea, offset, frames uint) (int64, error) {
	if len(areas) == 0 {
		return 0, pcm.ErrInvalidArg
	}
	buf := flatten(areas, offset, frames, b.opts.AppChannels)
	b.applyAmp(buf)
	b.applyFade(buf, b.opts.AppChannels)
	n, err := b.inner.WriteInterleaved(buf, frames)
	return int64(n), err
}

// ReadAreas reads a native-format chunk from the inner stream, then
// downmixes and downsamples it into the application's buffer.
func (b *Backend) ReadAreas(areas []pcm.ChannelArea, offset, frames uint) (int64, error) {
	if len(areas) == 0 {
		return 0, pcm.ErrInvalidArg
	}
	nativeFrames := frames * uint(b.ratio)
	nativeBuf := make([]byte, nativeFrames*2*b.opts.NativeChannels)
	n, err := b.inner.ReadInterleaved(nativeBuf, nativeFrames)
	if err != nil {
		return 0, err
	}
	nativeBuf = nativeBuf[:uint(n)*2*b.opts.NativeChannels]

	mono := nativeBuf
	if b.opts.NativeChannels == 2 && b.opts.AppChannels == 1 {
		mono = downmixStereoToMono(nativeBuf)
	}
	down := mono
	if b.ratio > 1 {
		down = downsample(mono, b.ratio)
	}
	b.applyAmp(down)

	appFrames := uint(len(down) / 2)
	unflatten(areas, offset, appFrames, down)
	return int64(appFrames), nil
}

// flatten copies an interleaved application buffer's worth of frames out
// of a per-channel area list (areas are always byte-aligned S16LE here;
// HWRefine enforces that).
func flatten(areas []pcm.ChannelArea, offset, frames, channels uint) []byte {
	buf := make([]byte, frames*channels*2)
	for c, a := range areas {
		for f := uint(0); f < frames; f++ {
			bitOff := a.First + (offset+f)*a.Step
			byteOff := bitOff / 8
			copy(buf[(f*channels+uint(c))*2:], a.Addr[byteOff:byteOff+2])
		}
	}
	return buf
}

// unflatten is flatten's inverse: scatter an interleaved buffer back into
// a per-channel area list.
func unflatten(areas []pcm.ChannelArea, offset, frames uint, buf []byte) {
	channels := uint(len(areas))
	for c, a := range areas {
		for f := uint(0); f < frames; f++ {
			bitOff := a.First + (offset+f)*a.Step
			byteOff := bitOff / 8
			copy(a.Addr[byteOff:byteOff+2], buf[(f*channels+uint(c))*2:])
		}
	}
}

// downmixStereoToMono keeps the left channel of each interleaved stereo
// S16LE frame, matching ausocean-av's codec/pcm.StereoToMono.
func downmixStereoToMono(stereo []byte) []byte {
	mono := make([]byte, len(stereo)/2)
	for i, j := 0, 0; i+4 <= len(stereo); i, j = i+4, j+2 {
		mono[j] = stereo[i]
		mono[j+1] = stereo[i+1]
	}
	return mono
}

// downsample averages every ratio consecutive S16LE samples into one,
// matching ausocean-av's codec/pcm.Resample's averaging decimator
// (restricted, like the original, to an exact integer ratio).
func downsample(in []byte, ratio int) []byte {
	sampleLen := 2
	frames := len(in) / sampleLen / ratio
	out := make([]byte, frames*sampleLen)
	for i := 0; i < frames; i++ {
		var sum int
		for j := 0; j < ratio; j++ {
			off := (i*ratio + j) * sampleLen
			sum += int(int16(binary.LittleEndian.Uint16(in[off : off+2])))
		}
		binary.LittleEndian.PutUint16(out[i*sampleLen:], uint16(int16(sum/ratio)))
	}
	return out
}

// applyAmp scales every S16LE sample in place by AmpFactor, clipping at
// full scale, matching ausocean-av's codec/pcm.Amplifier.Apply.
func (b *Backend) applyAmp(buf []byte) {
	if b.opts.AmpFactor == 0 || b.opts.AmpFactor == 1 {
		return
	}
	factor := math.Abs(b.opts.AmpFactor)
	for i := 0; i+2 <= len(buf); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(buf[i:i+2]))) / (math.MaxInt16 + 1)
		v *= factor
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(buf[i:i+2], uint16(int16(v*math.MaxInt16)))
	}
}

// applyFade ramps the first fadeLeft frames of buf up from silence using
// the precomputed Hann window, consuming the countdown as it goes.
func (b *Backend) applyFade(buf []byte, channels uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fadeLeft == 0 {
		return
	}
	frames := uint(len(buf)) / (2 * channels)
	windowLen := uint(len(b.fadeWindow))
	for f := uint(0); f < frames && b.fadeLeft > 0; f++ {
		idx := windowLen/2 - b.fadeLeft
		gain := b.fadeWindow[idx]
		for c := uint(0); c < channels; c++ {
			off := (f*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(buf[off : off+2]))
			binary.LittleEndian.PutUint16(buf[off:off+2], uint16(int16(float64(v)*gain)))
		}
		b.fadeLeft--
	}
}
