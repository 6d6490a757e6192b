package plug

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepwave-audio/pcmcore/pcm"
	"github.com/deepwave-audio/pcmcore/pcm/backend/null"
)

func newInner(t *testing.T, direction pcm.Direction) *pcm.Stream {
	t.Helper()
	s, err := null.Open("inner", direction, nil)
	require.NoError(t, err)
	return s
}

func TestWrapRejectsUnsupportedChannelConversion(t *testing.T) {
	inner := newInner(t, pcm.Playback)
	_, err := Wrap(inner, Options{NativeChannels: 2, NativeRate: 48000, AppChannels: 3}, nil)
	assert.Error(t, err)
}

func TestWrapRejectsNonIntegerRateRatio(t *testing.T) {
	inner := newInner(t, pcm.Playback)
	_, err := Wrap(inner, Options{NativeChannels: 1, NativeRate: 44100, AppChannels: 1, AppRate: 48000}, nil)
	assert.Error(t, err)
}

func TestWritePassesThroughAtNativeFormat(t *testing.T) {
	inner := newInner(t, pcm.Playback)
	s, err := Wrap(inner, Options{NativeChannels: 1, NativeRate: 48000, AppChannels: 1, AppRate: 48000}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.HWParams(&pcm.HWParams{}))
	require.NoError(t, s.SWParams(&pcm.SoftwareParameters{StartMode: pcm.StartData, AvailMin: 1}))
	require.NoError(t, s.Prepare())

	buf := make([]byte, 100*2)
	n, err := s.WriteInterleaved(buf, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 100, n)
}

func TestDownmixStereoToMonoKeepsLeftChannel(t *testing.T) {
	stereo := make([]byte, 4*2) // 2 frames, 2ch.
	binary.LittleEndian.PutUint16(stereo[0:], uint16(int16(100)))
	binary.LittleEndian.PutUint16(stereo[2:], uint16(int16(-200)))
	binary.LittleEndian.PutUint16(stereo[4:], uint16(int16(300)))
	binary.LittleEndian.PutUint16(stereo[6:], uint16(int16(-400)))

	mono := downmixStereoToMono(stereo)
	require.Len(t, mono, 4)
	assert.EqualValues(t, 100, int16(binary.LittleEndian.Uint16(mono[0:])))
	assert.EqualValues(t, 300, int16(binary.LittleEndian.Uint16(mono[2:])))
}

func TestDownsampleAveragesConsecutiveSamples(t *testing.T) {
	in := make([]byte, 4*2) // 4 samples: 10, 20, 30, 40.
	for i, v := range []int16{10, 20, 30, 40} {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(v))
	}
	out := downsample(in, 2)
	require.Len(t, out, 4)
	assert.EqualValues(t, 15, int16(binary.LittleEndian.Uint16(out[0:])))
	assert.EqualValues(t, 35, int16(binary.LittleEndian.Uint16(out[2:])))
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	const frames, channels = 8, 2
	left := make([]byte, frames*2)
	right := make([]byte, frames*2)
	for f := 0; f < frames; f++ {
		binary.LittleEndian.PutUint16(left[f*2:], uint16(f*10))
		binary.LittleEndian.PutUint16(right[f*2:], uint16(f*10+1))
	}
	areas := []pcm.ChannelArea{{Addr: left, First: 0, Step: 16}, {Addr: right, First: 0, Step: 16}}

	buf := flatten(areas, 0, frames, channels)

	left2 := make([]byte, frames*2)
	right2 := make([]byte, frames*2)
	areas2 := []pcm.ChannelArea{{Addr: left2, First: 0, Step: 16}, {Addr: right2, First: 0, Step: 16}}
	unflatten(areas2, 0, frames, buf)

	assert.Equal(t, left, left2)
	assert.Equal(t, right, right2)
}
