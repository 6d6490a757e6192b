package file

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepwave-audio/pcmcore/pcm"
)

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, WAV, FormatFromPath("rec.wav"))
	assert.Equal(t, WAV, FormatFromPath("REC.WAV"))
	assert.Equal(t, FLAC, FormatFromPath("rec.flac"))
	assert.Equal(t, Raw, FormatFromPath("rec.pcm"))
	assert.Equal(t, Raw, FormatFromPath("noext"))
}

func TestRawPlaybackThenCaptureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.pcm")
	hw := pcm.HWParams{Access: pcm.AccessRWInterleaved, Format: pcm.S16LE, Channels: 1, Rate: 48000, FragmentSize: 256, Fragments: 4}

	out, err := OpenPlayback(path, Raw, hw, nil)
	require.NoError(t, err)

	buf := make([]byte, 256*2)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := out.WriteInterleaved(buf, 256)
	require.NoError(t, err)
	assert.EqualValues(t, 256, n)
	require.NoError(t, out.Close())

	in, err := OpenCapture(path, nil)
	require.NoError(t, err)
	defer in.Close()

	read := make([]byte, 256*2)
	got, err := in.ReadInterleaved(read, 256)
	require.NoError(t, err)
	assert.EqualValues(t, 256, got)
	assert.Equal(t, buf, read)

	_, err = in.ReadInterleaved(read, 256)
	assert.ErrorIs(t, err, pcm.ErrBrokenPipe)
}
