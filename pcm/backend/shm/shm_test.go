package shm

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausocean/utils/pool"

	"github.com/deepwave-audio/pcmcore/pcm"
)

func TestListenDialRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	var wg sync.WaitGroup
	var playback *pcm.Stream
	var listenErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		playback, listenErr = Listen(sockPath, pcm.Playback, nil)
	}()

	// Give the listener a moment to bind before dialing.
	time.Sleep(50 * time.Millisecond)

	capture, err := Dial(sockPath, pcm.Capture, nil)
	require.NoError(t, err)
	defer capture.Close()

	wg.Wait()
	require.NoError(t, listenErr)
	defer playback.Close()

	hw := pcm.HWParams{Channels: 1, Format: pcm.S16LE, Rate: 48000, FragmentSize: 256, Fragments: 4}
	require.NoError(t, playback.HWParams(&hw))
	require.NoError(t, playback.SWParams(&pcm.SoftwareParameters{StartMode: pcm.StartData, AvailMin: 1}))
	require.NoError(t, playback.Prepare())

	require.NoError(t, capture.HWParams(&hw))
	require.NoError(t, capture.SWParams(&pcm.SoftwareParameters{StartMode: pcm.StartData, AvailMin: 1}))
	require.NoError(t, capture.Prepare())

	buf := make([]byte, 256*2)
	n, err := playback.WriteInterleaved(buf, 256)
	require.NoError(t, err)
	assert.EqualValues(t, 256, n)

	out := make([]byte, 256*2)
	got, err := capture.ReadInterleaved(out, 256)
	require.NoError(t, err)
	assert.EqualValues(t, 256, got)
}

// TestBackendReadAreasTimesOutAsBrokenPipe drives Backend.ReadAreas
// directly rather than through the full Stream transfer engine: the
// engine's own avail-gated retry loop busy-polls this backend's
// always-ready descriptor (the primed pipe set up in open), so the
// pool.ErrTimeout -> ErrBrokenPipe mapping this test targets is easier
// to exercise at the backend level, with no peer ever connected.
func TestBackendReadAreasTimesOutAsBrokenPipe(t *testing.T) {
	b := &Backend{
		direction: pcm.Capture,
		hw:        pcm.HWParams{Channels: 1, FragmentSize: 4},
		buf:       pool.NewBuffer(4, 8, 10*time.Millisecond),
	}
	area := pcm.ChannelArea{Addr: make([]byte, 8), First: 0, Step: 16}
	_, err := b.ReadAreas([]pcm.ChannelArea{area}, 0, 4)
	assert.ErrorIs(t, err, pcm.ErrBrokenPipe)
}

// TestBackendWriteAreasTreatsDroppedFramesAsSuccess exercises the
// overrun path directly: once the ring is full, pool.ErrDropped must
// not surface as an error, mirroring alsa.go's own treatment of a full
// ring as a warning rather than a failure.
func TestBackendWriteAreasTreatsDroppedFramesAsSuccess(t *testing.T) {
	b := &Backend{
		direction: pcm.Playback,
		hw:        pcm.HWParams{Channels: 1, FragmentSize: 4},
		buf:       pool.NewBuffer(1, 8, 10*time.Millisecond),
	}
	area := pcm.ChannelArea{Addr: make([]byte, 8), First: 0, Step: 16}
	areas := []pcm.ChannelArea{area}

	_, err := b.WriteAreas(areas, 0, 4)
	require.NoError(t, err)
	// The ring holds one chunk; a second write before anything drains it
	// must still report success even though the frame is dropped.
	_, err = b.WriteAreas(areas, 0, 4)
	assert.NoError(t, err)
}
