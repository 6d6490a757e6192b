package open

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepwave-audio/pcmcore/pcm"
)

func TestConfigValidateDefaults(t *testing.T) {
	c := Config{Backend: "null"}
	require.NoError(t, c.Validate())
	assert.EqualValues(t, 1, c.Channels)
	assert.EqualValues(t, 48000, c.Rate)
	assert.EqualValues(t, 1024, c.FragmentSize)
	assert.EqualValues(t, 4, c.Fragments)
}

func TestConfigValidateRequiresBackend(t *testing.T) {
	c := Config{}
	assert.Error(t, c.Validate())
}

func TestConfigValidateRequiresDeviceForShmAndFile(t *testing.T) {
	assert.Error(t, (&Config{Backend: "shm"}).Validate())
	assert.Error(t, (&Config{Backend: "file"}).Validate())
	assert.NoError(t, (&Config{Backend: "shm", Device: "/tmp/x.sock"}).Validate())
}

func TestParseLiteral(t *testing.T) {
	cfg, err := parseLiteral("hw:USB Audio")
	require.NoError(t, err)
	assert.Equal(t, "hw", cfg.Backend)
	assert.Equal(t, "USB Audio", cfg.Device)

	_, err = parseLiteral("bogus")
	assert.Error(t, err)
}

func TestOpenLiteralWithoutRegistry(t *testing.T) {
	s, err := Open(nil, "null", pcm.Playback, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.IsSetup())
}

func TestLoadParsesNamedStreams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.yaml")
	doc := `
pcm:
  mic0:
    backend: hw
    device: USB Audio
    channels: 1
    rate: 48000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	cfg, ok := reg.Get("mic0")
	require.True(t, ok)
	assert.Equal(t, "hw", cfg.Backend)
	assert.Equal(t, "USB Audio", cfg.Device)
}

func TestOpenFallsBackToLiteralWhenNameNotRegistered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pcm: {}\n"), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	s, err := Open(reg, "null", pcm.Capture, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.IsSetup())
}
