package pcm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFormatTableRoundTrip is property 10 of §8: every entry in the format
// table has a non-empty name, and looking that name back up returns the
// original value.
func TestFormatTableRoundTrip(t *testing.T) {
	for f, info := range formatTable {
		assert.NotEmpty(t, info.short)
		got, ok := FormatValue(info.short)
		assert.True(t, ok, "FormatValue(%q) should resolve", info.short)
		assert.Equal(t, f, got)
	}
}

func TestFormatValueCaseInsensitive(t *testing.T) {
	got, ok := FormatValue("s16_le")
	assert.True(t, ok)
	assert.Equal(t, S16LE, got)
}

func TestFormatValueUnknown(t *testing.T) {
	_, ok := FormatValue("not_a_format")
	assert.False(t, ok)
	assert.Equal(t, "Unknown", Unknown.String())
}

func TestEnumStringersCoverTable(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "RW_INTERLEAVED", AccessRWInterleaved.String())
	assert.Equal(t, "DATA", StartData.String())
	assert.Equal(t, "ASAP", XRunAsap.String())
	assert.Equal(t, "channels", HWParamChannels.String())
	assert.Equal(t, "avail_min", SWParamAvailMin.String())
}

func TestDumpSetupWritesAllFields(t *testing.T) {
	var buf bytes.Buffer
	hw := HWParams{Access: AccessRWInterleaved, Format: S16LE, Channels: 2, RateNum: 48000, RateDen: 1, FragmentSize: 1024, Fragments: 4}
	sw := SoftwareParameters{StartMode: StartData, AvailMin: 256}
	require := assert.New(t)
	require.NoError(dumpSetup(&buf, "test-stream", hw, sw))
	out := buf.String()
	require.Contains(out, "name")
	require.Contains(out, "RW_INTERLEAVED")
	require.Contains(out, "S16_LE")
	require.Contains(out, "48000")
}

func TestDumpSWParamsFailListsOnlyFailedFields(t *testing.T) {
	var buf bytes.Buffer
	sw := SoftwareParameters{AvailMin: 99, FailMask: 1 << uint(SWParamAvailMin)}
	assert.NoError(t, dumpSWParamsFail(&buf, sw))
	out := buf.String()
	assert.Contains(t, out, "avail_min")
	assert.NotContains(t, out, "start_mode")
}
