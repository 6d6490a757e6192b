package pcm

import "testing"

func TestPhysicalWidth(t *testing.T) {
	cases := []struct {
		f    Format
		want int
	}{
		{ImaADPCM, 4},
		{S8, 8}, {U8, 8}, {MuLaw, 8}, {ALaw, 8},
		{S16LE, 16}, {U16BE, 16},
		{S32LE, 32}, {FloatLE, 32}, {S24LE, 32},
		{Float64LE, 64},
		{GSM, 0}, {Special, 0}, {MPEG, 0},
		{Unknown, 0},
	}
	for _, c := range cases {
		if got := PhysicalWidth(c.f); got != c.want {
			t.Errorf("PhysicalWidth(%v) = %d, want %d", c.f, got, c.want)
		}
	}
}

func TestSilencePattern64Tiling(t *testing.T) {
	// The silence pattern must tile exactly: every width-bit lane of the
	// 64-bit pattern must equal the format's silence value, so the bulk
	// fast path in areaSilence (a raw 8-byte store) is correct.
	for width, f := range widthFormats {
		pattern := silencePattern64(f)
		lane := pattern & ((uint64(1) << uint(width)) - 1)
		for shift := 0; shift < 64; shift += width {
			got := (pattern >> uint(shift)) & ((uint64(1) << uint(width)) - 1)
			if got != lane {
				t.Fatalf("format %v: silence pattern doesn't tile at width %d (lane 0 = %x, lane at shift %d = %x)", f, width, lane, shift, got)
			}
		}
	}
}
