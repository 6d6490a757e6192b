package pcm

// Format identifies a sample encoding the way the backend negotiates it.
// It is deliberately a superset of the two formats codec/pcm knows about
// (S16_LE, S32_LE) — the transfer engine and channel-area kernels need to
// cover the full range of widths a real driver reports.
type Format int

// Sample formats. Endian pairs are kept adjacent; "Unknown" is -2 so a
// zero Format is always a real, if unlikely, encoding (S8) rather than a
// silent invalid value.
const (
	Unknown Format = iota - 2
	_
	S8
	U8
	S16LE
	S16BE
	U16LE
	U16BE
	S24LE // 24 bits used, physically stored in 32.
	S24BE
	U24LE
	U24BE
	S32LE
	S32BE
	U32LE
	U32BE
	FloatLE
	FloatBE
	Float64LE
	Float64BE
	IEC958SubframeLE
	IEC958SubframeBE
	MuLaw
	ALaw
	ImaADPCM
	MPEG
	GSM
	Special
	S24_3LE // 24 bits packed in 3 bytes.
	S24_3BE
	U24_3LE
	U24_3BE
	S20_3LE // 20 bits packed in 3 bytes.
	S20_3BE
	U20_3LE
	U20_3BE
	S18_3LE // 18 bits packed in 3 bytes.
	S18_3BE
	U18_3LE
	U18_3BE
	G723_24
	G723_24_1B
	G723_40
	G723_40_1B
	DSDU8
	DSDU16LE
	FormatLast = DSDU16LE
)

// physicalWidth returns the physical storage width in bits of format f, or
// 0 if f isn't one the channel-area kernels know how to dispatch on (§4.1:
// "other formats fall back to caller logic").
func physicalWidth(f Format) int {
	switch f {
	case ImaADPCM:
		return 4 // nibble-packed, the one format areaSilence/areaCopy's width-4 case targets.
	case S8, U8, MuLaw, ALaw, G723_24_1B, G723_40_1B:
		return 8
	case S16LE, S16BE, U16LE, U16BE, DSDU16LE:
		return 16
	case S24LE, S24BE, U24LE, U24BE, S32LE, S32BE, U32LE, U32BE, FloatLE, FloatBE,
		IEC958SubframeLE, IEC958SubframeBE:
		return 32
	case Float64LE, Float64BE:
		return 64
	default:
		return 0
	}
}

// silencePattern64 returns the 64-bit repeating pattern that, truncated to
// physicalWidth(f) bits, represents digital silence for format f. Unsigned
// formats silence to their mid-point (0x80, 0x8000, ...); everything else
// silences to all-zero bits.
func silencePattern64(f Format) uint64 {
	switch f {
	case U8:
		return 0x8080808080808080
	case U16LE, U16BE:
		return 0x8000800080008000
	case U24LE, U24BE, U24_3LE, U24_3BE:
		return 0x0080000000800000
	case U32LE, U32BE:
		return 0x8000000080000000
	case U20_3LE, U20_3BE:
		return 0x0008000000080000
	case U18_3LE, U18_3BE:
		return 0x0002000000020000
	case MuLaw:
		return 0x7f7f7f7f7f7f7f7f
	case ALaw:
		return 0x5555555555555555
	default:
		return 0
	}
}

// PhysicalWidth is the exported form of physicalWidth for backends and
// tests (C1 contract: "physical_width(format) -> bits").
func PhysicalWidth(f Format) int { return physicalWidth(f) }

// SilencePattern64 is the exported form of silencePattern64 (C1 contract:
// "silence_pattern_64(format) -> 64-bit value").
func SilencePattern64(f Format) uint64 { return silencePattern64(f) }
