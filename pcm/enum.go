package pcm

import (
	"fmt"
	"io"
	"strings"

	"github.com/lestrrat-go/strftime"
)

// SWParamID indexes the bits of SoftwareParameters.FailMask (§4.6).
type SWParamID int

const (
	SWParamStartMode SWParamID = iota
	SWParamReadyMode
	SWParamXRunMode
	SWParamAvailMin
	SWParamXferMin
	SWParamXferAlign
	SWParamTime
	SWParamBoundary
	swParamLast = SWParamBoundary
)

// HWParamID indexes the hardware-parameter enum for dump/diagnostics.
type HWParamID int

const (
	HWParamAccess HWParamID = iota
	HWParamFormat
	HWParamSubformat
	HWParamChannels
	HWParamRate
	HWParamFragmentSize
	HWParamFragments
	hwParamLast = HWParamFragments
)

var directionNames = [...]string{Playback: "playback", Capture: "capture"}
var stateNames = [...]string{
	StateOpen: "OPEN", StateSetup: "SETUP", StatePrepared: "PREPARED",
	StateRunning: "RUNNING", StateXRun: "XRUN", StatePaused: "PAUSED",
	StateSuspended: "SUSPENDED", StateDisconnected: "DISCONNECTED",
}
var accessNames = [...]string{
	AccessMMapInterleaved: "MMAP_INTERLEAVED", AccessMMapNonInterleaved: "MMAP_NONINTERLEAVED",
	AccessMMapComplex: "MMAP_COMPLEX", AccessRWInterleaved: "RW_INTERLEAVED",
	AccessRWNonInterleaved: "RW_NONINTERLEAVED",
}
var startModeNames = [...]string{StartExplicit: "EXPLICIT", StartData: "DATA"}
var readyModeNames = [...]string{ReadyFragment: "FRAGMENT", ReadyAsap: "ASAP"}
var xrunModeNames = [...]string{XRunAsap: "ASAP", XRunFragment: "FRAGMENT", XRunNone: "NONE"}

var hwParamNames = [...]string{
	HWParamAccess: "access", HWParamFormat: "format", HWParamSubformat: "subformat",
	HWParamChannels: "channels", HWParamRate: "rate",
	HWParamFragmentSize: "fragment_size", HWParamFragments: "fragments",
}
var swParamNames = [...]string{
	SWParamStartMode: "start_mode", SWParamReadyMode: "ready_mode", SWParamXRunMode: "xrun_mode",
	SWParamAvailMin: "avail_min", SWParamXferMin: "xfer_min", SWParamXferAlign: "xfer_align",
	SWParamTime: "time", SWParamBoundary: "boundary",
}

// formatInfo pairs a format's short name with a human description, used by
// both String() and the reverse lookup FormatValue.
type formatInfo struct {
	short, desc string
}

var formatTable = map[Format]formatInfo{
	S8:                {"S8", "Signed 8 bit"},
	U8:                {"U8", "Unsigned 8 bit"},
	S16LE:             {"S16_LE", "Signed 16 bit Little Endian"},
	S16BE:             {"S16_BE", "Signed 16 bit Big Endian"},
	U16LE:             {"U16_LE", "Unsigned 16 bit Little Endian"},
	U16BE:             {"U16_BE", "Unsigned 16 bit Big Endian"},
	S24LE:             {"S24_LE", "Signed 24 bit Little Endian, stored in 32 bits"},
	S24BE:             {"S24_BE", "Signed 24 bit Big Endian, stored in 32 bits"},
	U24LE:             {"U24_LE", "Unsigned 24 bit Little Endian, stored in 32 bits"},
	U24BE:             {"U24_BE", "Unsigned 24 bit Big Endian, stored in 32 bits"},
	S32LE:             {"S32_LE", "Signed 32 bit Little Endian"},
	S32BE:             {"S32_BE", "Signed 32 bit Big Endian"},
	U32LE:             {"U32_LE", "Unsigned 32 bit Little Endian"},
	U32BE:             {"U32_BE", "Unsigned 32 bit Big Endian"},
	FloatLE:           {"FLOAT_LE", "Float 32 bit Little Endian"},
	FloatBE:           {"FLOAT_BE", "Float 32 bit Big Endian"},
	Float64LE:         {"FLOAT64_LE", "Float 64 bit Little Endian"},
	Float64BE:         {"FLOAT64_BE", "Float 64 bit Big Endian"},
	IEC958SubframeLE:  {"IEC958_SUBFRAME_LE", "IEC-958 subframe Little Endian"},
	IEC958SubframeBE:  {"IEC958_SUBFRAME_BE", "IEC-958 subframe Big Endian"},
	MuLaw:             {"MU_LAW", "Mu-Law"},
	ALaw:              {"A_LAW", "A-Law"},
	ImaADPCM:          {"IMA_ADPCM", "Ima-ADPCM"},
	MPEG:              {"MPEG", "MPEG"},
	GSM:               {"GSM", "GSM"},
	Special:           {"SPECIAL", "Special"},
	S24_3LE:           {"S24_3LE", "Signed 24 bit Little Endian in 3bytes"},
	S24_3BE:           {"S24_3BE", "Signed 24 bit Big Endian in 3bytes"},
	U24_3LE:           {"U24_3LE", "Unsigned 24 bit Little Endian in 3bytes"},
	U24_3BE:           {"U24_3BE", "Unsigned 24 bit Big Endian in 3bytes"},
	S20_3LE:           {"S20_3LE", "Signed 20 bit Little Endian in 3bytes"},
	S20_3BE:           {"S20_3BE", "Signed 20 bit Big Endian in 3bytes"},
	U20_3LE:           {"U20_3LE", "Unsigned 20 bit Little Endian in 3bytes"},
	U20_3BE:           {"U20_3BE", "Unsigned 20 bit Big Endian in 3bytes"},
	S18_3LE:           {"S18_3LE", "Signed 18 bit Little Endian in 3bytes"},
	S18_3BE:           {"S18_3BE", "Signed 18 bit Big Endian in 3bytes"},
	U18_3LE:           {"U18_3LE", "Unsigned 18 bit Little Endian in 3bytes"},
	U18_3BE:           {"U18_3BE", "Unsigned 18 bit Big Endian in 3bytes"},
	G723_24:           {"G723_24", "G.723 24 bit"},
	G723_24_1B:        {"G723_24_1B", "G.723 24 bit, 1 byte per sample"},
	G723_40:           {"G723_40", "G.723 40 bit"},
	G723_40_1B:        {"G723_40_1B", "G.723 40 bit, 1 byte per sample"},
	DSDU8:             {"DSD_U8", "Direct Stream Digital, 1-byte samples"},
	DSDU16LE:          {"DSD_U16_LE", "Direct Stream Digital, 2-byte samples, little endian"},
}

// String returns the short enum name of a Format, or "Unknown" if f has
// none (C6).
func (f Format) String() string {
	if info, ok := formatTable[f]; ok {
		return info.short
	}
	return "Unknown"
}

// Description returns the human-readable description of a Format.
func (f Format) Description() string {
	if info, ok := formatTable[f]; ok {
		return info.desc
	}
	return "Unknown"
}

// FormatValue does a case-insensitive reverse lookup of a format's short
// name, per §4.6 ("scans the format table case-insensitively").
func FormatValue(name string) (Format, bool) {
	for f, info := range formatTable {
		if strings.EqualFold(info.short, name) {
			return f, true
		}
	}
	return Unknown, false
}

func (d Direction) String() string { return nameOrUnknown(directionNames[:], int(d)) }
func (s State) String() string     { return nameOrUnknown(stateNames[:], int(s)) }
func (a Access) String() string    { return nameOrUnknown(accessNames[:], int(a)) }
func (m StartMode) String() string { return nameOrUnknown(startModeNames[:], int(m)) }
func (m ReadyMode) String() string { return nameOrUnknown(readyModeNames[:], int(m)) }
func (m XRunMode) String() string  { return nameOrUnknown(xrunModeNames[:], int(m)) }
func (p HWParamID) String() string { return nameOrUnknown(hwParamNames[:], int(p)) }
func (p SWParamID) String() string { return nameOrUnknown(swParamNames[:], int(p)) }

func nameOrUnknown(table []string, v int) string {
	if v < 0 || v >= len(table) || table[v] == "" {
		return "UNKNOWN"
	}
	return table[v]
}

// dumpTimeFormat renders StatusSnapshot timestamps the way the dump output
// wants them: second precision, stable across locales. strftime is used
// here (rather than time.Format's reference-date layout) because it is
// the idiom the rest of the pack reaches for when a pattern, not a magic
// reference date, is the natural way to describe a timestamp format.
const dumpTimeFormat = "%Y-%m-%d %H:%M:%S"

var dumpTimeFormatter = func() *strftime.Strftime {
	f, err := strftime.New(dumpTimeFormat)
	if err != nil {
		panic(err)
	}
	return f
}()

// dumpSetup writes a line-oriented "key : value" report of the stream's
// setup to w, per §6 (status is reported separately by DumpStatus). Keys are padded to a fixed column; enum values
// render as their short names; the rate renders both as a decimal ratio
// and as numerator/denominator.
func dumpSetup(w io.Writer, name string, hw HWParams, sw SoftwareParameters) error {
	const col = 16
	line := func(key, val string) error {
		_, err := fmt.Fprintf(w, "%-*s: %s\n", col, key, val)
		return err
	}
	if name != "" {
		if err := line("name", name); err != nil {
			return err
		}
	}
	if err := line(hwParamNames[HWParamAccess], hw.Access.String()); err != nil {
		return err
	}
	if err := line(hwParamNames[HWParamFormat], hw.Format.String()); err != nil {
		return err
	}
	if err := line(hwParamNames[HWParamChannels], fmt.Sprintf("%d", hw.Channels)); err != nil {
		return err
	}
	rate := "0"
	if hw.RateDen != 0 {
		rate = fmt.Sprintf("%g (%d/%d)", float64(hw.RateNum)/float64(hw.RateDen), hw.RateNum, hw.RateDen)
	}
	if err := line(hwParamNames[HWParamRate], rate); err != nil {
		return err
	}
	if err := line(hwParamNames[HWParamFragmentSize], fmt.Sprintf("%d", hw.FragmentSize)); err != nil {
		return err
	}
	if err := line(hwParamNames[HWParamFragments], fmt.Sprintf("%d", hw.Fragments)); err != nil {
		return err
	}
	if err := line(swParamNames[SWParamStartMode], sw.StartMode.String()); err != nil {
		return err
	}
	if err := line(swParamNames[SWParamAvailMin], fmt.Sprintf("%d", sw.AvailMin)); err != nil {
		return err
	}
	return nil
}

// dumpSWParamsFail walks FailMask bit by bit, printing the offending field
// and its current value (§4.6).
func dumpSWParamsFail(w io.Writer, sw SoftwareParameters) error {
	for id := SWParamID(0); id <= swParamLast; id++ {
		if sw.FailMask&(1<<uint(id)) == 0 {
			continue
		}
		var val string
		switch id {
		case SWParamStartMode:
			val = sw.StartMode.String()
		case SWParamReadyMode:
			val = sw.ReadyMode.String()
		case SWParamXRunMode:
			val = sw.XRunMode.String()
		case SWParamAvailMin:
			val = fmt.Sprintf("%d", sw.AvailMin)
		case SWParamXferMin:
			val = fmt.Sprintf("%d", sw.XferMin)
		case SWParamXferAlign:
			val = fmt.Sprintf("%d", sw.XferAlign)
		case SWParamTime:
			val = fmt.Sprintf("%v", sw.Time)
		case SWParamBoundary:
			val = fmt.Sprintf("%d", sw.Boundary)
		}
		if _, err := fmt.Fprintf(w, "%s is not valid: %s\n", id, val); err != nil {
			return err
		}
	}
	return nil
}

// DumpSetup is the exported entry point for dumpSetup, reporting the
// stream's cached hardware and software parameters. The backends' own
// Dump control ops write only their backend-specific lines and do not
// call it.
func DumpSetup(w io.Writer, s *Stream) error {
	return dumpSetup(w, s.name, s.hw, s.sw)
}

// DumpSWParamsFail is the exported entry point for printing a failed
// SWParams negotiation (§7: "return a populated fail_mask so the
// application can explain which field was impossible").
func DumpSWParamsFail(w io.Writer, sw SoftwareParameters) error {
	return dumpSWParamsFail(w, sw)
}

// DumpStatus writes a StatusSnapshot in the same "key : value" style as
// DumpSetup.
func DumpStatus(w io.Writer, st StatusSnapshot) error {
	const col = 16
	line := func(key, val string) error {
		_, err := fmt.Fprintf(w, "%-*s: %s\n", col, key, val)
		return err
	}
	if err := line("state", st.State.String()); err != nil {
		return err
	}
	if err := line("trigger_time", dumpTimeFormatter.FormatString(st.TriggerTime)); err != nil {
		return err
	}
	if err := line("timestamp", dumpTimeFormatter.FormatString(st.Timestamp)); err != nil {
		return err
	}
	if err := line("delay", fmt.Sprintf("%d", st.Delay)); err != nil {
		return err
	}
	if err := line("avail", fmt.Sprintf("%d", st.Avail)); err != nil {
		return err
	}
	return line("avail_max", fmt.Sprintf("%d", st.AvailMax))
}
