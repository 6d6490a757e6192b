package pcm

// State is the stream's lifecycle state, per §4.4's state diagram.
type State int

const (
	StateOpen State = iota
	StateSetup
	StatePrepared
	StateRunning
	StateXRun
	StatePaused
	StateSuspended
	StateDisconnected
	stateLast = StateDisconnected
)

// Direction distinguishes playback from capture streams.
type Direction int

const (
	Playback Direction = iota
	Capture
)

// Access describes the negotiated buffer layout.
type Access int

const (
	AccessMMapInterleaved Access = iota
	AccessMMapNonInterleaved
	AccessMMapComplex
	AccessRWInterleaved
	AccessRWNonInterleaved
	accessLast = AccessRWNonInterleaved
)

// StartMode controls whether the stream starts explicitly or on first
// successful transfer (§3 software policy, §4.4's "implicit start").
type StartMode int

const (
	StartExplicit StartMode = iota
	StartData
	startModeLast = StartData
)

// ReadyMode controls when avail_min is considered satisfied.
type ReadyMode int

const (
	ReadyFragment ReadyMode = iota
	ReadyAsap
	readyModeLast = ReadyAsap
)

// XRunMode controls how aggressively the backend reports underrun/overrun.
type XRunMode int

const (
	XRunAsap XRunMode = iota
	XRunFragment
	XRunNone
	xrunModeLast = XRunNone
)

// BackendKind identifies which concrete backend is bound to a Stream,
// mirroring the "type" attribute of §3.
type BackendKind int

const (
	KindHW BackendKind = iota
	KindPlug
	KindSHM
	KindFile
	KindNull
	backendKindLast = KindNull
)
