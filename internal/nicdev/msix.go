package nicdev

// MSIXEntry is one row of the MSI-X table: a message address/data pair plus
// the enable and mask bits the driver programs.
type MSIXEntry struct {
	Address uint64
	Data    uint32
	Enabled bool
	Masked  bool
}

// CoalesceConfig bounds how many completions accumulate before a vector
// fires, plus an optional timer-driven flush threshold.
type CoalesceConfig struct {
	Threshold     int
	TimerThresholdUs uint64
}

// AdaptiveConfig tunes the ±1 threshold-stepping adaptive moderation loop.
type AdaptiveConfig struct {
	Enabled      bool
	SampleInterval int
	LowBatch     int
	HighBatch    int
	MinThreshold int
	MaxThreshold int
}

type adaptiveState struct {
	currentThreshold int
	interruptCount   int
	totalBatch       int
}

type vectorState struct {
	pending   int
	timeAccum uint64
	adaptive  adaptiveState
}
