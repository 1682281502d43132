package rocev2

// RdmaCqConfig configures an RdmaCompletionQueue.
type RdmaCqConfig struct {
	Depth int
}

// RdmaCqStats counts completion queue activity.
type RdmaCqStats struct {
	CqesPosted uint64
	CqesPolled uint64
	Overflows  uint64
	ArmCount   uint64
}

// RdmaCompletionQueue holds completed work requests for one or more queue
// pairs.
type RdmaCompletionQueue struct {
	number  uint32
	cfg     RdmaCqConfig
	entries []RdmaCqe
	armed   bool
	stats   RdmaCqStats
}

// NewRdmaCompletionQueue constructs an empty CQ of the configured depth.
func NewRdmaCompletionQueue(number uint32, cfg RdmaCqConfig) *RdmaCompletionQueue {
	if cfg.Depth <= 0 {
		cfg.Depth = 256
	}
	return &RdmaCompletionQueue{number: number, cfg: cfg}
}

// Number returns the CQ's allocation handle.
func (q *RdmaCompletionQueue) Number() uint32 { return q.number }

// Post appends a CQE, returning false if the queue is full.
func (q *RdmaCompletionQueue) Post(cqe RdmaCqe) bool {
	if len(q.entries) >= q.cfg.Depth {
		q.stats.Overflows++
		return false
	}
	q.entries = append(q.entries, cqe)
	q.stats.CqesPosted++
	return true
}

// Poll pops up to maxCqes completions in FIFO order.
func (q *RdmaCompletionQueue) Poll(maxCqes int) []RdmaCqe {
	if maxCqes > len(q.entries) {
		maxCqes = len(q.entries)
	}
	out := append([]RdmaCqe(nil), q.entries[:maxCqes]...)
	q.entries = q.entries[maxCqes:]
	q.stats.CqesPolled += uint64(maxCqes)
	return out
}

// PollOne pops a single completion, if any.
func (q *RdmaCompletionQueue) PollOne() (RdmaCqe, bool) {
	polled := q.Poll(1)
	if len(polled) == 0 {
		return RdmaCqe{}, false
	}
	return polled[0], true
}

// Arm requests notification on the next completion.
func (q *RdmaCompletionQueue) Arm() {
	q.armed = true
	q.stats.ArmCount++
}

// IsArmed reports whether the CQ is armed.
func (q *RdmaCompletionQueue) IsArmed() bool { return q.armed }

// ClearArm disarms the CQ.
func (q *RdmaCompletionQueue) ClearArm() { q.armed = false }

// Count returns the number of queued completions.
func (q *RdmaCompletionQueue) Count() int { return len(q.entries) }

// IsEmpty reports whether the CQ holds no completions.
func (q *RdmaCompletionQueue) IsEmpty() bool { return len(q.entries) == 0 }

// IsFull reports whether the CQ has reached its configured depth.
func (q *RdmaCompletionQueue) IsFull() bool { return len(q.entries) >= q.cfg.Depth }

// Depth returns the CQ's configured capacity.
func (q *RdmaCompletionQueue) Depth() int { return q.cfg.Depth }

// Stats returns a snapshot of CQ counters.
func (q *RdmaCompletionQueue) Stats() RdmaCqStats { return q.stats }

// Reset empties the CQ and clears its armed state.
func (q *RdmaCompletionQueue) Reset() {
	q.entries = nil
	q.armed = false
}
