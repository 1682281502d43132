package nicdev

// CompletionEntry is posted to either the TX or RX completion queue of a
// queue pair.
type CompletionEntry struct {
	QueueID           uint16
	DescriptorIndex   uint16
	Status            CompletionCode
	ChecksumOffloaded bool
	ChecksumVerified  bool
	TSOPerformed      bool
	GSOPerformed      bool
	VlanInserted      bool
	VlanStripped      bool
	GROAggregated     bool
	SegmentsProduced  uint16
	VlanTag           uint16
}

// CompletionQueueConfig configures a CompletionQueue.
type CompletionQueueConfig struct {
	RingSize int
	QueueID  uint16
}

// CompletionQueue is a bounded FIFO of completion entries with optional
// doorbell-on-post.
type CompletionQueue struct {
	cfg      CompletionQueueConfig
	doorbell *Doorbell
	entries  []CompletionEntry
	producer uint32
	consumer uint32
	count    uint32
}

// NewCompletionQueue constructs a completion queue of the configured depth.
func NewCompletionQueue(cfg CompletionQueueConfig, doorbell *Doorbell) *CompletionQueue {
	return &CompletionQueue{cfg: cfg, doorbell: doorbell, entries: make([]CompletionEntry, cfg.RingSize)}
}

// IsFull reports whether the queue has no free slots.
func (q *CompletionQueue) IsFull() bool { return int(q.count) == q.cfg.RingSize }

// IsEmpty reports whether the queue has no entries.
func (q *CompletionQueue) IsEmpty() bool { return q.count == 0 }

// Available returns the number of queued entries.
func (q *CompletionQueue) Available() int { return int(q.count) }

// Space returns the number of free slots.
func (q *CompletionQueue) Space() int { return q.cfg.RingSize - int(q.count) }

// PostCompletion appends entry to the queue, ringing the doorbell if configured.
func (q *CompletionQueue) PostCompletion(entry CompletionEntry) bool {
	if q.IsFull() {
		return false
	}
	q.entries[q.producer] = entry
	q.producer = (q.producer + 1) % uint32(q.cfg.RingSize)
	q.count++
	if q.doorbell != nil {
		q.doorbell.Ring(DoorbellPayload{QueueID: q.cfg.QueueID, Data: q.producer})
	}
	return true
}

// PollCompletion pops the oldest entry, if any.
func (q *CompletionQueue) PollCompletion() (CompletionEntry, bool) {
	if q.IsEmpty() {
		return CompletionEntry{}, false
	}
	entry := q.entries[q.consumer]
	q.consumer = (q.consumer + 1) % uint32(q.cfg.RingSize)
	q.count--
	return entry, true
}

// Reset empties the queue.
func (q *CompletionQueue) Reset() {
	q.producer = 0
	q.consumer = 0
	q.count = 0
}
