package nicdev

// QueueManagerStats aggregates scheduling counters plus the sum of every
// managed queue pair's stats.
type QueueManagerStats struct {
	SchedulerSkips uint64
	Totals         QueuePairStats
}

// QueueManager round-robins ProcessOnce calls across a set of queue pairs,
// weighting each by a per-queue credit that reloads on exhaustion, styled
// after a classic weighted round-robin bus arbiter.
type QueueManager struct {
	queues  []*QueuePair
	index   int
	credit  int
	skips   uint64
}

// NewQueueManager constructs a manager over queues, in scheduling order.
func NewQueueManager(queues []*QueuePair) *QueueManager {
	qm := &QueueManager{queues: queues}
	if len(queues) > 0 {
		qm.credit = queues[0].Weight()
	}
	return qm
}

func (qm *QueueManager) advance() {
	qm.index = (qm.index + 1) % len(qm.queues)
	qm.credit = qm.queues[qm.index].Weight()
}

// ProcessOnce drives at most one full rotation, returning true iff any
// queue performed work.
func (qm *QueueManager) ProcessOnce() bool {
	n := len(qm.queues)
	if n == 0 {
		return false
	}
	for tries := 0; tries < n; tries++ {
		q := qm.queues[qm.index]
		if q.ProcessOnce() {
			qm.credit--
			if qm.credit <= 0 {
				qm.advance()
			}
			return true
		}
		qm.skips++
		qm.advance()
	}
	return false
}

// Stats sums every managed queue pair's stats alongside scheduler counters.
func (qm *QueueManager) Stats() QueueManagerStats {
	out := QueueManagerStats{SchedulerSkips: qm.skips}
	for _, q := range qm.queues {
		s := q.Stats()
		out.Totals.TxPackets += s.TxPackets
		out.Totals.TxBytes += s.TxBytes
		out.Totals.RxPackets += s.RxPackets
		out.Totals.RxBytes += s.RxBytes
		out.Totals.DropsMtuExceeded += s.DropsMtuExceeded
		out.Totals.DropsChecksum += s.DropsChecksum
		out.Totals.DropsNoRxDesc += s.DropsNoRxDesc
		out.Totals.DropsBufferSmall += s.DropsBufferSmall
		out.Totals.TsoSegments += s.TsoSegments
		out.Totals.GsoSegments += s.GsoSegments
	}
	return out
}
