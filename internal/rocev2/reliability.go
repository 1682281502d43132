package rocev2

// ReliabilityConfig tunes retry counts and timeout backoff.
type ReliabilityConfig struct {
	MaxRetries      uint32
	RnrRetryCount   uint32
	AckTimeoutUs    uint64
	RnrTimeoutUs    uint64
	TimeoutExponent uint8
}

// DefaultReliabilityConfig returns a reasonable out-of-the-box retry tuning.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		MaxRetries:      7,
		RnrRetryCount:   7,
		AckTimeoutUs:    4096,
		RnrTimeoutUs:    655360,
		TimeoutExponent: 14,
	}
}

// PendingAck tracks one operation awaiting acknowledgment.
type PendingAck struct {
	StartPSN    uint32
	EndPSN      uint32
	SendTimeUs  uint64
	WrID        uint64
	Opcode      WqeOpcode
	RetryCount  uint32
}

// AckResult is the outcome of processing an ACK or NAK.
type AckResult struct {
	Success          bool
	NeedsRetransmit  bool
	CompletedWrIDs   []uint64
	ErrorStatus      *WqeStatus
}

// ReliabilityStats counts ACK/NAK and retry activity.
type ReliabilityStats struct {
	AcksReceived    uint64
	NaksReceived    uint64
	Retransmissions uint64
	Timeouts        uint64
	RnrRetries      uint64
	RetryExceeded   uint64
}

// ReliabilityManager tracks pending operations per QP and processes ACK/
// NAK/timeout events, independent of the QP's own pending
// queue so the engine can drive retransmission without reaching into QP
// internals.
type ReliabilityManager struct {
	cfg     ReliabilityConfig
	stats   ReliabilityStats
	pending map[uint32][]PendingAck
}

// NewReliabilityManager constructs a manager with the given configuration.
func NewReliabilityManager(cfg ReliabilityConfig) *ReliabilityManager {
	return &ReliabilityManager{cfg: cfg, pending: make(map[uint32][]PendingAck)}
}

// AddPending records a sent operation awaiting acknowledgment.
func (m *ReliabilityManager) AddPending(qp, startPSN, endPSN uint32, wrID uint64, opcode WqeOpcode, sendTimeUs uint64) {
	m.pending[qp] = append(m.pending[qp], PendingAck{
		StartPSN:   startPSN,
		EndPSN:     endPSN,
		SendTimeUs: sendTimeUs,
		WrID:       wrID,
		Opcode:     opcode,
		RetryCount: 0,
	})
}

func (m *ReliabilityManager) completeUpTo(qp uint32, ackPSN uint32) []uint64 {
	ops := m.pending[qp]
	var completed []uint64
	i := 0
	for i < len(ops) && psnLE(ops[i].EndPSN, ackPSN) {
		completed = append(completed, ops[i].WrID)
		i++
	}
	m.pending[qp] = ops[i:]
	return completed
}

// ProcessAck pops every pending op whose end PSN is covered by ackPSN.
func (m *ReliabilityManager) ProcessAck(qp uint32, ackPSN uint32) AckResult {
	m.stats.AcksReceived++
	completed := m.completeUpTo(qp, ackPSN)
	return AckResult{Success: true, CompletedWrIDs: completed}
}

// ProcessNak reacts to a NAK syndrome for qp.
func (m *ReliabilityManager) ProcessNak(qp uint32, nakPSN uint32, syndrome AethSyndrome) AckResult {
	m.stats.NaksReceived++
	switch syndrome {
	case SyndromeRnrNak:
		m.stats.RnrRetries++
		ops := m.pending[qp]
		if len(ops) == 0 {
			return AckResult{Success: false}
		}
		if ops[0].RetryCount < m.cfg.RnrRetryCount {
			ops[0].RetryCount++
			return AckResult{Success: true, NeedsRetransmit: true}
		}
		m.stats.RetryExceeded++
		status := WqeRnrRetryExceededError
		return AckResult{Success: false, ErrorStatus: &status}
	case SyndromePsnSeqError:
		m.stats.Retransmissions++
		return AckResult{Success: true, NeedsRetransmit: true}
	case SyndromeInvalidRequest:
		status := WqeRemoteInvalidRequestError
		return AckResult{Success: false, ErrorStatus: &status}
	case SyndromeRemoteAccessError:
		status := WqeRemoteAccessError
		return AckResult{Success: false, ErrorStatus: &status}
	default:
		status := WqeRemoteOperationError
		return AckResult{Success: false, ErrorStatus: &status}
	}
}

func (m *ReliabilityManager) timeoutUs(retryCount uint32) uint64 {
	shift := uint32(m.cfg.TimeoutExponent) + retryCount
	if shift > 31 {
		shift = 31
	}
	return 4 * (uint64(1) << shift)
}

// CheckTimeouts returns the PSNs of pending ops whose timeout has elapsed,
// retrying (decrementing budget) or recording RetryExceeded.
func (m *ReliabilityManager) CheckTimeouts(qp uint32, nowUs uint64) []uint32 {
	ops := m.pending[qp]
	var retransmit []uint32
	kept := ops[:0]
	for i := range ops {
		op := &ops[i]
		timeout := m.timeoutUs(op.RetryCount)
		if nowUs-op.SendTimeUs < timeout {
			kept = append(kept, *op)
			continue
		}
		if op.RetryCount >= m.cfg.MaxRetries {
			m.stats.RetryExceeded++
			continue
		}
		op.RetryCount++
		op.SendTimeUs = nowUs
		retransmit = append(retransmit, op.StartPSN)
		m.stats.Timeouts++
		kept = append(kept, *op)
	}
	m.pending[qp] = kept
	return retransmit
}

// Stats returns a snapshot of reliability counters.
func (m *ReliabilityManager) Stats() ReliabilityStats { return m.stats }

// ClearPending discards pending state for qp.
func (m *ReliabilityManager) ClearPending(qp uint32) { delete(m.pending, qp) }

// Reset clears every QP's pending state and counters.
func (m *ReliabilityManager) Reset() {
	m.pending = make(map[uint32][]PendingAck)
	m.stats = ReliabilityStats{}
}
