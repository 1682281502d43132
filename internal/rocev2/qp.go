package rocev2

// RdmaQpConfig configures an RdmaQueuePair at creation time.
type RdmaQpConfig struct {
	Type           QpType
	SendQueueDepth int
	RecvQueueDepth int
	MaxSendSGE     uint32
	MaxRecvSGE     uint32
	PDHandle       uint32
	SendCQNumber   uint32
	RecvCQNumber   uint32
	MaxInlineData  uint32
	RetryCount     uint32
	RnrRetryCount  uint32
	Timeout        uint32
	MinRnrTimer    uint32
}

// RdmaQpModifyParams is an atomic bundle of optional QP transition fields;
// only the present fields are applied.
type RdmaQpModifyParams struct {
	TargetState  *QpState
	DestQPNumber *uint32
	DestIP       *[4]byte
	DestPort     *uint16
	SqPSN        *uint32
	RqPSN        *uint32
	PathMTU      *uint8
}

// PendingOperation tracks one outstanding send WQE awaiting acknowledgment.
type PendingOperation struct {
	Wqe         SendWqe
	PSN         uint32
	NumPackets  uint32
	TimestampUs uint64
	RetryCount  uint8
}

// RdmaQpStats counts queue pair activity.
type RdmaQpStats struct {
	SendWqesPosted  uint64
	RecvWqesPosted  uint64
	SendCompletions uint64
	RecvCompletions uint64
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Retransmits     uint64
	RnrNaksReceived uint64
	SequenceErrors  uint64
	LocalErrors     uint64
	RemoteErrors    uint64
}

// RdmaQueuePair models one queue pair's full state machine:
// send/recv work queues, PSN tracking, and reliability bookkeeping for one
// Reliable Connection.
type RdmaQueuePair struct {
	number   uint32
	cfg      RdmaQpConfig
	state    QpState
	destQP   uint32
	destIP   [4]byte
	destPort uint16
	pathMTU  uint8

	sqPSN        uint32
	rqPSN        uint32
	lastAckedPSN uint32

	sendQueue []SendWqe
	recvQueue []RecvWqe
	pending   []PendingOperation

	currentTimeUs uint64
	stats         RdmaQpStats
}

// NewRdmaQueuePair constructs a QP in the Reset state.
func NewRdmaQueuePair(number uint32, cfg RdmaQpConfig) *RdmaQueuePair {
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 14
	}
	return &RdmaQueuePair{number: number, cfg: cfg, state: QpReset, pathMTU: 3, destPort: RoceUDPPort}
}

// QPNumber returns the QP's allocation handle.
func (qp *RdmaQueuePair) QPNumber() uint32 { return qp.number }

// State returns the current QP state.
func (qp *RdmaQueuePair) State() QpState { return qp.state }

// Type returns the configured transport type.
func (qp *RdmaQueuePair) Type() QpType { return qp.cfg.Type }

// PDHandle returns the QP's protection domain.
func (qp *RdmaQueuePair) PDHandle() uint32 { return qp.cfg.PDHandle }

// SendCQNumber returns the associated send completion queue number.
func (qp *RdmaQueuePair) SendCQNumber() uint32 { return qp.cfg.SendCQNumber }

// RecvCQNumber returns the associated receive completion queue number.
func (qp *RdmaQueuePair) RecvCQNumber() uint32 { return qp.cfg.RecvCQNumber }

// DestQPNumber returns the peer QP number set by modify.
func (qp *RdmaQueuePair) DestQPNumber() uint32 { return qp.destQP }

// DestIP returns the peer IP address set by modify.
func (qp *RdmaQueuePair) DestIP() [4]byte { return qp.destIP }

// DestPort returns the peer UDP port set by modify.
func (qp *RdmaQueuePair) DestPort() uint16 { return qp.destPort }

// SqPSN returns the next PSN to be sent.
func (qp *RdmaQueuePair) SqPSN() uint32 { return qp.sqPSN }

// RqPSN returns the next PSN expected to be received.
func (qp *RdmaQueuePair) RqPSN() uint32 { return qp.rqPSN }

// PendingCount returns the number of unacknowledged operations.
func (qp *RdmaQueuePair) PendingCount() int { return len(qp.pending) }

// SendQueueSize returns the number of unconsumed send WQEs.
func (qp *RdmaQueuePair) SendQueueSize() int { return len(qp.sendQueue) }

// RecvQueueSize returns the number of unconsumed recv WQEs.
func (qp *RdmaQueuePair) RecvQueueSize() int { return len(qp.recvQueue) }

// Stats returns a snapshot of QP counters.
func (qp *RdmaQueuePair) Stats() RdmaQpStats { return qp.stats }

// MtuBytes maps the path-MTU enum (1..5) to a byte count.
func (qp *RdmaQueuePair) MtuBytes() uint32 {
	switch qp.pathMTU {
	case 1:
		return 256
	case 2:
		return 512
	case 3:
		return 1024
	case 4:
		return 2048
	case 5:
		return 4096
	default:
		return 1024
	}
}

func isValidTransition(from, to QpState) bool {
	if to == QpReset {
		return true
	}
	switch from {
	case QpReset:
		return to == QpInit
	case QpInit:
		return to == QpRtr
	case QpRtr:
		return to == QpRts
	case QpRts:
		return to == QpSqd || to == QpSqErr || to == QpError
	default:
		return false
	}
}

// Modify applies an atomic bundle of state/parameter changes. An illegal
// state transition leaves the QP unchanged and returns false.
func (qp *RdmaQueuePair) Modify(params RdmaQpModifyParams) bool {
	if params.TargetState != nil {
		if !isValidTransition(qp.state, *params.TargetState) {
			qp.stats.LocalErrors++
			return false
		}
	}
	if params.TargetState != nil {
		if *params.TargetState == QpReset {
			qp.reset()
		}
		qp.state = *params.TargetState
	}
	if params.DestQPNumber != nil {
		qp.destQP = *params.DestQPNumber
	}
	if params.DestIP != nil {
		qp.destIP = *params.DestIP
	}
	if params.DestPort != nil {
		qp.destPort = *params.DestPort
	}
	if params.SqPSN != nil {
		qp.sqPSN = *params.SqPSN & MaxPSN
	}
	if params.RqPSN != nil {
		qp.rqPSN = *params.RqPSN & MaxPSN
	}
	if params.PathMTU != nil {
		qp.pathMTU = *params.PathMTU
	}
	return true
}

// CanPostSend reports whether the QP state accepts PostSend.
func (qp *RdmaQueuePair) CanPostSend() bool {
	return qp.state == QpInit || qp.state == QpRtr || qp.state == QpRts
}

// CanPostRecv reports whether the QP state accepts PostRecv.
func (qp *RdmaQueuePair) CanPostRecv() bool {
	return qp.state == QpInit || qp.state == QpRtr || qp.state == QpRts
}

// CanSend reports whether the QP may execute send-queue entries.
func (qp *RdmaQueuePair) CanSend() bool { return qp.state == QpRts }

// CanReceive reports whether the QP may accept incoming data packets.
func (qp *RdmaQueuePair) CanReceive() bool { return qp.state == QpRtr || qp.state == QpRts }

// PostSend enqueues a send WQE.
func (qp *RdmaQueuePair) PostSend(wqe SendWqe) bool {
	if !qp.CanPostSend() {
		return false
	}
	qp.sendQueue = append(qp.sendQueue, wqe)
	qp.stats.SendWqesPosted++
	return true
}

// PostRecv enqueues a recv WQE.
func (qp *RdmaQueuePair) PostRecv(wqe RecvWqe) bool {
	if !qp.CanPostRecv() {
		return false
	}
	qp.recvQueue = append(qp.recvQueue, wqe)
	qp.stats.RecvWqesPosted++
	return true
}

// GetNextSend pops the oldest unconsumed send WQE.
func (qp *RdmaQueuePair) GetNextSend() (SendWqe, bool) {
	if len(qp.sendQueue) == 0 {
		return SendWqe{}, false
	}
	wqe := qp.sendQueue[0]
	qp.sendQueue = qp.sendQueue[1:]
	return wqe, true
}

// ConsumeRecv pops the oldest unconsumed recv WQE.
func (qp *RdmaQueuePair) ConsumeRecv() (RecvWqe, bool) {
	if len(qp.recvQueue) == 0 {
		return RecvWqe{}, false
	}
	wqe := qp.recvQueue[0]
	qp.recvQueue = qp.recvQueue[1:]
	return wqe, true
}

// RecordPacketSent updates send byte/packet counters.
func (qp *RdmaQueuePair) RecordPacketSent(bytes int) {
	qp.stats.PacketsSent++
	qp.stats.BytesSent += uint64(bytes)
}

// RecordPacketReceived updates receive byte/packet counters.
func (qp *RdmaQueuePair) RecordPacketReceived(bytes int) {
	qp.stats.PacketsReceived++
	qp.stats.BytesReceived += uint64(bytes)
}

// NextSendPSN returns the current send PSN and advances it with wraparound.
func (qp *RdmaQueuePair) NextSendPSN() uint32 {
	psn := qp.sqPSN
	qp.sqPSN = AdvancePSN(qp.sqPSN, 1)
	return psn
}

// LastSentPSN returns the most recently issued send PSN.
func (qp *RdmaQueuePair) LastSentPSN() uint32 {
	if qp.sqPSN == 0 {
		return MaxPSN
	}
	return qp.sqPSN - 1
}

// AdvanceRecvPSN advances the expected receive PSN with wraparound.
func (qp *RdmaQueuePair) AdvanceRecvPSN() {
	qp.rqPSN = AdvancePSN(qp.rqPSN, 1)
}

// AddPendingOperation records a sent WQE for reliability tracking. startPSN
// is the PSN of the operation's first packet.
func (qp *RdmaQueuePair) AddPendingOperation(startPSN uint32, wqe SendWqe, numPackets uint32) {
	qp.pending = append(qp.pending, PendingOperation{
		Wqe:         wqe,
		PSN:         startPSN,
		NumPackets:  numPackets,
		TimestampUs: qp.currentTimeUs,
		RetryCount:  uint8(qp.cfg.RetryCount),
	})
}

// HandleAck processes an ACK or NAK syndrome for acked_psn.
func (qp *RdmaQueuePair) HandleAck(ackedPSN uint32, syndrome AethSyndrome) {
	switch syndrome {
	case SyndromeAck:
		for len(qp.pending) > 0 {
			head := qp.pending[0]
			lastPSN := AdvancePSN(head.PSN, head.NumPackets-1)
			if !psnLE(lastPSN, ackedPSN) {
				break
			}
			qp.pending = qp.pending[1:]
			qp.stats.SendCompletions++
		}
	case SyndromeRnrNak:
		qp.stats.RnrNaksReceived++
	case SyndromePsnSeqError:
		qp.stats.SequenceErrors++
		qp.stats.Retransmits++
	default:
		qp.stats.RemoteErrors++
		qp.state = QpError
	}
}

// psnLE reports a <= b under 24-bit sequence-number comparison: advancing
// from a to b by less than half the PSN space counts as "at or before".
func psnLE(a, b uint32) bool {
	return ((b - a) & MaxPSN) <= MaxPSN/2
}

// CheckTimeouts retries or fails pending operations whose send time is at
// least timeoutUs old, returning the WQEs that should be retransmitted.
func (qp *RdmaQueuePair) CheckTimeouts(nowUs, timeoutUs uint64) []SendWqe {
	var retransmit []SendWqe
	for i := range qp.pending {
		op := &qp.pending[i]
		if nowUs-op.TimestampUs < timeoutUs {
			continue
		}
		if op.RetryCount == 0 {
			qp.state = QpError
			return retransmit
		}
		op.RetryCount--
		op.TimestampUs = nowUs
		retransmit = append(retransmit, op.Wqe)
		qp.stats.Retransmits++
	}
	return retransmit
}

// AdvanceTime moves the QP's internal clock forward.
func (qp *RdmaQueuePair) AdvanceTime(elapsedUs uint64) { qp.currentTimeUs += elapsedUs }

func (qp *RdmaQueuePair) reset() {
	qp.destQP = 0
	qp.destIP = [4]byte{}
	qp.destPort = RoceUDPPort
	qp.pathMTU = 3
	qp.sqPSN = 0
	qp.rqPSN = 0
	qp.lastAckedPSN = 0
	qp.sendQueue = nil
	qp.recvQueue = nil
	qp.pending = nil
}

// Reset returns the QP to its initial Reset state.
func (qp *RdmaQueuePair) Reset() {
	qp.reset()
	qp.state = QpReset
	qp.stats = RdmaQpStats{}
}
