package nicdev

import (
	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// QueuePairConfig configures an Ethernet QueuePair.
type QueuePairConfig struct {
	QueueID            uint16
	TxCapacity         int
	RxCapacity         int
	TxCQDepth          int
	RxCQDepth          int
	Weight             int
	MaxMTU             int
	EnableTxInterrupts bool
	EnableRxInterrupts bool
}

// QueuePairStats accumulates per-queue counters surfaced to the Queue
// Manager's aggregate and to metrics.
type QueuePairStats struct {
	TxPackets         uint64
	TxBytes           uint64
	RxPackets         uint64
	RxBytes           uint64
	DropsMtuExceeded  uint64
	DropsChecksum     uint64
	DropsNoRxDesc     uint64
	DropsBufferSmall  uint64
	TsoSegments       uint64
	GsoSegments       uint64
}

// QueuePair owns one TX/RX descriptor ring pair, their completion queues,
// and drives segmentation between them — the hardest single component here.
// It generalizes the ring-buffer RX path pattern used elsewhere in this package.
type QueuePair struct {
	cfg        QueuePairConfig
	dmaEng     *dma.Engine
	dispatcher *InterruptDispatcher
	txQueue    *TypedRing[TxDescriptor]
	rxQueue    *TypedRing[RxDescriptor]
	txCQ       *CompletionQueue
	rxCQ       *CompletionQueue
	stats      QueuePairStats
	logger     *zap.Logger
}

// NewQueuePair constructs a queue pair backed by dmaEng, optionally wired to
// an interrupt dispatcher.
func NewQueuePair(cfg QueuePairConfig, dmaEng *dma.Engine, dispatcher *InterruptDispatcher, logger *zap.Logger) *QueuePair {
	return &QueuePair{
		cfg:        cfg,
		dmaEng:     dmaEng,
		dispatcher: dispatcher,
		txQueue:    NewTypedRing[TxDescriptor](cfg.TxCapacity),
		rxQueue:    NewTypedRing[RxDescriptor](cfg.RxCapacity),
		txCQ:       NewCompletionQueue(CompletionQueueConfig{RingSize: cfg.TxCQDepth, QueueID: cfg.QueueID}, nil),
		rxCQ:       NewCompletionQueue(CompletionQueueConfig{RingSize: cfg.RxCQDepth, QueueID: cfg.QueueID}, nil),
		logger:     obs.OrNop(logger),
	}
}

// QueueID returns the configured queue identifier.
func (qp *QueuePair) QueueID() uint16 { return qp.cfg.QueueID }

// Weight returns the scheduling weight used by the Queue Manager.
func (qp *QueuePair) Weight() int { return qp.cfg.Weight }

// Stats returns a snapshot of the queue pair's counters.
func (qp *QueuePair) Stats() QueuePairStats { return qp.stats }

// PostTxDescriptor enqueues a descriptor for transmission.
func (qp *QueuePair) PostTxDescriptor(td TxDescriptor) bool { return qp.txQueue.Push(td) }

// PostRxDescriptor makes a receive buffer available.
func (qp *QueuePair) PostRxDescriptor(rd RxDescriptor) bool { return qp.rxQueue.Push(rd) }

// TxQueueEmpty reports whether the queue has no pending TX descriptors.
func (qp *QueuePair) TxQueueEmpty() bool { return qp.txQueue.IsEmpty() }

// RxQueueEmpty reports whether the queue has no pending RX descriptors.
func (qp *QueuePair) RxQueueEmpty() bool { return qp.rxQueue.IsEmpty() }

// PollTxCompletion pops the oldest TX completion, if any.
func (qp *QueuePair) PollTxCompletion() (CompletionEntry, bool) { return qp.txCQ.PollCompletion() }

// PollRxCompletion pops the oldest RX completion, if any.
func (qp *QueuePair) PollRxCompletion() (CompletionEntry, bool) { return qp.rxCQ.PollCompletion() }

func ceilDiv(a, b int) int {
	if a <= 0 || b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// planSegments applies the segmentation decision tree: TSO, then GSO, then
// invalid-MSS handling, then no-segmentation passthrough.
func planSegments(payload []byte, td TxDescriptor) (segs [][]byte, tso, gso bool, code CompletionCode) {
	length := len(payload)
	hdrLen := int(td.HeaderLength)
	mss := int(td.MSS)
	validMSS := mss >= MinMSS && mss <= MaxMSS && hdrLen <= length

	switch {
	case td.TSOEnabled() && validMSS:
		s, c := segmentTSO(payload, hdrLen, mss)
		return s, c == CompletionSuccess, false, c
	case td.GSOEnabled() && validMSS:
		s, c := segmentGSO(payload, hdrLen, mss)
		return s, false, c == CompletionSuccess, c
	case td.TSOEnabled():
		return nil, false, false, CompletionInvalidMss
	case td.GSOEnabled():
		return [][]byte{payload}, false, false, CompletionSuccess
	default:
		return [][]byte{payload}, false, false, CompletionSuccess
	}
}

// segmentTSO implements the TSO path: headers are not replicated, so the
// first segment carries header_length+mss bytes and later segments carry
// pure mss-sized payload chunks.
func segmentTSO(payload []byte, hdrLen, mss int) ([][]byte, CompletionCode) {
	length := len(payload)
	count := ceilDiv(length-hdrLen, mss)
	if count < 1 {
		count = 1
	}
	if count > MaxTSOSegments {
		return nil, CompletionTooManySegments
	}
	segs := make([][]byte, count)
	for i := 0; i < count; i++ {
		var start, end int
		if i == 0 {
			start, end = 0, hdrLen+mss
		} else {
			start, end = hdrLen+i*mss, hdrLen+(i+1)*mss
		}
		if end > length {
			end = length
		}
		if start > length {
			start = length
		}
		segs[i] = payload[start:end]
	}
	return segs, CompletionSuccess
}

// segmentGSO implements the GSO path: the first header_length bytes are
// replicated in front of every mss-sized data chunk.
func segmentGSO(payload []byte, hdrLen, mss int) ([][]byte, CompletionCode) {
	length := len(payload)
	if mss == 0 {
		return [][]byte{payload}, CompletionSuccess
	}
	header := payload[:hdrLen]
	count := ceilDiv(length-hdrLen, mss)
	if count < 1 {
		count = 1
	}
	if count > MaxTSOSegments {
		return nil, CompletionTooManySegments
	}
	segs := make([][]byte, count)
	for i := 0; i < count; i++ {
		start := hdrLen + i*mss
		end := start + mss
		if start > length {
			start = length
		}
		if end > length {
			end = length
		}
		seg := make([]byte, 0, len(header)+end-start)
		seg = append(seg, header...)
		seg = append(seg, payload[start:end]...)
		segs[i] = seg
	}
	return segs, CompletionSuccess
}

func (qp *QueuePair) fireTxInterrupt() {
	if qp.cfg.EnableTxInterrupts && qp.dispatcher != nil {
		qp.dispatcher.OnCompletion(qp.cfg.QueueID)
	}
}

func (qp *QueuePair) fireRxInterrupt() {
	if qp.cfg.EnableRxInterrupts && qp.dispatcher != nil {
		qp.dispatcher.OnCompletion(qp.cfg.QueueID)
	}
}

// processSegment delivers one produced segment to the next available RX
// descriptor, handling checksum, VLAN, and buffer-size rules.
func (qp *QueuePair) processSegment(td TxDescriptor, seg []byte) {
	rd, ok := qp.rxQueue.Pop()
	if !ok {
		qp.stats.DropsNoRxDesc++
		return
	}

	checksumOffloaded := false
	checksumVerified := false
	if td.Checksum != ChecksumNone {
		if td.ChecksumOffload() {
			checksumOffloaded = true
			checksumVerified = rd.ChecksumOffload()
		} else if !VerifyChecksum(seg, td.ChecksumValue) {
			qp.stats.DropsChecksum++
			qp.rxCQ.PostCompletion(CompletionEntry{
				QueueID:         qp.cfg.QueueID,
				DescriptorIndex: rd.DescriptorIdx,
				Status:          CompletionChecksumError,
			})
			qp.fireRxInterrupt()
			return
		}
	}

	vlanInserted := td.VlanInsert()
	vlanStripped := vlanInserted && rd.VlanStrip()
	effLen := len(seg)
	if vlanInserted && !vlanStripped {
		effLen += VlanHeaderSize
	}
	if effLen > int(rd.BufferLength) {
		qp.stats.DropsBufferSmall++
		qp.rxCQ.PostCompletion(CompletionEntry{
			QueueID:         qp.cfg.QueueID,
			DescriptorIndex: rd.DescriptorIdx,
			Status:          CompletionBufferTooSmall,
		})
		qp.fireRxInterrupt()
		return
	}

	if res := qp.dmaEng.Write(rd.BufferAddress, seg); !res.Ok() {
		qp.rxCQ.PostCompletion(CompletionEntry{
			QueueID:         qp.cfg.QueueID,
			DescriptorIndex: rd.DescriptorIdx,
			Status:          CompletionFault,
		})
		qp.fireRxInterrupt()
		return
	}

	qp.stats.RxPackets++
	qp.stats.RxBytes += uint64(len(seg))
	qp.rxCQ.PostCompletion(CompletionEntry{
		QueueID:           qp.cfg.QueueID,
		DescriptorIndex:   rd.DescriptorIdx,
		Status:            CompletionSuccess,
		ChecksumOffloaded: checksumOffloaded,
		ChecksumVerified:  checksumVerified,
		VlanInserted:      vlanInserted,
		VlanStripped:      vlanStripped,
		VlanTag:           td.VlanTag,
	})
	qp.fireRxInterrupt()
}

// ProcessOnce pops one TX descriptor, segments and delivers it, and posts
// TX/RX completions. Returns true iff a TX descriptor was processed.
func (qp *QueuePair) ProcessOnce() bool {
	td, ok := qp.txQueue.Pop()
	if !ok {
		return false
	}

	payload := make([]byte, td.Length)
	if res := qp.dmaEng.Read(td.BufferAddress, payload); !res.Ok() {
		qp.txCQ.PostCompletion(CompletionEntry{
			QueueID:         qp.cfg.QueueID,
			DescriptorIndex: td.DescriptorIdx,
			Status:          CompletionFault,
		})
		qp.fireTxInterrupt()
		return true
	}

	if len(payload) > qp.cfg.MaxMTU {
		qp.stats.DropsMtuExceeded++
		qp.txCQ.PostCompletion(CompletionEntry{
			QueueID:         qp.cfg.QueueID,
			DescriptorIndex: td.DescriptorIdx,
			Status:          CompletionMtuExceeded,
		})
		qp.fireTxInterrupt()
		return true
	}

	segs, tso, gso, code := planSegments(payload, td)
	if code != CompletionSuccess {
		qp.txCQ.PostCompletion(CompletionEntry{
			QueueID:         qp.cfg.QueueID,
			DescriptorIndex: td.DescriptorIdx,
			Status:          code,
		})
		qp.fireTxInterrupt()
		return true
	}

	for _, seg := range segs {
		qp.processSegment(td, seg)
	}
	if tso {
		qp.stats.TsoSegments += uint64(len(segs))
	}
	if gso {
		qp.stats.GsoSegments += uint64(len(segs))
	}

	qp.stats.TxPackets++
	qp.stats.TxBytes += uint64(len(payload))
	qp.txCQ.PostCompletion(CompletionEntry{
		QueueID:          qp.cfg.QueueID,
		DescriptorIndex:  td.DescriptorIdx,
		Status:           CompletionSuccess,
		TSOPerformed:     tso,
		GSOPerformed:     gso,
		SegmentsProduced: uint16(len(segs)),
	})
	qp.fireTxInterrupt()
	return true
}
