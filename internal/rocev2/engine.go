package rocev2

import (
	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// RdmaEngineConfig configures the facade and its resource tables.
type RdmaEngineConfig struct {
	MaxPDs      int
	MaxMRs      int
	DefaultCQ   RdmaCqConfig
	Dcqcn       DcqcnConfig
	Reliability ReliabilityConfig
}

// RdmaEngineStats counts top-level packet routing activity. Finer-grained
// counters live on the sub-component Stats() accessors.
type RdmaEngineStats struct {
	PacketsProcessed uint64
	PacketsDropped   uint64
	IcrcErrors       uint64
	UnknownQP        uint64
}

// OutgoingPacket pairs wire bytes with the destination the Packet Router
// should deliver them to.
type OutgoingPacket struct {
	DestIP   [4]byte
	DestPort uint16
	SrcQP    uint32
	Data     []byte
}

// RdmaEngine is the facade tying together resource tables, the packet
// codec, the three operation processors, congestion control, and
// reliability into one RoCEv2 endpoint.
type RdmaEngine struct {
	cfg  RdmaEngineConfig
	mem  *hostmem.Memory
	dma  *dma.Engine
	logger *zap.Logger

	pdTable *PdTable
	mrTable *MemoryRegionTable
	cqs     map[uint32]*RdmaCompletionQueue
	qps     map[uint32]*RdmaQueuePair

	nextCQNumber uint32
	nextQPNumber uint32

	sendRecv    *SendRecvProcessor
	write       *WriteProcessor
	read        *ReadProcessor
	congestion  *CongestionManager
	reliability *ReliabilityManager

	currentTimeUs uint64
	stats         RdmaEngineStats
}

// NewRdmaEngine constructs an engine backed by mem, sharing a single DMA
// engine across every processor.
func NewRdmaEngine(mem *hostmem.Memory, cfg RdmaEngineConfig, logger *zap.Logger) *RdmaEngine {
	logger = obs.OrNop(logger)
	dmaEng := dma.New(mem, logger)
	mrTable := NewMemoryRegionTable(MrTableConfig{MaxMRs: cfg.MaxMRs})
	return &RdmaEngine{
		cfg:         cfg,
		mem:         mem,
		dma:         dmaEng,
		logger:      logger,
		pdTable:     NewPdTable(PdTableConfig{MaxPDs: cfg.MaxPDs}),
		mrTable:     mrTable,
		cqs:         make(map[uint32]*RdmaCompletionQueue),
		qps:         make(map[uint32]*RdmaQueuePair),
		sendRecv:    NewSendRecvProcessor(dmaEng, mrTable, logger),
		write:       NewWriteProcessor(dmaEng, mrTable, logger),
		read:        NewReadProcessor(dmaEng, mrTable, logger),
		congestion:  NewCongestionManager(cfg.Dcqcn),
		reliability: NewReliabilityManager(cfg.Reliability),
		nextCQNumber: 1,
		nextQPNumber: 1,
	}
}

// CreatePD allocates a fresh protection domain.
func (e *RdmaEngine) CreatePD() (uint32, bool) { return e.pdTable.Allocate() }

// DestroyPD releases a protection domain handle.
func (e *RdmaEngine) DestroyPD(handle uint32) bool { return e.pdTable.Deallocate(handle) }

// RegisterMR registers a memory region under pd, returning its lkey.
func (e *RdmaEngine) RegisterMR(pd uint32, va hostmem.Address, length uint64, access AccessFlags) (uint32, bool) {
	if !e.pdTable.IsValid(pd) {
		return 0, false
	}
	return e.mrTable.RegisterMR(pd, va, length, access)
}

// DeregisterMR invalidates the memory region named by lkey.
func (e *RdmaEngine) DeregisterMR(lkey uint32) bool { return e.mrTable.DeregisterMR(lkey) }

// CreateCQ allocates a completion queue of the given depth (0 uses the
// engine's configured default).
func (e *RdmaEngine) CreateCQ(depth int) uint32 {
	cfg := e.cfg.DefaultCQ
	if depth > 0 {
		cfg.Depth = depth
	}
	number := e.nextCQNumber
	e.nextCQNumber++
	e.cqs[number] = NewRdmaCompletionQueue(number, cfg)
	return number
}

// DestroyCQ removes a completion queue.
func (e *RdmaEngine) DestroyCQ(number uint32) bool {
	if _, ok := e.cqs[number]; !ok {
		return false
	}
	delete(e.cqs, number)
	return true
}

// PollCQ pops up to maxCqes completions from the named CQ.
func (e *RdmaEngine) PollCQ(number uint32, maxCqes int) []RdmaCqe {
	cq, ok := e.cqs[number]
	if !ok {
		return nil
	}
	return cq.Poll(maxCqes)
}

// CreateQP allocates a new queue pair in the Reset state.
func (e *RdmaEngine) CreateQP(cfg RdmaQpConfig) uint32 {
	number := e.nextQPNumber
	e.nextQPNumber++
	e.qps[number] = NewRdmaQueuePair(number, cfg)
	return number
}

// DestroyQP removes a queue pair and discards its in-flight processor state.
func (e *RdmaEngine) DestroyQP(number uint32) bool {
	if _, ok := e.qps[number]; !ok {
		return false
	}
	delete(e.qps, number)
	e.sendRecv.ClearRecvState(number)
	e.write.ClearWriteState(number)
	e.read.ClearRequestState(number)
	e.reliability.ClearPending(number)
	e.congestion.ClearFlowState(number)
	return true
}

// ModifyQP applies a state/parameter transition bundle to a queue pair.
func (e *RdmaEngine) ModifyQP(number uint32, params RdmaQpModifyParams) bool {
	qp, ok := e.qps[number]
	if !ok {
		return false
	}
	return qp.Modify(params)
}

// QueryQPState returns a queue pair's current state.
func (e *RdmaEngine) QueryQPState(number uint32) (QpState, bool) {
	qp, ok := e.qps[number]
	if !ok {
		return QpReset, false
	}
	return qp.State(), true
}

// QueuePair returns the queue pair named by number for inspection.
func (e *RdmaEngine) QueuePair(number uint32) (*RdmaQueuePair, bool) {
	qp, ok := e.qps[number]
	return qp, ok
}

// PostSend enqueues a send WQE on a queue pair's send queue.
func (e *RdmaEngine) PostSend(qpNumber uint32, wqe SendWqe) bool {
	qp, ok := e.qps[qpNumber]
	if !ok {
		return false
	}
	return qp.PostSend(wqe)
}

// PostRecv enqueues a recv WQE on a queue pair's receive queue.
func (e *RdmaEngine) PostRecv(qpNumber uint32, wqe RecvWqe) bool {
	qp, ok := e.qps[qpNumber]
	if !ok {
		return false
	}
	return qp.PostRecv(wqe)
}

func (e *RdmaEngine) wrapOutgoing(qp *RdmaQueuePair, data []byte) OutgoingPacket {
	return OutgoingPacket{DestIP: qp.DestIP(), DestPort: qp.DestPort(), SrcQP: qp.QPNumber(), Data: data}
}

func (e *RdmaEngine) postCompletion(qp *RdmaQueuePair, cqe RdmaCqe, isSend bool) {
	cqe.IsSend = isSend
	cqNum := qp.RecvCQNumber()
	if isSend {
		cqNum = qp.SendCQNumber()
	}
	if cq, ok := e.cqs[cqNum]; ok {
		cq.Post(cqe)
	}
}

// ProcessIncomingPacket parses a RoCEv2 packet off the wire, verifies its
// ICRC, and dispatches it to the owning queue pair's processor by opcode
// category. It returns any packets that must go back out —
// ACKs, NAKs, or READ responses.
func (e *RdmaEngine) ProcessIncomingPacket(data []byte) []OutgoingPacket {
	e.stats.PacketsProcessed++
	if !VerifyICRC(data) {
		e.stats.IcrcErrors++
		return nil
	}
	var parser PacketParser
	if !parser.Parse(data) {
		e.stats.PacketsDropped++
		return nil
	}
	bth := parser.BTH()
	qp, ok := e.qps[bth.DestQP]
	if !ok {
		e.stats.UnknownQP++
		return nil
	}

	switch {
	case bth.Opcode == OpCnp:
		e.congestion.HandleCnpReceived(qp.QPNumber(), e.currentTimeUs)
		return nil

	case bth.Opcode == OpRcAck:
		aeth := parser.AETH()
		qp.HandleAck(bth.PSN, aeth.Syndrome)
		if aeth.Syndrome == SyndromeAck {
			ar := e.reliability.ProcessAck(qp.QPNumber(), bth.PSN)
			for _, wrID := range ar.CompletedWrIDs {
				e.postCompletion(qp, RdmaCqe{WrID: wrID, Status: WqeSuccess, QPNumber: qp.QPNumber()}, true)
			}
		} else {
			ar := e.reliability.ProcessNak(qp.QPNumber(), bth.PSN, aeth.Syndrome)
			if ar.ErrorStatus != nil {
				e.postCompletion(qp, RdmaCqe{Status: *ar.ErrorStatus, QPNumber: qp.QPNumber()}, true)
			}
		}
		return nil

	case opcodeIsSend(bth.Opcode):
		result := e.sendRecv.ProcessRecvPacket(qp, &parser)
		return e.finishDatapath(qp, result.Cqe, false, result.NeedsAck, result.AckPSN, result.Syndrome)

	case opcodeIsWrite(bth.Opcode):
		result := e.write.ProcessWritePacket(qp, qp.PDHandle(), &parser)
		return e.finishDatapath(qp, result.Cqe, false, result.NeedsAck, result.AckPSN, result.Syndrome)

	case bth.Opcode == OpRcReadRequest:
		packets, syndrome, ok := e.read.GenerateReadResponse(qp, qp.PDHandle(), &parser)
		if !ok {
			nak := e.sendRecv.GenerateAck(qp, bth.PSN, syndrome, bth.PSN)
			return []OutgoingPacket{e.wrapOutgoing(qp, nak)}
		}
		out := make([]OutgoingPacket, 0, len(packets))
		for _, pkt := range packets {
			out = append(out, e.wrapOutgoing(qp, pkt))
		}
		return out

	case opcodeIsReadResponse(bth.Opcode):
		result := e.read.ProcessReadResponse(qp, &parser)
		if result.Cqe != nil {
			e.postCompletion(qp, *result.Cqe, true)
		}
		return nil

	default:
		e.stats.PacketsDropped++
		return nil
	}
}

func (e *RdmaEngine) finishDatapath(qp *RdmaQueuePair, cqe *RdmaCqe, isSend, needsAck bool, ackPSN uint32, syndrome AethSyndrome) []OutgoingPacket {
	if cqe != nil {
		e.postCompletion(qp, *cqe, isSend)
	}
	if !needsAck {
		return nil
	}
	ack := e.sendRecv.GenerateAck(qp, ackPSN, syndrome, ackPSN)
	return []OutgoingPacket{e.wrapOutgoing(qp, ack)}
}

// GenerateOutgoingPackets drains one posted send WQE from every queue pair
// in the Rts state, fragments it via the matching operation processor, and
// records the operation with the Reliability Manager.
func (e *RdmaEngine) GenerateOutgoingPackets() []OutgoingPacket {
	var out []OutgoingPacket
	for _, qp := range e.qps {
		if !qp.CanSend() {
			continue
		}
		wqe, ok := qp.GetNextSend()
		if !ok {
			continue
		}

		startPSN := qp.SqPSN()
		var packets [][]byte
		switch wqe.Opcode {
		case WqeSend, WqeSendImm:
			packets = e.sendRecv.GenerateSendPackets(qp, wqe)
		case WqeRdmaWrite, WqeRdmaWriteImm:
			packets = e.write.GenerateWritePackets(qp, wqe)
		case WqeRdmaRead:
			if pkt := e.read.GenerateReadRequest(qp, wqe); pkt != nil {
				packets = [][]byte{pkt}
			}
		}
		if len(packets) == 0 {
			continue
		}

		qp.AddPendingOperation(startPSN, wqe, uint32(len(packets)))
		e.reliability.AddPending(qp.QPNumber(), startPSN, AdvancePSN(startPSN, uint32(len(packets)-1)), wqe.WrID, wqe.Opcode, e.currentTimeUs)

		for _, pkt := range packets {
			out = append(out, e.wrapOutgoing(qp, pkt))
		}
	}
	return out
}

// AdvanceTime moves the engine's internal clock forward and fans the
// elapsed time out to every queue pair and the congestion manager. The
// reliability manager is not called here and no retransmissions are
// queued; CheckTimeouts reads the advanced clock.
func (e *RdmaEngine) AdvanceTime(elapsedUs uint64) {
	e.currentTimeUs += elapsedUs
	e.congestion.AdvanceTime(elapsedUs)
	for _, qp := range e.qps {
		qp.AdvanceTime(elapsedUs)
	}
}

// CheckTimeouts has the reliability manager retry or give up on every queue
// pair's timed-out operations, and returns, per queue pair, the start PSNs
// due for retransmission. Queue pairs with none are omitted.
func (e *RdmaEngine) CheckTimeouts() map[uint32][]uint32 {
	out := make(map[uint32][]uint32)
	for number := range e.qps {
		if psns := e.reliability.CheckTimeouts(number, e.currentTimeUs); len(psns) > 0 {
			out[number] = psns
		}
	}
	return out
}

// Stats returns a snapshot of top-level routing counters.
func (e *RdmaEngine) Stats() RdmaEngineStats { return e.stats }

// CongestionStats returns a snapshot of DCQCN counters.
func (e *RdmaEngine) CongestionStats() CongestionStats { return e.congestion.Stats() }

// ReliabilityStats returns a snapshot of reliability counters.
func (e *RdmaEngine) ReliabilityStats() ReliabilityStats { return e.reliability.Stats() }

// SendRecvStats returns a snapshot of SEND/RECV processor counters.
func (e *RdmaEngine) SendRecvStats() SendRecvStats { return e.sendRecv.Stats() }

// WriteStats returns a snapshot of WRITE processor counters.
func (e *RdmaEngine) WriteStats() WriteStats { return e.write.Stats() }

// ReadStats returns a snapshot of READ processor counters.
func (e *RdmaEngine) ReadStats() ReadStats { return e.read.Stats() }

// DMAEngine returns the DMA engine shared by every processor, so callers
// can perform raw host-memory staging outside the WQE/SGL path.
func (e *RdmaEngine) DMAEngine() *dma.Engine { return e.dma }
