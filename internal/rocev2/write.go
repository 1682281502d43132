package rocev2

import (
	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// WriteStats counts RDMA WRITE processor activity.
type WriteStats struct {
	WritesStarted        uint64
	WritesCompleted      uint64
	WritePacketsGenerated uint64
	WritePacketsProcessed uint64
	RemoteAccessErrors   uint64
	SequenceErrors       uint64
	BytesWritten         uint64
}

// writeMessageState tracks a multi-packet RDMA WRITE in progress at the
// responder: the remote address advances packet to packet.
type writeMessageState struct {
	rkey         uint32
	currentAddr  hostmem.Address
	bytesWritten uint32
}

// WriteResult is the outcome of processing one inbound WRITE-family packet.
type WriteResult struct {
	Success           bool
	NeedsAck          bool
	IsMessageComplete bool
	AckPSN            uint32
	Syndrome          AethSyndrome
	Cqe               *RdmaCqe
}

// WriteProcessor implements RDMA WRITE packet generation and reception,
// over Host Memory.
type WriteProcessor struct {
	dmaEng  *dma.Engine
	mrTable *MemoryRegionTable
	logger  *zap.Logger
	stats   WriteStats
	writes  map[uint32]*writeMessageState
}

// NewWriteProcessor constructs a processor over the given DMA engine and
// memory region table.
func NewWriteProcessor(dmaEng *dma.Engine, mrTable *MemoryRegionTable, logger *zap.Logger) *WriteProcessor {
	return &WriteProcessor{
		dmaEng:  dmaEng,
		mrTable: mrTable,
		logger:  obs.OrNop(logger),
		writes:  make(map[uint32]*writeMessageState),
	}
}

func getWriteOpcode(isFirst, isLast, hasImm bool) RdmaOpcode {
	switch {
	case isFirst && isLast:
		if hasImm {
			return OpRcWriteOnlyImm
		}
		return OpRcWriteOnly
	case isFirst:
		return OpRcWriteFirst
	case isLast:
		if hasImm {
			return OpRcWriteLastImm
		}
		return OpRcWriteLast
	default:
		return OpRcWriteMiddle
	}
}

// GenerateWritePackets fragments wqe across qp's path MTU, carrying the
// remote address/rkey/total length in RETH on the FIRST (or ONLY) packet.
func (p *WriteProcessor) GenerateWritePackets(qp *RdmaQueuePair, wqe SendWqe) [][]byte {
	total := wqe.TotalLength
	if total == 0 {
		total = SGLLength(wqe.SGL)
	}
	payload, ok := readSGL(p.dmaEng, p.mrTable, wqe.SGL, wqe.LocalLkey)
	if !ok {
		return nil
	}
	count := calculatePacketCount(total, qp.MtuBytes())
	p.stats.WritesStarted++

	packets := make([][]byte, 0, count)
	mtu := int(qp.MtuBytes())
	offset := 0
	for i := 0; i < count; i++ {
		isFirst := i == 0
		isLast := i == count-1
		end := offset + mtu
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]
		opcode := getWriteOpcode(isFirst, isLast, wqe.HasImmediate)
		psn := qp.NextSendPSN()
		b := NewPacketBuilder().
			SetOpcode(opcode).
			SetDestQP(qp.DestQPNumber()).
			SetPSN(psn).
			SetAckRequest(isLast).
			SetPayload(chunk)
		if isFirst {
			b.SetRemoteAddress(uint64(wqe.RemoteAddress)).SetRkey(wqe.Rkey).SetDmaLength(total)
		}
		if isLast && wqe.HasImmediate {
			b.SetImmediate(wqe.ImmediateData)
		}
		packets = append(packets, b.Build())
		qp.RecordPacketSent(len(chunk))
		p.stats.BytesWritten += uint64(len(chunk))
		offset = end
	}
	p.stats.WritePacketsGenerated += uint64(len(packets))
	return packets
}

// ProcessWritePacket writes one inbound WRITE-family packet's payload
// directly into Host Memory at the remote address conveyed by RETH,
// validated against pd's remote-write permission.
func (p *WriteProcessor) ProcessWritePacket(qp *RdmaQueuePair, pd uint32, parser *PacketParser) WriteResult {
	p.stats.WritePacketsProcessed++
	bth := parser.BTH()

	if !qp.CanReceive() {
		return WriteResult{Syndrome: SyndromeInvalidRequest}
	}
	if bth.PSN != qp.RqPSN() {
		p.stats.SequenceErrors++
		return WriteResult{NeedsAck: true, AckPSN: qp.RqPSN(), Syndrome: SyndromePsnSeqError}
	}

	state := p.writes[qp.QPNumber()]
	if opcodeIsFirst(bth.Opcode) || opcodeIsOnly(bth.Opcode) {
		reth := parser.RETH()
		va := hostmem.Address(reth.VirtualAddress)
		if !p.mrTable.ValidateRkey(reth.Rkey, pd, va, uint64(reth.DmaLength), true) {
			p.stats.RemoteAccessErrors++
			return WriteResult{NeedsAck: true, AckPSN: bth.PSN, Syndrome: SyndromeRemoteAccessError}
		}
		state = &writeMessageState{rkey: reth.Rkey, currentAddr: va}
		p.writes[qp.QPNumber()] = state
	}
	if state == nil {
		return WriteResult{Syndrome: SyndromeInvalidRequest}
	}

	payload := parser.Payload()
	if res := p.dmaEng.Write(state.currentAddr, payload); !res.Ok() {
		p.stats.RemoteAccessErrors++
		return WriteResult{NeedsAck: true, AckPSN: bth.PSN, Syndrome: SyndromeRemoteAccessError}
	}
	state.currentAddr += hostmem.Address(len(payload))
	state.bytesWritten += uint32(len(payload))
	qp.RecordPacketReceived(len(payload))

	result := WriteResult{Success: true, NeedsAck: true, AckPSN: bth.PSN}
	qp.AdvanceRecvPSN()

	if opcodeIsLast(bth.Opcode) || opcodeIsOnly(bth.Opcode) {
		p.stats.WritesCompleted++
		if parser.HasImmediate() {
			wqe, has := qp.ConsumeRecv()
			cqe := RdmaCqe{
				Status:         WqeSuccess,
				Opcode:         WqeRdmaWriteImm,
				QPNumber:       qp.QPNumber(),
				BytesCompleted: state.bytesWritten,
				HasImmediate:   true,
				ImmediateData:  parser.Immediate(),
			}
			if has {
				cqe.WrID = wqe.WrID
			}
			result.Cqe = &cqe
		}
		result.IsMessageComplete = true
		delete(p.writes, qp.QPNumber())
	}
	return result
}

// Stats returns a snapshot of processor counters.
func (p *WriteProcessor) Stats() WriteStats { return p.stats }

// ClearWriteState discards in-progress write state for qp.
func (p *WriteProcessor) ClearWriteState(qp uint32) { delete(p.writes, qp) }
