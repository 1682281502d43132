package rocev2

import (
	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// SendRecvStats counts SEND/RECV processor activity.
type SendRecvStats struct {
	SendsStarted         uint64
	SendsCompleted       uint64
	RecvsCompleted       uint64
	SendPacketsGenerated uint64
	RecvPacketsProcessed uint64
	RnrNaksSent          uint64
	SequenceErrors       uint64
	BytesSent            uint64
	BytesReceived        uint64
}

// recvMessageState tracks a multi-packet SEND message being scattered into
// the WQE that the FIRST packet consumed from the recv queue.
type recvMessageState struct {
	wrID          uint64
	sgl           []SglEntry
	sgeIdx        int
	sgeOffset     int
	bytesReceived uint32
}

// RecvResult is the outcome of processing one inbound SEND-family packet.
type RecvResult struct {
	Success           bool
	NeedsAck          bool
	IsMessageComplete bool
	AckPSN            uint32
	Syndrome          AethSyndrome
	Cqe               *RdmaCqe
}

// SendRecvProcessor implements SEND/RECV packet generation and reception,
// over Host Memory.
type SendRecvProcessor struct {
	dmaEng  *dma.Engine
	mrTable *MemoryRegionTable
	logger  *zap.Logger
	stats   SendRecvStats
	recvs   map[uint32]*recvMessageState
}

// NewSendRecvProcessor constructs a processor over the given DMA engine and
// memory region table.
func NewSendRecvProcessor(dmaEng *dma.Engine, mrTable *MemoryRegionTable, logger *zap.Logger) *SendRecvProcessor {
	return &SendRecvProcessor{
		dmaEng:  dmaEng,
		mrTable: mrTable,
		logger:  obs.OrNop(logger),
		recvs:   make(map[uint32]*recvMessageState),
	}
}

func getSendOpcode(isFirst, isLast, hasImm bool) RdmaOpcode {
	switch {
	case isFirst && isLast:
		if hasImm {
			return OpRcSendOnlyImm
		}
		return OpRcSendOnly
	case isFirst:
		return OpRcSendFirst
	case isLast:
		if hasImm {
			return OpRcSendLastImm
		}
		return OpRcSendLast
	default:
		return OpRcSendMiddle
	}
}

// GenerateSendPackets fragments wqe across qp's path MTU and returns the
// wire bytes for each packet, consuming one fresh PSN per packet.
func (p *SendRecvProcessor) GenerateSendPackets(qp *RdmaQueuePair, wqe SendWqe) [][]byte {
	total := wqe.TotalLength
	if total == 0 {
		total = SGLLength(wqe.SGL)
	}
	payload, ok := readSGL(p.dmaEng, p.mrTable, wqe.SGL, wqe.LocalLkey)
	if !ok {
		return nil
	}
	count := calculatePacketCount(total, qp.MtuBytes())
	p.stats.SendsStarted++

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
		opcode := getSendOpcode(isFirst, isLast, wqe.HasImmediate)
		psn := qp.NextSendPSN()
		b := NewPacketBuilder().
			SetOpcode(opcode).
			SetDestQP(qp.DestQPNumber()).
			SetPSN(psn).
			SetSolicitedEvent(wqe.Solicited).
			SetAckRequest(isLast).
			SetPayload(chunk)
		if isLast && wqe.HasImmediate {
			b.SetImmediate(wqe.ImmediateData)
		}
		packets = append(packets, b.Build())
		qp.RecordPacketSent(len(chunk))
		p.stats.BytesSent += uint64(len(chunk))
		offset = end
	}
	p.stats.SendPacketsGenerated += uint64(len(packets))
	return packets
}

// ProcessRecvPacket scatters one inbound SEND-family packet's payload into
// the QP's receive queue, producing a CQE once the message's LAST/ONLY
// packet arrives.
func (p *SendRecvProcessor) ProcessRecvPacket(qp *RdmaQueuePair, parser *PacketParser) RecvResult {
	p.stats.RecvPacketsProcessed++
	bth := parser.BTH()

	if !qp.CanReceive() {
		return RecvResult{Syndrome: SyndromeInvalidRequest}
	}
	if bth.PSN != qp.RqPSN() {
		p.stats.SequenceErrors++
		return RecvResult{NeedsAck: true, AckPSN: qp.RqPSN(), Syndrome: SyndromePsnSeqError}
	}

	state := p.recvs[qp.QPNumber()]
	if opcodeIsFirst(bth.Opcode) || opcodeIsOnly(bth.Opcode) {
		wqe, has := qp.ConsumeRecv()
		if !has {
			p.stats.RnrNaksSent++
			return RecvResult{NeedsAck: true, AckPSN: bth.PSN, Syndrome: SyndromeRnrNak}
		}
		state = &recvMessageState{wrID: wqe.WrID, sgl: wqe.SGL}
		p.recvs[qp.QPNumber()] = state
	}
	if state == nil {
		return RecvResult{Syndrome: SyndromeInvalidRequest}
	}

	n := writeSGL(p.dmaEng, state.sgl, parser.Payload(), &state.sgeIdx, &state.sgeOffset)
	state.bytesReceived += uint32(n)
	qp.RecordPacketReceived(len(parser.Payload()))
	p.stats.BytesReceived += uint64(n)

	result := RecvResult{Success: true, NeedsAck: true, AckPSN: bth.PSN}
	qp.AdvanceRecvPSN()

	if opcodeIsLast(bth.Opcode) || opcodeIsOnly(bth.Opcode) {
		cqe := RdmaCqe{
			WrID:           state.wrID,
			Status:         WqeSuccess,
			Opcode:         WqeSend,
			QPNumber:       qp.QPNumber(),
			BytesCompleted: state.bytesReceived,
		}
		if parser.HasImmediate() {
			cqe.HasImmediate = true
			cqe.ImmediateData = parser.Immediate()
		}
		result.Cqe = &cqe
		result.IsMessageComplete = true
		delete(p.recvs, qp.QPNumber())
		p.stats.RecvsCompleted++
	}
	return result
}

// GenerateAck builds an ACK/NAK packet carrying syndrome for psn.
func (p *SendRecvProcessor) GenerateAck(qp *RdmaQueuePair, psn uint32, syndrome AethSyndrome, msn uint32) []byte {
	return NewPacketBuilder().
		SetOpcode(OpRcAck).
		SetDestQP(qp.DestQPNumber()).
		SetPSN(psn).
		SetAckRequest(false).
		SetSyndrome(syndrome).
		SetMSN(msn).
		Build()
}

// Stats returns a snapshot of processor counters.
func (p *SendRecvProcessor) Stats() SendRecvStats { return p.stats }

// ClearRecvState discards in-progress receive state for qp.
func (p *SendRecvProcessor) ClearRecvState(qp uint32) { delete(p.recvs, qp) }
