package rocev2

import (
	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// ReadStats counts RDMA READ processor activity.
type ReadStats struct {
	ReadsStarted           uint64
	ReadsCompleted         uint64
	ReadRequestsGenerated  uint64
	ReadResponsesGenerated uint64
	ReadResponsesProcessed uint64
	RemoteAccessErrors     uint64
	SequenceErrors         uint64
	BytesRead              uint64
}

// readRequesterState tracks a READ request awaiting its (possibly
// multi-packet) response at the requester.
type readRequesterState struct {
	wrID          uint64
	sgl           []SglEntry
	sgeIdx        int
	sgeOffset     int
	bytesReceived uint32
}

// ReadProcessingResult is the outcome of scattering one inbound READ
// response packet into the requester's local SGL.
type ReadProcessingResult struct {
	Success           bool
	IsMessageComplete bool
	Cqe               *RdmaCqe
}

// ReadProcessor implements RDMA READ request/response generation and
// reception over Host Memory.
type ReadProcessor struct {
	dmaEng   *dma.Engine
	mrTable  *MemoryRegionTable
	logger   *zap.Logger
	stats    ReadStats
	requests map[uint32]*readRequesterState
}

// NewReadProcessor constructs a processor over the given DMA engine and
// memory region table.
func NewReadProcessor(dmaEng *dma.Engine, mrTable *MemoryRegionTable, logger *zap.Logger) *ReadProcessor {
	return &ReadProcessor{
		dmaEng:   dmaEng,
		mrTable:  mrTable,
		logger:   obs.OrNop(logger),
		requests: make(map[uint32]*readRequesterState),
	}
}

func getReadResponseOpcode(isFirst, isLast bool) RdmaOpcode {
	switch {
	case isFirst && isLast:
		return OpRcReadResponseOnly
	case isFirst:
		return OpRcReadResponseFirst
	case isLast:
		return OpRcReadResponseLast
	default:
		return OpRcReadResponseMiddle
	}
}

// GenerateReadRequest builds a single READ_REQUEST packet naming the remote
// address/rkey/length to read, and records requester state so the eventual
// response(s) can be scattered into wqe's local SGL.
func (p *ReadProcessor) GenerateReadRequest(qp *RdmaQueuePair, wqe SendWqe) []byte {
	total := wqe.TotalLength
	if total == 0 {
		total = SGLLength(wqe.SGL)
	}
	psn := qp.NextSendPSN()
	pkt := NewPacketBuilder().
		SetOpcode(OpRcReadRequest).
		SetDestQP(qp.DestQPNumber()).
		SetPSN(psn).
		SetRemoteAddress(uint64(wqe.RemoteAddress)).
		SetRkey(wqe.Rkey).
		SetDmaLength(total).
		SetAckRequest(true).
		Build()
	p.requests[qp.QPNumber()] = &readRequesterState{wrID: wqe.WrID, sgl: wqe.SGL}
	p.stats.ReadsStarted++
	p.stats.ReadRequestsGenerated++
	qp.RecordPacketSent(len(pkt))
	return pkt
}

// GenerateReadResponse is the responder side: it validates rkey for
// remote-read, reads the requested bytes from Host Memory, and fragments
// them into FIRST/MIDDLE/LAST/ONLY response packets across qp's path MTU.
// On failure it returns a NAK syndrome instead of packets.
func (p *ReadProcessor) GenerateReadResponse(qp *RdmaQueuePair, pd uint32, parser *PacketParser) ([][]byte, AethSyndrome, bool) {
	bth := parser.BTH()
	if bth.PSN != qp.RqPSN() {
		p.stats.SequenceErrors++
		return nil, SyndromePsnSeqError, false
	}
	reth := parser.RETH()
	va := hostmem.Address(reth.VirtualAddress)
	if !p.mrTable.ValidateRkey(reth.Rkey, pd, va, uint64(reth.DmaLength), false) {
		p.stats.RemoteAccessErrors++
		return nil, SyndromeRemoteAccessError, false
	}
	buf := make([]byte, reth.DmaLength)
	if res := p.dmaEng.Read(va, buf); !res.Ok() {
		p.stats.RemoteAccessErrors++
		return nil, SyndromeRemoteAccessError, false
	}

	mtu := int(qp.MtuBytes())
	count := calculatePacketCount(reth.DmaLength, qp.MtuBytes())
	packets := make([][]byte, 0, count)
	offset := 0
	for i := 0; i < count; i++ {
		isFirst := i == 0
		isLast := i == count-1
		end := offset + mtu
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[offset:end]
		opcode := getReadResponseOpcode(isFirst, isLast)
		psn := qp.NextSendPSN()
		pkt := NewPacketBuilder().
			SetOpcode(opcode).
			SetDestQP(qp.DestQPNumber()).
			SetPSN(psn).
			SetSyndrome(SyndromeAck).
			SetPayload(chunk).
			Build()
		packets = append(packets, pkt)
		qp.RecordPacketSent(len(chunk))
		p.stats.BytesRead += uint64(len(chunk))
		offset = end
	}
	qp.AdvanceRecvPSN()
	p.stats.ReadResponsesGenerated += uint64(len(packets))
	return packets, SyndromeAck, true
}

// ProcessReadResponse scatters one inbound READ response packet into the
// requester's local SGL, completing the operation on its LAST/ONLY packet.
func (p *ReadProcessor) ProcessReadResponse(qp *RdmaQueuePair, parser *PacketParser) ReadProcessingResult {
	p.stats.ReadResponsesProcessed++
	state := p.requests[qp.QPNumber()]
	if state == nil {
		return ReadProcessingResult{}
	}
	bth := parser.BTH()

	n := writeSGL(p.dmaEng, state.sgl, parser.Payload(), &state.sgeIdx, &state.sgeOffset)
	state.bytesReceived += uint32(n)
	qp.RecordPacketReceived(len(parser.Payload()))
	p.stats.BytesRead += uint64(n)

	result := ReadProcessingResult{Success: true}
	if opcodeIsLast(bth.Opcode) || opcodeIsOnly(bth.Opcode) {
		cqe := RdmaCqe{
			WrID:           state.wrID,
			Status:         WqeSuccess,
			Opcode:         WqeRdmaRead,
			QPNumber:       qp.QPNumber(),
			BytesCompleted: state.bytesReceived,
		}
		result.Cqe = &cqe
		result.IsMessageComplete = true
		delete(p.requests, qp.QPNumber())
		p.stats.ReadsCompleted++
	}
	return result
}

// Stats returns a snapshot of processor counters.
func (p *ReadProcessor) Stats() ReadStats { return p.stats }

// ClearRequestState discards in-progress requester state for qp.
func (p *ReadProcessor) ClearRequestState(qp uint32) { delete(p.requests, qp) }
