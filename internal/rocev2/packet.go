package rocev2

import (
	"encoding/binary"

	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// Header sizes.
const (
	BTHSize  = 12
	RETHSize = 16
	AETHSize = 4
	ImmSize  = 4
	ICRCSize = 4
)

// BthFields is the parsed Base Transport Header, present on every packet.
type BthFields struct {
	Opcode            RdmaOpcode
	SolicitedEvent    bool
	MigReq            bool
	PadCount          uint8
	TransportVersion  uint8
	PartitionKey      uint16
	Fecn              bool
	Becn              bool
	DestQP            uint32
	AckRequest        bool
	PSN               uint32
}

// RethFields is the parsed RDMA Extended Transport Header.
type RethFields struct {
	VirtualAddress uint64
	Rkey           uint32
	DmaLength      uint32
}

// AethFields is the parsed ACK Extended Transport Header.
type AethFields struct {
	Syndrome AethSyndrome
	MSN      uint32
}

// PacketBuilder constructs a RoCEv2 packet: BTH, optional RETH/AETH/
// immediate, payload, and a trailing ICRC.
type PacketBuilder struct {
	opcode         RdmaOpcode
	destQP         uint32
	psn            uint32
	partitionKey   uint16
	ackRequest     bool
	solicited      bool
	padCount       uint8
	fecn           bool
	becn           bool
	remoteAddress  uint64
	rkey           uint32
	dmaLength      uint32
	syndrome       AethSyndrome
	msn            uint32
	immediate      uint32
	hasImmediate   bool
	payload        []byte
}

// NewPacketBuilder constructs a builder with IB-spec defaults.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{
		opcode:       OpRcSendOnly,
		partitionKey: DefaultPkey,
		ackRequest:   true,
	}
}

func (b *PacketBuilder) SetOpcode(op RdmaOpcode) *PacketBuilder      { b.opcode = op; return b }
func (b *PacketBuilder) SetDestQP(qp uint32) *PacketBuilder          { b.destQP = qp; return b }
func (b *PacketBuilder) SetPSN(psn uint32) *PacketBuilder            { b.psn = psn & MaxPSN; return b }
func (b *PacketBuilder) SetPartitionKey(pkey uint16) *PacketBuilder  { b.partitionKey = pkey; return b }
func (b *PacketBuilder) SetAckRequest(v bool) *PacketBuilder         { b.ackRequest = v; return b }
func (b *PacketBuilder) SetSolicitedEvent(v bool) *PacketBuilder     { b.solicited = v; return b }
func (b *PacketBuilder) SetPadCount(p uint8) *PacketBuilder          { b.padCount = p; return b }
func (b *PacketBuilder) SetFecn(v bool) *PacketBuilder               { b.fecn = v; return b }
func (b *PacketBuilder) SetBecn(v bool) *PacketBuilder               { b.becn = v; return b }
func (b *PacketBuilder) SetRemoteAddress(va uint64) *PacketBuilder   { b.remoteAddress = va; return b }
func (b *PacketBuilder) SetRkey(rkey uint32) *PacketBuilder          { b.rkey = rkey; return b }
func (b *PacketBuilder) SetDmaLength(length uint32) *PacketBuilder   { b.dmaLength = length; return b }
func (b *PacketBuilder) SetSyndrome(s AethSyndrome) *PacketBuilder   { b.syndrome = s; return b }
func (b *PacketBuilder) SetMSN(msn uint32) *PacketBuilder            { b.msn = msn; return b }
func (b *PacketBuilder) SetImmediate(imm uint32) *PacketBuilder      { b.immediate = imm; b.hasImmediate = true; return b }
func (b *PacketBuilder) SetPayload(data []byte) *PacketBuilder       { b.payload = data; return b }

func (b *PacketBuilder) needsReth() bool {
	switch b.opcode {
	case OpRcWriteFirst, OpRcWriteOnly, OpRcWriteOnlyImm, OpRcReadRequest:
		return true
	default:
		return false
	}
}

func (b *PacketBuilder) needsAeth() bool {
	if b.opcode == OpRcAck {
		return true
	}
	return opcodeIsReadResponse(b.opcode) && (opcodeIsFirst(b.opcode) || opcodeIsOnly(b.opcode) || opcodeIsLast(b.opcode))
}

// Build assembles the complete packet: BTH + optional RETH/AETH + optional
// immediate + payload + ICRC.
func (b *PacketBuilder) Build() []byte {
	size := BTHSize
	if b.needsReth() {
		size += RETHSize
	}
	if b.needsAeth() {
		size += AETHSize
	}
	if b.hasImmediate {
		size += ImmSize
	}
	size += len(b.payload)
	size += ICRCSize

	out := make([]byte, size)
	off := 0
	b.writeBTH(out[off : off+BTHSize])
	off += BTHSize
	if b.needsReth() {
		b.writeRETH(out[off : off+RETHSize])
		off += RETHSize
	}
	if b.needsAeth() {
		b.writeAETH(out[off : off+AETHSize])
		off += AETHSize
	}
	if b.hasImmediate {
		binary.BigEndian.PutUint32(out[off:off+ImmSize], b.immediate)
		off += ImmSize
	}
	copy(out[off:off+len(b.payload)], b.payload)
	off += len(b.payload)
	icrc := obs.CRC32C(out[:off])
	binary.BigEndian.PutUint32(out[off:off+ICRCSize], icrc)
	return out
}

func (b *PacketBuilder) writeBTH(buf []byte) {
	buf[0] = byte(b.opcode)
	var flags uint8
	if b.solicited {
		flags |= 0x80
	}
	// mig_req always false in this model (RC only)
	flags |= (b.padCount & 0x03) << 4
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], b.partitionKey)
	var ecn uint8
	if b.fecn {
		ecn |= 0x80
	}
	if b.becn {
		ecn |= 0x40
	}
	buf[4] = ecn
	buf[5] = byte(b.destQP >> 16)
	buf[6] = byte(b.destQP >> 8)
	buf[7] = byte(b.destQP)
	var ackByte uint8
	if b.ackRequest {
		ackByte = 0x80
	}
	buf[8] = ackByte
	buf[9] = byte(b.psn >> 16)
	buf[10] = byte(b.psn >> 8)
	buf[11] = byte(b.psn)
}

func (b *PacketBuilder) writeRETH(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], b.remoteAddress)
	binary.BigEndian.PutUint32(buf[8:12], b.rkey)
	binary.BigEndian.PutUint32(buf[12:16], b.dmaLength)
}

func (b *PacketBuilder) writeAETH(buf []byte) {
	buf[0] = byte(b.syndrome)
	buf[1] = byte(b.msn >> 16)
	buf[2] = byte(b.msn >> 8)
	buf[3] = byte(b.msn)
}

// PacketParser extracts BTH/RETH/AETH/immediate/payload from a received
// packet. It does not check the ICRC; use VerifyICRC for that.
type PacketParser struct {
	bth          BthFields
	reth         RethFields
	aeth         AethFields
	immediate    uint32
	payload      []byte
	hasReth      bool
	hasAeth      bool
	hasImmediate bool
}

func (p *PacketParser) BTH() BthFields        { return p.bth }
func (p *PacketParser) RETH() RethFields       { return p.reth }
func (p *PacketParser) AETH() AethFields       { return p.aeth }
func (p *PacketParser) Immediate() uint32      { return p.immediate }
func (p *PacketParser) Payload() []byte        { return p.payload }
func (p *PacketParser) HasReth() bool          { return p.hasReth }
func (p *PacketParser) HasAeth() bool          { return p.hasAeth }
func (p *PacketParser) HasImmediate() bool     { return p.hasImmediate }

// Parse decodes a RoCEv2 packet. data must include the trailing ICRC.
func (p *PacketParser) Parse(data []byte) bool {
	if len(data) < BTHSize+ICRCSize {
		return false
	}
	p.parseBTH(data)
	p.determineHeaders()

	off := BTHSize
	if p.hasReth {
		if len(data) < off+RETHSize {
			return false
		}
		p.reth = RethFields{
			VirtualAddress: binary.BigEndian.Uint64(data[off : off+8]),
			Rkey:           binary.BigEndian.Uint32(data[off+8 : off+12]),
			DmaLength:      binary.BigEndian.Uint32(data[off+12 : off+16]),
		}
		off += RETHSize
	}
	if p.hasAeth {
		if len(data) < off+AETHSize {
			return false
		}
		p.aeth = AethFields{
			Syndrome: AethSyndrome(data[off]),
			MSN:      uint32(data[off+1])<<16 | uint32(data[off+2])<<8 | uint32(data[off+3]),
		}
		off += AETHSize
	}
	if p.hasImmediate {
		if len(data) < off+ImmSize {
			return false
		}
		p.immediate = binary.BigEndian.Uint32(data[off : off+ImmSize])
		off += ImmSize
	}
	if len(data) < off+ICRCSize {
		return false
	}
	p.payload = data[off : len(data)-ICRCSize]
	return true
}

func (p *PacketParser) parseBTH(data []byte) {
	opcode := RdmaOpcode(data[0])
	flags := data[1]
	p.bth = BthFields{
		Opcode:           opcode,
		SolicitedEvent:   flags&0x80 != 0,
		MigReq:           flags&0x40 != 0,
		PadCount:         (flags >> 4) & 0x03,
		TransportVersion: flags & 0x0F,
		PartitionKey:     binary.BigEndian.Uint16(data[2:4]),
		Fecn:             data[4]&0x80 != 0,
		Becn:             data[4]&0x40 != 0,
		DestQP:           uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7]),
		AckRequest:       data[8]&0x80 != 0,
		PSN:              uint32(data[9])<<16 | uint32(data[10])<<8 | uint32(data[11]),
	}
}

func (p *PacketParser) determineHeaders() {
	op := p.bth.Opcode
	switch op {
	case OpRcWriteFirst, OpRcWriteOnly, OpRcWriteOnlyImm, OpRcReadRequest:
		p.hasReth = true
	default:
		p.hasReth = false
	}
	p.hasAeth = op == OpRcAck || (opcodeIsReadResponse(op) && (opcodeIsFirst(op) || opcodeIsOnly(op) || opcodeIsLast(op)))
	p.hasImmediate = opcodeHasImmediate(op)
}

// VerifyICRC recomputes the ICRC over data[:len-4] and compares it against
// the trailing 4 bytes.
func VerifyICRC(data []byte) bool {
	if len(data) < ICRCSize {
		return false
	}
	body := data[:len(data)-ICRCSize]
	want := binary.BigEndian.Uint32(data[len(data)-ICRCSize:])
	return obs.CRC32C(body) == want
}
