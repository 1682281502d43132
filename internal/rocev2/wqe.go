package rocev2

import "github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"

// SglEntry is one scatter-gather element in host memory.
type SglEntry struct {
	Address hostmem.Address
	Length  uint32
}

// SGLLength sums the lengths of every entry.
func SGLLength(sgl []SglEntry) uint32 {
	var total uint32
	for _, e := range sgl {
		total += e.Length
	}
	return total
}

// SendWqe is a work request posted to a send queue: SEND, WRITE, or READ.
type SendWqe struct {
	WrID           uint64
	Opcode         WqeOpcode
	SGL            []SglEntry
	TotalLength    uint32
	Signaled       bool
	Solicited      bool
	Fence          bool
	InlineData     bool
	ImmediateData  uint32
	HasImmediate   bool
	RemoteAddress  hostmem.Address
	Rkey           uint32
	LocalLkey      uint32
}

// RecvWqe is a work request posted to a receive queue.
type RecvWqe struct {
	WrID        uint64
	SGL         []SglEntry
	TotalLength uint32
}

// RdmaCqe is a completion queue entry.
type RdmaCqe struct {
	WrID            uint64
	Status          WqeStatus
	Opcode          WqeOpcode
	QPNumber        uint32
	BytesCompleted  uint32
	ImmediateData   uint32
	HasImmediate    bool
	IsSend          bool
}
