package nicdev

import "github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"

// TxFlags bit-flags a TX descriptor's offload requests.
type TxFlags uint8

const (
	TxFlagChecksumOffload TxFlags = 1 << iota
	TxFlagTSO
	TxFlagGSO
	TxFlagVlanInsert
)

// TxDescriptor describes one outgoing packet buffer.
type TxDescriptor struct {
	BufferAddress  hostmem.Address
	Length         uint32
	Checksum       ChecksumMode
	DescriptorIdx  uint16
	ChecksumValue  uint16
	Flags          TxFlags
	MSS            uint16
	HeaderLength   uint16
	VlanTag        uint16
}

func (d TxDescriptor) has(f TxFlags) bool { return d.Flags&f != 0 }

// ChecksumOffload reports whether the descriptor requests checksum offload.
func (d TxDescriptor) ChecksumOffload() bool { return d.has(TxFlagChecksumOffload) }

// TSOEnabled reports whether TSO is requested.
func (d TxDescriptor) TSOEnabled() bool { return d.has(TxFlagTSO) }

// GSOEnabled reports whether GSO is requested.
func (d TxDescriptor) GSOEnabled() bool { return d.has(TxFlagGSO) }

// VlanInsert reports whether a VLAN tag should be inserted.
func (d TxDescriptor) VlanInsert() bool { return d.has(TxFlagVlanInsert) }

// RxFlags bit-flags an RX descriptor's offload capabilities.
type RxFlags uint8

const (
	RxFlagChecksumOffload RxFlags = 1 << iota
	RxFlagVlanStrip
	RxFlagGROEnable
)

// RxDescriptor describes one incoming packet buffer.
type RxDescriptor struct {
	BufferAddress hostmem.Address
	BufferLength  uint32
	Checksum      ChecksumMode
	DescriptorIdx uint16
	Flags         RxFlags
}

func (d RxDescriptor) has(f RxFlags) bool { return d.Flags&f != 0 }

// ChecksumOffload reports whether the descriptor requests checksum offload.
func (d RxDescriptor) ChecksumOffload() bool { return d.has(RxFlagChecksumOffload) }

// VlanStrip reports whether VLAN tags should be stripped on receipt.
func (d RxDescriptor) VlanStrip() bool { return d.has(RxFlagVlanStrip) }

// GROEnable reports whether GRO aggregation is enabled (placeholder, §4.3).
func (d RxDescriptor) GROEnable() bool { return d.has(RxFlagGROEnable) }
