package nicdev

import (
	"errors"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
)

// ErrRingAccess covers size-mismatch, full, and empty push/pop failures.
var ErrRingAccess = errors.New("nicdev: ring access error")

// ErrRingInternal covers a host-backed ring constructed without a DMA engine.
var ErrRingInternal = errors.New("nicdev: host-backed ring missing dma engine")

// RingConfig configures a DescriptorRing.
type RingConfig struct {
	SlotSize   int
	Capacity   int
	BaseAddr   hostmem.Address // host-backed base; ignored for in-model storage
	QueueID    uint16
	HostBacked bool
}

// DescriptorRing is a fixed-slot producer/consumer ring, either in-model
// (owned byte vector) or host-backed (bytes live in Host Memory, moved via
// the DMA engine). Invariant: 0 <= count <= capacity.
type DescriptorRing struct {
	cfg      RingConfig
	doorbell *Doorbell
	dmaEng   *dma.Engine
	storage  []byte // only used when !HostBacked
	producer uint32
	consumer uint32
	count    uint32
}

// NewRing constructs an in-model ring.
func NewRing(cfg RingConfig, doorbell *Doorbell) *DescriptorRing {
	r := &DescriptorRing{cfg: cfg, doorbell: doorbell}
	if !cfg.HostBacked {
		r.storage = make([]byte, cfg.SlotSize*cfg.Capacity)
	}
	return r
}

// NewHostBackedRing constructs a ring backed by Host Memory via dmaEng.
func NewHostBackedRing(cfg RingConfig, dmaEng *dma.Engine, doorbell *Doorbell) *DescriptorRing {
	cfg.HostBacked = true
	return &DescriptorRing{cfg: cfg, doorbell: doorbell, dmaEng: dmaEng}
}

// IsFull reports whether the ring has no free slots.
func (r *DescriptorRing) IsFull() bool { return int(r.count) == r.cfg.Capacity }

// IsEmpty reports whether the ring has no occupied slots.
func (r *DescriptorRing) IsEmpty() bool { return r.count == 0 }

// Available returns the number of occupied slots.
func (r *DescriptorRing) Available() int { return int(r.count) }

// Space returns the number of free slots.
func (r *DescriptorRing) Space() int { return r.cfg.Capacity - int(r.count) }

func (r *DescriptorRing) slotAddr(slot uint32) hostmem.Address {
	return r.cfg.BaseAddr + hostmem.Address(int(slot)*r.cfg.SlotSize)
}

// PushDescriptor writes bytes at the producer slot and advances it.
func (r *DescriptorRing) PushDescriptor(bytes []byte) dma.Result {
	if len(bytes) != r.cfg.SlotSize || r.IsFull() {
		return dma.ResultAccessError
	}
	if r.cfg.HostBacked {
		if r.dmaEng == nil {
			return dma.ResultInternalError
		}
		if res := r.dmaEng.Write(r.slotAddr(r.producer), bytes); !res.Ok() {
			return res
		}
	} else {
		off := int(r.producer) * r.cfg.SlotSize
		copy(r.storage[off:off+r.cfg.SlotSize], bytes)
	}
	r.producer = (r.producer + 1) % uint32(r.cfg.Capacity)
	r.count++
	if r.doorbell != nil {
		r.doorbell.Ring(DoorbellPayload{QueueID: r.cfg.QueueID, Data: r.producer})
	}
	return dma.ResultOK
}

// PopDescriptor reads the consumer slot into buf and advances it.
func (r *DescriptorRing) PopDescriptor(buf []byte) dma.Result {
	if len(buf) != r.cfg.SlotSize || r.IsEmpty() {
		return dma.ResultAccessError
	}
	if r.cfg.HostBacked {
		if r.dmaEng == nil {
			return dma.ResultInternalError
		}
		if res := r.dmaEng.Read(r.slotAddr(r.consumer), buf); !res.Ok() {
			return res
		}
	} else {
		off := int(r.consumer) * r.cfg.SlotSize
		copy(buf, r.storage[off:off+r.cfg.SlotSize])
	}
	r.consumer = (r.consumer + 1) % uint32(r.cfg.Capacity)
	r.count--
	return dma.ResultOK
}

// Reset zeroes the producer/consumer/count state.
func (r *DescriptorRing) Reset() {
	r.producer = 0
	r.consumer = 0
	r.count = 0
}

// ProducerIndex returns the current producer index.
func (r *DescriptorRing) ProducerIndex() uint32 { return r.producer }

// ConsumerIndex returns the current consumer index.
func (r *DescriptorRing) ConsumerIndex() uint32 { return r.consumer }
