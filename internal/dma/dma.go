// Package dma models the DMA Engine that moves bytes between the
// descriptor rings / RDMA engine and Host Memory.
package dma

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
)

// Result enumerates DMA transfer outcomes.
type Result uint8

const (
	ResultOK Result = iota
	ResultTranslationFault
	ResultOutOfBounds
	ResultFaultInjected
	ResultAccessError
	ResultAlignmentError
	ResultInternalError
)

func (r Result) Ok() bool { return r == ResultOK }

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultTranslationFault:
		return "translation_fault"
	case ResultOutOfBounds:
		return "out_of_bounds"
	case ResultFaultInjected:
		return "fault_injected"
	case ResultAccessError:
		return "access_error"
	case ResultAlignmentError:
		return "alignment_error"
	case ResultInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

var ErrEmptySGL = errors.New("dma: sgl transfer requires a non-empty sgl and a large enough buffer")

// Direction of an SGL transfer relative to Host Memory.
type Direction uint8

const (
	DirectionHostToBuffer Direction = iota
	DirectionBufferToHost
)

// SGLEntry is one scatter-gather element: an address/length pair in Host Memory.
type SGLEntry struct {
	Address hostmem.Address
	Length  int
}

// Counters tracks cumulative DMA activity, reset only by ResetCounters.
type Counters struct {
	ReadOps        uint64
	WriteOps       uint64
	BurstReadOps   uint64
	BurstWriteOps  uint64
	BytesRead      uint64
	BytesWritten   uint64
	Errors         uint64
}

// Engine is a DMA engine backed by a single Host Memory instance.
type Engine struct {
	mem      *hostmem.Memory
	counters Counters
	logger   *zap.Logger
}

// New constructs a DMA engine over the given Host Memory.
func New(mem *hostmem.Memory, logger *zap.Logger) *Engine {
	return &Engine{mem: mem, logger: obs.OrNop(logger)}
}

// HostMemory returns the backing Host Memory.
func (e *Engine) HostMemory() *hostmem.Memory { return e.mem }

// Counters returns a snapshot of the cumulative counters.
func (e *Engine) Counters() Counters { return e.counters }

// ResetCounters zeroes all counters.
func (e *Engine) ResetCounters() { e.counters = Counters{} }

func mapHostError(err hostmem.Error) Result {
	switch err {
	case hostmem.ErrNone:
		return ResultOK
	case hostmem.ErrOutOfBounds:
		return ResultOutOfBounds
	case hostmem.ErrIommuFault:
		return ResultTranslationFault
	case hostmem.ErrFaultInjected:
		return ResultFaultInjected
	default:
		return ResultInternalError
	}
}

// Read copies len(buf) bytes from Host Memory at addr into buf.
func (e *Engine) Read(addr hostmem.Address, buf []byte) Result {
	res := mapHostError(e.mem.Read(addr, buf))
	if res == ResultOK {
		e.counters.ReadOps++
		e.counters.BytesRead += uint64(len(buf))
	} else {
		e.counters.Errors++
	}
	return res
}

// Write copies data into Host Memory at addr.
func (e *Engine) Write(addr hostmem.Address, data []byte) Result {
	res := mapHostError(e.mem.Write(addr, data))
	if res == ResultOK {
		e.counters.WriteOps++
		e.counters.BytesWritten += uint64(len(data))
	} else {
		e.counters.Errors++
	}
	return res
}

// ReadBurst reads buf in beat-sized chunks, each chunk separated by stride
// bytes in the source address space.
func (e *Engine) ReadBurst(addr hostmem.Address, buf []byte, beat, stride int) Result {
	if beat <= 0 || stride <= 0 || len(buf)%beat != 0 {
		e.counters.Errors++
		return ResultAlignmentError
	}
	cur := addr
	for off := 0; off < len(buf); off += beat {
		if res := e.mem.Read(cur, buf[off:off+beat]); res != hostmem.ErrNone {
			e.counters.Errors++
			return mapHostError(res)
		}
		cur += hostmem.Address(stride)
	}
	e.counters.BurstReadOps++
	e.counters.BytesRead += uint64(len(buf))
	return ResultOK
}

// WriteBurst writes data in beat-sized chunks, each chunk separated by
// stride bytes in the destination address space.
func (e *Engine) WriteBurst(addr hostmem.Address, data []byte, beat, stride int) Result {
	if beat <= 0 || stride <= 0 || len(data)%beat != 0 {
		e.counters.Errors++
		return ResultAlignmentError
	}
	cur := addr
	for off := 0; off < len(data); off += beat {
		if res := e.mem.Write(cur, data[off:off+beat]); res != hostmem.ErrNone {
			e.counters.Errors++
			return mapHostError(res)
		}
		cur += hostmem.Address(stride)
	}
	e.counters.BurstWriteOps++
	e.counters.BytesWritten += uint64(len(data))
	return ResultOK
}

// TransferSGL moves bytes between a scatter-gather list in Host Memory and
// a single contiguous buffer, in either direction.
func (e *Engine) TransferSGL(sgl []SGLEntry, direction Direction, buf []byte) Result {
	total := 0
	for _, ent := range sgl {
		total += ent.Length
	}
	if len(sgl) == 0 || len(buf) < total {
		e.counters.Errors++
		return ResultAccessError
	}
	offset := 0
	for _, ent := range sgl {
		chunk := buf[offset : offset+ent.Length]
		var res hostmem.Error
		switch direction {
		case DirectionHostToBuffer:
			res = e.mem.Read(ent.Address, chunk)
		case DirectionBufferToHost:
			res = e.mem.Write(ent.Address, chunk)
		default:
			return ResultInternalError
		}
		if res != hostmem.ErrNone {
			e.counters.Errors++
			return mapHostError(res)
		}
		offset += ent.Length
	}
	switch direction {
	case DirectionHostToBuffer:
		e.counters.ReadOps++
		e.counters.BytesRead += uint64(total)
	case DirectionBufferToHost:
		e.counters.WriteOps++
		e.counters.BytesWritten += uint64(total)
	}
	return ResultOK
}

// AlignmentErrorFor reports the error an unaligned burst call would produce,
// useful for callers building descriptive error messages.
func AlignmentErrorFor(beat, stride, length int) error {
	return fmt.Errorf("dma: beat=%d stride=%d length=%d violates beat>0, stride>0, length%%beat==0", beat, stride, length)
}
