package rocev2

import (
	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
)

// readSGL gathers the bytes named by sgl, validating each entry against
// lkey first. Returns ok=false on the first validation or DMA failure.
func readSGL(dmaEng *dma.Engine, mrTable *MemoryRegionTable, sgl []SglEntry, lkey uint32) ([]byte, bool) {
	total := SGLLength(sgl)
	buf := make([]byte, total)
	offset := 0
	for _, e := range sgl {
		if mrTable != nil && !mrTable.ValidateLkey(lkey, e.Address, uint64(e.Length), false) {
			return nil, false
		}
		if res := dmaEng.Read(e.Address, buf[offset:offset+int(e.Length)]); !res.Ok() {
			return nil, false
		}
		offset += int(e.Length)
	}
	return buf, true
}

// writeSGL scatters data into sgl starting at (*sgeIdx, *sgeOffset), which
// the caller threads across successive calls for a multi-packet message.
func writeSGL(dmaEng *dma.Engine, sgl []SglEntry, data []byte, sgeIdx, sgeOffset *int) int {
	written := 0
	for written < len(data) && *sgeIdx < len(sgl) {
		e := sgl[*sgeIdx]
		avail := int(e.Length) - *sgeOffset
		if avail <= 0 {
			*sgeIdx++
			*sgeOffset = 0
			continue
		}
		n := len(data) - written
		if n > avail {
			n = avail
		}
		addr := e.Address + hostmem.Address(*sgeOffset)
		if res := dmaEng.Write(addr, data[written:written+n]); !res.Ok() {
			break
		}
		written += n
		*sgeOffset += n
		if *sgeOffset >= int(e.Length) {
			*sgeIdx++
			*sgeOffset = 0
		}
	}
	return written
}

// calculatePacketCount returns max(1, ceil(total/mtu)).
func calculatePacketCount(total, mtu uint32) int {
	if mtu == 0 {
		return 1
	}
	count := (int(total) + int(mtu) - 1) / int(mtu)
	if count < 1 {
		count = 1
	}
	return count
}
