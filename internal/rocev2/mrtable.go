package rocev2

import "github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"

// MemoryRegion is registered host memory made available to RDMA operations.
type MemoryRegion struct {
	Lkey           uint32
	Rkey           uint32
	VirtualAddress hostmem.Address
	Length         uint64
	PDHandle       uint32
	Access         AccessFlags
	Valid          bool
}

// MrTableConfig bounds the number of live memory regions.
type MrTableConfig struct {
	MaxMRs int
}

// MrTableStats counts memory region table activity.
type MrTableStats struct {
	Registrations       uint64
	Deregistrations     uint64
	LkeyValidations     uint64
	RkeyValidations     uint64
	AccessErrors        uint64
	RegistrationFailures uint64
}

// MemoryRegionTable registers MRs and validates lkey/rkey accesses.
// Keys start above 0x100 so an accidentally-zeroed key fails fast.
type MemoryRegionTable struct {
	cfg     MrTableConfig
	byLkey  map[uint32]*MemoryRegion
	byRkey  map[uint32]*MemoryRegion
	nextKey uint32
	stats   MrTableStats
}

// NewMemoryRegionTable constructs an empty MR table.
func NewMemoryRegionTable(cfg MrTableConfig) *MemoryRegionTable {
	if cfg.MaxMRs <= 0 {
		cfg.MaxMRs = 4096
	}
	return &MemoryRegionTable{
		cfg:     cfg,
		byLkey:  make(map[uint32]*MemoryRegion),
		byRkey:  make(map[uint32]*MemoryRegion),
		nextKey: 0x101,
	}
}

// RegisterMR registers a new memory region, returning its lkey.
func (t *MemoryRegionTable) RegisterMR(pdHandle uint32, va hostmem.Address, length uint64, access AccessFlags) (uint32, bool) {
	if length == 0 || len(t.byLkey) >= t.cfg.MaxMRs {
		t.stats.RegistrationFailures++
		return 0, false
	}
	lkey := t.nextKey
	t.nextKey++
	rkey := t.nextKey
	t.nextKey++
	mr := &MemoryRegion{
		Lkey:           lkey,
		Rkey:           rkey,
		VirtualAddress: va,
		Length:         length,
		PDHandle:       pdHandle,
		Access:         access,
		Valid:          true,
	}
	t.byLkey[lkey] = mr
	t.byRkey[rkey] = mr
	t.stats.Registrations++
	return lkey, true
}

// DeregisterMR invalidates and removes the MR identified by lkey.
func (t *MemoryRegionTable) DeregisterMR(lkey uint32) bool {
	mr, ok := t.byLkey[lkey]
	if !ok {
		return false
	}
	mr.Valid = false
	delete(t.byLkey, lkey)
	delete(t.byRkey, mr.Rkey)
	t.stats.Deregistrations++
	return true
}

func inBounds(mr *MemoryRegion, addr hostmem.Address, length uint64) bool {
	if addr < mr.VirtualAddress {
		return false
	}
	end := uint64(addr-mr.VirtualAddress) + length
	return end <= mr.Length
}

// ValidateLkey checks a local access of length bytes at addr against the MR
// named by lkey.
func (t *MemoryRegionTable) ValidateLkey(lkey uint32, addr hostmem.Address, length uint64, isWrite bool) bool {
	t.stats.LkeyValidations++
	mr, ok := t.byLkey[lkey]
	if !ok || !mr.Valid {
		t.stats.AccessErrors++
		return false
	}
	if !inBounds(mr, addr, length) {
		t.stats.AccessErrors++
		return false
	}
	allowed := mr.Access.LocalRead
	if isWrite {
		allowed = mr.Access.LocalWrite
	}
	if !allowed {
		t.stats.AccessErrors++
		return false
	}
	return true
}

// ValidateRkey checks a remote access of length bytes at addr against the MR
// named by rkey, additionally requiring pd to match the MR's domain.
func (t *MemoryRegionTable) ValidateRkey(rkey, pd uint32, addr hostmem.Address, length uint64, isWrite bool) bool {
	t.stats.RkeyValidations++
	mr, ok := t.byRkey[rkey]
	if !ok || !mr.Valid || mr.PDHandle != pd {
		t.stats.AccessErrors++
		return false
	}
	if !inBounds(mr, addr, length) {
		t.stats.AccessErrors++
		return false
	}
	allowed := mr.Access.RemoteRead
	if isWrite {
		allowed = mr.Access.RemoteWrite
	}
	if !allowed {
		t.stats.AccessErrors++
		return false
	}
	return true
}

// Lookup returns the MR registered under lkey, if any.
func (t *MemoryRegionTable) Lookup(lkey uint32) (*MemoryRegion, bool) {
	mr, ok := t.byLkey[lkey]
	return mr, ok
}

// Stats returns a snapshot of table counters.
func (t *MemoryRegionTable) Stats() MrTableStats { return t.stats }

// Reset clears every registered MR.
func (t *MemoryRegionTable) Reset() {
	t.byLkey = make(map[uint32]*MemoryRegion)
	t.byRkey = make(map[uint32]*MemoryRegion)
	t.nextKey = 0x101
}
