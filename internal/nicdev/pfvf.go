package nicdev

// PFVFFunction identifies one physical or virtual function exposed by the
// device.
type PFVFFunction struct {
	IsVirtual    bool
	ParentPF     uint16
	QueueIDs     []uint16
	Enabled      bool
}

// PFVFManagerConfig bounds the function table. Handle bookkeeping only;
// no SR-IOV BAR trapping.
type PFVFManagerConfig struct {
	MaxFunctions int
}

// PFVFStats counts function lifecycle activity.
type PFVFStats struct {
	FunctionsCreated  uint64
	FunctionsDestroyed uint64
	QueueAssignments  uint64
}

// PFVFManager tracks PF/VF handle allocation and their queue assignments,
// sitting alongside the Queue Manager rather than inside it.
type PFVFManager struct {
	cfg       PFVFManagerConfig
	functions map[uint16]*PFVFFunction
	nextID    uint16
	stats     PFVFStats
}

// NewPFVFManager constructs an empty manager.
func NewPFVFManager(cfg PFVFManagerConfig) *PFVFManager {
	if cfg.MaxFunctions <= 0 {
		cfg.MaxFunctions = 256
	}
	return &PFVFManager{cfg: cfg, functions: make(map[uint16]*PFVFFunction), nextID: 1}
}

// CreatePF allocates a new physical function.
func (m *PFVFManager) CreatePF() (uint16, bool) {
	if len(m.functions) >= m.cfg.MaxFunctions {
		return 0, false
	}
	id := m.nextID
	m.nextID++
	m.functions[id] = &PFVFFunction{Enabled: true}
	m.stats.FunctionsCreated++
	return id, true
}

// CreateVF allocates a virtual function bound to parentPF.
func (m *PFVFManager) CreateVF(parentPF uint16) (uint16, bool) {
	if parent, ok := m.functions[parentPF]; !ok || parent.IsVirtual {
		return 0, false
	}
	if len(m.functions) >= m.cfg.MaxFunctions {
		return 0, false
	}
	id := m.nextID
	m.nextID++
	m.functions[id] = &PFVFFunction{IsVirtual: true, ParentPF: parentPF, Enabled: true}
	m.stats.FunctionsCreated++
	return id, true
}

// DestroyFunction removes a PF or VF handle.
func (m *PFVFManager) DestroyFunction(id uint16) bool {
	if _, ok := m.functions[id]; !ok {
		return false
	}
	delete(m.functions, id)
	m.stats.FunctionsDestroyed++
	return true
}

// AssignQueue records that queueID belongs to function id.
func (m *PFVFManager) AssignQueue(id uint16, queueID uint16) bool {
	fn, ok := m.functions[id]
	if !ok {
		return false
	}
	fn.QueueIDs = append(fn.QueueIDs, queueID)
	m.stats.QueueAssignments++
	return true
}

// Function returns the function named by id, if any.
func (m *PFVFManager) Function(id uint16) (*PFVFFunction, bool) {
	fn, ok := m.functions[id]
	return fn, ok
}

// Count returns the number of live functions.
func (m *PFVFManager) Count() int { return len(m.functions) }

// Stats returns a snapshot of manager counters.
func (m *PFVFManager) Stats() PFVFStats { return m.stats }
