package rocev2

// EcnCodepoint is the two-bit ECN field carried in the IP header.
type EcnCodepoint uint8

const (
	EcnNonECT EcnCodepoint = 0x00
	EcnECT1   EcnCodepoint = 0x01
	EcnECT0   EcnCodepoint = 0x02
	EcnCE     EcnCodepoint = 0x03
)

// DcqcnConfig tunes the DCQCN rate-control loop.
type DcqcnConfig struct {
	InitialRateMbps       uint64
	MinRateMbps           uint64
	AlphaG                float64
	Beta                  float64
	RateIncreasePeriodUs  uint64
	AlphaUpdatePeriodUs   uint64
	CnpTimerUs            uint64
	Enabled               bool
}

// DefaultDcqcnConfig returns a reasonable out-of-the-box DCQCN tuning.
func DefaultDcqcnConfig() DcqcnConfig {
	return DcqcnConfig{
		InitialRateMbps:      100000,
		MinRateMbps:          10,
		AlphaG:               1.0 / 256.0,
		Beta:                 0.5,
		RateIncreasePeriodUs: 50,
		AlphaUpdatePeriodUs:  55,
		CnpTimerUs:           50,
		Enabled:              true,
	}
}

type dcqcnFlowState struct {
	currentRateMbps  uint64
	targetRateMbps   uint64
	alpha            float64
	lastCnpTimeUs    uint64
	rateIncreaseTime uint64
	alphaUpdateTime  uint64
	cnpCount         uint32
	inRecovery       bool
}

// CongestionStats counts DCQCN activity.
type CongestionStats struct {
	CnpsGenerated     uint64
	CnpsReceived      uint64
	EcnMarksDetected  uint64
	RateDecreases     uint64
	RateIncreases     uint64
}

// CongestionManager implements DCQCN rate control per destination flow.
type CongestionManager struct {
	cfg           DcqcnConfig
	stats         CongestionStats
	currentTimeUs uint64
	flows         map[uint32]*dcqcnFlowState
	cnpTimers     map[uint32]uint64
}

// NewCongestionManager constructs a manager with the given configuration.
func NewCongestionManager(cfg DcqcnConfig) *CongestionManager {
	return &CongestionManager{
		cfg:       cfg,
		flows:     make(map[uint32]*dcqcnFlowState),
		cnpTimers: make(map[uint32]uint64),
	}
}

// IsCongestionMarked reports whether ecn signals Congestion Experienced.
func (m *CongestionManager) IsCongestionMarked(ecn EcnCodepoint) bool { return ecn == EcnCE }

func (m *CongestionManager) flowState(qp uint32) *dcqcnFlowState {
	fs, ok := m.flows[qp]
	if !ok {
		fs = &dcqcnFlowState{currentRateMbps: m.cfg.InitialRateMbps, targetRateMbps: m.cfg.InitialRateMbps, alpha: 1.0}
		m.flows[qp] = fs
	}
	return fs
}

// GenerateCNP builds a CNP packet for destQP if the per-flow rate limiter
// allows it.
func (m *CongestionManager) GenerateCNP(destQP, srcQP uint32, nowUs uint64) ([]byte, bool) {
	if !m.cfg.Enabled {
		return nil, false
	}
	last := m.cnpTimers[destQP]
	if nowUs-last < m.cfg.CnpTimerUs && m.cnpTimers[destQP] != 0 {
		return nil, false
	}
	m.cnpTimers[destQP] = nowUs
	m.stats.CnpsGenerated++
	pkt := NewPacketBuilder().SetOpcode(OpCnp).SetDestQP(destQP).SetBecn(true).Build()
	_ = srcQP
	return pkt, true
}

// HandleCnpReceived reacts to a CNP for qp: cuts the rate by a factor of
// (1 - alpha/2), floored at the minimum rate, raises alpha, and starts the
// recovery sequence.
func (m *CongestionManager) HandleCnpReceived(qp uint32, nowUs uint64) {
	fs := m.flowState(qp)
	fs.inRecovery = true
	fs.targetRateMbps = fs.currentRateMbps
	newRate := uint64(float64(fs.currentRateMbps) * (1 - fs.alpha/2))
	if newRate < m.cfg.MinRateMbps {
		newRate = m.cfg.MinRateMbps
	}
	fs.currentRateMbps = newRate
	g := m.cfg.AlphaG
	fs.alpha = fs.alpha*(1-g) + g
	fs.cnpCount++
	fs.lastCnpTimeUs = nowUs
	fs.rateIncreaseTime = nowUs
	fs.alphaUpdateTime = nowUs
	m.stats.CnpsReceived++
	m.stats.RateDecreases++
}

// GetCurrentRate returns the current sending rate in Mbps for qp.
func (m *CongestionManager) GetCurrentRate(qp uint32) uint64 {
	if fs, ok := m.flows[qp]; ok {
		return fs.currentRateMbps
	}
	return m.cfg.InitialRateMbps
}

// AdvanceTime recovers rates toward the initial rate and decays alpha for
// every flow.
func (m *CongestionManager) AdvanceTime(elapsedUs uint64) {
	m.currentTimeUs += elapsedUs
	for _, fs := range m.flows {
		if fs.inRecovery && m.currentTimeUs-fs.rateIncreaseTime >= m.cfg.RateIncreasePeriodUs {
			m.recoverRate(fs)
			fs.rateIncreaseTime = m.currentTimeUs
		}
		if m.currentTimeUs-fs.alphaUpdateTime >= m.cfg.AlphaUpdatePeriodUs {
			fs.alpha = fs.alpha * (1 - m.cfg.AlphaG)
			fs.alphaUpdateTime = m.currentTimeUs
		}
	}
}

func (m *CongestionManager) recoverRate(fs *dcqcnFlowState) {
	if fs.currentRateMbps < fs.targetRateMbps {
		// hyper-increase toward target
		fs.currentRateMbps += (fs.targetRateMbps - fs.currentRateMbps + 1) / 2
	} else if fs.currentRateMbps < m.cfg.InitialRateMbps {
		// additive increase toward the initial rate
		step := m.cfg.InitialRateMbps / 100
		if step == 0 {
			step = 1
		}
		fs.currentRateMbps += step
		if fs.currentRateMbps > m.cfg.InitialRateMbps {
			fs.currentRateMbps = m.cfg.InitialRateMbps
		}
	}
	if fs.currentRateMbps >= m.cfg.InitialRateMbps {
		fs.inRecovery = false
	}
	m.stats.RateIncreases++
}

// Stats returns a snapshot of congestion counters.
func (m *CongestionManager) Stats() CongestionStats { return m.stats }

// ClearFlowState removes per-flow state for qp.
func (m *CongestionManager) ClearFlowState(qp uint32) {
	delete(m.flows, qp)
	delete(m.cnpTimers, qp)
}

// Reset clears every flow and counter.
func (m *CongestionManager) Reset() {
	m.flows = make(map[uint32]*dcqcnFlowState)
	m.cnpTimers = make(map[uint32]uint64)
	m.stats = CongestionStats{}
	m.currentTimeUs = 0
}
