package nicdev

// DeviceConfig carries the identity constants a real NIC would publish
// through PCI config space. Config-space emulation itself is out of scope
// for this model; these fields exist so a caller building a device record
// has somewhere to put the identity it would otherwise read from silicon.
type DeviceConfig struct {
	VendorID      uint16
	DeviceID      uint16
	SubsystemID   uint16
	RevisionID    uint8
	MaxQueuePairs int
	MaxMSIXVectors int
}

// Documentation-only defaults; not a full PCI config-space implementation.
const (
	DefaultVendorID      uint16 = 0x1AF4
	DefaultDeviceID      uint16 = 0x1041
	DefaultSubsystemID   uint16 = 0x0001
	DefaultRevisionID    uint8  = 0x01
)

// DefaultDeviceConfig returns the identity this model reports by default.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		VendorID:       DefaultVendorID,
		DeviceID:       DefaultDeviceID,
		SubsystemID:    DefaultSubsystemID,
		RevisionID:     DefaultRevisionID,
		MaxQueuePairs:  64,
		MaxMSIXVectors: 64,
	}
}
