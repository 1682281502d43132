package nicdev

// MTU / frame-size constants.
const (
	MinEthernetFrame = 64
	StandardMTU      = 1500
	JumboMTU         = 9000
	MaxJumboFrame    = 9216

	MaxTSOSegments = 64
	MinMSS         = 1
	MaxMSS         = 9000

	VlanHeaderSize = 4
	VlanEthertype  = 0x8100
	QinQEthertype  = 0x88A8
)

// ChecksumMode selects which layer's checksum a TX descriptor carries.
type ChecksumMode uint8

const (
	ChecksumNone ChecksumMode = iota
	ChecksumLayer3
	ChecksumLayer4
)

// CompletionCode is the Ethernet-side completion status.
type CompletionCode uint16

const (
	CompletionSuccess CompletionCode = iota
	CompletionBufferTooSmall
	CompletionChecksumError
	CompletionNoDescriptor
	CompletionFault
	CompletionMtuExceeded
	CompletionInvalidMss
	CompletionTooManySegments
)

func (c CompletionCode) String() string {
	switch c {
	case CompletionSuccess:
		return "success"
	case CompletionBufferTooSmall:
		return "buffer_too_small"
	case CompletionChecksumError:
		return "checksum_error"
	case CompletionNoDescriptor:
		return "no_descriptor"
	case CompletionFault:
		return "fault"
	case CompletionMtuExceeded:
		return "mtu_exceeded"
	case CompletionInvalidMss:
		return "invalid_mss"
	case CompletionTooManySegments:
		return "too_many_segments"
	default:
		return "unknown"
	}
}
