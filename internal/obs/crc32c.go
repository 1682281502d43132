package obs

import "hash/crc32"

// Castagnoli is the CRC-32C table (polynomial 0x1EDC6F41) used for RoCEv2 ICRC.
var Castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC-32C checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, Castagnoli)
}
