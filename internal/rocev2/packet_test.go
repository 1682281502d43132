package rocev2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndParseSendOnly(t *testing.T) {
	payload := []byte("hello rdma")
	pkt := NewPacketBuilder().
		SetOpcode(OpRcSendOnly).
		SetDestQP(0x42).
		SetPSN(1000).
		SetPayload(payload).
		Build()

	require.True(t, VerifyICRC(pkt))

	var p PacketParser
	require.True(t, p.Parse(pkt))
	require.Equal(t, OpRcSendOnly, p.BTH().Opcode)
	require.EqualValues(t, 0x42, p.BTH().DestQP)
	require.EqualValues(t, 1000, p.BTH().PSN)
	require.Equal(t, payload, p.Payload())
	require.False(t, p.HasReth())
	require.False(t, p.HasAeth())
}

func TestBuildAndParseWriteFirstCarriesReth(t *testing.T) {
	pkt := NewPacketBuilder().
		SetOpcode(OpRcWriteFirst).
		SetDestQP(7).
		SetPSN(5).
		SetRemoteAddress(0xDEADBEEF).
		SetRkey(0x101).
		SetDmaLength(4096).
		SetPayload(make([]byte, 32)).
		Build()

	var p PacketParser
	require.True(t, p.Parse(pkt))
	require.True(t, p.HasReth())
	require.EqualValues(t, 0xDEADBEEF, p.RETH().VirtualAddress)
	require.EqualValues(t, 0x101, p.RETH().Rkey)
	require.EqualValues(t, 4096, p.RETH().DmaLength)
}

func TestAckCarriesAeth(t *testing.T) {
	pkt := NewPacketBuilder().
		SetOpcode(OpRcAck).
		SetDestQP(3).
		SetPSN(42).
		SetSyndrome(SyndromeRnrNak).
		SetMSN(7).
		Build()

	var p PacketParser
	require.True(t, p.Parse(pkt))
	require.True(t, p.HasAeth())
	require.Equal(t, SyndromeRnrNak, p.AETH().Syndrome)
	require.EqualValues(t, 7, p.AETH().MSN)
}

func TestCorruptedICRCFailsVerification(t *testing.T) {
	pkt := NewPacketBuilder().SetOpcode(OpRcSendOnly).SetDestQP(1).SetPSN(1).SetPayload([]byte("x")).Build()
	pkt[len(pkt)-1] ^= 0xFF
	require.False(t, VerifyICRC(pkt))

	var p PacketParser
	require.True(t, p.Parse(pkt)) // Parse itself does not check ICRC
}

func TestImmediateDataRoundTrip(t *testing.T) {
	pkt := NewPacketBuilder().
		SetOpcode(OpRcSendOnlyImm).
		SetDestQP(9).
		SetPSN(1).
		SetImmediate(0xCAFEBABE).
		SetPayload([]byte("abc")).
		Build()

	var p PacketParser
	require.True(t, p.Parse(pkt))
	require.True(t, p.HasImmediate())
	require.EqualValues(t, 0xCAFEBABE, p.Immediate())
	require.Equal(t, []byte("abc"), p.Payload())
}

func TestPSNWraps24Bit(t *testing.T) {
	require.EqualValues(t, 0, AdvancePSN(MaxPSN, 1))
	require.EqualValues(t, 5, AdvancePSN(MaxPSN, 6))
}

func TestPsnLECumulativeWindow(t *testing.T) {
	require.True(t, psnLE(10, 10))
	require.True(t, psnLE(10, 20))
	require.False(t, psnLE(20, 10))
	// wraparound: a just before the top of the space, b just after wrapping
	require.True(t, psnLE(MaxPSN, 0))
	require.False(t, psnLE(0, MaxPSN))
}
