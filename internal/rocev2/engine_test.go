package rocev2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
)

type endpoint struct {
	mem    *hostmem.Memory
	engine *RdmaEngine
	pd     uint32
	lkey   uint32
	qp     uint32
	cq     uint32
}

func newEndpoint(t *testing.T) *endpoint {
	t.Helper()
	mem := hostmem.New(hostmem.Config{SizeBytes: 65536})
	engine := NewRdmaEngine(mem, RdmaEngineConfig{
		MaxPDs:      4,
		MaxMRs:      16,
		DefaultCQ:   RdmaCqConfig{Depth: 32},
		Dcqcn:       DefaultDcqcnConfig(),
		Reliability: DefaultReliabilityConfig(),
	}, nil)

	pd, ok := engine.CreatePD()
	require.True(t, ok)
	lkey, ok := engine.RegisterMR(pd, 0, 65536, AccessFlags{LocalRead: true, LocalWrite: true, RemoteRead: true, RemoteWrite: true})
	require.True(t, ok)
	cq := engine.CreateCQ(0)
	qp := engine.CreateQP(RdmaQpConfig{Type: QpTypeRC, SendQueueDepth: 8, RecvQueueDepth: 8, PDHandle: pd, SendCQNumber: cq, RecvCQNumber: cq})
	return &endpoint{mem: mem, engine: engine, pd: pd, lkey: lkey, qp: qp, cq: cq}
}

func connect(t *testing.T, a, b *endpoint) {
	t.Helper()
	init, rtr, rts := QpInit, QpRtr, QpRts
	require.True(t, a.engine.ModifyQP(a.qp, RdmaQpModifyParams{TargetState: &init}))
	require.True(t, b.engine.ModifyQP(b.qp, RdmaQpModifyParams{TargetState: &init}))

	bqp, aqp := b.qp, a.qp
	require.True(t, a.engine.ModifyQP(a.qp, RdmaQpModifyParams{TargetState: &rtr, DestQPNumber: &bqp}))
	require.True(t, b.engine.ModifyQP(b.qp, RdmaQpModifyParams{TargetState: &rtr, DestQPNumber: &aqp}))

	require.True(t, a.engine.ModifyQP(a.qp, RdmaQpModifyParams{TargetState: &rts}))
	require.True(t, b.engine.ModifyQP(b.qp, RdmaQpModifyParams{TargetState: &rts}))
}

// deliver feeds every packet a generates to b, and whatever b bounces back
// to a, one hop at a time, until nothing is left in flight.
func deliver(a, b *RdmaEngine, pkts []OutgoingPacket) {
	for len(pkts) > 0 {
		var next []OutgoingPacket
		for _, pkt := range pkts {
			next = append(next, b.ProcessIncomingPacket(pkt.Data)...)
		}
		pkts = next
		a, b = b, a
	}
}

func TestEndToEndSend(t *testing.T) {
	alice := newEndpoint(t)
	bob := newEndpoint(t)
	connect(t, alice, bob)

	payload := []byte("hello over roce")
	require.True(t, alice.engine.DMAEngine().Write(0, payload).Ok())

	require.True(t, bob.engine.PostRecv(bob.qp, RecvWqe{WrID: 11, SGL: []SglEntry{{Address: 0, Length: uint32(len(payload))}}, TotalLength: uint32(len(payload))}))
	require.True(t, alice.engine.PostSend(alice.qp, SendWqe{
		WrID: 1, Opcode: WqeSend, SGL: []SglEntry{{Address: 0, Length: uint32(len(payload))}},
		TotalLength: uint32(len(payload)), LocalLkey: alice.lkey,
	}))

	out := alice.engine.GenerateOutgoingPackets()
	require.Len(t, out, 1)
	deliver(alice.engine, bob.engine, out)

	completions := bob.engine.PollCQ(bob.cq, 8)
	require.Len(t, completions, 1)
	require.Equal(t, uint64(11), completions[0].WrID)
	require.EqualValues(t, len(payload), completions[0].BytesCompleted)

	got := make([]byte, len(payload))
	require.True(t, bob.engine.DMAEngine().Read(0, got).Ok())
	require.Equal(t, payload, got)
}

func TestEndToEndRdmaWriteWithImmediate(t *testing.T) {
	alice := newEndpoint(t)
	bob := newEndpoint(t)
	connect(t, alice, bob)

	payload := []byte("written directly")
	require.True(t, alice.engine.DMAEngine().Write(100, payload).Ok())

	require.True(t, bob.engine.PostRecv(bob.qp, RecvWqe{WrID: 5}))
	require.True(t, alice.engine.PostSend(alice.qp, SendWqe{
		WrID: 2, Opcode: WqeRdmaWriteImm, SGL: []SglEntry{{Address: 100, Length: uint32(len(payload))}},
		TotalLength: uint32(len(payload)), LocalLkey: alice.lkey,
		RemoteAddress: 200, Rkey: rkeyFor(t, bob, 200),
		HasImmediate: true, ImmediateData: 0x1234,
	}))

	out := alice.engine.GenerateOutgoingPackets()
	deliver(alice.engine, bob.engine, out)

	completions := bob.engine.PollCQ(bob.cq, 8)
	require.Len(t, completions, 1)
	require.True(t, completions[0].HasImmediate)
	require.EqualValues(t, 0x1234, completions[0].ImmediateData)

	got := make([]byte, len(payload))
	require.True(t, bob.engine.DMAEngine().Read(200, got).Ok())
	require.Equal(t, payload, got)
}

func TestEndToEndRdmaRead(t *testing.T) {
	alice := newEndpoint(t)
	bob := newEndpoint(t)
	connect(t, alice, bob)

	remoteData := []byte("readable remote bytes")
	require.True(t, bob.engine.DMAEngine().Write(300, remoteData).Ok())

	require.True(t, alice.engine.PostSend(alice.qp, SendWqe{
		WrID: 3, Opcode: WqeRdmaRead, SGL: []SglEntry{{Address: 500, Length: uint32(len(remoteData))}},
		TotalLength: uint32(len(remoteData)), LocalLkey: alice.lkey,
		RemoteAddress: 300, Rkey: rkeyFor(t, bob, 300),
	}))

	out := alice.engine.GenerateOutgoingPackets()
	require.Len(t, out, 1)
	deliver(alice.engine, bob.engine, out)

	completions := alice.engine.PollCQ(alice.cq, 8)
	require.Len(t, completions, 1)
	require.Equal(t, uint64(3), completions[0].WrID)

	got := make([]byte, len(remoteData))
	require.True(t, alice.engine.DMAEngine().Read(500, got).Ok())
	require.Equal(t, remoteData, got)
}

func rkeyFor(t *testing.T, ep *endpoint, addr hostmem.Address) uint32 {
	t.Helper()
	lkey, ok := ep.engine.RegisterMR(ep.pd, addr, 4096, AccessFlags{RemoteRead: true, RemoteWrite: true, LocalRead: true, LocalWrite: true})
	require.True(t, ok)
	return lkey + 1 // rkey is allocated immediately after lkey (see MemoryRegionTable.RegisterMR)
}
