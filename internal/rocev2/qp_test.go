package rocev2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQpStateMachineLegalTransitions(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{Type: QpTypeRC})
	require.Equal(t, QpReset, qp.State())

	init := QpInit
	require.True(t, qp.Modify(RdmaQpModifyParams{TargetState: &init}))
	require.Equal(t, QpInit, qp.State())

	rtr := QpRtr
	dest := uint32(99)
	require.True(t, qp.Modify(RdmaQpModifyParams{TargetState: &rtr, DestQPNumber: &dest}))
	require.Equal(t, QpRtr, qp.State())
	require.EqualValues(t, 99, qp.DestQPNumber())

	rts := QpRts
	require.True(t, qp.Modify(RdmaQpModifyParams{TargetState: &rts}))
	require.Equal(t, QpRts, qp.State())
}

func TestQpStateMachineRejectsIllegalTransition(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{Type: QpTypeRC})
	rts := QpRts
	require.False(t, qp.Modify(RdmaQpModifyParams{TargetState: &rts}))
	require.Equal(t, QpReset, qp.State())
	require.EqualValues(t, 1, qp.Stats().LocalErrors)
}

func TestQpAnyStateCanReset(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{Type: QpTypeRC})
	for _, s := range []QpState{QpInit, QpRtr, QpRts} {
		target := s
		require.True(t, qp.Modify(RdmaQpModifyParams{TargetState: &target}))
	}
	require.Equal(t, QpRts, qp.State())

	reset := QpReset
	require.True(t, qp.Modify(RdmaQpModifyParams{TargetState: &reset}))
	require.Equal(t, QpReset, qp.State())
	require.Zero(t, qp.SqPSN())
}

func TestNextSendPSNAdvancesAndWraps(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{})
	first := qp.NextSendPSN()
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 1, qp.SqPSN())
	require.EqualValues(t, 0, qp.LastSentPSN())

	top := MaxPSN
	require.True(t, qp.Modify(RdmaQpModifyParams{SqPSN: &top}))
	require.EqualValues(t, MaxPSN, qp.NextSendPSN())
	require.EqualValues(t, 0, qp.SqPSN())
}

func TestHandleAckPopsCumulativeWindow(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{})
	qp.AddPendingOperation(0, SendWqe{WrID: 1}, 4)
	qp.AddPendingOperation(4, SendWqe{WrID: 2}, 2)
	require.Equal(t, 2, qp.PendingCount())

	qp.HandleAck(3, SyndromeAck) // acks only the first op's last packet (PSN 3)
	require.Equal(t, 1, qp.PendingCount())

	qp.HandleAck(5, SyndromeAck) // acks the second op's last packet (PSN 5)
	require.Equal(t, 0, qp.PendingCount())
	require.EqualValues(t, 2, qp.Stats().SendCompletions)
}

func TestHandleAckRemoteErrorTransitionsToError(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{})
	qp.HandleAck(0, SyndromeRemoteAccessError)
	require.Equal(t, QpError, qp.State())
	require.EqualValues(t, 1, qp.Stats().RemoteErrors)
}

func TestMtuBytesMapping(t *testing.T) {
	qp := NewRdmaQueuePair(1, RdmaQpConfig{})
	require.EqualValues(t, 1024, qp.MtuBytes()) // default path_mtu=3
	pathMtu := uint8(5)
	require.True(t, qp.Modify(RdmaQpModifyParams{PathMTU: &pathMtu}))
	require.EqualValues(t, 4096, qp.MtuBytes())
}
