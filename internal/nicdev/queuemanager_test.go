package nicdev

import (
	"testing"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
)

func newWeightedQueuePair(t *testing.T, id uint16, weight int) *QueuePair {
	t.Helper()
	mem := hostmem.New(hostmem.Config{SizeBytes: 4096})
	dmaEng := dma.New(mem, nil)
	return NewQueuePair(QueuePairConfig{
		QueueID:    id,
		TxCapacity: 16,
		RxCapacity: 16,
		TxCQDepth:  16,
		RxCQDepth:  16,
		MaxMTU:     9216,
		Weight:     weight,
	}, dmaEng, nil, nil)
}

func fillTx(qp *QueuePair, n int) {
	for i := 0; i < n; i++ {
		qp.PostRxDescriptor(RxDescriptor{BufferAddress: 0, BufferLength: 64, DescriptorIdx: uint16(i)})
		qp.PostTxDescriptor(TxDescriptor{BufferAddress: 0, Length: 0, DescriptorIdx: uint16(i)})
	}
}

func TestQueueManagerHonorsWeight(t *testing.T) {
	a := newWeightedQueuePair(t, 0, 3)
	b := newWeightedQueuePair(t, 1, 1)
	fillTx(a, 10)
	fillTx(b, 10)

	qm := NewQueueManager([]*QueuePair{a, b})
	for i := 0; i < 4; i++ {
		if !qm.ProcessOnce() {
			t.Fatalf("expected work at step %d", i)
		}
	}
	// a's weight of 3 means it should be serviced 3 times before b's 1.
	if a.Stats().TxPackets != 3 || b.Stats().TxPackets != 1 {
		t.Fatalf("a=%d b=%d, want 3/1 under weighted round robin", a.Stats().TxPackets, b.Stats().TxPackets)
	}
}

func TestQueueManagerSkipsEmptyQueues(t *testing.T) {
	a := newWeightedQueuePair(t, 0, 1)
	b := newWeightedQueuePair(t, 1, 1)
	fillTx(b, 1)

	qm := NewQueueManager([]*QueuePair{a, b})
	if !qm.ProcessOnce() {
		t.Fatalf("expected b's work to be found despite a being empty")
	}
	if qm.Stats().SchedulerSkips == 0 {
		t.Fatalf("expected at least one recorded skip over empty queue a")
	}
}

func TestQueueManagerEmptyReturnsFalse(t *testing.T) {
	qm := NewQueueManager(nil)
	if qm.ProcessOnce() {
		t.Fatalf("expected false with no queues")
	}
}

func TestQueueManagerStatsAggregatesTotals(t *testing.T) {
	a := newWeightedQueuePair(t, 0, 1)
	b := newWeightedQueuePair(t, 1, 1)
	fillTx(a, 2)
	fillTx(b, 2)
	qm := NewQueueManager([]*QueuePair{a, b})
	for i := 0; i < 4; i++ {
		qm.ProcessOnce()
	}
	if qm.Stats().Totals.TxPackets != 4 {
		t.Fatalf("Totals.TxPackets = %d, want 4", qm.Stats().Totals.TxPackets)
	}
}
