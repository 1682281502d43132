package nicdev

import (
	"bytes"
	"testing"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
)

func newTestQueuePair(t *testing.T) (*QueuePair, *dma.Engine) {
	t.Helper()
	mem := hostmem.New(hostmem.Config{SizeBytes: 1 << 20})
	dmaEng := dma.New(mem, nil)
	qp := NewQueuePair(QueuePairConfig{
		QueueID:    0,
		TxCapacity: 8,
		RxCapacity: 8,
		TxCQDepth:  8,
		RxCQDepth:  8,
		MaxMTU:     9216,
	}, dmaEng, nil, nil)
	return qp, dmaEng
}

func TestPlanSegmentsNoOffloadPassesThrough(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 100)
	segs, tso, gso, code := planSegments(payload, TxDescriptor{Length: uint32(len(payload))})
	if code != CompletionSuccess || tso || gso {
		t.Fatalf("unexpected result: %v tso=%v gso=%v", code, tso, gso)
	}
	if len(segs) != 1 || !bytes.Equal(segs[0], payload) {
		t.Fatalf("expected passthrough single segment")
	}
}

func TestPlanSegmentsTSOSplitsHeaderPlusChunks(t *testing.T) {
	header := bytes.Repeat([]byte{0x01}, 14)
	data := bytes.Repeat([]byte{0x02}, 2500)
	payload := append(append([]byte{}, header...), data...)

	td := TxDescriptor{Length: uint32(len(payload)), Flags: TxFlagTSO, HeaderLength: 14, MSS: 1000}
	segs, tso, gso, code := planSegments(payload, td)
	if code != CompletionSuccess || !tso || gso {
		t.Fatalf("unexpected result: %v tso=%v gso=%v", code, tso, gso)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if len(segs[0]) != 14+1000 {
		t.Fatalf("first segment length = %d, want %d", len(segs[0]), 14+1000)
	}
	if !bytes.HasPrefix(segs[0], header) {
		t.Fatalf("first TSO segment must carry the original header")
	}
	if len(segs[1]) != 1000 || len(segs[2]) != 500 {
		t.Fatalf("later TSO segments wrong size: %d, %d", len(segs[1]), len(segs[2]))
	}
}

func TestPlanSegmentsGSOReplicatesHeader(t *testing.T) {
	header := bytes.Repeat([]byte{0x03}, 20)
	data := bytes.Repeat([]byte{0x04}, 2100)
	payload := append(append([]byte{}, header...), data...)

	td := TxDescriptor{Length: uint32(len(payload)), Flags: TxFlagGSO, HeaderLength: 20, MSS: 1000}
	segs, tso, gso, code := planSegments(payload, td)
	if code != CompletionSuccess || tso || !gso {
		t.Fatalf("unexpected result: %v tso=%v gso=%v", code, tso, gso)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	for i, seg := range segs {
		if !bytes.HasPrefix(seg, header) {
			t.Fatalf("GSO segment %d missing replicated header", i)
		}
	}
	if len(segs[2]) != 20+100 {
		t.Fatalf("last GSO segment length = %d, want %d", len(segs[2]), 20+100)
	}
}

func TestPlanSegmentsInvalidMSSWithTSOFails(t *testing.T) {
	payload := make([]byte, 100)
	td := TxDescriptor{Length: 100, Flags: TxFlagTSO, HeaderLength: 14, MSS: 0}
	_, _, _, code := planSegments(payload, td)
	if code != CompletionInvalidMss {
		t.Fatalf("got %v, want CompletionInvalidMss", code)
	}
}

func TestPlanSegmentsTooManySegmentsRejected(t *testing.T) {
	payload := make([]byte, MaxTSOSegments*10+5)
	td := TxDescriptor{Length: uint32(len(payload)), Flags: TxFlagTSO, HeaderLength: 0, MSS: 10}
	_, _, _, code := planSegments(payload, td)
	if code != CompletionTooManySegments {
		t.Fatalf("got %v, want CompletionTooManySegments", code)
	}
}

func TestProcessOnceDeliversSingleSegmentToRxBuffer(t *testing.T) {
	qp, dmaEng := newTestQueuePair(t)
	payload := []byte("packet data")
	if res := dmaEng.Write(0, payload); !res.Ok() {
		t.Fatalf("stage payload: %v", res)
	}

	qp.PostRxDescriptor(RxDescriptor{BufferAddress: 1000, BufferLength: 64, DescriptorIdx: 1})
	qp.PostTxDescriptor(TxDescriptor{BufferAddress: 0, Length: uint32(len(payload)), DescriptorIdx: 2})

	if !qp.ProcessOnce() {
		t.Fatalf("expected a TX descriptor to be processed")
	}

	txc, ok := qp.PollTxCompletion()
	if !ok || txc.Status != CompletionSuccess {
		t.Fatalf("tx completion = %+v, ok=%v", txc, ok)
	}
	rxc, ok := qp.PollRxCompletion()
	if !ok || rxc.Status != CompletionSuccess {
		t.Fatalf("rx completion = %+v, ok=%v", rxc, ok)
	}

	got := make([]byte, len(payload))
	if res := dmaEng.Read(1000, got); !res.Ok() || !bytes.Equal(got, payload) {
		t.Fatalf("delivered payload mismatch: %v %q", res, got)
	}
	if qp.Stats().TxPackets != 1 || qp.Stats().RxPackets != 1 {
		t.Fatalf("stats = %+v", qp.Stats())
	}
}

func TestProcessOnceMtuExceededDrops(t *testing.T) {
	qp, dmaEng := newTestQueuePair(t)
	qp.cfg.MaxMTU = 16
	payload := make([]byte, 32)
	dmaEng.Write(0, payload)
	qp.PostTxDescriptor(TxDescriptor{BufferAddress: 0, Length: uint32(len(payload)), DescriptorIdx: 1})

	qp.ProcessOnce()
	txc, ok := qp.PollTxCompletion()
	if !ok || txc.Status != CompletionMtuExceeded {
		t.Fatalf("got %+v, ok=%v, want CompletionMtuExceeded", txc, ok)
	}
	if qp.Stats().DropsMtuExceeded != 1 {
		t.Fatalf("DropsMtuExceeded = %d, want 1", qp.Stats().DropsMtuExceeded)
	}
}

func TestProcessOnceNoRxDescriptorDrops(t *testing.T) {
	qp, dmaEng := newTestQueuePair(t)
	payload := []byte("no room")
	dmaEng.Write(0, payload)
	qp.PostTxDescriptor(TxDescriptor{BufferAddress: 0, Length: uint32(len(payload)), DescriptorIdx: 1})

	qp.ProcessOnce()
	if qp.Stats().DropsNoRxDesc != 1 {
		t.Fatalf("DropsNoRxDesc = %d, want 1", qp.Stats().DropsNoRxDesc)
	}
	if _, ok := qp.PollRxCompletion(); ok {
		t.Fatalf("no RX completion should be posted when no descriptor was available")
	}
}

func TestProcessOnceChecksumMismatchDrops(t *testing.T) {
	qp, dmaEng := newTestQueuePair(t)
	payload := []byte("checksummed")
	dmaEng.Write(0, payload)
	qp.PostRxDescriptor(RxDescriptor{BufferAddress: 1000, BufferLength: 64, DescriptorIdx: 1})
	qp.PostTxDescriptor(TxDescriptor{
		BufferAddress: 0, Length: uint32(len(payload)), DescriptorIdx: 2,
		Checksum: ChecksumLayer4, ChecksumValue: 0xFFFF,
	})

	qp.ProcessOnce()
	rxc, ok := qp.PollRxCompletion()
	if !ok || rxc.Status != CompletionChecksumError {
		t.Fatalf("got %+v, ok=%v, want CompletionChecksumError", rxc, ok)
	}
	if qp.Stats().DropsChecksum != 1 {
		t.Fatalf("DropsChecksum = %d, want 1", qp.Stats().DropsChecksum)
	}
}

func TestProcessOnceBufferTooSmallDrops(t *testing.T) {
	qp, dmaEng := newTestQueuePair(t)
	payload := make([]byte, 32)
	dmaEng.Write(0, payload)
	qp.PostRxDescriptor(RxDescriptor{BufferAddress: 1000, BufferLength: 8, DescriptorIdx: 1})
	qp.PostTxDescriptor(TxDescriptor{BufferAddress: 0, Length: uint32(len(payload)), DescriptorIdx: 2})

	qp.ProcessOnce()
	rxc, ok := qp.PollRxCompletion()
	if !ok || rxc.Status != CompletionBufferTooSmall {
		t.Fatalf("got %+v, ok=%v, want CompletionBufferTooSmall", rxc, ok)
	}
}
