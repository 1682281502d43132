package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rosslwheeler/smart-nic-sub000/internal/dma"
	"github.com/rosslwheeler/smart-nic-sub000/internal/hostmem"
	"github.com/rosslwheeler/smart-nic-sub000/internal/nicdev"
	"github.com/rosslwheeler/smart-nic-sub000/internal/rocev2"
)

func TestMustRegisterAllExposesEveryCollector(t *testing.T) {
	mem := hostmem.New(hostmem.Config{SizeBytes: 4096})
	dmaEng := dma.New(mem, nil)

	dispatcher := nicdev.NewInterruptDispatcher(nicdev.InterruptDispatcherConfig{
		VectorCount:     1,
		DefaultCoalesce: nicdev.CoalesceConfig{Threshold: 1},
	})
	dispatcher.MapQueue(0, 0)
	dispatcher.ConfigureVector(0, nicdev.MSIXEntry{Enabled: true})

	qp := nicdev.NewQueuePair(nicdev.QueuePairConfig{
		QueueID:            0,
		TxCapacity:         4,
		RxCapacity:         4,
		TxCQDepth:          4,
		RxCQDepth:          4,
		Weight:             1,
		MaxMTU:             1500,
		EnableTxInterrupts: true,
		EnableRxInterrupts: true,
	}, dmaEng, dispatcher, nil)
	qp.PostRxDescriptor(nicdev.RxDescriptor{BufferAddress: 0, BufferLength: 64})
	qp.PostTxDescriptor(nicdev.TxDescriptor{BufferAddress: 0, Length: 64})
	qm := nicdev.NewQueueManager([]*nicdev.QueuePair{qp})
	require.True(t, qm.ProcessOnce())

	engine := rocev2.NewRdmaEngine(mem, rocev2.RdmaEngineConfig{
		MaxPDs:      2,
		MaxMRs:      4,
		DefaultCQ:   rocev2.RdmaCqConfig{Depth: 8},
		Dcqcn:       rocev2.DefaultDcqcnConfig(),
		Reliability: rocev2.DefaultReliabilityConfig(),
	}, nil)

	reg := prometheus.NewRegistry()
	MustRegisterAll(reg, qm, dispatcher, engine)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["smart_nic_tx_packets_total"])
	require.True(t, names["smart_nic_interrupts_fired_total"])
	require.True(t, names["smart_nic_rdma_packets_processed_total"])
}

func TestQueueManagerCollectorReportsQueuePairStats(t *testing.T) {
	mem := hostmem.New(hostmem.Config{SizeBytes: 4096})
	dmaEng := dma.New(mem, nil)
	qp := nicdev.NewQueuePair(nicdev.QueuePairConfig{
		QueueID:    0,
		TxCapacity: 4,
		RxCapacity: 4,
		TxCQDepth:  4,
		RxCQDepth:  4,
		Weight:     1,
		MaxMTU:     1500,
	}, dmaEng, nil, nil)
	qp.PostRxDescriptor(nicdev.RxDescriptor{BufferAddress: 0, BufferLength: 64})
	qp.PostTxDescriptor(nicdev.TxDescriptor{BufferAddress: 0, Length: 64})
	qm := nicdev.NewQueueManager([]*nicdev.QueuePair{qp})
	require.True(t, qm.ProcessOnce())

	collector := NewQueueManagerCollector(qm)
	ch := make(chan prometheus.Metric, 16)
	collector.Collect(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	require.Equal(t, len(collector.desc), count)
}
