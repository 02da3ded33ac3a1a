package axdma

import (
	"github.com/rcrowley/go-metrics"
)

type engineMetrics struct {
	submitted metrics.Counter
	completed metrics.Counter
	readErr   metrics.Counter
	writeErr  metrics.Counter
	descErr   metrics.Counter
	timeouts  metrics.Counter
	spurious  metrics.Counter

	pending  metrics.Gauge
	poolFree metrics.Gauge
	handles  metrics.Gauge

	wait metrics.Timer
	run  metrics.Timer
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		submitted: metrics.GetOrRegisterCounter("dma.transfers.submitted", nil),
		completed: metrics.GetOrRegisterCounter("dma.transfers.completed", nil),
		readErr:   metrics.GetOrRegisterCounter("dma.transfers.read_error", nil),
		writeErr:  metrics.GetOrRegisterCounter("dma.transfers.write_error", nil),
		descErr:   metrics.GetOrRegisterCounter("dma.transfers.descriptor_error", nil),
		timeouts:  metrics.GetOrRegisterCounter("dma.sync.timeouts", nil),
		spurious:  metrics.GetOrRegisterCounter("dma.interrupts.spurious", nil),
		pending:   metrics.GetOrRegisterGauge("dma.queue.pending", nil),
		poolFree:  metrics.GetOrRegisterGauge("dma.pool.free", nil),
		handles:   metrics.GetOrRegisterGauge("dma.registry.handles", nil),
		wait:      metrics.GetOrRegisterTimer("dma.transfer.wait", nil),
		run:       metrics.GetOrRegisterTimer("dma.transfer.run", nil),
	}
}

func (m *engineMetrics) countStatus(s Status) {
	switch s {
	case StatusSuccess:
		m.completed.Inc(1)
	case StatusReadError:
		m.readErr.Inc(1)
	case StatusWriteError:
		m.writeErr.Inc(1)
	case StatusDescriptorError:
		m.descErr.Inc(1)
	}
}
