package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	published    prometheus.Counter
	openFailures prometheus.Counter
	received     prometheus.GaugeFunc
	dropped      prometheus.GaugeFunc
	pollHz       prometheus.GaugeFunc
}

func newMetrics(backend *DeviceBackend) *metrics {
	return &metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accelmon_readings_published_total",
			Help: "Readings sent to WebSocket clients.",
		}),
		openFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accelmon_open_failures_total",
			Help: "Serial ports that could not be opened.",
		}),
		received: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "accelmon_frames_received",
			Help: "Frames decoded on the current connection.",
		}, func() float64 {
			return float64(backend.session.Status().Received)
		}),
		dropped: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "accelmon_frames_dropped",
			Help: "Malformed lines dropped on the current connection.",
		}, func() float64 {
			return float64(backend.session.Status().Dropped)
		}),
		pollHz: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "accelmon_poll_hz",
			Help: "Rate at which readings are published.",
		}, func() float64 {
			return backend.GetStatus().PollHz
		}),
	}
}

// RegisterMetrics adds the monitor's collectors to reg.
func (backend *DeviceBackend) RegisterMetrics(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		backend.metrics.published,
		backend.metrics.openFailures,
		backend.metrics.received,
		backend.metrics.dropped,
		backend.metrics.pollHz,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
