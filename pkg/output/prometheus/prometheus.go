package prometheus

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

const (
	DefaultListenAddress = ":9855"
	metricsPath          = "/metrics"
	namespace            = "max31855"
)

// PromOutput exposes the latest reading of every channel as gauges.
type PromOutput struct {
	registry        *prometheus.Registry
	temperature     *prometheus.GaugeVec
	referenceJunct  *prometheus.GaugeVec
	faults          *prometheus.CounterVec
	tick            prometheus.Gauge
	server          *http.Server
	addr            string
	shutdownTimeout time.Duration
}

func newMetrics() *PromOutput {
	labels := []string{"channel", "cs", "unit"}
	p := &PromOutput{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thermocouple_temperature",
			Help:      "Thermocouple temperature in the configured unit.",
		}, labels),
		referenceJunct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_junction_temperature",
			Help:      "Cold junction temperature in the configured unit.",
		}, labels),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faulted readings per channel and fault kind.",
		}, []string{"channel", "cs", "fault"}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick",
			Help:      "Index of the last published tick.",
		}),
		shutdownTimeout: 2 * time.Second,
	}
	p.registry.MustRegister(p.temperature, p.referenceJunct, p.faults, p.tick)
	// Add Go module build info.
	p.registry.MustRegister(prometheus.NewBuildInfoCollector())
	return p
}

// NewPrometheus binds cfg.ListenAddress and serves the metrics on it.
func NewPrometheus(cfg config.PrometheusConfig) (*PromOutput, error) {
	addr := cfg.ListenAddress
	if addr == "" {
		addr = DefaultListenAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "prometheus listen %s", addr)
	}
	p := newMetrics()
	mux := http.NewServeMux()
	mux.Handle(metricsPath, p.Handler())
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	p.addr = ln.Addr().String()
	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("addr", p.addr).Error("prometheus listener stopped")
		}
	}()
	log.WithField("addr", p.addr).Info("serving prometheus metrics")
	return p, nil
}

// Addr is the address the metrics listener is bound to.
func (p *PromOutput) Addr() string { return p.addr }

// Handler returns the HTTP handler for this output's registry.
func (p *PromOutput) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

func (p *PromOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		ch := strconv.Itoa(r.Channel)
		cs := strconv.Itoa(r.CS)
		unit := r.Unit.String()
		if r.Quarantined {
			// channel no longer read
			p.temperature.DeleteLabelValues(ch, cs, unit)
			p.referenceJunct.DeleteLabelValues(ch, cs, unit)
			continue
		}
		p.referenceJunct.WithLabelValues(ch, cs, unit).Set(r.RefJunction)
		if r.OK() {
			p.temperature.WithLabelValues(ch, cs, unit).Set(r.Value)
			continue
		}
		// no data point while the channel is faulted
		p.temperature.DeleteLabelValues(ch, cs, unit)
		p.faults.WithLabelValues(ch, cs, r.Fault.String()).Inc()
	}
	if len(readings) > 0 {
		p.tick.Set(float64(readings[0].Tick))
	}
	return nil
}

func (p *PromOutput) Close() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancel()
	return p.server.Shutdown(ctx)
}
