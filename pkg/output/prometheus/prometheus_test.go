package prometheus

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

func gather(t *testing.T, p *PromOutput) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := p.registry.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPublishSetsGauges(t *testing.T) {
	p := newMetrics()
	require.NoError(t, p.Publish([]sensor.Reading{
		{Tick: 7, Channel: 0, CS: 4, Value: 25.5, RefJunction: 21},
		{Tick: 7, Channel: 1, CS: 17, RefJunction: 22, Fault: max31855.FaultOpenCircuit},
	}))

	mfs := gather(t, p)
	temp := mfs["max31855_thermocouple_temperature"]
	require.NotNil(t, temp)
	require.Len(t, temp.GetMetric(), 1)
	assert.Equal(t, 25.5, temp.GetMetric()[0].GetGauge().GetValue())

	assert.Len(t, mfs["max31855_reference_junction_temperature"].GetMetric(), 2)

	faults := mfs["max31855_faults_total"]
	require.NotNil(t, faults)
	require.Len(t, faults.GetMetric(), 1)
	assert.Equal(t, 1.0, faults.GetMetric()[0].GetCounter().GetValue())

	assert.Equal(t, 7.0, mfs["max31855_tick"].GetMetric()[0].GetGauge().GetValue())
}

func samplerReadings(t *testing.T, policy sensor.Policy, ticks int) [][]sensor.Reading {
	t.Helper()
	sim := max31855.NewSimBus(23, 22)
	sim.Attach(4, max31855.Sequence(
		max31855.EncodeFrame(30, 20, max31855.FaultNone),
		max31855.EncodeFrame(30, 20, max31855.FaultNone),
		max31855.EncodeFrame(0, 20, max31855.FaultOpenCircuit),
	))
	sim.Attach(17, max31855.Constant(max31855.EncodeFrame(50, 21, max31855.FaultNone)))
	s, err := sensor.NewSampler(sim, 23, 22, []int{4, 17}, sensor.Celsius, policy)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var out [][]sensor.Reading
	for tick := 0; tick < ticks; tick++ {
		rs, err := s.Read(tick)
		out = append(out, rs)
		if err != nil {
			break
		}
	}
	return out
}

func TestQuarantineFaultCountedOnce(t *testing.T) {
	p := newMetrics()
	for _, rs := range samplerReadings(t, sensor.QuarantineFaultingChannel, 4) {
		require.NoError(t, p.Publish(rs))
	}

	mfs := gather(t, p)
	faults := mfs["max31855_faults_total"]
	require.NotNil(t, faults, "open circuit must be counted")
	require.Len(t, faults.GetMetric(), 1)
	assert.Equal(t, 1.0, faults.GetMetric()[0].GetCounter().GetValue())

	temp := mfs["max31855_thermocouple_temperature"]
	require.Len(t, temp.GetMetric(), 1, "only the healthy channel keeps a temperature")
	assert.Equal(t, 50.0, temp.GetMetric()[0].GetGauge().GetValue())
	assert.Len(t, mfs["max31855_reference_junction_temperature"].GetMetric(), 1)
	assert.Equal(t, 3.0, mfs["max31855_tick"].GetMetric()[0].GetGauge().GetValue())
}

func TestHaltFaultCounted(t *testing.T) {
	p := newMetrics()
	readings := samplerReadings(t, sensor.HaltOnFault, 4)
	require.Len(t, readings, 2, "halts on the faulted tick")
	for _, rs := range readings {
		require.NoError(t, p.Publish(rs))
	}
	faults := gather(t, p)["max31855_faults_total"]
	require.NotNil(t, faults)
	assert.Equal(t, 1.0, faults.GetMetric()[0].GetCounter().GetValue())
}

func TestNewPrometheusServes(t *testing.T) {
	p, err := NewPrometheus(config.PrometheusConfig{ListenAddress: "127.0.0.1:0"})
	require.NoError(t, err)
	defer p.Close()

	resp, err := http.Get("http://" + p.Addr() + metricsPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewPrometheusPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = NewPrometheus(config.PrometheusConfig{ListenAddress: ln.Addr().String()})
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	p := newMetrics()
	require.NoError(t, p.Publish([]sensor.Reading{{Channel: 0, CS: 4, Unit: sensor.Kelvin, Value: 300}}))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `max31855_thermocouple_temperature{channel="0",cs="4",unit="k"} 300`), body)
	require.NoError(t, p.Close())
}
