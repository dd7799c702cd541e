// Package metrics defines a small Provider abstraction so the rest of
// Pulse never imports Prometheus types directly; only this package and its
// Prometheus-backed implementation do.
package metrics

import "context"

// Counter represents a monotonically increasing value.
type Counter interface {
	Inc(delta float64, labels ...string)
}

// Gauge represents a value that can go up or down.
type Gauge interface {
	Set(value float64, labels ...string)
	Add(delta float64, labels ...string)
}

// Histogram records observations into buckets and tracks count + sum.
type Histogram interface {
	Observe(value float64, labels ...string)
}

// Timer is a helper handle for measuring latency.
type Timer interface {
	ObserveDuration(labels ...string)
}

// Provider is the top-level metrics provider abstraction.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	Health(ctx context.Context) error
}

// CommonOpts are fields embedded into each metric option struct.
type CommonOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}
type noopTimer struct{}

// NewNoopProvider returns a provider that does nothing, used by
// NewPipeline when it is given a nil provider.
func NewNoopProvider() Provider { return &noopProvider{} }

func (p *noopProvider) NewCounter(CounterOpts) Counter             { return noopCounter{} }
func (p *noopProvider) NewGauge(GaugeOpts) Gauge                   { return noopGauge{} }
func (p *noopProvider) NewHistogram(HistogramOpts) Histogram       { return noopHistogram{} }
func (p *noopProvider) NewTimer(HistogramOpts) func() Timer        { return func() Timer { return noopTimer{} } }
func (p *noopProvider) Health(context.Context) error               { return nil }
func (noopCounter) Inc(float64, ...string)                         {}
func (noopGauge) Set(float64, ...string)                           {}
func (noopGauge) Add(float64, ...string)                           {}
func (noopHistogram) Observe(float64, ...string)                   {}
func (noopTimer) ObserveDuration(...string)                        {}
