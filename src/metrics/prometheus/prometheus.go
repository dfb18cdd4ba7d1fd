// Package prometheus provides an implementation of metrics for the uploader using Prometheus as a backend.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"

	"github.com/thought-machine/artifact-upload/src/cli/logging"
	"github.com/thought-machine/artifact-upload/src/metrics"
)

var log = logging.Log

// Register registers this implementation as the active one, labelling everything with the given version.
func Register(version string) {
	RegisterWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer, version)
}

// RegisterWith is like Register but allows choosing the registry used.
func RegisterWith(registerer prometheus.Registerer, gatherer prometheus.Gatherer, version string) {
	metrics.SetImplementation(&prom{
		registerer: prometheus.WrapRegistererWith(prometheus.Labels{
			"version": version,
		}, registerer),
		gatherer: gatherer,
	})
}

// prom is the concrete implementation of metrics using Prometheus
type prom struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// Push performs a single push of all registered metrics to the pushgateway.
func (p *prom) Push(config metrics.Config) {
	if family, err := p.gatherer.Gather(); err == nil {
		for _, fam := range family {
			for _, metric := range fam.Metric {
				if metric.Counter != nil {
					log.Debug("Metric recorded: %s: %0.0f", *fam.Name, *metric.Counter.Value)
				}
			}
		}
	}

	if err := push.New(config.PushGatewayURL, "artifact_upload").
		Client(&http.Client{Timeout: config.Timeout}).
		Gatherer(p.gatherer).Format(expfmt.FmtText).
		Push(); err != nil {
		log.Warning("Error pushing Prometheus metrics: %s", err)
	}
}

// RegisterCounter registers a new counter with Prometheus
func (p *prom) RegisterCounter(counter *metrics.Counter) metrics.Incrementer {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "artifact",
		Subsystem: counter.Subsystem,
		Name:      counter.Name,
		Help:      counter.Help,
	})
	p.registerer.MustRegister(c)
	return c
}

// RegisterHistogram registers a new histogram with Prometheus
func (p *prom) RegisterHistogram(hist *metrics.Histogram) metrics.Observer {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "artifact",
		Subsystem: hist.Subsystem,
		Name:      hist.Name,
		Help:      hist.Help,
		Buckets:   hist.Buckets,
	})
	p.registerer.MustRegister(h)
	return h
}
