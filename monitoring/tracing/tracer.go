// Package tracing sets up opencensus tracing with a Jaeger exporter.
package tracing

import (
	"contrib.go.opencensus.io/exporter/jaeger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"
)

var log = logrus.WithField("prefix", "tracing")

// Setup configures the process-wide trace sampler and, when enabled,
// registers a Jaeger exporter at the given endpoint.
func Setup(serviceName, processName, endpoint string, sampleFraction float64, enable bool) error {
	if !enable {
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.NeverSample()})
		return nil
	}
	if serviceName == "" {
		return errors.New("tracing service name cannot be empty")
	}
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(sampleFraction)})

	log.WithField("endpoint", endpoint).Info("Starting Jaeger exporter")
	exporter, err := jaeger.NewExporter(jaeger.Options{
		Endpoint: endpoint,
		Process: jaeger.Process{
			ServiceName: serviceName,
			Tags:        processTags(processName),
		},
	})
	if err != nil {
		return err
	}
	trace.RegisterExporter(exporter)
	return nil
}

func processTags(processName string) []jaeger.Tag {
	if processName == "" {
		return nil
	}
	return []jaeger.Tag{jaeger.StringTag("process_name", processName)}
}
