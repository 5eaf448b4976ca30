package utils

import (
	"context"

	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logSpanProcessor writes every finished span to a logger at debug level.
type logSpanProcessor struct {
	logger *logrus.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := logrus.Fields{
		"span":     s.Name(),
		"duration": s.EndTime().Sub(s.StartTime()),
	}
	for _, kv := range s.Attributes() {
		fields[string(kv.Key)] = kv.Value.Emit()
	}
	p.logger.WithFields(fields).Debug("span finished")
}

func (p *logSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }

// NewTracerProvider returns an SDK provider that reports spans through
// logger. Callers should Shutdown it when the run ends.
func NewTracerProvider(logger *logrus.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&logSpanProcessor{logger: logger}),
	)
}
