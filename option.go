package stepflow

import (
	"github.com/viant/stepflow/progress"
	"github.com/viant/stepflow/service/dao"
	"github.com/viant/stepflow/service/event"
	"github.com/viant/stepflow/service/messaging/memory"
	"github.com/viant/stepflow/tracing"
	"go.uber.org/zap"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises a Sequence.
type Option func(s *Sequence)

// WithName sets the sequence name used in logs, spans, events and the journal.
func WithName(name string) Option {
	return func(s *Sequence) {
		s.name = name
	}
}

// WithTolerance sets the default error policy of every run.
func WithTolerance(tolerant bool) Option {
	return func(s *Sequence) {
		s.tolerant = tolerant
	}
}

// WithRepeat makes repeat the default decision: every task is invoked again
// until it configures Repeat(false) or the repeat cap is reached.
func WithRepeat(repeat bool) Option {
	return func(s *Sequence) {
		s.repeat = repeat
	}
}

// WithMaxRepeats caps consecutive repetitions of one task; 0 means unlimited.
func WithMaxRepeats(max int) Option {
	return func(s *Sequence) {
		s.maxRepeats = max
	}
}

// WithScope sets an opaque value every task can read via Controller.Scope.
func WithScope(scope interface{}) Option {
	return func(s *Sequence) {
		s.scope = scope
	}
}

// WithCatcher recovers task panics. Without a catcher a panicking task aborts
// its run and the panic propagates to the dispatching caller.
func WithCatcher(catcher Catcher) Option {
	return func(s *Sequence) {
		s.catcher = catcher
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sequence) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher publishes run lifecycle events.
func WithPublisher(publisher *event.Publisher[Lifecycle]) Option {
	return func(s *Sequence) {
		s.publisher = publisher
	}
}

// WithJournal records a RunInfo for every run when it starts and finishes.
func WithJournal(journal dao.Service[string, RunInfo]) Option {
	return func(s *Sequence) {
		s.journal = journal
	}
}

// WithProgress registers a callback receiving every progress update of a run.
func WithProgress(onChange func(progress.Progress)) Option {
	return func(s *Sequence) {
		s.onProgress = onChange
	}
}

// WithTracing exports spans with the stdout exporter, to outputFile when it
// is not empty. The first successful initialisation in the process wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Sequence) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter exports spans with a custom exporter.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Sequence) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}

// WithConfig applies a serialisable configuration. Options listed after it
// override what it sets.
func WithConfig(cfg *Config) Option {
	return func(s *Sequence) {
		if cfg == nil {
			return
		}
		if cfg.Name != "" {
			s.name = cfg.Name
		}
		s.tolerant = bool(cfg.Tolerance)
		s.repeat = bool(cfg.Repeat)
		s.maxRepeats = cfg.MaxRepeats
		if cfg.Events.Enabled && s.publisher == nil {
			s.publisher = event.NewMemoryPublisher[Lifecycle](memory.Config{
				QueueBuffer: cfg.Events.Buffer,
				MaxRetries:  cfg.Events.MaxRetries,
				NonBlocking: true,
			})
		}
		if cfg.Tracing.Enabled {
			_ = tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.ServiceVersion, cfg.Tracing.OutputFile)
		}
	}
}
