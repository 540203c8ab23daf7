package ingestion

import (
	"context"

	"OptionPool/internal/event"
	"OptionPool/internal/observability"
	"OptionPool/internal/poolerr"

	"github.com/rs/zerolog"
)

// CommandExecutor is the engine surface the dispatcher drives.
type CommandExecutor interface {
	Execute(cmd event.Command) (*event.Receipt, error)
}

// Dispatcher parses raw messages, executes them one at a time and settles
// the message. Parse failures and domain rejections are final and acked;
// unclassified errors (a dedup lookup timing out) are nacked for redelivery.
type Dispatcher struct {
	exec      CommandExecutor
	inputChan <-chan RawEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(exec CommandExecutor, inputChan <-chan RawEvent, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		exec:      exec,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("dispatcher"),
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.inputChan:
			if !ok {
				return nil
			}
			d.Handle(raw)
		}
	}
}

// Handle processes one message and acks or nacks it.
func (d *Dispatcher) Handle(raw RawEvent) {
	typeName, err := CommandTypeFromSubject(raw.Subject)
	if err == nil {
		var cmd event.Command
		cmd, err = ParseRawCommand(raw, typeName)
		if err == nil {
			d.execute(raw, typeName, cmd)
			return
		}
	}

	if d.metrics != nil {
		d.metrics.IngestInvalid.WithLabelValues("nats").Inc()
	}
	d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
	ack(raw)
}

func (d *Dispatcher) execute(raw RawEvent, typeName string, cmd event.Command) {
	if d.metrics != nil {
		d.metrics.IngestReceived.WithLabelValues("nats", typeName).Inc()
	}

	receipt, err := d.exec.Execute(cmd)
	switch {
	case err == nil:
		d.logger.Debug().
			Int64("sequence", receipt.Sequence).
			Str("command", typeName).
			Str("key", cmd.IdempotencyKey()).
			Bool("duplicate", receipt.Duplicate).
			Msg("command applied")
		ack(raw)
	case poolerr.KindOf(err) != poolerr.KindUnknown:
		d.logger.Info().
			Err(err).
			Str("command", typeName).
			Str("key", cmd.IdempotencyKey()).
			Str("code", poolerr.CodeOf(err)).
			Msg("command rejected")
		ack(raw)
	default:
		d.logger.Error().Err(err).Str("command", typeName).Str("key", cmd.IdempotencyKey()).Msg("command failed, redelivering")
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
