package ingestion

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/errs"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// CommandProcessor is the part of the core the ingest surfaces need.
type CommandProcessor interface {
	ProcessEvent(ctx context.Context, evt event.Event) (core.Result, error)
}

// IngestService is the shell between the transports and the core: it
// parses, submits and reports. gRPC and HTTP calls use Submit directly;
// NATS messages arrive through Run.
type IngestService struct {
	core     CommandProcessor
	subjects []SubjectConfig
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewIngestService(processor CommandProcessor, metrics *observability.Metrics, logger zerolog.Logger) *IngestService {
	return &IngestService{
		core:     processor,
		subjects: DefaultSubjects(),
		metrics:  metrics,
		logger:   logger,
	}
}

// Submit decodes and applies one command.
func (s *IngestService) Submit(ctx context.Context, et event.EventType, data []byte) (core.Result, error) {
	evt, err := ParseCommand(et, data)
	if err != nil {
		return core.Result{}, err
	}
	return s.apply(ctx, evt, time.Now())
}

// SubmitEvent applies an already typed command.
func (s *IngestService) SubmitEvent(ctx context.Context, evt event.Event) (core.Result, error) {
	return s.apply(ctx, evt, time.Now())
}

func (s *IngestService) apply(ctx context.Context, evt event.Event, received time.Time) (core.Result, error) {
	res, err := s.core.ProcessEvent(ctx, evt)
	if err == nil && s.metrics != nil {
		s.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(received).Seconds())
	}
	return res, err
}

// Run drains NATS messages until ctx is cancelled or rawChan closes.
//
// Ack policy: a message is acked once the core has given a final answer,
// whether applied, duplicate, or rejected by a business rule. A nonce gap
// means an earlier command from the same caller has not arrived yet, so the
// message is NAKed for redelivery. Undecodable messages are acked and dropped.
func (s *IngestService) Run(ctx context.Context, rawChan <-chan RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			s.handleRaw(ctx, raw)
		}
	}
}

func (s *IngestService) handleRaw(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, s.subjects)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping undecodable command")
		ack(raw)
		return
	}

	received := raw.Timestamp
	if received.IsZero() {
		received = time.Now()
	}

	res, err := s.apply(ctx, evt, received)
	switch {
	case err == nil:
		if res.Duplicate {
			s.logger.Debug().Str("key", evt.IdempotencyKey()).Msg("duplicate command")
		}
		ack(raw)
	case errors.Is(err, core.ErrNonceGap):
		s.logger.Info().Err(err).Str("key", evt.IdempotencyKey()).Msg("nonce gap, requesting redelivery")
		nak(raw)
	default:
		s.logger.Info().
			Err(err).
			Str("command", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).
			Str("kind", errs.Name(err)).
			Msg("command rejected")
		ack(raw)
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
