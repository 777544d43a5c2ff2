package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/audit"
)

// AuditService persists lifecycle events to the audit trail. It
// subscribes to the bus at startup and records every event it sees;
// storage failures are logged and never reach the emitter.
type AuditService struct {
	log    audit.LogRepository
	logger *zap.Logger
}

// NewAuditService builds the service.
func NewAuditService(log audit.LogRepository, logger *zap.Logger) *AuditService {
	return &AuditService{
		log:    log,
		logger: logger,
	}
}

// Subscribe attaches the service to the bus for every event type.
func (s *AuditService) Subscribe(bus audit.Bus) {
	bus.SubscribeAll(s.record)
}

func (s *AuditService) record(ctx context.Context, e audit.Event) {
	if e.OrderID == "" {
		// The trail is keyed by order; process-level events only reach
		// the logs.
		s.logger.Warn("unattributed lifecycle event",
			zap.String("event_type", string(e.Type)),
			zap.Any("data", e.Data),
		)
		return
	}

	rec := &audit.Record{
		OrderID:   e.OrderID,
		EventType: e.Type,
		EventData: e.Data,
		Timestamp: e.Timestamp,
	}
	if err := s.log.Append(ctx, rec); err != nil {
		s.logger.Error("audit trail append failed",
			zap.String("event_type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

// Trail returns the order's recorded events in version order.
func (s *AuditService) Trail(ctx context.Context, orderID string) ([]*audit.Record, error) {
	return s.log.ListByOrder(ctx, orderID)
}
