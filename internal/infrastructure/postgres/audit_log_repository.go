package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novadex/swap-engine/internal/domain/audit"
)

// appendRetries bounds the version race loop: two writers appending to
// the same order can both compute the same next version, and the loser
// retries with a fresh one.
const appendRetries = 5

// AuditLogRepository implements audit.LogRepository with PostgreSQL.
type AuditLogRepository struct {
	db *pgxpool.Pool
}

// NewAuditLogRepository creates a new PostgreSQL audit log repository.
func NewAuditLogRepository(db *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{
		db: db,
	}
}

// Append stores an audit record. A zero EventVersion is assigned
// MAX(event_version)+1 for the order inside the INSERT; records carrying
// an explicit version are idempotent and duplicates are dropped.
func (r *AuditLogRepository) Append(ctx context.Context, rec *audit.Record) error {
	if !rec.EventType.Valid() {
		return fmt.Errorf("%w: %q", audit.ErrInvalidEvent, rec.EventType)
	}
	if rec.OrderID == "" {
		return fmt.Errorf("%w: missing order id", audit.ErrInvalidEvent)
	}

	dataJSON, err := marshalJSONB(rec.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	metaJSON, err := marshalOptionalJSONB(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if rec.EventVersion > 0 {
		return r.appendExplicit(ctx, rec, dataJSON, metaJSON)
	}
	return r.appendNext(ctx, rec, dataJSON, metaJSON)
}

func (r *AuditLogRepository) appendExplicit(ctx context.Context, rec *audit.Record, dataJSON, metaJSON []byte) error {
	query := `
		INSERT INTO order_history (
			id, order_id, event_type, event_data, event_version, timestamp, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (order_id, event_version) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.OrderID,
		string(rec.EventType),
		dataJSON,
		rec.EventVersion,
		rec.Timestamp,
		metaJSON,
	)

	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

func (r *AuditLogRepository) appendNext(ctx context.Context, rec *audit.Record, dataJSON, metaJSON []byte) error {
	query := `
		INSERT INTO order_history (
			id, order_id, event_type, event_data, event_version, timestamp, metadata
		) VALUES (
			$1, $2, $3, $4,
			(SELECT COALESCE(MAX(event_version), 0) + 1 FROM order_history WHERE order_id = $2),
			$5, $6
		)
		RETURNING event_version`

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := r.db.QueryRow(ctx, query,
			rec.ID,
			rec.OrderID,
			string(rec.EventType),
			dataJSON,
			rec.Timestamp,
			metaJSON,
		).Scan(&rec.EventVersion)

		if err == nil {
			return nil
		}
		if !isVersionConflict(err) {
			return fmt.Errorf("failed to append audit record: %w", err)
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %v", audit.ErrVersionConflict, lastErr)
}

// ListByOrder returns an order's full trail, oldest first.
func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string) ([]*audit.Record, error) {
	query := `
		SELECT id, order_id, event_type, event_data, event_version, timestamp, metadata
		FROM order_history
		WHERE order_id = $1
		ORDER BY timestamp ASC, event_version ASC`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit record rows: %w", err)
	}

	return records, nil
}

// DeleteOlderThan prunes trail entries for terminal orders older than the
// cutoff. Rows of live orders are kept regardless of age.
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM order_history h
		USING orders o
		WHERE h.order_id = o.id
		  AND h.timestamp < $1
		  AND o.status IN ('completed','failed','cancelled')`

	result, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit records: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *AuditLogRepository) scanRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (*audit.Record, error) {
	var rec audit.Record
	var eventType string
	var dataJSON, metaJSON []byte

	err := scanner.Scan(
		&rec.ID,
		&rec.OrderID,
		&eventType,
		&dataJSON,
		&rec.EventVersion,
		&rec.Timestamp,
		&metaJSON,
	)

	if err != nil {
		return nil, err
	}

	rec.EventType = audit.EventType(eventType)

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &rec.EventData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}

func marshalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func marshalOptionalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func isVersionConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == "order_history_order_id_event_version_key"
}
