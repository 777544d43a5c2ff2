package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/novadex/swap-engine/internal/domain/order"
)

const orderColumns = `id, token_in, token_out, amount, slippage_tolerance, status,
		retry_count, max_retries, executed_venue, executed_price,
		transaction_hash, error_message, confirmed_at, created_at, updated_at`

const nonTerminalGuard = `status NOT IN ('completed','failed','cancelled')`

// OrderRepository implements order.Repository with PostgreSQL.
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{
		db: db,
	}
}

// Create inserts a new order row.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	query := `
		INSERT INTO orders (
			id, token_in, token_out, amount, slippage_tolerance,
			status, retry_count, max_retries, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := r.db.Exec(ctx, query,
		o.ID,
		o.TokenIn,
		o.TokenOut,
		o.Amount,
		o.SlippageTolerance,
		string(o.Status.Persisted()),
		o.RetryCount,
		o.MaxRetries,
		o.CreatedAt,
		o.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return o, nil
}

// Update applies a partial update. When the update touches status, the
// statement refuses to modify terminal orders.
func (r *OrderRepository) Update(ctx context.Context, id string, update order.Update) (*order.Order, error) {
	sets, args := buildSetClause(update)
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	guard := ""
	if update.Status != nil {
		guard = " AND " + nonTerminalGuard
	}

	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $1%s RETURNING %s`,
		strings.Join(sets, ", "), guard, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, append([]interface{}{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		if isUniqueViolation(err, "transaction_hash") {
			return nil, order.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	return o, nil
}

// UpdateStatus moves the order to status. Progress states collapse to
// processing before hitting the table.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", order.ErrValidation, status)
	}

	query := fmt.Sprintf(`
		UPDATE orders SET status = $2
		WHERE id = $1 AND %s
		RETURNING %s`, nonTerminalGuard, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, id, string(status.Persisted())))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	return o, nil
}

// RecordRetry atomically returns the order to pending and consumes one
// retry. The retry_count guard makes double-delivery of the same failure
// burn at most the budget, never more.
func (r *OrderRepository) RecordRetry(ctx context.Context, id string, errMsg string) (*order.Order, error) {
	query := fmt.Sprintf(`
		UPDATE orders
		SET status = 'pending', retry_count = retry_count + 1, error_message = $2
		WHERE id = $1 AND %s AND retry_count < max_retries
		RETURNING %s`, nonTerminalGuard, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, id, errMsg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyRetryMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to record retry: %w", err)
	}

	return o, nil
}

// Complete writes the successful outcome in one statement.
func (r *OrderRepository) Complete(ctx context.Context, id, venue string, price decimal.Decimal, txHash string, confirmedAt time.Time) (*order.Order, error) {
	query := fmt.Sprintf(`
		UPDATE orders
		SET status = 'completed', executed_venue = $2, executed_price = $3,
			transaction_hash = $4, confirmed_at = $5, error_message = NULL
		WHERE id = $1 AND %s
		RETURNING %s`, nonTerminalGuard, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, id, venue, price, txHash, confirmedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		if isUniqueViolation(err, "transaction_hash") {
			return nil, order.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to complete order: %w", err)
	}

	return o, nil
}

// Fail marks the order terminally failed.
func (r *OrderRepository) Fail(ctx context.Context, id, errMsg string) (*order.Order, error) {
	query := fmt.Sprintf(`
		UPDATE orders SET status = 'failed', error_message = $2
		WHERE id = $1 AND %s
		RETURNING %s`, nonTerminalGuard, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, id, errMsg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to mark order failed: %w", err)
	}

	return o, nil
}

// Cancel marks the order cancelled. Terminal orders are rejected.
func (r *OrderRepository) Cancel(ctx context.Context, id string) (*order.Order, error) {
	query := fmt.Sprintf(`
		UPDATE orders SET status = 'cancelled'
		WHERE id = $1 AND %s
		RETURNING %s`, nonTerminalGuard, orderColumns)

	o, err := r.scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	return o, nil
}

// Delete removes the row while the order is still pending. Used to roll
// back creation when the order never made it onto the queue.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM orders WHERE id = $1 AND status = 'pending'`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return order.ErrNotPending
	}

	return nil
}

// List returns matching orders newest first plus the total match count.
func (r *OrderRepository) List(ctx context.Context, filter order.Filter) ([]*order.Order, int64, error) {
	whereClause, args := buildWhereClause(filter)

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM orders %s`, whereClause)
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s FROM orders %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, orderColumns, whereClause, len(args)+1, len(args)+2)

	args = append(args, limit, offset)
	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating order rows: %w", err)
	}

	return orders, total, nil
}

// Count returns the number of orders matching the filter.
func (r *OrderRepository) Count(ctx context.Context, filter order.Filter) (int64, error) {
	whereClause, args := buildWhereClause(filter)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM orders %s`, whereClause)
	var total int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}

	return total, nil
}

// classifyMiss explains why a guarded transition matched no row.
func (r *OrderRepository) classifyMiss(ctx context.Context, id string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: order is %s", order.ErrTerminalState, current.Status)
	}
	return order.ErrInvalidTransition
}

func (r *OrderRepository) classifyRetryMiss(ctx context.Context, id string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: order is %s", order.ErrTerminalState, current.Status)
	}
	if !current.CanRetry() {
		return fmt.Errorf("%w: %d of %d retries used", order.ErrRetriesExhausted,
			current.RetryCount, current.MaxRetries)
	}
	return order.ErrInvalidTransition
}

func (r *OrderRepository) scanOrder(scanner interface {
	Scan(dest ...interface{}) error
}) (*order.Order, error) {
	var o order.Order
	var status string
	var executedVenue, transactionHash, errorMessage sql.NullString
	var executedPrice decimal.NullDecimal
	var confirmedAt sql.NullTime

	err := scanner.Scan(
		&o.ID,
		&o.TokenIn,
		&o.TokenOut,
		&o.Amount,
		&o.SlippageTolerance,
		&status,
		&o.RetryCount,
		&o.MaxRetries,
		&executedVenue,
		&executedPrice,
		&transactionHash,
		&errorMessage,
		&confirmedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	if executedVenue.Valid {
		o.SelectedVenue = executedVenue.String
	}
	if executedPrice.Valid {
		price := executedPrice.Decimal
		o.ExecutedPrice = &price
	}
	if transactionHash.Valid {
		o.TransactionHash = transactionHash.String
	}
	if errorMessage.Valid {
		o.ErrorMessage = errorMessage.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		o.ConfirmedAt = &t
	}

	return &o, nil
}

func buildSetClause(update order.Update) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	argCount := 1

	add := func(column string, value interface{}) {
		argCount++
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
	}

	if update.Status != nil {
		add("status", string(update.Status.Persisted()))
	}
	if update.RetryCount != nil {
		add("retry_count", *update.RetryCount)
	}
	if update.SelectedVenue != nil {
		add("executed_venue", *update.SelectedVenue)
	}
	if update.ExecutedPrice != nil {
		add("executed_price", *update.ExecutedPrice)
	}
	if update.TransactionHash != nil {
		add("transaction_hash", *update.TransactionHash)
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	if update.ConfirmedAt != nil {
		add("confirmed_at", *update.ConfirmedAt)
	}

	return sets, args
}

func buildWhereClause(filter order.Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filter.Status != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argCount))
		args = append(args, string(filter.Status.Persisted()))
	}

	if filter.TokenIn != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf("token_in = $%d", argCount))
		args = append(args, filter.TokenIn)
	}

	if filter.TokenOut != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf("token_out = $%d", argCount))
		args = append(args, filter.TokenOut)
	}

	if filter.MinAmount != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("amount >= $%d", argCount))
		args = append(args, *filter.MinAmount)
	}

	if filter.MaxAmount != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("amount <= $%d", argCount))
		args = append(args, *filter.MaxAmount)
	}

	if filter.CreatedAfter != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, *filter.CreatedAfter)
	}

	if filter.CreatedBefore != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argCount))
		args = append(args, *filter.CreatedBefore)
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func isUniqueViolation(err error, constraintPart string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, constraintPart)
}
