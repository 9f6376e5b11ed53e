package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Filter narrows ListWithFilter results. All fields are optional and
// combined with AND.
type Filter struct {
	UserID          *int64
	Status          *Status
	MinAmount       *decimal.Decimal
	MaxAmount       *decimal.Decimal
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	ExpiresFrom     *time.Time
	ExpiresTo       *time.Time
	OrderNumberLike string
	Limit           int
	Offset          int
}

// Stats aggregates orders over a rolling window. Revenue counts only
// paid and completed orders.
type Stats struct {
	OrderCount        int64            `json:"order_count"`
	TotalRevenue      decimal.Decimal  `json:"total_revenue"`
	AverageOrderValue decimal.Decimal  `json:"average_order_value"`
	StatusBreakdown   map[Status]int64 `json:"status_breakdown"`
	PeriodDays        int              `json:"period_days"`
}

type Repository interface {
	CreateWithItems(ctx context.Context, o *Order) (int64, error)
	GetWithItems(ctx context.Context, id int64) (*Order, error)
	GetByOrderNumber(ctx context.Context, number string) (*Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	ListForUser(ctx context.Context, userID int64, status *Status, limit, offset int) ([]Order, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Order, error)
	ListWithFilter(ctx context.Context, f Filter) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID int64, newStatus Status, reason string) error
	UpdateStatusIf(ctx context.Context, orderID int64, from, to Status) (bool, error)
	SetPayment(ctx context.Context, orderID int64, method, paymentID string) error
	AppendNote(ctx context.Context, orderID int64, note string) error
	Cancel(ctx context.Context, orderID int64, reason string) error
	ListExpired(ctx context.Context, hoursOld int) ([]Order, error)
	Stats(ctx context.Context, userID *int64, days int) (*Stats, error)
	Search(ctx context.Context, term string, userID *int64, limit, offset int) ([]Order, error)
	BulkUpdateStatus(ctx context.Context, orderIDs []int64, from, to Status, reason string) (int64, error)
	CleanupExpired(ctx context.Context, hoursOld int) (int64, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, order_number, user_id, total_amount, currency, status, payment_method, payment_id, notes, expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.TotalAmount,
		&o.Currency,
		&o.Status,
		&o.PaymentMethod,
		&o.PaymentID,
		&o.Notes,
		&o.ExpiresAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateWithItems persists the order header and all item rows in one
// transaction. A failure on any row rolls back the whole order, so a
// partially written order is never observable.
func (r *postgresRepository) CreateWithItems(ctx context.Context, o *Order) (orderID int64, err error) {
	if len(o.Items) == 0 {
		return 0, &ValidationError{Reason: "order must contain at least one item"}
	}

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return 0, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Str("order_number", o.OrderNumber).Msg("repository: failed to rollback create transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Currency == "" {
		o.Currency = "USD"
	}

	queryOrder := `
		INSERT INTO orders (order_number, user_id, total_amount, currency, status, payment_method, payment_id, notes, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err = tx.QueryRow(ctx, queryOrder,
		o.OrderNumber,
		o.UserID,
		o.TotalAmount,
		o.Currency,
		string(o.Status),
		o.PaymentMethod,
		o.PaymentID,
		o.Notes,
		o.ExpiresAt,
		o.CreatedAt,
		o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return 0, wrapStorageErr("insert order", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, generation_params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		item.CreatedAt = now

		err = tx.QueryRow(ctx, queryItem,
			o.ID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			item.TotalPrice,
			item.GenerationParams,
			item.CreatedAt,
		).Scan(&item.ID)
		if err != nil {
			return 0, wrapStorageErr(fmt.Sprintf("insert order item for order %s", o.OrderNumber), err)
		}
	}

	return o.ID, nil
}

// wrapStorageErr converts constraint violations into validation errors
// and wraps everything else as a storage failure.
func wrapStorageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return &ValidationError{Reason: "item references an unknown product"}
		case pgerrcode.CheckViolation:
			return &ValidationError{Reason: "order violates constraint " + pgErr.ConstraintName}
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("repository: %s: unique constraint %s: %w", op, pgErr.ConstraintName, err)
		}
	}
	return fmt.Errorf("repository: failed to %s: %w", op, err)
}

func (r *postgresRepository) GetWithItems(ctx context.Context, id int64) (*Order, error) {
	o, err := r.getBy(ctx, "id = $1", id)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetByOrderNumber(ctx context.Context, number string) (*Order, error) {
	o, err := r.getBy(ctx, "order_number = $1", number)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	o, err := r.getBy(ctx, "payment_id = $1", paymentID)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) getBy(ctx context.Context, where string, arg any) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where

	o, err := scanOrder(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order (%s): %w", where, err)
	}
	return o, nil
}

// loadItems attaches item rows to the given orders with a single
// order_id = ANY query, avoiding per-order round trips.
func (r *postgresRepository) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		o.Items = make([]OrderItem, 0)
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	query := `
		SELECT id, order_id, product_id, quantity, unit_price, total_price, generation_params, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.GenerationParams,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func (r *postgresRepository) list(ctx context.Context, where string, args []any, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, normalizeLimit(limit), offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	var refs []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	for i := range orders {
		refs = append(refs, &orders[i])
	}
	if err := r.loadItems(ctx, refs); err != nil {
		return nil, err
	}
	return orders, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func (r *postgresRepository) ListForUser(ctx context.Context, userID int64, status *Status, limit, offset int) ([]Order, error) {
	if status != nil {
		return r.list(ctx, "user_id = $1 AND status = $2", []any{userID, string(*status)}, limit, offset)
	}
	return r.list(ctx, "user_id = $1", []any{userID}, limit, offset)
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Order, error) {
	return r.list(ctx, "status = $1", []any{string(status)}, limit, offset)
}

func (r *postgresRepository) ListWithFilter(ctx context.Context, f Filter) ([]Order, error) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.MinAmount != nil {
		add("total_amount >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("total_amount <= $%d", *f.MaxAmount)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at <= $%d", *f.CreatedTo)
	}
	if f.ExpiresFrom != nil {
		add("expires_at >= $%d", *f.ExpiresFrom)
	}
	if f.ExpiresTo != nil {
		add("expires_at <= $%d", *f.ExpiresTo)
	}
	if f.OrderNumberLike != "" {
		add("order_number ILIKE $%d", "%"+f.OrderNumberLike+"%")
	}

	return r.list(ctx, strings.Join(conds, " AND "), args, f.Limit, f.Offset)
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, orderID int64, newStatus Status, reason string) error {
	current, err := r.getBy(ctx, "id = $1", orderID)
	if err != nil {
		return err
	}
	oldStatus := current.Status

	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update status of order %d: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	log.Info().
		Int64("order_id", orderID).
		Stringer("old_status", oldStatus).
		Stringer("new_status", newStatus).
		Str("reason", reason).
		Msg("repository: order status updated")
	return nil
}

// UpdateStatusIf is the compare-and-set status transition: the update
// applies only when the row still holds the expected prior status.
// Returns false when the guard did not match, which is how duplicate
// webhook deliveries are detected.
func (r *postgresRepository) UpdateStatusIf(ctx context.Context, orderID int64, from, to Status) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	cmdTag, err := r.db.Exec(ctx, query, string(to), time.Now().UTC(), orderID, string(from))
	if err != nil {
		return false, fmt.Errorf("repository: failed conditional status update of order %d: %w", orderID, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) SetPayment(ctx context.Context, orderID int64, method, paymentID string) error {
	query := `
		UPDATE orders
		SET payment_method = $1, payment_id = $2, updated_at = $3
		WHERE id = $4
	`

	cmdTag, err := r.db.Exec(ctx, query, method, paymentID, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to set payment on order %d: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// AppendNote adds a line to the order's audit notes.
func (r *postgresRepository) AppendNote(ctx context.Context, orderID int64, note string) error {
	query := `
		UPDATE orders
		SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END,
		    updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := r.db.Exec(ctx, query, note, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to append note to order %d: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// Cancel moves an order to cancelled, guarded so that completed or
// already terminal orders are rejected without any state change.
func (r *postgresRepository) Cancel(ctx context.Context, orderID int64, reason string) error {
	query := `
		UPDATE orders
		SET status = $1,
		    notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`

	cmdTag, err := r.db.Exec(ctx, query,
		string(StatusCancelled),
		"Cancelled: "+reason,
		time.Now().UTC(),
		orderID,
		string(StatusPending),
		string(StatusPaid),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to cancel order %d: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		// Distinguish a missing order from an illegal transition.
		if _, getErr := r.getBy(ctx, "id = $1", orderID); getErr != nil {
			return getErr
		}
		return ErrInvalidState
	}

	log.Info().Int64("order_id", orderID).Str("reason", reason).Msg("repository: order cancelled")
	return nil
}

// ListExpired returns pending orders whose deadline has passed. The
// deadline itself is compared against now; hoursOld only governs the
// fallback for orders without a deadline, which are judged by creation
// age so a missing expires_at cannot keep an order pending forever.
func (r *postgresRepository) ListExpired(ctx context.Context, hoursOld int) ([]Order, error) {
	now := time.Now().UTC()
	createdBefore := now.Add(-time.Duration(hoursOld) * time.Hour)
	where := `status = $1 AND ((expires_at IS NOT NULL AND expires_at < $2) OR (expires_at IS NULL AND created_at < $3))`
	return r.list(ctx, where, []any{string(StatusPending), now, createdBefore}, 1000, 0)
}

func (r *postgresRepository) Stats(ctx context.Context, userID *int64, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	args := []any{since}
	where := `created_at >= $1`
	if userID != nil {
		args = append(args, *userID)
		where += ` AND user_id = $2`
	}

	query := `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM orders
		WHERE ` + where + `
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		StatusBreakdown:   make(map[Status]int64),
		PeriodDays:        days,
	}
	revenueOrders := int64(0)

	for rows.Next() {
		var status Status
		var count int64
		var amount decimal.Decimal
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order stats: %w", err)
		}
		stats.StatusBreakdown[status] = count
		stats.OrderCount += count
		if status == StatusPaid || status == StatusCompleted {
			stats.TotalRevenue = stats.TotalRevenue.Add(amount)
			revenueOrders += count
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order stats: %w", err)
	}

	if revenueOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(revenueOrders))
	}
	return stats, nil
}

// Search matches the public order number case-insensitively. Terms
// shorter than two characters return nothing instead of scanning the
// whole table.
func (r *postgresRepository) Search(ctx context.Context, term string, userID *int64, limit, offset int) ([]Order, error) {
	term = strings.TrimSpace(term)
	if len(term) < 2 {
		return []Order{}, nil
	}

	args := []any{"%" + term + "%"}
	where := `order_number ILIKE $1`
	if userID != nil {
		args = append(args, *userID)
		where += ` AND user_id = $2`
	}
	return r.list(ctx, where, args, limit, offset)
}

// BulkUpdateStatus applies one batched compare-and-set UPDATE. Only
// rows still in the from status are touched, so an order that moved on
// concurrently (for example a payment webhook landing mid-sweep) is
// left alone rather than overwritten.
func (r *postgresRepository) BulkUpdateStatus(ctx context.Context, orderIDs []int64, from, to Status, reason string) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE orders
		SET status = $1,
		    notes = CASE WHEN $2 = '' THEN notes WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = $3
		WHERE id = ANY($4) AND status = $5
	`

	cmdTag, err := r.db.Exec(ctx, query, string(to), reason, time.Now().UTC(), orderIDs, string(from))
	if err != nil {
		return 0, fmt.Errorf("repository: failed bulk status update: %w", err)
	}

	log.Info().
		Int64("orders_updated", cmdTag.RowsAffected()).
		Stringer("from_status", from).
		Stringer("new_status", to).
		Str("reason", reason).
		Msg("repository: bulk status update applied")
	return cmdTag.RowsAffected(), nil
}

// CleanupExpired transitions stale pending orders to expired and
// returns the number affected. Safe to run repeatedly: the pending
// filter excludes orders already swept.
func (r *postgresRepository) CleanupExpired(ctx context.Context, hoursOld int) (int64, error) {
	expired, err := r.ListExpired(ctx, hoursOld)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(expired))
	for _, o := range expired {
		ids = append(ids, o.ID)
	}
	return r.BulkUpdateStatus(ctx, ids, StatusPending, StatusExpired, "automatic cancellation due to expiration")
}

func (r *postgresRepository) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: failed to probe order number %s: %w", number, err)
	}
	return exists, nil
}
