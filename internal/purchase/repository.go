package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrPurchaseNotFound = errors.New("purchase not found")

type Repository interface {
	Create(ctx context.Context, p *Purchase) (int64, error)
	GetByID(ctx context.Context, id int64) (*Purchase, error)
	ListByOrder(ctx context.Context, orderID int64) ([]Purchase, error)
	ListActiveForUser(ctx context.Context, userID int64, limit, offset int) ([]Purchase, error)
	// FulfilledItemIDs returns the order item ids that already have a
	// purchase row for the given order.
	FulfilledItemIDs(ctx context.Context, orderID int64) (map[int64]bool, error)
	SetActiveByOrder(ctx context.Context, orderID int64, active bool) (int64, error)
	UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const purchaseColumns = `id, user_id, order_id, order_item_id, product_id, proxy_list, username, password, provider_order_id, expires_at, traffic_used_gb, active, created_at, updated_at`

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.OrderID,
		&p.OrderItemID,
		&p.ProductID,
		&p.ProxyList,
		&p.Username,
		&p.Password,
		&p.ProviderOrderID,
		&p.ExpiresAt,
		&p.TrafficUsedGB,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) Create(ctx context.Context, p *Purchase) (int64, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO proxy_purchases (user_id, order_id, order_item_id, product_id, proxy_list, username, password, provider_order_id, expires_at, traffic_used_gb, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		p.UserID,
		p.OrderID,
		p.OrderItemID,
		p.ProductID,
		p.ProxyList,
		p.Username,
		p.Password,
		p.ProviderOrderID,
		p.ExpiresAt,
		p.TrafficUsedGB,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to insert purchase for order %d: %w", p.OrderID, err)
	}
	return p.ID, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM proxy_purchases WHERE id = $1`

	p, err := scanPurchase(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("repository: failed to select purchase %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) listWhere(ctx context.Context, where string, args ...any) ([]Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM proxy_purchases WHERE ` + where

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query purchases: %w", err)
	}
	defer rows.Close()

	purchases := make([]Purchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating purchases: %w", err)
	}
	return purchases, nil
}

func (r *postgresRepository) ListByOrder(ctx context.Context, orderID int64) ([]Purchase, error) {
	return r.listWhere(ctx, `order_id = $1 ORDER BY id`, orderID)
}

func (r *postgresRepository) ListActiveForUser(ctx context.Context, userID int64, limit, offset int) ([]Purchase, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return r.listWhere(ctx, `user_id = $1 AND active ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

func (r *postgresRepository) FulfilledItemIDs(ctx context.Context, orderID int64) (map[int64]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT order_item_id FROM proxy_purchases WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query fulfilled items for order %d: %w", orderID, err)
	}
	defer rows.Close()

	fulfilled := make(map[int64]bool)
	for rows.Next() {
		var itemID int64
		if err := rows.Scan(&itemID); err != nil {
			return nil, fmt.Errorf("repository: failed to scan fulfilled item id: %w", err)
		}
		fulfilled[itemID] = true
	}
	return fulfilled, rows.Err()
}

func (r *postgresRepository) SetActiveByOrder(ctx context.Context, orderID int64, active bool) (int64, error) {
	query := `UPDATE proxy_purchases SET active = $1, updated_at = $2 WHERE order_id = $3`

	cmdTag, err := r.db.Exec(ctx, query, active, time.Now().UTC(), orderID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to set purchases active=%t for order %d: %w", active, orderID, err)
	}

	log.Info().Int64("order_id", orderID).Bool("active", active).Int64("purchases", cmdTag.RowsAffected()).Msg("repository: purchase activation updated")
	return cmdTag.RowsAffected(), nil
}

func (r *postgresRepository) UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	query := `UPDATE proxy_purchases SET expires_at = $1, updated_at = $2 WHERE id = $3`

	cmdTag, err := r.db.Exec(ctx, query, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update expiry of purchase %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}
