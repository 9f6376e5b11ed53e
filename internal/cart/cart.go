// Package cart stores the rows a user has put in their shopping cart.
// Checkout reads the cart to build an order and clears it only after
// payment is confirmed.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Item struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	ProductID        int64     `json:"product_id"`
	Quantity         int       `json:"quantity"`
	GenerationParams string    `json:"generation_params,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Repository interface {
	Add(ctx context.Context, item *Item) (int64, error)
	ListForUser(ctx context.Context, userID int64) ([]Item, error)
	Remove(ctx context.Context, userID, itemID int64) error
	Clear(ctx context.Context, userID int64) (int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// Add inserts a cart row, merging quantity into an existing row for the
// same product instead of duplicating it.
func (r *postgresRepository) Add(ctx context.Context, item *Item) (int64, error) {
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, generation_params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		item.UserID,
		item.ProductID,
		item.Quantity,
		item.GenerationParams,
		item.CreatedAt,
		item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to add cart item for user %d: %w", item.UserID, err)
	}
	return item.ID, nil
}

func (r *postgresRepository) ListForUser(ctx context.Context, userID int64) ([]Item, error) {
	query := `
		SELECT id, user_id, product_id, quantity, generation_params, created_at, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart for user %d: %w", userID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.GenerationParams, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *postgresRepository) Remove(ctx context.Context, userID, itemID int64) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, itemID, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to remove cart item %d: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("repository: cart item %d not found for user %d", itemID, userID)
	}
	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, userID int64) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to clear cart for user %d: %w", userID, err)
	}

	log.Debug().Int64("user_id", userID).Int64("items_removed", cmdTag.RowsAffected()).Msg("repository: cart cleared")
	return cmdTag.RowsAffected(), nil
}
