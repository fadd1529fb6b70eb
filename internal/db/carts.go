package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitrineapp/vitrine/internal/models"
)

// CartStore is the thin end of the cart collaborator contract: enough to read
// line items and flip a cart to converted exactly once.
type CartStore struct {
	pool *pgxpool.Pool
}

func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

func (s *CartStore) GetByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var (
		cart      models.Cart
		status    string
		itemsJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, items, created_at, updated_at
		FROM carts WHERE id = $1`, cartID,
	).Scan(&cart.ID, &cart.UserID, &status, &itemsJSON, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart.Status = models.CartStatus(status)
	if itemsJSON != nil {
		if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
			return nil, fmt.Errorf("failed to decode cart items: %w", err)
		}
	}
	return &cart, nil
}

func (s *CartStore) Create(ctx context.Context, cart *models.Cart) error {
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	if cart.Status == "" {
		cart.Status = models.CartActive
	}

	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("failed to encode cart items: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO carts (id, user_id, status, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`,
		cart.ID, cart.UserID, string(cart.Status), itemsJSON,
	).Scan(&cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cart: %w", err)
	}
	return nil
}

// MarkConverted flips an active cart to converted. It runs on the checkout
// transaction so a crash cannot leave an order without a converted cart.
func (s *CartStore) MarkConverted(ctx context.Context, q Querier, cartID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	cmdTag, err := q.Exec(ctx, `
		UPDATE carts
		SET status = 'converted', updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, cartID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected active cart", ErrInvalidStatusTransition)
	}
	return nil
}
