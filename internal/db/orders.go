package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitrineapp/vitrine/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, order_number, status, payment_status,
	subtotal_cents, shipping_cents, discount_cents, total_cents,
	user_id, guest_name, guest_email, guest_cpf, guest_phone,
	ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
	shipping_method, shipping_carrier, shipping_days,
	cart_id, access_token, tracking_number,
	placed_at, paid_at, shipped_at, cancelled_at, refunded_at, created_at`

// Create inserts the order and its item snapshots. It runs on the provided
// Querier so checkout can keep it in the same transaction as cart conversion.
func (s *OrderStore) Create(ctx context.Context, q Querier, order *models.Order) error {
	if q == nil {
		q = s.pool
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	query := `
		INSERT INTO orders (
			id, order_number, status, payment_status,
			subtotal_cents, shipping_cents, discount_cents, total_cents,
			user_id, guest_name, guest_email, guest_cpf, guest_phone,
			ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
			shipping_method, shipping_carrier, shipping_days,
			cart_id, access_token, placed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NOW(), NOW()
		)
		RETURNING placed_at, created_at`
	err := q.QueryRow(ctx, query,
		order.ID, order.OrderNumber, string(order.Status), string(order.PaymentStatus),
		order.SubtotalCents, order.ShippingCents, order.DiscountCents, order.TotalCents,
		order.UserID,
		textOrNull(order.GuestName), textOrNull(order.GuestEmail),
		textOrNull(order.GuestCPF), textOrNull(order.GuestPhone),
		order.ShippingAddress.Line1, textOrNull(order.ShippingAddress.Line2),
		order.ShippingAddress.City, order.ShippingAddress.State,
		order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
		order.ShippingMethod, order.ShippingCarrier, order.ShippingDays,
		order.CartID, textOrNull(order.AccessToken),
	).Scan(&order.PlacedAt, &order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = order.ID
		_, err := q.Exec(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, product_name, variant_name,
				unit_price_cents, quantity, subtotal_cents
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, item.OrderID, item.ProductID, item.ProductName,
			textOrNull(item.VariantName), item.UnitPriceCents, item.Quantity, item.SubtotalCents,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return nil
}

var ErrDuplicateOrderNumber = errors.New("order number already exists")

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.getOne(ctx, s.pool, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

func (s *OrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getOne(ctx, s.pool, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
}

// GetByAccessToken is the guest-only lookup path.
func (s *OrderStore) GetByAccessToken(ctx context.Context, token string) (*models.Order, error) {
	return s.getOne(ctx, s.pool, `SELECT `+orderColumns+` FROM orders WHERE access_token = $1`, token)
}

// GetByIDForUpdate row-locks the order inside the caller's transaction so a
// webhook and a synchronous status check cannot race to conflicting states.
func (s *OrderStore) GetByIDForUpdate(ctx context.Context, q Querier, orderID uuid.UUID) (*models.Order, error) {
	return s.getOne(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
}

func (s *OrderStore) getOne(ctx context.Context, q Querier, query string, arg any) (*models.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := s.itemsForOrder(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *OrderStore) itemsForOrder(ctx context.Context, q Querier, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, variant_name,
			unit_price_cents, quantity, subtotal_cents
		FROM order_items WHERE order_id = $1 ORDER BY product_name`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var variant pgtype.Text
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&variant, &item.UnitPriceCents, &item.Quantity, &item.SubtotalCents); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.VariantName = variant.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPaid stamps payment_status and paid_at. It accepts a Querier so the
// payment service can commit it atomically with the payment row.
func (s *OrderStore) MarkPaid(ctx context.Context, q Querier, orderID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE orders
		SET payment_status = 'paid', paid_at = NOW()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')`
	return s.guardedExec(ctx, q, query, "expected payment_status pending/failed", orderID)
}

func (s *OrderStore) MarkPaymentFailed(ctx context.Context, q Querier, orderID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE orders
		SET payment_status = 'failed'
		WHERE id = $1 AND payment_status = 'pending'`
	return s.guardedExec(ctx, q, query, "expected payment_status pending", orderID)
}

// MarkPaymentRefunded stamps payment_status refunded and refunded_at.
func (s *OrderStore) MarkPaymentRefunded(ctx context.Context, q Querier, orderID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE orders
		SET payment_status = 'refunded', refunded_at = NOW()
		WHERE id = $1 AND payment_status = 'paid'`
	return s.guardedExec(ctx, q, query, "expected payment_status paid", orderID)
}

func (s *OrderStore) MarkProcessing(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending'`
	return s.guardedExec(ctx, s.pool, query, "expected pending", orderID)
}

func (s *OrderStore) MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) error {
	query := `
		UPDATE orders
		SET status = 'shipped', tracking_number = $2, shipped_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	return s.guardedExec(ctx, s.pool, query, "expected processing", orderID, textOrNull(trackingNumber))
}

func (s *OrderStore) MarkCompleted(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = 'completed'
		WHERE id = $1 AND status = 'shipped'`
	return s.guardedExec(ctx, s.pool, query, "expected shipped", orderID)
}

func (s *OrderStore) MarkCancelled(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = 'cancelled', cancelled_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`
	return s.guardedExec(ctx, s.pool, query, "expected pending/processing", orderID)
}

func (s *OrderStore) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = 'refunded', refunded_at = NOW()
		WHERE id = $1 AND status = 'completed'`
	return s.guardedExec(ctx, s.pool, query, "expected completed", orderID)
}

func (s *OrderStore) guardedExec(ctx context.Context, q Querier, query, guard string, args ...any) error {
	cmdTag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidStatusTransition, guard)
	}
	return nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order                   models.Order
		status, paymentStatus   string
		guestName, guestEmail   pgtype.Text
		guestCPF, guestPhone    pgtype.Text
		line2, accessToken      pgtype.Text
		trackingNumber          pgtype.Text
		paidAt, shippedAt       pgtype.Timestamptz
		cancelledAt, refundedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &status, &paymentStatus,
		&order.SubtotalCents, &order.ShippingCents, &order.DiscountCents, &order.TotalCents,
		&order.UserID, &guestName, &guestEmail, &guestCPF, &guestPhone,
		&order.ShippingAddress.Line1, &line2, &order.ShippingAddress.City,
		&order.ShippingAddress.State, &order.ShippingAddress.PostalCode, &order.ShippingAddress.Country,
		&order.ShippingMethod, &order.ShippingCarrier, &order.ShippingDays,
		&order.CartID, &accessToken, &trackingNumber,
		&order.PlacedAt, &paidAt, &shippedAt, &cancelledAt, &refundedAt, &order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderStatus(status)
	order.PaymentStatus = models.OrderPaymentStatus(paymentStatus)
	order.GuestName = guestName.String
	order.GuestEmail = guestEmail.String
	order.GuestCPF = guestCPF.String
	order.GuestPhone = guestPhone.String
	order.ShippingAddress.Line2 = line2.String
	order.AccessToken = accessToken.String
	order.TrackingNumber = trackingNumber.String
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if shippedAt.Valid {
		order.ShippedAt = &shippedAt.Time
	}
	if cancelledAt.Valid {
		order.CancelledAt = &cancelledAt.Time
	}
	if refundedAt.Valid {
		order.RefundedAt = &refundedAt.Time
	}

	return &order, nil
}

func textOrNull(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}
