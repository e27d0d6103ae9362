package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on top of pgx. Stock mutations are single
// conditional statements checked via RowsAffected, with the drone row
// locked for the duration of the creating transaction.
type PGStore struct{ DB *pgxpool.Pool }

var _ Store = (*PGStore)(nil)

func (s *PGStore) CreateDrone(ctx context.Context, d *Drone) error {
	return s.DB.QueryRow(ctx, `
		INSERT INTO drones(id, name, price_cents, stock_quantity, in_stock)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.PriceCents, d.StockQuantity, d.InStock,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (s *PGStore) GetDrone(ctx context.Context, id string) (*Drone, error) {
	var d Drone
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, stock_quantity, in_stock, created_at, updated_at
		FROM drones WHERE id=$1`, id,
	).Scan(&d.ID, &d.Name, &d.PriceCents, &d.StockQuantity, &d.InStock, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDroneNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGStore) ListDrones(ctx context.Context) ([]Drone, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, price_cents, stock_quantity, in_stock, created_at, updated_at
		FROM drones ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Drone
	for rows.Next() {
		var d Drone
		if err := rows.Scan(&d.ID, &d.Name, &d.PriceCents, &d.StockQuantity, &d.InStock, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateOrderReservingStock: lock the drone row (FOR UPDATE) -> validate ->
// insert order + initial history -> conditional stock decrement. Two
// concurrent requests for the last unit serialize on the row lock; the
// loser sees the decremented stock and fails, nothing half-committed.
func (s *PGStore) CreateOrderReservingStock(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		priceCents int
		stock      int
		inStock    bool
	)
	err = tx.QueryRow(ctx, `SELECT price_cents, stock_quantity, in_stock FROM drones WHERE id=$1 FOR UPDATE`, o.DroneID).
		Scan(&priceCents, &stock, &inStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDroneNotFound
	}
	if err != nil {
		return err
	}
	if !inStock {
		return ErrDroneUnavailable
	}
	if stock < o.Quantity {
		return fmt.Errorf("%w: %d unit(s) available", ErrInsufficientStock, stock)
	}

	o.TotalAmountCents = priceCents * o.Quantity

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, drone_id, user_id, quantity, total_amount_cents,
			status, payment_status, order_date,
			ship_line1, ship_city, ship_state, ship_postal_code, ship_country,
			customer_name, customer_email, customer_phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.DroneID, o.UserID, o.Quantity, o.TotalAmountCents,
		o.Status, o.PaymentStatus, o.OrderDate,
		o.Shipping.Line1, o.Shipping.City, o.Shipping.State, o.Shipping.PostalCode, o.Shipping.Country,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone,
	)
	if err != nil {
		return err
	}

	for _, h := range o.History {
		if err := insertHistory(ctx, tx, o.ID, h); err != nil {
			return err
		}
	}

	ct, err := tx.Exec(ctx, `
		UPDATE drones
		SET stock_quantity = stock_quantity - $2,
		    in_stock = (stock_quantity - $2) > 0,
		    updated_at = now()
		WHERE id=$1 AND stock_quantity >= $2`, o.DroneID, o.Quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		// unreachable while the row lock is held; the guard stays anyway
		return fmt.Errorf("%w: %d unit(s) available", ErrInsufficientStock, stock)
	}

	return tx.Commit(ctx)
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.getOrderWhere(ctx, `id=$1`, id)
}

func (s *PGStore) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	return s.getOrderWhere(ctx, `payment_intent_id=$1`, intentID)
}

const orderColumns = `id, drone_id, user_id, quantity, total_amount_cents,
	status, payment_status, payment_intent_id, stock_restored,
	order_date, estimated_delivery, actual_delivery,
	ship_line1, ship_city, ship_state, ship_postal_code, ship_country,
	customer_name, customer_email, customer_phone, created_at, updated_at`

func (s *PGStore) getOrderWhere(ctx context.Context, where string, arg any) (*Order, error) {
	var (
		o      Order
		intent *string
	)
	err := s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg).Scan(
		&o.ID, &o.DroneID, &o.UserID, &o.Quantity, &o.TotalAmountCents,
		&o.Status, &o.PaymentStatus, &intent, &o.StockRestored,
		&o.OrderDate, &o.EstimatedDelivery, &o.ActualDelivery,
		&o.Shipping.Line1, &o.Shipping.City, &o.Shipping.State, &o.Shipping.PostalCode, &o.Shipping.Country,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if intent != nil {
		o.PaymentIntentID = *intent
	}

	rows, err := s.DB.Query(ctx, `
		SELECT status, created_at, updated_by, notes
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h StatusEntry
		if err := rows.Scan(&h.Status, &h.Timestamp, &h.UpdatedBy, &h.Notes); err != nil {
			return nil, err
		}
		o.History = append(o.History, h)
	}
	return &o, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, h StatusEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, status, updated_by, notes, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		orderID, h.Status, h.UpdatedBy, h.Notes, h.Timestamp)
	return err
}
