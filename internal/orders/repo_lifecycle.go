package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ApplyTransition persists a status change guarded by the previous status,
// so two concurrent transitions on the same order cannot both apply.
func (s *PGStore) ApplyTransition(ctx context.Context, o *Order, from Status, entry StatusEntry) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET status=$2, estimated_delivery=$3, actual_delivery=$4, updated_at=now()
		WHERE id=$1 AND status=$5`,
		o.ID, o.Status, o.EstimatedDelivery, o.ActualDelivery, from)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrConcurrencyConflict
	}

	if err := insertHistory(ctx, tx, o.ID, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CancelRestoringStock is the only path that both cancels an order and
// gives its units back. The order update is conditional on not being
// cancelled yet and on stock_restored being false, which makes the
// restore exactly-once even when the cancellation request is retried.
func (s *PGStore) CancelRestoringStock(ctx context.Context, o *Order, entry StatusEntry, pay PaymentStatus) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET status=$2, payment_status=$3, stock_restored=TRUE, updated_at=now()
		WHERE id=$1
		  AND status IN ('pending','confirmed','processing')
		  AND NOT stock_restored`,
		o.ID, StatusCancelled, pay)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotCancellable
	}

	// cancellation always makes at least one unit available again
	if _, err := tx.Exec(ctx, `
		UPDATE drones
		SET stock_quantity = stock_quantity + $2, in_stock = TRUE, updated_at = now()
		WHERE id=$1`, o.DroneID, o.Quantity); err != nil {
		return err
	}

	if err := insertHistory(ctx, tx, o.ID, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) AttachPaymentIntent(ctx context.Context, orderID, intentID string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET payment_intent_id=$2, updated_at=now()
		WHERE id=$1 AND payment_intent_id IS NULL`, orderID, intentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var existing *string
	err = s.DB.QueryRow(ctx, `SELECT payment_intent_id FROM orders WHERE id=$1`, orderID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if existing != nil && *existing == intentID {
		return nil // same intent re-attached, fine
	}
	return ErrPaymentIntentSet
}

func (s *PGStore) SetPaymentStatus(ctx context.Context, orderID string, to PaymentStatus) (bool, error) {
	// completed is sticky: a replayed or late event never downgrades it
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET payment_status=$2, updated_at=now()
		WHERE id=$1 AND payment_status <> 'completed'`, orderID, to)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrOrderNotFound
	}
	return false, nil
}
