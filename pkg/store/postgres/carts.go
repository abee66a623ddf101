package postgres

import (
	"context"
	"database/sql"

	"github.com/vendkit/kioskd/pkg/models"
)

const cartColumns = "id, display_id, transaction_id, type, order_info, status, checkout_method, locked_at"

func scanCart(row interface{ Scan(...any) error }) (*models.Cart, error) {
	var c models.Cart
	var typ, status, method string
	var lockedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.DisplayID, &c.TransactionID, &typ,
		&c.OrderInfo, &status, &method, &lockedAt); err != nil {
		return nil, err
	}
	c.Type = models.CartType(typ)
	c.Status = models.CartStatus(status)
	c.CheckoutMethod = models.CheckoutMethod(method)
	if lockedAt.Valid {
		c.LockedAt = lockedAt.Time
	}
	return &c, nil
}

func (s *Store) AddCart(ctx context.Context, c *models.Cart) (int64, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO carts (display_id, transaction_id, type, order_info, status, checkout_method, locked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.DisplayID, c.TransactionID, string(c.Type), c.OrderInfo,
		string(c.Status), string(c.CheckoutMethod), nullTime(c.LockedAt)).Scan(&c.ID)
	return c.ID, dbErr("add cart", err)
}

func (s *Store) GetCart(ctx context.Context, id int64) (*models.Cart, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
	c, err := scanCart(row)
	if err != nil {
		return nil, dbErr("get cart", err)
	}
	return c, nil
}

func (s *Store) GetCartByTransaction(ctx context.Context, transactionID string) (*models.Cart, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE transaction_id = $1`, transactionID)
	c, err := scanCart(row)
	if err != nil {
		return nil, dbErr("get cart by transaction", err)
	}
	return c, nil
}

func (s *Store) ListCarts(ctx context.Context) ([]models.Cart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cartColumns+` FROM carts ORDER BY id`)
	if err != nil {
		return nil, dbErr("list carts", err)
	}
	defer rows.Close()

	var out []models.Cart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, dbErr("list carts", err)
		}
		out = append(out, *c)
	}
	return out, dbErr("list carts", rows.Err())
}

func (s *Store) UpdateCart(ctx context.Context, c *models.Cart) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE carts SET display_id = $2, transaction_id = $3, type = $4,
		 order_info = $5, status = $6, checkout_method = $7, locked_at = $8 WHERE id = $1`,
		c.ID, c.DisplayID, c.TransactionID, string(c.Type), c.OrderInfo,
		string(c.Status), string(c.CheckoutMethod), nullTime(c.LockedAt))
	return affectedOrNotFound("update cart", res, err)
}

func (s *Store) RemoveCart(ctx context.Context, id int64) error {
	// Items and reservations go with the cart via ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	return affectedOrNotFound("remove cart", res, err)
}

// Cart items

func (s *Store) AddCartItem(ctx context.Context, it *models.CartItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, variant_id, amount) VALUES ($1, $2, $3)`,
		it.CartID, it.VariantID, it.Amount)
	return dbErr("add cart item", err)
}

func (s *Store) GetCartItem(ctx context.Context, cartID, variantID int64) (*models.CartItem, error) {
	var it models.CartItem
	err := s.db.QueryRowContext(ctx,
		`SELECT cart_id, variant_id, amount FROM cart_items WHERE cart_id = $1 AND variant_id = $2`,
		cartID, variantID).Scan(&it.CartID, &it.VariantID, &it.Amount)
	if err != nil {
		return nil, dbErr("get cart item", err)
	}
	return &it, nil
}

func (s *Store) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cart_id, variant_id, amount FROM cart_items WHERE cart_id = $1 ORDER BY variant_id`,
		cartID)
	if err != nil {
		return nil, dbErr("get cart items", err)
	}
	defer rows.Close()

	var out []models.CartItem
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.CartID, &it.VariantID, &it.Amount); err != nil {
			return nil, dbErr("get cart items", err)
		}
		out = append(out, it)
	}
	return out, dbErr("get cart items", rows.Err())
}

func (s *Store) UpdateCartItem(ctx context.Context, it *models.CartItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cart_items SET amount = $3 WHERE cart_id = $1 AND variant_id = $2`,
		it.CartID, it.VariantID, it.Amount)
	return affectedOrNotFound("update cart item", res, err)
}

func (s *Store) RemoveCartItem(ctx context.Context, cartID, variantID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND variant_id = $2`, cartID, variantID)
	return affectedOrNotFound("remove cart item", res, err)
}

// Reservations

const reservationColumns = "id, cart_id, variant_id, unit_id, location, quantity"

// Reservation walks use the same storage order as inventory.
const reservationOrder = " ORDER BY unit_id, location, id"

func (s *Store) queryReservations(ctx context.Context, op, query string, args ...any) ([]models.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.ID, &r.CartID, &r.VariantID, &r.UnitID, &r.Location, &r.Quantity); err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, r)
	}
	return out, dbErr(op, rows.Err())
}

func (s *Store) AddReservation(ctx context.Context, r *models.Reservation) (int64, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reservations (cart_id, variant_id, unit_id, location, quantity)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		r.CartID, r.VariantID, r.UnitID, r.Location, r.Quantity).Scan(&r.ID)
	return r.ID, dbErr("add reservation", err)
}

func (s *Store) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reservations SET cart_id = $2, variant_id = $3, unit_id = $4,
		 location = $5, quantity = $6 WHERE id = $1`,
		r.ID, r.CartID, r.VariantID, r.UnitID, r.Location, r.Quantity)
	return affectedOrNotFound("update reservation", res, err)
}

func (s *Store) AddOrUpdateReservation(ctx context.Context, r *models.Reservation) error {
	err := s.db.QueryRowContext(ctx,
		`UPDATE reservations SET quantity = quantity + $5
		 WHERE cart_id = $1 AND unit_id = $2 AND location = $3 AND variant_id = $4
		 RETURNING id, quantity`,
		r.CartID, r.UnitID, r.Location, r.VariantID, r.Quantity).Scan(&r.ID, &r.Quantity)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return dbErr("add or update reservation", err)
	}
	_, err = s.AddReservation(ctx, r)
	return err
}

func (s *Store) RemoveReservation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	return affectedOrNotFound("remove reservation", res, err)
}

func (s *Store) GetReservations(ctx context.Context, variantID, cartID int64) ([]models.Reservation, error) {
	if cartID != 0 {
		return s.queryReservations(ctx, "get reservations",
			`SELECT `+reservationColumns+` FROM reservations
			 WHERE variant_id = $1 AND cart_id = $2`+reservationOrder, variantID, cartID)
	}
	return s.queryReservations(ctx, "get reservations",
		`SELECT `+reservationColumns+` FROM reservations WHERE variant_id = $1`+reservationOrder,
		variantID)
}

func (s *Store) GetReservationsByCart(ctx context.Context, cartID int64) ([]models.Reservation, error) {
	return s.queryReservations(ctx, "get reservations by cart",
		`SELECT `+reservationColumns+` FROM reservations WHERE cart_id = $1`+reservationOrder,
		cartID)
}

// Order history

func (s *Store) AddOrderHistory(ctx context.Context, rec *models.OrderHistoryRecord) (int64, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO order_history (transaction_id, order_info, completion_status, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		rec.TransactionID, rec.OrderInfo, string(rec.CompletionStatus), rec.CreatedAt).Scan(&rec.ID)
	return rec.ID, dbErr("add order history", err)
}

func (s *Store) RemoveOrderHistory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM order_history WHERE id = $1`, id)
	return affectedOrNotFound("remove order history", res, err)
}

func (s *Store) ListOrderHistory(ctx context.Context) ([]models.OrderHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, order_info, completion_status, created_at
		 FROM order_history ORDER BY id`)
	if err != nil {
		return nil, dbErr("list order history", err)
	}
	defer rows.Close()

	var out []models.OrderHistoryRecord
	for rows.Next() {
		var rec models.OrderHistoryRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.OrderInfo, &status, &rec.CreatedAt); err != nil {
			return nil, dbErr("list order history", err)
		}
		rec.CompletionStatus = models.CompletionStatus(status)
		out = append(out, rec)
	}
	return out, dbErr("list order history", rows.Err())
}
