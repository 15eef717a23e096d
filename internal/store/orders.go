package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tableside/internal/db"
	"tableside/internal/models"

	"go.uber.org/zap"
)

const orderNumberAttempts = 5

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone,
	delivery_method, delivery_address, status, subtotal, tax, delivery_fee, total,
	payment_status, payment_reference, customer_notes, estimated_time_minutes,
	created_at, updated_at`

const itemColumns = `oi.id, oi.order_id, oi.menu_item_id, oi.quantity, oi.price,
	oi.notes, oi.fulfillment, COALESCE(mi.name, '') AS item_name`

// CreateOrderWithItems persists the order row, its lines and the initial
// history entry in one transaction. A pre-assigned order number is used as
// is; a duplicate-key conflict regenerates the number and retries the
// insert, so the number is only final once the row exists.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.EstimatedMinutes == 0 {
		order.EstimatedMinutes = 30
	}

	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		var inserted bool
		for attempt := 0; attempt < orderNumberAttempts; attempt++ {
			if order.OrderNumber == "" || attempt > 0 {
				order.OrderNumber = s.GenerateOrderNumber()
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO orders (order_number, customer_name, customer_email, customer_phone,
					delivery_method, delivery_address, status, subtotal, tax, delivery_fee, total,
					payment_status, payment_reference, customer_notes, estimated_time_minutes,
					created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				order.OrderNumber, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
				order.DeliveryMethod, order.DeliveryAddress, order.Status,
				order.Subtotal, order.Tax, order.DeliveryFee, order.Total,
				order.PaymentStatus, order.PaymentReference, order.CustomerNotes,
				order.EstimatedMinutes, order.CreatedAt, order.UpdatedAt)
			if err != nil {
				if db.IsDuplicateKey(err) {
					s.logger.Warn("Order number collision, regenerating",
						zap.String("order_number", order.OrderNumber))
					continue
				}
				return fmt.Errorf("failed to insert order: %w", err)
			}
			order.ID = res.InsertID
			inserted = true
			break
		}
		if !inserted {
			return ErrNumberExhausted
		}

		for i := range items {
			items[i].OrderID = order.ID
			if items[i].Fulfillment == "" {
				items[i].Fulfillment = models.FulfillmentPending
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, menu_item_id, quantity, price, notes, fulfillment)
				VALUES (?, ?, ?, ?, ?, ?)`,
				items[i].OrderID, items[i].MenuItemID, items[i].Quantity,
				items[i].UnitPrice, items[i].Notes, items[i].Fulfillment)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
			items[i].ID = res.InsertID
		}

		if err := s.appendHistory(ctx, tx, order.ID, order.Status, "", "", now); err != nil {
			return err
		}
		return nil
	})
}

func (s *Store) appendHistory(ctx context.Context, q db.Queryer, orderID int64, status, actor, notes string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, updated_by, notes, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		orderID, status, actor, notes, at)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// TransitionStatus moves an order to newStatus under a row lock, appending a
// history entry in the same transaction. Two concurrent transitions on one
// order serialize on the lock; the loser sees the winner's status and fails
// the reachability check. Returns the order as it was before the update so
// callers can act on the prior payment state.
func (s *Store) TransitionStatus(ctx context.Context, orderID int64, newStatus, actor, notes string) (*models.Order, error) {
	var before models.Order

	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		query := "SELECT " + orderColumns + " FROM orders WHERE id = ?" + tx.LockSuffix()
		if err := tx.GetContext(ctx, &before, query, orderID); err != nil {
			if notFound(err) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		if !models.CanTransition(before.Status, newStatus) {
			return &models.InvalidTransitionError{From: before.Status, To: newStatus}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
			newStatus, now, orderID); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		return s.appendHistory(ctx, tx, orderID, newStatus, actor, notes, now)
	})
	if err != nil {
		return nil, err
	}
	return &before, nil
}

// UpdatePaymentStatus records the gateway-confirmed payment state. A
// non-empty note also lands in the history trail.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID int64, paymentStatus, note string) error {
	now := time.Now().UTC()
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?",
			paymentStatus, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		if res.AffectedRows == 0 {
			return ErrOrderNotFound
		}
		if note == "" {
			return nil
		}
		var status string
		if err := tx.GetContext(ctx, &status, "SELECT status FROM orders WHERE id = ?", orderID); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, orderID, status, "", note, now)
	})
}

// GetOrder resolves ref as a numeric id first, then as an order number.
func (s *Store) GetOrder(ctx context.Context, ref string) (*models.OrderDetail, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.getOrderWhere(ctx, "id = ?", id)
	}
	return s.getOrderWhere(ctx, "order_number = ?", ref)
}

// GetOrderByID retrieves the full order aggregate by internal id.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.OrderDetail, error) {
	return s.getOrderWhere(ctx, "id = ?", id)
}

func (s *Store) getOrderWhere(ctx context.Context, where string, arg interface{}) (*models.OrderDetail, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE "+where, arg)
	if err != nil {
		if notFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items, `
		SELECT `+itemColumns+`
		FROM order_items oi
		LEFT JOIN menu_items mi ON mi.id = oi.menu_item_id
		WHERE oi.order_id = ?
		ORDER BY oi.id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	var history []models.StatusHistory
	err = s.db.SelectContext(ctx, &history, `
		SELECT id, order_id, status, updated_by, notes, updated_at
		FROM order_status_history
		WHERE order_id = ?
		ORDER BY id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}

	addr, err := models.DecodeDeliveryAddress(order.DeliveryAddress)
	if err != nil {
		s.logger.Warn("Stored delivery address is not valid JSON",
			zap.Int64("order_id", order.ID))
	}

	return &models.OrderDetail{
		Order:   order,
		Items:   items,
		History: history,
		Address: addr,
	}, nil
}

// GetOrderByPaymentRef looks an order up by its gateway transaction id.
func (s *Store) GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE payment_reference = ?", ref)
	if err != nil {
		if notFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListFilter narrows ListOrders results.
type ListFilter struct {
	Status        string
	PaymentStatus string
	CustomerEmail string
	From          time.Time
	To            time.Time
}

// ListOrders returns a filtered page of orders with their lines attached.
// Lines for the whole page are fetched in a single batched statement keyed
// by the page's order ids, then grouped in memory.
func (s *Store) ListOrders(ctx context.Context, f ListFilter, page, pageSize int) ([]models.OrderDetail, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := "SELECT " + orderColumns + " FROM orders WHERE 1=1"
	args := []interface{}{}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.PaymentStatus != "" {
		query += " AND payment_status = ?"
		args = append(args, f.PaymentStatus)
	}
	if f.CustomerEmail != "" {
		query += " AND customer_email = ?"
		args = append(args, f.CustomerEmail)
	}
	if !f.From.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += " AND created_at < ?"
		args = append(args, f.To)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	var orders []models.Order
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if len(orders) == 0 {
		return []models.OrderDetail{}, nil
	}

	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	itemsQuery, itemsArgs, err := s.db.In(`
		SELECT `+itemColumns+`
		FROM order_items oi
		LEFT JOIN menu_items mi ON mi.id = oi.menu_item_id
		WHERE oi.order_id IN (?)
		ORDER BY oi.id`, ids)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, itemsQuery, itemsArgs...); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	byOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}

	result := make([]models.OrderDetail, len(orders))
	for i, o := range orders {
		addr, _ := models.DecodeDeliveryAddress(o.DeliveryAddress)
		result[i] = models.OrderDetail{
			Order:   o,
			Items:   byOrder[o.ID],
			Address: addr,
		}
	}
	return result, nil
}

// SetItemFulfillment flips the in-store fulfillment flag on one line.
func (s *Store) SetItemFulfillment(ctx context.Context, orderID, itemID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET fulfillment = ? WHERE id = ? AND order_id = ?",
		status, itemID, orderID)
	if err != nil {
		return fmt.Errorf("failed to update fulfillment: %w", err)
	}
	if res.AffectedRows == 0 {
		return ErrOrderItemNotFound
	}
	return nil
}
