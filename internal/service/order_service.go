package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tableside/internal/models"
	"tableside/internal/payment"
	"tableside/internal/store"
	"tableside/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// totalTolerance is the allowed gap, in minor units, between the
// caller-supplied total and the recomputed one. Rounding slack only.
const totalTolerance = 1

const trackingCacheTTL = 30 * time.Second

// eventSeenTTL covers the gateway's webhook redelivery window.
const eventSeenTTL = 24 * time.Hour

// Store is the persistence surface the lifecycle service needs.
type Store interface {
	GenerateOrderNumber() string
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	TransitionStatus(ctx context.Context, orderID int64, newStatus, actor, notes string) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID int64, paymentStatus, note string) error
	GetOrder(ctx context.Context, ref string) (*models.OrderDetail, error)
	GetOrderByID(ctx context.Context, id int64) (*models.OrderDetail, error)
	GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	ListOrders(ctx context.Context, f store.ListFilter, page, pageSize int) ([]models.OrderDetail, error)
	GetMenuItemsByIDs(ctx context.Context, ids []int64) (map[int64]models.MenuItem, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	SetItemFulfillment(ctx context.Context, orderID, itemID int64, status string) error
}

// Notifier pushes events to realtime subscribers, best-effort.
type Notifier interface {
	NotifyOrderCreated(event *models.OrderCreatedEvent)
	NotifyStatusChanged(event *models.OrderStatusChangedEvent)
}

// Publisher emits domain events to the broker, best-effort.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}

// Cache is the optional tracking cache and webhook-dedup fast path; a nil
// Cache disables both.
type Cache interface {
	GetTrackingCache(ctx context.Context, ref string) (string, error)
	SetTrackingCache(ctx context.Context, ref, payload string, ttl time.Duration) error
	InvalidateTracking(ctx context.Context, refs ...string) error
	IsEventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// OrderService orchestrates the order lifecycle: creation with payment
// authorization, and status transitions with capture/void side effects.
type OrderService struct {
	store       Store
	gateway     payment.Gateway
	notifier    Notifier
	publisher   Publisher
	cache       Cache
	currency    string
	prepMinutes int
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	st Store,
	gateway payment.Gateway,
	notifier Notifier,
	publisher Publisher,
	cache Cache,
	currency string,
	prepMinutes int,
) *OrderService {
	if prepMinutes <= 0 {
		prepMinutes = 30
	}
	return &OrderService{
		store:       st,
		gateway:     gateway,
		notifier:    notifier,
		publisher:   publisher,
		cache:       cache,
		currency:    currency,
		prepMinutes: prepMinutes,
		logger:      util.GetLogger(),
	}
}

// OrderItemRequest is one requested line. UnitPrice zero means "resolve
// from the catalog"; a negative price is rejected outright.
type OrderItemRequest struct {
	MenuItemID int64
	Quantity   int
	UnitPrice  int64
	Notes      string
}

// CreateOrderRequest carries validated, minor-unit creation input.
type CreateOrderRequest struct {
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	DeliveryMethod  string
	DeliveryAddress *models.DeliveryAddress
	PaymentMethod   string
	Items           []OrderItemRequest
	Subtotal        int64
	Tax             int64
	DeliveryFee     int64
	Total           int64
	Notes           string
}

// CreateOrderResponse is what the storefront needs to show and track.
type CreateOrderResponse struct {
	OrderID          int64  `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	EstimatedMinutes int    `json:"estimated_time_minutes"`
}

// CreateOrder validates the request, authorizes a card payment if needed,
// and persists order, lines and the initial history entry in one
// transaction. A persistence failure after a successful authorization
// voids the hold best-effort and propagates the persistence error.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	items, subtotal, err := s.validateItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}
	if err := s.validateHeader(req, subtotal); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	total := subtotal + req.Tax + req.DeliveryFee

	customerName := req.CustomerName
	if customerName == "" {
		customerName = "Guest"
	}

	address, err := req.DeliveryAddress.Encode()
	if err != nil {
		return nil, validationErrorf("invalid delivery address")
	}

	order := &models.Order{
		// Assigned up front so the authorization metadata can carry it;
		// the store regenerates it on a number conflict.
		OrderNumber:      s.store.GenerateOrderNumber(),
		CustomerName:     customerName,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
		DeliveryMethod:   req.DeliveryMethod,
		DeliveryAddress:  address,
		Status:           models.OrderStatusPending,
		Subtotal:         subtotal,
		Tax:              req.Tax,
		DeliveryFee:      req.DeliveryFee,
		Total:            total,
		PaymentStatus:    models.PaymentStatusUnpaid,
		CustomerNotes:    req.Notes,
		EstimatedMinutes: s.prepMinutes,
	}

	if req.PaymentMethod == models.PaymentMethodCard {
		auth, err := s.gateway.Authorize(ctx, total, s.currency, map[string]string{
			"order_number":   order.OrderNumber,
			"customer_name":  customerName,
			"customer_email": req.CustomerEmail,
		})
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("payment_declined").Inc()
			s.logger.Warn("Payment authorization failed", zap.Error(err))
			return nil, &OrderCreationError{Err: err}
		}
		order.PaymentStatus = models.PaymentStatusAuthorized
		order.PaymentReference = auth.ID
	}

	if err := s.store.CreateOrderWithItems(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		if order.PaymentReference != "" {
			s.voidAuthorization(ctx, order.PaymentReference)
		}
		return nil, &OrderCreationError{Err: err}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_status", order.PaymentStatus))

	event := &models.OrderCreatedEvent{
		BaseEvent:     s.newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Total:         order.Total,
		PaymentStatus: order.PaymentStatus,
		ETAMinutes:    order.EstimatedMinutes,
	}
	s.notifier.NotifyOrderCreated(event)
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return &CreateOrderResponse{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		EstimatedMinutes: order.EstimatedMinutes,
	}, nil
}

// voidAuthorization releases a hold after a failed creation. Its own
// failure is logged, never propagated: the original error is the one the
// caller must see.
func (s *OrderService) voidAuthorization(ctx context.Context, paymentRef string) {
	if _, err := s.gateway.Cancel(ctx, paymentRef); err != nil {
		s.logger.Error("Failed to void authorization after persistence failure",
			zap.String("payment_reference", paymentRef),
			zap.Error(err))
		return
	}
	s.logger.Info("Voided authorization after persistence failure",
		zap.String("payment_reference", paymentRef))
}

func (s *OrderService) validateItems(ctx context.Context, reqs []OrderItemRequest) ([]models.OrderItem, int64, error) {
	if len(reqs) == 0 {
		return nil, 0, validationErrorf("order must contain at least one item")
	}

	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		if r.Quantity <= 0 {
			return nil, 0, validationErrorf("item %d: quantity must be positive", r.MenuItemID)
		}
		if r.UnitPrice < 0 {
			return nil, 0, validationErrorf("item %d: negative price", r.MenuItemID)
		}
		ids = append(ids, r.MenuItemID)
	}

	menu, err := s.store.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load menu items: %w", err)
	}

	items := make([]models.OrderItem, 0, len(reqs))
	var subtotal int64
	for _, r := range reqs {
		mi, ok := menu[r.MenuItemID]
		if !ok {
			return nil, 0, validationErrorf("item %d: unknown menu item", r.MenuItemID)
		}
		price := r.UnitPrice
		if price == 0 {
			price = mi.Price
		}
		if price <= 0 {
			return nil, 0, validationErrorf("item %d: unit price could not be resolved", r.MenuItemID)
		}
		items = append(items, models.OrderItem{
			MenuItemID: r.MenuItemID,
			Quantity:   r.Quantity,
			UnitPrice:  price,
			Notes:      r.Notes,
		})
		subtotal += price * int64(r.Quantity)
	}
	return items, subtotal, nil
}

func (s *OrderService) validateHeader(req *CreateOrderRequest, subtotal int64) error {
	switch req.DeliveryMethod {
	case models.DeliveryMethodPickup:
	case models.DeliveryMethodDelivery:
		if req.DeliveryAddress == nil {
			return validationErrorf("delivery orders require an address")
		}
	default:
		return validationErrorf("unknown delivery method %q", req.DeliveryMethod)
	}

	switch req.PaymentMethod {
	case models.PaymentMethodCard, models.PaymentMethodCash:
	default:
		return validationErrorf("unknown payment method %q", req.PaymentMethod)
	}

	if req.Tax < 0 || req.DeliveryFee < 0 {
		return validationErrorf("negative tax or delivery fee")
	}
	if req.Subtotal != 0 && abs(req.Subtotal-subtotal) > totalTolerance {
		return validationErrorf("subtotal mismatch: submitted %d, computed %d", req.Subtotal, subtotal)
	}
	if req.Total != 0 {
		computed := subtotal + req.Tax + req.DeliveryFee
		if abs(req.Total-computed) > totalTolerance {
			return validationErrorf("total mismatch: submitted %d, computed %d", req.Total, computed)
		}
	}
	return nil
}

// TransitionStatus moves an order through the state machine. Reaching
// completed captures an authorized payment; reaching cancelled releases it.
// A gateway failure there is logged and counted, never blocks the status
// change: payment_status keeps the true gateway state for reconciliation.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, newStatus, actor, notes string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus")
	defer span.End()

	if !models.ValidStatus(newStatus) {
		return nil, validationErrorf("unknown status %q", newStatus)
	}

	before, err := s.store.TransitionStatus(ctx, orderID, newStatus, actor, notes)
	if err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			util.OrderTransitionsRejected.Inc()
		}
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(newStatus).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", before.Status),
		zap.String("to", newStatus))

	paymentStatus := before.PaymentStatus
	if before.PaymentStatus == models.PaymentStatusAuthorized && before.PaymentReference != "" {
		switch newStatus {
		case models.OrderStatusCompleted:
			paymentStatus = s.capturePayment(ctx, orderID, before.PaymentReference)
		case models.OrderStatusCancelled:
			paymentStatus = s.releasePayment(ctx, orderID, before.PaymentReference)
		}
	}

	if s.cache != nil {
		if err := s.cache.InvalidateTracking(ctx, strconv.FormatInt(orderID, 10), before.OrderNumber); err != nil {
			s.logger.Debug("Failed to invalidate tracking cache", zap.Error(err))
		}
	}

	eta := remainingMinutes(before.CreatedAt, before.EstimatedMinutes)
	if models.IsTerminal(newStatus) {
		eta = 0
	}
	event := &models.OrderStatusChangedEvent{
		BaseEvent:   s.newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:     orderID,
		OrderNumber: before.OrderNumber,
		Status:      newStatus,
		ETAMinutes:  eta,
	}
	s.notifier.NotifyStatusChanged(event)
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	after := *before
	after.Status = newStatus
	after.PaymentStatus = paymentStatus
	return &after, nil
}

// capturePayment settles the hold when an order completes. On failure the
// order stays completed and payment_status stays authorized: a divergent,
// queryable state for the reconciliation sweep.
func (s *OrderService) capturePayment(ctx context.Context, orderID int64, paymentRef string) string {
	if _, err := s.gateway.Capture(ctx, paymentRef); err != nil {
		util.PaymentDivergenceTotal.Inc()
		s.logger.Error("Payment capture failed, order completed with unsettled payment",
			zap.Int64("order_id", orderID),
			zap.String("payment_reference", paymentRef),
			zap.Error(err))
		return models.PaymentStatusAuthorized
	}
	if err := s.store.UpdatePaymentStatus(ctx, orderID, models.PaymentStatusPaid, "payment captured"); err != nil {
		s.logger.Error("Failed to record captured payment", zap.Error(err))
		return models.PaymentStatusAuthorized
	}
	return models.PaymentStatusPaid
}

// releasePayment voids the hold when an order is cancelled. A failed void
// is logged; the order still cancels.
func (s *OrderService) releasePayment(ctx context.Context, orderID int64, paymentRef string) string {
	if _, err := s.gateway.Cancel(ctx, paymentRef); err != nil {
		util.PaymentDivergenceTotal.Inc()
		s.logger.Error("Payment cancel failed, order cancelled with live authorization",
			zap.Int64("order_id", orderID),
			zap.String("payment_reference", paymentRef),
			zap.Error(err))
		return models.PaymentStatusAuthorized
	}
	if err := s.store.UpdatePaymentStatus(ctx, orderID, models.PaymentStatusCancelled, "authorization released"); err != nil {
		s.logger.Error("Failed to record cancelled payment", zap.Error(err))
		return models.PaymentStatusAuthorized
	}
	return models.PaymentStatusCancelled
}

// HandlePaymentEvent applies a gateway-confirmed payment outcome, from the
// webhook or the reconcile worker. Idempotent: dedup by event id (a Redis
// fast path in front of the processed_events table), and a no-op when the
// order already reflects the outcome. The synchronous capture/cancel path
// and this one converge on the same final state.
func (s *OrderService) HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandlePaymentEvent")
	defer span.End()

	if s.cache != nil {
		if seen, err := s.cache.IsEventSeen(ctx, event.EventID); err == nil && seen {
			s.logger.Debug("Payment event already seen", zap.String("event_id", event.EventID))
			return nil
		}
	}

	processed, err := s.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event dedup: %w", err)
	}
	if processed {
		s.logger.Debug("Payment event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	var target, note string
	switch event.EventType {
	case models.EventTypePaymentSucceeded:
		target, note = models.PaymentStatusPaid, "payment confirmed by gateway"
	case models.EventTypePaymentFailed:
		target, note = models.PaymentStatusFailed, "payment failed: "+event.Reason
	case models.EventTypePaymentCancelled:
		target, note = models.PaymentStatusCancelled, "payment cancelled by gateway"
	default:
		return nil
	}

	order, err := s.store.GetOrderByPaymentRef(ctx, event.PaymentReference)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			s.logger.Warn("Payment event for unknown payment reference",
				zap.String("payment_reference", event.PaymentReference))
			return s.markEventProcessed(ctx, event)
		}
		return err
	}

	if order.PaymentStatus != target {
		if err := s.store.UpdatePaymentStatus(ctx, order.ID, target, note); err != nil {
			return fmt.Errorf("failed to apply payment event: %w", err)
		}
		s.logger.Info("Payment status updated from gateway event",
			zap.Int64("order_id", order.ID),
			zap.String("payment_status", target))
	}

	return s.markEventProcessed(ctx, event)
}

// markEventProcessed records the event in the authoritative dedup table,
// then seeds the fast path. The cache write comes second so a crash between
// the two never hides a redelivery.
func (s *OrderService) markEventProcessed(ctx context.Context, event *models.PaymentEvent) error {
	if err := s.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return err
	}
	if s.cache != nil {
		if _, err := s.cache.MarkEventSeen(ctx, event.EventID, eventSeenTTL); err != nil {
			s.logger.Debug("Failed to seed event dedup cache", zap.Error(err))
		}
	}
	return nil
}

// TrackOrder returns the order aggregate by id or number, with a short-TTL
// cache in front of the repository.
func (s *OrderService) TrackOrder(ctx context.Context, ref string) (*models.OrderDetail, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetTrackingCache(ctx, ref); err == nil && cached != "" {
			var detail models.OrderDetail
			if err := json.Unmarshal([]byte(cached), &detail); err == nil {
				return &detail, nil
			}
		}
	}

	detail, err := s.store.GetOrder(ctx, ref)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(detail); err == nil {
			if err := s.cache.SetTrackingCache(ctx, ref, string(payload), trackingCacheTTL); err != nil {
				s.logger.Debug("Failed to cache tracking payload", zap.Error(err))
			}
		}
	}
	return detail, nil
}

// GetOrder retrieves the order aggregate by internal id.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderDetail, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// ListOrders delegates a filtered page read to the repository.
func (s *OrderService) ListOrders(ctx context.Context, f store.ListFilter, page, pageSize int) ([]models.OrderDetail, error) {
	return s.store.ListOrders(ctx, f, page, pageSize)
}

// SetItemFulfillment flips the cashier per-line fulfillment flag.
func (s *OrderService) SetItemFulfillment(ctx context.Context, orderID, itemID int64, status string) error {
	if status != models.FulfillmentPending && status != models.FulfillmentCompleted {
		return validationErrorf("unknown fulfillment status %q", status)
	}
	return s.store.SetItemFulfillment(ctx, orderID, itemID, status)
}

func (s *OrderService) newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func remainingMinutes(createdAt time.Time, estimated int) int {
	remaining := estimated - int(time.Since(createdAt).Minutes())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
