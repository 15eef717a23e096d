package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"tableside/internal/models"
	"tableside/internal/payment"
	"tableside/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	menu map[int64]models.MenuItem

	createErr    error
	created      *models.Order
	createdItems []models.OrderItem

	transitionBefore *models.Order
	transitionErr    error
	transitionCalls  int

	paymentUpdates []string
	processed      map[string]bool
	marked         []string
	orderByRef     *models.Order
}

func (m *mockStore) GenerateOrderNumber() string {
	return "ORD12345"
}

func (m *mockStore) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if m.createErr != nil {
		return m.createErr
	}
	order.ID = 1
	order.CreatedAt = time.Now().UTC()
	cp := *order
	m.created = &cp
	m.createdItems = items
	return nil
}

func (m *mockStore) TransitionStatus(ctx context.Context, orderID int64, newStatus, actor, notes string) (*models.Order, error) {
	m.transitionCalls++
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	cp := *m.transitionBefore
	return &cp, nil
}

func (m *mockStore) UpdatePaymentStatus(ctx context.Context, orderID int64, paymentStatus, note string) error {
	m.paymentUpdates = append(m.paymentUpdates, paymentStatus)
	return nil
}

func (m *mockStore) GetOrder(ctx context.Context, ref string) (*models.OrderDetail, error) {
	return nil, store.ErrOrderNotFound
}

func (m *mockStore) GetOrderByID(ctx context.Context, id int64) (*models.OrderDetail, error) {
	return nil, store.ErrOrderNotFound
}

func (m *mockStore) GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	if m.orderByRef == nil {
		return nil, store.ErrOrderNotFound
	}
	cp := *m.orderByRef
	return &cp, nil
}

func (m *mockStore) ListOrders(ctx context.Context, f store.ListFilter, page, pageSize int) ([]models.OrderDetail, error) {
	return nil, nil
}

func (m *mockStore) GetMenuItemsByIDs(ctx context.Context, ids []int64) (map[int64]models.MenuItem, error) {
	result := make(map[int64]models.MenuItem)
	for _, id := range ids {
		if mi, ok := m.menu[id]; ok {
			result[id] = mi
		}
	}
	return result, nil
}

func (m *mockStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return m.processed[eventID], nil
}

func (m *mockStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.marked = append(m.marked, eventID)
	return nil
}

func (m *mockStore) SetItemFulfillment(ctx context.Context, orderID, itemID int64, status string) error {
	return nil
}

type mockGateway struct {
	authorizeCalls int
	authorizedAmt  int64
	authorizedMeta map[string]string
	authorizeErr   error

	captureCalls int
	captureErr   error

	cancelCalls  int
	cancelledIDs []string
	cancelErr    error
}

func (g *mockGateway) Authorize(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*payment.Authorization, error) {
	g.authorizeCalls++
	g.authorizedAmt = amountMinor
	g.authorizedMeta = metadata
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	return &payment.Authorization{ID: "pi_test_1", ClientSecret: "pi_test_1_secret"}, nil
}

func (g *mockGateway) Capture(ctx context.Context, paymentID string) (*payment.Confirmation, error) {
	g.captureCalls++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &payment.Confirmation{ID: paymentID, Status: "succeeded"}, nil
}

func (g *mockGateway) Cancel(ctx context.Context, paymentID string) (*payment.Confirmation, error) {
	g.cancelCalls++
	g.cancelledIDs = append(g.cancelledIDs, paymentID)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &payment.Confirmation{ID: paymentID, Status: "canceled"}, nil
}

type mockNotifier struct {
	created     []*models.OrderCreatedEvent
	transitions []*models.OrderStatusChangedEvent
}

func (n *mockNotifier) NotifyOrderCreated(e *models.OrderCreatedEvent) { n.created = append(n.created, e) }
func (n *mockNotifier) NotifyStatusChanged(e *models.OrderStatusChangedEvent) {
	n.transitions = append(n.transitions, e)
}

type mockPublisher struct {
	created     int
	transitions int
	payments    int
}

func (p *mockPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.created++
	return nil
}

func (p *mockPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.transitions++
	return nil
}

func (p *mockPublisher) PublishPaymentEvent(ctx context.Context, e *models.PaymentEvent) error {
	p.payments++
	return nil
}

type mockCache struct {
	tracking map[string]string
	seen     map[string]bool
	seeded   []string
}

func newMockCache() *mockCache {
	return &mockCache{tracking: make(map[string]string), seen: make(map[string]bool)}
}

func (c *mockCache) GetTrackingCache(ctx context.Context, ref string) (string, error) {
	return c.tracking[ref], nil
}

func (c *mockCache) SetTrackingCache(ctx context.Context, ref, payload string, ttl time.Duration) error {
	c.tracking[ref] = payload
	return nil
}

func (c *mockCache) InvalidateTracking(ctx context.Context, refs ...string) error {
	for _, ref := range refs {
		delete(c.tracking, ref)
	}
	return nil
}

func (c *mockCache) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	return c.seen[eventID], nil
}

func (c *mockCache) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	first := !c.seen[eventID]
	c.seen[eventID] = true
	c.seeded = append(c.seeded, eventID)
	return first, nil
}

func newTestService() (*OrderService, *mockStore, *mockGateway, *mockNotifier, *mockPublisher) {
	ms := &mockStore{
		menu: map[int64]models.MenuItem{
			1: {ID: 1, Name: "Margherita", Price: 1299, Available: true},
			3: {ID: 3, Name: "Tiramisu", Price: 899, Available: true},
		},
		processed: make(map[string]bool),
	}
	mg := &mockGateway{}
	mn := &mockNotifier{}
	mp := &mockPublisher{}
	svc := NewOrderService(ms, mg, mn, mp, nil, "usd", 30)
	return svc, ms, mg, mn, mp
}

func cashRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerName:   "Ada",
		CustomerEmail:  "ada@example.com",
		DeliveryMethod: models.DeliveryMethodPickup,
		PaymentMethod:  models.PaymentMethodCash,
		Items: []OrderItemRequest{
			{MenuItemID: 1, Quantity: 2, UnitPrice: 1299},
			{MenuItemID: 3, Quantity: 1, UnitPrice: 899},
		},
	}
}

func TestCreateOrderCash(t *testing.T) {
	svc, ms, mg, mn, mp := newTestService()

	resp, err := svc.CreateOrder(context.Background(), cashRequest())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{3}\d{5}$`), resp.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, resp.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, resp.PaymentStatus)
	assert.Equal(t, 30, resp.EstimatedMinutes)

	require.NotNil(t, ms.created)
	assert.Equal(t, int64(2*1299+899), ms.created.Subtotal)
	assert.Equal(t, ms.created.Subtotal, ms.created.Total)
	assert.Len(t, ms.createdItems, 2)
	assert.Equal(t, int64(1299), ms.createdItems[0].UnitPrice)
	assert.Equal(t, 2, ms.createdItems[0].Quantity)

	assert.Zero(t, mg.authorizeCalls, "cash orders never touch the gateway")
	assert.Len(t, mn.created, 1)
	assert.Equal(t, 1, mp.created)
}

func TestCreateOrderDefaultsGuestName(t *testing.T) {
	svc, ms, _, _, _ := newTestService()

	req := cashRequest()
	req.CustomerName = ""
	_, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Guest", ms.created.CustomerName)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative price", func(r *CreateOrderRequest) { r.Items[0].UnitPrice = -5 }},
		{"unknown menu item", func(r *CreateOrderRequest) { r.Items[0].MenuItemID = 99 }},
		{"unknown delivery method", func(r *CreateOrderRequest) { r.DeliveryMethod = "drone" }},
		{"delivery without address", func(r *CreateOrderRequest) { r.DeliveryMethod = models.DeliveryMethodDelivery }},
		{"unknown payment method", func(r *CreateOrderRequest) { r.PaymentMethod = "barter" }},
		{"total mismatch", func(r *CreateOrderRequest) { r.Total = 100 }},
		{"subtotal mismatch", func(r *CreateOrderRequest) { r.Subtotal = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ms, mg, _, _ := newTestService()
			req := cashRequest()
			tt.mutate(req)

			_, err := svc.CreateOrder(context.Background(), req)

			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Nil(t, ms.created, "nothing may be persisted")
			assert.Zero(t, mg.authorizeCalls, "gateway must not be called")
		})
	}
}

func TestCreateOrderResolvesPriceFromCatalog(t *testing.T) {
	svc, ms, _, _, _ := newTestService()

	req := cashRequest()
	req.Items[0].UnitPrice = 0
	_, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1299), ms.createdItems[0].UnitPrice)
}

func TestCreateOrderCardAuthorizes(t *testing.T) {
	svc, ms, mg, _, _ := newTestService()

	req := cashRequest()
	req.PaymentMethod = models.PaymentMethodCard
	req.Tax = 300
	resp, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, mg.authorizeCalls)
	assert.Equal(t, int64(2*1299+899+300), mg.authorizedAmt)
	assert.Equal(t, "ORD12345", mg.authorizedMeta["order_number"],
		"the order number rides along in the authorization metadata")
	assert.Equal(t, models.PaymentStatusAuthorized, resp.PaymentStatus)
	assert.Equal(t, "pi_test_1", ms.created.PaymentReference)
}

func TestCreateOrderCardAuthFailure(t *testing.T) {
	svc, ms, mg, mn, _ := newTestService()
	mg.authorizeErr = &payment.AuthorizationError{Code: "card_declined", Message: "insufficient funds"}

	req := cashRequest()
	req.PaymentMethod = models.PaymentMethodCard
	_, err := svc.CreateOrder(context.Background(), req)

	var creation *OrderCreationError
	require.ErrorAs(t, err, &creation)
	var authErr *payment.AuthorizationError
	assert.ErrorAs(t, err, &authErr)

	assert.Nil(t, ms.created, "no order row may exist after a declined authorization")
	assert.Empty(t, mn.created)
}

func TestCreateOrderPersistenceFailureVoidsAuthorization(t *testing.T) {
	svc, ms, mg, _, _ := newTestService()
	ms.createErr = errors.New("disk full")

	req := cashRequest()
	req.PaymentMethod = models.PaymentMethodCard
	_, err := svc.CreateOrder(context.Background(), req)

	var creation *OrderCreationError
	require.ErrorAs(t, err, &creation)
	assert.ErrorContains(t, err, "disk full", "the persistence error must not be masked")

	assert.Equal(t, 1, mg.cancelCalls, "the hold must be released")
	assert.Equal(t, []string{"pi_test_1"}, mg.cancelledIDs)
}

func TestCreateOrderPersistenceFailureVoidFailureStillReturnsOriginal(t *testing.T) {
	svc, ms, mg, _, _ := newTestService()
	ms.createErr = errors.New("disk full")
	mg.cancelErr = &payment.CancelError{PaymentID: "pi_test_1", Message: "already captured"}

	req := cashRequest()
	req.PaymentMethod = models.PaymentMethodCard
	_, err := svc.CreateOrder(context.Background(), req)

	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, mg.cancelCalls)
}

func transitionOrder(paymentStatus string) *models.Order {
	return &models.Order{
		ID:               7,
		OrderNumber:      "ORD00007",
		Status:           models.OrderStatusReady,
		PaymentStatus:    paymentStatus,
		PaymentReference: "pi_test_7",
		EstimatedMinutes: 30,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestTransitionCompletedCapturesPayment(t *testing.T) {
	svc, ms, mg, mn, _ := newTestService()
	ms.transitionBefore = transitionOrder(models.PaymentStatusAuthorized)

	after, err := svc.TransitionStatus(context.Background(), 7, models.OrderStatusCompleted, "staff-1", "")
	require.NoError(t, err)

	assert.Equal(t, 1, mg.captureCalls, "exactly one capture call")
	assert.Zero(t, mg.cancelCalls)
	assert.Equal(t, []string{models.PaymentStatusPaid}, ms.paymentUpdates)
	assert.Equal(t, models.OrderStatusCompleted, after.Status)
	assert.Equal(t, models.PaymentStatusPaid, after.PaymentStatus)

	require.Len(t, mn.transitions, 1)
	assert.Equal(t, models.OrderStatusCompleted, mn.transitions[0].Status)
	assert.Zero(t, mn.transitions[0].ETAMinutes)
}

func TestTransitionCancelledReleasesPayment(t *testing.T) {
	svc, ms, mg, _, _ := newTestService()
	ms.transitionBefore = transitionOrder(models.PaymentStatusAuthorized)

	after, err := svc.TransitionStatus(context.Background(), 7, models.OrderStatusCancelled, "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, mg.cancelCalls, "exactly one cancel call")
	assert.Zero(t, mg.captureCalls)
	assert.Equal(t, []string{models.PaymentStatusCancelled}, ms.paymentUpdates)
	assert.Equal(t, models.PaymentStatusCancelled, after.PaymentStatus)
}

func TestTransitionUnpaidOrderSkipsGateway(t *testing.T) {
	svc, ms, mg, _, _ := newTestService()
	ms.transitionBefore = transitionOrder(models.PaymentStatusUnpaid)

	after, err := svc.TransitionStatus(context.Background(), 7, models.OrderStatusCompleted, "", "")
	require.NoError(t, err)

	assert.Zero(t, mg.captureCalls)
	assert.Zero(t, mg.cancelCalls)
	assert.Equal(t, models.PaymentStatusUnpaid, after.PaymentStatus)
}

func TestTransitionCaptureFailureLeavesPaymentAuthorized(t *testing.T) {
	svc, ms, mg, _, _ := newTestService()
	ms.transitionBefore = transitionOrder(models.PaymentStatusAuthorized)
	mg.captureErr = &payment.CaptureError{PaymentID: "pi_test_7", Message: "authorization expired"}

	after, err := svc.TransitionStatus(context.Background(), 7, models.OrderStatusCompleted, "", "")
	require.NoError(t, err, "a capture failure must not block the status change")

	assert.Equal(t, models.OrderStatusCompleted, after.Status)
	assert.Equal(t, models.PaymentStatusAuthorized, after.PaymentStatus,
		"payment must not be marked paid when the capture failed")
	assert.Empty(t, ms.paymentUpdates)
}

func TestTransitionInvalidPassesThrough(t *testing.T) {
	svc, ms, mg, mn, _ := newTestService()
	ms.transitionErr = &models.InvalidTransitionError{
		From: models.OrderStatusCompleted,
		To:   models.OrderStatusCancelled,
	}

	_, err := svc.TransitionStatus(context.Background(), 7, models.OrderStatusCancelled, "", "")

	var invalid *models.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, mg.captureCalls)
	assert.Zero(t, mg.cancelCalls)
	assert.Empty(t, mn.transitions)
}

func TestTransitionUnknownStatusRejected(t *testing.T) {
	svc, ms, _, _, _ := newTestService()

	_, err := svc.TransitionStatus(context.Background(), 7, "shipped", "", "")

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Zero(t, ms.transitionCalls)
}

func TestHandlePaymentEventAppliesOutcome(t *testing.T) {
	svc, ms, _, _, _ := newTestService()
	ms.orderByRef = &models.Order{
		ID:               3,
		Status:           models.OrderStatusCompleted,
		PaymentStatus:    models.PaymentStatusAuthorized,
		PaymentReference: "pi_test_3",
	}

	err := svc.HandlePaymentEvent(context.Background(), &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt_1",
			EventType: models.EventTypePaymentSucceeded,
		},
		PaymentReference: "pi_test_3",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{models.PaymentStatusPaid}, ms.paymentUpdates)
	assert.Equal(t, []string{"evt_1"}, ms.marked)
}

func TestHandlePaymentEventDeduplicates(t *testing.T) {
	svc, ms, _, _, _ := newTestService()
	ms.processed["evt_1"] = true
	ms.orderByRef = &models.Order{ID: 3, PaymentStatus: models.PaymentStatusAuthorized}

	err := svc.HandlePaymentEvent(context.Background(), &models.PaymentEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt_1", EventType: models.EventTypePaymentSucceeded},
		PaymentReference: "pi_test_3",
	})
	require.NoError(t, err)

	assert.Empty(t, ms.paymentUpdates)
	assert.Empty(t, ms.marked)
}

func TestHandlePaymentEventAlreadyInTargetState(t *testing.T) {
	svc, ms, _, _, _ := newTestService()
	ms.orderByRef = &models.Order{ID: 3, PaymentStatus: models.PaymentStatusPaid}

	err := svc.HandlePaymentEvent(context.Background(), &models.PaymentEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt_2", EventType: models.EventTypePaymentSucceeded},
		PaymentReference: "pi_test_3",
	})
	require.NoError(t, err)

	assert.Empty(t, ms.paymentUpdates, "no redundant update")
	assert.Equal(t, []string{"evt_2"}, ms.marked, "event still recorded as processed")
}

func TestHandlePaymentEventCacheFastPath(t *testing.T) {
	svc, ms, _, _, _ := newTestService()
	cache := newMockCache()
	cache.seen["evt_1"] = true
	svc.cache = cache
	ms.orderByRef = &models.Order{ID: 3, PaymentStatus: models.PaymentStatusAuthorized}

	err := svc.HandlePaymentEvent(context.Background(), &models.PaymentEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt_1", EventType: models.EventTypePaymentSucceeded},
		PaymentReference: "pi_test_3",
	})
	require.NoError(t, err)

	assert.Empty(t, ms.paymentUpdates, "a cache hit skips the database entirely")
	assert.Empty(t, ms.marked)
}

func TestHandlePaymentEventSeedsCacheAfterProcessing(t *testing.T) {
	svc, ms, _, _, _ := newTestService()
	cache := newMockCache()
	svc.cache = cache
	ms.orderByRef = &models.Order{
		ID:               3,
		PaymentStatus:    models.PaymentStatusAuthorized,
		PaymentReference: "pi_test_3",
	}

	err := svc.HandlePaymentEvent(context.Background(), &models.PaymentEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt_1", EventType: models.EventTypePaymentSucceeded},
		PaymentReference: "pi_test_3",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{models.PaymentStatusPaid}, ms.paymentUpdates)
	assert.Equal(t, []string{"evt_1"}, ms.marked)
	assert.Equal(t, []string{"evt_1"}, cache.seeded,
		"the fast path is seeded only after the dedup row exists")
}

func TestHandlePaymentEventUnknownReference(t *testing.T) {
	svc, ms, _, _, _ := newTestService()

	err := svc.HandlePaymentEvent(context.Background(), &models.PaymentEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt_3", EventType: models.EventTypePaymentFailed},
		PaymentReference: "pi_unknown",
	})
	require.NoError(t, err, "unknown references are acknowledged, not retried forever")
	assert.Equal(t, []string{"evt_3"}, ms.marked)
}
