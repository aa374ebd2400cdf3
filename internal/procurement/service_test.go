package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/shared"
)

type memoryOrders struct {
	orders   map[int64]PurchaseOrder
	receipts []Receipt
	assets   map[int64]Asset
	nextID   int64
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{orders: make(map[int64]PurchaseOrder), assets: make(map[int64]Asset)}
}

func (m *memoryOrders) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return fn(ctx, m)
}

func (m *memoryOrders) InsertOrder(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error) {
	m.nextID++
	order.ID = m.nextID
	for i := range order.Lines {
		m.nextID++
		order.Lines[i].ID = m.nextID
		order.Lines[i].OrderID = order.ID
	}
	m.orders[order.ID] = order
	return order, nil
}

// cloneOrder detaches the Lines backing array so callers mutating their
// copy cannot reach into the store, matching the row scans of the real
// repository.
func cloneOrder(order PurchaseOrder) PurchaseOrder {
	lines := make([]Line, len(order.Lines))
	copy(lines, order.Lines)
	order.Lines = lines
	return order
}

func (m *memoryOrders) GetOrder(ctx context.Context, companyID, id int64) (PurchaseOrder, error) {
	order, ok := m.orders[id]
	if !ok || order.CompanyID != companyID {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *memoryOrders) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *memoryOrders) UpdateOrderStatus(ctx context.Context, id int64, status Status) error {
	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	m.orders[id] = order
	return nil
}

func (m *memoryOrders) UpdateReceivingStatus(ctx context.Context, id int64, status ReceivingStatus) error {
	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.ReceivingStatus = status
	m.orders[id] = order
	return nil
}

func (m *memoryOrders) SetMatchedBill(ctx context.Context, id, billID int64) error {
	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.MatchedBillID = &billID
	m.orders[id] = order
	return nil
}

func (m *memoryOrders) InsertReceipt(ctx context.Context, receipt Receipt) (Receipt, error) {
	m.nextID++
	receipt.ID = m.nextID
	m.receipts = append(m.receipts, receipt)
	return receipt, nil
}

func (m *memoryOrders) AddLineReceipt(ctx context.Context, lineID int64, received, accepted, rejected float64) error {
	for id, order := range m.orders {
		for i := range order.Lines {
			if order.Lines[i].ID == lineID {
				order.Lines[i].ReceivedQty += received
				order.Lines[i].AcceptedQty += accepted
				order.Lines[i].RejectedQty += rejected
				m.orders[id] = order
				return nil
			}
		}
	}
	return ErrLineNotFound
}

func (m *memoryOrders) UpsertAsset(ctx context.Context, asset Asset) (Asset, error) {
	m.nextID++
	asset.ID = m.nextID
	m.assets[asset.ID] = asset
	return asset, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func createOrder(t *testing.T, svc *Service, lines ...LineInput) PurchaseOrder {
	t.Helper()
	if len(lines) == 0 {
		lines = []LineInput{{Description: "widgets", Quantity: 10, UnitPrice: 25}}
	}
	order, err := svc.Create(context.Background(), CreateInput{
		CompanyID: 1,
		VendorID:  9,
		Number:    "PO-001",
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Lines:     lines,
	})
	require.NoError(t, err)
	return order
}

func TestCreateComputesTotals(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)

	order := createOrder(t, svc,
		LineInput{Description: "widgets", Quantity: 3, UnitPrice: 19.99},
		LineInput{Description: "gadgets", Quantity: 2, UnitPrice: 5.005},
	)
	require.Equal(t, StatusDraft, order.Status)
	require.Equal(t, ReceivingPending, order.ReceivingStatus)
	require.Equal(t, documents.PurchaseLocal, order.PurchaseType)
	require.InDelta(t, 69.98, order.TotalAmount, 0.001)
	require.NotZero(t, order.Lines[0].ID)
}

func TestCreateRejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	_, err := svc.Create(context.Background(), CreateInput{
		CompanyID: 1, VendorID: 9,
		Lines: []LineInput{{Quantity: 0, UnitPrice: 10}},
	})
	require.Error(t, err)
}

func TestTransitionLifecycle(t *testing.T) {
	repo := newMemoryOrders()
	audit := &recordingAudit{}
	svc := NewService(repo, audit)
	order := createOrder(t, svc)

	for _, target := range []Status{StatusApproved, StatusSent} {
		updated, err := svc.Transition(context.Background(), 1, order.ID, target, 3)
		require.NoError(t, err)
		require.Equal(t, target, updated.Status)
	}
	require.Len(t, audit.logs, 2)
	require.Equal(t, "purchase_order.transition", audit.logs[0].Action)
	require.Equal(t, "sent", audit.logs[1].Meta["to"])
}

func TestTransitionRejectsDelivered(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc)

	_, err := svc.Transition(context.Background(), 1, order.ID, StatusDelivered, 3)
	require.Error(t, err)
	loaded, err := svc.Get(context.Background(), 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, loaded.Status)
}

func TestTransitionRejectsSkippingApproval(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc)

	_, err := svc.Transition(context.Background(), 1, order.ID, StatusSent, 3)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionScopedByCompany(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc)

	_, err := svc.Transition(context.Background(), 2, order.ID, StatusApproved, 3)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestValidateTransitionTerminalStates(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusDelivered, StatusClosed))
	require.ErrorIs(t, ValidateTransition(StatusClosed, StatusDraft), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StatusCancelled, StatusApproved), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StatusDelivered, StatusCancelled), ErrInvalidTransition)
	require.NoError(t, ValidateTransition(StatusSent, StatusSent))
}

func TestRecordReceiptAccumulates(t *testing.T) {
	repo := newMemoryOrders()
	svc := NewService(repo, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) })
	order := createOrder(t, svc, LineInput{Description: "widgets", Quantity: 10, UnitPrice: 25})
	_, err := svc.Transition(context.Background(), 1, order.ID, StatusApproved, 3)
	require.NoError(t, err)
	lineID := order.Lines[0].ID

	receipt, err := svc.RecordReceipt(context.Background(), 1, order.ID, "GR-001", []ReceiptItemInput{
		{OrderLineID: lineID, Received: 6, Rejected: 1},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Items, 1)
	require.InDelta(t, 5.0, receipt.Items[0].Accepted, 0.001)

	loaded, err := svc.Get(context.Background(), 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, ReceivingPartial, loaded.ReceivingStatus)
	require.InDelta(t, 6.0, loaded.Lines[0].ReceivedQty, 0.001)

	_, err = svc.RecordReceipt(context.Background(), 1, order.ID, "GR-002", []ReceiptItemInput{
		{OrderLineID: lineID, Received: 4},
	})
	require.NoError(t, err)

	loaded, err = svc.Get(context.Background(), 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, ReceivingComplete, loaded.ReceivingStatus)
	require.InDelta(t, 10.0, loaded.Lines[0].ReceivedQty, 0.001)
	require.InDelta(t, 9.0, loaded.Lines[0].AcceptedQty, 0.001)
	require.InDelta(t, 1.0, loaded.Lines[0].RejectedQty, 0.001)
}

func TestRecordReceiptRejectsOverReceipt(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc, LineInput{Description: "widgets", Quantity: 10, UnitPrice: 25})
	_, err := svc.Transition(context.Background(), 1, order.ID, StatusApproved, 3)
	require.NoError(t, err)

	_, err = svc.RecordReceipt(context.Background(), 1, order.ID, "GR-001", []ReceiptItemInput{
		{OrderLineID: order.Lines[0].ID, Received: 11},
	})
	require.ErrorIs(t, err, ErrReceiptExceedsOrder)
}

func TestRecordReceiptRequiresDeliverableStatus(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc)

	_, err := svc.RecordReceipt(context.Background(), 1, order.ID, "GR-001", []ReceiptItemInput{
		{OrderLineID: order.Lines[0].ID, Received: 1},
	})
	require.ErrorIs(t, err, ErrNotDeliverable)
}

func TestRecordReceiptRejectsUnknownLine(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc)
	_, err := svc.Transition(context.Background(), 1, order.ID, StatusApproved, 3)
	require.NoError(t, err)

	_, err = svc.RecordReceipt(context.Background(), 1, order.ID, "GR-001", []ReceiptItemInput{
		{OrderLineID: 9999, Received: 1},
	})
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestRecordReceiptRejectsInvalidQuantities(t *testing.T) {
	svc := NewService(newMemoryOrders(), nil)
	order := createOrder(t, svc)
	_, err := svc.Transition(context.Background(), 1, order.ID, StatusApproved, 3)
	require.NoError(t, err)
	lineID := order.Lines[0].ID

	_, err = svc.RecordReceipt(context.Background(), 1, order.ID, "GR-001", []ReceiptItemInput{
		{OrderLineID: lineID, Received: 2, Rejected: 3},
	})
	require.Error(t, err)
}

func TestDeriveReceivingStatus(t *testing.T) {
	require.Equal(t, ReceivingPending, DeriveReceivingStatus([]Line{{Quantity: 10}}))
	require.Equal(t, ReceivingPartial, DeriveReceivingStatus([]Line{{Quantity: 10, ReceivedQty: 4}}))
	require.Equal(t, ReceivingComplete, DeriveReceivingStatus([]Line{{Quantity: 10, ReceivedQty: 10}}))
	require.Equal(t, ReceivingPartial, DeriveReceivingStatus([]Line{
		{Quantity: 5, ReceivedQty: 5},
		{Quantity: 5},
	}))
}
