package posting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/documents"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/landedcost"
	"github.com/meridian-books/meridian/internal/ledger"
	"github.com/meridian-books/meridian/internal/matching"
	"github.com/meridian-books/meridian/internal/payments"
	"github.com/meridian-books/meridian/internal/procurement"
	"github.com/meridian-books/meridian/internal/shared"
)

type fakeUOW struct {
	stores Stores
}

func (u *fakeUOW) Do(ctx context.Context, fn func(context.Context, Stores) error) error {
	return fn(ctx, u.stores)
}

type fakeLedger struct {
	ledger.TxRepository
	accounts map[ledger.AccountPurpose]ledger.Account
	entries  map[int64]ledger.JournalEntry
	sources  map[string]int64
	nextID   int64
}

func newFakeLedger(purposes ...ledger.AccountPurpose) *fakeLedger {
	f := &fakeLedger{
		accounts: make(map[ledger.AccountPurpose]ledger.Account),
		entries:  make(map[int64]ledger.JournalEntry),
		sources:  make(map[string]int64),
	}
	for _, purpose := range purposes {
		f.nextID++
		f.accounts[purpose] = ledger.Account{ID: f.nextID, CompanyID: 1, Code: string(purpose), Type: ledger.AccountTypeAsset}
	}
	return f
}

func allPurposes() []ledger.AccountPurpose {
	return []ledger.AccountPurpose{
		ledger.PurposeCash, ledger.PurposeAR, ledger.PurposeAP, ledger.PurposeInventory,
		ledger.PurposeExpense, ledger.PurposeRevenue, ledger.PurposeFXGain, ledger.PurposeFXLoss,
	}
}

func (f *fakeLedger) GetAccountForPurpose(ctx context.Context, companyID int64, purpose ledger.AccountPurpose) (ledger.Account, error) {
	account, ok := f.accounts[purpose]
	if !ok {
		return ledger.Account{}, ledger.ErrMissingAccounts
	}
	return account, nil
}

func (f *fakeLedger) InsertEntry(ctx context.Context, in ledger.PostingInput, status ledger.EntryStatus) (ledger.JournalEntry, error) {
	f.nextID++
	entry := ledger.JournalEntry{
		ID: f.nextID, CompanyID: in.CompanyID, Date: in.Date, Memo: in.Memo,
		Reference: in.Reference, SourceModule: in.SourceModule, SourceID: in.SourceID,
		Status: status, PostedBy: in.PostedBy,
	}
	f.entries[entry.ID] = entry
	return entry, nil
}

func (f *fakeLedger) InsertLine(ctx context.Context, entryID int64, line ledger.PostingLineInput) (ledger.JournalLine, error) {
	f.nextID++
	return ledger.JournalLine{
		ID: f.nextID, EntryID: entryID, AccountID: line.AccountID,
		Debit: line.Debit, Credit: line.Credit, Memo: line.Memo,
	}, nil
}

func (f *fakeLedger) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	key := module + ":" + ref.String()
	if _, ok := f.sources[key]; ok {
		return ledger.ErrSourceAlreadyLinked
	}
	f.sources[key] = entryID
	return nil
}

type fakeDocs struct {
	documents.TxRepository
	docs map[int64]documents.Document
}

func (f *fakeDocs) GetDocumentForUpdate(ctx context.Context, id int64) (documents.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return documents.Document{}, documents.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocs) MarkPosted(ctx context.Context, id int64) error {
	doc, ok := f.docs[id]
	if !ok {
		return documents.ErrDocumentNotFound
	}
	if doc.Status != documents.StatusDraft {
		return documents.ErrAlreadyPosted
	}
	doc.Status = documents.StatusPosted
	f.docs[id] = doc
	return nil
}

func (f *fakeDocs) SetLandedCostAllocated(ctx context.Context, id int64) error {
	doc := f.docs[id]
	doc.LandedCostAllocated = true
	f.docs[id] = doc
	return nil
}

func (f *fakeDocs) LinkPurchaseOrder(ctx context.Context, id, purchaseOrderID int64) error {
	doc := f.docs[id]
	doc.PurchaseOrderID = &purchaseOrderID
	f.docs[id] = doc
	return nil
}

func (f *fakeDocs) DecrementBalance(ctx context.Context, id int64, amount float64) (documents.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return documents.Document{}, documents.ErrDocumentNotFound
	}
	remaining := round2(doc.BalanceDue - amount)
	if remaining < 0 {
		return documents.Document{}, documents.ErrBalanceExceeded
	}
	doc.BalanceDue = remaining
	doc.Status = documents.StatusForBalance(doc.TotalAmount, remaining)
	f.docs[id] = doc
	return doc, nil
}

func (f *fakeDocs) OldestOpen(ctx context.Context, companyID int64, docType documents.Type, partyID int64) (documents.Document, error) {
	var oldest *documents.Document
	for id := range f.docs {
		doc := f.docs[id]
		if doc.CompanyID != companyID || doc.Type != docType || doc.PartyID != partyID || !doc.IsOpen() {
			continue
		}
		if oldest == nil || doc.Date.Before(oldest.Date) {
			copied := doc
			oldest = &copied
		}
	}
	if oldest == nil {
		return documents.Document{}, documents.ErrDocumentNotFound
	}
	return *oldest, nil
}

type fakePayments struct {
	payments []payments.Payment
	apps     []payments.Application
	nextID   int64
}

func (f *fakePayments) InsertPayment(ctx context.Context, payment payments.Payment) (payments.Payment, error) {
	f.nextID++
	payment.ID = f.nextID
	f.payments = append(f.payments, payment)
	return payment, nil
}

func (f *fakePayments) InsertApplication(ctx context.Context, app payments.Application) (payments.Application, error) {
	f.nextID++
	app.ID = f.nextID
	f.apps = append(f.apps, app)
	return app, nil
}

func (f *fakePayments) ListApplications(ctx context.Context, paymentID int64) ([]payments.Application, error) {
	var out []payments.Application
	for _, app := range f.apps {
		if app.PaymentID == paymentID {
			out = append(out, app)
		}
	}
	return out, nil
}

func (f *fakePayments) GetPayment(ctx context.Context, companyID, id int64) (payments.Payment, error) {
	for _, payment := range f.payments {
		if payment.ID == id && payment.CompanyID == companyID {
			return payment, nil
		}
	}
	return payments.Payment{}, payments.ErrPaymentNotFound
}

type fakeInventory struct {
	inventory.Store
	products  map[int64]inventory.Product
	movements []inventory.Movement
	nextID    int64
}

func (f *fakeInventory) GetProductForUpdate(ctx context.Context, productID int64) (inventory.Product, error) {
	product, ok := f.products[productID]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return product, nil
}

func (f *fakeInventory) UpdateProductStock(ctx context.Context, productID int64, stock, available float64) error {
	product := f.products[productID]
	product.StockQuantity = stock
	product.AvailableQty = available
	f.products[productID] = product
	return nil
}

func (f *fakeInventory) UpdateProductCost(ctx context.Context, productID int64, costPrice float64) error {
	product := f.products[productID]
	product.CostPrice = costPrice
	f.products[productID] = product
	return nil
}

func (f *fakeInventory) UpsertLocationQuantity(ctx context.Context, productID, locationID int64, delta float64) error {
	return nil
}

func (f *fakeInventory) InsertMovement(ctx context.Context, movement inventory.Movement) (inventory.Movement, error) {
	f.nextID++
	movement.ID = f.nextID
	f.movements = append(f.movements, movement)
	return movement, nil
}

type fakeProcurement struct {
	procurement.Store
	orders map[int64]procurement.PurchaseOrder
	assets []procurement.Asset
	nextID int64
}

func (f *fakeProcurement) GetOrderForUpdate(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	order, ok := f.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeProcurement) UpdateOrderStatus(ctx context.Context, id int64, status procurement.Status) error {
	order, ok := f.orders[id]
	if !ok {
		return procurement.ErrOrderNotFound
	}
	order.Status = status
	f.orders[id] = order
	return nil
}

func (f *fakeProcurement) SetMatchedBill(ctx context.Context, id, billID int64) error {
	order, ok := f.orders[id]
	if !ok {
		return procurement.ErrOrderNotFound
	}
	order.MatchedBillID = &billID
	f.orders[id] = order
	return nil
}

func (f *fakeProcurement) UpsertAsset(ctx context.Context, asset procurement.Asset) (procurement.Asset, error) {
	f.nextID++
	asset.ID = f.nextID
	f.assets = append(f.assets, asset)
	return asset, nil
}

type fakeMatch struct {
	matching.Store
	exceptions []matching.Exception
	nextID     int64
}

func (f *fakeMatch) GetSetting(ctx context.Context, companyID int64, key string) (string, error) {
	return "", matching.ErrSettingNotFound
}

func (f *fakeMatch) InsertException(ctx context.Context, exc matching.Exception) (matching.Exception, error) {
	f.nextID++
	exc.ID = f.nextID
	f.exceptions = append(f.exceptions, exc)
	return exc, nil
}

type stubGuard struct {
	err   error
	calls int
}

func (g *stubGuard) EnsurePostable(ctx context.Context, companyID int64, date time.Time, override bool, justification string, actorID int64) error {
	g.calls++
	return g.err
}

type recorder struct {
	logs     []shared.AuditLog
	scans    []int64
	webhooks []string
}

func (r *recorder) Record(ctx context.Context, log shared.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func (r *recorder) EnqueueAnomalyScan(ctx context.Context, companyID, entryID int64) error {
	r.scans = append(r.scans, entryID)
	return nil
}

func (r *recorder) EnqueueWebhook(ctx context.Context, companyID int64, event string, payload map[string]any) error {
	r.webhooks = append(r.webhooks, event)
	return nil
}

type fixture struct {
	svc      *Service
	guard    *stubGuard
	ledger   *fakeLedger
	docs     *fakeDocs
	payments *fakePayments
	stock    *fakeInventory
	orders   *fakeProcurement
	match    *fakeMatch
	sink     *recorder
}

func newFixture(purposes ...ledger.AccountPurpose) *fixture {
	if len(purposes) == 0 {
		purposes = allPurposes()
	}
	f := &fixture{
		guard:    &stubGuard{},
		ledger:   newFakeLedger(purposes...),
		docs:     &fakeDocs{docs: make(map[int64]documents.Document)},
		payments: &fakePayments{},
		stock:    &fakeInventory{products: make(map[int64]inventory.Product)},
		orders:   &fakeProcurement{orders: make(map[int64]procurement.PurchaseOrder)},
		match:    &fakeMatch{},
		sink:     &recorder{},
	}
	uow := &fakeUOW{stores: Stores{
		Ledger:      f.ledger,
		Documents:   f.docs,
		Payments:    f.payments,
		Inventory:   f.stock,
		Procurement: f.orders,
		Matching:    f.match,
	}}
	f.svc = NewService(uow, f.guard,
		ledger.NewService(nil, nil, nil),
		payments.NewEngine(),
		landedcost.NewAllocator(),
		inventory.NewService(nil),
		matching.NewService(nil, nil, matching.Defaults{}),
		f.sink, f.sink)
	f.svc.WithNow(func() time.Time { return time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC) })
	return f
}

func entryBalance(t *testing.T, entry ledger.JournalEntry) (debit, credit float64) {
	t.Helper()
	for _, line := range entry.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	require.Equal(t, ledger.Cents(debit), ledger.Cents(credit))
	return debit, credit
}

func lineFor(entry ledger.JournalEntry, accountID int64) (ledger.JournalLine, bool) {
	for _, line := range entry.Lines {
		if line.AccountID == accountID {
			return line, true
		}
	}
	return ledger.JournalLine{}, false
}

func draftBill(id int64, purchaseType documents.PurchaseType) documents.Document {
	productID := int64(101)
	return documents.Document{
		ID: id, CompanyID: 1, Type: documents.TypeBill, PartyID: 9,
		Number: fmt.Sprintf("BILL-%03d", id), Date: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		PurchaseType: purchaseType, Status: documents.StatusDraft,
		TotalAmount: 150, BalanceDue: 150, SourceID: uuid.New(),
		Lines: []documents.Line{
			{ID: 1, ProductID: &productID, Quantity: 10, UnitPrice: 10, LineTotal: 100},
			{ID: 2, Description: "Freight brokerage", Quantity: 1, UnitPrice: 50, LineTotal: 50},
		},
	}
}

func trackedProduct(id int64, stock, cost float64) inventory.Product {
	return inventory.Product{ID: id, CompanyID: 1, SKU: fmt.Sprintf("SKU-%d", id), TrackStock: true, StockQuantity: stock, CostPrice: cost}
}

func TestPostBillProducesBalancedEntry(t *testing.T) {
	f := newFixture()
	f.docs.docs[7] = draftBill(7, documents.PurchaseLocal)
	f.stock.products[101] = trackedProduct(101, 0, 10)

	result, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.NoError(t, err)

	debit, _ := entryBalance(t, result.Entry)
	require.InDelta(t, 150.0, debit, 0.001)

	inv, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeInventory].ID)
	require.True(t, ok)
	require.InDelta(t, 100.0, inv.Debit, 0.001)
	exp, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeExpense].ID)
	require.True(t, ok)
	require.InDelta(t, 50.0, exp.Debit, 0.001)
	ap, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAP].ID)
	require.True(t, ok)
	require.InDelta(t, 150.0, ap.Credit, 0.001)

	require.Equal(t, documents.StatusPosted, f.docs.docs[7].Status)
	require.Len(t, f.stock.movements, 1)
	require.Equal(t, inventory.MovementInbound, f.stock.movements[0].Type)
	require.InDelta(t, 10.0, f.stock.movements[0].Quantity, 0.001)
	require.InDelta(t, 10.0, f.stock.products[101].StockQuantity, 0.001)

	require.Equal(t, 1, f.guard.calls)
	require.Len(t, f.sink.logs, 1)
	require.Equal(t, "bill.post", f.sink.logs[0].Action)
	require.Equal(t, []int64{result.Entry.ID}, f.sink.scans)
	require.Equal(t, []string{"bill.post"}, f.sink.webhooks)
}

func TestPostImportBillCapitalizesLandedCosts(t *testing.T) {
	f := newFixture()
	bill := draftBill(7, documents.PurchaseImport)
	productB := int64(102)
	bill.Lines = []documents.Line{
		{ID: 1, ProductID: ptrID(101), Quantity: 10, UnitPrice: 5, LineTotal: 50},
		{ID: 2, ProductID: &productB, Quantity: 5, UnitPrice: 10, LineTotal: 50},
	}
	bill.TotalAmount, bill.BalanceDue = 100, 100
	bill.FreightCost, bill.CustomsDuty = 6, 4
	f.docs.docs[7] = bill
	f.stock.products[101] = trackedProduct(101, 0, 5)
	f.stock.products[102] = trackedProduct(102, 0, 10)

	result, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)

	// Per-unit landed cost folds into the moving cost price.
	require.InDelta(t, 5.50, f.stock.products[101].CostPrice, 0.001)
	require.InDelta(t, 11.00, f.stock.products[102].CostPrice, 0.001)
	require.True(t, f.docs.docs[7].LandedCostAllocated)

	// AP carries the full obligation including landed costs.
	ap, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAP].ID)
	require.True(t, ok)
	require.InDelta(t, 110.0, ap.Credit, 0.001)
	entryBalance(t, result.Entry)
}

func TestPostImportBillWithoutInventoryExpensesLandedCosts(t *testing.T) {
	f := newFixture()
	bill := draftBill(7, documents.PurchaseImport)
	bill.Lines = []documents.Line{
		{ID: 1, Description: "Consulting", Quantity: 1, UnitPrice: 100, LineTotal: 100},
	}
	bill.TotalAmount, bill.BalanceDue = 100, 100
	bill.FreightCost = 20
	f.docs.docs[7] = bill

	result, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.NoError(t, err)
	require.Empty(t, result.Allocations)
	require.False(t, f.docs.docs[7].LandedCostAllocated)

	exp, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeExpense].ID)
	require.True(t, ok)
	ap, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAP].ID)
	require.True(t, ok)
	require.InDelta(t, 120.0, ap.Credit, 0.001)
	require.InDelta(t, 100.0, exp.Debit, 0.001)
	entryBalance(t, result.Entry)
}

func TestPostBillStatusGate(t *testing.T) {
	f := newFixture()
	posted := draftBill(7, documents.PurchaseLocal)
	posted.Status = documents.StatusPosted
	f.docs.docs[7] = posted
	_, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.ErrorIs(t, err, documents.ErrAlreadyPosted)

	cancelled := draftBill(8, documents.PurchaseLocal)
	cancelled.Status = documents.StatusCancelled
	f.docs.docs[8] = cancelled
	_, err = f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 8, ActorID: 3})
	require.ErrorIs(t, err, documents.ErrCancelled)

	require.Empty(t, f.sink.logs)
	require.Empty(t, f.sink.scans)
}

func TestPostBillCompanyMismatch(t *testing.T) {
	f := newFixture()
	f.docs.docs[7] = draftBill(7, documents.PurchaseLocal)
	_, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 2, BillID: 7, ActorID: 3})
	require.ErrorIs(t, err, ErrCompanyMismatch)
}

func TestPostBillBlockedByPeriodGuard(t *testing.T) {
	f := newFixture()
	f.guard.err = fmt.Errorf("period locked")
	f.docs.docs[7] = draftBill(7, documents.PurchaseLocal)
	f.stock.products[101] = trackedProduct(101, 0, 10)

	_, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.Error(t, err)
	require.Equal(t, documents.StatusDraft, f.docs.docs[7].Status)
	require.Empty(t, f.ledger.entries)
	require.Empty(t, f.stock.movements)
	require.Empty(t, f.sink.logs)
}

func TestPostBillMissingAccountsAbortsBeforeWrites(t *testing.T) {
	f := newFixture(ledger.PurposeAP)
	f.docs.docs[7] = draftBill(7, documents.PurchaseLocal)
	f.stock.products[101] = trackedProduct(101, 0, 10)

	_, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.ErrorIs(t, err, ledger.ErrMissingAccounts)

	var missing *ledger.MissingAccountsError
	require.ErrorAs(t, err, &missing)
	require.ElementsMatch(t, []ledger.AccountPurpose{ledger.PurposeInventory, ledger.PurposeExpense}, missing.Purposes)

	require.Empty(t, f.ledger.entries)
	require.Empty(t, f.stock.movements)
	require.Equal(t, documents.StatusDraft, f.docs.docs[7].Status)
}

func TestPostBillSourceIdempotency(t *testing.T) {
	f := newFixture()
	bill := draftBill(7, documents.PurchaseLocal)
	f.docs.docs[7] = bill
	f.stock.products[101] = trackedProduct(101, 0, 10)

	_, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.NoError(t, err)

	// A stale replica replaying the draft still trips the source link.
	replay := bill
	replay.Status = documents.StatusDraft
	f.docs.docs[7] = replay
	_, err = f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3})
	require.ErrorIs(t, err, ledger.ErrSourceAlreadyLinked)
}

func TestPostBillRunsThreeWayMatch(t *testing.T) {
	f := newFixture()
	bill := draftBill(7, documents.PurchaseLocal)
	f.docs.docs[7] = bill
	f.stock.products[101] = trackedProduct(101, 0, 10)
	f.orders.orders[4] = procurement.PurchaseOrder{
		ID: 4, CompanyID: 1, VendorID: 9, Status: procurement.StatusSent,
		PurchaseType: documents.PurchaseLocal, TotalAmount: 100,
	}
	orderID := int64(4)

	result, err := f.svc.PostBill(context.Background(), PostBillInput{CompanyID: 1, BillID: 7, ActorID: 3, MatchOrderID: &orderID})
	require.NoError(t, err)
	require.NotNil(t, result.Match)
	require.False(t, result.Match.Matched)
	require.NotNil(t, result.Match.Exception)
	require.Len(t, f.match.exceptions, 1)

	// Posting proceeds despite the exception; the bill links to its order.
	require.Equal(t, documents.StatusPosted, f.docs.docs[7].Status)
	require.NotNil(t, f.orders.orders[4].MatchedBillID)
	require.Equal(t, int64(7), *f.orders.orders[4].MatchedBillID)
	require.NotNil(t, f.docs.docs[7].PurchaseOrderID)
}

func TestPostInvoiceDebitsARCreditsRevenue(t *testing.T) {
	f := newFixture()
	productID := int64(101)
	f.docs.docs[5] = documents.Document{
		ID: 5, CompanyID: 1, Type: documents.TypeInvoice, PartyID: 9,
		Number: "INV-001", Date: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		Status: documents.StatusDraft, TotalAmount: 230, BalanceDue: 230, SourceID: uuid.New(),
		Lines: []documents.Line{
			{ID: 1, ProductID: &productID, Description: "widgets", Quantity: 10, UnitPrice: 20, LineTotal: 200},
			{ID: 2, Description: "shipping", Quantity: 1, UnitPrice: 30, LineTotal: 30},
		},
	}

	result, err := f.svc.PostInvoice(context.Background(), PostInvoiceInput{CompanyID: 1, InvoiceID: 5, ActorID: 3})
	require.NoError(t, err)
	entryBalance(t, result.Entry)

	ar, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAR].ID)
	require.True(t, ok)
	require.InDelta(t, 230.0, ar.Debit, 0.001)

	var revenue float64
	for _, line := range result.Entry.Lines {
		if line.AccountID == f.ledger.accounts[ledger.PurposeRevenue].ID {
			revenue += line.Credit
		}
	}
	require.InDelta(t, 230.0, revenue, 0.001)

	// Invoices never touch stock; fulfilment is a separate concern.
	require.Empty(t, f.stock.movements)
	require.Equal(t, documents.StatusPosted, f.docs.docs[5].Status)
	require.Equal(t, "invoice.post", f.sink.logs[0].Action)
}

func TestPostPaymentAppliesAndBalances(t *testing.T) {
	f := newFixture()
	f.docs.docs[5] = documents.Document{
		ID: 5, CompanyID: 1, Type: documents.TypeInvoice, PartyID: 9,
		Status: documents.StatusPosted, TotalAmount: 500, BalanceDue: 500,
		Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	result, err := f.svc.PostPayment(context.Background(), PostPaymentInput{
		Payment: payments.Payment{
			CompanyID: 1, Direction: payments.DirectionReceivable, PartyID: 9,
			Amount: 300, Method: payments.MethodBank, Reference: "PAY-001",
			Date: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		Allocations: []payments.Allocation{{DocumentID: 5, Amount: 300}},
		ActorID:     3,
	})
	require.NoError(t, err)
	require.Len(t, result.Applications, 1)
	require.InDelta(t, 200.0, f.docs.docs[5].BalanceDue, 0.001)
	require.Equal(t, documents.StatusPartiallyPaid, f.docs.docs[5].Status)

	entryBalance(t, result.Entry)
	cash, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeCash].ID)
	require.True(t, ok)
	require.InDelta(t, 300.0, cash.Debit, 0.001)
	ar, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAR].ID)
	require.True(t, ok)
	require.InDelta(t, 300.0, ar.Credit, 0.001)
	require.Equal(t, "payment.post", f.sink.logs[0].Action)
}

func TestPostPaymentRealizedFXGain(t *testing.T) {
	f := newFixture()
	result, err := f.svc.PostPayment(context.Background(), PostPaymentInput{
		Payment: payments.Payment{
			CompanyID: 1, Direction: payments.DirectionReceivable, PartyID: 9,
			Amount: 100, Method: payments.MethodBank, FXGainLoss: 5,
			Date: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		ActorID: 3,
	})
	require.NoError(t, err)
	entryBalance(t, result.Entry)

	ar, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAR].ID)
	require.True(t, ok)
	require.InDelta(t, 95.0, ar.Credit, 0.001)
	gain, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeFXGain].ID)
	require.True(t, ok)
	require.InDelta(t, 5.0, gain.Credit, 0.001)
}

func TestPostPaymentRealizedFXLoss(t *testing.T) {
	f := newFixture()
	result, err := f.svc.PostPayment(context.Background(), PostPaymentInput{
		Payment: payments.Payment{
			CompanyID: 1, Direction: payments.DirectionPayable, PartyID: 9,
			Amount: 100, Method: payments.MethodBank, FXGainLoss: -4,
			Date: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		ActorID: 3,
	})
	require.NoError(t, err)
	entryBalance(t, result.Entry)

	ap, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeAP].ID)
	require.True(t, ok)
	require.InDelta(t, 96.0, ap.Debit, 0.001)
	loss, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeFXLoss].ID)
	require.True(t, ok)
	require.InDelta(t, 4.0, loss.Debit, 0.001)
	cash, ok := lineFor(result.Entry, f.ledger.accounts[ledger.PurposeCash].ID)
	require.True(t, ok)
	require.InDelta(t, 100.0, cash.Credit, 0.001)
}

func TestPostDeliveryMovesStockWithoutJournal(t *testing.T) {
	f := newFixture()
	productID := int64(101)
	f.stock.products[101] = trackedProduct(101, 0, 8)
	f.orders.orders[4] = procurement.PurchaseOrder{
		ID: 4, CompanyID: 1, VendorID: 9, Status: procurement.StatusSent,
		Lines: []procurement.Line{
			{ID: 11, ProductID: &productID, Description: "widgets", Quantity: 10, UnitPrice: 8, ReceivedQty: 10, AcceptedQty: 9, RejectedQty: 1},
			{ID: 12, Description: "installation", Quantity: 1, UnitPrice: 50, ReceivedQty: 1, AcceptedQty: 1},
		},
	}

	result, err := f.svc.PostDelivery(context.Background(), PostDeliveryInput{CompanyID: 1, OrderID: 4, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, procurement.StatusDelivered, result.Order.Status)
	require.Equal(t, procurement.StatusDelivered, f.orders.orders[4].Status)

	// Only accepted tracked quantities arrive; rejected units never enter stock.
	require.Len(t, result.Movements, 1)
	require.InDelta(t, 9.0, result.Movements[0].Quantity, 0.001)
	require.InDelta(t, 9.0, f.stock.products[101].StockQuantity, 0.001)

	// Ledger impact waits for the vendor bill.
	require.Empty(t, f.ledger.entries)
	require.Equal(t, "purchase_order.deliver", f.sink.logs[0].Action)
	require.Empty(t, f.sink.scans)
	require.Equal(t, []string{"purchase_order.delivered"}, f.sink.webhooks)
}

func TestPostDeliveryCapitalizesFixedAssets(t *testing.T) {
	f := newFixture()
	productID := int64(101)
	f.orders.orders[4] = procurement.PurchaseOrder{
		ID: 4, CompanyID: 1, VendorID: 9, Status: procurement.StatusApproved, FixedAsset: true,
		Lines: []procurement.Line{
			{ID: 11, ProductID: &productID, Description: "forklift", Quantity: 2, UnitPrice: 12000, ReceivedQty: 2, AcceptedQty: 2},
		},
	}

	result, err := f.svc.PostDelivery(context.Background(), PostDeliveryInput{CompanyID: 1, OrderID: 4, ActorID: 3})
	require.NoError(t, err)
	require.Empty(t, result.Movements)
	require.Len(t, result.Assets, 1)
	require.Equal(t, "forklift", result.Assets[0].Name)
	require.InDelta(t, 2.0, result.Assets[0].Quantity, 0.001)
	require.InDelta(t, 12000.0, result.Assets[0].UnitCost, 0.001)
}

func TestPostDeliveryRejectsDraftOrder(t *testing.T) {
	f := newFixture()
	f.orders.orders[4] = procurement.PurchaseOrder{ID: 4, CompanyID: 1, Status: procurement.StatusDraft}
	_, err := f.svc.PostDelivery(context.Background(), PostDeliveryInput{CompanyID: 1, OrderID: 4, ActorID: 3})
	require.ErrorIs(t, err, procurement.ErrInvalidTransition)
	require.Equal(t, procurement.StatusDraft, f.orders.orders[4].Status)
}

func ptrID(v int64) *int64 { return &v }
