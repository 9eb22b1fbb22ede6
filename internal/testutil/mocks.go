package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paylink/qrpay/internal/domain/customer"
	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/domain/ledger"
	"github.com/paylink/qrpay/internal/domain/payment"
	"github.com/paylink/qrpay/internal/fiscal"
	"github.com/paylink/qrpay/internal/gateway"
)

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory payment.Repository. The default
// behavior honors the real contract, including compare-and-set state
// transitions, so concurrency tests exercise the same race semantics as the
// SQL implementation. Individual methods can be overridden via the *Func
// fields.
type MockPaymentRepository struct {
	mu         sync.Mutex
	records    map[int64]*payment.Record
	byProvider map[string]int64
	byCorr     map[string]int64
	nextID     int64

	CreateFunc               func(ctx context.Context, r *payment.Record) error
	GetByIDFunc              func(ctx context.Context, id int64) (*payment.Record, error)
	GetByProviderOrderIDFunc func(ctx context.Context, providerOrderID string) (*payment.Record, error)
	GetByCorrelationIDFunc   func(ctx context.Context, correlationID string) (*payment.Record, error)
	ListFunc                 func(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error)
	SetCustomerFunc          func(ctx context.Context, id, customerID int64) error
	SetProviderOrderFunc     func(ctx context.Context, id int64, providerOrderID, qrPayload string, formURL *string) error
	ApplyStateFunc           func(ctx context.Context, id int64, from, to payment.State, opAt time.Time) (bool, error)
	MarkDeclinedFunc         func(ctx context.Context, id int64, from payment.State, code, description *string, opAt time.Time) (bool, error)
	SetErrorFunc             func(ctx context.Context, id int64, code, description *string, opAt time.Time) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		records:    make(map[int64]*payment.Record),
		byProvider: make(map[string]int64),
		byCorr:     make(map[string]int64),
	}
}

func cloneRecord(r *payment.Record) *payment.Record {
	c := *r
	return &c
}

func (m *MockPaymentRepository) Create(ctx context.Context, r *payment.Record) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byCorr[r.CorrelationID]; exists {
		return domainErrors.ErrDuplicateCorrelationID
	}
	m.nextID++
	r.ID = m.nextID
	m.records[r.ID] = cloneRecord(r)
	m.byCorr[r.CorrelationID] = r.ID
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Record, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return cloneRecord(r), nil
}

func (m *MockPaymentRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*payment.Record, error) {
	if m.GetByProviderOrderIDFunc != nil {
		return m.GetByProviderOrderIDFunc(ctx, providerOrderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byProvider[providerOrderID]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return cloneRecord(m.records[id]), nil
}

func (m *MockPaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*payment.Record, error) {
	if m.GetByCorrelationIDFunc != nil {
		return m.GetByCorrelationIDFunc(ctx, correlationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCorr[correlationID]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return cloneRecord(m.records[id]), nil
}

func (m *MockPaymentRepository) List(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*payment.Record, 0, len(m.records))
	for _, r := range m.records {
		if f.State != nil && r.State != *f.State {
			continue
		}
		if f.Account != nil && r.Account != *f.Account {
			continue
		}
		result = append(result, cloneRecord(r))
	}
	return result, nil
}

func (m *MockPaymentRepository) SetCustomer(ctx context.Context, id, customerID int64) error {
	if m.SetCustomerFunc != nil {
		return m.SetCustomerFunc(ctx, id, customerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domainErrors.ErrPaymentNotFound
	}
	r.CustomerID = &customerID
	return nil
}

func (m *MockPaymentRepository) SetProviderOrder(ctx context.Context, id int64, providerOrderID, qrPayload string, formURL *string) error {
	if m.SetProviderOrderFunc != nil {
		return m.SetProviderOrderFunc(ctx, id, providerOrderID, qrPayload, formURL)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domainErrors.ErrPaymentNotFound
	}
	if r.ProviderOrderID != nil {
		return domainErrors.ErrProviderOrderAssigned
	}
	r.ProviderOrderID = &providerOrderID
	r.QRPayload = &qrPayload
	r.FormURL = formURL
	m.byProvider[providerOrderID] = id
	return nil
}

func (m *MockPaymentRepository) ApplyState(ctx context.Context, id int64, from, to payment.State, opAt time.Time) (bool, error) {
	if m.ApplyStateFunc != nil {
		return m.ApplyStateFunc(ctx, id, from, to, opAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return false, domainErrors.ErrPaymentNotFound
	}
	if r.State != from {
		return false, nil
	}
	r.State = to
	r.LastErrorCode = nil
	r.LastErrorDescription = nil
	r.LastOperationAt = &opAt
	return true, nil
}

func (m *MockPaymentRepository) MarkDeclined(ctx context.Context, id int64, from payment.State, code, description *string, opAt time.Time) (bool, error) {
	if m.MarkDeclinedFunc != nil {
		return m.MarkDeclinedFunc(ctx, id, from, code, description, opAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return false, domainErrors.ErrPaymentNotFound
	}
	if r.State != from {
		return false, nil
	}
	r.State = payment.StateDeclined
	r.LastErrorCode = code
	r.LastErrorDescription = description
	r.LastOperationAt = &opAt
	return true, nil
}

func (m *MockPaymentRepository) SetError(ctx context.Context, id int64, code, description *string, opAt time.Time) error {
	if m.SetErrorFunc != nil {
		return m.SetErrorFunc(ctx, id, code, description, opAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domainErrors.ErrPaymentNotFound
	}
	r.LastErrorCode = code
	r.LastErrorDescription = description
	r.LastOperationAt = &opAt
	return nil
}

// Stored returns the stored record, for assertions on persisted state.
func (m *MockPaymentRepository) Stored(id int64) *payment.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil
	}
	return cloneRecord(r)
}

// --- Customer Repository Mock ---

type MockCustomerRepository struct {
	mu        sync.Mutex
	byAccount map[string]*customer.Customer

	GetByAccountFunc func(ctx context.Context, account string) (*customer.Customer, error)
}

func NewMockCustomerRepository() *MockCustomerRepository {
	return &MockCustomerRepository{byAccount: make(map[string]*customer.Customer)}
}

func (m *MockCustomerRepository) Add(c *customer.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAccount[c.Account] = c
}

func (m *MockCustomerRepository) GetByAccount(ctx context.Context, account string) (*customer.Customer, error) {
	if m.GetByAccountFunc != nil {
		return m.GetByAccountFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byAccount[account]
	if !ok {
		return nil, domainErrors.ErrCustomerNotFound
	}
	return c, nil
}

// --- Ledger Repository Mock ---

// MockLedgerRepository enforces the same (customer, provider order)
// uniqueness as the SQL table, under a mutex, so the exactly-once guarantees
// hold in concurrent tests.
type MockLedgerRepository struct {
	mu      sync.Mutex
	entries map[string]*ledger.Entry
	nextID  int64

	InsertIfAbsentFunc      func(ctx context.Context, e *ledger.Entry) (int64, bool, error)
	SetReceiptReferenceFunc func(ctx context.Context, id int64, reference string) error
	ListUnreceiptedFunc     func(ctx context.Context, limit int) ([]*ledger.Entry, error)
}

func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{entries: make(map[string]*ledger.Entry)}
}

func ledgerKey(customerID int64, providerOrderID string) string {
	return fmt.Sprintf("%d|%s", customerID, providerOrderID)
}

func (m *MockLedgerRepository) InsertIfAbsent(ctx context.Context, e *ledger.Entry) (int64, bool, error) {
	if m.InsertIfAbsentFunc != nil {
		return m.InsertIfAbsentFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(e.CustomerID, e.ProviderOrderID)
	if existing, ok := m.entries[key]; ok {
		e.ID = existing.ID
		return existing.ID, false, nil
	}
	m.nextID++
	e.ID = m.nextID
	stored := *e
	m.entries[key] = &stored
	return e.ID, true, nil
}

func (m *MockLedgerRepository) SetReceiptReference(ctx context.Context, id int64, reference string) error {
	if m.SetReceiptReferenceFunc != nil {
		return m.SetReceiptReferenceFunc(ctx, id, reference)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.ReceiptReference = &reference
			return nil
		}
	}
	return fmt.Errorf("fiscal ledger entry %d not found", id)
}

func (m *MockLedgerRepository) ListUnreceipted(ctx context.Context, limit int) ([]*ledger.Entry, error) {
	if m.ListUnreceiptedFunc != nil {
		return m.ListUnreceiptedFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*ledger.Entry
	for _, e := range m.entries {
		if e.ReceiptReference == nil {
			entryCopy := *e
			result = append(result, &entryCopy)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

// Count reports how many entries the ledger holds.
func (m *MockLedgerRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Gateway Client Mock ---

type MockGatewayClient struct {
	mu             sync.Mutex
	createQRCalls  int
	getStatusCalls int
	cancelCalls    int
	refundCalls    int

	CreateQRFunc  func(ctx context.Context, order gateway.CreateQROrder) (*gateway.CreateQRResult, error)
	GetStatusFunc func(ctx context.Context, providerOrderID string) (*gateway.StatusResult, error)
	CancelFunc    func(ctx context.Context, providerOrderID string) (*gateway.OperationResult, error)
	RefundFunc    func(ctx context.Context, providerOrderID string, amountMinorUnits int64) (*gateway.OperationResult, error)
}

func NewMockGatewayClient() *MockGatewayClient {
	return &MockGatewayClient{}
}

func (m *MockGatewayClient) CreateQR(ctx context.Context, order gateway.CreateQROrder) (*gateway.CreateQRResult, error) {
	m.count(&m.createQRCalls)
	if m.CreateQRFunc != nil {
		return m.CreateQRFunc(ctx, order)
	}
	return &gateway.CreateQRResult{
		OrderID:   uuid.NewString(),
		QRPayload: "https://qr.example.test/" + order.OrderNumber,
		FormURL:   "https://pay.example.test/" + order.OrderNumber,
	}, nil
}

func (m *MockGatewayClient) GetStatus(ctx context.Context, providerOrderID string) (*gateway.StatusResult, error) {
	m.count(&m.getStatusCalls)
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, providerOrderID)
	}
	return &gateway.StatusResult{OrderStatus: 0}, nil
}

func (m *MockGatewayClient) Cancel(ctx context.Context, providerOrderID string) (*gateway.OperationResult, error) {
	m.count(&m.cancelCalls)
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, providerOrderID)
	}
	return &gateway.OperationResult{}, nil
}

func (m *MockGatewayClient) Refund(ctx context.Context, providerOrderID string, amountMinorUnits int64) (*gateway.OperationResult, error) {
	m.count(&m.refundCalls)
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, providerOrderID, amountMinorUnits)
	}
	return &gateway.OperationResult{}, nil
}

func (m *MockGatewayClient) count(c *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*c++
}

func (m *MockGatewayClient) CreateQRCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createQRCalls
}

// --- Fiscal Provider Mock ---

type MockFiscalProvider struct {
	mu    sync.Mutex
	calls int

	IssueReceiptFunc func(ctx context.Context, r fiscal.Receipt) (*fiscal.Result, error)
}

func NewMockFiscalProvider() *MockFiscalProvider {
	return &MockFiscalProvider{}
}

func (m *MockFiscalProvider) IssueReceipt(ctx context.Context, r fiscal.Receipt) (*fiscal.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.IssueReceiptFunc != nil {
		return m.IssueReceiptFunc(ctx, r)
	}
	return &fiscal.Result{ReceiptID: uuid.NewString()}, nil
}

// Calls reports how many receipts were requested.
func (m *MockFiscalProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
