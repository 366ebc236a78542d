package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/netbill/internal/billing/domain"
	"github.com/smallbiznis/netbill/internal/config"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeBillingService struct {
	err    error
	result billingdomain.BillingResult
	delete billingdomain.DeleteTransactionResult
}

func (f *fakeBillingService) CreateInitialInvoice(ctx context.Context, subscriptionID string) (billingdomain.BillingResult, error) {
	_ = ctx
	_ = subscriptionID
	return f.result, f.err
}

func (f *fakeBillingService) RenewSubscription(ctx context.Context, subscriptionID string) (billingdomain.BillingResult, error) {
	_ = ctx
	_ = subscriptionID
	return f.result, f.err
}

func (f *fakeBillingService) GenerateBill(ctx context.Context, req billingdomain.GenerateBillRequest) (billingdomain.GenerateBillResult, error) {
	_ = ctx
	_ = req
	return billingdomain.GenerateBillResult{Transaction: f.result.Transaction}, f.err
}

func (f *fakeBillingService) AddOnCharge(ctx context.Context, req billingdomain.AddOnChargeRequest) (billingdomain.BillingResult, error) {
	_ = ctx
	_ = req
	return f.result, f.err
}

func (f *fakeBillingService) AdjustBalance(ctx context.Context, req billingdomain.AdjustBalanceRequest) (billingdomain.BillingResult, error) {
	_ = ctx
	_ = req
	return f.result, f.err
}

func (f *fakeBillingService) DeleteTransaction(ctx context.Context, transactionID string) (billingdomain.DeleteTransactionResult, error) {
	_ = ctx
	_ = transactionID
	return f.delete, f.err
}

type fakeCustomerService struct {
	err      error
	customer customerdomain.Customer
}

func (f *fakeCustomerService) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	_ = ctx
	_ = req
	return f.customer, f.err
}

func (f *fakeCustomerService) List(ctx context.Context, req customerdomain.ListCustomerRequest) (customerdomain.ListCustomerResponse, error) {
	_ = ctx
	_ = req
	return customerdomain.ListCustomerResponse{}, f.err
}

func (f *fakeCustomerService) GetByID(ctx context.Context, req customerdomain.GetCustomerRequest) (customerdomain.Customer, error) {
	_ = ctx
	_ = req
	return f.customer, f.err
}

func (f *fakeCustomerService) Update(ctx context.Context, id string, req customerdomain.UpdateCustomerRequest) (customerdomain.Customer, error) {
	_ = ctx
	_ = id
	_ = req
	return f.customer, f.err
}

type fakeLedgerService struct {
	balance int64
	err     error
}

func (f *fakeLedgerService) CurrentBalance(ctx context.Context, customerID string) (int64, error) {
	_ = ctx
	_ = customerID
	return f.balance, f.err
}

func (f *fakeLedgerService) List(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	_ = ctx
	_ = req
	return ledgerdomain.ListTransactionsResponse{}, f.err
}

func (f *fakeLedgerService) FindByID(ctx context.Context, tx *gorm.DB, companyID, txnID snowflake.ID) (*ledgerdomain.Transaction, error) {
	panic("unexpected FindByID call")
}

func (f *fakeLedgerService) LockChain(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) (int64, error) {
	panic("unexpected LockChain call")
}

func (f *fakeLedgerService) Append(ctx context.Context, tx *gorm.DB, input ledgerdomain.AppendInput) (*ledgerdomain.Transaction, error) {
	panic("unexpected Append call")
}

func (f *fakeLedgerService) AttachReference(ctx context.Context, tx *gorm.DB, companyID, txnID snowflake.ID, ref ledgerdomain.Reference) error {
	panic("unexpected AttachReference call")
}

func (f *fakeLedgerService) Void(ctx context.Context, tx *gorm.DB, companyID, customerID, txnID snowflake.ID) (*ledgerdomain.Transaction, error) {
	panic("unexpected Void call")
}

func (f *fakeLedgerService) Recalculate(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) error {
	panic("unexpected Recalculate call")
}

func newTestServer(t *testing.T, billing *fakeBillingService, customer *fakeCustomerService, ledger *fakeLedgerService) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:      engine,
		cfg:         config.Config{DefaultCompanyID: 1},
		billingSvc:  billing,
		customerSvc: customer,
		ledgerSvc:   ledger,
	}
	srv.registerAPIRoutes()

	return srv
}

func decodeErrorType(t *testing.T, body []byte) string {
	t.Helper()

	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Errors []struct {
				Code string `json:"code"`
			} `json:"errors"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Error.Type
}

func TestDeleteTransactionMapsNotLatestToBadRequest(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{err: ledgerdomain.ErrNotLatestTransaction},
		&fakeCustomerService{},
		&fakeLedgerService{},
	)

	req := httptest.NewRequest(http.MethodDelete, "/api/transactions/42", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeErrorType(t, rec.Body.Bytes()))
}

func TestDeleteTransactionMapsLockContentionToServiceUnavailable(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{err: billingdomain.ErrLockContention},
		&fakeCustomerService{},
		&fakeLedgerService{},
	)

	req := httptest.NewRequest(http.MethodDelete, "/api/transactions/42", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeErrorType(t, rec.Body.Bytes()))
}

func TestDeleteTransactionMapsChainIntegrityToInternalError(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{err: ledgerdomain.ErrChainIntegrity},
		&fakeCustomerService{},
		&fakeLedgerService{},
	)

	req := httptest.NewRequest(http.MethodDelete, "/api/transactions/42", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeErrorType(t, rec.Body.Bytes()))
}

func TestGetCustomerBalanceUnknownCustomerIsNotFound(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{},
		&fakeCustomerService{err: customerdomain.ErrNotFound},
		&fakeLedgerService{balance: 999},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/customers/7/balance", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeErrorType(t, rec.Body.Bytes()))
}

func TestGetCustomerBalanceReturnsResolvedBalance(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{},
		&fakeCustomerService{customer: customerdomain.Customer{ID: snowflake.ID(7), Name: "Asha"}},
		&fakeLedgerService{balance: 125000},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/customers/7/balance", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Data struct {
			CustomerID     string `json:"customer_id"`
			CurrentBalance int64  `json:"current_balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "7", payload.Data.CustomerID)
	assert.Equal(t, int64(125000), payload.Data.CurrentBalance)
}

func TestTenantContextRejectsMalformedCompanyHeader(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{},
		&fakeCustomerService{},
		&fakeLedgerService{},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/customers/7/balance", nil)
	req.Header.Set("X-Company-ID", "not-a-snowflake")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeErrorType(t, rec.Body.Bytes()))
}

func TestCreateInitialInvoiceWrapsResultInDataEnvelope(t *testing.T) {
	srv := newTestServer(t,
		&fakeBillingService{result: billingdomain.BillingResult{
			Transaction: ledgerdomain.Transaction{
				ID:           snowflake.ID(900),
				Type:         ledgerdomain.TransactionTypeInvoice,
				Direction:    ledgerdomain.TransactionDirectionDebit,
				Amount:       49900,
				BalanceAfter: 49900,
				Status:       ledgerdomain.TransactionStatusActive,
			},
		}},
		&fakeCustomerService{},
		&fakeLedgerService{},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/11/invoice", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Data struct {
			Transaction ledgerdomain.Transaction `json:"transaction"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, snowflake.ID(900), payload.Data.Transaction.ID)
	assert.Equal(t, int64(49900), payload.Data.Transaction.BalanceAfter)
}
