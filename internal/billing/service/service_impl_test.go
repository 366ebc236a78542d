package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/netbill/internal/billing/domain"
	"github.com/smallbiznis/netbill/internal/clock"
	"github.com/smallbiznis/netbill/internal/config"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	customerrepo "github.com/smallbiznis/netbill/internal/customer/repository"
	invoicedomain "github.com/smallbiznis/netbill/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/netbill/internal/invoice/repository"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/netbill/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/netbill/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/netbill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/netbill/internal/payment/service"
	plandomain "github.com/smallbiznis/netbill/internal/plan/domain"
	planrepo "github.com/smallbiznis/netbill/internal/plan/repository"
	subscriptiondomain "github.com/smallbiznis/netbill/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/netbill/internal/subscription/repository"
	"github.com/smallbiznis/netbill/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type billingFixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	svc        domain.Service
	paySvc     paymentdomain.Service
	ledger     ledgerdomain.Service
	subRepo    subscriptiondomain.Repository
	clk        *clock.FakeClock
	companyID  snowflake.ID
	customerID snowflake.ID
	planID     snowflake.ID
	ctx        context.Context
}

func setupBillingTest(t *testing.T) *billingFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&ledgerdomain.Transaction{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&paymentdomain.Payment{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))

	companyID := node.Generate()
	customerID := node.Generate()
	planID := node.Generate()
	now := clk.Now()
	require.NoError(t, db.Create(&customerdomain.Customer{
		ID:        customerID,
		CompanyID: companyID,
		Name:      "Sita Devi",
		Email:     "sita@example.com",
		Status:    customerdomain.CustomerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&plandomain.Plan{
		ID:           planID,
		CompanyID:    companyID,
		Name:         "Fiber 100Mbps",
		MonthlyPrice: 49900,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	subRepo := subscriptionrepo.Provide()

	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Policy:       config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy()),
		Ledger:       ledgerSvc,
		InvoiceRepo:  invoicerepo.Provide(),
		PaymentRepo:  paymentrepo.Provide(),
		SubRepo:      subRepo,
		PlanRepo:     planrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
	})

	paySvc := paymentservice.New(paymentservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Repo:         paymentrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Ledger:       ledgerSvc,
	})

	return &billingFixture{
		db:         db,
		node:       node,
		svc:        svc,
		paySvc:     paySvc,
		ledger:     ledgerSvc,
		subRepo:    subRepo,
		clk:        clk,
		companyID:  companyID,
		customerID: customerID,
		planID:     planID,
		ctx:        tenantctx.WithCompany(context.Background(), companyID),
	}
}

func (f *billingFixture) createSubscription(t *testing.T, additional, discount int64) subscriptiondomain.Subscription {
	t.Helper()
	return f.createSubscriptionWithTerms(t, 49900, additional, discount, 1)
}

func (f *billingFixture) createSubscriptionWithTerms(t *testing.T, price, additional, discount int64, months int) subscriptiondomain.Subscription {
	t.Helper()

	now := f.clk.Now()
	sub := subscriptiondomain.Subscription{
		ID:                 f.node.Generate(),
		CompanyID:          f.companyID,
		CustomerID:         f.customerID,
		PlanID:             f.planID,
		AgreedMonthlyPrice: price,
		AdditionalCharge:   additional,
		Discount:           discount,
		BillingCycleValue:  months,
		Status:             subscriptiondomain.SubscriptionStatusActive,
		StartDate:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, f.db.Create(&sub).Error)
	return sub
}

func (f *billingFixture) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := f.ledger.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	return balance
}

func TestInitialInvoiceBillsFirstPeriod(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscription(t, 5000, 1000)

	result, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)

	// 49900 + 5000 - 1000
	assert.Equal(t, ledgerdomain.TransactionTypeInvoice, result.Transaction.Type)
	assert.Equal(t, ledgerdomain.TransactionDirectionDebit, result.Transaction.Direction)
	assert.Equal(t, int64(0), result.Transaction.BalanceBefore)
	assert.Equal(t, int64(53900), result.Transaction.BalanceAfter)

	require.NotNil(t, result.Invoice)
	assert.Equal(t, int64(1), result.Invoice.InvoiceNumber)
	assert.Equal(t, invoicedomain.InvoiceTypeSubscription, result.Invoice.Type)
	assert.Equal(t, int64(54900), result.Invoice.Subtotal)
	assert.Equal(t, int64(53900), result.Invoice.AmountTotal)
	assert.Equal(t, int64(0), result.Invoice.PrevBalance)
	require.Len(t, result.Invoice.Items, 2)
	assert.Equal(t, "Fiber 100Mbps", result.Invoice.Items[0].Name)
	assert.Equal(t, "ADDITIONAL_CHARGE", result.Invoice.Items[1].Category)
	require.NotNil(t, result.Invoice.DueAt)
	assert.Equal(t, f.clk.Now().AddDate(0, 0, 10), *result.Invoice.DueAt)

	// The billed period closes the day before the next one starts.
	require.NotNil(t, result.Invoice.PeriodStart)
	require.NotNil(t, result.Invoice.PeriodEnd)
	assert.Equal(t, sub.StartDate, *result.Invoice.PeriodStart)
	assert.Equal(t, sub.StartDate.AddDate(0, 1, 0).AddDate(0, 0, -1), *result.Invoice.PeriodEnd)

	// Two-phase write patched the reference.
	var stored ledgerdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", result.Transaction.ID).First(&stored).Error)
	assert.Equal(t, ledgerdomain.ReferenceTypeInvoice, stored.ReferenceType)
	require.NotNil(t, stored.ReferenceID)
	assert.Equal(t, result.Invoice.ID, *stored.ReferenceID)

	refreshed, err := f.subRepo.FindByID(f.ctx, f.db, f.companyID, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastRenewalDate)
	require.NotNil(t, refreshed.NextRenewalDate)
	assert.Equal(t, sub.StartDate, *refreshed.LastRenewalDate)
	assert.Equal(t, sub.StartDate.AddDate(0, 1, 0), *refreshed.NextRenewalDate)
}

func TestQuarterlyCycleMultipliesNetMonthlyRate(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscriptionWithTerms(t, 49900, 1000, 500, 3)

	result, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)

	// (49900 + 1000 - 500) * 3
	assert.Equal(t, int64(151200), result.Transaction.Amount)
	assert.Equal(t, int64(151200), result.Transaction.BalanceAfter)

	require.NotNil(t, result.Invoice)
	assert.Equal(t, int64(152700), result.Invoice.Subtotal)
	assert.Equal(t, int64(1500), result.Invoice.Discount)
	assert.Equal(t, int64(151200), result.Invoice.AmountTotal)
	require.Len(t, result.Invoice.Items, 2)
	assert.Equal(t, int64(3), result.Invoice.Items[0].Quantity)
	assert.Equal(t, int64(149700), result.Invoice.Items[0].Amount)
	assert.Equal(t, int64(3), result.Invoice.Items[1].Quantity)
	assert.Equal(t, int64(3000), result.Invoice.Items[1].Amount)

	require.NotNil(t, result.Invoice.PeriodEnd)
	assert.Equal(t, sub.StartDate.AddDate(0, 3, 0).AddDate(0, 0, -1), *result.Invoice.PeriodEnd)

	refreshed, err := f.subRepo.FindByID(f.ctx, f.db, f.companyID, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.NextRenewalDate)
	assert.Equal(t, sub.StartDate.AddDate(0, 3, 0), *refreshed.NextRenewalDate)
}

func TestInitialInvoiceRejectsAlreadyBilled(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscription(t, 0, 0)

	_, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)

	_, err = f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	assert.ErrorIs(t, err, domain.ErrInvalidSubscription)
}

func TestRenewalCarriesPreviousBalanceLine(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscription(t, 0, 0)

	_, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)

	f.clk.Advance(30 * 24 * time.Hour)
	result, err := f.svc.RenewSubscription(f.ctx, sub.ID.String())
	require.NoError(t, err)

	assert.Equal(t, int64(49900), result.Transaction.BalanceBefore)
	assert.Equal(t, int64(99800), result.Transaction.BalanceAfter)

	require.NotNil(t, result.Invoice)
	assert.Equal(t, int64(2), result.Invoice.InvoiceNumber)
	assert.Equal(t, int64(49900), result.Invoice.PrevBalance)
	require.NotNil(t, result.Invoice.PeriodStart)
	assert.Equal(t, sub.StartDate.AddDate(0, 1, 0), *result.Invoice.PeriodStart)

	var hasPrevLine bool
	for _, item := range result.Invoice.Items {
		if item.Category == "PREVIOUS_BALANCE" {
			hasPrevLine = true
			assert.Equal(t, int64(49900), item.Amount)
		}
	}
	assert.True(t, hasPrevLine)

	refreshed, err := f.subRepo.FindByID(f.ctx, f.db, f.companyID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.StartDate.AddDate(0, 2, 0), *refreshed.NextRenewalDate)
}

func TestGenerateBillCollectNowSettlesInSameUnit(t *testing.T) {
	f := setupBillingTest(t)

	result, err := f.svc.GenerateBill(f.ctx, domain.GenerateBillRequest{
		CustomerID: f.customerID.String(),
		Items: []domain.BillItemInput{
			{Name: "Router installation", Quantity: 1, UnitPrice: 150000},
			{Name: "Cat6 cable", Quantity: 3, UnitPrice: 2000},
		},
		TaxAmount:     28080,
		Discount:      6000,
		CollectNow:    true,
		PaymentMethod: "UPI",
	})
	require.NoError(t, err)

	// 150000 + 6000 + 28080 - 6000
	assert.Equal(t, ledgerdomain.TransactionTypeBillGeneration, result.Transaction.Type)
	assert.Equal(t, int64(178080), result.Transaction.Amount)
	assert.Equal(t, int64(178080), result.Transaction.BalanceAfter)

	require.NotNil(t, result.Payment)
	require.NotNil(t, result.Settlement)
	assert.True(t, strings.HasPrefix(result.Payment.PaymentNumber, "PAY-"))
	assert.Equal(t, paymentdomain.PaymentMethodUPI, result.Payment.Method)
	assert.Equal(t, ledgerdomain.TransactionDirectionCredit, result.Settlement.Direction)
	assert.Equal(t, int64(178080), result.Settlement.BalanceBefore)
	assert.Equal(t, int64(0), result.Settlement.BalanceAfter)

	var settled ledgerdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", result.Settlement.ID).First(&settled).Error)
	assert.Equal(t, ledgerdomain.ReferenceTypePayment, settled.ReferenceType)
	require.NotNil(t, settled.ReferenceID)
	assert.Equal(t, result.Payment.ID, *settled.ReferenceID)

	assert.Equal(t, int64(0), f.balance(t))
}

func TestGenerateBillRejectsEmptyItems(t *testing.T) {
	f := setupBillingTest(t)

	_, err := f.svc.GenerateBill(f.ctx, domain.GenerateBillRequest{
		CustomerID: f.customerID.String(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidItems)
}

func TestGenerateBillOpensSubscriptionsForPlans(t *testing.T) {
	f := setupBillingTest(t)

	_, err := f.svc.GenerateBill(f.ctx, domain.GenerateBillRequest{
		CustomerID: f.customerID.String(),
		Items: []domain.BillItemInput{
			{Name: "First month", Quantity: 1, UnitPrice: 49900},
		},
		PlanIDs: []string{f.planID.String()},
	})
	require.NoError(t, err)

	subs, err := f.subRepo.ListByCustomer(f.ctx, f.db, f.companyID, f.customerID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, f.planID, subs[0].PlanID)
	assert.Equal(t, int64(49900), subs[0].AgreedMonthlyPrice)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, subs[0].Status)
}

func TestAddOnChargeCreatesSingleLineInvoice(t *testing.T) {
	f := setupBillingTest(t)

	result, err := f.svc.AddOnCharge(f.ctx, domain.AddOnChargeRequest{
		CustomerID: f.customerID.String(),
		Name:       "Static IP",
		Amount:     10000,
	})
	require.NoError(t, err)

	assert.Equal(t, ledgerdomain.TransactionTypeAddOnBill, result.Transaction.Type)
	assert.Equal(t, int64(10000), result.Transaction.BalanceAfter)
	require.NotNil(t, result.Invoice)
	require.Len(t, result.Invoice.Items, 1)
	assert.Equal(t, "Static IP", result.Invoice.Items[0].Name)
	assert.Equal(t, "ADD_ON", result.Invoice.Items[0].Category)
}

func TestAdjustBalanceZeroDeltaRejected(t *testing.T) {
	f := setupBillingTest(t)

	_, err := f.svc.AdjustBalance(f.ctx, domain.AdjustBalanceRequest{
		CustomerID:    f.customerID.String(),
		TargetBalance: 0,
	})
	assert.ErrorIs(t, err, domain.ErrZeroAdjustment)
}

func TestAdjustBalanceCreditsDownToTarget(t *testing.T) {
	f := setupBillingTest(t)

	_, err := f.svc.AddOnCharge(f.ctx, domain.AddOnChargeRequest{
		CustomerID: f.customerID.String(),
		Name:       "Setup fee",
		Amount:     1000,
	})
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	result, err := f.svc.AdjustBalance(f.ctx, domain.AdjustBalanceRequest{
		CustomerID:    f.customerID.String(),
		TargetBalance: 400,
	})
	require.NoError(t, err)

	assert.Equal(t, ledgerdomain.TransactionTypeBalanceAdjustment, result.Transaction.Type)
	assert.Equal(t, ledgerdomain.TransactionDirectionCredit, result.Transaction.Direction)
	assert.Equal(t, int64(600), result.Transaction.Amount)
	assert.Equal(t, int64(400), f.balance(t))

	// Every adjustment is documented by an ADJUSTED invoice.
	require.NotNil(t, result.Invoice)
	assert.Equal(t, invoicedomain.InvoiceTypeAdjusted, result.Invoice.Type)
	assert.Equal(t, int64(600), result.Invoice.AmountTotal)
	require.Len(t, result.Invoice.Items, 1)
	assert.Equal(t, "BALANCE_ADJUSTMENT", result.Invoice.Items[0].Category)

	var stored ledgerdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", result.Transaction.ID).First(&stored).Error)
	assert.Equal(t, ledgerdomain.ReferenceTypeInvoice, stored.ReferenceType)
	require.NotNil(t, stored.ReferenceID)
	assert.Equal(t, result.Invoice.ID, *stored.ReferenceID)
}

func TestDeleteTransactionVoidsInvoiceDocument(t *testing.T) {
	f := setupBillingTest(t)

	charged, err := f.svc.AddOnCharge(f.ctx, domain.AddOnChargeRequest{
		CustomerID: f.customerID.String(),
		Name:       "Static IP",
		Amount:     10000,
	})
	require.NoError(t, err)

	deleted, err := f.svc.DeleteTransaction(f.ctx, charged.Transaction.ID.String())
	require.NoError(t, err)

	assert.Equal(t, ledgerdomain.TransactionStatusVoided, deleted.Transaction.Status)
	require.NotNil(t, deleted.Invoice)
	assert.Equal(t, invoicedomain.InvoiceStatusVoided, deleted.Invoice.Status)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestDeleteTransactionRejectsInterior(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscription(t, 0, 0)

	billed, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	_, err = f.svc.AddOnCharge(f.ctx, domain.AddOnChargeRequest{
		CustomerID: f.customerID.String(),
		Name:       "Static IP",
		Amount:     10000,
	})
	require.NoError(t, err)

	_, err = f.svc.DeleteTransaction(f.ctx, billed.Transaction.ID.String())
	assert.ErrorIs(t, err, ledgerdomain.ErrNotLatestTransaction)

	// Rejected void must leave the invoice active.
	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.Where("id = ?", billed.Invoice.ID).First(&invoice).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusActive, invoice.Status)
}

// TestCollectionsRoundTrip drives one customer through billing, collection,
// rollback and correction across the billing and payment services.
func TestCollectionsRoundTrip(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscriptionWithTerms(t, 1000, 0, 0, 1)

	initial, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)
	require.NotNil(t, initial.Invoice)
	assert.Equal(t, int64(1000), initial.Invoice.Subtotal)
	assert.Equal(t, int64(0), initial.Transaction.BalanceBefore)
	assert.Equal(t, int64(1000), initial.Transaction.BalanceAfter)

	collectedAt := f.clk.Now().Add(time.Hour).Format(time.RFC3339)
	paid, err := f.paySvc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		CustomerID:  f.customerID.String(),
		Amount:      600,
		Discount:    50,
		Method:      "CASH",
		CollectedAt: collectedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(550), paid.Transaction.Amount)
	assert.Equal(t, int64(450), f.balance(t))

	f.clk.Advance(2 * time.Hour)
	addOn, err := f.svc.AddOnCharge(f.ctx, domain.AddOnChargeRequest{
		CustomerID: f.customerID.String(),
		Name:       "Router Install",
		Amount:     200,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(650), f.balance(t))

	_, err = f.svc.DeleteTransaction(f.ctx, addOn.Transaction.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(450), f.balance(t))

	// The voided add-on still sits after the payment in the chain, so the
	// payment can no longer be removed.
	_, err = f.paySvc.Delete(f.ctx, paid.Payment.ID.String())
	assert.ErrorIs(t, err, ledgerdomain.ErrNotLatestTransaction)
	assert.Equal(t, int64(450), f.balance(t))

	f.clk.Advance(time.Hour)
	adjusted, err := f.svc.AdjustBalance(f.ctx, domain.AdjustBalanceRequest{
		CustomerID:    f.customerID.String(),
		TargetBalance: 1000,
		Comments:      "correction",
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.TransactionDirectionDebit, adjusted.Transaction.Direction)
	assert.Equal(t, int64(550), adjusted.Transaction.Amount)
	assert.Equal(t, "correction", adjusted.Transaction.Description)
	require.NotNil(t, adjusted.Invoice)
	assert.Equal(t, invoicedomain.InvoiceTypeAdjusted, adjusted.Invoice.Type)
	assert.Equal(t, int64(1000), f.balance(t))
}

// TestBillingLifecycle walks one customer through a full collections cycle
// and checks the chain stays contiguous at every step.
func TestBillingLifecycle(t *testing.T) {
	f := setupBillingTest(t)
	sub := f.createSubscription(t, 0, 0)

	// 1. First period billed.
	first, err := f.svc.CreateInitialInvoice(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(49900), f.balance(t))

	// 2. One-off charge on top.
	f.clk.Advance(time.Hour)
	_, err = f.svc.AddOnCharge(f.ctx, domain.AddOnChargeRequest{
		CustomerID: f.customerID.String(),
		Name:       "Static IP",
		Amount:     10000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(59900), f.balance(t))

	// 3. Collector settles everything.
	f.clk.Advance(time.Hour)
	_, err = f.svc.AdjustBalance(f.ctx, domain.AdjustBalanceRequest{
		CustomerID:    f.customerID.String(),
		TargetBalance: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.balance(t))

	// 4. Next period renews with no carryover.
	f.clk.Advance(time.Hour)
	renewed, err := f.svc.RenewSubscription(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), renewed.Invoice.PrevBalance)
	assert.Equal(t, int64(49900), f.balance(t))

	// 5. Renewal was a mistake; roll it back.
	_, err = f.svc.DeleteTransaction(f.ctx, renewed.Transaction.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.balance(t))

	// 6. The surviving chain is contiguous.
	listed, err := f.ledger.List(f.ctx, ledgerdomain.ListTransactionsRequest{
		CustomerID: f.customerID.String(),
		PageSize:   20,
	})
	require.NoError(t, err)
	require.Len(t, listed.Transactions, 3)
	running := int64(0)
	for i := len(listed.Transactions) - 1; i >= 0; i-- {
		txn := listed.Transactions[i]
		assert.Equal(t, running, txn.BalanceBefore)
		running = txn.BalanceAfter
	}
	assert.Equal(t, int64(0), running)

	// Only the rolled back renewal lost its document.
	var firstInvoice invoicedomain.Invoice
	require.NoError(t, f.db.Where("id = ?", first.Invoice.ID).First(&firstInvoice).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusActive, firstInvoice.Status)
	var renewedInvoice invoicedomain.Invoice
	require.NoError(t, f.db.Where("id = ?", renewed.Invoice.ID).First(&renewedInvoice).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusVoided, renewedInvoice.Status)
}
