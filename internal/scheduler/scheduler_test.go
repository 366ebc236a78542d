package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingservice "github.com/smallbiznis/netbill/internal/billing/service"
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
	plandomain "github.com/smallbiznis/netbill/internal/plan/domain"
	planrepo "github.com/smallbiznis/netbill/internal/plan/repository"
	subscriptiondomain "github.com/smallbiznis/netbill/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/netbill/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type schedulerFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	scheduler *Scheduler
	clk       *clock.FakeClock
	companyID snowflake.ID
	planID    snowflake.ID
	policy    config.BillingPolicy
}

func setupSchedulerTest(t *testing.T, policy config.BillingPolicy) *schedulerFixture {
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

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))

	companyID := node.Generate()
	planID := node.Generate()
	now := clk.Now()
	require.NoError(t, db.Create(&plandomain.Plan{
		ID:           planID,
		CompanyID:    companyID,
		Name:         "Fiber 50Mbps",
		MonthlyPrice: 29900,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error)

	holder := config.NewStaticBillingPolicyHolder(policy)
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	subRepo := subscriptionrepo.Provide()
	billingSvc := billingservice.New(billingservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Policy:       holder,
		Ledger:       ledgerSvc,
		InvoiceRepo:  invoicerepo.Provide(),
		PaymentRepo:  paymentrepo.Provide(),
		SubRepo:      subRepo,
		PlanRepo:     planrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
	})

	scheduler := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		Policy:  holder,
		SubRepo: subRepo,
		Billing: billingSvc,
	})

	return &schedulerFixture{
		db:        db,
		node:      node,
		scheduler: scheduler,
		clk:       clk,
		companyID: companyID,
		planID:    planID,
		policy:    policy,
	}
}

func (f *schedulerFixture) createDueSubscription(t *testing.T, status subscriptiondomain.SubscriptionStatus, due time.Time) subscriptiondomain.Subscription {
	t.Helper()

	now := f.clk.Now()
	customerID := f.node.Generate()
	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:        customerID,
		CompanyID: f.companyID,
		Name:      "Customer " + customerID.String(),
		Email:     customerID.String() + "@example.com",
		Status:    customerdomain.CustomerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)

	start := due.AddDate(0, -1, 0)
	sub := subscriptiondomain.Subscription{
		ID:                 f.node.Generate(),
		CompanyID:          f.companyID,
		CustomerID:         customerID,
		PlanID:             f.planID,
		AgreedMonthlyPrice: 29900,
		BillingCycleValue:  1,
		Status:             status,
		StartDate:          start,
		LastRenewalDate:    &start,
		NextRenewalDate:    &due,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, f.db.Create(&sub).Error)
	return sub
}

func TestRunOnceRenewsDueSubscription(t *testing.T) {
	f := setupSchedulerTest(t, config.DefaultBillingPolicy())
	sub := f.createDueSubscription(t, subscriptiondomain.SubscriptionStatusActive, f.clk.Now().Add(-time.Hour))

	processed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var txnCount int64
	require.NoError(t, f.db.Model(&ledgerdomain.Transaction{}).
		Where("customer_id = ?", sub.CustomerID).Count(&txnCount).Error)
	assert.Equal(t, int64(1), txnCount)

	var refreshed subscriptiondomain.Subscription
	require.NoError(t, f.db.Where("id = ?", sub.ID).First(&refreshed).Error)
	require.NotNil(t, refreshed.NextRenewalDate)
	assert.True(t, refreshed.NextRenewalDate.After(f.clk.Now()))
}

func TestRunOnceSkipsRenewedSubscriptionNextPass(t *testing.T) {
	f := setupSchedulerTest(t, config.DefaultBillingPolicy())
	f.createDueSubscription(t, subscriptiondomain.SubscriptionStatusActive, f.clk.Now().Add(-time.Hour))

	processed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestRunOnceIgnoresPausedAndFutureSubscriptions(t *testing.T) {
	f := setupSchedulerTest(t, config.DefaultBillingPolicy())
	f.createDueSubscription(t, subscriptiondomain.SubscriptionStatusPaused, f.clk.Now().Add(-time.Hour))
	f.createDueSubscription(t, subscriptiondomain.SubscriptionStatusActive, f.clk.Now().Add(24*time.Hour))

	processed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestRunOnceHonorsBatchSize(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.RenewalBatchSize = 1
	f := setupSchedulerTest(t, policy)
	f.createDueSubscription(t, subscriptiondomain.SubscriptionStatusActive, f.clk.Now().Add(-2*time.Hour))
	f.createDueSubscription(t, subscriptiondomain.SubscriptionStatusActive, f.clk.Now().Add(-time.Hour))

	processed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}
