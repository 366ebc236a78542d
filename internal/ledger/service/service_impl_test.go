package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/netbill/internal/clock"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	"github.com/smallbiznis/netbill/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ledgerFixture struct {
	db         *gorm.DB
	svc        ledgerdomain.Service
	node       *snowflake.Node
	companyID  snowflake.ID
	customerID snowflake.ID
	ctx        context.Context
}

func setupLedgerTest(t *testing.T) *ledgerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&ledgerdomain.Transaction{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	companyID := node.Generate()
	customerID := node.Generate()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&customerdomain.Customer{
		ID:        customerID,
		CompanyID: companyID,
		Name:      "Asha Rao",
		Email:     "asha@example.com",
		Status:    customerdomain.CustomerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
	})

	return &ledgerFixture{
		db:         db,
		svc:        svc,
		node:       node,
		companyID:  companyID,
		customerID: customerID,
		ctx:        tenantctx.WithCompany(context.Background(), companyID),
	}
}

func (f *ledgerFixture) append(t *testing.T, direction ledgerdomain.TransactionDirection, amount int64, at time.Time) *ledgerdomain.Transaction {
	t.Helper()

	var txn *ledgerdomain.Transaction
	err := f.db.Transaction(func(tx *gorm.DB) error {
		balance, err := f.svc.LockChain(f.ctx, tx, f.companyID, f.customerID)
		if err != nil {
			return err
		}
		txn, err = f.svc.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:       f.companyID,
			CustomerID:      f.customerID,
			Type:            ledgerdomain.TransactionTypeBalanceAdjustment,
			Direction:       direction,
			Amount:          amount,
			BalanceBefore:   balance,
			TransactionDate: at,
			Reference:       ledgerdomain.NoReference(),
		})
		return err
	})
	require.NoError(t, err)
	return txn
}

func TestAppendBuildsContiguousChain(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	first := f.append(t, ledgerdomain.TransactionDirectionDebit, 50000, base)
	assert.Equal(t, int64(0), first.BalanceBefore)
	assert.Equal(t, int64(50000), first.BalanceAfter)

	second := f.append(t, ledgerdomain.TransactionDirectionCredit, 20000, base.Add(time.Minute))
	assert.Equal(t, int64(50000), second.BalanceBefore)
	assert.Equal(t, int64(30000), second.BalanceAfter)

	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(30000), balance)
}

func TestCreditClampsAtZero(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 100, base)
	over := f.append(t, ledgerdomain.TransactionDirectionCredit, 500, base.Add(time.Minute))

	assert.Equal(t, int64(100), over.BalanceBefore)
	assert.Equal(t, int64(0), over.BalanceAfter)
}

func TestCurrentBalanceEmptyChainIsZero(t *testing.T) {
	f := setupLedgerTest(t)

	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestVoidRejectsNonLatest(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	first := f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)
	f.append(t, ledgerdomain.TransactionDirectionDebit, 2000, base.Add(time.Minute))

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.LockChain(f.ctx, tx, f.companyID, f.customerID); err != nil {
			return err
		}
		_, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, first.ID)
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrNotLatestTransaction)

	// Chain must be untouched.
	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)
}

func TestVoidLatestRestoresPreviousBalance(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)
	latest := f.append(t, ledgerdomain.TransactionDirectionDebit, 2000, base.Add(time.Minute))

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.LockChain(f.ctx, tx, f.companyID, f.customerID); err != nil {
			return err
		}
		voided, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, latest.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, ledgerdomain.TransactionStatusVoided, voided.Status)
		assert.NotNil(t, voided.VoidedAt)
		return nil
	})
	require.NoError(t, err)

	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestVoidTwiceFails(t *testing.T) {
	f := setupLedgerTest(t)

	txn := f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, time.Now().UTC())

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, txn.ID)
		return err
	})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, txn.ID)
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAlreadyVoided)
}

func TestRecalculateRebuildsChainAfterInteriorVoid(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)
	interior := f.append(t, ledgerdomain.TransactionDirectionDebit, 500, base.Add(time.Minute))
	f.append(t, ledgerdomain.TransactionDirectionCredit, 300, base.Add(2*time.Minute))

	// Force an interior void, bypassing the latest-only guard, then replay.
	require.NoError(t, f.db.Exec(
		`UPDATE transactions SET status = ? WHERE id = ?`,
		ledgerdomain.TransactionStatusVoided, interior.ID,
	).Error)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Recalculate(f.ctx, tx, f.companyID, f.customerID)
	})
	require.NoError(t, err)

	resp, err := f.svc.List(f.ctx, ledgerdomain.ListTransactionsRequest{
		CustomerID: f.customerID.String(),
	})
	require.NoError(t, err)
	require.Len(t, resp.Transactions, 2)

	// Listed newest first; the credit now follows the first debit directly.
	assert.Equal(t, int64(1000), resp.Transactions[0].BalanceBefore)
	assert.Equal(t, int64(700), resp.Transactions[0].BalanceAfter)
	assert.Equal(t, int64(0), resp.Transactions[1].BalanceBefore)
	assert.Equal(t, int64(1000), resp.Transactions[1].BalanceAfter)

	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)
}

func TestListExcludesVoidedByDefault(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)
	latest := f.append(t, ledgerdomain.TransactionDirectionDebit, 2000, base.Add(time.Minute))

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, latest.ID)
		return err
	})
	require.NoError(t, err)

	resp, err := f.svc.List(f.ctx, ledgerdomain.ListTransactionsRequest{
		CustomerID: f.customerID.String(),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Transactions, 1)

	withVoided, err := f.svc.List(f.ctx, ledgerdomain.ListTransactionsRequest{
		CustomerID:    f.customerID.String(),
		IncludeVoided: true,
	})
	require.NoError(t, err)
	assert.Len(t, withVoided.Transactions, 2)
}

func TestListPagination(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		f.append(t, ledgerdomain.TransactionDirectionDebit, 100, base.Add(time.Duration(i)*time.Minute))
	}

	first, err := f.svc.List(f.ctx, ledgerdomain.ListTransactionsRequest{
		CustomerID: f.customerID.String(),
		PageSize:   2,
	})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := f.svc.List(f.ctx, ledgerdomain.ListTransactionsRequest{
		CustomerID: f.customerID.String(),
		PageSize:   2,
		PageToken:  first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Transactions, 2)
	assert.True(t, second.Transactions[0].TransactionDate.Before(first.Transactions[1].TransactionDate))
}

func TestTenantScopingHidesForeignCustomer(t *testing.T) {
	f := setupLedgerTest(t)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, time.Now().UTC())

	otherCompany := f.node.Generate()
	foreignCtx := tenantctx.WithCompany(context.Background(), otherCompany)

	balance, err := f.svc.CurrentBalance(foreignCtx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestAppendRejectsBackdatedDate(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		balance, err := f.svc.LockChain(f.ctx, tx, f.companyID, f.customerID)
		if err != nil {
			return err
		}
		_, err = f.svc.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:       f.companyID,
			CustomerID:      f.customerID,
			Type:            ledgerdomain.TransactionTypePayment,
			Direction:       ledgerdomain.TransactionDirectionCredit,
			Amount:          200,
			BalanceBefore:   balance,
			TransactionDate: base.Add(-time.Minute),
			Reference:       ledgerdomain.NoReference(),
		})
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrBackdatedTransaction)

	// Rejected append must leave the chain untouched.
	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestAppendAllowsHeadDate(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)

	// Same date as the head is fine; id order breaks the tie.
	txn := f.append(t, ledgerdomain.TransactionDirectionCredit, 400, base)
	assert.Equal(t, int64(1000), txn.BalanceBefore)
	assert.Equal(t, int64(600), txn.BalanceAfter)
}

func TestAppendPersistsDescription(t *testing.T) {
	f := setupLedgerTest(t)

	var txn *ledgerdomain.Transaction
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = f.svc.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:       f.companyID,
			CustomerID:      f.customerID,
			Type:            ledgerdomain.TransactionTypeBalanceAdjustment,
			Direction:       ledgerdomain.TransactionDirectionDebit,
			Amount:          100,
			Description:     "  correction  ",
			TransactionDate: time.Now().UTC(),
			Reference:       ledgerdomain.NoReference(),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "correction", txn.Description)

	var stored ledgerdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", txn.ID).First(&stored).Error)
	assert.Equal(t, "correction", stored.Description)
}

func TestVoidRejectedBehindVoidedRow(t *testing.T) {
	f := setupLedgerTest(t)
	base := time.Now().UTC().Add(-time.Hour)

	first := f.append(t, ledgerdomain.TransactionDirectionDebit, 1000, base)
	second := f.append(t, ledgerdomain.TransactionDirectionDebit, 2000, base.Add(time.Minute))

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, second.ID)
		return err
	})
	require.NoError(t, err)

	// The voided row still pins everything before it.
	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Void(f.ctx, tx, f.companyID, f.customerID, first.ID)
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrNotLatestTransaction)

	balance, err := f.svc.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestAppendStampsTimesFromClock(t *testing.T) {
	f := setupLedgerTest(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    f.db,
		Log:   zap.NewNop(),
		GenID: f.node,
		Clock: clk,
	})

	var txn *ledgerdomain.Transaction
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = svc.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:  f.companyID,
			CustomerID: f.customerID,
			Type:       ledgerdomain.TransactionTypeInvoice,
			Direction:  ledgerdomain.TransactionDirectionDebit,
			Amount:     100,
			Reference:  ledgerdomain.NoReference(),
		})
		return err
	})
	require.NoError(t, err)

	// A zero transaction date defaults to the injected clock, as does the
	// recording timestamp.
	assert.True(t, txn.TransactionDate.Equal(clk.Now()))
	assert.True(t, txn.RecordedAt.Equal(clk.Now()))
}

func TestAppendRejectsNegativeAmount(t *testing.T) {
	f := setupLedgerTest(t)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:  f.companyID,
			CustomerID: f.customerID,
			Type:       ledgerdomain.TransactionTypePayment,
			Direction:  ledgerdomain.TransactionDirectionCredit,
			Amount:     -5,
		})
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}
