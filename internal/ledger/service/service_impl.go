package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/internal/clock"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	"github.com/smallbiznis/netbill/internal/tenantctx"
	"github.com/smallbiznis/netbill/pkg/db"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CurrentBalance(ctx context.Context, customerID string) (int64, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return 0, ledgerdomain.ErrInvalidCompany
	}

	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return 0, ledgerdomain.ErrInvalidCustomer
	}

	return s.latestBalance(ctx, s.db, companyID, id, "")
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidCustomer
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	stmt := s.db.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Where("company_id = ? AND customer_id = ?", companyID, customerID)
	if !req.IncludeVoided {
		stmt = stmt.Where("status = ?", ledgerdomain.TransactionStatusActive)
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		transactionDate, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("(transaction_date < ?) OR (transaction_date = ? AND id < ?)",
			transactionDate, transactionDate, id)
	}

	var items []*ledgerdomain.Transaction
	err = stmt.
		Order("transaction_date desc, id desc").
		Limit(pageSize + 1).
		Find(&items).Error
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(txn *ledgerdomain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        txn.ID.String(),
			CreatedAt: txn.TransactionDate.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	transactions := make([]ledgerdomain.Transaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transactions = append(transactions, *item)
	}

	resp := ledgerdomain.ListTransactionsResponse{Transactions: transactions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) FindByID(ctx context.Context, tx *gorm.DB, companyID, txnID snowflake.ID) (*ledgerdomain.Transaction, error) {
	if tx == nil {
		tx = s.db
	}

	var txn ledgerdomain.Transaction
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM transactions WHERE company_id = ? AND id = ?`,
		companyID,
		txnID,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, ledgerdomain.ErrNotFound
	}
	return &txn, nil
}

// LockChain takes the customer row lock that serializes chain writers, then
// reads the balance under it.
func (s *Service) LockChain(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) (int64, error) {
	if companyID == 0 {
		return 0, ledgerdomain.ErrInvalidCompany
	}
	if customerID == 0 {
		return 0, ledgerdomain.ErrInvalidCustomer
	}

	var locked struct {
		ID snowflake.ID
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM customers WHERE company_id = ? AND id = ?`+db.LockingClause(tx),
		companyID,
		customerID,
	).Scan(&locked).Error
	if err != nil {
		return 0, err
	}
	if locked.ID == 0 {
		return 0, ledgerdomain.ErrInvalidCustomer
	}

	return s.latestBalance(ctx, tx, companyID, customerID, db.LockingClause(tx))
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, input ledgerdomain.AppendInput) (*ledgerdomain.Transaction, error) {
	if input.CompanyID == 0 {
		return nil, ledgerdomain.ErrInvalidCompany
	}
	if input.CustomerID == 0 {
		return nil, ledgerdomain.ErrInvalidCustomer
	}
	if !input.Type.Valid() {
		return nil, ledgerdomain.ErrInvalidType
	}
	if input.Direction != ledgerdomain.TransactionDirectionDebit &&
		input.Direction != ledgerdomain.TransactionDirectionCredit {
		return nil, ledgerdomain.ErrInvalidDirection
	}
	if input.Amount < 0 || input.BalanceBefore < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	transactionDate := input.TransactionDate
	if transactionDate.IsZero() {
		transactionDate = now
	}
	transactionDate = transactionDate.UTC()

	// A transaction dated before the chain head would order interior to
	// existing rows and invalidate every balance after it.
	var head struct {
		ID              snowflake.ID
		TransactionDate time.Time
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, transaction_date FROM transactions
		 WHERE company_id = ? AND customer_id = ? AND status = ?
		 ORDER BY transaction_date DESC, id DESC
		 LIMIT 1`,
		input.CompanyID,
		input.CustomerID,
		ledgerdomain.TransactionStatusActive,
	).Scan(&head).Error
	if err != nil {
		return nil, err
	}
	if head.ID != 0 && transactionDate.Before(head.TransactionDate.UTC()) {
		return nil, ledgerdomain.ErrBackdatedTransaction
	}

	txn := ledgerdomain.Transaction{
		ID:              s.genID.Generate(),
		CompanyID:       input.CompanyID,
		CustomerID:      input.CustomerID,
		Type:            input.Type,
		Direction:       input.Direction,
		Amount:          input.Amount,
		BalanceBefore:   input.BalanceBefore,
		BalanceAfter:    ledgerdomain.ApplyDirection(input.BalanceBefore, input.Direction, input.Amount),
		Description:     strings.TrimSpace(input.Description),
		ReferenceType:   input.Reference.Type,
		TransactionDate: transactionDate,
		RecordedAt:      now,
		CreatedBy:       input.CreatedBy,
		Status:          ledgerdomain.TransactionStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if txn.ReferenceType == "" {
		txn.ReferenceType = ledgerdomain.ReferenceTypeNone
	}
	if input.Reference.Type != ledgerdomain.ReferenceTypeNone && input.Reference.ID != 0 {
		refID := input.Reference.ID
		txn.ReferenceID = &refID
	}

	err = tx.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, company_id, customer_id, type, direction, amount,
			balance_before, balance_after, description, reference_type,
			reference_id, transaction_date, recorded_at, created_by, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.CompanyID,
		txn.CustomerID,
		txn.Type,
		txn.Direction,
		txn.Amount,
		txn.BalanceBefore,
		txn.BalanceAfter,
		txn.Description,
		txn.ReferenceType,
		txn.ReferenceID,
		txn.TransactionDate,
		txn.RecordedAt,
		txn.CreatedBy,
		txn.Status,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
	if err != nil {
		return nil, err
	}

	return &txn, nil
}

func (s *Service) AttachReference(ctx context.Context, tx *gorm.DB, companyID, txnID snowflake.ID, ref ledgerdomain.Reference) error {
	if ref.Type == ledgerdomain.ReferenceTypeNone || ref.ID == 0 {
		return ledgerdomain.ErrInvalidReference
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE transactions SET reference_type = ?, reference_id = ?, updated_at = ?
		 WHERE company_id = ? AND id = ?`,
		ref.Type,
		ref.ID,
		s.clock.Now().UTC(),
		companyID,
		txnID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrNotFound
	}
	return nil
}

func (s *Service) Void(ctx context.Context, tx *gorm.DB, companyID, customerID, txnID snowflake.ID) (*ledgerdomain.Transaction, error) {
	txn, err := s.FindByID(ctx, tx, companyID, txnID)
	if err != nil {
		return nil, err
	}
	if txn.CustomerID != customerID {
		return nil, ledgerdomain.ErrNotFound
	}
	if txn.Status == ledgerdomain.TransactionStatusVoided {
		return nil, ledgerdomain.ErrAlreadyVoided
	}

	// Latest is judged across voided rows too: a voided transaction later
	// in the chain still pins everything before it as fixed history.
	var latest struct {
		ID snowflake.ID
	}
	err = tx.WithContext(ctx).Raw(
		`SELECT id FROM transactions
		 WHERE company_id = ? AND customer_id = ?
		 ORDER BY transaction_date DESC, id DESC
		 LIMIT 1`,
		companyID,
		customerID,
	).Scan(&latest).Error
	if err != nil {
		return nil, err
	}
	if latest.ID != txnID {
		return nil, ledgerdomain.ErrNotLatestTransaction
	}

	now := s.clock.Now().UTC()
	result := tx.WithContext(ctx).Exec(
		`UPDATE transactions SET status = ?, voided_at = ?, updated_at = ?
		 WHERE company_id = ? AND id = ? AND status = ?`,
		ledgerdomain.TransactionStatusVoided,
		now,
		now,
		companyID,
		txnID,
		ledgerdomain.TransactionStatusActive,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ledgerdomain.ErrNotLatestTransaction
	}

	txn.Status = ledgerdomain.TransactionStatusVoided
	txn.VoidedAt = &now
	txn.UpdatedAt = now

	s.log.Info("transaction voided",
		zap.String("company_id", companyID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("transaction_id", txnID.String()),
	)

	return txn, nil
}

// Recalculate replays the active chain from zero and rewrites any row whose
// stored balances disagree with the replay.
func (s *Service) Recalculate(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) error {
	if companyID == 0 {
		return ledgerdomain.ErrInvalidCompany
	}
	if customerID == 0 {
		return ledgerdomain.ErrInvalidCustomer
	}

	var chain []ledgerdomain.Transaction
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM transactions
		 WHERE company_id = ? AND customer_id = ? AND status = ?
		 ORDER BY transaction_date ASC, id ASC`,
		companyID,
		customerID,
		ledgerdomain.TransactionStatusActive,
	).Scan(&chain).Error
	if err != nil {
		return err
	}

	running := int64(0)
	now := s.clock.Now().UTC()
	for _, txn := range chain {
		before := running
		after := ledgerdomain.ApplyDirection(before, txn.Direction, txn.Amount)
		if txn.BalanceBefore != before || txn.BalanceAfter != after {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE transactions SET balance_before = ?, balance_after = ?, updated_at = ?
				 WHERE company_id = ? AND id = ?`,
				before,
				after,
				now,
				companyID,
				txn.ID,
			).Error; err != nil {
				return err
			}
		}
		running = after
	}

	return nil
}

func (s *Service) latestBalance(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID, lockClause string) (int64, error) {
	var row struct {
		ID           snowflake.ID
		BalanceAfter int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, balance_after FROM transactions
		 WHERE company_id = ? AND customer_id = ? AND status = ?
		 ORDER BY transaction_date DESC, id DESC
		 LIMIT 1`+lockClause,
		companyID,
		customerID,
		ledgerdomain.TransactionStatusActive,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, nil
	}
	return row.BalanceAfter, nil
}
