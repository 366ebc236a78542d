package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/netbill/internal/audit/domain"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/netbill/internal/observability/metrics"
	"github.com/smallbiznis/netbill/internal/payment/domain"
	"github.com/smallbiznis/netbill/internal/tenantctx"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	CustomerRepo customerdomain.Repository
	Ledger       ledgerdomain.Service
	AuditSvc     auditdomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	customerRepo customerdomain.Repository
	ledger       ledgerdomain.Service
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		ledger:       p.Ledger,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

// Record collects a payment: the ledger credit is inserted first without a
// reference, then the payment row, then the transaction is patched to point
// at it. All inside one transaction under the customer chain lock.
func (s *Service) Record(ctx context.Context, req domain.RecordPaymentRequest) (domain.RecordPaymentResult, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.RecordPaymentResult{}, domain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.RecordPaymentResult{}, domain.ErrInvalidCustomer
	}

	if req.Amount <= 0 {
		return domain.RecordPaymentResult{}, domain.ErrInvalidAmount
	}
	if req.Discount < 0 || req.Discount > req.Amount {
		return domain.RecordPaymentResult{}, domain.ErrInvalidDiscount
	}

	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.Method)))
	if !method.Valid() {
		return domain.RecordPaymentResult{}, domain.ErrInvalidMethod
	}

	var invoiceID *snowflake.ID
	if raw := strings.TrimSpace(req.InvoiceID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return domain.RecordPaymentResult{}, domain.ErrInvalidInvoice
		}
		invoiceID = &id
	}

	collectedAt := time.Now().UTC()
	if raw := strings.TrimSpace(req.CollectedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			parsed, err = time.Parse("2006-01-02", raw)
			if err != nil {
				return domain.RecordPaymentResult{}, domain.ErrInvalidCollectedAt
			}
		}
		collectedAt = parsed.UTC()
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, companyID, customerID)
	if err != nil {
		return domain.RecordPaymentResult{}, err
	}
	if customer == nil {
		return domain.RecordPaymentResult{}, domain.ErrInvalidCustomer
	}

	createdBy := actorID(ctx)
	creditAmount := req.Amount - req.Discount

	var result domain.RecordPaymentResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.ledger.LockChain(ctx, tx, companyID, customerID)
		if err != nil {
			return err
		}

		txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendInput{
			CompanyID:       companyID,
			CustomerID:      customerID,
			Type:            ledgerdomain.TransactionTypePayment,
			Direction:       ledgerdomain.TransactionDirectionCredit,
			Amount:          creditAmount,
			BalanceBefore:   balance,
			Description:     strings.TrimSpace(req.Comments),
			TransactionDate: collectedAt,
			CreatedBy:       createdBy,
			Reference:       ledgerdomain.NoReference(),
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		payment := domain.Payment{
			ID:            s.genID.Generate(),
			CompanyID:     companyID,
			CustomerID:    customerID,
			TransactionID: txn.ID,
			PaymentNumber: "PAY-" + ulid.Make().String(),
			InvoiceID:     invoiceID,
			Amount:        req.Amount,
			Discount:      req.Discount,
			Method:        method,
			CollectedBy:   createdBy,
			CollectedAt:   collectedAt,
			Comments:      strings.TrimSpace(req.Comments),
			Status:        domain.PaymentStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Insert(ctx, tx, &payment); err != nil {
			return err
		}

		if err := s.ledger.AttachReference(ctx, tx, companyID, txn.ID,
			ledgerdomain.PaymentReference(payment.ID)); err != nil {
			return err
		}
		txn.ReferenceType = ledgerdomain.ReferenceTypePayment
		paymentID := payment.ID
		txn.ReferenceID = &paymentID

		result = domain.RecordPaymentResult{Payment: payment, Transaction: *txn}
		return nil
	})
	if err != nil {
		return domain.RecordPaymentResult{}, err
	}

	s.log.Info("payment recorded",
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("method", string(method)),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.PaymentsRecorded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("payment_method", string(method)),
		))
	}
	s.audit(ctx, companyID, "payment.recorded", result.Payment.ID, map[string]any{
		"customer_id":    customerID.String(),
		"transaction_id": result.Transaction.ID.String(),
		"amount":         req.Amount,
		"discount":       req.Discount,
		"method":         string(method),
	})

	return result, nil
}

func (s *Service) Delete(ctx context.Context, paymentID string) (domain.DeletePaymentResult, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.DeletePaymentResult{}, domain.ErrInvalidCompany
	}

	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil || id == 0 {
		return domain.DeletePaymentResult{}, domain.ErrInvalidID
	}

	var result domain.DeletePaymentResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByID(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Status == domain.PaymentStatusVoided {
			return domain.ErrAlreadyVoided
		}

		if _, err := s.ledger.LockChain(ctx, tx, companyID, payment.CustomerID); err != nil {
			return err
		}

		txn, err := s.ledger.Void(ctx, tx, companyID, payment.CustomerID, payment.TransactionID)
		if err != nil {
			return err
		}

		if err := s.repo.Deactivate(ctx, tx, companyID, payment.ID); err != nil {
			return err
		}
		payment.Status = domain.PaymentStatusVoided

		result = domain.DeletePaymentResult{Payment: *payment, Transaction: *txn}
		return nil
	})
	if err != nil {
		return domain.DeletePaymentResult{}, err
	}

	s.log.Info("payment deleted",
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("transaction_id", result.Transaction.ID.String()),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.TransactionsVoided.Add(ctx, 1, metric.WithAttributes(
			attribute.String("transaction_type", string(ledgerdomain.TransactionTypePayment)),
		))
	}
	s.audit(ctx, companyID, "payment.deleted", result.Payment.ID, map[string]any{
		"customer_id":    result.Payment.CustomerID.String(),
		"transaction_id": result.Transaction.ID.String(),
	})

	return result, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.ListPaymentResponse{}, domain.ErrInvalidCompany
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, companyID, req, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListPaymentResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(payment *domain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        payment.ID.String(),
			CreatedAt: payment.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	resp := domain.ListPaymentResponse{Payments: payments}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Payment, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.Payment{}, domain.ErrInvalidCompany
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || paymentID == 0 {
		return domain.Payment{}, domain.ErrInvalidID
	}

	payment, err := s.repo.FindByID(ctx, s.db, companyID, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment == nil {
		return domain.Payment{}, domain.ErrNotFound
	}
	return *payment, nil
}

func (s *Service) audit(ctx context.Context, companyID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, &companyID, "", nil, action, "payment", &target, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.Error(err))
	}
}

func actorID(ctx context.Context) *snowflake.ID {
	if userID, ok := tenantctx.UserID(ctx); ok && userID != 0 {
		return &userID
	}
	return nil
}
