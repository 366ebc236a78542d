package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/netbill/internal/audit/domain"
	"github.com/smallbiznis/netbill/internal/billing/domain"
	"github.com/smallbiznis/netbill/internal/clock"
	"github.com/smallbiznis/netbill/internal/config"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/netbill/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/netbill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/netbill/internal/payment/domain"
	plandomain "github.com/smallbiznis/netbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/netbill/internal/subscription/domain"
	"github.com/smallbiznis/netbill/internal/tenantctx"
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
	Clock        clock.Clock
	Policy       *config.BillingPolicyHolder
	Ledger       ledgerdomain.Service
	InvoiceRepo  invoicedomain.Repository
	PaymentRepo  paymentdomain.Repository
	SubRepo      subscriptiondomain.Repository
	PlanRepo     plandomain.Repository
	CustomerRepo customerdomain.Repository
	AuditSvc     auditdomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.BillingPolicyHolder
	ledger       ledgerdomain.Service
	invoiceRepo  invoicedomain.Repository
	paymentRepo  paymentdomain.Repository
	subRepo      subscriptiondomain.Repository
	planRepo     plandomain.Repository
	customerRepo customerdomain.Repository
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("billing.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		ledger:       p.Ledger,
		invoiceRepo:  p.InvoiceRepo,
		paymentRepo:  p.PaymentRepo,
		subRepo:      p.SubRepo,
		planRepo:     p.PlanRepo,
		customerRepo: p.CustomerRepo,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) CreateInitialInvoice(ctx context.Context, subscriptionID string) (domain.BillingResult, error) {
	sub, companyID, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return domain.BillingResult{}, err
	}
	if sub.LastRenewalDate != nil {
		return domain.BillingResult{}, domain.ErrInvalidSubscription
	}

	periodStart := sub.StartDate
	return s.billSubscriptionPeriod(ctx, companyID, sub, periodStart, "billing.initial_invoice")
}

func (s *Service) RenewSubscription(ctx context.Context, subscriptionID string) (domain.BillingResult, error) {
	sub, companyID, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return domain.BillingResult{}, err
	}

	periodStart := sub.StartDate
	if sub.NextRenewalDate != nil {
		periodStart = *sub.NextRenewalDate
	}

	result, err := s.billSubscriptionPeriod(ctx, companyID, sub, periodStart, "billing.subscription_renewed")
	if err != nil {
		return domain.BillingResult{}, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RenewalsProcessed.Add(ctx, 1)
	}
	return result, nil
}

// billSubscriptionPeriod posts one subscription period: debit transaction,
// invoice document, reference patch and renewal date advance, all in one
// transaction under the chain lock.
func (s *Service) billSubscriptionPeriod(ctx context.Context, companyID snowflake.ID, sub *subscriptiondomain.Subscription, periodStart time.Time, action string) (domain.BillingResult, error) {
	plan, err := s.planRepo.FindByID(ctx, s.db, companyID, sub.PlanID)
	if err != nil {
		return domain.BillingResult{}, err
	}
	planName := "Subscription"
	if plan != nil {
		planName = plan.Name
	}

	months := sub.BillingCycleValue
	if months <= 0 {
		months = 1
	}
	// The billed period is inclusive, so it closes the day before the next
	// one starts.
	nextRenewal := periodStart.AddDate(0, months, 0)
	periodEnd := nextRenewal.AddDate(0, 0, -1)
	amount := sub.RenewalAmount()
	policy := s.policy.Get()
	createdBy := actorID(ctx)

	var result domain.BillingResult
	err = s.withChainRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.ledger.LockChain(ctx, tx, companyID, sub.CustomerID)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendInput{
				CompanyID:       companyID,
				CustomerID:      sub.CustomerID,
				Type:            ledgerdomain.TransactionTypeInvoice,
				Direction:       ledgerdomain.TransactionDirectionDebit,
				Amount:          amount,
				BalanceBefore:   balance,
				Description:     planName,
				TransactionDate: now,
				CreatedBy:       createdBy,
				Reference:       ledgerdomain.NoReference(),
			})
			if err != nil {
				return err
			}

			number, err := s.invoiceRepo.NextInvoiceNumber(ctx, tx, companyID)
			if err != nil {
				return err
			}

			dueAt := now.AddDate(0, 0, policy.InvoiceDueDays)
			subID := sub.ID
			invoice := invoicedomain.Invoice{
				ID:             s.genID.Generate(),
				CompanyID:      companyID,
				CustomerID:     sub.CustomerID,
				TransactionID:  txn.ID,
				InvoiceNumber:  number,
				Type:           invoicedomain.InvoiceTypeSubscription,
				SubscriptionID: &subID,
				PeriodStart:    &periodStart,
				PeriodEnd:      &periodEnd,
				Subtotal:       (sub.AgreedMonthlyPrice + sub.AdditionalCharge) * int64(months),
				Discount:       sub.Discount * int64(months),
				AmountTotal:    amount,
				PrevBalance:    balance,
				DueAt:          &dueAt,
				Status:         invoicedomain.InvoiceStatusActive,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
				return err
			}

			items := []invoicedomain.InvoiceItem{{
				ID:        s.genID.Generate(),
				InvoiceID: invoice.ID,
				Position:  1,
				Name:      planName,
				Quantity:  int64(months),
				UnitPrice: sub.AgreedMonthlyPrice,
				Amount:    sub.AgreedMonthlyPrice * int64(months),
				Category:  "SUBSCRIPTION",
				CreatedAt: now,
			}}
			if sub.AdditionalCharge > 0 {
				items = append(items, invoicedomain.InvoiceItem{
					ID:        s.genID.Generate(),
					InvoiceID: invoice.ID,
					Position:  len(items) + 1,
					Name:      "Additional charge",
					Quantity:  int64(months),
					UnitPrice: sub.AdditionalCharge,
					Amount:    sub.AdditionalCharge * int64(months),
					Category:  "ADDITIONAL_CHARGE",
					CreatedAt: now,
				})
			}
			if balance > 0 {
				items = append(items, invoicedomain.InvoiceItem{
					ID:        s.genID.Generate(),
					InvoiceID: invoice.ID,
					Position:  len(items) + 1,
					Name:      "Previous balance",
					Quantity:  1,
					UnitPrice: balance,
					Amount:    balance,
					Category:  "PREVIOUS_BALANCE",
					CreatedAt: now,
				})
			}
			if err := s.invoiceRepo.InsertItems(ctx, tx, items); err != nil {
				return err
			}
			invoice.Items = items

			if err := s.ledger.AttachReference(ctx, tx, companyID, txn.ID,
				ledgerdomain.InvoiceReference(invoice.ID)); err != nil {
				return err
			}
			txn.ReferenceType = ledgerdomain.ReferenceTypeInvoice
			invoiceID := invoice.ID
			txn.ReferenceID = &invoiceID

			sub.LastRenewalDate = &periodStart
			sub.NextRenewalDate = &nextRenewal
			if err := s.subRepo.UpdateRenewalDates(ctx, tx, sub); err != nil {
				return err
			}

			result = domain.BillingResult{Transaction: *txn, Invoice: &invoice}
			return nil
		})
	})
	if err != nil {
		return domain.BillingResult{}, err
	}

	s.log.Info("subscription billed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("customer_id", sub.CustomerID.String()),
		zap.Int64("amount", amount),
		zap.Time("period_start", periodStart),
		zap.Time("period_end", periodEnd),
	)
	s.recordTransactionMetric(ctx, ledgerdomain.TransactionTypeInvoice)
	if s.obsMetrics != nil {
		s.obsMetrics.InvoicesCreated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("invoice_type", string(invoicedomain.InvoiceTypeSubscription)),
		))
	}
	s.audit(ctx, companyID, action, "invoice", result.Invoice.ID, map[string]any{
		"subscription_id": sub.ID.String(),
		"customer_id":     sub.CustomerID.String(),
		"transaction_id":  result.Transaction.ID.String(),
		"amount":          amount,
	})

	return result, nil
}

func (s *Service) GenerateBill(ctx context.Context, req domain.GenerateBillRequest) (domain.GenerateBillResult, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.GenerateBillResult{}, domain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.GenerateBillResult{}, domain.ErrInvalidCustomer
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, companyID, customerID)
	if err != nil {
		return domain.GenerateBillResult{}, err
	}
	if customer == nil {
		return domain.GenerateBillResult{}, domain.ErrNotFound
	}

	if len(req.Items) == 0 {
		return domain.GenerateBillResult{}, domain.ErrInvalidItems
	}
	subtotal := int64(0)
	for _, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" || item.UnitPrice < 0 || item.Quantity < 0 {
			return domain.GenerateBillResult{}, domain.ErrInvalidItems
		}
		quantity := item.Quantity
		if quantity == 0 {
			quantity = 1
		}
		subtotal += item.UnitPrice * quantity
	}
	if req.TaxAmount < 0 || req.Discount < 0 {
		return domain.GenerateBillResult{}, domain.ErrInvalidAmount
	}
	total := subtotal + req.TaxAmount - req.Discount
	if total <= 0 {
		return domain.GenerateBillResult{}, domain.ErrInvalidAmount
	}

	periodStart, err := parseOptionalDate(req.PeriodStart)
	if err != nil {
		return domain.GenerateBillResult{}, domain.ErrInvalidPeriod
	}
	periodEnd, err := parseOptionalDate(req.PeriodEnd)
	if err != nil {
		return domain.GenerateBillResult{}, domain.ErrInvalidPeriod
	}
	if periodStart != nil && periodEnd != nil && periodEnd.Before(*periodStart) {
		return domain.GenerateBillResult{}, domain.ErrInvalidPeriod
	}

	transactionDate, err := parseOptionalDate(req.TransactionDate)
	if err != nil {
		return domain.GenerateBillResult{}, domain.ErrInvalidPeriod
	}

	method := paymentdomain.PaymentMethodCash
	if req.CollectNow {
		if raw := strings.ToUpper(strings.TrimSpace(req.PaymentMethod)); raw != "" {
			method = paymentdomain.PaymentMethod(raw)
		}
		if !method.Valid() {
			return domain.GenerateBillResult{}, domain.ErrInvalidMethod
		}
	}

	plans := make([]*plandomain.Plan, 0, len(req.PlanIDs))
	for _, raw := range req.PlanIDs {
		planID, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || planID == 0 {
			return domain.GenerateBillResult{}, domain.ErrInvalidPlan
		}
		plan, err := s.planRepo.FindByID(ctx, s.db, companyID, planID)
		if err != nil {
			return domain.GenerateBillResult{}, err
		}
		if plan == nil {
			return domain.GenerateBillResult{}, domain.ErrInvalidPlan
		}
		plans = append(plans, plan)
	}

	policy := s.policy.Get()
	createdBy := actorID(ctx)

	var result domain.GenerateBillResult
	err = s.withChainRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.ledger.LockChain(ctx, tx, companyID, customerID)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			txnDate := now
			if transactionDate != nil {
				txnDate = *transactionDate
			}

			txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendInput{
				CompanyID:       companyID,
				CustomerID:      customerID,
				Type:            ledgerdomain.TransactionTypeBillGeneration,
				Direction:       ledgerdomain.TransactionDirectionDebit,
				Amount:          total,
				BalanceBefore:   balance,
				TransactionDate: txnDate,
				CreatedBy:       createdBy,
				Reference:       ledgerdomain.NoReference(),
			})
			if err != nil {
				return err
			}

			number, err := s.invoiceRepo.NextInvoiceNumber(ctx, tx, companyID)
			if err != nil {
				return err
			}

			dueAt := now.AddDate(0, 0, policy.InvoiceDueDays)
			invoice := invoicedomain.Invoice{
				ID:            s.genID.Generate(),
				CompanyID:     companyID,
				CustomerID:    customerID,
				TransactionID: txn.ID,
				InvoiceNumber: number,
				Type:          invoicedomain.InvoiceTypeAdjusted,
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				Subtotal:      subtotal,
				TaxAmount:     req.TaxAmount,
				Discount:      req.Discount,
				AmountTotal:   total,
				PrevBalance:   balance,
				DueAt:         &dueAt,
				Status:        invoicedomain.InvoiceStatusActive,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
				return err
			}

			items := make([]invoicedomain.InvoiceItem, 0, len(req.Items))
			for i, item := range req.Items {
				quantity := item.Quantity
				if quantity == 0 {
					quantity = 1
				}
				items = append(items, invoicedomain.InvoiceItem{
					ID:        s.genID.Generate(),
					InvoiceID: invoice.ID,
					Position:  i + 1,
					Name:      strings.TrimSpace(item.Name),
					Quantity:  quantity,
					UnitPrice: item.UnitPrice,
					Amount:    item.UnitPrice * quantity,
					Category:  strings.TrimSpace(item.Category),
					CreatedAt: now,
				})
			}
			if err := s.invoiceRepo.InsertItems(ctx, tx, items); err != nil {
				return err
			}
			invoice.Items = items

			if err := s.ledger.AttachReference(ctx, tx, companyID, txn.ID,
				ledgerdomain.InvoiceReference(invoice.ID)); err != nil {
				return err
			}
			txn.ReferenceType = ledgerdomain.ReferenceTypeInvoice
			invoiceID := invoice.ID
			txn.ReferenceID = &invoiceID

			for _, plan := range plans {
				start := now
				if periodStart != nil {
					start = *periodStart
				}
				next := start.AddDate(0, 1, 0)
				sub := subscriptiondomain.Subscription{
					ID:                 s.genID.Generate(),
					CompanyID:          companyID,
					CustomerID:         customerID,
					PlanID:             plan.ID,
					AgreedMonthlyPrice: plan.MonthlyPrice,
					BillingCycleValue:  1,
					Status:             subscriptiondomain.SubscriptionStatusActive,
					StartDate:          start,
					LastRenewalDate:    &start,
					NextRenewalDate:    &next,
					CreatedAt:          now,
					UpdatedAt:          now,
				}
				if err := s.subRepo.Insert(ctx, tx, &sub); err != nil {
					return err
				}
			}

			result = domain.GenerateBillResult{Transaction: *txn, Invoice: &invoice}

			if req.CollectNow {
				settlement, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendInput{
					CompanyID:       companyID,
					CustomerID:      customerID,
					Type:            ledgerdomain.TransactionTypePayment,
					Direction:       ledgerdomain.TransactionDirectionCredit,
					Amount:          total,
					BalanceBefore:   txn.BalanceAfter,
					TransactionDate: txnDate,
					CreatedBy:       createdBy,
					Reference:       ledgerdomain.NoReference(),
				})
				if err != nil {
					return err
				}

				payment := paymentdomain.Payment{
					ID:            s.genID.Generate(),
					CompanyID:     companyID,
					CustomerID:    customerID,
					TransactionID: settlement.ID,
					PaymentNumber: "PAY-" + ulid.Make().String(),
					InvoiceID:     &invoiceID,
					Amount:        total,
					Method:        method,
					CollectedBy:   createdBy,
					CollectedAt:   now,
					Status:        paymentdomain.PaymentStatusActive,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := s.paymentRepo.Insert(ctx, tx, &payment); err != nil {
					return err
				}

				if err := s.ledger.AttachReference(ctx, tx, companyID, settlement.ID,
					ledgerdomain.PaymentReference(payment.ID)); err != nil {
					return err
				}
				settlement.ReferenceType = ledgerdomain.ReferenceTypePayment
				paymentID := payment.ID
				settlement.ReferenceID = &paymentID

				result.Payment = &payment
				result.Settlement = settlement
			}

			return nil
		})
	})
	if err != nil {
		return domain.GenerateBillResult{}, err
	}

	s.log.Info("bill generated",
		zap.String("customer_id", customerID.String()),
		zap.Int64("amount", total),
		zap.Bool("collect_now", req.CollectNow),
	)
	s.recordTransactionMetric(ctx, ledgerdomain.TransactionTypeBillGeneration)
	if s.obsMetrics != nil {
		s.obsMetrics.InvoicesCreated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("invoice_type", string(invoicedomain.InvoiceTypeAdjusted)),
		))
	}
	s.audit(ctx, companyID, "billing.bill_generated", "invoice", result.Invoice.ID, map[string]any{
		"customer_id":    customerID.String(),
		"transaction_id": result.Transaction.ID.String(),
		"amount":         total,
		"collect_now":    req.CollectNow,
	})

	return result, nil
}

func (s *Service) AddOnCharge(ctx context.Context, req domain.AddOnChargeRequest) (domain.BillingResult, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.BillingResult{}, domain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.BillingResult{}, domain.ErrInvalidCustomer
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, companyID, customerID)
	if err != nil {
		return domain.BillingResult{}, err
	}
	if customer == nil {
		return domain.BillingResult{}, domain.ErrNotFound
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.BillingResult{}, domain.ErrInvalidItems
	}
	if req.Amount <= 0 {
		return domain.BillingResult{}, domain.ErrInvalidAmount
	}

	transactionDate, err := parseOptionalDate(req.TransactionDate)
	if err != nil {
		return domain.BillingResult{}, domain.ErrInvalidPeriod
	}

	policy := s.policy.Get()
	createdBy := actorID(ctx)

	var result domain.BillingResult
	err = s.withChainRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.ledger.LockChain(ctx, tx, companyID, customerID)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			txnDate := now
			if transactionDate != nil {
				txnDate = *transactionDate
			}

			txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendInput{
				CompanyID:       companyID,
				CustomerID:      customerID,
				Type:            ledgerdomain.TransactionTypeAddOnBill,
				Direction:       ledgerdomain.TransactionDirectionDebit,
				Amount:          req.Amount,
				BalanceBefore:   balance,
				Description:     name,
				TransactionDate: txnDate,
				CreatedBy:       createdBy,
				Reference:       ledgerdomain.NoReference(),
			})
			if err != nil {
				return err
			}

			number, err := s.invoiceRepo.NextInvoiceNumber(ctx, tx, companyID)
			if err != nil {
				return err
			}

			dueAt := now.AddDate(0, 0, policy.InvoiceDueDays)
			invoice := invoicedomain.Invoice{
				ID:            s.genID.Generate(),
				CompanyID:     companyID,
				CustomerID:    customerID,
				TransactionID: txn.ID,
				InvoiceNumber: number,
				Type:          invoicedomain.InvoiceTypeAdjusted,
				Subtotal:      req.Amount,
				AmountTotal:   req.Amount,
				PrevBalance:   balance,
				DueAt:         &dueAt,
				Status:        invoicedomain.InvoiceStatusActive,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
				return err
			}

			items := []invoicedomain.InvoiceItem{{
				ID:        s.genID.Generate(),
				InvoiceID: invoice.ID,
				Position:  1,
				Name:      name,
				Quantity:  1,
				UnitPrice: req.Amount,
				Amount:    req.Amount,
				Category:  "ADD_ON",
				CreatedAt: now,
			}}
			if err := s.invoiceRepo.InsertItems(ctx, tx, items); err != nil {
				return err
			}
			invoice.Items = items

			if err := s.ledger.AttachReference(ctx, tx, companyID, txn.ID,
				ledgerdomain.InvoiceReference(invoice.ID)); err != nil {
				return err
			}
			txn.ReferenceType = ledgerdomain.ReferenceTypeInvoice
			invoiceID := invoice.ID
			txn.ReferenceID = &invoiceID

			result = domain.BillingResult{Transaction: *txn, Invoice: &invoice}
			return nil
		})
	})
	if err != nil {
		return domain.BillingResult{}, err
	}

	s.recordTransactionMetric(ctx, ledgerdomain.TransactionTypeAddOnBill)
	s.audit(ctx, companyID, "billing.addon_charged", "invoice", result.Invoice.ID, map[string]any{
		"customer_id":    customerID.String(),
		"transaction_id": result.Transaction.ID.String(),
		"amount":         req.Amount,
		"name":           name,
	})

	return result, nil
}

func (s *Service) AdjustBalance(ctx context.Context, req domain.AdjustBalanceRequest) (domain.BillingResult, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.BillingResult{}, domain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.BillingResult{}, domain.ErrInvalidCustomer
	}
	if req.TargetBalance < 0 {
		return domain.BillingResult{}, domain.ErrInvalidAmount
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, companyID, customerID)
	if err != nil {
		return domain.BillingResult{}, err
	}
	if customer == nil {
		return domain.BillingResult{}, domain.ErrNotFound
	}

	comments := strings.TrimSpace(req.Comments)
	policy := s.policy.Get()
	createdBy := actorID(ctx)

	var result domain.BillingResult
	err = s.withChainRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.ledger.LockChain(ctx, tx, companyID, customerID)
			if err != nil {
				return err
			}

			delta := req.TargetBalance - balance
			if delta == 0 {
				return domain.ErrZeroAdjustment
			}

			direction := ledgerdomain.TransactionDirectionDebit
			amount := delta
			if delta < 0 {
				direction = ledgerdomain.TransactionDirectionCredit
				amount = -delta
			}

			now := s.clock.Now()
			txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendInput{
				CompanyID:       companyID,
				CustomerID:      customerID,
				Type:            ledgerdomain.TransactionTypeBalanceAdjustment,
				Direction:       direction,
				Amount:          amount,
				BalanceBefore:   balance,
				Description:     comments,
				TransactionDate: now,
				CreatedBy:       createdBy,
				Reference:       ledgerdomain.NoReference(),
			})
			if err != nil {
				return err
			}

			number, err := s.invoiceRepo.NextInvoiceNumber(ctx, tx, companyID)
			if err != nil {
				return err
			}

			itemName := "Balance adjustment"
			if comments != "" {
				itemName = comments
			}

			dueAt := now.AddDate(0, 0, policy.InvoiceDueDays)
			invoice := invoicedomain.Invoice{
				ID:            s.genID.Generate(),
				CompanyID:     companyID,
				CustomerID:    customerID,
				TransactionID: txn.ID,
				InvoiceNumber: number,
				Type:          invoicedomain.InvoiceTypeAdjusted,
				Subtotal:      amount,
				AmountTotal:   amount,
				PrevBalance:   balance,
				DueAt:         &dueAt,
				Status:        invoicedomain.InvoiceStatusActive,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
				return err
			}

			items := []invoicedomain.InvoiceItem{{
				ID:        s.genID.Generate(),
				InvoiceID: invoice.ID,
				Position:  1,
				Name:      itemName,
				Quantity:  1,
				UnitPrice: amount,
				Amount:    amount,
				Category:  "BALANCE_ADJUSTMENT",
				CreatedAt: now,
			}}
			if err := s.invoiceRepo.InsertItems(ctx, tx, items); err != nil {
				return err
			}
			invoice.Items = items

			if err := s.ledger.AttachReference(ctx, tx, companyID, txn.ID,
				ledgerdomain.InvoiceReference(invoice.ID)); err != nil {
				return err
			}
			txn.ReferenceType = ledgerdomain.ReferenceTypeInvoice
			invoiceID := invoice.ID
			txn.ReferenceID = &invoiceID

			result = domain.BillingResult{Transaction: *txn, Invoice: &invoice}
			return nil
		})
	})
	if err != nil {
		return domain.BillingResult{}, err
	}

	s.recordTransactionMetric(ctx, ledgerdomain.TransactionTypeBalanceAdjustment)
	s.audit(ctx, companyID, "billing.balance_adjusted", "transaction", result.Transaction.ID, map[string]any{
		"customer_id":    customerID.String(),
		"target_balance": req.TargetBalance,
		"direction":      string(result.Transaction.Direction),
		"amount":         result.Transaction.Amount,
		"invoice_id":     result.Invoice.ID.String(),
	})

	return result, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, transactionID string) (domain.DeleteTransactionResult, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.DeleteTransactionResult{}, domain.ErrInvalidCompany
	}

	txnID, err := snowflake.ParseString(strings.TrimSpace(transactionID))
	if err != nil || txnID == 0 {
		return domain.DeleteTransactionResult{}, domain.ErrInvalidID
	}

	var result domain.DeleteTransactionResult
	err = s.withChainRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.ledger.FindByID(ctx, tx, companyID, txnID)
			if err != nil {
				return err
			}

			if _, err := s.ledger.LockChain(ctx, tx, companyID, existing.CustomerID); err != nil {
				return err
			}

			voided, err := s.ledger.Void(ctx, tx, companyID, existing.CustomerID, txnID)
			if err != nil {
				return err
			}
			result = domain.DeleteTransactionResult{Transaction: *voided}

			switch voided.ReferenceType {
			case ledgerdomain.ReferenceTypeInvoice:
				if voided.ReferenceID == nil {
					return ledgerdomain.ErrChainIntegrity
				}
				if err := s.invoiceRepo.Deactivate(ctx, tx, companyID, *voided.ReferenceID); err != nil {
					return err
				}
				invoice, err := s.invoiceRepo.FindByID(ctx, tx, companyID, *voided.ReferenceID)
				if err != nil {
					return err
				}
				result.Invoice = invoice
			case ledgerdomain.ReferenceTypePayment:
				if voided.ReferenceID == nil {
					return ledgerdomain.ErrChainIntegrity
				}
				if err := s.paymentRepo.Deactivate(ctx, tx, companyID, *voided.ReferenceID); err != nil {
					return err
				}
				payment, err := s.paymentRepo.FindByID(ctx, tx, companyID, *voided.ReferenceID)
				if err != nil {
					return err
				}
				result.Payment = payment
			}

			return nil
		})
	})
	if err != nil {
		return domain.DeleteTransactionResult{}, err
	}

	s.log.Info("transaction deleted",
		zap.String("transaction_id", txnID.String()),
		zap.String("reference_type", string(result.Transaction.ReferenceType)),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.TransactionsVoided.Add(ctx, 1, metric.WithAttributes(
			attribute.String("transaction_type", string(result.Transaction.Type)),
		))
	}
	s.audit(ctx, companyID, "billing.transaction_deleted", "transaction", txnID, map[string]any{
		"customer_id":    result.Transaction.CustomerID.String(),
		"reference_type": string(result.Transaction.ReferenceType),
	})

	return result, nil
}

func (s *Service) loadSubscription(ctx context.Context, subscriptionID string) (*subscriptiondomain.Subscription, snowflake.ID, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return nil, 0, domain.ErrInvalidCompany
	}

	subID, err := snowflake.ParseString(strings.TrimSpace(subscriptionID))
	if err != nil || subID == 0 {
		return nil, 0, domain.ErrInvalidID
	}

	sub, err := s.subRepo.FindByID(ctx, s.db, companyID, subID)
	if err != nil {
		return nil, 0, err
	}
	if sub == nil {
		return nil, 0, domain.ErrNotFound
	}
	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return nil, 0, domain.ErrSubscriptionInactive
	}

	return sub, companyID, nil
}

// withChainRetry re-runs fn on lock contention errors up to the configured
// attempt budget.
func (s *Service) withChainRetry(ctx context.Context, fn func() error) error {
	policy := s.policy.Get()
	attempts := policy.LockRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !isRetryableErr(err) {
			return err
		}
		s.log.Warn("chain lock contention, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.LockRetryBackoff * time.Duration(attempt)):
		}
	}
	return domain.ErrLockContention
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "Lock wait timeout") ||
		strings.Contains(msg, "database is locked")
}

func parseOptionalDate(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		parsed, err = time.Parse("2006-01-02", trimmed)
		if err != nil {
			return nil, err
		}
	}
	utc := parsed.UTC()
	return &utc, nil
}

func (s *Service) recordTransactionMetric(ctx context.Context, txnType ledgerdomain.TransactionType) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.TransactionsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transaction_type", string(txnType)),
	))
}

func (s *Service) audit(ctx context.Context, companyID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, &companyID, "", nil, action, targetType, &target, metadata); err != nil {
		s.log.Warn("failed to write billing audit log", zap.Error(err))
	}
}

func actorID(ctx context.Context) *snowflake.ID {
	if userID, ok := tenantctx.UserID(ctx); ok && userID != 0 {
		return &userID
	}
	return nil
}
