package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	plandomain "github.com/smallbiznis/netbill/internal/plan/domain"
	"github.com/smallbiznis/netbill/internal/subscription/domain"
	"github.com/smallbiznis/netbill/internal/tenantctx"
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
	PlanRepo     plandomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	customerRepo customerdomain.Repository
	planRepo     plandomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		planRepo:     p.PlanRepo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.Subscription{}, domain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.Subscription{}, domain.ErrInvalidCustomer
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil || planID == 0 {
		return domain.Subscription{}, domain.ErrInvalidPlan
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, companyID, customerID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if customer == nil {
		return domain.Subscription{}, domain.ErrInvalidCustomer
	}

	plan, err := s.planRepo.FindByID(ctx, s.db, companyID, planID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if plan == nil {
		return domain.Subscription{}, domain.ErrInvalidPlan
	}

	agreedPrice := plan.MonthlyPrice
	if req.AgreedMonthlyPrice != nil {
		agreedPrice = *req.AgreedMonthlyPrice
	}
	if agreedPrice < 0 || req.AdditionalCharge < 0 || req.Discount < 0 {
		return domain.Subscription{}, domain.ErrInvalidPrice
	}

	cycle := req.BillingCycleValue
	if cycle == 0 {
		cycle = 1
	}
	if cycle < 1 || cycle > 12 {
		return domain.Subscription{}, domain.ErrInvalidBillingCycle
	}

	now := time.Now().UTC()
	startDate := now
	if raw := strings.TrimSpace(req.StartDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.Subscription{}, domain.ErrInvalidStartDate
		}
		startDate = parsed.UTC()
	}

	sub := domain.Subscription{
		ID:                 s.genID.Generate(),
		CompanyID:          companyID,
		CustomerID:         customerID,
		PlanID:             planID,
		AgreedMonthlyPrice: agreedPrice,
		AdditionalCharge:   req.AdditionalCharge,
		Discount:           req.Discount,
		BillingCycleValue:  cycle,
		Status:             domain.SubscriptionStatusActive,
		StartDate:          startDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Insert(ctx, s.db, &sub); err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("plan_id", planID.String()),
	)

	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return domain.Subscription{}, domain.ErrInvalidCompany
	}

	subID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || subID == 0 {
		return domain.Subscription{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, companyID, subID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if item == nil {
		return domain.Subscription{}, domain.ErrNotFound
	}

	return *item, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok || companyID == 0 {
		return nil, domain.ErrInvalidCompany
	}

	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidCustomer
	}

	return s.repo.ListByCustomer(ctx, s.db, companyID, id)
}
