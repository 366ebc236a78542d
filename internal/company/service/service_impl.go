package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/netbill/internal/company/domain"
	"github.com/smallbiznis/netbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("company.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateCompanyRequest) (*domain.CompanyResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	now := time.Now().UTC()
	company := domain.Company{
		ID:           s.genID.Generate(),
		Name:         name,
		Slug:         slug.Make(name),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
		Phone:        strings.TrimSpace(req.Phone),
		CountryCode:  strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		TimezoneName: strings.TrimSpace(req.TimezoneName),
		Currency:     currency,
		Status:       domain.CompanyStatusActive,
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, company); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSlugTaken
		}
		return nil, err
	}

	s.log.Info("company created",
		zap.String("company_id", company.ID.String()),
		zap.String("slug", company.Slug),
	)

	return toResponse(company), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.CompanyResponse, error) {
	companyID, err := parseCompanyID(id)
	if err != nil {
		return nil, err
	}

	company, err := s.repo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return toResponse(*company), nil
}

func (s *service) List(ctx context.Context) ([]domain.CompanyResponse, error) {
	companies, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.CompanyResponse, 0, len(companies))
	for _, company := range companies {
		resp = append(resp, *toResponse(company))
	}
	return resp, nil
}

func (s *service) Update(ctx context.Context, id string, req domain.UpdateCompanyRequest) (*domain.CompanyResponse, error) {
	companyID, err := parseCompanyID(id)
	if err != nil {
		return nil, err
	}

	company, err := s.repo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		company.Name = name
	}
	if req.SupportEmail != nil {
		company.SupportEmail = strings.TrimSpace(*req.SupportEmail)
	}
	if req.Phone != nil {
		company.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.TimezoneName != nil {
		company.TimezoneName = strings.TrimSpace(*req.TimezoneName)
	}
	if req.Status != nil {
		status := domain.CompanyStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if status != domain.CompanyStatusActive && status != domain.CompanyStatusInactive {
			return nil, domain.ErrInvalidStatus
		}
		company.Status = status
	}
	company.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, *company); err != nil {
		return nil, err
	}
	return toResponse(*company), nil
}

func parseCompanyID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrInvalidCompany
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidCompany
	}
	return id, nil
}

func toResponse(company domain.Company) *domain.CompanyResponse {
	return &domain.CompanyResponse{
		ID:           company.ID.String(),
		Name:         company.Name,
		Slug:         company.Slug,
		SupportEmail: company.SupportEmail,
		Phone:        company.Phone,
		CountryCode:  company.CountryCode,
		TimezoneName: company.TimezoneName,
		Currency:     company.Currency,
		Status:       string(company.Status),
	}
}
