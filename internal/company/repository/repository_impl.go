package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/internal/company/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, company domain.Company) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO companies (id, name, slug, support_email, phone, country_code, timezone_name, currency, status, is_default, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		company.ID,
		company.Name,
		company.Slug,
		company.SupportEmail,
		company.Phone,
		company.CountryCode,
		company.TimezoneName,
		company.Currency,
		company.Status,
		company.IsDefault,
		company.Metadata,
		company.CreatedAt,
		company.UpdatedAt,
	).Error
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.Company, error) {
	var company domain.Company
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, err
	}
	return &company, nil
}

func (r *repository) List(ctx context.Context) ([]domain.Company, error) {
	var companies []domain.Company
	err := r.db.WithContext(ctx).
		Order("created_at asc").
		Find(&companies).Error
	if err != nil {
		return nil, err
	}
	return companies, nil
}

func (r *repository) Update(ctx context.Context, company domain.Company) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE companies
		 SET name = ?, support_email = ?, phone = ?, timezone_name = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		company.Name,
		company.SupportEmail,
		company.Phone,
		company.TimezoneName,
		company.Status,
		company.UpdatedAt,
		company.ID,
	).Error
}
