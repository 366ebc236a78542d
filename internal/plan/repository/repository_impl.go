package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, company_id, name, description, monthly_price, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.CompanyID,
		plan.Name,
		plan.Description,
		plan.MonthlyPrice,
		plan.IsActive,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, name, description, monthly_price, is_active, created_at, updated_at
		 FROM plans WHERE company_id = ? AND id = ?`,
		companyID,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).
		Model(&domain.Plan{}).
		Where("company_id = ?", companyID).
		Order("created_at asc, id asc").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
