package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	companydomain "github.com/smallbiznis/netbill/internal/company/domain"
	"gorm.io/gorm"
)

const (
	defaultCompanyName = "Main"
	defaultCompanySlug = "main"
)

// EnsureDefaultCompany seeds the default tenant so a fresh install is usable
// without a manual company create.
func EnsureDefaultCompany(db *gorm.DB) error {
	return ensure(db, func(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
		_, err := ensureCompanyTx(ctx, tx, node.Generate())
		return err
	})
}

// EnsureDefaultCompanyWithID seeds the default tenant under a fixed ID,
// letting operators pin the tenant ID across environments.
func EnsureDefaultCompanyWithID(db *gorm.DB, companyID int64) error {
	if companyID == 0 {
		return errors.New("seed company id must not be zero")
	}
	return ensure(db, func(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
		_, err := ensureCompanyTx(ctx, tx, snowflake.ID(companyID))
		return err
	})
}

func ensure(db *gorm.DB, fn func(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx, node)
	})
}

func ensureCompanyTx(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (companydomain.Company, error) {
	var company companydomain.Company
	err := tx.WithContext(ctx).Where("slug = ?", defaultCompanySlug).First(&company).Error
	if err == nil {
		return company, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return company, err
	}

	company = companydomain.Company{
		ID:        companyID,
		Name:      defaultCompanyName,
		Slug:      defaultCompanySlug,
		Currency:  "INR",
		Status:    companydomain.CompanyStatusActive,
		IsDefault: true,
	}
	if err := tx.WithContext(ctx).Create(&company).Error; err != nil {
		return company, err
	}
	return company, nil
}
