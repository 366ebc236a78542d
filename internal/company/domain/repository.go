package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, company Company) error
	GetByID(ctx context.Context, id snowflake.ID) (*Company, error)
	List(ctx context.Context) ([]Company, error)
	Update(ctx context.Context, company Company) error
}
