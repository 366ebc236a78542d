package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]Plan, error)
}
