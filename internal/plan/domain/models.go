package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is a sellable price point. MonthlyPrice is stored in minor units.
type Plan struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID    snowflake.ID `gorm:"not null;index" json:"company_id"`
	Name         string       `gorm:"not null" json:"name"`
	Description  string       `gorm:"type:text" json:"description,omitempty"`
	MonthlyPrice int64        `gorm:"column:monthly_price;not null" json:"monthly_price"`
	IsActive     bool         `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }
