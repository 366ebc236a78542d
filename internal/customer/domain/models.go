package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "ACTIVE"
	CustomerStatusInactive CustomerStatus = "INACTIVE"
)

type Customer struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	CompanyID       snowflake.ID      `gorm:"not null;index" json:"company_id"`
	Name            string            `gorm:"not null" json:"name"`
	Email           string            `gorm:"not null" json:"email"`
	Phone           string            `gorm:"column:phone" json:"phone,omitempty"`
	Address         string            `gorm:"column:address" json:"address,omitempty"`
	AssignedAgentID *snowflake.ID     `gorm:"column:assigned_agent_id;index" json:"assigned_agent_id,omitempty"`
	Status          CustomerStatus    `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
