// Package domain contains persistence models for the company service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CompanyStatus string

const (
	CompanyStatusActive   CompanyStatus = "ACTIVE"
	CompanyStatusInactive CompanyStatus = "INACTIVE"
)

// Company represents a tenant. Every billing record hangs off a company.
type Company struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	Slug         string            `gorm:"type:text;not null;uniqueIndex:ux_companies_slug" json:"slug"`
	SupportEmail string            `gorm:"type:text;column:support_email" json:"support_email"`
	Phone        string            `gorm:"type:text" json:"phone"`
	CountryCode  string            `gorm:"column:country_code" json:"country_code"`
	TimezoneName string            `gorm:"column:timezone_name" json:"timezone_name"`
	Currency     string            `gorm:"type:text;not null;default:'INR'" json:"currency"`
	Status       CompanyStatus     `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	IsDefault    bool              `gorm:"column:is_default" json:"is_default"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Company) TableName() string { return "companies" }
