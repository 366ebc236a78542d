package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateCompanyRequest) (*CompanyResponse, error)
	GetByID(ctx context.Context, id string) (*CompanyResponse, error)
	List(ctx context.Context) ([]CompanyResponse, error)
	Update(ctx context.Context, id string, req UpdateCompanyRequest) (*CompanyResponse, error)
}

type CreateCompanyRequest struct {
	Name         string `json:"name"`
	SupportEmail string `json:"support_email"`
	Phone        string `json:"phone"`
	CountryCode  string `json:"country_code"`
	TimezoneName string `json:"timezone_name"`
	Currency     string `json:"currency"`
}

type UpdateCompanyRequest struct {
	Name         *string `json:"name"`
	SupportEmail *string `json:"support_email"`
	Phone        *string `json:"phone"`
	TimezoneName *string `json:"timezone_name"`
	Status       *string `json:"status"`
}

type CompanyResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	SupportEmail string `json:"support_email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	TimezoneName string `json:"timezone_name,omitempty"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidCompany  = errors.New("invalid_company")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrCompanyNotFound = errors.New("company_not_found")
	ErrSlugTaken       = errors.New("slug_taken")
)
