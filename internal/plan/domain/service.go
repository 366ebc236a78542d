package domain

import (
	"context"
	"errors"
)

type CreatePlanRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	MonthlyPrice int64  `json:"monthly_price"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	GetByID(ctx context.Context, id string) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
}

var (
	ErrInvalidCompany = errors.New("invalid_company")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidPrice   = errors.New("invalid_price")
	ErrInvalidID      = errors.New("invalid_id")
	ErrNotFound       = errors.New("not_found")
)
