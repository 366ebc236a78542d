package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/netbill/pkg/db/pagination"
)

type ListCustomerRequest struct {
	PageToken       string
	PageSize        int
	Name            string
	Email           string
	AssignedAgentID string
	Status          string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

type ListCustomerFilter struct {
	Name            string
	Email           string
	AssignedAgentID string
	Status          string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	AssignedAgentID string `json:"assigned_agent_id"`
}

type UpdateCustomerRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	Address         *string `json:"address"`
	AssignedAgentID *string `json:"assigned_agent_id"`
	Status          *string `json:"status"`
}

type GetCustomerRequest struct {
	ID string
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(context.Context, GetCustomerRequest) (Customer, error)
	Update(ctx context.Context, id string, req UpdateCustomerRequest) (Customer, error)
}

var (
	ErrInvalidCompany = errors.New("invalid_company")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrInvalidAgent   = errors.New("invalid_agent")
	ErrInvalidStatus  = errors.New("invalid_status")
	ErrInvalidID      = errors.New("invalid_id")
	ErrNotFound       = errors.New("not_found")
)
