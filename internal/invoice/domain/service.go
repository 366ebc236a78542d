package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/netbill/pkg/db/pagination"
)

type ListInvoiceRequest struct {
	PageToken  string
	PageSize   int
	CustomerID string
	Type       string
	Status     string
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
}

var (
	ErrInvalidCompany   = errors.New("invalid_company")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrNotFound         = errors.New("not_found")
)
