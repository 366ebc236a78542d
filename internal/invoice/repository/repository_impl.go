package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/internal/invoice/domain"
	"github.com/smallbiznis/netbill/pkg/db/option"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) NextInvoiceNumber(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (int64, error) {
	var row struct {
		Next int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(invoice_number), 0) + 1 AS next
		 FROM invoices WHERE company_id = ?`,
		companyID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Next, nil
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, company_id, customer_id, transaction_id, invoice_number, type,
			subscription_id, period_start, period_end, subtotal, tax_amount,
			discount, amount_total, prev_balance, due_at, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.CompanyID,
		invoice.CustomerID,
		invoice.TransactionID,
		invoice.InvoiceNumber,
		invoice.Type,
		invoice.SubscriptionID,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.Discount,
		invoice.AmountTotal,
		invoice.PrevBalance,
		invoice.DueAt,
		invoice.Status,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, tx *gorm.DB, items []domain.InvoiceItem) error {
	for _, item := range items {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (
				id, invoice_id, position, name, quantity, unit_price, amount, category, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.InvoiceID,
			item.Position,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.Amount,
			item.Category,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) Deactivate(ctx context.Context, tx *gorm.DB, companyID, invoiceID snowflake.ID) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ?
		 WHERE company_id = ? AND id = ? AND status = ?`,
		domain.InvoiceStatusVoided,
		time.Now().UTC(),
		companyID,
		invoiceID,
		domain.InvoiceStatusActive,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE company_id = ? AND id = ?`,
		companyID,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, companyID, transactionID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE company_id = ? AND transaction_id = ?`,
		companyID,
		transactionID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ItemsByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Model(&domain.InvoiceItem{}).
		Where("invoice_id = ?", invoiceID).
		Order("position asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, companyID snowflake.ID, filter domain.ListInvoiceRequest, page pagination.Pagination) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("company_id = ?", companyID)
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	if invoiceType := strings.TrimSpace(filter.Type); invoiceType != "" {
		stmt = stmt.Where("type = ?", invoiceType)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
