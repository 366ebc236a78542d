package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/internal/payment/domain"
	"github.com/smallbiznis/netbill/pkg/db/option"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, company_id, customer_id, transaction_id, payment_number,
			invoice_id, amount, discount, method, collected_by, collected_at,
			comments, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.CompanyID,
		payment.CustomerID,
		payment.TransactionID,
		payment.PaymentNumber,
		payment.InvoiceID,
		payment.Amount,
		payment.Discount,
		payment.Method,
		payment.CollectedBy,
		payment.CollectedAt,
		payment.Comments,
		payment.Status,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, tx *gorm.DB, companyID, paymentID snowflake.ID) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ?
		 WHERE company_id = ? AND id = ? AND status = ?`,
		domain.PaymentStatusVoided,
		time.Now().UTC(),
		companyID,
		paymentID,
		domain.PaymentStatusActive,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE company_id = ? AND id = ?`,
		companyID,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, companyID, transactionID snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE company_id = ? AND transaction_id = ?`,
		companyID,
		transactionID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, companyID snowflake.ID, filter domain.ListPaymentRequest, page pagination.Pagination) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("company_id = ?", companyID)
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	if method := strings.TrimSpace(filter.Method); method != "" {
		stmt = stmt.Where("method = ?", method)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
