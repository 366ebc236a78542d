package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/netbill/internal/audit/domain"
	billingdomain "github.com/smallbiznis/netbill/internal/billing/domain"
	companydomain "github.com/smallbiznis/netbill/internal/company/domain"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/netbill/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/netbill/internal/payment/domain"
	plandomain "github.com/smallbiznis/netbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/netbill/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, billingdomain.ErrLockContention),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// isValidationError groups invalid-input and conflict-class errors; both map
// to 400 so clients treat them as non-retryable request problems.
func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isCompanyValidationError(err),
		isCustomerValidationError(err),
		isPlanValidationError(err),
		isSubscriptionValidationError(err),
		isLedgerValidationError(err),
		isInvoiceValidationError(err),
		isPaymentValidationError(err),
		isBillingValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, companydomain.ErrCompanyNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, billingdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isCompanyValidationError(err error) bool {
	switch err {
	case companydomain.ErrInvalidName,
		companydomain.ErrInvalidCompany,
		companydomain.ErrInvalidStatus,
		companydomain.ErrSlugTaken:
		return true
	default:
		return false
	}
}

func isCustomerValidationError(err error) bool {
	switch err {
	case customerdomain.ErrInvalidCompany,
		customerdomain.ErrInvalidName,
		customerdomain.ErrInvalidEmail,
		customerdomain.ErrInvalidAgent,
		customerdomain.ErrInvalidStatus,
		customerdomain.ErrInvalidID:
		return true
	default:
		return false
	}
}

func isPlanValidationError(err error) bool {
	switch err {
	case plandomain.ErrInvalidCompany,
		plandomain.ErrInvalidName,
		plandomain.ErrInvalidPrice,
		plandomain.ErrInvalidID:
		return true
	default:
		return false
	}
}

func isSubscriptionValidationError(err error) bool {
	switch err {
	case subscriptiondomain.ErrInvalidCompany,
		subscriptiondomain.ErrInvalidCustomer,
		subscriptiondomain.ErrInvalidPlan,
		subscriptiondomain.ErrInvalidPrice,
		subscriptiondomain.ErrInvalidBillingCycle,
		subscriptiondomain.ErrInvalidStartDate,
		subscriptiondomain.ErrInvalidID:
		return true
	default:
		return false
	}
}

func isLedgerValidationError(err error) bool {
	switch err {
	case ledgerdomain.ErrInvalidCompany,
		ledgerdomain.ErrInvalidCustomer,
		ledgerdomain.ErrInvalidAmount,
		ledgerdomain.ErrInvalidType,
		ledgerdomain.ErrInvalidDirection,
		ledgerdomain.ErrInvalidReference,
		ledgerdomain.ErrInvalidID,
		ledgerdomain.ErrInvalidPageToken,
		ledgerdomain.ErrNotLatestTransaction,
		ledgerdomain.ErrAlreadyVoided,
		ledgerdomain.ErrBackdatedTransaction:
		return true
	default:
		return false
	}
}

func isInvoiceValidationError(err error) bool {
	switch err {
	case invoicedomain.ErrInvalidCompany,
		invoicedomain.ErrInvalidCustomer,
		invoicedomain.ErrInvalidID,
		invoicedomain.ErrInvalidPageToken:
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	switch err {
	case paymentdomain.ErrInvalidCompany,
		paymentdomain.ErrInvalidCustomer,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidDiscount,
		paymentdomain.ErrInvalidMethod,
		paymentdomain.ErrInvalidInvoice,
		paymentdomain.ErrInvalidCollectedAt,
		paymentdomain.ErrInvalidID,
		paymentdomain.ErrInvalidPageToken,
		paymentdomain.ErrAlreadyVoided:
		return true
	default:
		return false
	}
}

func isBillingValidationError(err error) bool {
	switch err {
	case billingdomain.ErrInvalidCompany,
		billingdomain.ErrInvalidCustomer,
		billingdomain.ErrInvalidSubscription,
		billingdomain.ErrSubscriptionInactive,
		billingdomain.ErrInvalidItems,
		billingdomain.ErrInvalidAmount,
		billingdomain.ErrInvalidPeriod,
		billingdomain.ErrInvalidPlan,
		billingdomain.ErrInvalidMethod,
		billingdomain.ErrInvalidID,
		billingdomain.ErrZeroAdjustment:
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch err {
	case auditdomain.ErrInvalidCompany,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		auditdomain.ErrInvalidAction:
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
