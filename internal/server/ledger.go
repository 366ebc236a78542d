package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
)

// GetCustomerBalance resolves the current balance from the customer's latest
// active transaction. The customer lookup runs first so a cross-tenant id is
// a 404 rather than a zero balance.
func (s *Server) GetCustomerBalance(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	customer, err := s.customerSvc.GetByID(c.Request.Context(), customerdomain.GetCustomerRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.CurrentBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"customer_id":     customer.ID.String(),
		"current_balance": balance,
	}})
}

func (s *Server) ListCustomerTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		IncludeVoided string `form:"include_voided"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	includeVoided, err := parseOptionalBool(query.IncludeVoided)
	if err != nil {
		AbortWithError(c, newValidationError("include_voided", "invalid_include_voided", "invalid include_voided"))
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		CustomerID:    strings.TrimSpace(c.Param("id")),
		PageToken:     query.PageToken,
		PageSize:      query.PageSize,
		IncludeVoided: includeVoided,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
