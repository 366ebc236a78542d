package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/netbill/internal/billing/domain"
)

// GenerateBill writes an ad-hoc itemized bill against the customer chain,
// optionally opening subscriptions for the billed plans and settling the
// total in the same unit.
func (s *Server) GenerateBill(c *gin.Context) {
	var req billingdomain.GenerateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CustomerID = strings.TrimSpace(c.Param("id"))

	resp, err := s.billingSvc.GenerateBill(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddOnCharge(c *gin.Context) {
	var req billingdomain.AddOnChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CustomerID = strings.TrimSpace(c.Param("id"))
	req.Name = strings.TrimSpace(req.Name)

	resp, err := s.billingSvc.AddOnCharge(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AdjustBalance(c *gin.Context) {
	var req billingdomain.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CustomerID = strings.TrimSpace(c.Param("id"))

	resp, err := s.billingSvc.AdjustBalance(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// DeleteTransaction voids the chain-latest transaction together with its
// invoice or payment document.
func (s *Server) DeleteTransaction(c *gin.Context) {
	resp, err := s.billingSvc.DeleteTransaction(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
