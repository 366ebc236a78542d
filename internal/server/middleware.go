package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/netbill/internal/observability/context"
	"github.com/smallbiznis/netbill/internal/tenantctx"
)

const (
	headerCompanyID = "X-Company-ID"
	headerUserID    = "X-User-ID"
)

// TenantContext resolves the active company from the upstream-auth headers
// and stores it on the request context. Requests without a company header
// fall back to the configured default tenant.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		companyID := snowflake.ID(s.cfg.DefaultCompanyID)
		if raw := strings.TrimSpace(c.GetHeader(headerCompanyID)); raw != "" {
			parsed, err := snowflake.ParseString(raw)
			if err != nil || parsed == 0 {
				AbortWithError(c, newValidationError("company_id", "invalid_company", "invalid company header"))
				return
			}
			companyID = parsed
		}
		if companyID != 0 {
			ctx = tenantctx.WithCompany(ctx, companyID)
			ctx = obscontext.WithCompanyID(ctx, companyID.String())
		}

		if raw := strings.TrimSpace(c.GetHeader(headerUserID)); raw != "" {
			if parsed, err := snowflake.ParseString(raw); err == nil && parsed != 0 {
				ctx = tenantctx.WithUser(ctx, parsed)
				ctx = obscontext.WithActorID(ctx, parsed.String())
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
