package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// CompanyKey is the request context key for the active company (tenant) ID.
type CompanyKey struct{}

// UserKey is the request context key for the acting user ID.
type UserKey struct{}

// WithCompany stores the company ID in the context.
func WithCompany(ctx context.Context, companyID snowflake.ID) context.Context {
	return context.WithValue(ctx, CompanyKey{}, companyID)
}

// WithUser stores the acting user ID in the context.
func WithUser(ctx context.Context, userID snowflake.ID) context.Context {
	return context.WithValue(ctx, UserKey{}, userID)
}

// CompanyID returns the company ID from context, if set.
func CompanyID(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	return idFromValue(ctx.Value(CompanyKey{}))
}

// UserID returns the acting user ID from context, if set.
func UserID(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	return idFromValue(ctx.Value(UserKey{}))
}

func idFromValue(value any) (snowflake.ID, bool) {
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
