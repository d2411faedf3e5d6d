package db

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

// Project space names: lowercase letters, digits and dashes.
var domainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidDomain reports whether name is an acceptable project space name.
func ValidDomain(name string) bool {
	return domainPattern.MatchString(name)
}

// DomainMiddleware resolves the project space of a request and stores it on the
// request context.
func DomainMiddleware(defaultDomain string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			domain := extractDomain(c, defaultDomain)
			if !ValidDomain(domain) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid domain")
			}

			ctx := context.WithValue(c.Request().Context(), DomainKey, domain)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("domain", domain)
			return next(c)
		}
	}
}

func extractDomain(c echo.Context, defaultDomain string) string {
	// JWT claim (set by auth middleware) wins over the header
	if d, ok := c.Get("jwt_domain").(string); ok && d != "" {
		return d
	}
	if d := c.Request().Header.Get("X-Domain"); d != "" {
		return d
	}
	if d := c.QueryParam("domain"); d != "" {
		return d
	}
	return defaultDomain
}

// DomainFromContext retrieves the project space set by DomainMiddleware.
func DomainFromContext(ctx context.Context) string {
	d, _ := ctx.Value(DomainKey).(string)
	return d
}
