// Package acl provides permission-set enforcement for authenticated
// principals, independent of the token lifecycle.
package acl

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/token-auth/internal/problem"
)

// Enforce fails with a permission-missing problem unless required is a subset
// of claimed. The detail lists the permissions that are required but not
// claimed, sorted and deduplicated.
func Enforce(claimed, required []string) error {
	have := make(map[string]struct{}, len(claimed))
	for _, p := range claimed {
		have[p] = struct{}{}
	}

	seen := make(map[string]struct{})
	var missing []string
	for _, p := range required {
		if _, ok := have[p]; ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	return problem.NewPermissionMissing(
		"The request is missing the following permission(s): " + strings.Join(missing, ", "),
	)
}

// ClaimsFunc extracts the permissions a request's principal holds.
type ClaimsFunc func(c *fiber.Ctx) []string

// RequirePermissions guards a route with Enforce, reading claimed permissions
// through the supplied extractor. Install it after the authentication
// middleware.
func RequirePermissions(claims ClaimsFunc, required ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := Enforce(claims(c), required); err != nil {
			return err
		}
		return c.Next()
	}
}
