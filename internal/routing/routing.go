// Package routing maps inbound recipient addresses to workshop routing
// secrets. Addresses look like "[prefix-]workshop-<secret>@<domain>"; the
// prefix lets organizers hand out readable aliases for the same workshop.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/workshop-mailer/internal/domain"
)

var routingPattern = regexp.MustCompile(`(?i)^(?:.*-)?workshop-([^@]+)@(.+)$`)

// Resolver extracts secrets from routing addresses. A non-empty Domain
// restricts accepted addresses to that mail domain.
type Resolver struct {
	Domain string
}

// NewResolver creates a resolver bound to the given routing domain.
func NewResolver(domainName string) *Resolver {
	return &Resolver{Domain: strings.ToLower(strings.TrimSpace(domainName))}
}

// Secret extracts the routing secret from address. The secret is returned
// lower-cased because the match is case-insensitive end to end.
func (r *Resolver) Secret(address string) (string, error) {
	address = strings.TrimSpace(address)
	// Mailgun may hand us "Display Name <addr>".
	if i := strings.LastIndex(address, "<"); i >= 0 && strings.HasSuffix(address, ">") {
		address = address[i+1 : len(address)-1]
	}
	m := routingPattern.FindStringSubmatch(address)
	if m == nil {
		return "", fmt.Errorf("%q does not match [prefix-]workshop-<secret>@<domain>: %w", address, domain.ErrMalformedRoutingAddress)
	}
	if r.Domain != "" && strings.ToLower(m[2]) != r.Domain {
		return "", fmt.Errorf("%q is not addressed to %s: %w", address, r.Domain, domain.ErrMalformedRoutingAddress)
	}
	return strings.ToLower(m[1]), nil
}

// Address builds the canonical routing address for a workshop secret.
func (r *Resolver) Address(secret string) string {
	return fmt.Sprintf("workshop-%s@%s", secret, r.Domain)
}

// ParseSecret is Secret without a domain restriction.
func ParseSecret(address string) (string, error) {
	return (&Resolver{}).Secret(address)
}
