// Package trust decides whether an identity's email may sign in at all.
//
// An email is institutional when it belongs to the configured domain,
// whitelisted when an administrator has approved it, and untrusted
// otherwise. Untrusted users may file an access request for approval.
package trust

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Verdict is the outcome of classifying an email
type Verdict string

const (
	Institutional Verdict = "institutional"
	Whitelisted   Verdict = "whitelisted"
	Untrusted     Verdict = "untrusted"
)

// Bypass reports whether the identity skips login risk blocking
func (v Verdict) Bypass() bool {
	return v == Institutional || v == Whitelisted
}

// Institution maps the verdict to the user institution classification
func (v Verdict) Institution() string {
	switch v {
	case Institutional:
		return "institutional"
	case Whitelisted:
		return "external"
	default:
		return "none"
	}
}

// WhitelistLookup answers whether an email has been approved
type WhitelistLookup interface {
	IsWhitelisted(ctx context.Context, email string) (bool, error)
}

// Evaluator classifies emails against the institutional domain and the
// whitelist
type Evaluator struct {
	domain string
	lookup WhitelistLookup
	cache  *lru.LRU[string, struct{}]
}

// NewEvaluator creates an evaluator. Only positive whitelist answers are
// cached, so a fresh approval applies on the next login.
func NewEvaluator(domain string, lookup WhitelistLookup, cacheSize int, cacheTTL time.Duration) *Evaluator {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Evaluator{
		domain: normalizeDomain(domain),
		lookup: lookup,
		cache:  lru.NewLRU[string, struct{}](cacheSize, nil, cacheTTL),
	}
}

// Domain returns the institutional domain
func (e *Evaluator) Domain() string {
	return e.domain
}

// Classify returns the verdict for email. hint is the provider's hosted
// domain claim and may be empty. A whitelist lookup error returns Untrusted
// together with the error.
func (e *Evaluator) Classify(ctx context.Context, email, hint string) (Verdict, error) {
	email = NormalizeEmail(email)

	if e.IsInstitutional(email, hint) {
		return Institutional, nil
	}

	if _, ok := e.cache.Get(email); ok {
		return Whitelisted, nil
	}
	if e.lookup == nil {
		return Untrusted, nil
	}

	ok, err := e.lookup.IsWhitelisted(ctx, email)
	if err != nil {
		return Untrusted, fmt.Errorf("whitelist lookup: %w", err)
	}
	if !ok {
		return Untrusted, nil
	}
	e.cache.Add(email, struct{}{})
	return Whitelisted, nil
}

// IsInstitutional matches the hint when present, otherwise the email's
// domain or any subdomain of it
func (e *Evaluator) IsInstitutional(email, hint string) bool {
	if e.domain == "" {
		return false
	}
	if hint = normalizeDomain(hint); hint != "" {
		return hint == e.domain
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	host := strings.ToLower(email[at+1:])
	return host == e.domain || strings.HasSuffix(host, "."+e.domain)
}

// NormalizeEmail lower-cases and trims an email
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
}
