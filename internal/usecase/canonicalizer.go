package usecase

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/user/wiki-archiver/pkg/utils"
)

var (
	ErrInvalidURL     = errors.New("not a well-formed absolute URL")
	ErrOutOfScope     = errors.New("outside the crawl scope")
	ErrExcludedPrefix = errors.New("matches an excluded prefix")
)

// Canonicalizer turns raw links into comparable URL keys restricted to one site.
type Canonicalizer struct {
	scope   string
	blocked []string
}

// NewCanonicalizer builds a canonicalizer scoped to baseURL. Each exclude
// prefix is appended to the base URL, so "/Special:" blocks baseURL+"/Special:".
func NewCanonicalizer(baseURL string, excludePrefixes []string) (*Canonicalizer, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q: %w", baseURL, ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	scope := u.String()

	blocked := make([]string, 0, len(excludePrefixes))
	for _, p := range excludePrefixes {
		if p == "" {
			continue
		}
		// A trailing slash on the base and a leading one on the prefix collapse to one.
		if strings.HasSuffix(scope, "/") && strings.HasPrefix(p, "/") {
			p = p[1:]
		}
		blocked = append(blocked, scope+p)
	}
	return &Canonicalizer{scope: scope, blocked: blocked}, nil
}

// Scope returns the normalized base URL every canonical URL starts with.
func (c *Canonicalizer) Scope() string {
	return c.scope
}

// Canonicalize resolves rawLink against base, drops the fragment and applies
// the scope and prefix filters. It does no I/O.
func (c *Canonicalizer) Canonicalize(rawLink, base string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: base %q: %v", ErrInvalidURL, base, err)
	}
	resolved, err := utils.ToAbsoluteURL(baseURL, strings.TrimSpace(rawLink))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawLink)
	}
	resolved.Host = strings.ToLower(resolved.Host)

	canonical := resolved.String()
	if !strings.HasPrefix(canonical, c.scope) {
		return "", fmt.Errorf("%w: %s", ErrOutOfScope, canonical)
	}
	for _, p := range c.blocked {
		if strings.HasPrefix(canonical, p) {
			return "", fmt.Errorf("%w: %s", ErrExcludedPrefix, canonical)
		}
	}
	return canonical, nil
}

// resolveOnly resolves rawLink against base without applying any filter.
func (c *Canonicalizer) resolveOnly(rawLink, base string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	resolved, err := utils.ToAbsoluteURL(baseURL, strings.TrimSpace(rawLink))
	if err != nil {
		return "", err
	}
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", ErrInvalidURL
	}
	return resolved.String(), nil
}
