// Package dnscheck verifies the DNS setup of the sender domain. Mail leaves
// through a relay, so deliverability depends on the domain publishing SPF,
// DKIM and DMARC records that cover it.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	ErrInvalidDomain = errors.New("invalid domain name")
)

// Check statuses.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > 253 {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is valid
func ValidateSelector(selector string) error {
	if selector == "" {
		return nil // Empty selector will use default
	}
	if len(selector) > 63 {
		return errors.New("selector too long")
	}
	// Selector follows same rules as domain label
	if !selectorRegex.MatchString(selector) {
		return errors.New("invalid selector format")
	}
	return nil
}

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  string `json:"status"` // ok, warning, error, not_found
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report contains all DNS check results for a domain
type Report struct {
	Domain  string        `json:"domain"`
	Results []CheckResult `json:"results"`
	Summary Summary       `json:"summary"`
}

// Summary contains check statistics
type Summary struct {
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	NotFound int `json:"not_found"`
}

// Options specifies which checks to perform. With all flags false every
// check runs.
type Options struct {
	MX       bool   `json:"mx"`
	SPF      bool   `json:"spf"`
	DKIM     bool   `json:"dkim"`
	DMARC    bool   `json:"dmarc"`
	Selector string `json:"selector"` // DKIM selector
}

// Resolver is the subset of net.Resolver the checks need.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Checker runs DNS record checks against a resolver.
type Checker struct {
	resolver Resolver
}

// NewChecker creates a checker. A nil resolver falls back to
// net.DefaultResolver.
func NewChecker(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// Check performs DNS checks for a domain
func (c *Checker) Check(ctx context.Context, domain string, opts Options) (*Report, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	if err := ValidateSelector(opts.Selector); err != nil {
		return nil, err
	}

	report := &Report{
		Domain:  domain,
		Results: make([]CheckResult, 0),
	}

	if opts.Selector == "" {
		opts.Selector = "default"
	}

	// If no specific checks requested, check all
	checkAll := !opts.MX && !opts.SPF && !opts.DKIM && !opts.DMARC

	if checkAll || opts.MX {
		report.Results = append(report.Results, c.CheckMX(ctx, domain))
	}

	if checkAll || opts.SPF {
		report.Results = append(report.Results, c.CheckSPF(ctx, domain))
	}

	if checkAll || opts.DKIM {
		report.Results = append(report.Results, c.CheckDKIM(ctx, domain, opts.Selector))
	}

	if checkAll || opts.DMARC {
		report.Results = append(report.Results, c.CheckDMARC(ctx, domain))
	}

	for _, r := range report.Results {
		switch r.Status {
		case StatusOK:
			report.Summary.OK++
		case StatusWarning:
			report.Summary.Warnings++
		case StatusError:
			report.Summary.Errors++
		case StatusNotFound:
			report.Summary.NotFound++
		}
	}

	return report, nil
}

// CheckMX checks MX records for a domain
func (c *Checker) CheckMX(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "MX Records"}

	mxRecords, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		if isNotFound(err) {
			result.Status = StatusNotFound
			result.Message = "No MX records found - replies and bounces cannot be received"
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	if len(mxRecords) == 0 {
		result.Status = StatusNotFound
		result.Message = "No MX records found - replies and bounces cannot be received"
		return result
	}

	var values []string
	for _, mx := range mxRecords {
		values = append(values, fmt.Sprintf("%s (priority %d)", mx.Host, mx.Pref))
	}
	result.Status = StatusOK
	result.Value = strings.Join(values, ", ")
	result.Message = fmt.Sprintf("%d MX record(s) found", len(mxRecords))

	return result
}

// CheckSPF checks the SPF record for a domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF Record"}

	txtRecords, err := c.resolver.LookupTXT(ctx, domain)
	if err != nil {
		if isNotFound(err) {
			result.Status = StatusNotFound
			result.Message = "No SPF record found - add one that covers your SMTP relay"
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	for _, txt := range txtRecords {
		if strings.HasPrefix(txt, "v=spf1") {
			result.Status = StatusOK
			result.Value = txt

			if strings.Contains(txt, "+all") {
				result.Status = StatusWarning
				result.Message = "SPF uses +all (allows any sender) - consider using ~all or -all"
			} else if strings.Contains(txt, "-all") {
				result.Message = "SPF configured with strict policy (-all)"
			} else if strings.Contains(txt, "~all") {
				result.Message = "SPF configured with soft fail (~all)"
			}

			return result
		}
	}

	result.Status = StatusNotFound
	result.Message = "No SPF record found - add one that covers your SMTP relay"
	return result
}

// CheckDKIM checks the DKIM record for a domain and selector
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector string) CheckResult {
	result := CheckResult{Type: fmt.Sprintf("DKIM Record (%s._domainkey)", selector)}

	dkimDomain := fmt.Sprintf("%s._domainkey.%s", selector, domain)

	txtRecords, err := c.resolver.LookupTXT(ctx, dkimDomain)
	if err != nil {
		if isNotFound(err) {
			result.Status = StatusNotFound
			result.Message = fmt.Sprintf("No DKIM record found for selector %q", selector)
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	// Long DKIM keys are published as several TXT strings
	fullRecord := strings.Join(txtRecords, "")

	if strings.Contains(fullRecord, "v=DKIM1") {
		result.Status = StatusOK
		result.Value = truncateString(fullRecord, 100)

		if strings.Contains(fullRecord, "k=rsa") {
			result.Message = "DKIM configured with RSA key"
		} else if strings.Contains(fullRecord, "k=ed25519") {
			result.Message = "DKIM configured with Ed25519 key"
		}

		if !strings.Contains(fullRecord, "p=") {
			result.Status = StatusWarning
			result.Message = "DKIM record missing public key (p=)"
		}

		return result
	}

	result.Status = StatusWarning
	result.Value = truncateString(fullRecord, 100)
	result.Message = "TXT record found but doesn't appear to be a valid DKIM record"
	return result
}

// CheckDMARC checks the DMARC record for a domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC Record"}

	dmarcDomain := "_dmarc." + domain

	txtRecords, err := c.resolver.LookupTXT(ctx, dmarcDomain)
	if err != nil {
		if isNotFound(err) {
			result.Status = StatusNotFound
			result.Message = "No DMARC record found (recommended to add)"
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	fullRecord := strings.Join(txtRecords, "")

	if strings.HasPrefix(fullRecord, "v=DMARC1") {
		result.Status = StatusOK
		result.Value = fullRecord

		if strings.Contains(fullRecord, "p=reject") {
			result.Message = "DMARC configured with reject policy (strict)"
		} else if strings.Contains(fullRecord, "p=quarantine") {
			result.Message = "DMARC configured with quarantine policy"
		} else if strings.Contains(fullRecord, "p=none") {
			result.Status = StatusWarning
			result.Message = "DMARC configured with none policy (monitoring only)"
		}

		return result
	}

	result.Status = StatusWarning
	result.Value = fullRecord
	result.Message = "TXT record found but doesn't appear to be a valid DMARC record"
	return result
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
