// Package email provides common email address helpers.
package email

import (
	"errors"
	"net/mail"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid email address")

// Validate checks that addr is a plain RFC 5322 address without a display
// name, the form stored in member records.
func Validate(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ErrInvalidAddress
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return ErrInvalidAddress
	}
	if parsed.Address != addr {
		// Display names like "Max <max@example.org>" belong in the
		// member record, not the address field.
		return ErrInvalidAddress
	}
	return nil
}

// Normalize trims whitespace and lowercases the domain part. The local part
// is left untouched.
func Normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return addr
	}
	return addr[:at+1] + strings.ToLower(addr[at+1:])
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// ExtractDomainOrDefault extracts the domain part from an email address.
// Returns the provided default value if the email is invalid or domain is empty.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return defaultDomain
	}
	return domain
}
