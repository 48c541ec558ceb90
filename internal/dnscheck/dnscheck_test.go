package dnscheck

import (
	"context"
	"net"
	"strings"
	"testing"
)

// stubResolver serves canned DNS answers keyed by lookup name.
type stubResolver struct {
	mx  map[string][]*net.MX
	txt map[string][]string
}

func (s *stubResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	records, ok := s.mx[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

func (s *stubResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	records, ok := s.txt[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid simple", "example.com", false},
		{"valid subdomain", "sub.example.com", false},
		{"valid with dash", "my-domain.com", false},
		{"valid with numbers", "123.example.com", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 254)), true},
		{"invalid chars", "example!.com", true},
		{"starts with dash", "-example.com", true},
		{"ends with dash", "example-.com", true},
		{"double dot", "example..com", true},
		{"path injection", "../etc/passwd", true},
		{"null byte", "example\x00.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomain(%q) error = %v, wantErr %v", tt.domain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSelector(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantErr  bool
	}{
		{"valid simple", "default", false},
		{"valid with numbers", "key2024", false},
		{"valid with dash", "dkim-key", false},
		{"empty (uses default)", "", false},
		{"too long", string(make([]byte, 64)), true},
		{"invalid chars", "selector!", true},
		{"starts with dash", "-selector", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSelector(tt.selector)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSelector(%q) error = %v, wantErr %v", tt.selector, err, tt.wantErr)
			}
		})
	}
}

func TestCheckFullReport(t *testing.T) {
	resolver := &stubResolver{
		mx: map[string][]*net.MX{
			"verein.example": {{Host: "mx1.verein.example.", Pref: 10}},
		},
		txt: map[string][]string{
			"verein.example":                 {"v=spf1 include:relay.example -all"},
			"mail._domainkey.verein.example": {"v=DKIM1; k=rsa; ", "p=MIIBIjANBgkq"},
			"_dmarc.verein.example":          {"v=DMARC1; p=quarantine; rua=mailto:dmarc@verein.example"},
		},
	}

	checker := NewChecker(resolver)

	report, err := checker.Check(context.Background(), "verein.example", Options{Selector: "mail"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	if len(report.Results) != 4 {
		t.Fatalf("got %d results, want 4", len(report.Results))
	}

	if report.Summary.OK != 4 {
		t.Errorf("Summary.OK = %d, want 4", report.Summary.OK)
	}
	if report.Summary.Errors != 0 || report.Summary.NotFound != 0 {
		t.Errorf("unexpected failures in summary: %+v", report.Summary)
	}

	// MX value should list host and priority
	if !strings.Contains(report.Results[0].Value, "mx1.verein.example") {
		t.Errorf("MX value = %q, want host in it", report.Results[0].Value)
	}
}

func TestCheckInvalidDomain(t *testing.T) {
	checker := NewChecker(&stubResolver{})

	if _, err := checker.Check(context.Background(), "bad domain!", Options{}); err == nil {
		t.Error("expected error for invalid domain")
	}
	if _, err := checker.Check(context.Background(), "example.com", Options{Selector: "-bad"}); err == nil {
		t.Error("expected error for invalid selector")
	}
}

func TestCheckMX(t *testing.T) {
	ctx := context.Background()

	t.Run("records found", func(t *testing.T) {
		checker := NewChecker(&stubResolver{mx: map[string][]*net.MX{
			"example.com": {{Host: "mx.example.com.", Pref: 10}, {Host: "mx2.example.com.", Pref: 20}},
		}})

		result := checker.CheckMX(ctx, "example.com")
		if result.Status != StatusOK {
			t.Errorf("Status = %q, want %q", result.Status, StatusOK)
		}
		if !strings.Contains(result.Message, "2 MX record(s)") {
			t.Errorf("Message = %q", result.Message)
		}
	})

	t.Run("no records", func(t *testing.T) {
		checker := NewChecker(&stubResolver{})

		result := checker.CheckMX(ctx, "example.com")
		if result.Status != StatusNotFound {
			t.Errorf("Status = %q, want %q", result.Status, StatusNotFound)
		}
	})
}

func TestCheckSPF(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		txt        []string
		wantStatus string
		wantInMsg  string
	}{
		{"strict policy", []string{"v=spf1 include:relay.example -all"}, StatusOK, "-all"},
		{"soft fail", []string{"v=spf1 include:relay.example ~all"}, StatusOK, "~all"},
		{"open policy", []string{"v=spf1 +all"}, StatusWarning, "+all"},
		{"unrelated txt only", []string{"google-site-verification=abc"}, StatusNotFound, "SMTP relay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(&stubResolver{txt: map[string][]string{"example.com": tt.txt}})

			result := checker.CheckSPF(ctx, "example.com")
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", result.Status, tt.wantStatus)
			}
			if !strings.Contains(result.Message, tt.wantInMsg) {
				t.Errorf("Message = %q, want %q in it", result.Message, tt.wantInMsg)
			}
		})
	}
}

func TestCheckDKIM(t *testing.T) {
	ctx := context.Background()

	t.Run("split record joined", func(t *testing.T) {
		checker := NewChecker(&stubResolver{txt: map[string][]string{
			"s1._domainkey.example.com": {"v=DKIM1; k=rsa; ", "p=MIIBIjANBgkq"},
		}})

		result := checker.CheckDKIM(ctx, "example.com", "s1")
		if result.Status != StatusOK {
			t.Errorf("Status = %q, want %q", result.Status, StatusOK)
		}
		if !strings.Contains(result.Message, "RSA") {
			t.Errorf("Message = %q, want RSA mentioned", result.Message)
		}
	})

	t.Run("missing public key", func(t *testing.T) {
		checker := NewChecker(&stubResolver{txt: map[string][]string{
			"s1._domainkey.example.com": {"v=DKIM1; k=rsa"},
		}})

		result := checker.CheckDKIM(ctx, "example.com", "s1")
		if result.Status != StatusWarning {
			t.Errorf("Status = %q, want %q", result.Status, StatusWarning)
		}
	})

	t.Run("no record", func(t *testing.T) {
		checker := NewChecker(&stubResolver{})

		result := checker.CheckDKIM(ctx, "example.com", "s1")
		if result.Status != StatusNotFound {
			t.Errorf("Status = %q, want %q", result.Status, StatusNotFound)
		}
	})
}

func TestCheckDMARC(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		txt        []string
		wantStatus string
	}{
		{"reject", []string{"v=DMARC1; p=reject"}, StatusOK},
		{"quarantine", []string{"v=DMARC1; p=quarantine"}, StatusOK},
		{"none is monitoring only", []string{"v=DMARC1; p=none"}, StatusWarning},
		{"garbage txt", []string{"hello world"}, StatusWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(&stubResolver{txt: map[string][]string{"_dmarc.example.com": tt.txt}})

			result := checker.CheckDMARC(ctx, "example.com")
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", result.Status, tt.wantStatus)
			}
		})
	}

	t.Run("no record", func(t *testing.T) {
		checker := NewChecker(&stubResolver{})

		result := checker.CheckDMARC(ctx, "example.com")
		if result.Status != StatusNotFound {
			t.Errorf("Status = %q, want %q", result.Status, StatusNotFound)
		}
	})
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 100); got != "short" {
		t.Errorf("truncateString = %q, want unchanged", got)
	}

	long := strings.Repeat("x", 150)
	got := truncateString(long, 100)
	if len(got) != 100 {
		t.Errorf("len = %d, want 100", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated string should end with ellipsis, got %q", got[90:])
	}
}
