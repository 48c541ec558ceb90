package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/foxzi/gratulo/internal/queue"
)

type staticSettings struct {
	settings *Settings
	err      error
}

func (s *staticSettings) SMTPSettings(ctx context.Context) (*Settings, error) {
	return s.settings, s.err
}

func smtpTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient(t *testing.T) {
	provider := &staticSettings{}

	// Test with default timeout
	client := NewClient(provider, "mail.example.com", 0, smtpTestLogger())
	if client.timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", client.timeout)
	}
	if client.hostname != "mail.example.com" {
		t.Errorf("expected hostname mail.example.com, got %s", client.hostname)
	}

	// Test with custom timeout
	client = NewClient(provider, "mail.example.com", 60*time.Second, smtpTestLogger())
	if client.timeout != 60*time.Second {
		t.Errorf("expected timeout 60s, got %v", client.timeout)
	}
}

func TestSettingsAddr(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		expected string
	}{
		{"explicit port", Settings{Host: "mail.example.com", Port: 2525}, "mail.example.com:2525"},
		{"tls default", Settings{Host: "mail.example.com", Encryption: EncryptionTLS}, "mail.example.com:465"},
		{"starttls default", Settings{Host: "mail.example.com", Encryption: EncryptionStartTLS}, "mail.example.com:587"},
		{"plain default", Settings{Host: "mail.example.com", Encryption: EncryptionNone}, "mail.example.com:25"},
		{"empty encryption", Settings{Host: "mail.example.com"}, "mail.example.com:25"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.settings.Addr(); got != tc.expected {
				t.Errorf("Addr() = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestConfigured(t *testing.T) {
	tests := []struct {
		name     string
		provider SettingsProvider
		want     bool
	}{
		{"complete settings", &staticSettings{settings: &Settings{Host: "mail.example.com", From: "noreply@example.com"}}, true},
		{"no settings stored", &staticSettings{}, false},
		{"missing host", &staticSettings{settings: &Settings{From: "noreply@example.com"}}, false},
		{"missing from", &staticSettings{settings: &Settings{Host: "mail.example.com"}}, false},
		{"settings store unavailable", &staticSettings{err: errors.New("db locked")}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(tc.provider, "mail.example.com", time.Second, smtpTestLogger())
			if got := client.Configured(context.Background()); got != tc.want {
				t.Errorf("Configured() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSendWithoutRelayConfigured(t *testing.T) {
	msg := &queue.Message{To: "user@example.com", Subject: "test", Body: "<p>hi</p>"}

	tests := []struct {
		name     string
		provider SettingsProvider
		wantTemp bool
	}{
		{
			name:     "no settings stored",
			provider: &staticSettings{},
			wantTemp: false,
		},
		{
			name:     "settings without host",
			provider: &staticSettings{settings: &Settings{From: "noreply@example.com"}},
			wantTemp: false,
		},
		{
			name:     "settings store unavailable",
			provider: &staticSettings{err: errors.New("db locked")},
			wantTemp: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(tc.provider, "mail.example.com", time.Second, smtpTestLogger())
			err := client.Send(context.Background(), msg)
			if err == nil {
				t.Fatal("Send() expected error")
			}
			if IsTemporaryError(err) != tc.wantTemp {
				t.Errorf("IsTemporaryError() = %v, want %v", IsTemporaryError(err), tc.wantTemp)
			}
		})
	}
}

func TestDeliveryError(t *testing.T) {
	// Test temporary error
	tempErr := &DeliveryError{
		Temporary: true,
		Message:   "Connection refused",
	}
	if tempErr.Error() != "Connection refused" {
		t.Errorf("expected 'Connection refused', got %s", tempErr.Error())
	}

	// Test permanent error
	permErr := &DeliveryError{
		Temporary: false,
		Message:   "User not found",
	}
	if permErr.Error() != "User not found" {
		t.Errorf("expected 'User not found', got %s", permErr.Error())
	}
}

func TestIsTemporaryError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "temporary delivery error",
			err:      &DeliveryError{Temporary: true, Message: "temp"},
			expected: true,
		},
		{
			name:     "permanent delivery error",
			err:      &DeliveryError{Temporary: false, Message: "perm"},
			expected: false,
		},
		{
			name:     "unknown error",
			err:      errors.New("unknown error"),
			expected: true, // Assume temporary for unknown
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := IsTemporaryError(tc.err)
			if result != tc.expected {
				t.Errorf("IsTemporaryError() = %v, want %v", result, tc.expected)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		stage         string
		wantTemporary bool
	}{
		{
			name:          "550 user not found",
			err:           errors.New("550 5.1.1 User not found"),
			stage:         "RCPT TO",
			wantTemporary: false,
		},
		{
			name:          "535 auth failed",
			err:           errors.New("535 5.7.8 Authentication credentials invalid"),
			stage:         "AUTH",
			wantTemporary: false,
		},
		{
			name:          "554 transaction failed",
			err:           errors.New("554 Transaction failed"),
			stage:         "DATA",
			wantTemporary: false,
		},
		{
			name:          "421 try again later",
			err:           errors.New("421 Service not available"),
			stage:         "HELO",
			wantTemporary: true,
		},
		{
			name:          "450 mailbox unavailable",
			err:           errors.New("450 Mailbox temporarily unavailable"),
			stage:         "RCPT TO",
			wantTemporary: true,
		},
		{
			name:          "connection timeout",
			err:           errors.New("i/o timeout"),
			stage:         "connection",
			wantTemporary: true,
		},
		{
			name:          "generic error",
			err:           errors.New("something went wrong"),
			stage:         "unknown",
			wantTemporary: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := categorizeError(tc.err, tc.stage)
			if result.Temporary != tc.wantTemporary {
				t.Errorf("categorizeError() temporary = %v, want %v", result.Temporary, tc.wantTemporary)
			}
			if result.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestCaptureSender(t *testing.T) {
	sender := NewCaptureSender(smtpTestLogger())

	msg := &queue.Message{ID: "cap-1", To: "user@example.com", Subject: "hello"}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := sender.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Messages() returned %d, want 1", len(msgs))
	}
	if msgs[0].ID != "cap-1" {
		t.Errorf("Messages()[0].ID = %s, want cap-1", msgs[0].ID)
	}
}
