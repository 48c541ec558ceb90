// Package smtp submits outbound mail to a configured relay. The relay
// settings live in the settings store and are fetched per send, so
// changes apply without a restart.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/gratulo/internal/dkim"
	"github.com/foxzi/gratulo/internal/queue"
)

// Encryption modes for the relay connection.
const (
	EncryptionTLS      = "tls"      // implicit TLS, usually port 465
	EncryptionStartTLS = "starttls" // STARTTLS upgrade, usually port 587
	EncryptionNone     = "none"
)

// Settings holds the relay configuration for outbound mail.
type Settings struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string
	From       string
	FromName   string
}

// Addr returns the host:port to dial, applying the default port for the
// configured encryption mode.
func (s *Settings) Addr() string {
	port := s.Port
	if port == 0 {
		switch s.Encryption {
		case EncryptionTLS:
			port = 465
		case EncryptionStartTLS:
			port = 587
		default:
			port = 25
		}
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// SettingsProvider yields the current relay settings.
type SettingsProvider interface {
	SMTPSettings(ctx context.Context) (*Settings, error)
}

// Client submits messages to the configured SMTP relay. It implements
// queue.Sender.
type Client struct {
	provider SettingsProvider
	hostname string
	timeout  time.Duration
	logger   *slog.Logger
	signer   *dkim.Signer
}

// NewClient creates a relay client. hostname is used for HELO and
// Message-IDs.
func NewClient(provider SettingsProvider, hostname string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		provider: provider,
		hostname: hostname,
		timeout:  timeout,
		logger:   logger,
	}
}

// SetDKIMSigner sets the signer applied to outgoing messages.
func (c *Client) SetDKIMSigner(signer *dkim.Signer) {
	c.signer = signer
}

// Configured reports whether the relay settings are complete enough to
// attempt a delivery. The queue drainer consults this before a pass.
func (c *Client) Configured(ctx context.Context) bool {
	settings, err := c.provider.SMTPSettings(ctx)
	return err == nil && settings != nil && settings.Host != "" && settings.From != ""
}

// Send renders and submits one queued message.
func (c *Client) Send(ctx context.Context, msg *queue.Message) error {
	settings, err := c.provider.SMTPSettings(ctx)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to load smtp settings: %v", err),
		}
	}
	if settings == nil || settings.Host == "" || settings.From == "" {
		return &DeliveryError{
			Temporary: false,
			Message:   "smtp relay not configured",
		}
	}

	data, err := BuildMessage(&Mail{
		From:     settings.From,
		FromName: settings.FromName,
		To:       msg.To,
		Subject:  msg.Subject,
		HTML:     msg.Body,
	}, c.hostname)
	if err != nil {
		return &DeliveryError{Temporary: false, Message: err.Error()}
	}

	if c.signer != nil {
		signed, err := c.signer.Sign(data)
		if err != nil {
			c.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", c.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	return c.submit(ctx, settings, msg.To, data)
}

// submit runs one SMTP transaction against the relay.
func (c *Client) submit(ctx context.Context, settings *Settings, to string, data []byte) error {
	addr := settings.Addr()

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	tlsConfig := &tls.Config{
		ServerName: settings.Host,
		MinVersion: tls.VersionTLS12,
	}
	if settings.Encryption == EncryptionTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	// STARTTLS is mandatory when configured; silently falling back to
	// plaintext would leak credentials.
	var client *smtp.Client
	if settings.Encryption == EncryptionStartTLS {
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return categorizeError(err, "STARTTLS")
		}
	} else {
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	if err := client.Hello(c.hostname); err != nil {
		return categorizeError(err, "HELO")
	}

	if settings.Username != "" {
		if err := c.auth(client, settings); err != nil {
			return err
		}
	}

	if err := client.Mail(settings.From, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(to, nil); err != nil {
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", to))
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()

	c.logger.Info("message submitted",
		"relay", addr,
		"to", queue.AnonymizeRecipient(to),
	)
	return nil
}

// auth picks a mechanism the relay offers.
func (c *Client) auth(client *smtp.Client, settings *Settings) error {
	var mech sasl.Client
	switch {
	case client.SupportsAuth(sasl.Plain):
		mech = sasl.NewPlainClient("", settings.Username, settings.Password)
	case client.SupportsAuth(sasl.Login):
		mech = sasl.NewLoginClient(settings.Username, settings.Password)
	default:
		return &DeliveryError{
			Temporary: false,
			Message:   "relay offers no supported auth mechanism",
		}
	}
	if err := client.Auth(mech); err != nil {
		return categorizeError(err, "AUTH")
	}
	return nil
}
