package smtp

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mail carries the content of one outbound message.
type Mail struct {
	From     string // sender address
	FromName string // optional display name
	To       string
	Subject  string
	HTML     string
	Text     string // optional; derived from HTML when empty
}

// BuildMessage renders a complete RFC 5322 message with a
// multipart/alternative body holding a plain text and an HTML part.
// hostname lands in the Message-ID.
func BuildMessage(m *Mail, hostname string) ([]byte, error) {
	if m.From == "" {
		return nil, fmt.Errorf("message has no sender")
	}
	if m.To == "" {
		return nil, fmt.Errorf("message has no recipient")
	}
	if hostname == "" {
		hostname = "localhost"
	}

	text := m.Text
	if text == "" {
		text = htmlToText(m.HTML)
	}

	from := m.From
	if m.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.FromName), m.From)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []string{
		"From: " + from,
		"To: " + m.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", m.Subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		fmt.Sprintf("Message-ID: <%s@%s>", uuid.New().String(), hostname),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", mw.Boundary()),
	}
	for _, h := range headers {
		buf.WriteString(h)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	if err := writePart(mw, "text/plain; charset=utf-8", text); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=utf-8", m.HTML); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", contentType)
	hdr.Set("Content-Transfer-Encoding", "quoted-printable")

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("failed to create part: %w", err)
	}
	qw := quotedprintable.NewWriter(part)
	if _, err := qw.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to encode part: %w", err)
	}
	return qw.Close()
}

var (
	breakPattern = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>|</h[1-6]>|</tr>`)
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
)

// htmlToText derives a plain text alternative from an HTML body: block
// closers become line breaks, remaining tags are stripped.
func htmlToText(s string) string {
	s = breakPattern.ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
