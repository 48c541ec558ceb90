package models

// SMTP relay encryption modes.
const (
	EncryptionStartTLS = "starttls"
	EncryptionTLS      = "tls"
	EncryptionNone     = "none"
)

// SMTPSettings is the relay configuration stored in the settings table and
// edited on the settings page. Mail cannot leave until Host and From are
// set.
type SMTPSettings struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	Encryption   string `json:"encryption"`
	From         string `json:"from"`
	FromName     string `json:"from_name"`
	DKIMSelector string `json:"dkim_selector"`
	DKIMKeyFile  string `json:"dkim_key_file"`
}

// Configured reports whether the settings are complete enough to submit
// mail.
func (s *SMTPSettings) Configured() bool {
	return s != nil && s.Host != "" && s.From != ""
}
