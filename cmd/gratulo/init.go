package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initBaseURL    string
	initListenAddr string
	initDataDir    string
	initAdminEmail string
	initAdminPass  string
	initACME       bool
	initACMEEmail  string
	initOutput     string
	initForce      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter configuration file",
	Long: `Interactive wizard to create a gratulo configuration file.

Prompts for the values a fresh deployment needs: the public base URL, the
data directory and the initial admin account. The admin password is
auto-generated unless one is given.

Examples:
  # Interactive mode - prompts for missing values
  gratulo init

  # Non-interactive with all flags
  gratulo init --base-url https://gratulo.example.com --admin-email admin@example.com

  # Quick local setup
  gratulo init --base-url http://localhost:8080 --admin-email admin@localhost -o test.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Public base URL (e.g. https://gratulo.example.com)")
	initCmd.Flags().StringVar(&initListenAddr, "listen", ":8080", "HTTP listen address")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/gratulo", "Data directory for databases")
	initCmd.Flags().StringVar(&initAdminEmail, "admin-email", "", "Initial admin login email")
	initCmd.Flags().StringVar(&initAdminPass, "admin-password", "", "Initial admin password (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initACME, "acme", false, "Enable Let's Encrypt TLS")
	initCmd.Flags().StringVar(&initACMEEmail, "acme-email", "", "Email for the Let's Encrypt account")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "gratulo.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("gratulo Configuration Wizard")
	fmt.Println("============================")
	fmt.Println()

	if initBaseURL == "" {
		initBaseURL = promptLine(reader, "Public base URL", "http://localhost:8080")
	}
	host, err := hostFromURL(initBaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", initBaseURL, err)
	}

	initDataDir = promptLine(reader, "Data directory", initDataDir)

	if initAdminEmail == "" {
		initAdminEmail = promptLine(reader, "Initial admin email", "")
		if initAdminEmail == "" {
			return fmt.Errorf("admin email is required")
		}
	}

	if initAdminPass == "" {
		initAdminPass = generateRandomString(16)
		fmt.Printf("  Generated admin password: %s\n", initAdminPass)
	}

	if !initACME {
		answer := promptLine(reader, "Enable Let's Encrypt TLS? [y/N]", "n")
		initACME = strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	}
	if initACME && initACMEEmail == "" {
		initACMEEmail = promptLine(reader, "Email for Let's Encrypt", initAdminEmail)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: could not create data directory: %v\n", err)
	}

	config := generateConfig(host)
	if err := os.WriteFile(initOutput, []byte(config), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	printNextSteps()
	return nil
}

func promptLine(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, (length+1)/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:length]
}

func hostFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host")
	}
	return u.Hostname(), nil
}

func generateConfig(host string) string {
	tlsSection := `  # Uncomment for Let's Encrypt
  # tls:
  #   enabled: true
  #   acme:
  #     enabled: true
  #     email: "admin@` + host + `"
  #     domains:
  #       - "` + host + `"
  #     cache_dir: "` + initDataDir + `/acme-cache"`
	if initACME {
		tlsSection = fmt.Sprintf(`  tls:
    enabled: true
    acme:
      enabled: true
      email: "%s"
      domains:
        - "%s"
      cache_dir: "%s/acme-cache"`, initACMEEmail, host, initDataDir)
	}

	return fmt.Sprintf(`# gratulo configuration
# Generated by: gratulo init

server:
  listen_addr: "%s"
  base_url: "%s"
%s

database:
  path: "%s"

queue:
  path: "%s"
  interval: 120s
  send_timeout: 30s
  retention: 720h
  # dry_run: true captures mail instead of delivering it

# redis:
#   enabled: true
#   url: "redis://localhost:6379/0"

rate_limit:
  mails: 40
  window: 60s

# Labels and semantics of the two member dates. date1/date2 default to
# Geburtstag (birthday) and Eintritt (joining date).
# fields:
#   date1:
#     label: "Geburtstag"
#     type: "ANNIVERSARY"
#   date2:
#     label: "Eintritt"
#     type: "ANNIVERSARY"
#     round_every: 5
#   entity:
#     singular: "Mitglied"
#     plural: "Mitglieder"

auth:
  session_ttl: 168h
  initial_admin:
    email: "%s"
    password: "%s"

api:
  enabled: true
  # allowed_ips:
  #   - "10.0.0.0/8"

metrics:
  enabled: false
  listen_addr: ":9090"

logging:
  level: "info"
  format: "text"
`,
		initListenAddr,
		initBaseURL,
		tlsSection,
		filepath.Join(initDataDir, "gratulo.db"),
		filepath.Join(initDataDir, "queue.db"),
		initAdminEmail,
		initAdminPass,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Start the server:")
	fmt.Printf("   gratulo serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Printf("2. Log in at %s with the admin account\n", initBaseURL)
	fmt.Println()
	fmt.Println("3. Configure the SMTP relay under Einstellungen")
	fmt.Println()
	fmt.Println("4. Verify the sender domain:")
	fmt.Printf("   gratulo config check-dns -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	fmt.Printf("Admin email:    %s\n", initAdminEmail)
	fmt.Printf("Admin password: %s\n", initAdminPass)
	fmt.Println()
}
