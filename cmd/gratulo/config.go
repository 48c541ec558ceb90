package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/dnscheck"
	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/repository"
	gratulotls "github.com/foxzi/gratulo/internal/tls"
)

var (
	dnsCheckDomain   string
	dnsCheckSelector string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and show effective values",
	RunE:  runConfigCheck,
}

var configCheckDNSCmd = &cobra.Command{
	Use:   "check-dns",
	Short: "Check SPF, DKIM and DMARC records of the sender domain",
	RunE:  runConfigCheckDNS,
}

func init() {
	configCheckDNSCmd.Flags().StringVar(&dnsCheckDomain, "domain", "", "Domain to check (default from the stored sender address)")
	configCheckDNSCmd.Flags().StringVar(&dnsCheckSelector, "selector", "", "DKIM selector (default from the stored settings)")

	configCmd.AddCommand(configCheckCmd, configCheckDNSCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address:  %s\n", cfg.Server.ListenAddr)
	if cfg.Server.BaseURL != "" {
		fmt.Printf("  Base URL:        %s\n", cfg.Server.BaseURL)
	}
	fmt.Printf("  Database:        %s\n", cfg.Database.Path)
	if cfg.Redis.Enabled {
		fmt.Printf("  Queue backend:   redis (%s)\n", cfg.Redis.URL)
	} else {
		fmt.Printf("  Queue backend:   bolt (%s)\n", cfg.Queue.Path)
	}
	fmt.Printf("  Queue interval:  %s\n", cfg.Queue.Interval)
	fmt.Printf("  Rate limit:      %d mails per %s\n", cfg.RateLimit.Mails, cfg.RateLimit.Window)
	fmt.Printf("  Retention:       %s\n", cfg.Queue.Retention)
	fmt.Printf("  Fields:          %s / %s (%s)\n",
		cfg.Fields.Date1.Label, cfg.Fields.Date2.Label, cfg.Fields.Entity.Plural)
	fmt.Printf("  JSON API:        %v\n", cfg.APIEnabled())
	fmt.Printf("  Metrics:         %v\n", cfg.Metrics.Enabled)
	fmt.Printf("  OIDC login:      %v\n", cfg.Auth.OIDC.Enabled)
	if cfg.Queue.DryRun {
		fmt.Println("  Dry run:         ON, mail is captured instead of sent")
	}

	switch {
	case cfg.Server.TLS.ACME.Enabled:
		fmt.Printf("  TLS:             ACME (%s)\n", strings.Join(cfg.Server.TLS.ACME.Domains, ", "))
	case cfg.Server.TLS.Enabled:
		fmt.Printf("  TLS:             manual (%s)\n", cfg.Server.TLS.CertFile)
		info, err := gratulotls.InspectCertificate(cfg.Server.TLS.CertFile)
		if err != nil {
			fmt.Printf("    Certificate:   UNREADABLE: %v\n", err)
			break
		}
		fmt.Printf("    Subject:       %s\n", info.Subject)
		fmt.Printf("    Issuer:        %s\n", info.Issuer)
		fmt.Printf("    Expires:       %s (%d days left)\n",
			info.NotAfter.Format("2006-01-02"), info.DaysLeft)
		if len(info.DNSNames) > 0 {
			fmt.Printf("    Names:         %s\n", strings.Join(info.DNSNames, ", "))
		}
	default:
		fmt.Println("  TLS:             off")
	}

	return nil
}

func runConfigCheckDNS(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	domain := dnsCheckDomain
	selector := dnsCheckSelector
	if domain == "" || selector == "" {
		database, err := db.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		stored, err := repository.NewSettingsRepository(database.DB).GetSMTP()
		database.Close()
		if err != nil {
			return err
		}
		if domain == "" && stored.From != "" {
			domain = email.ExtractDomain(stored.From)
		}
		if selector == "" {
			selector = stored.DKIMSelector
		}
	}
	if domain == "" {
		return fmt.Errorf("no domain: configure a sender address or pass --domain")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	report, err := dnscheck.NewChecker(nil).Check(ctx, domain, dnscheck.Options{
		MX: true, SPF: true, DMARC: true,
		DKIM:     selector != "",
		Selector: selector,
	})
	if err != nil {
		return err
	}

	fmt.Printf("DNS checks for %s\n\n", report.Domain)
	for _, r := range report.Results {
		marker := " OK "
		switch r.Status {
		case dnscheck.StatusWarning:
			marker = "WARN"
		case dnscheck.StatusError:
			marker = "FAIL"
		case dnscheck.StatusNotFound:
			marker = "MISS"
		}
		fmt.Printf("[%s] %-6s %s\n", marker, r.Type, r.Message)
		if r.Value != "" {
			fmt.Printf("       %s\n", r.Value)
		}
	}
	fmt.Printf("\n%d ok, %d warnings, %d errors, %d missing\n",
		report.Summary.OK, report.Summary.Warnings, report.Summary.Errors, report.Summary.NotFound)

	if report.Summary.Errors > 0 || report.Summary.NotFound > 0 {
		return fmt.Errorf("DNS setup is incomplete")
	}
	return nil
}
