package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/gratulo/internal/config"
)

func TestGenerateRandomString(t *testing.T) {
	lengths := []int{8, 15, 16, 32, 64}

	for _, length := range lengths {
		result := generateRandomString(length)
		if len(result) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(result))
		}
	}

	s1 := generateRandomString(32)
	s2 := generateRandomString(32)
	if s1 == s2 {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestHostFromURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"https://gratulo.example.com", "gratulo.example.com", false},
		{"http://localhost:8080", "localhost", false},
		{"https://gratulo.example.com/app", "gratulo.example.com", false},
		{"gratulo.example.com", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := hostFromURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("hostFromURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("hostFromURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGenerateConfig(t *testing.T) {
	initBaseURL = "https://gratulo.test.example.com"
	initListenAddr = ":8443"
	initDataDir = "/var/lib/gratulo"
	initAdminEmail = "admin@test.example.com"
	initAdminPass = "secret123"
	initACME = false

	cfg := generateConfig("gratulo.test.example.com")

	checks := []string{
		`listen_addr: ":8443"`,
		`base_url: "https://gratulo.test.example.com"`,
		`path: "/var/lib/gratulo/gratulo.db"`,
		`path: "/var/lib/gratulo/queue.db"`,
		`email: "admin@test.example.com"`,
		`password: "secret123"`,
	}
	for _, check := range checks {
		if !strings.Contains(cfg, check) {
			t.Errorf("generated config missing: %s", check)
		}
	}
}

func TestGenerateConfigWithACME(t *testing.T) {
	initBaseURL = "https://gratulo.test.example.com"
	initListenAddr = ":443"
	initDataDir = "/var/lib/gratulo"
	initAdminEmail = "admin@test.example.com"
	initAdminPass = "secret123"
	initACME = true
	initACMEEmail = "certs@test.example.com"

	cfg := generateConfig("gratulo.test.example.com")

	if !strings.Contains(cfg, "acme:") {
		t.Error("generated config should have an acme section")
	}
	if !strings.Contains(cfg, `email: "certs@test.example.com"`) {
		t.Error("generated config should contain the ACME email")
	}
	if !strings.Contains(cfg, `- "gratulo.test.example.com"`) {
		t.Error("generated config should list the host as ACME domain")
	}
}

func TestGeneratedConfigLoads(t *testing.T) {
	initBaseURL = "http://localhost:8080"
	initListenAddr = ":8080"
	initDataDir = t.TempDir()
	initAdminEmail = "admin@localhost"
	initAdminPass = "secret123"
	initACME = false

	path := filepath.Join(t.TempDir(), "gratulo.yaml")
	if err := os.WriteFile(path, []byte(generateConfig("localhost")), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() rejected generated config: %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want %q", cfg.Server.BaseURL, "http://localhost:8080")
	}
	if cfg.Auth.InitialAdmin.Email != "admin@localhost" {
		t.Errorf("InitialAdmin.Email = %q, want %q", cfg.Auth.InitialAdmin.Email, "admin@localhost")
	}
	if !cfg.APIEnabled() {
		t.Error("generated config should leave the API enabled")
	}
}
