// Package auth implements the optional OIDC login flow of the web UI.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/foxzi/gratulo/internal/config"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long a login attempt may take before its
// state value expires.
const stateTTL = 10 * time.Minute

// OIDCProvider drives the authorization-code flow against a single
// OIDC issuer.
type OIDCProvider struct {
	config   *config.OIDCConfig
	provider *oidc.Provider
	oauth2   oauth2.Config
	verifier *oidc.IDTokenVerifier

	mu     sync.Mutex
	states map[string]time.Time // state -> issued at
}

// UserInfo is the identity extracted from a verified ID token.
type UserInfo struct {
	Email  string
	Name   string
	Groups []string
}

// NewOIDCProvider performs issuer discovery and returns a ready provider.
// It returns (nil, nil) when OIDC is disabled in the config.
func NewOIDCProvider(ctx context.Context, cfg *config.OIDCConfig) (*OIDCProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	oauth2Config := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes,
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return &OIDCProvider{
		config:   cfg,
		provider: provider,
		oauth2:   oauth2Config,
		verifier: verifier,
		states:   make(map[string]time.Time),
	}, nil
}

// AuthCodeURL generates the authorization URL with a fresh random state.
func (p *OIDCProvider) AuthCodeURL() (string, string, error) {
	state, err := generateState()
	if err != nil {
		return "", "", err
	}

	p.mu.Lock()
	p.pruneStates()
	p.states[state] = time.Now()
	p.mu.Unlock()

	return p.oauth2.AuthCodeURL(state), state, nil
}

// Exchange validates the state, trades the code for tokens and verifies
// the ID token. The state is single-use.
func (p *OIDCProvider) Exchange(ctx context.Context, state, code string) (*UserInfo, error) {
	p.mu.Lock()
	issued, valid := p.states[state]
	if valid {
		delete(p.states, state)
	}
	p.mu.Unlock()

	if !valid || time.Since(issued) > stateTTL {
		return nil, fmt.Errorf("invalid state")
	}

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims struct {
		Email         string   `json:"email"`
		EmailVerified bool     `json:"email_verified"`
		Name          string   `json:"name"`
		Groups        []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	if len(p.config.AllowedGroups) > 0 && !inAllowedGroups(claims.Groups, p.config.AllowedGroups) {
		return nil, fmt.Errorf("user not in allowed groups")
	}

	return &UserInfo{
		Email:  claims.Email,
		Name:   claims.Name,
		Groups: claims.Groups,
	}, nil
}

// pruneStates drops expired states. Caller holds the lock.
func (p *OIDCProvider) pruneStates() {
	cutoff := time.Now().Add(-stateTTL)
	for state, issued := range p.states {
		if issued.Before(cutoff) {
			delete(p.states, state)
		}
	}
}

func inAllowedGroups(userGroups, allowed []string) bool {
	for _, a := range allowed {
		for _, g := range userGroups {
			if g == a {
				return true
			}
		}
	}
	return false
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
