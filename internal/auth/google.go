package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
)

// GoogleConfig configures the Google authorization-code flow.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to google.Endpoint. Tests point it at httptest.
	Endpoint oauth2.Endpoint
}

// GoogleProvider runs the server side of "Continue with Google": it builds
// the consent URL and trades the returned code for a Google ID token.
type GoogleProvider struct {
	config *oauth2.Config
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoint,
		},
	}
}

// AuthURL returns the consent page URL. state is echoed back on callback.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the Google ID token.
//
// A code the provider refuses (expired, reused, wrong client) is
// ErrAuthRejected. Anything that stops us hearing back is
// ErrProviderUnavailable.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", apperror.AuthRejected("missing authorization code", nil)
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			re.Response.StatusCode >= http.StatusBadRequest && re.Response.StatusCode < http.StatusInternalServerError {
			return "", apperror.AuthRejected("authorization code rejected", err)
		}
		return "", apperror.ProviderUnavailable(fmt.Errorf("auth: exchanging Google code: %w", err))
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", apperror.AuthRejected("Google response carried no ID token", nil)
	}
	return idToken, nil
}
