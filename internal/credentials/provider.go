// Package credentials resolves the bearer token used for source-hosting API calls.
package credentials

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

const (
	// APIVersion is sent on every request to the source-hosting API.
	APIVersion = "2022-11-28"

	assertionBackdate = 30 * time.Second
	assertionLifetime = 9 * time.Minute
	expirySafety      = 5 * time.Minute
	fallbackLifetime  = 55 * time.Minute
)

// Config selects the credential strategy. The app strategy wins when AppID and PrivateKeyPath are set.
type Config struct {
	APIURL         string
	AppID          string
	PrivateKeyPath string
	InstallationID string
	Token          string
}

// Provider hands out bearer tokens, preferring app installation tokens over a static token
type Provider struct {
	cfg    Config
	cache  *TokenCache
	client *http.Client
	now    func() time.Time

	installationID string
}

// NewProvider creates a provider. A nil cache or client gets a fresh default.
func NewProvider(cfg Config, cache *TokenCache, client *http.Client) *Provider {
	if cache == nil {
		cache = NewTokenCache()
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}

	return &Provider{
		cfg:            cfg,
		cache:          cache,
		client:         client,
		now:            time.Now,
		installationID: cfg.InstallationID,
	}
}

// AppConfigured reports whether the app-style strategy is available
func (p *Provider) AppConfigured() bool {
	return p.cfg.AppID != "" && p.cfg.PrivateKeyPath != ""
}

// Token returns a bearer token or an auth error when no credential source exists
func (p *Provider) Token(ctx context.Context) (string, error) {
	if p.AppConfigured() {
		return p.cache.GetOrRefresh(p.now(), func() (string, time.Time, error) {
			return p.exchangeInstallationToken(ctx)
		})
	}

	if p.cfg.Token != "" {
		return p.cfg.Token, nil
	}

	return "", apperrors.NewAuthError(
		"no GitHub credentials found: set GITHUB_APP_ID and GITHUB_APP_PRIVATE_KEY_PATH, or GITHUB_TOKEN", nil)
}

// exchangeInstallationToken runs with the cache lock held.
func (p *Provider) exchangeInstallationToken(ctx context.Context) (string, time.Time, error) {
	now := p.now()

	assertion, err := p.signAssertion(now)
	if err != nil {
		return "", time.Time{}, err
	}

	installationID, err := p.resolveInstallationID(ctx, assertion)
	if err != nil {
		return "", time.Time{}, err
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := fmt.Sprintf("/app/installations/%s/access_tokens", installationID)
	if err := p.appRequest(ctx, http.MethodPost, path, assertion, &payload); err != nil {
		return "", time.Time{}, err
	}
	if payload.Token == "" {
		return "", time.Time{}, apperrors.NewAuthError("installation token response had no token", nil)
	}

	expiresAt := now.Add(fallbackLifetime)
	if !payload.ExpiresAt.IsZero() {
		expiresAt = payload.ExpiresAt.Add(-expirySafety)
	}

	slog.Info("Installation token refreshed",
		"installation_id", installationID,
		"expires_at", expiresAt.Format(time.RFC3339))

	return payload.Token, expiresAt, nil
}

func (p *Provider) signAssertion(now time.Time) (string, error) {
	key, err := p.loadPrivateKey()
	if err != nil {
		return "", err
	}

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-assertionBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		Issuer:    p.cfg.AppID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", apperrors.NewAuthError("failed to sign app assertion", err)
	}
	return signed, nil
}

func (p *Provider) loadPrivateKey() (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(p.cfg.PrivateKeyPath)
	if err != nil {
		return nil, apperrors.NewAuthError("failed to read app private key", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, apperrors.NewAuthError("failed to parse app private key", err)
	}
	return key, nil
}

// resolveInstallationID uses the configured id or asks the provider once.
func (p *Provider) resolveInstallationID(ctx context.Context, assertion string) (string, error) {
	if p.installationID != "" {
		return p.installationID, nil
	}

	var installs []struct {
		ID int64 `json:"id"`
	}
	if err := p.appRequest(ctx, http.MethodGet, "/app/installations", assertion, &installs); err != nil {
		return "", err
	}
	if len(installs) == 0 {
		return "", apperrors.NewAuthError("no installations found for the GitHub App", nil)
	}

	p.installationID = strconv.FormatInt(installs[0].ID, 10)
	return p.installationID, nil
}

func (p *Provider) appRequest(ctx context.Context, method, path, assertion string, out any) error {
	url := p.cfg.APIURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return apperrors.NewAuthError("failed to build credential request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("X-GitHub-Api-Version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.NewAuthError("credential exchange failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewAuthError(
			fmt.Sprintf("credential exchange returned status %d for %s", resp.StatusCode, url), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewAuthError("failed to decode credential response", err)
	}
	return nil
}
