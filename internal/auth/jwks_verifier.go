package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/config"
)

// TokenVerifier validates access tokens issued by the identity provider.
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims are the identity claims of an OIDC access token. The subject owns
// every job the caller creates.
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// HMAC is reserved for legacy tokens.
var signingMethods = []string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384"}

const (
	discoveryTimeout = 10 * time.Second
	clockLeeway      = 30 * time.Second
)

var ErrNoSubject = errors.New("token has no subject")

// JWKSVerifier checks tokens against the issuer's published key set, which
// is refreshed in the background until Close.
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	parser *jwt.Parser
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewJWKSVerifier discovers the issuer's jwks_uri and loads its key set.
// Tokens must carry the issuer and, when a client ID is configured, list it
// as an audience.
func NewJWKSVerifier(ctx context.Context, cfg *config.ZitadelConfig, logger zerolog.Logger) (*JWKSVerifier, error) {
	issuer := strings.TrimRight(cfg.Issuer, "/")
	if issuer == "" {
		return nil, errors.New("zitadel issuer is required")
	}

	discoverCtx, cancelDiscover := context.WithTimeout(ctx, discoveryTimeout)
	defer cancelDiscover()

	jwksURL, err := discoverJWKSURL(discoverCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithValidMethods(signingMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
	}
	if cfg.ClientID != "" {
		opts = append(opts, jwt.WithAudience(cfg.ClientID))
	}

	log := logger.With().Str("component", "jwks").Str("issuer", issuer).Logger()
	log.Info().Str("jwksUrl", jwksURL).Bool("audienceCheck", cfg.ClientID != "").Msg("JWKS verifier ready")

	return &JWKSVerifier{
		jwks:   jwks,
		parser: jwt.NewParser(opts...),
		cancel: cancel,
		logger: log,
	}, nil
}

var discoveryClient = &http.Client{Timeout: discoveryTimeout}

// discoverJWKSURL reads jwks_uri from the OIDC discovery document.
func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return "", err
	}

	resp, err := discoveryClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("jwks_uri not found in discovery document")
	}
	if doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != issuer {
		return "", fmt.Errorf("discovery document is for issuer %q", doc.Issuer)
	}

	return doc.JWKSURI, nil
}

func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc); err != nil {
		v.logger.Debug().Err(err).Msg("Token rejected")
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.UserID == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// Close stops the key set refresh.
func (v *JWKSVerifier) Close() error {
	v.cancel()
	return nil
}
