// Package tenancy resolves the org/agent identity a request acts as. It
// implements the bearer-token cascade: a shared-secret token maps directly
// to an org, while any other bearer token is validated as a JWT against a
// JWKS endpoint. The result is then reconciled against the caller-supplied
// X-Org-Id/X-Agent-Id headers, so a validated token can never be used to
// silently act as a different org than the one named in the headers.
package tenancy

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Sentinel errors returned by Authenticator.
var (
	ErrMissingToken    = errors.New("tenancy: missing bearer token")
	ErrInvalidScheme   = errors.New("tenancy: authorization header must use Bearer scheme")
	ErrUnknownKey      = errors.New("tenancy: unknown signing key")
	ErrInvalidToken    = errors.New("tenancy: invalid JWT")
	ErrUnauthorized    = errors.New("tenancy: unauthorized token")
	ErrMissingOrgID    = errors.New("tenancy: X-Org-Id header is required")
	ErrMissingAgentID  = errors.New("tenancy: X-Agent-Id header is required")
	ErrOrgRequired     = errors.New("tenancy: organisation identifier is missing")
	ErrOrgMismatch     = errors.New("tenancy: token org does not match header org")
)

// DefaultAgentID is used when the caller provides no X-Agent-Id header and
// header enforcement is disabled.
const DefaultAgentID = "default"

// Config configures an Authenticator. SharedSecrets maps an org ID to the
// bearer token that authenticates as that org.
type Config struct {
	JWTAudience    string
	JWTIssuer      string
	JWKURL         string
	SharedSecrets  map[string]string
	EnforceHeaders bool
	HTTPTimeout    time.Duration
}

// Authenticator validates bearer tokens and reconciles them with tenancy
// headers to produce an (org_id, agent_id) pair.
type Authenticator struct {
	config    Config
	tokenToOrg map[string]string
	httpClient *http.Client

	mu        sync.Mutex
	jwksCache map[string]jwk
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

// New builds an Authenticator from config. Shared secrets are inverted into
// a token→org lookup up front so Authenticate is a single map read.
func New(cfg Config) *Authenticator {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	tokenToOrg := make(map[string]string, len(cfg.SharedSecrets))
	for orgID, token := range cfg.SharedSecrets {
		tokenToOrg[token] = orgID
	}
	return &Authenticator{
		config:     cfg,
		tokenToOrg: tokenToOrg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Authenticate validates the Authorization header and returns the org it
// derives, or "" if no token-derived org applies (no shared secrets
// configured and no Authorization header present). A present-but-invalid
// header always errors.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (string, error) {
	if authorization == "" {
		if len(a.tokenToOrg) > 0 {
			return "", ErrMissingToken
		}
		return "", nil
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", ErrInvalidScheme
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))

	if orgID, ok := a.tokenToOrg[token]; ok {
		return orgID, nil
	}

	if a.config.JWKURL != "" {
		return a.authenticateJWT(ctx, token)
	}

	return "", ErrUnauthorized
}

func (a *Authenticator) authenticateJWT(ctx context.Context, token string) (string, error) {
	keys, err := a.fetchJWKS(ctx)
	if err != nil {
		return "", fmt.Errorf("tenancy: fetch jwks: %w", err)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	var claims jwt.MapClaims
	_, err = parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, ErrUnknownKey
		}
		return jwkToRSAPublicKey(key)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return "", ErrUnknownKey
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if a.config.JWTAudience != "" && !claims.VerifyAudience(a.config.JWTAudience, true) {
		return "", fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if a.config.JWTIssuer != "" && !claims.VerifyIssuer(a.config.JWTIssuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}

	orgID, _ := claims["org_id"].(string)
	if orgID == "" {
		return "", fmt.Errorf("%w: missing org_id claim", ErrInvalidToken)
	}
	return orgID, nil
}

func (a *Authenticator) fetchJWKS(ctx context.Context) (map[string]jwk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwksCache != nil {
		return a.jwksCache, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.JWKURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var body jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	keys := make(map[string]jwk, len(body.Keys))
	for _, k := range body.Keys {
		keys[k.Kid] = k
	}
	a.jwksCache = keys
	return keys, nil
}

func jwkToRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("tenancy: decode jwk modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("tenancy: decode jwk exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// ValidateTenancy reconciles the token-derived org (may be empty) with the
// caller-supplied X-Org-Id/X-Agent-Id headers and returns the effective
// (org_id, agent_id). Header enforcement and org-mismatch checks fail
// closed: ambiguity between token and header is always an error, never a
// silent pick.
func (a *Authenticator) ValidateTenancy(derivedOrgID, headerOrgID, headerAgentID string) (string, string, error) {
	if a.config.EnforceHeaders {
		if headerOrgID == "" {
			return "", "", ErrMissingOrgID
		}
		if headerAgentID == "" {
			return "", "", ErrMissingAgentID
		}
	}

	orgID := headerOrgID
	if orgID == "" {
		orgID = derivedOrgID
	}
	if orgID == "" {
		return "", "", ErrOrgRequired
	}
	if derivedOrgID != "" && headerOrgID != "" && derivedOrgID != headerOrgID {
		return "", "", ErrOrgMismatch
	}

	agentID := headerAgentID
	if agentID == "" {
		agentID = DefaultAgentID
	}
	return orgID, agentID, nil
}

// Resolve authenticates the request and reconciles it against tenancy
// headers in one call, the shape the CLI bootstrap and any future request
// handler actually need.
func (a *Authenticator) Resolve(ctx context.Context, authorization, headerOrgID, headerAgentID string) (string, string, error) {
	derivedOrgID, err := a.Authenticate(ctx, authorization)
	if err != nil {
		return "", "", err
	}
	return a.ValidateTenancy(derivedOrgID, headerOrgID, headerAgentID)
}
