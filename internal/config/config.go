// Package config provides configuration loading for memoryd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and sensible hardcoded defaults. It feeds the domain packages
// (internal/tenancy, internal/memorycore, internal/vectorstore,
// internal/embedclient, internal/normalizeclient) through small conversion
// methods rather than sharing its struct tree directly with them.
package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/memoryd/internal/embedclient"
	"github.com/fyrsmithlabs/memoryd/internal/memorycore"
	"github.com/fyrsmithlabs/memoryd/internal/normalizeclient"
	"github.com/fyrsmithlabs/memoryd/internal/overrides"
	"github.com/fyrsmithlabs/memoryd/internal/tenancy"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/fyrsmithlabs/memoryd/internal/writepolicy"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Production    ProductionConfig       `koanf:"production"`
	Server        ServerConfig           `koanf:"server"`
	Observability ObservabilityConfig    `koanf:"observability"`
	Services      ServicesConfig         `koanf:"services"`
	Security      SecurityConfig         `koanf:"security"`
	WritePolicy   WritePolicyConfig      `koanf:"writepolicy"`
	Retrieval     RetrievalConfig        `koanf:"retrieval"`
	Collection    CollectionConfig       `koanf:"collection"`
	OrgOverrides  map[string]OrgOverride `koanf:"org_overrides"`
}

// ServerConfig holds process-lifecycle configuration. memoryd has no HTTP
// or MCP surface of its own. ShutdownTimeout is logged at startup; shutdown
// itself closes the vector store without waiting on this timeout.
type ServerConfig struct {
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"`
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
}

// ServicesConfig groups the external service clients memoryd talks to.
type ServicesConfig struct {
	Qdrant     QdrantServiceConfig     `koanf:"qdrant"`
	TEI        TEIServiceConfig        `koanf:"tei"`
	OpenRouter OpenRouterServiceConfig `koanf:"openrouter"`
}

// QdrantServiceConfig configures the vector repository connection.
type QdrantServiceConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`

	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`

	MaxMessageSize int `koanf:"max_message_size"`

	CircuitBreakerThreshold int      `koanf:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  Duration `koanf:"circuit_breaker_cooldown"`
}

// TEIServiceConfig configures the Text Embeddings Inference client.
type TEIServiceConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
}

// OpenRouterServiceConfig configures the normalization chat-completion client.
type OpenRouterServiceConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
	Model   string `koanf:"model"`
}

// SecurityConfig configures the tenancy authenticator.
type SecurityConfig struct {
	JWTAudience    string            `koanf:"jwt_audience"`
	JWTIssuer      string            `koanf:"jwt_issuer"`
	JWKURL         string            `koanf:"jwk_url"`
	SharedSecrets  map[string]Secret `koanf:"shared_secrets"`
	EnforceHeaders bool              `koanf:"enforce_headers"`
	HTTPTimeout    Duration          `koanf:"http_timeout"`
}

// WritePolicyConfig governs whether and how a candidate memory is persisted.
type WritePolicyConfig struct {
	EnabledScopes    []string `koanf:"enabled_scopes"`
	MinChars         int      `koanf:"min_chars"`
	Deduplicate      bool     `koanf:"deduplicate"`
	NormalizeWithLLM bool     `koanf:"normalize_with_llm"`
	MaxBatch         int      `koanf:"max_batch"`
}

// RetrievalConfig tunes semantic search.
type RetrievalConfig struct {
	TopK              int  `koanf:"top_k"`
	EfSearch          int  `koanf:"ef_search"`
	IncludeText       bool `koanf:"include_text"`
	DecayHalfLifeDays int  `koanf:"decay_half_life_days"`
}

// CollectionConfig names and tunes the Qdrant collection backing a tenant.
type CollectionConfig struct {
	Name          string `koanf:"name"`
	VectorSize    int    `koanf:"vector_size"`
	OnDiskPayload bool   `koanf:"on_disk_payload"`
}

// OrgOverride narrows policies and routing for a single org, with optional
// per-agent overrides nested beneath it.
type OrgOverride struct {
	Write         *WritePolicyConfig       `koanf:"write"`
	Retrieval     *RetrievalConfig         `koanf:"retrieval"`
	Collection    *CollectionConfig        `koanf:"collection"`
	Model         string                   `koanf:"model"`
	EmbeddingDims int                      `koanf:"embedding_dims"`
	Agents        map[string]AgentOverride `koanf:"agent_overrides"`
}

// AgentOverride narrows policies and routing for a single agent within an org.
type AgentOverride struct {
	Write         *WritePolicyConfig `koanf:"write"`
	Retrieval     *RetrievalConfig   `koanf:"retrieval"`
	Collection    *CollectionConfig  `koanf:"collection"`
	Model         string             `koanf:"model"`
	EmbeddingDims int                `koanf:"embedding_dims"`
}

// ProductionConfig holds production deployment safety checks.
type ProductionConfig struct {
	Enabled               bool `koanf:"enabled"`
	LocalModeAcknowledged bool `koanf:"local_mode_acknowledged"`
	RequireAuthentication bool `koanf:"require_authentication"`
	RequireTLS            bool `koanf:"require_tls"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool {
	return c.Enabled
}

// IsLocal returns true if local mode is acknowledged.
func (c *ProductionConfig) IsLocal() bool {
	return c.LocalModeAcknowledged
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("observability.service_name required when telemetry is enabled")
	}
	if err := validateHostname(c.Services.Qdrant.Host); err != nil {
		return fmt.Errorf("invalid services.qdrant.host: %w", err)
	}
	if c.Services.TEI.BaseURL != "" {
		if err := validateURL(c.Services.TEI.BaseURL); err != nil {
			return fmt.Errorf("invalid services.tei.base_url: %w", err)
		}
	}
	if c.Services.OpenRouter.BaseURL != "" {
		if err := validateURL(c.Services.OpenRouter.BaseURL); err != nil {
			return fmt.Errorf("invalid services.openrouter.base_url: %w", err)
		}
	}
	if c.Collection.VectorSize <= 0 {
		return fmt.Errorf("collection.vector_size must be positive, got %d", c.Collection.VectorSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}

	if c.Production.Enabled {
		if len(c.Security.SharedSecrets) == 0 && c.Security.JWKURL == "" {
			return errors.New("SECURITY: production.enabled requires tenancy credentials (security.shared_secrets or security.jwk_url)")
		}
		if c.Production.RequireTLS && !c.Services.Qdrant.UseTLS {
			return errors.New("SECURITY: production.require_tls requires services.qdrant.use_tls")
		}
	}
	return nil
}

// TenancyConfig converts the security section into internal/tenancy's
// authenticator config.
func (c *Config) TenancyConfig() tenancy.Config {
	secrets := make(map[string]string, len(c.Security.SharedSecrets))
	for org, token := range c.Security.SharedSecrets {
		secrets[org] = token.Value()
	}
	return tenancy.Config{
		JWTAudience:    c.Security.JWTAudience,
		JWTIssuer:      c.Security.JWTIssuer,
		JWKURL:         c.Security.JWKURL,
		SharedSecrets:  secrets,
		EnforceHeaders: c.Security.EnforceHeaders,
		HTTPTimeout:    c.Security.HTTPTimeout.Duration(),
	}
}

// QdrantConfig converts the qdrant service section into
// internal/vectorstore's repository config.
func (c *Config) QdrantConfig() vectorstore.QdrantConfig {
	return vectorstore.QdrantConfig{
		Host:                    c.Services.Qdrant.Host,
		Port:                    c.Services.Qdrant.Port,
		UseTLS:                  c.Services.Qdrant.UseTLS,
		MaxRetries:              c.Services.Qdrant.MaxRetries,
		RetryBackoff:            c.Services.Qdrant.RetryBackoff.Duration(),
		MaxMessageSize:          c.Services.Qdrant.MaxMessageSize,
		CircuitBreakerThreshold: c.Services.Qdrant.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.Services.Qdrant.CircuitBreakerCooldown.Duration(),
		Distance:                qdrant.Distance_Cosine,
	}
}

// EmbedClientConfig converts the tei service section into
// internal/embedclient's client config.
func (c *Config) EmbedClientConfig() embedclient.Config {
	return embedclient.Config{
		BaseURL: c.Services.TEI.BaseURL,
		APIKey:  c.Services.TEI.APIKey.Value(),
	}
}

// NormalizeClientConfig converts the openrouter service section into
// internal/normalizeclient's client config.
func (c *Config) NormalizeClientConfig() normalizeclient.Config {
	return normalizeclient.Config{
		BaseURL: c.Services.OpenRouter.BaseURL,
		APIKey:  c.Services.OpenRouter.APIKey.Value(),
		Model:   c.Services.OpenRouter.Model,
	}
}

// MemoryCoreConfig converts the write-policy, retrieval, collection, and
// org/agent override sections into internal/memorycore's policy tree.
func (c *Config) MemoryCoreConfig() memorycore.Config {
	cfg := memorycore.Config{
		Defaults: overrides.CoreDefaults{
			Write:         writePolicyFrom(c.WritePolicy),
			Retrieval:     retrievalPolicyFrom(c.Retrieval),
			Collection:    collectionPolicyFrom(c.Collection),
			Model:         c.Services.OpenRouter.Model,
			EmbeddingDims: c.Collection.VectorSize,
		},
		Organisations: make(map[string]overrides.OrgConfig, len(c.OrgOverrides)),
	}
	for orgID, org := range c.OrgOverrides {
		agents := make(map[string]overrides.AgentOverrides, len(org.Agents))
		for agentID, agent := range org.Agents {
			agents[agentID] = overrides.AgentOverrides{
				Write:         writePolicyPtrFrom(agent.Write),
				Retrieval:     retrievalPolicyPtrFrom(agent.Retrieval),
				Collection:    collectionPolicyPtrFrom(agent.Collection),
				Model:         optionalString(agent.Model),
				EmbeddingDims: optionalInt(agent.EmbeddingDims),
			}
		}
		cfg.Organisations[orgID] = overrides.OrgConfig{
			Overrides: overrides.Overrides{
				Write:         writePolicyPtrFrom(org.Write),
				Retrieval:     retrievalPolicyPtrFrom(org.Retrieval),
				Collection:    collectionPolicyPtrFrom(org.Collection),
				Model:         optionalString(org.Model),
				EmbeddingDims: optionalInt(org.EmbeddingDims),
			},
			Agents: agents,
		}
	}
	return cfg
}

// optionalString maps an unset (empty) override to nil so it inherits.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// optionalInt maps an unset (zero) override to nil so it inherits.
func optionalInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func writePolicyFrom(w WritePolicyConfig) writepolicy.Policy {
	return writepolicy.Policy{
		EnabledScopes:    w.EnabledScopes,
		MinChars:         w.MinChars,
		Deduplicate:      w.Deduplicate,
		NormalizeWithLLM: w.NormalizeWithLLM,
		MaxBatch:         w.MaxBatch,
	}
}

func retrievalPolicyFrom(r RetrievalConfig) overrides.RetrievalPolicy {
	return overrides.RetrievalPolicy{
		TopK:              r.TopK,
		EfSearch:          r.EfSearch,
		IncludeText:       r.IncludeText,
		DecayHalfLifeDays: r.DecayHalfLifeDays,
	}
}

func collectionPolicyFrom(col CollectionConfig) overrides.CollectionPolicy {
	return overrides.CollectionPolicy{Name: col.Name, VectorSize: col.VectorSize, OnDiskPayload: col.OnDiskPayload}
}

func writePolicyPtrFrom(w *WritePolicyConfig) *writepolicy.Policy {
	if w == nil {
		return nil
	}
	p := writePolicyFrom(*w)
	return &p
}

func retrievalPolicyPtrFrom(r *RetrievalConfig) *overrides.RetrievalPolicy {
	if r == nil {
		return nil
	}
	p := retrievalPolicyFrom(*r)
	return &p
}

func collectionPolicyPtrFrom(col *CollectionConfig) *overrides.CollectionPolicy {
	if col == nil {
		return nil
	}
	p := collectionPolicyFrom(*col)
	return &p
}

// validateHostname checks if a hostname is safe (no command injection attempts).
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
