package secret

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// DefaultVaultKey is read when a secret name carries no "#key" suffix
const DefaultVaultKey = "value"

// VaultConfig configures a VaultProvider
type VaultConfig struct {
	// Address is the Vault server address, e.g. https://vault.example.com:8200
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	// Token falls back to $VAULT_TOKEN
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
	// MountPath of the KV v2 engine; defaults to "secret"
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	// CACert is a PEM bundle of the CAs trusted for the Vault server
	CACert string `yaml:"caCert,omitempty" json:"caCert,omitempty"`
}

// VaultProvider serves secrets from a Vault KV v2 engine. Names have the
// form "<path>#<key>"; without a key DefaultVaultKey is read. Each path is
// fetched once.
type VaultProvider struct {
	address   string
	token     string
	mountPath string
	namespace string
	client    *http.Client

	mu    sync.Mutex
	paths map[string]map[string]any
}

// NewVaultProvider creates a provider. client may be nil.
func NewVaultProvider(cfg VaultConfig, client *http.Client) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set secrets.vault.token or VAULT_TOKEN)")
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if client == nil {
		var err error
		if client, err = vaultHTTPClient(cfg.CACert); err != nil {
			return nil, err
		}
	}

	return &VaultProvider{
		address:   strings.TrimRight(cfg.Address, "/"),
		token:     token,
		mountPath: strings.Trim(cfg.MountPath, "/"),
		namespace: cfg.Namespace,
		client:    client,
		paths:     make(map[string]map[string]any),
	}, nil
}

func vaultHTTPClient(caCert string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	if caCert != "" {
		pem, err := os.ReadFile(caCert)
		if err != nil {
			return nil, fmt.Errorf("failed to read vault CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse vault CA cert %s", caCert)
		}
		transport.TLSClientConfig.RootCAs = pool
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}, nil
}

func (p *VaultProvider) Resolve(ctx context.Context, name string) (string, error) {
	path, key, ok := strings.Cut(name, "#")
	if !ok || key == "" {
		key = DefaultVaultKey
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", notFound(name, "vault")
	}
	switch v := v.(type) {
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeSecretBackend, fmt.Sprintf("vault secret %s is not a string", name), err)
		}
		return string(b), nil
	}
}

// read returns the latest version of the secret at path. A missing path
// yields empty data so every key reports not found.
func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.paths[path]; ok {
		return data, nil
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s", p.address, p.mountPath, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretBackend, "failed to create vault request", err)
	}
	p.addHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretBackend, "failed to read vault secret", err)
	}
	defer resp.Body.Close()

	var data map[string]any
	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			Data struct {
				Data map[string]any `json:"data"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, errors.Wrap(errors.ErrCodeSecretBackend, fmt.Sprintf("failed to decode vault secret %s", path), err)
		}
		data = body.Data.Data
	case http.StatusNotFound:
		data = map[string]any{}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.New(errors.ErrCodeSecretBackend,
			fmt.Sprintf("failed to read vault secret %s (status %d): %s", path, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	p.paths[path] = data
	return data, nil
}

// Health checks that the Vault server answers. Standby nodes count as
// healthy.
func (p *VaultProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/sys/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("vault unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("vault unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (p *VaultProvider) addHeaders(req *http.Request) {
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}
}
