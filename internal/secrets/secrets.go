// Package secrets resolves token references. A value is either the literal
// token or a reference into AWS Secrets Manager or HashiCorp Vault:
//
//	secretsmanager://<secret-id>[#<json-key>]
//	vault://<kv-v2-path>#<key>
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

const (
	secretsManagerScheme = "secretsmanager://"
	vaultScheme          = "vault://"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used by Resolver.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// VaultReader is the subset of the Vault logical client used by Resolver.
type VaultReader interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// Resolver turns token references into token values. Backend clients are
// created on first use.
type Resolver struct {
	mu sync.Mutex

	smClient    SecretsManagerAPI
	vaultReader VaultReader
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSecretsManagerClient sets a custom Secrets Manager client (useful for testing).
func WithSecretsManagerClient(c SecretsManagerAPI) Option {
	return func(r *Resolver) { r.smClient = c }
}

// WithVaultReader sets a custom Vault reader (useful for testing).
func WithVaultReader(v VaultReader) Option {
	return func(r *Resolver) { r.vaultReader = v }
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// IsReference reports whether value names a secret backend instead of
// carrying the token itself.
func IsReference(value string) bool {
	return strings.HasPrefix(value, secretsManagerScheme) || strings.HasPrefix(value, vaultScheme)
}

// Resolve returns the token value for ref. Literal values are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, secretsManagerScheme):
		id, key := splitKey(strings.TrimPrefix(ref, secretsManagerScheme))
		return r.fromSecretsManager(ctx, id, key)
	case strings.HasPrefix(ref, vaultScheme):
		path, key := splitKey(strings.TrimPrefix(ref, vaultScheme))
		return r.fromVault(ctx, path, key)
	default:
		return ref, nil
	}
}

// splitKey splits "<location>#<key>" on the last '#'.
func splitKey(s string) (string, string) {
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func (r *Resolver) fromSecretsManager(ctx context.Context, id, key string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("secretsmanager reference: secret id is empty")
	}
	client, err := r.getSecretsManagerClient()
	if err != nil {
		return "", err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", id, err)
	}
	value := aws.ToString(out.SecretString)
	if value == "" {
		return "", fmt.Errorf("secret %s has no string value", id)
	}
	if key == "" {
		return value, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", id, err)
	}
	return stringField(fields, key, id)
}

func (r *Resolver) fromVault(ctx context.Context, path, key string) (string, error) {
	if path == "" || key == "" {
		return "", fmt.Errorf("vault reference must look like vault://<path>#<key>")
	}
	reader, err := r.getVaultReader()
	if err != nil {
		return "", err
	}

	secret, err := reader.ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("reading vault secret at %s: %w", path, err)
	}
	if secret == nil {
		return "", fmt.Errorf("vault secret not found at %s", path)
	}

	// KV v2 nests the payload under "data"; KV v1 does not.
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		data = secret.Data
	}
	return stringField(data, key, path)
}

func stringField(fields map[string]any, key, location string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in secret at %s", key, location)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("key %s in secret at %s is not a non-empty string", key, location)
	}
	return value, nil
}

func (r *Resolver) getSecretsManagerClient() (SecretsManagerAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.smClient != nil {
		return r.smClient, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	r.smClient = secretsmanager.NewFromConfig(cfg)
	return r.smClient, nil
}

// getVaultReader builds a client from the standard VAULT_ADDR and
// VAULT_TOKEN environment variables.
func (r *Resolver) getVaultReader() (VaultReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vaultReader != nil {
		return r.vaultReader, nil
	}
	client, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	r.vaultReader = client.Logical()
	return r.vaultReader, nil
}
