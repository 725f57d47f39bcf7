package secret

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// AgeProvider serves secrets from an age-encrypted YAML map of name to
// value. The file is decrypted once, on first use.
type AgeProvider struct {
	identityFile string
	secretsFile  string

	once    sync.Once
	secrets map[string]string
	err     error
}

// NewAgeProvider creates a provider decrypting secretsFile with the
// identities in identityFile
func NewAgeProvider(identityFile, secretsFile string) *AgeProvider {
	return &AgeProvider{identityFile: identityFile, secretsFile: secretsFile}
}

func (p *AgeProvider) Resolve(ctx context.Context, name string) (string, error) {
	p.once.Do(func() {
		p.secrets, p.err = p.load()
	})
	if p.err != nil {
		return "", p.err
	}
	if v, ok := p.secrets[name]; ok {
		return v, nil
	}
	return "", notFound(name, p.secretsFile)
}

func (p *AgeProvider) load() (map[string]string, error) {
	keys, err := os.Open(p.identityFile)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretDecrypt, "failed to open age identity file", err)
	}
	defer keys.Close()

	identities, err := age.ParseIdentities(keys)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretDecrypt, "failed to parse age identities", err)
	}

	ciphertext, err := os.ReadFile(p.secretsFile)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretDecrypt, "failed to read secrets file", err)
	}
	return DecryptMap(ciphertext, identities...)
}

// DecryptMap decrypts an age payload holding a YAML map of secrets
func DecryptMap(ciphertext []byte, identities ...age.Identity) (map[string]string, error) {
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretDecrypt, "failed to decrypt secrets", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretDecrypt, "failed to read decrypted secrets", err)
	}

	secrets := map[string]string{}
	if err := yaml.Unmarshal(plaintext, &secrets); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretDecrypt, "decrypted secrets are not a YAML map", err)
	}
	return secrets, nil
}

// EncryptMap seals a map of secrets as YAML for the given age recipients
func EncryptMap(secrets map[string]string, recipients ...string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		recipient, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", r, err)
		}
		parsed = append(parsed, recipient)
	}

	plaintext, err := yaml.Marshal(secrets)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	w, err := age.Encrypt(&out, parsed...)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
