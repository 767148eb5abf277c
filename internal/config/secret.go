package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/foldervault/foldervault/internal/auth"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = auth.MinSecretLength

// GenerateSecret writes a new random signing secret to path with owner-only permissions.
func GenerateSecret(path string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create secret directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write secret: %w", err)
	}
	return secret, nil
}

// LoadSecret reads a signing secret from path. Surrounding whitespace is ignored.
func LoadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("secret in %s must be at least %d characters", path, MinSecretLength)
	}
	return secret, nil
}

// EnsureSecret loads the secret at path or generates one if the file does not exist.
func EnsureSecret(path string) (string, error) {
	secret, err := LoadSecret(path)
	if err == nil {
		return secret, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return GenerateSecret(path)
	}
	return "", err
}

// ResolveSecret returns the configured signing secret, reading or creating
// auth.secret_file when auth.secret is empty.
func (c *Config) ResolveSecret() (string, error) {
	if c.Auth.Secret != "" {
		return c.Auth.Secret, nil
	}
	if c.Auth.SecretFile == "" {
		return "", fmt.Errorf("auth.secret or auth.secret_file is required")
	}
	return EnsureSecret(c.Auth.SecretFile)
}
