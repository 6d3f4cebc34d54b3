package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"

	"github.com/finpilot/mail-finance-pilot/internal/core"
)

const nonceSize = 24

// FileVault stores one encrypted OAuth token per credential handle under a
// directory. Tokens are sealed with NaCl secretbox; the 32-byte key comes
// from configuration. Rotation writes to a temp file and renames so readers
// never observe a partial token.
type FileVault struct {
	dir    string
	key    [32]byte
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewFileVault creates a vault rooted at dir. keyB64 is the base64-encoded
// 32-byte secretbox key.
func NewFileVault(dir, keyB64 string, logger *zap.Logger) (*FileVault, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(raw))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	v := &FileVault{dir: dir, logger: logger}
	copy(v.key[:], raw)
	return v, nil
}

func (v *FileVault) path(handle string) string {
	// Handles are caller-supplied; encode so they are safe as file names.
	return filepath.Join(v.dir, base64.URLEncoding.EncodeToString([]byte(handle))+".tok")
}

// ActiveCredential returns the decrypted token for a handle. A missing file
// means the user revoked access (or never granted it).
func (v *FileVault) ActiveCredential(_ context.Context, handle string) (*oauth2.Token, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	sealed, err := os.ReadFile(v.path(handle))
	if os.IsNotExist(err) {
		return nil, core.ErrRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("credential for %q is truncated", handle)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, fmt.Errorf("failed to decrypt credential for %q", handle)
	}

	var token oauth2.Token
	if err := json.Unmarshal(plain, &token); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &token, nil
}

// Rotate replaces the stored token for a handle.
func (v *FileVault) Rotate(_ context.Context, handle string, token *oauth2.Token) error {
	plain, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &v.key)

	v.mu.Lock()
	defer v.mu.Unlock()

	dst := v.path(handle)
	tmp, err := os.CreateTemp(v.dir, ".rotate-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit credential: %w", err)
	}

	v.logger.Debug("Rotated credential", zap.String("handle", handle))
	return nil
}

// Revoke removes the stored token for a handle. Missing tokens are not an
// error; revocation is idempotent.
func (v *FileVault) Revoke(_ context.Context, handle string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	err := os.Remove(v.path(handle))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	return nil
}
