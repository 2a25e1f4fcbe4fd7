// Package session persists per-platform credential blobs. The blob format
// is owned by the platform library and treated as opaque here; this package
// only guarantees atomic overwrite and graceful absence.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gotd/td/session"
)

// Store reads and writes one opaque credential blob per platform under a
// base directory. Layout: <base>/<platform>/credentials.bin, keeping the
// two connectors on separate paths so they never contend.
type Store struct {
	base string
}

// NewStore creates a session store rooted at base.
func NewStore(base string) *Store {
	return &Store{base: base}
}

// Path returns the credential path for a platform. The directory is created
// on demand so platform libraries that manage their own files (the whatsmeow
// SQLite container) can use sibling paths under the same root.
func (s *Store) Path(platform string) string {
	return filepath.Join(s.base, platform, "credentials.bin")
}

// Dir returns the per-platform session directory, creating it if needed.
func (s *Store) Dir(platform string) (string, error) {
	dir := filepath.Join(s.base, platform)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create session dir %q: %w", dir, err)
	}
	return dir, nil
}

// Load returns the stored blob, or (nil, nil) when absent.
func (s *Store) Load(platform string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(platform))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session blob: %w", err)
	}
	return data, nil
}

// Save atomically overwrites the stored blob: write to a temp file in the
// same directory, then rename over the target. A crash mid-write leaves the
// previous blob intact.
func (s *Store) Save(platform string, data []byte) error {
	dir, err := s.Dir(platform)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session blob: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(platform)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob is stored for the platform.
func (s *Store) Exists(platform string) bool {
	_, err := os.Stat(s.Path(platform))
	return err == nil
}

// Delete removes the stored blob. Absence is not an error.
func (s *Store) Delete(platform string) error {
	err := os.Remove(s.Path(platform))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GotdStorage adapts the store to gotd's session.Storage so the Telegram
// client persists its MTProto session through the same atomic path.
type GotdStorage struct {
	Store    *Store
	Platform string
}

var _ session.Storage = (*GotdStorage)(nil)

// LoadSession implements session.Storage.
func (g *GotdStorage) LoadSession(_ context.Context) ([]byte, error) {
	data, err := g.Store.Load(g.Platform)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, session.ErrNotFound
	}
	return data, nil
}

// StoreSession implements session.Storage.
func (g *GotdStorage) StoreSession(_ context.Context, data []byte) error {
	return g.Store.Save(g.Platform, data)
}
