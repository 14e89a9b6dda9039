// Package tokenfile stores the OAuth2 user token on disk together with a
// small metadata map (issuing app, user open_id and name). It is a leaf
// package so both the gateway and the CLI can read it.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// Metadata keys written by the CLI.
const (
	MetaAppID  = "app_id"
	MetaOpenID = "open_id"
	MetaName   = "name"
)

// File is the on-disk format.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a token file. Returns (nil, nil, nil) if it does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	f, err := read(path)
	if err != nil || f == nil {
		return nil, nil, err
	}

	if f.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (run login again)", path)
	}

	return f.Token, f.Meta, nil
}

func read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // absent file is not an error
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return &f, nil
}

// Save writes the token file atomically (temp file + rename) with 0600
// permissions.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeSynced(tmp, data); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	committed = true

	return nil
}

// writeSynced writes data with owner-only permissions, flushes it to
// stable storage and closes the file.
func writeSynced(f *os.File, data []byte) error {
	if err := f.Chmod(FilePerms); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// UpdateMeta merges meta into the saved file's metadata. The token itself
// is left untouched.
func UpdateMeta(path string, meta map[string]string) error {
	tok, existing, err := Load(path)
	if err != nil {
		return err
	}

	if tok == nil {
		return fmt.Errorf("tokenfile: no token at %s", path)
	}

	merged := make(map[string]string, len(existing)+len(meta))
	maps.Copy(merged, existing)
	maps.Copy(merged, meta)

	return Save(path, tok, merged)
}
