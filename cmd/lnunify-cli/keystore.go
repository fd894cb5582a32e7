package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// generateIdentity creates the local node key used for commando sessions.
func generateIdentity() (string, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key.Serialize()), nil
}

func saveKey(path string, key string) error {
	// ensure dir exists (0700)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	if _, err := f.WriteString(key + "\n"); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// atomic rename on same filesystem
	return os.Rename(tmp, path)
}

// loadKey reads the hex identity key from path. A missing file yields an
// empty key, the session then uses a fresh identity.
func loadKey(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", errors.New("empty key file")
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != btcec.PrivKeyBytesLen {
		return "", fmt.Errorf("key file %s does not hold a 32 byte hex key", path)
	}
	return s, nil
}

// DefaultKeyPath returns a reasonable per-user path like
//
//	Linux/macOS: $XDG_CONFIG_HOME/<app>/identity
func defaultKeyPath() (string, error) {
	return configDirFilePath("identity")
}
