package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const SchemaVersionV1 uint32 = 1

const manifestName = "MANIFEST.json"

// Manifest pins a data directory to the network and backend it was created
// with.
type Manifest struct {
	SchemaVersion uint32  `json:"schema_version"`
	Network       string  `json:"network"`
	Backend       Backend `json:"backend"`
}

// matches reports why an existing manifest cannot serve a store opened for
// network on backend.
func (m *Manifest) matches(network string, backend Backend) error {
	switch {
	case m.SchemaVersion > SchemaVersionV1:
		return fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	case m.Network != network:
		return fmt.Errorf("manifest network %q, requested %q", m.Network, network)
	case m.Backend != backend:
		return fmt.Errorf("manifest backend %q, requested %q", m.Backend, backend)
	}
	return nil
}

func manifestPath(chainDir string) string {
	return filepath.Join(chainDir, manifestName)
}

func readManifest(chainDir string) (*Manifest, error) {
	b, err := os.ReadFile(manifestPath(chainDir)) // #nosec G304 -- chainDir is derived from operator-controlled datadir.
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest json: %w", err)
	}
	return &m, nil
}

// loadManifest returns the manifest of chainDir, creating it on first open.
func loadManifest(chainDir, network string, backend Backend) (*Manifest, error) {
	m, err := readManifest(chainDir)
	if errors.Is(err, os.ErrNotExist) {
		m = &Manifest{SchemaVersion: SchemaVersionV1, Network: network, Backend: backend}
		if err := writeManifestAtomic(chainDir, m); err != nil {
			return nil, err
		}
		log.Infof("Created %s for %s (%s backend)", manifestPath(chainDir), network, backend)
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := m.matches(network, backend); err != nil {
		return nil, err
	}
	return m, nil
}

func writeManifestAtomic(chainDir string, m *Manifest) error {
	if m == nil {
		return errors.New("manifest: nil")
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest json: %w", err)
	}
	return writeFileAtomic(chainDir, manifestName, append(b, '\n'))
}

// writeFileAtomic replaces dir/name with data so that a crash leaves either
// the old or the new contents: temp file, fsync, rename, fsync of dir.
func writeFileAtomic(dir, name string, data []byte) (err error) {
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	wrap := func(step string, err error) error {
		return fmt.Errorf("write %s: %s: %w", name, step, err)
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 -- tmp path is derived from operator-controlled datadir.
	if err != nil {
		return wrap("open tmp", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return wrap("write tmp", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return wrap("fsync tmp", err)
	}
	if err := f.Close(); err != nil {
		return wrap("close tmp", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return wrap("rename", err)
	}

	d, err := os.Open(dir) // #nosec G304 -- dir is derived from operator-controlled datadir.
	if err != nil {
		return wrap("open dir", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return wrap("fsync dir", err)
	}
	return nil
}
