package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/callproof/core/bundle"
	"github.com/davidahmann/callproof/core/manifest"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
	"github.com/davidahmann/callproof/core/store"
)

// FixtureSHA is a stable artifact digest for tests that only need a
// well-formed value.
const FixtureSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// OpenStore opens a fresh sqlite store in a per-test temp directory and
// closes it when the test finishes.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "callproof.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// SeedManifest creates a current manifest for callID with one recording
// artifact.
func SeedManifest(t *testing.T, s *store.Store, callID string) evidence.Manifest {
	t.Helper()
	sha := FixtureSHA
	m, err := manifest.NewBuilder(s).Build(context.Background(), callID, "callproof/test",
		[]evidence.ArtifactReference{
			{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
		})
	if err != nil {
		t.Fatalf("seed manifest: %v", err)
	}
	return m
}

// SeedBundle creates a manifest for callID and builds its bundle.
func SeedBundle(t *testing.T, s *store.Store, callID string) (evidence.Manifest, evidence.Bundle) {
	t.Helper()
	m := SeedManifest(t, s, callID)
	b, err := bundle.NewBuilder(s, nil).Build(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	return m, b
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}
