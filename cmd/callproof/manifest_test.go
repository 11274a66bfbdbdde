package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidahmann/callproof/internal/testutil"
)

func writeArtifactsFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "artifacts.json")
	testutil.WriteFile(t, path, []byte(`[
  {"type": "recording", "id": "rec-1", "sha256": "`+testutil.FixtureSHA+`"},
  {"type": "transcript", "id": "tr-1", "sha256": null}
]`))
	return path
}

func TestManifestCreateShowList(t *testing.T) {
	dbPath := tempDBPath(t)
	artifactsPath := writeArtifactsFixture(t, t.TempDir())

	var created manifestOutput
	output := captureStdout(t, func() {
		code := runManifest([]string{"create", "--call", "call-1", "--producer", "recorder/v2", "--artifacts", artifactsPath, "--db", dbPath})
		if code != exitOK {
			t.Errorf("manifest create: expected %d got %d", exitOK, code)
		}
	})
	decodeOutput(t, output, &created)
	if !created.OK || created.Manifest == nil {
		t.Fatalf("unexpected create output: %s", output)
	}
	if !strings.HasPrefix(created.Manifest.ManifestHash, "sha256:") {
		t.Fatalf("expected prefixed manifest hash, got %q", created.Manifest.ManifestHash)
	}

	var shown manifestOutput
	output = captureStdout(t, func() {
		code := runManifest([]string{"show", "--call", "call-1", "--db", dbPath})
		if code != exitOK {
			t.Errorf("manifest show: expected %d got %d", exitOK, code)
		}
	})
	decodeOutput(t, output, &shown)
	if shown.Manifest == nil || shown.Manifest.ID != created.Manifest.ID {
		t.Fatalf("show did not return the created manifest: %s", output)
	}

	// A second create for the same call supersedes the first.
	output = captureStdout(t, func() {
		code := runManifest([]string{"create", "--call", "call-1", "--producer", "recorder/v2", "--artifacts", artifactsPath, "--db", dbPath})
		if code != exitOK {
			t.Errorf("second manifest create: expected %d got %d", exitOK, code)
		}
	})

	var listed manifestListOutput
	output = captureStdout(t, func() {
		code := runManifest([]string{"list", "--call", "call-1", "--db", dbPath})
		if code != exitOK {
			t.Errorf("manifest list: expected %d got %d", exitOK, code)
		}
	})
	decodeOutput(t, output, &listed)
	if len(listed.Manifests) != 2 {
		t.Fatalf("expected both manifest versions listed: %s", output)
	}
	var superseded int
	for _, m := range listed.Manifests {
		if m.SupersededAt != nil {
			superseded++
		}
	}
	if superseded != 1 {
		t.Fatalf("expected exactly one superseded version: %s", output)
	}
}

func TestManifestCreateRejectsBadArtifacts(t *testing.T) {
	dbPath := tempDBPath(t)
	path := filepath.Join(t.TempDir(), "artifacts.json")
	testutil.WriteFile(t, path, []byte(`[{"type": "hologram", "id": "x", "sha256": null}]`))

	var out manifestOutput
	output := captureStdout(t, func() {
		code := runManifest([]string{"create", "--call", "call-1", "--producer", "recorder/v2", "--artifacts", path, "--db", dbPath})
		if code != exitInvalidInput {
			t.Errorf("expected %d got %d", exitInvalidInput, code)
		}
	})
	decodeOutput(t, output, &out)
	if out.OK || out.ErrorCode == "" {
		t.Fatalf("expected a classified error: %s", output)
	}
}

func TestManifestShowNotFound(t *testing.T) {
	dbPath := tempDBPath(t)

	var out manifestOutput
	output := captureStdout(t, func() {
		code := runManifest([]string{"show", "--id", "missing", "--db", dbPath})
		if code != exitNotFound {
			t.Errorf("expected %d got %d", exitNotFound, code)
		}
	})
	decodeOutput(t, output, &out)
	if out.ErrorCategory != "not_found" {
		t.Fatalf("expected not_found category: %s", output)
	}
}
