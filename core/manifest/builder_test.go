package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
	"github.com/davidahmann/callproof/core/store"
)

const shaA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func openStore(t *testing.T) *store.Store {
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

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBuildComputesVerifiableHash(t *testing.T) {
	s := openStore(t)
	sha := shaA
	builder := NewBuilder(s).WithClock(fixedClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)))

	built, err := builder.Build(context.Background(), "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	if built.ManifestHash == "" {
		t.Fatal("expected manifest hash to be set")
	}

	recomputed, err := Hash(built)
	if err != nil {
		t.Fatalf("recompute hash: %v", err)
	}
	if recomputed != built.ManifestHash {
		t.Fatalf("hash mismatch: %s vs %s", recomputed, built.ManifestHash)
	}
}

func TestBuildHashExcludesSupersessionFields(t *testing.T) {
	s := openStore(t)
	sha := shaA
	builder := NewBuilder(s).WithClock(fixedClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)))

	built, err := builder.Build(context.Background(), "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}

	superseded := built
	when := built.CreatedAt.Add(time.Minute)
	by := "mani-next"
	superseded.SupersededAt = &when
	superseded.SupersededBy = &by

	recomputed, err := Hash(superseded)
	if err != nil {
		t.Fatalf("recompute hash: %v", err)
	}
	if recomputed != built.ManifestHash {
		t.Fatal("supersession bookkeeping must not change the manifest hash")
	}
}

func TestBuildRejectsDuplicateArtifacts(t *testing.T) {
	s := openStore(t)
	sha := shaA
	builder := NewBuilder(s)

	_, err := builder.Build(context.Background(), "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: nil},
	})
	if err == nil {
		t.Fatal("expected duplicate (type,id) rejection")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
	}
	if coreerrors.CodeOf(err) != "artifact_duplicate" {
		t.Fatalf("unexpected code: %s", coreerrors.CodeOf(err))
	}
}

func TestBuildRejectsUnknownTypeAndBadSHA(t *testing.T) {
	s := openStore(t)
	builder := NewBuilder(s)

	_, err := builder.Build(context.Background(), "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: "voicemail", ID: "vm-1"},
	})
	if coreerrors.CodeOf(err) != "artifact_type_unknown" {
		t.Fatalf("expected artifact_type_unknown, got %v", err)
	}

	bad := "NOT-HEX"
	_, err = builder.Build(context.Background(), "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &bad},
	})
	if coreerrors.CodeOf(err) != "artifact_sha256_invalid" {
		t.Fatalf("expected artifact_sha256_invalid, got %v", err)
	}
}

func TestBuildRejectsEmptyCallIDAndProducer(t *testing.T) {
	s := openStore(t)
	builder := NewBuilder(s)

	if _, err := builder.Build(context.Background(), " ", "p", nil); coreerrors.CodeOf(err) != "call_id_required" {
		t.Fatalf("expected call_id_required, got %v", err)
	}
	if _, err := builder.Build(context.Background(), "call-1", "", nil); coreerrors.CodeOf(err) != "producer_required" {
		t.Fatalf("expected producer_required, got %v", err)
	}
}

func TestBuildAllowsEmptyArtifactList(t *testing.T) {
	s := openStore(t)
	builder := NewBuilder(s)

	built, err := builder.Build(context.Background(), "call-1", "callproof/test", nil)
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	if built.Artifacts == nil || len(built.Artifacts) != 0 {
		t.Fatalf("expected empty artifact slice, got %#v", built.Artifacts)
	}
}

func TestBuildSupersedesPriorManifest(t *testing.T) {
	s := openStore(t)
	sha := shaA
	builder := NewBuilder(s)
	ctx := context.Background()

	first, err := builder.Build(ctx, "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	if err != nil {
		t.Fatalf("build first: %v", err)
	}
	second, err := builder.Build(ctx, "call-1", "callproof/test", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
		{Type: evidence.ArtifactTranscript, ID: "tr-1", SHA256: nil},
	})
	if err != nil {
		t.Fatalf("build second: %v", err)
	}

	old, err := s.ManifestByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	if old.SupersededAt == nil || old.SupersededBy == nil || *old.SupersededBy != second.ID {
		t.Fatalf("expected first manifest superseded by %s, got %#v", second.ID, old)
	}

	current, err := s.CurrentManifestByCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("current manifest: %v", err)
	}
	if current.ID != second.ID {
		t.Fatalf("expected %s current, got %s", second.ID, current.ID)
	}
}
