package bundle

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/manifest"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
	"github.com/davidahmann/callproof/core/store"
	"github.com/davidahmann/callproof/core/tsa"
)

const (
	shaA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	shaB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

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

func buildManifest(t *testing.T, s *store.Store, callID string, artifacts []evidence.ArtifactReference) evidence.Manifest {
	t.Helper()
	m, err := manifest.NewBuilder(s).Build(context.Background(), callID, "callproof/test", artifacts)
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	return m
}

type fakeTSA struct {
	submitErr    error
	state        tsa.State
	errText      string
	pendingPolls int // polls answered pending before state applies
	submits      int
	polls        int
	lastToken    string
}

func (f *fakeTSA) Submit(context.Context, string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	return fmt.Sprintf("tok-%d", f.submits), nil
}

func (f *fakeTSA) PollStatus(_ context.Context, token string) (tsa.Status, error) {
	f.polls++
	f.lastToken = token
	if f.polls <= f.pendingPolls {
		return tsa.Status{State: tsa.StatePending}, nil
	}
	return tsa.Status{State: f.state, Error: f.errText}, nil
}

func TestBuildSortsArtifactHashesAndHashVerifies(t *testing.T) {
	s := openStore(t)
	shaRec, shaTr := shaA, shaB
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactTranscript, ID: "tr-1", SHA256: &shaTr},
		{Type: evidence.ArtifactRecording, ID: "rec-2", SHA256: &shaRec},
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &shaRec},
	})

	built, err := NewBuilder(s, nil).Build(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}

	hashes := built.Payload.ArtifactHashes
	if len(hashes) != 3 {
		t.Fatalf("expected 3 artifact hashes, got %d", len(hashes))
	}
	if hashes[0].ID != "rec-1" || hashes[1].ID != "rec-2" || hashes[2].ID != "tr-1" {
		t.Fatalf("expected (type,id) ascending order, got %#v", hashes)
	}

	recomputed, err := Hash(built.Payload)
	if err != nil {
		t.Fatalf("recompute hash: %v", err)
	}
	if recomputed != built.BundleHash {
		t.Fatalf("hash mismatch: %s vs %s", recomputed, built.BundleHash)
	}
	if built.EvidenceCompleteness != evidence.CompletenessComplete {
		t.Fatalf("expected complete, got %s", built.EvidenceCompleteness)
	}
	if built.CustodyStatus != evidence.CustodyInternal || built.TSAStatus != evidence.TSANone {
		t.Fatalf("unexpected initial custody/tsa state: %#v", built)
	}
}

func TestBuildPartialWhenSHAMissing(t *testing.T) {
	s := openStore(t)
	sha := shaA
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
		{Type: evidence.ArtifactSurvey, ID: "sur-1", SHA256: nil},
	})

	built, err := NewBuilder(s, nil).Build(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if built.EvidenceCompleteness != evidence.CompletenessPartial {
		t.Fatalf("expected partial, got %s", built.EvidenceCompleteness)
	}
}

func TestBuildEmptyManifestIsPartial(t *testing.T) {
	s := openStore(t)
	m := buildManifest(t, s, "call-1", nil)

	built, err := NewBuilder(s, nil).Build(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if built.EvidenceCompleteness != evidence.CompletenessPartial {
		t.Fatalf("expected partial for empty manifest, got %s", built.EvidenceCompleteness)
	}
}

func TestBuildSupersedesPriorBundle(t *testing.T) {
	s := openStore(t)
	sha := shaA
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	builder := NewBuilder(s, nil)
	ctx := context.Background()

	first, err := builder.Build(ctx, m.ID)
	if err != nil {
		t.Fatalf("build first: %v", err)
	}
	second, err := builder.Build(ctx, m.ID)
	if err != nil {
		t.Fatalf("build second: %v", err)
	}

	old, err := s.BundleByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	if old.SupersededAt == nil {
		t.Fatal("expected first bundle superseded")
	}
	current, err := s.CurrentBundleByManifest(ctx, m.ID)
	if err != nil {
		t.Fatalf("current bundle: %v", err)
	}
	if current.ID != second.ID {
		t.Fatalf("expected %s current, got %s", second.ID, current.ID)
	}
}

func TestBuildIfAbsentConflictsWhenBundleExists(t *testing.T) {
	s := openStore(t)
	sha := shaA
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	builder := NewBuilder(s, nil)
	ctx := context.Background()

	if _, err := builder.BuildIfAbsent(ctx, m.ID); err != nil {
		t.Fatalf("first build: %v", err)
	}
	_, err := builder.BuildIfAbsent(ctx, m.ID)
	if err == nil {
		t.Fatal("expected conflict when current bundle exists")
	}
	if coreerrors.CodeOf(err) != "bundle_exists" {
		t.Fatalf("unexpected code: %s", coreerrors.CodeOf(err))
	}
}

func TestBuildUnknownManifest(t *testing.T) {
	s := openStore(t)
	_, err := NewBuilder(s, nil).Build(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not found")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryNotFound {
		t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
	}
}

func TestSubmitTSASuccess(t *testing.T) {
	s := openStore(t)
	sha := shaA
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	builder := NewBuilder(s, nil).WithTSA(&fakeTSA{state: tsa.StateReceived})
	ctx := context.Background()

	built, err := builder.Build(ctx, m.ID)
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if err := builder.SubmitTSA(ctx, built.ID); err != nil {
		t.Fatalf("submit tsa: %v", err)
	}

	stored, err := s.BundleByID(ctx, built.ID)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if stored.TSAStatus != evidence.TSAReceived {
		t.Fatalf("expected received, got %s", stored.TSAStatus)
	}
	if stored.TSAReceivedAt == nil {
		t.Fatal("expected tsa_received_at set")
	}
	if stored.BundleHash != built.BundleHash {
		t.Fatal("tsa submission must not mutate the bundle hash")
	}
}

func TestSubmitTSAPendingResolvedByLaterInvocation(t *testing.T) {
	s := openStore(t)
	sha := shaA
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	authority := &fakeTSA{state: tsa.StateReceived, pendingPolls: 1}
	builder := NewBuilder(s, nil).WithTSA(authority)
	ctx := context.Background()

	built, err := builder.Build(ctx, m.ID)
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if err := builder.SubmitTSA(ctx, built.ID); err != nil {
		t.Fatalf("submit tsa: %v", err)
	}

	stored, err := s.BundleByID(ctx, built.ID)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if stored.TSAStatus != evidence.TSAPending {
		t.Fatalf("expected pending while the authority is slow, got %s", stored.TSAStatus)
	}
	if stored.TSAToken == nil || *stored.TSAToken != "tok-1" {
		t.Fatalf("expected submission token persisted, got %#v", stored.TSAToken)
	}

	// the next invocation polls the stored token instead of resubmitting
	if err := builder.SubmitTSA(ctx, built.ID); err != nil {
		t.Fatalf("poll pending submission: %v", err)
	}
	if authority.submits != 1 {
		t.Fatalf("expected a single submission, got %d", authority.submits)
	}
	if authority.lastToken != "tok-1" {
		t.Fatalf("expected poll with stored token, got %q", authority.lastToken)
	}
	stored, err = s.BundleByID(ctx, built.ID)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if stored.TSAStatus != evidence.TSAReceived {
		t.Fatalf("expected received after poll, got %s", stored.TSAStatus)
	}
	if stored.TSAReceivedAt == nil {
		t.Fatal("expected tsa_received_at set")
	}
}

func TestSubmitTSAFailureIsRecordedNotFatal(t *testing.T) {
	s := openStore(t)
	sha := shaA
	m := buildManifest(t, s, "call-1", []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "rec-1", SHA256: &sha},
	})
	builder := NewBuilder(s, nil).WithTSA(&fakeTSA{submitErr: fmt.Errorf("authority unreachable")})
	ctx := context.Background()

	built, err := builder.Build(ctx, m.ID)
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if err := builder.SubmitTSA(ctx, built.ID); err != nil {
		t.Fatalf("submit tsa should record failure, not return it: %v", err)
	}

	stored, err := s.BundleByID(ctx, built.ID)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if stored.TSAStatus != evidence.TSAFailed {
		t.Fatalf("expected failed, got %s", stored.TSAStatus)
	}
	if stored.TSAError == nil || *stored.TSAError == "" {
		t.Fatal("expected tsa_error populated")
	}

	// failed may be retried as a fresh submission
	builder.tsa = &fakeTSA{state: tsa.StateReceived}
	if err := builder.SubmitTSA(ctx, built.ID); err != nil {
		t.Fatalf("resubmit tsa: %v", err)
	}
	stored, err = s.BundleByID(ctx, built.ID)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if stored.TSAStatus != evidence.TSAReceived {
		t.Fatalf("expected received after resubmission, got %s", stored.TSAStatus)
	}
}

func TestNormalizeArtifactHashesCaseSensitive(t *testing.T) {
	refs := []evidence.ArtifactReference{
		{Type: evidence.ArtifactRecording, ID: "a"},
		{Type: evidence.ArtifactRecording, ID: "B"},
	}
	normalized := NormalizeArtifactHashes(refs)
	// uppercase sorts before lowercase in case-sensitive order
	if normalized[0].ID != "B" || normalized[1].ID != "a" {
		t.Fatalf("expected case-sensitive sort, got %#v", normalized)
	}
}
