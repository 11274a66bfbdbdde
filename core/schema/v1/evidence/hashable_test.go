package evidence

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestManifestHashableStripsBookkeeping(t *testing.T) {
	supersededAt := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	supersededBy := "m-0002"
	m := Manifest{
		ID:           "m-0001",
		CallID:       "call-1",
		Producer:     "recorder/v2",
		CreatedAt:    time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Artifacts:    []ArtifactReference{},
		ManifestHash: "sha256:deadbeef",
		SupersededAt: &supersededAt,
		SupersededBy: &supersededBy,
	}

	raw, err := ManifestHashable(m)
	if err != nil {
		t.Fatalf("hashable: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal hashable: %v", err)
	}
	for _, stripped := range []string{"manifest_hash", "superseded_at", "superseded_by"} {
		if _, exists := fields[stripped]; exists {
			t.Fatalf("expected %s stripped from hashable content", stripped)
		}
	}
	for _, kept := range []string{"manifest_id", "call_id", "producer", "created_at", "artifacts"} {
		if _, exists := fields[kept]; !exists {
			t.Fatalf("expected %s in hashable content", kept)
		}
	}
}

func TestManifestHashableStableUnderSupersession(t *testing.T) {
	m := Manifest{
		ID:        "m-0001",
		CallID:    "call-1",
		Producer:  "recorder/v2",
		CreatedAt: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Artifacts: []ArtifactReference{},
	}
	before, err := ManifestHashable(m)
	if err != nil {
		t.Fatalf("hashable before: %v", err)
	}

	supersededAt := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	supersededBy := "m-0002"
	m.ManifestHash = "sha256:deadbeef"
	m.SupersededAt = &supersededAt
	m.SupersededBy = &supersededBy
	after, err := ManifestHashable(m)
	if err != nil {
		t.Fatalf("hashable after: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("supersession changed hashable content:\nbefore=%s\nafter=%s", before, after)
	}
}

func TestKnownArtifactType(t *testing.T) {
	for _, known := range []ArtifactType{ArtifactRecording, ArtifactTranscript, ArtifactTranslation, ArtifactSurvey, ArtifactScore, ArtifactNote} {
		if !KnownArtifactType(known) {
			t.Fatalf("expected %s to be known", known)
		}
	}
	if KnownArtifactType(ArtifactType("hologram")) {
		t.Fatal("expected unknown type rejected")
	}
}

func TestOnLegalHold(t *testing.T) {
	if (Bundle{}).OnLegalHold() {
		t.Fatal("zero bundle must not be on hold")
	}
	if !(Bundle{LegalHoldFlag: true}).OnLegalHold() {
		t.Fatal("flagged bundle must be on hold")
	}
	if !(Bundle{RetentionClass: RetentionLegalHold}).OnLegalHold() {
		t.Fatal("legal_hold class must imply hold")
	}
}
