// Package evidence defines the persisted record shapes for the call
// evidence integrity layer: artifact references, manifests, and bundles.
package evidence

import (
	"encoding/json"
	"time"
)

const (
	ManifestSchemaID      = "callproof.manifest"
	BundlePayloadSchemaID = "callproof.bundle.payload"
	SchemaVersionV1       = "1.0.0"
)

// ArtifactType identifies the kind of evidence an artifact reference points at.
type ArtifactType string

const (
	ArtifactRecording   ArtifactType = "recording"
	ArtifactTranscript  ArtifactType = "transcript"
	ArtifactTranslation ArtifactType = "translation"
	ArtifactSurvey      ArtifactType = "survey"
	ArtifactScore       ArtifactType = "score"
	ArtifactNote        ArtifactType = "note"
)

// KnownArtifactType reports whether a type value is one of the closed set.
func KnownArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactRecording, ArtifactTranscript, ArtifactTranslation,
		ArtifactSurvey, ArtifactScore, ArtifactNote:
		return true
	default:
		return false
	}
}

// ArtifactReference is one piece of evidence for a call. SHA256 is nil when
// the artifact has no content-hashable payload (for example a survey result
// with no binary body).
type ArtifactReference struct {
	Type   ArtifactType `json:"type"`
	ID     string       `json:"id"`
	SHA256 *string      `json:"sha256"`
}

// Manifest is the immutable, hashed record of the artifacts that existed
// for one call at one checkpoint. Rows are append-only: a change produces a
// new manifest and marks the old one superseded.
type Manifest struct {
	ID           string              `json:"manifest_id"`
	CallID       string              `json:"call_id"`
	Producer     string              `json:"producer"`
	CreatedAt    time.Time           `json:"created_at"`
	Artifacts    []ArtifactReference `json:"artifacts"`
	ManifestHash string              `json:"manifest_hash"`

	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	SupersededBy *string    `json:"superseded_by,omitempty"`
}

// Completeness reports whether every artifact in a bundle's source manifest
// carried a content hash.
type Completeness string

const (
	CompletenessComplete Completeness = "complete"
	CompletenessPartial  Completeness = "partial"
)

// CustodyStatus tracks where a bundle sits in its chain of custody.
type CustodyStatus string

const (
	CustodyInternal CustodyStatus = "internal"
	CustodyExported CustodyStatus = "exported"
	CustodyRetired  CustodyStatus = "retired"
)

// RetentionClass selects which retention policy applies to a bundle.
type RetentionClass string

const (
	RetentionDefault   RetentionClass = "default"
	RetentionRegulated RetentionClass = "regulated"
	RetentionLegalHold RetentionClass = "legal_hold"
)

// TSAStatus is the timestamp-authority submission state machine:
// none -> pending -> received | failed. A failed submission may be retried
// by re-submission; the bundle payload and hash never change.
type TSAStatus string

const (
	TSANone     TSAStatus = "none"
	TSAPending  TSAStatus = "pending"
	TSAReceived TSAStatus = "received"
	TSAFailed   TSAStatus = "failed"
)

// BundlePayload is the distributable, hashed content of a bundle. It is a
// closed, versioned shape: the artifact hashes are the source manifest's
// references sorted ascending by (type, id).
type BundlePayload struct {
	SchemaID       string              `json:"schema_id"`
	SchemaVersion  string              `json:"schema_version"`
	ManifestID     string              `json:"manifest_id"`
	CallID         string              `json:"call_id"`
	ArtifactHashes []ArtifactReference `json:"artifact_hashes"`
}

// Bundle wraps one manifest's artifact-hash set with custody and retention
// metadata into a self-verifying package.
type Bundle struct {
	ID                   string         `json:"bundle_id"`
	ManifestID           string         `json:"manifest_id"`
	Payload              BundlePayload  `json:"bundle_payload"`
	BundleHash           string         `json:"bundle_hash"`
	EvidenceCompleteness Completeness   `json:"evidence_completeness"`
	CustodyStatus        CustodyStatus  `json:"custody_status"`
	RetentionClass       RetentionClass `json:"retention_class"`
	LegalHoldFlag        bool           `json:"legal_hold_flag"`
	TSAStatus            TSAStatus      `json:"tsa_status"`
	TSAToken             *string        `json:"tsa_token,omitempty"`
	TSAReceivedAt        *time.Time     `json:"tsa_received_at,omitempty"`
	TSAError             *string        `json:"tsa_error,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	SupersededAt         *time.Time     `json:"superseded_at,omitempty"`
}

// OnLegalHold reports whether retention expiry must skip this bundle.
func (b Bundle) OnLegalHold() bool {
	return b.LegalHoldFlag || b.RetentionClass == RetentionLegalHold
}

// AuditRecord is one append-only audit log row for an evidentiary action
// (supersession, legal hold set/clear, retention retirement).
type AuditRecord struct {
	ID           string          `json:"id"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
