// Package bundle wraps a manifest's normalized artifact-hash set into a
// distributable, hashed bundle and manages bundle supersession and the
// timestamp-authority state machine.
package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/callproof/core/digest"
	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
	"github.com/davidahmann/callproof/core/schema/validate"
	"github.com/davidahmann/callproof/core/tsa"
)

// Store is the slice of persistence the builder needs.
type Store interface {
	ManifestByID(ctx context.Context, id string) (evidence.Manifest, error)
	BundleByID(ctx context.Context, id string) (evidence.Bundle, error)
	CreateBundle(ctx context.Context, b evidence.Bundle, supersede bool) error
	UpdateTSAStatus(ctx context.Context, bundleID string, status evidence.TSAStatus, token *string, receivedAt *time.Time, tsaError *string) error
}

// Builder creates bundles from stored manifests.
type Builder struct {
	store  Store
	tsa    tsa.Client
	logger *slog.Logger
	clock  func() time.Time
	newID  func() string
}

func NewBuilder(store Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:  store,
		logger: logger,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// WithTSA wires the timestamp-authority collaborator. Without it, TSA
// submission requests fail as external_service errors.
func (b *Builder) WithTSA(client tsa.Client) *Builder {
	b.tsa = client
	return b
}

func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithIDSource(newID func() string) *Builder {
	b.newID = newID
	return b
}

// Build creates a bundle for the manifest, superseding any prior current
// bundle for it.
func (b *Builder) Build(ctx context.Context, manifestID string) (evidence.Bundle, error) {
	return b.build(ctx, manifestID, true)
}

// BuildIfAbsent creates a bundle only when the manifest has no current
// bundle. The repair job uses this so a race with organic bundle creation
// resolves to a single current bundle instead of two.
func (b *Builder) BuildIfAbsent(ctx context.Context, manifestID string) (evidence.Bundle, error) {
	return b.build(ctx, manifestID, false)
}

func (b *Builder) build(ctx context.Context, manifestID string, supersede bool) (evidence.Bundle, error) {
	m, err := b.store.ManifestByID(ctx, manifestID)
	if err != nil {
		return evidence.Bundle{}, err
	}

	payload := evidence.BundlePayload{
		SchemaID:       evidence.BundlePayloadSchemaID,
		SchemaVersion:  evidence.SchemaVersionV1,
		ManifestID:     m.ID,
		CallID:         m.CallID,
		ArtifactHashes: NormalizeArtifactHashes(m.Artifacts),
	}
	payloadBytes, err := evidence.BundlePayloadHashable(payload)
	if err != nil {
		return evidence.Bundle{}, fmt.Errorf("marshal payload: %w", err)
	}
	if err := validate.ValidateBundlePayload(payloadBytes); err != nil {
		return evidence.Bundle{}, coreerrors.Wrap(err,
			coreerrors.CategoryInvalidInput, "bundle_payload_schema_invalid", "", false)
	}
	bundleHash, err := digest.DigestPrefixed(payloadBytes)
	if err != nil {
		return evidence.Bundle{}, fmt.Errorf("digest payload: %w", err)
	}

	built := evidence.Bundle{
		ID:                   b.newID(),
		ManifestID:           m.ID,
		Payload:              payload,
		BundleHash:           bundleHash,
		EvidenceCompleteness: completeness(m.Artifacts),
		CustodyStatus:        evidence.CustodyInternal,
		RetentionClass:       evidence.RetentionDefault,
		TSAStatus:            evidence.TSANone,
		CreatedAt:            b.clock().UTC(),
	}

	if err := b.store.CreateBundle(ctx, built, supersede); err != nil {
		return evidence.Bundle{}, err
	}
	return built, nil
}

// SubmitTSA drives one step of the submission state machine. A bundle with
// no outstanding submission (none or failed) is submitted to the authority
// and the returned token is persisted alongside the pending state. A bundle
// already pending with a stored token is polled with that token instead, so
// invoking SubmitTSA again resolves a submission the authority answered
// slowly. TSA failure is recorded on the bundle, never returned as a
// submission failure.
func (b *Builder) SubmitTSA(ctx context.Context, bundleID string) error {
	stored, err := b.store.BundleByID(ctx, bundleID)
	if err != nil {
		return err
	}
	if b.tsa == nil {
		if err := b.store.UpdateTSAStatus(ctx, bundleID, evidence.TSAPending, stored.TSAToken, nil, nil); err != nil {
			return err
		}
		return b.recordTSAFailure(ctx, bundleID, "no timestamp authority configured")
	}

	var token string
	if stored.TSAStatus == evidence.TSAPending && stored.TSAToken != nil {
		token = *stored.TSAToken
	} else {
		if err := b.store.UpdateTSAStatus(ctx, bundleID, evidence.TSAPending, nil, nil, nil); err != nil {
			return err
		}
		token, err = b.tsa.Submit(ctx, stored.BundleHash)
		if err != nil {
			return b.recordTSAFailure(ctx, bundleID, err.Error())
		}
		if err := b.store.UpdateTSAStatus(ctx, bundleID, evidence.TSAPending, &token, nil, nil); err != nil {
			return err
		}
	}

	status, err := b.tsa.PollStatus(ctx, token)
	if err != nil {
		return b.recordTSAFailure(ctx, bundleID, err.Error())
	}
	switch status.State {
	case tsa.StateReceived:
		receivedAt := status.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = b.clock().UTC()
		}
		return b.store.UpdateTSAStatus(ctx, bundleID, evidence.TSAReceived, &token, &receivedAt, nil)
	case tsa.StatePending:
		// Token persisted; the next invocation polls it.
		return nil
	default:
		return b.recordTSAFailure(ctx, bundleID, status.Error)
	}
}

func (b *Builder) recordTSAFailure(ctx context.Context, bundleID, message string) error {
	if message == "" {
		message = "timestamp authority rejected submission"
	}
	b.logger.Warn("tsa submission failed",
		slog.String("bundle_id", bundleID),
		slog.String("error", message))
	return b.store.UpdateTSAStatus(ctx, bundleID, evidence.TSAFailed, nil, nil, &message)
}

// NormalizeArtifactHashes returns the references sorted ascending by
// (type, id), both case-sensitive. The same normalization runs at build
// and verify time.
func NormalizeArtifactHashes(artifacts []evidence.ArtifactReference) []evidence.ArtifactReference {
	normalized := append([]evidence.ArtifactReference(nil), artifacts...)
	if normalized == nil {
		normalized = []evidence.ArtifactReference{}
	}
	sort.Slice(normalized, func(i, j int) bool {
		if normalized[i].Type != normalized[j].Type {
			return normalized[i].Type < normalized[j].Type
		}
		return normalized[i].ID < normalized[j].ID
	})
	return normalized
}

func completeness(artifacts []evidence.ArtifactReference) evidence.Completeness {
	if len(artifacts) == 0 {
		return evidence.CompletenessPartial
	}
	for _, artifact := range artifacts {
		if artifact.SHA256 == nil {
			return evidence.CompletenessPartial
		}
	}
	return evidence.CompletenessComplete
}

// Hash recomputes a bundle's payload hash. Shared by the verifier.
func Hash(payload evidence.BundlePayload) (string, error) {
	payloadBytes, err := evidence.BundlePayloadHashable(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return digest.DigestPrefixed(payloadBytes)
}
