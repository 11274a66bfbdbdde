// Package manifest assembles a call's artifact references into an
// immutable, hashed manifest and manages append-only supersession.
package manifest

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/callproof/core/digest"
	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
	"github.com/davidahmann/callproof/core/schema/validate"
)

// Store is the slice of persistence the builder needs.
type Store interface {
	CreateManifest(ctx context.Context, m evidence.Manifest) error
}

// Builder creates manifests. Clock and NewID are injectable for tests.
type Builder struct {
	store Store
	clock func() time.Time
	newID func() string
}

const supersedeRetries = 3

func NewBuilder(store Store) *Builder {
	return &Builder{
		store: store,
		clock: time.Now,
		newID: uuid.NewString,
	}
}

// WithClock overrides the creation timestamp source.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithIDSource overrides manifest id generation.
func (b *Builder) WithIDSource(newID func() string) *Builder {
	b.newID = newID
	return b
}

// Build validates the artifact references, computes the manifest hash over
// the hash-free content, and persists the manifest, superseding any prior
// current manifest for the call. Supersession conflicts are retried with
// fresh state a bounded number of times before surfacing.
func (b *Builder) Build(ctx context.Context, callID, producer string, artifacts []evidence.ArtifactReference) (evidence.Manifest, error) {
	callID = strings.TrimSpace(callID)
	producer = strings.TrimSpace(producer)
	if callID == "" {
		return evidence.Manifest{}, invalid("call_id_required", "call id must not be empty")
	}
	if producer == "" {
		return evidence.Manifest{}, invalid("producer_required", "producer must not be empty")
	}
	if err := validateArtifacts(artifacts); err != nil {
		return evidence.Manifest{}, err
	}

	m := evidence.Manifest{
		ID:        b.newID(),
		CallID:    callID,
		Producer:  producer,
		CreatedAt: b.clock().UTC(),
		Artifacts: append([]evidence.ArtifactReference(nil), artifacts...),
	}
	if m.Artifacts == nil {
		m.Artifacts = []evidence.ArtifactReference{}
	}

	hashable, err := evidence.ManifestHashable(m)
	if err != nil {
		return evidence.Manifest{}, fmt.Errorf("extract hashable content: %w", err)
	}
	if err := validate.ValidateManifestContent(hashable); err != nil {
		return evidence.Manifest{}, coreerrors.Wrap(err,
			coreerrors.CategoryInvalidInput, "manifest_schema_invalid", "", false)
	}
	prefixed, err := digest.DigestPrefixed(hashable)
	if err != nil {
		return evidence.Manifest{}, fmt.Errorf("digest manifest: %w", err)
	}
	m.ManifestHash = prefixed

	var lastErr error
	for attempt := 0; attempt < supersedeRetries; attempt++ {
		lastErr = b.store.CreateManifest(ctx, m)
		if lastErr == nil {
			return m, nil
		}
		if coreerrors.CategoryOf(lastErr) != coreerrors.CategoryStateContention || !coreerrors.RetryableOf(lastErr) {
			return evidence.Manifest{}, lastErr
		}
	}
	return evidence.Manifest{}, lastErr
}

// Hash recomputes a manifest's content hash. Shared by the verifier so the
// write path and the verify path cannot drift.
func Hash(m evidence.Manifest) (string, error) {
	hashable, err := evidence.ManifestHashable(m)
	if err != nil {
		return "", fmt.Errorf("extract hashable content: %w", err)
	}
	return digest.DigestPrefixed(hashable)
}

func validateArtifacts(artifacts []evidence.ArtifactReference) error {
	seen := make(map[string]struct{}, len(artifacts))
	for index, artifact := range artifacts {
		if !evidence.KnownArtifactType(artifact.Type) {
			return invalid("artifact_type_unknown",
				fmt.Sprintf("artifact[%d] has unknown type %q", index, artifact.Type))
		}
		if strings.TrimSpace(artifact.ID) == "" {
			return invalid("artifact_id_required",
				fmt.Sprintf("artifact[%d] id must not be empty", index))
		}
		if artifact.SHA256 != nil && !validSHA256Hex(*artifact.SHA256) {
			return invalid("artifact_sha256_invalid",
				fmt.Sprintf("artifact[%d] sha256 must be 64 lowercase hex chars", index))
		}
		key := string(artifact.Type) + "\x00" + artifact.ID
		if _, duplicate := seen[key]; duplicate {
			return invalid("artifact_duplicate",
				fmt.Sprintf("duplicate artifact reference (%s, %s)", artifact.Type, artifact.ID))
		}
		seen[key] = struct{}{}
	}
	return nil
}

func validSHA256Hex(value string) bool {
	if len(value) != 64 || value != strings.ToLower(value) {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

func invalid(code, message string) error {
	return coreerrors.Wrap(fmt.Errorf("%s", message),
		coreerrors.CategoryInvalidInput, code, "", false)
}
