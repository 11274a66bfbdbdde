// Package verify recomputes stored hashes and reports match or mismatch.
// It is a read-only audit primitive: nothing here mutates state, and a
// failed check is a result, not an error.
package verify

import (
	"context"
	"fmt"

	"github.com/davidahmann/callproof/core/bundle"
	"github.com/davidahmann/callproof/core/digest"
	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/manifest"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

// Store is the read-only slice of persistence the verifier needs.
type Store interface {
	ManifestByID(ctx context.Context, id string) (evidence.Manifest, error)
	BundleByID(ctx context.Context, id string) (evidence.Bundle, error)
	CurrentBundleByManifest(ctx context.Context, manifestID string) (evidence.Bundle, error)
}

// BundleResult reports the three independent recompute-and-compare checks
// for a bundle. OK is true only when all three pass.
type BundleResult struct {
	OK                  bool     `json:"ok"`
	BundleID            string   `json:"bundle_id"`
	ManifestID          string   `json:"manifest_id"`
	BundleHashMatch     bool     `json:"bundle_hash_match"`
	ManifestHashMatch   bool     `json:"manifest_hash_match"`
	ArtifactHashesMatch bool     `json:"artifact_hashes_match"`
	Details             []string `json:"details,omitempty"`
}

// ManifestResult reports the manifest-only half, plus whether a current
// bundle exists (the orphan condition the repair job fixes).
type ManifestResult struct {
	OK                bool     `json:"ok"`
	ManifestID        string   `json:"manifest_id"`
	ManifestHashMatch bool     `json:"manifest_hash_match"`
	HasCurrentBundle  bool     `json:"has_current_bundle"`
	Details           []string `json:"details,omitempty"`
}

type Verifier struct {
	store Store
}

func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

// VerifyBundle recomputes the bundle hash from the stored payload, the
// manifest hash from the stored manifest, and compares the bundle's
// embedded artifact-hash set against the manifest's normalized set.
func (v *Verifier) VerifyBundle(ctx context.Context, bundleID string) (BundleResult, error) {
	stored, err := v.store.BundleByID(ctx, bundleID)
	if err != nil {
		return BundleResult{}, err
	}
	m, err := v.store.ManifestByID(ctx, stored.ManifestID)
	if err != nil {
		return BundleResult{}, err
	}

	result := BundleResult{
		BundleID:   stored.ID,
		ManifestID: m.ID,
	}

	recomputedBundleHash, err := bundle.Hash(stored.Payload)
	if err != nil {
		return BundleResult{}, fmt.Errorf("recompute bundle hash: %w", err)
	}
	result.BundleHashMatch = hashesEqual(recomputedBundleHash, stored.BundleHash)
	if !result.BundleHashMatch {
		result.Details = append(result.Details,
			fmt.Sprintf("bundle hash mismatch: stored %s, recomputed %s", stored.BundleHash, recomputedBundleHash))
	}

	recomputedManifestHash, err := manifest.Hash(m)
	if err != nil {
		return BundleResult{}, fmt.Errorf("recompute manifest hash: %w", err)
	}
	result.ManifestHashMatch = hashesEqual(recomputedManifestHash, m.ManifestHash)
	if !result.ManifestHashMatch {
		result.Details = append(result.Details,
			fmt.Sprintf("manifest hash mismatch: stored %s, recomputed %s", m.ManifestHash, recomputedManifestHash))
	}

	result.ArtifactHashesMatch = artifactSetsEqual(
		bundle.NormalizeArtifactHashes(m.Artifacts),
		stored.Payload.ArtifactHashes,
		&result.Details,
	)

	result.OK = result.BundleHashMatch && result.ManifestHashMatch && result.ArtifactHashesMatch
	return result, nil
}

// VerifyManifest recomputes the manifest hash and checks for a current
// bundle. HasCurrentBundle does not gate OK: a freshly built manifest is
// intact before its bundle exists.
func (v *Verifier) VerifyManifest(ctx context.Context, manifestID string) (ManifestResult, error) {
	m, err := v.store.ManifestByID(ctx, manifestID)
	if err != nil {
		return ManifestResult{}, err
	}

	result := ManifestResult{ManifestID: m.ID}

	recomputed, err := manifest.Hash(m)
	if err != nil {
		return ManifestResult{}, fmt.Errorf("recompute manifest hash: %w", err)
	}
	result.ManifestHashMatch = hashesEqual(recomputed, m.ManifestHash)
	if !result.ManifestHashMatch {
		result.Details = append(result.Details,
			fmt.Sprintf("manifest hash mismatch: stored %s, recomputed %s", m.ManifestHash, recomputed))
	}

	_, err = v.store.CurrentBundleByManifest(ctx, m.ID)
	switch {
	case err == nil:
		result.HasCurrentBundle = true
	case coreerrors.CategoryOf(err) == coreerrors.CategoryNotFound:
		result.Details = append(result.Details, "no current bundle exists for this manifest")
	default:
		return ManifestResult{}, err
	}

	result.OK = result.ManifestHashMatch
	return result, nil
}

func hashesEqual(first, second string) bool {
	firstAlg, firstHex := digest.SplitPrefixed(first)
	secondAlg, secondHex := digest.SplitPrefixed(second)
	return firstAlg == secondAlg && digest.Equal(firstHex, secondHex)
}

func artifactSetsEqual(expected, actual []evidence.ArtifactReference, details *[]string) bool {
	if len(expected) != len(actual) {
		*details = append(*details,
			fmt.Sprintf("artifact hash count mismatch: manifest has %d, bundle has %d", len(expected), len(actual)))
		return false
	}
	equal := true
	for index := range expected {
		if expected[index].Type != actual[index].Type || expected[index].ID != actual[index].ID {
			*details = append(*details,
				fmt.Sprintf("artifact[%d] identity mismatch: manifest (%s,%s), bundle (%s,%s)",
					index, expected[index].Type, expected[index].ID, actual[index].Type, actual[index].ID))
			equal = false
			continue
		}
		if !shaEqual(expected[index].SHA256, actual[index].SHA256) {
			*details = append(*details,
				fmt.Sprintf("artifact[%d] (%s,%s) sha256 mismatch",
					index, expected[index].Type, expected[index].ID))
			equal = false
		}
	}
	return equal
}

func shaEqual(first, second *string) bool {
	if first == nil || second == nil {
		return first == nil && second == nil
	}
	return digest.Equal(*first, *second)
}
