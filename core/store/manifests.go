package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

// CreateManifest inserts a manifest and, in the same transaction, marks any
// prior current manifest for the call superseded by it. The supersession
// update is conditional on the prior row still being current; losing that
// race yields a state_contention error and nothing is written.
func (s *Store) CreateManifest(ctx context.Context, m evidence.Manifest) error {
	artifacts, err := json.Marshal(m.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var priorID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM manifests WHERE call_id = ? AND superseded_at IS NULL`,
		m.CallID,
	).Scan(&priorID)
	switch {
	case err == nil:
		result, updateErr := tx.ExecContext(ctx,
			`UPDATE manifests SET superseded_at = ?, superseded_by = ?
			 WHERE id = ? AND superseded_at IS NULL`,
			encodeTime(m.CreatedAt), m.ID, priorID,
		)
		if updateErr != nil {
			return fmt.Errorf("supersede manifest %s: %w", priorID, updateErr)
		}
		affected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return fmt.Errorf("supersede manifest %s: %w", priorID, affectedErr)
		}
		if affected != 1 {
			return coreerrors.Wrap(
				fmt.Errorf("manifest %s already superseded", priorID),
				coreerrors.CategoryStateContention, "manifest_supersession_conflict",
				"reload the current manifest and retry", true,
			)
		}
		if auditErr := appendAuditTx(ctx, tx, evidence.AuditRecord{
			Actor:        m.Producer,
			Action:       "manifest.supersede",
			ResourceType: "manifest",
			ResourceID:   priorID,
			After:        json.RawMessage(fmt.Sprintf(`{"superseded_by":%q}`, m.ID)),
			CreatedAt:    m.CreatedAt,
		}); auditErr != nil {
			return auditErr
		}
	case stderrors.Is(err, sql.ErrNoRows):
		// First manifest for this call.
	default:
		return fmt.Errorf("query current manifest: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifests (id, call_id, producer, created_at, artifacts, manifest_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.CallID, m.Producer, encodeTime(m.CreatedAt), string(artifacts), m.ManifestHash,
	); err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("commit manifest %s: %w", m.ID, err),
			coreerrors.CategoryStateContention, "manifest_commit_conflict",
			"retry with fresh state", true,
		)
	}
	return nil
}

// ManifestByID loads one manifest row.
func (s *Store) ManifestByID(ctx context.Context, id string) (evidence.Manifest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, call_id, producer, created_at, artifacts, manifest_hash, superseded_at, superseded_by
		 FROM manifests WHERE id = ?`, id)
	m, err := scanManifest(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return evidence.Manifest{}, coreerrors.Wrap(
			fmt.Errorf("manifest %s: %w", id, err),
			coreerrors.CategoryNotFound, "manifest_not_found", "check the manifest id", false,
		)
	}
	return m, err
}

// CurrentManifestByCall returns the single non-superseded manifest for a
// call, or a not_found error when none exists.
func (s *Store) CurrentManifestByCall(ctx context.Context, callID string) (evidence.Manifest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, call_id, producer, created_at, artifacts, manifest_hash, superseded_at, superseded_by
		 FROM manifests WHERE call_id = ? AND superseded_at IS NULL`, callID)
	m, err := scanManifest(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return evidence.Manifest{}, coreerrors.Wrap(
			fmt.Errorf("no current manifest for call %s: %w", callID, err),
			coreerrors.CategoryNotFound, "manifest_not_found", "build a manifest for the call first", false,
		)
	}
	return m, err
}

// ManifestsByCall returns every manifest row for a call, newest first,
// including superseded history.
func (s *Store) ManifestsByCall(ctx context.Context, callID string) ([]evidence.Manifest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, producer, created_at, artifacts, manifest_hash, superseded_at, superseded_by
		 FROM manifests WHERE call_id = ? ORDER BY created_at DESC`, callID)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanManifests(rows)
}

// CurrentManifestsWithoutBundle returns the newest current manifests that
// have no current bundle, bounded by limit. This is the repair job's scan.
func (s *Store) CurrentManifestsWithoutBundle(ctx context.Context, limit int) ([]evidence.Manifest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.call_id, m.producer, m.created_at, m.artifacts, m.manifest_hash, m.superseded_at, m.superseded_by
		 FROM manifests m
		 WHERE m.superseded_at IS NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM bundles b WHERE b.manifest_id = m.id AND b.superseded_at IS NULL
		   )
		 ORDER BY m.created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orphan manifests: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanManifests(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (evidence.Manifest, error) {
	var (
		m            evidence.Manifest
		createdAt    string
		artifacts    string
		supersededAt sql.NullString
		supersededBy sql.NullString
	)
	if err := row.Scan(&m.ID, &m.CallID, &m.Producer, &createdAt, &artifacts,
		&m.ManifestHash, &supersededAt, &supersededBy); err != nil {
		return evidence.Manifest{}, err
	}
	parsedCreated, err := decodeTime(createdAt)
	if err != nil {
		return evidence.Manifest{}, err
	}
	m.CreatedAt = parsedCreated
	if err := json.Unmarshal([]byte(artifacts), &m.Artifacts); err != nil {
		return evidence.Manifest{}, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if m.SupersededAt, err = decodeNullableTime(supersededAt); err != nil {
		return evidence.Manifest{}, err
	}
	m.SupersededBy = decodeNullableString(supersededBy)
	return m, nil
}

func scanManifests(rows *sql.Rows) ([]evidence.Manifest, error) {
	var manifests []evidence.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}
	return manifests, nil
}

// InsertManifestRaw inserts a manifest row without supersession handling.
// Test and migration seam for simulating partial failures (a manifest that
// never got its bundle).
func (s *Store) InsertManifestRaw(ctx context.Context, m evidence.Manifest) error {
	artifacts, err := json.Marshal(m.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO manifests (id, call_id, producer, created_at, artifacts, manifest_hash, superseded_at, superseded_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CallID, m.Producer, encodeTime(m.CreatedAt), string(artifacts), m.ManifestHash,
		encodeNullableTime(m.SupersededAt), encodeNullableString(m.SupersededBy),
	)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}
