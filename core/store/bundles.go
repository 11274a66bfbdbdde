package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

// CreateBundle inserts a bundle row. When supersede is true any prior
// current bundle for the manifest is conditionally marked superseded in the
// same transaction. When supersede is false and a current bundle already
// exists the call fails with state_contention and writes nothing; the
// repair job uses this mode so racing with organic creation can never
// produce two current bundles.
func (s *Store) CreateBundle(ctx context.Context, b evidence.Bundle, supersede bool) error {
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
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
		`SELECT id FROM bundles WHERE manifest_id = ? AND superseded_at IS NULL`,
		b.ManifestID,
	).Scan(&priorID)
	switch {
	case err == nil:
		if !supersede {
			return coreerrors.Wrap(
				fmt.Errorf("manifest %s already has current bundle %s", b.ManifestID, priorID),
				coreerrors.CategoryStateContention, "bundle_exists",
				"a current bundle already exists for this manifest", false,
			)
		}
		result, updateErr := tx.ExecContext(ctx,
			`UPDATE bundles SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL`,
			encodeTime(b.CreatedAt), priorID,
		)
		if updateErr != nil {
			return fmt.Errorf("supersede bundle %s: %w", priorID, updateErr)
		}
		affected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return fmt.Errorf("supersede bundle %s: %w", priorID, affectedErr)
		}
		if affected != 1 {
			return coreerrors.Wrap(
				fmt.Errorf("bundle %s already superseded", priorID),
				coreerrors.CategoryStateContention, "bundle_supersession_conflict",
				"reload the current bundle and retry", true,
			)
		}
		if auditErr := appendAuditTx(ctx, tx, evidence.AuditRecord{
			Actor:        "callproof",
			Action:       "bundle.supersede",
			ResourceType: "bundle",
			ResourceID:   priorID,
			After:        json.RawMessage(fmt.Sprintf(`{"superseded_by":%q}`, b.ID)),
			CreatedAt:    b.CreatedAt,
		}); auditErr != nil {
			return auditErr
		}
	case stderrors.Is(err, sql.ErrNoRows):
		// First bundle for this manifest.
	default:
		return fmt.Errorf("query current bundle: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bundles (
		    id, manifest_id, payload, bundle_hash, evidence_completeness,
		    custody_status, retention_class, legal_hold_flag, tsa_status,
		    tsa_token, tsa_received_at, tsa_error, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ManifestID, string(payload), b.BundleHash, string(b.EvidenceCompleteness),
		string(b.CustodyStatus), string(b.RetentionClass), boolToInt(b.LegalHoldFlag),
		string(b.TSAStatus), encodeNullableString(b.TSAToken),
		encodeNullableTime(b.TSAReceivedAt), encodeNullableString(b.TSAError),
		encodeTime(b.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert bundle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("commit bundle %s: %w", b.ID, err),
			coreerrors.CategoryStateContention, "bundle_commit_conflict",
			"retry with fresh state", true,
		)
	}
	return nil
}

// BundleByID loads one bundle row.
func (s *Store) BundleByID(ctx context.Context, id string) (evidence.Bundle, error) {
	row := s.db.QueryRowContext(ctx, selectBundle+` WHERE id = ?`, id)
	b, err := scanBundle(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return evidence.Bundle{}, coreerrors.Wrap(
			fmt.Errorf("bundle %s: %w", id, err),
			coreerrors.CategoryNotFound, "bundle_not_found", "check the bundle id", false,
		)
	}
	return b, err
}

// CurrentBundleByManifest returns the single non-superseded bundle for a
// manifest, or a not_found error when none exists.
func (s *Store) CurrentBundleByManifest(ctx context.Context, manifestID string) (evidence.Bundle, error) {
	row := s.db.QueryRowContext(ctx, selectBundle+` WHERE manifest_id = ? AND superseded_at IS NULL`, manifestID)
	b, err := scanBundle(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return evidence.Bundle{}, coreerrors.Wrap(
			fmt.Errorf("no current bundle for manifest %s: %w", manifestID, err),
			coreerrors.CategoryNotFound, "bundle_not_found", "build or repair a bundle for the manifest", false,
		)
	}
	return b, err
}

// CurrentBundlesForRetention returns current, unretired bundles created at
// or before the cutoff, for the retention sweep. Legal-hold filtering is
// the sweep's responsibility so skips can be counted and logged.
func (s *Store) CurrentBundlesForRetention(ctx context.Context, cutoff time.Time, limit int) ([]evidence.Bundle, error) {
	rows, err := s.db.QueryContext(ctx,
		selectBundle+` WHERE superseded_at IS NULL AND custody_status != ? AND created_at <= ?
		 ORDER BY created_at ASC LIMIT ?`,
		string(evidence.CustodyRetired), encodeTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("query retention candidates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var bundles []evidence.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundles: %w", err)
	}
	return bundles, nil
}

// UpdateTSAStatus advances the TSA state machine with a conditional update:
// pending from none or failed (fresh submission) or from pending (token
// persistence after the authority accepts, and later polls that find the
// submission still outstanding); received and failed only from pending.
// A transition whose precondition no longer holds is state_contention.
func (s *Store) UpdateTSAStatus(ctx context.Context, bundleID string, status evidence.TSAStatus, token *string, receivedAt *time.Time, tsaError *string) error {
	var allowedFrom []string
	switch status {
	case evidence.TSAPending:
		allowedFrom = []string{string(evidence.TSANone), string(evidence.TSAFailed), string(evidence.TSAPending)}
	case evidence.TSAReceived, evidence.TSAFailed:
		allowedFrom = []string{string(evidence.TSAPending)}
	default:
		return coreerrors.Wrap(
			fmt.Errorf("invalid tsa status transition target: %s", status),
			coreerrors.CategoryInvalidInput, "tsa_invalid_transition", "", false,
		)
	}

	query := `UPDATE bundles SET tsa_status = ?, tsa_token = ?, tsa_received_at = ?, tsa_error = ?
	          WHERE id = ? AND tsa_status IN (?` // first placeholder of the IN list
	args := []any{string(status), encodeNullableString(token), encodeNullableTime(receivedAt), encodeNullableString(tsaError), bundleID, allowedFrom[0]}
	for _, from := range allowedFrom[1:] {
		query += ", ?"
		args = append(args, from)
	}
	query += ")"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update tsa status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tsa status: %w", err)
	}
	if affected != 1 {
		return coreerrors.Wrap(
			fmt.Errorf("tsa status transition to %s rejected for bundle %s", status, bundleID),
			coreerrors.CategoryStateContention, "tsa_transition_conflict",
			"reload the bundle and retry the submission", true,
		)
	}
	return nil
}

// SetLegalHold flips the legal-hold flag. Callers go through the retention
// package, which enforces that clearing requires an authorized actor and
// writes the audit record.
func (s *Store) SetLegalHold(ctx context.Context, bundleID string, flag bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bundles SET legal_hold_flag = ? WHERE id = ?`,
		boolToInt(flag), bundleID)
	if err != nil {
		return fmt.Errorf("set legal hold: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set legal hold: %w", err)
	}
	if affected != 1 {
		return coreerrors.Wrap(
			fmt.Errorf("bundle %s not found", bundleID),
			coreerrors.CategoryNotFound, "bundle_not_found", "check the bundle id", false,
		)
	}
	return nil
}

// RetireBundle marks a bundle's custody retired unless it is on legal
// hold. Returns true when the row transitioned.
func (s *Store) RetireBundle(ctx context.Context, bundleID string, _ time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bundles SET custody_status = ?
		 WHERE id = ? AND custody_status != ? AND legal_hold_flag = 0 AND retention_class != ?`,
		string(evidence.CustodyRetired), bundleID, string(evidence.CustodyRetired),
		string(evidence.RetentionLegalHold))
	if err != nil {
		return false, fmt.Errorf("retire bundle: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retire bundle: %w", err)
	}
	return affected == 1, nil
}

const selectBundle = `SELECT id, manifest_id, payload, bundle_hash, evidence_completeness,
    custody_status, retention_class, legal_hold_flag, tsa_status,
    tsa_token, tsa_received_at, tsa_error, created_at, superseded_at FROM bundles`

func scanBundle(row rowScanner) (evidence.Bundle, error) {
	var (
		b             evidence.Bundle
		payload       string
		legalHold     int
		tsaToken      sql.NullString
		tsaReceivedAt sql.NullString
		tsaError      sql.NullString
		createdAt     string
		supersededAt  sql.NullString
	)
	if err := row.Scan(&b.ID, &b.ManifestID, &payload, &b.BundleHash,
		&b.EvidenceCompleteness, &b.CustodyStatus, &b.RetentionClass,
		&legalHold, &b.TSAStatus, &tsaToken, &tsaReceivedAt, &tsaError,
		&createdAt, &supersededAt); err != nil {
		return evidence.Bundle{}, err
	}
	if err := json.Unmarshal([]byte(payload), &b.Payload); err != nil {
		return evidence.Bundle{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	b.LegalHoldFlag = legalHold != 0
	var err error
	if b.TSAReceivedAt, err = decodeNullableTime(tsaReceivedAt); err != nil {
		return evidence.Bundle{}, err
	}
	b.TSAToken = decodeNullableString(tsaToken)
	b.TSAError = decodeNullableString(tsaError)
	if b.CreatedAt, err = decodeTime(createdAt); err != nil {
		return evidence.Bundle{}, err
	}
	if b.SupersededAt, err = decodeNullableTime(supersededAt); err != nil {
		return evidence.Bundle{}, err
	}
	return b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
