// Package retention applies retention policy to evidence bundles: a
// periodic sweep that retires bundles past their class TTL, and the
// legal-hold controls that exempt a bundle from every sweep until an
// authorized actor clears the hold.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

// Store is the slice of persistence the retention layer needs.
type Store interface {
	BundleByID(ctx context.Context, id string) (evidence.Bundle, error)
	CurrentBundlesForRetention(ctx context.Context, cutoff time.Time, limit int) ([]evidence.Bundle, error)
	SetLegalHold(ctx context.Context, bundleID string, flag bool) error
	RetireBundle(ctx context.Context, bundleID string, retiredAt time.Time) (bool, error)
	AppendAudit(ctx context.Context, rec evidence.AuditRecord) error
}

// Policy maps retention classes to how long a bundle stays in custody.
// The legal_hold class has no TTL; those bundles never expire.
type Policy struct {
	DefaultTTL   time.Duration
	RegulatedTTL time.Duration
}

// DefaultPolicy keeps ordinary evidence for one year and regulated
// evidence for seven.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:   365 * 24 * time.Hour,
		RegulatedTTL: 7 * 365 * 24 * time.Hour,
	}
}

func (p Policy) ttl(class evidence.RetentionClass) (time.Duration, bool) {
	switch class {
	case evidence.RetentionDefault:
		return p.DefaultTTL, true
	case evidence.RetentionRegulated:
		return p.RegulatedTTL, true
	default:
		return 0, false
	}
}

const DefaultBatchSize = 200

// Report summarizes one retention sweep.
type Report struct {
	Scanned int `json:"scanned"`
	Retired int `json:"retired"`
	Skipped int `json:"skipped"`
}

type Sweeper struct {
	store  Store
	policy Policy
	logger *slog.Logger
	clock  func() time.Time
}

func NewSweeper(store Store, policy Policy, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, policy: policy, logger: logger, clock: time.Now}
}

func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Sweep retires current bundles whose class TTL has elapsed, bounded by
// batchSize. Bundles on legal hold are counted as skipped and never
// retired; a bundle that loses the race (hold set mid-sweep) is also
// skipped because RetireBundle's condition rejects it.
func (s *Sweeper) Sweep(ctx context.Context, batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	now := s.clock().UTC()

	// Query with the shortest TTL as the cutoff so every class that could
	// have expired is a candidate, then apply the per-class TTL so a
	// regulated bundle is never retired on the default schedule.
	candidates, err := s.store.CurrentBundlesForRetention(ctx, now.Add(-minTTL(s.policy)), batchSize)
	if err != nil {
		return Report{}, err
	}

	report := Report{Scanned: len(candidates)}
	for _, b := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if b.OnLegalHold() {
			report.Skipped++
			continue
		}
		ttl, ok := s.policy.ttl(b.RetentionClass)
		if !ok || now.Sub(b.CreatedAt) < ttl {
			report.Skipped++
			continue
		}
		retired, err := s.store.RetireBundle(ctx, b.ID, now)
		if err != nil {
			s.logger.Error("retire failed",
				slog.String("bundle_id", b.ID),
				slog.String("error", err.Error()))
			report.Skipped++
			continue
		}
		if !retired {
			report.Skipped++
			continue
		}
		report.Retired++
		if err := s.store.AppendAudit(ctx, evidence.AuditRecord{
			Actor:        "callproof/retention",
			Action:       "bundle.retire",
			ResourceType: "bundle",
			ResourceID:   b.ID,
			Reason:       fmt.Sprintf("retention class %s expired", b.RetentionClass),
			CreatedAt:    now,
		}); err != nil {
			s.logger.Error("audit append failed",
				slog.String("bundle_id", b.ID),
				slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// Run executes Sweep on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := s.Sweep(ctx, batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
				continue
			}
			if report.Retired > 0 {
				s.logger.Info("retention sweep completed",
					slog.Int("scanned", report.Scanned),
					slog.Int("retired", report.Retired),
					slog.Int("skipped", report.Skipped))
			}
		}
	}
}

func minTTL(p Policy) time.Duration {
	if p.RegulatedTTL < p.DefaultTTL {
		return p.RegulatedTTL
	}
	return p.DefaultTTL
}

// Holds manages the legal-hold lifecycle. Every flip is audited with the
// actor and reason that authorized it.
type Holds struct {
	store Store
	clock func() time.Time
}

func NewHolds(store Store) *Holds {
	return &Holds{store: store, clock: time.Now}
}

func (h *Holds) WithClock(clock func() time.Time) *Holds {
	h.clock = clock
	return h
}

// Set places a bundle on legal hold.
func (h *Holds) Set(ctx context.Context, bundleID, actor, reason string) error {
	return h.flip(ctx, bundleID, actor, reason, true)
}

// Clear releases a legal hold. Like Set it demands an actor and a
// reason; a hold release with no authorization trail is rejected.
func (h *Holds) Clear(ctx context.Context, bundleID, actor, reason string) error {
	return h.flip(ctx, bundleID, actor, reason, false)
}

func (h *Holds) flip(ctx context.Context, bundleID, actor, reason string, flag bool) error {
	if actor == "" {
		return coreerrors.Wrap(
			fmt.Errorf("legal hold change requires an actor"),
			coreerrors.CategoryInvalidInput, "hold_actor_required",
			"pass the identity making the change", false,
		)
	}
	if reason == "" {
		return coreerrors.Wrap(
			fmt.Errorf("legal hold change requires a reason"),
			coreerrors.CategoryInvalidInput, "hold_reason_required",
			"pass the matter or ticket justifying the change", false,
		)
	}

	b, err := h.store.BundleByID(ctx, bundleID)
	if err != nil {
		return err
	}
	if b.LegalHoldFlag == flag {
		// Already in the requested state; treat as a no-op rather than
		// writing a misleading audit record.
		return nil
	}
	if err := h.store.SetLegalHold(ctx, bundleID, flag); err != nil {
		return err
	}

	action := "legal_hold.set"
	if !flag {
		action = "legal_hold.clear"
	}
	return h.store.AppendAudit(ctx, evidence.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: "bundle",
		ResourceID:   bundleID,
		Reason:       reason,
		CreatedAt:    h.clock().UTC(),
	})
}
