package casefs

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ReconcileOptions controls an orphan sweep.
type ReconcileOptions struct {
	// Prefix restricts the sweep to keys under it ("" = everything).
	Prefix string
	// GracePeriod spares blobs younger than this, so uploads whose row is
	// still being written are not collected. Zero disables the check.
	GracePeriod time.Duration
	// DryRun reports orphans without deleting them.
	DryRun bool
}

// ReconcileReport is the outcome of a sweep.
type ReconcileReport struct {
	Scanned       int      `json:"scanned"`
	OrphanedBlobs []string `json:"orphaned_blobs,omitempty"`
	DeletedBlobs  []string `json:"deleted_blobs,omitempty"`
	// MissingBlobs are rows whose blob is gone. They are reported, never deleted.
	MissingBlobs []string `json:"missing_blobs,omitempty"`
	Failures     int      `json:"failures"`
}

// Reconcile compares the blob store against the metadata store. Blobs no
// row references are deleted (unless DryRun); rows whose blob is missing
// are reported.
func (s *Service) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error) {
	keys, err := s.database.ListStorageKeys(ctx)
	if err != nil {
		return nil, upstream("listing storage keys", err)
	}
	referenced := make(map[string]bool, len(keys))
	for _, k := range keys {
		referenced[k] = true
	}

	blobs, err := s.blobs.List(ctx, opts.Prefix)
	if err != nil {
		return nil, upstream("listing blobs", err)
	}

	report := &ReconcileReport{Scanned: len(blobs)}
	now := s.clock.Now()
	present := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		present[b.Key] = true
		if referenced[b.Key] {
			continue
		}
		if opts.GracePeriod > 0 && now.Sub(b.ModifiedAt) < opts.GracePeriod {
			continue
		}
		report.OrphanedBlobs = append(report.OrphanedBlobs, b.Key)
		if opts.DryRun {
			continue
		}
		if err := s.blobs.Delete(ctx, b.Key); err != nil && !errors.Is(err, ErrBlobNotFound) {
			s.logger.Warn("orphan delete failed", "key", b.Key, "error", err)
			report.Failures++
			continue
		}
		report.DeletedBlobs = append(report.DeletedBlobs, b.Key)
	}

	for _, k := range keys {
		if strings.HasPrefix(k, opts.Prefix) && !present[k] {
			report.MissingBlobs = append(report.MissingBlobs, k)
		}
	}

	s.logger.Info("reconcile complete", "scanned", report.Scanned, "orphans", len(report.OrphanedBlobs),
		"deleted", len(report.DeletedBlobs), "missing", len(report.MissingBlobs), "dry_run", opts.DryRun)
	return report, nil
}
