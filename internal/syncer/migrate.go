package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/ct/internal/conflict"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/remote"
)

// MigrationBatchSize is how many events are uploaded per round.
const MigrationBatchSize = 10

// MigrationStore is the local side of a migration.
type MigrationStore interface {
	ListAll(ctx context.Context) ([]models.Event, error)
	ApplyMerged(ctx context.Context, events []models.Event) error
}

// MigrationProgress reports one step of a migration.
type MigrationProgress struct {
	Step    string
	Current int
	Total   int
}

// MigrationResult summarizes a migration. Success means every merged event
// was uploaded and nothing failed.
type MigrationResult struct {
	Success  bool
	Migrated int
	Verified int
	Errors   []string
}

// Migrate copies every event from source, merged with the local store, into
// target, then verifies by reading target back and refreshes the local
// store from it. A failing source read is recorded and migration continues
// with local data only.
func Migrate(ctx context.Context, source, target remote.Adapter, store MigrationStore, progress func(MigrationProgress)) (MigrationResult, error) {
	var res MigrationResult
	report := func(p MigrationProgress) {
		if progress != nil {
			progress(p)
		}
	}
	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Errors = append(res.Errors, msg)
		slog.Warn("migrate: step failed", "err", msg)
	}

	report(MigrationProgress{Step: fmt.Sprintf("Fetching data from %s", source.Kind())})
	sourceEvents, err := source.PullAll(ctx, true)
	if err != nil {
		fail("fetch from %s: %v", source.Kind(), err)
	}

	local, err := store.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("list local events: %w", err)
	}
	report(MigrationProgress{Step: fmt.Sprintf("Fetched %d remote and %d local events", len(sourceEvents), len(local))})

	merged := conflict.MergeCollections(local, sourceEvents, true)
	total := len(merged)
	report(MigrationProgress{Step: fmt.Sprintf("Merged %d unique events", total), Total: total})

	batcher, canBatch := target.(remote.BatchUpserter)
	for i := 0; i < total; i += MigrationBatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := merged[i:min(i+MigrationBatchSize, total)]
		if canBatch {
			if err := batcher.PushBatchUpsert(ctx, batch); err != nil {
				fail("upload batch at %d: %v", i, err)
			} else {
				res.Migrated += len(batch)
			}
		} else {
			for _, e := range batch {
				if err := target.PushCreate(ctx, e); err != nil {
					fail("upload %s: %v", e.ID, err)
					continue
				}
				res.Migrated++
			}
		}
		report(MigrationProgress{Step: fmt.Sprintf("Uploading to %s", target.Kind()), Current: res.Migrated, Total: total})
	}

	report(MigrationProgress{Step: "Verifying uploaded data"})
	verified, err := target.PullAll(ctx, true)
	if err != nil {
		fail("verify %s: %v", target.Kind(), err)
	} else {
		res.Verified = len(verified)
		if err := store.ApplyMerged(ctx, conflict.MergeCollections(local, verified, true)); err != nil {
			fail("refresh local cache: %v", err)
		}
	}

	res.Success = res.Migrated == total && len(res.Errors) == 0
	if res.Success {
		report(MigrationProgress{Step: "Migration completed", Current: total, Total: total})
	} else {
		report(MigrationProgress{Step: fmt.Sprintf("Migration completed with %d error(s)", len(res.Errors))})
	}
	return res, nil
}
