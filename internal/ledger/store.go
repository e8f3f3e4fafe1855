// Package ledger keeps the per-subject failure and success records that drive retries.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/database"
	"github.com/InternetOfUs/app-survey/internal/models"
)

var ErrNotFound = errors.New("LEDGER_RECORD_NOT_FOUND")

const (
	FailuresTable  = "failed_profile_updates"
	SuccessesTable = "last_profile_updates"
)

// Store holds at most one FailedUpdateRecord and one LastSuccessRecord per subject.
// Upserts replace the whole record. Implementations are safe for concurrent use and
// concurrent writers for the same subject are last-writer-wins.
type Store interface {
	GetFailure(ctx context.Context, subjectID string) (*models.FailedUpdateRecord, error)
	UpsertFailure(ctx context.Context, rec models.FailedUpdateRecord) error
	// DeleteFailure is a no-op when the subject has no record.
	DeleteFailure(ctx context.Context, subjectID string) error
	// ListFailures returns every outstanding failure, oldest failure time first.
	ListFailures(ctx context.Context) ([]models.FailedUpdateRecord, error)

	GetLastSuccess(ctx context.Context, subjectID string) (*models.LastSuccessRecord, error)
	UpsertLastSuccess(ctx context.Context, rec models.LastSuccessRecord) error
}

// Open builds the backend selected by cfg.Ledger.Backend. The returned func releases its
// connections.
func Open(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.Ledger.Backend {
	case config.LedgerMemory:
		return NewMemoryStore(), func() {}, nil

	case config.LedgerPostgres:
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgresStore(pg.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return store, func() { _ = pg.Close() }, nil

	case config.LedgerRedis:
		rc, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return nil, nil, err
		}
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, nil, err
		}
		return NewRedisStore(rc.Client, cfg.Database.Redis.KeyPrefix), func() { _ = rc.Close() }, nil

	case config.LedgerMongo:
		mc, err := database.NewMongo(ctx, cfg.Database.Mongo)
		if err != nil {
			return nil, nil, err
		}
		store := NewMongoStore(mc.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = mc.Close(ctx)
			return nil, nil, err
		}
		return store, func() { _ = mc.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
}
