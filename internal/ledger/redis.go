// internal/ledger/redis.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/InternetOfUs/app-survey/internal/models"
)

// RedisStore keeps one hash per failure record, a sorted set of subject ids scored by
// failure time, and one string per success record.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) failureKey(subjectID string) string {
	return s.prefix + FailuresTable + ":" + subjectID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + FailuresTable + ":index"
}

func (s *RedisStore) successKey(subjectID string) string {
	return s.prefix + SuccessesTable + ":" + subjectID
}

func (s *RedisStore) GetFailure(ctx context.Context, subjectID string) (*models.FailedUpdateRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.failureKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failure record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFailure(subjectID, fields)
}

func (s *RedisStore) UpsertFailure(ctx context.Context, rec models.FailedUpdateRecord) error {
	failedAt := rec.FailureTime.UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.failureKey(rec.SubjectID)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"raw_survey_answer", string(rec.RawSurveyAnswer),
			"failure_time", failedAt.Format(time.RFC3339Nano),
			"retry_count", rec.RetryCount,
		)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(failedAt.UnixMilli()), Member: rec.SubjectID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert failure record: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteFailure(ctx context.Context, subjectID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.failureKey(subjectID))
		pipe.ZRem(ctx, s.indexKey(), subjectID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete failure record: %w", err)
	}
	return nil
}

func (s *RedisStore) ListFailures(ctx context.Context) ([]models.FailedUpdateRecord, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.failureKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read failure records: %w", err)
	}

	out := make([]models.FailedUpdateRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		// deleted between ZRANGE and HGETALL
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeFailure(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *RedisStore) GetLastSuccess(ctx context.Context, subjectID string) (*models.LastSuccessRecord, error) {
	raw, err := s.client.Get(ctx, s.successKey(subjectID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read success record: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt success record for %s: %w", subjectID, err)
	}
	return &models.LastSuccessRecord{SubjectID: subjectID, LastUpdateTime: at}, nil
}

func (s *RedisStore) UpsertLastSuccess(ctx context.Context, rec models.LastSuccessRecord) error {
	value := rec.LastUpdateTime.UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, s.successKey(rec.SubjectID), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to upsert success record: %w", err)
	}
	return nil
}

func decodeFailure(subjectID string, fields map[string]string) (*models.FailedUpdateRecord, error) {
	failedAt, err := time.Parse(time.RFC3339Nano, fields["failure_time"])
	if err != nil {
		return nil, fmt.Errorf("corrupt failure record for %s: %w", subjectID, err)
	}
	retries, err := strconv.Atoi(fields["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("corrupt failure record for %s: %w", subjectID, err)
	}
	return &models.FailedUpdateRecord{
		SubjectID:       subjectID,
		RawSurveyAnswer: []byte(fields["raw_survey_answer"]),
		FailureTime:     failedAt,
		RetryCount:      retries,
	}, nil
}
