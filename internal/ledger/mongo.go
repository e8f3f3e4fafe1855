// internal/ledger/mongo.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/InternetOfUs/app-survey/internal/models"
)

// MongoStore keeps the ledger in two collections keyed by subject_id.
type MongoStore struct {
	failures  *mongo.Collection
	successes *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		failures:  db.Collection(FailuresTable),
		successes: db.Collection(SuccessesTable),
	}
}

// EnsureIndexes creates the unique subject indexes and the failure time index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := mongo.IndexModel{Keys: bson.D{{Key: "subject_id", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := s.failures.Indexes().CreateMany(ctx, []mongo.IndexModel{
		unique,
		{Keys: bson.D{{Key: "failure_time", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create failure indexes: %w", err)
	}
	if _, err := s.successes.Indexes().CreateOne(ctx, unique); err != nil {
		return fmt.Errorf("failed to create success index: %w", err)
	}
	return nil
}

func (s *MongoStore) GetFailure(ctx context.Context, subjectID string) (*models.FailedUpdateRecord, error) {
	var rec models.FailedUpdateRecord
	err := s.failures.FindOne(ctx, bson.M{"subject_id": subjectID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read failure record: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) UpsertFailure(ctx context.Context, rec models.FailedUpdateRecord) error {
	update := bson.M{"$set": bson.M{
		"raw_survey_answer": []byte(rec.RawSurveyAnswer),
		"failure_time":      rec.FailureTime.UTC(),
		"retry_count":       rec.RetryCount,
	}}
	_, err := s.failures.UpdateOne(ctx, bson.M{"subject_id": rec.SubjectID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert failure record: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteFailure(ctx context.Context, subjectID string) error {
	if _, err := s.failures.DeleteOne(ctx, bson.M{"subject_id": subjectID}); err != nil {
		return fmt.Errorf("failed to delete failure record: %w", err)
	}
	return nil
}

func (s *MongoStore) ListFailures(ctx context.Context) ([]models.FailedUpdateRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "failure_time", Value: 1}, {Key: "subject_id", Value: 1}})
	cursor, err := s.failures.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.FailedUpdateRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode failure records: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetLastSuccess(ctx context.Context, subjectID string) (*models.LastSuccessRecord, error) {
	var rec models.LastSuccessRecord
	err := s.successes.FindOne(ctx, bson.M{"subject_id": subjectID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read success record: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) UpsertLastSuccess(ctx context.Context, rec models.LastSuccessRecord) error {
	update := bson.M{"$set": bson.M{"last_update_time": rec.LastUpdateTime.UTC()}}
	_, err := s.successes.UpdateOne(ctx, bson.M{"subject_id": rec.SubjectID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert success record: %w", err)
	}
	return nil
}
