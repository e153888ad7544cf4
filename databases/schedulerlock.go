package databases

// go generate: mockery --name SchedulerLockDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const schedulerLockName = "schedulerLocks"

// SchedulerLockDatabase provides a mongo-backed distributed lock so cron jobs
// run on exactly one instance at a time
type SchedulerLockDatabase interface {
	TryAcquireLock(ctx context.Context, jobName, instanceID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, jobName, instanceID string) error
}

type schedulerLockDatabase struct {
	db DatabaseHelper
}

// NewSchedulerLockDatabase initializes a new instance of scheduler lock database with the provided db connection
func NewSchedulerLockDatabase(db DatabaseHelper) SchedulerLockDatabase {
	return &schedulerLockDatabase{
		db: db,
	}
}

// TryAcquireLock attempts an upsert guarded on the lock being free or expired.
// A duplicate-key or no-match outcome means another instance holds the lock.
func (s *schedulerLockDatabase) TryAcquireLock(ctx context.Context, jobName, instanceID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"_id": jobName,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$lt": primitive.NewDateTimeFromTime(now)}},
			{"heldBy": instanceID},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"heldBy":     instanceID,
			"acquiredAt": primitive.NewDateTimeFromTime(now),
			"expiresAt":  primitive.NewDateTimeFromTime(now.Add(ttl)),
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.db.Collection(schedulerLockName).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *schedulerLockDatabase) ReleaseLock(ctx context.Context, jobName, instanceID string) error {
	_, err := s.db.Collection(schedulerLockName).DeleteOne(ctx, bson.M{"_id": jobName, "heldBy": instanceID})
	return err
}
