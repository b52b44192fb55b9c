package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/wrale/phantom/internal/validation"
)

// DeviceAuthCollectionName holds one document per device authorization request
const DeviceAuthCollectionName = "device_authorizations"

// Index names, matched against duplicate key errors
const (
	deviceCodeIndex = "device_code_unique"
	userCodeIndex   = "user_code_unique"
)

// MongoStore implements the Store interface on a MongoDB collection.
// Writes are compare-and-set on the document version.
type MongoStore struct {
	db     *mongo.Database
	coll   *mongo.Collection
	retain time.Duration
}

// NewMongoStore creates a store on db. Call EnsureIndexes before use.
func NewMongoStore(db *mongo.Database, retain time.Duration) *MongoStore {
	return &MongoStore{
		db:     db,
		coll:   db.Collection(DeviceAuthCollectionName),
		retain: retain,
	}
}

// EnsureIndexes creates the uniqueness and TTL indexes the store relies on
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "device_code", Value: 1}},
			Options: options.Index().SetName(deviceCodeIndex).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_code", Value: 1}},
			Options: options.Index().SetName(userCodeIndex).SetUnique(true),
		},
		{
			// The server's TTL monitor backs up PurgeExpired
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.retain / time.Second)),
		},
	})
	if err != nil {
		return fmt.Errorf("creating device authorization indexes: %w", err)
	}
	return nil
}

// CheckHealth pings the primary
func (s *MongoStore) CheckHealth(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo health check failed: %w", err)
	}
	return nil
}

// Create inserts a new record. An expired record still inside its retention
// window keeps answering polls, so it gives up its user code by having the
// device code appended rather than being deleted.
func (s *MongoStore) Create(ctx context.Context, auth *DeviceAuthorization) error {
	_, err := s.coll.UpdateMany(ctx, bson.M{
		"user_code":  auth.UserCode,
		"expires_at": bson.M{"$lte": auth.CreatedAt},
	}, mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"user_code": bson.M{"$concat": bson.A{"$user_code", "#", "$device_code"}},
		}}},
	})
	if err != nil {
		return fmt.Errorf("releasing stale user code: %w", err)
	}

	stored := *auth
	stored.Version = 1
	if _, err := s.coll.InsertOne(ctx, &stored); err != nil {
		switch duplicateIndex(err) {
		case userCodeIndex:
			return ErrUserCodeTaken
		case deviceCodeIndex:
			return ErrDeviceCodeTaken
		}
		return fmt.Errorf("inserting device authorization: %w", err)
	}

	auth.Version = stored.Version
	return nil
}

func (s *MongoStore) Get(ctx context.Context, deviceCode string) (*DeviceAuthorization, error) {
	return s.findOne(ctx, bson.M{"device_code": deviceCode})
}

func (s *MongoStore) GetByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	return s.findOne(ctx, bson.M{"user_code": validation.FormatCode(userCode)})
}

func (s *MongoStore) Update(ctx context.Context, deviceCode string, fn func(*DeviceAuthorization) error) (*DeviceAuthorization, error) {
	for i := 0; i < maxTxRetries; i++ {
		current, err := s.Get(ctx, deviceCode)
		if err != nil {
			return nil, err
		}

		next := *current
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.Version = current.Version + 1

		res, err := s.coll.ReplaceOne(ctx, bson.M{
			"device_code": deviceCode,
			"version":     current.Version,
		}, &next)
		if err != nil {
			return nil, fmt.Errorf("replacing device authorization: %w", err)
		}
		if res.MatchedCount == 1 {
			return &next, nil
		}
	}
	return nil, fmt.Errorf("updating device authorization %s: too many concurrent writers", deviceCode)
}

func (s *MongoStore) Consume(ctx context.Context, deviceCode string) (*DeviceAuthorization, error) {
	var auth DeviceAuthorization
	err := s.coll.FindOneAndDelete(ctx, bson.M{
		"device_code": deviceCode,
		"status":      StatusApproved,
	}).Decode(&auth)
	if err == nil {
		return &auth, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("consuming device authorization: %w", err)
	}

	// Tell a missing record apart from one in the wrong state
	if _, err := s.Get(ctx, deviceCode); err != nil {
		return nil, err
	}
	return nil, ErrNotApproved
}

func (s *MongoStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("deleting expired device authorizations: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*DeviceAuthorization, error) {
	var auth DeviceAuthorization
	if err := s.coll.FindOne(ctx, filter).Decode(&auth); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("finding device authorization: %w", err)
	}
	return &auth, nil
}

// duplicateIndex names the unique index a write collided with, or returns ""
func duplicateIndex(err error) string {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return ""
	}
	for _, e := range we.WriteErrors {
		if e.Code != 11000 {
			continue
		}
		for _, name := range []string{userCodeIndex, deviceCodeIndex} {
			if strings.Contains(e.Message, "index: "+name+" ") {
				return name
			}
		}
	}
	return ""
}
