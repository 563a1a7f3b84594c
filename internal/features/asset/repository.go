package asset

import (
	"context"
	"errors"
	"time"

	"go-assettrack/internal/database"
	"go-assettrack/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrStoreUnavailable marks connection-level failures so callers can tell an
// unreachable store apart from a rejected write.
var ErrStoreUnavailable = errors.New("asset store unavailable")

// ErrDuplicateKey is returned by strict-mode bulk inserts when any row
// collides with an existing code or tag.
var ErrDuplicateKey = errors.New("duplicate natural key")

const duplicateKeyCode = 11000

type AssetRepository interface {
	EnsureIndexes(ctx context.Context) error

	// BulkInsert writes one batch. Under ConflictPolicyStrict any natural-key
	// collision fails the whole call with ErrDuplicateKey. Under
	// ConflictPolicySkip colliding rows are skipped and reported by index.
	// Existing rows are never overwritten.
	BulkInsert(ctx context.Context, assets []models.Asset, policy models.ConflictPolicy) (inserted int, conflicts []int, err error)

	ExistsByCodeOrTag(ctx context.Context, code, tag string) (bool, error)
	List(ctx context.Context, filter map[string]any, limit, offset int64) ([]models.Asset, error)
	Count(ctx context.Context, filter map[string]any) (int64, error)
}

type AssetRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewAssetRepository(db *database.MongodbDB) AssetRepository {
	return &AssetRepositoryImpl{
		Collection: db.DB.Collection("assets"),
	}
}

func (r *AssetRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "tag", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

func (r *AssetRepositoryImpl) BulkInsert(ctx context.Context, assets []models.Asset, policy models.ConflictPolicy) (int, []int, error) {
	if len(assets) == 0 {
		return 0, nil, nil
	}

	now := time.Now()
	docs := make([]interface{}, 0, len(assets))
	for i := range assets {
		if assets[i].ID.IsZero() {
			assets[i].ID = primitive.NewObjectID()
		}
		assets[i].CreatedAt = now
		assets[i].UpdatedAt = now
		docs = append(docs, assets[i])
	}

	// Unordered so one rejected row does not block the rest of the batch.
	_, err := r.Collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(assets), nil, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		// Not a per-document rejection: the store itself is unreachable
		// (server selection, network, context deadline).
		return 0, nil, errors.Join(ErrStoreUnavailable, err)
	}

	var conflicts []int
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			// Non-duplicate rejection is a real write failure.
			return 0, nil, err
		}
		conflicts = append(conflicts, we.Index)
	}

	if policy == models.ConflictPolicyStrict {
		return 0, conflicts, ErrDuplicateKey
	}

	return len(assets) - len(conflicts), conflicts, nil
}

func (r *AssetRepositoryImpl) ExistsByCodeOrTag(ctx context.Context, code, tag string) (bool, error) {
	filter := bson.M{"$or": []bson.M{
		{"code": code},
		{"tag": tag},
	}}

	count, err := r.Collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

func (r *AssetRepositoryImpl) List(ctx context.Context, filter map[string]any, limit, offset int64) ([]models.Asset, error) {
	query := bson.M{}
	for k, v := range filter {
		query[k] = v
	}

	findOptions := options.Find().
		SetLimit(limit).
		SetSkip(offset).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.Collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var assets []models.Asset
	if err = cursor.All(ctx, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *AssetRepositoryImpl) Count(ctx context.Context, filter map[string]any) (int64, error) {
	query := bson.M{}
	for k, v := range filter {
		query[k] = v
	}
	return r.Collection.CountDocuments(ctx, query)
}
