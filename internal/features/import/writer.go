package import_feature

import (
	"context"

	"go-assettrack/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetStore is the slice of the asset repository the batch writer needs.
type AssetStore interface {
	AssetLookup
	BulkInsert(ctx context.Context, assets []models.Asset, policy models.ConflictPolicy) (inserted int, conflicts []int, err error)
}

// BatchWriter persists one validated, de-duplicated batch as a single bulk
// insert. Collisions follow the job's conflict policy; rows are never
// overwritten either way.
type BatchWriter struct {
	store      AssetStore
	policy     models.ConflictPolicy
	jobID      primitive.ObjectID
	userID     primitive.ObjectID
	objectType string
}

func NewBatchWriter(store AssetStore, job *models.ImportJob) *BatchWriter {
	policy := job.ConflictPolicy
	if policy == "" {
		policy = models.ConflictPolicyStrict
	}
	return &BatchWriter{
		store:      store,
		policy:     policy,
		jobID:      job.ID,
		userID:     job.UserID,
		objectType: job.ObjectType,
	}
}

// Write inserts the records and reports how many landed. Under the skip
// policy conflicts holds the indexes (into recs) of rows the store rejected
// as already present.
func (w *BatchWriter) Write(ctx context.Context, recs []*models.ImportRecord) (inserted int, conflicts []int, err error) {
	if len(recs) == 0 {
		return 0, nil, nil
	}

	assets := make([]models.Asset, 0, len(recs))
	for _, rec := range recs {
		assets = append(assets, w.toAsset(rec))
	}

	return w.store.BulkInsert(ctx, assets, w.policy)
}

func (w *BatchWriter) toAsset(rec *models.ImportRecord) models.Asset {
	asset := models.Asset{
		Code:        rec.Code,
		Tag:         rec.Tag,
		Name:        rec.Name,
		ObjectType:  w.objectType,
		Status:      models.AssetStatus(rec.Status),
		Priority:    models.AssetPriority(rec.Priority),
		Location:    rec.Location,
		Custodian:   rec.Custodian,
		Metadata:    rec.Extra,
		ImportJobID: w.jobID,
		CreatedBy:   w.userID,
	}

	if asset.Status == "" {
		asset.Status = models.AssetStatusInStorage
	}
	if asset.Priority == "" {
		asset.Priority = models.AssetPriorityMedium
	}

	if rec.AcquiredAt != "" {
		if t, err := parseAcquiredAt(rec.AcquiredAt); err == nil {
			asset.AcquiredAt = &t
		}
	}

	return asset
}
