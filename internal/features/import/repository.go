package import_feature

import (
	"context"
	"time"

	"go-assettrack/internal/database"
	"go-assettrack/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ImportRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	Get(ctx context.Context, id string) (*models.ImportJob, error)
	FindByUserID(ctx context.Context, userID string, limit int64) ([]models.ImportJob, error)
	FindByStatus(ctx context.Context, status models.ImportStatus) ([]models.ImportJob, error)
	FindTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.ImportJob, error)

	// UpdateStatusWhere transitions id from one of the given states to the new
	// one. Returns false when the job was not in any of the expected states,
	// which backs ErrInvalidState without a read-modify-write race.
	UpdateStatusWhere(ctx context.Context, id string, from []models.ImportStatus, to models.ImportStatus) (bool, error)

	// CommitBatch applies one batch's accounting in a single update so that
	// processed = success + error holds at every point in time.
	CommitBatch(ctx context.Context, id string, processed, successful, failed, resumeOffset int) error

	SetTotalRecords(ctx context.Context, id string, total int) error
	ClearFilePath(ctx context.Context, id string) error

	AppendErrors(ctx context.Context, errs []models.ImportError) error
	ListErrors(ctx context.Context, jobID string, page, limit int64) ([]models.ImportError, int64, error)
}

type ImportRepositoryImpl struct {
	jobs   *mongo.Collection
	errors *mongo.Collection
}

func NewImportRepository(db *database.MongodbDB) ImportRepository {
	return &ImportRepositoryImpl{
		jobs:   db.DB.Collection("import_jobs"),
		errors: db.DB.Collection("import_errors"),
	}
}

func (r *ImportRepositoryImpl) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	job.Status = models.ImportStatusPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = time.Now()
	if job.ConflictPolicy == "" {
		job.ConflictPolicy = models.ConflictPolicyStrict
	}

	_, err := r.jobs.InsertOne(ctx, job)
	return err
}

func (r *ImportRepositoryImpl) Get(ctx context.Context, id string) (*models.ImportJob, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var job models.ImportJob
	err = r.jobs.FindOne(ctx, bson.M{"_id": objID}).Decode(&job)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (r *ImportRepositoryImpl) FindByUserID(ctx context.Context, userID string, limit int64) ([]models.ImportJob, error) {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, err
	}

	findOptions := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.jobs.Find(ctx, bson.M{"user_id": objID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []models.ImportJob
	if err = cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *ImportRepositoryImpl) FindByStatus(ctx context.Context, status models.ImportStatus) ([]models.ImportJob, error) {
	cursor, err := r.jobs.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []models.ImportJob
	if err = cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *ImportRepositoryImpl) FindTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.ImportJob, error) {
	filter := bson.M{
		"status": bson.M{"$in": []models.ImportStatus{
			models.ImportStatusCompleted,
			models.ImportStatusFailed,
			models.ImportStatusCancelled,
		}},
		"updated_at": bson.M{"$lt": cutoff},
		"file_path":  bson.M{"$ne": ""},
	}

	cursor, err := r.jobs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []models.ImportJob
	if err = cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *ImportRepositoryImpl) UpdateStatusWhere(ctx context.Context, id string, from []models.ImportStatus, to models.ImportStatus) (bool, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, err
	}

	set := bson.M{
		"status":     to,
		"updated_at": time.Now(),
	}
	now := time.Now()
	switch {
	case to == models.ImportStatusProcessing:
		set["started_at"] = &now
	case to.IsTerminal():
		set["completed_at"] = &now
	}

	res, err := r.jobs.UpdateOne(ctx,
		bson.M{"_id": objID, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *ImportRepositoryImpl) CommitBatch(ctx context.Context, id string, processed, successful, failed, resumeOffset int) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.jobs.UpdateOne(ctx, bson.M{"_id": objID}, bson.M{
		"$inc": bson.M{
			"processed_records": processed,
			"success_count":     successful,
			"error_count":       failed,
		},
		"$set": bson.M{
			"resume_offset": resumeOffset,
			"updated_at":    time.Now(),
		},
	})
	return err
}

func (r *ImportRepositoryImpl) SetTotalRecords(ctx context.Context, id string, total int) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.jobs.UpdateOne(ctx, bson.M{"_id": objID}, bson.M{
		"$set": bson.M{"total_records": total, "updated_at": time.Now()},
	})
	return err
}

func (r *ImportRepositoryImpl) ClearFilePath(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.jobs.UpdateOne(ctx, bson.M{"_id": objID}, bson.M{
		"$set": bson.M{"file_path": "", "updated_at": time.Now()},
	})
	return err
}

func (r *ImportRepositoryImpl) AppendErrors(ctx context.Context, errs []models.ImportError) error {
	if len(errs) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(errs))
	now := time.Now()
	for i := range errs {
		if errs[i].ID.IsZero() {
			errs[i].ID = primitive.NewObjectID()
		}
		errs[i].CreatedAt = now
		docs = append(docs, errs[i])
	}

	_, err := r.errors.InsertMany(ctx, docs)
	return err
}

func (r *ImportRepositoryImpl) ListErrors(ctx context.Context, jobID string, page, limit int64) ([]models.ImportError, int64, error) {
	objID, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	filter := bson.M{"job_id": objID}

	total, err := r.errors.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "row", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)

	cursor, err := r.errors.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var errsOut []models.ImportError
	if err = cursor.All(ctx, &errsOut); err != nil {
		return nil, 0, err
	}

	return errsOut, total, nil
}
