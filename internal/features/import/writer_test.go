package import_feature

import (
	"context"
	"testing"

	"go-assettrack/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBatchWriterDefaults(t *testing.T) {
	job := &models.ImportJob{
		ID:         primitive.NewObjectID(),
		UserID:     primitive.NewObjectID(),
		ObjectType: "equipment",
	}
	w := NewBatchWriter(newFakeAssetStore(), job)

	asset := w.toAsset(&models.ImportRecord{
		Row:        1,
		Code:       "AST-001",
		Tag:        "TAG:0001",
		AcquiredAt: "2022-03-15",
	})

	if asset.Status != models.AssetStatusInStorage {
		t.Errorf("status = %s, want default in_storage", asset.Status)
	}
	if asset.Priority != models.AssetPriorityMedium {
		t.Errorf("priority = %s, want default medium", asset.Priority)
	}
	if asset.AcquiredAt == nil || asset.AcquiredAt.Year() != 2022 {
		t.Errorf("acquired_at not parsed: %v", asset.AcquiredAt)
	}
	if asset.ObjectType != "equipment" || asset.ImportJobID != job.ID || asset.CreatedBy != job.UserID {
		t.Errorf("provenance fields not stamped: %+v", asset)
	}
}

func TestBatchWriterEmptyBatch(t *testing.T) {
	store := newFakeAssetStore()
	w := NewBatchWriter(store, &models.ImportJob{})

	inserted, conflicts, err := w.Write(context.Background(), nil)
	if inserted != 0 || conflicts != nil || err != nil {
		t.Fatalf("empty write = %d, %v, %v", inserted, conflicts, err)
	}
	if store.calls != 0 {
		t.Fatal("empty batch must not reach the store")
	}
}
