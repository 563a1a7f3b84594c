package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusPaused     ImportStatus = "paused"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
	ImportStatusCancelled  ImportStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed || s == ImportStatusCancelled
}

// ImportErrorCategory classifies a recorded import error.
type ImportErrorCategory string

const (
	ImportErrFileFormat  ImportErrorCategory = "file_format"
	ImportErrValidation  ImportErrorCategory = "validation"
	ImportErrDuplicate   ImportErrorCategory = "duplicate"
	ImportErrPersistence ImportErrorCategory = "persistence"
	ImportErrSystem      ImportErrorCategory = "system"
)

// ConflictPolicy controls how the batch writer treats natural-key collisions.
// Existing rows are never overwritten either way.
type ConflictPolicy string

const (
	ConflictPolicyStrict ConflictPolicy = "strict" // collision fails the batch
	ConflictPolicySkip   ConflictPolicy = "skip"   // collision skips the row
)

// ImportJob is one end-to-end ingestion run over a single uploaded file.
type ImportJob struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID           primitive.ObjectID `json:"user_id" bson:"user_id"`
	ObjectType       string             `json:"object_type" bson:"object_type"`
	FileName         string             `json:"file_name" bson:"file_name"`
	FilePath         string             `json:"file_path" bson:"file_path"`
	FileSize         int64              `json:"file_size" bson:"file_size"`
	Status           ImportStatus       `json:"status" bson:"status"`
	TotalRecords     int                `json:"total_records" bson:"total_records"`
	ProcessedRecords int                `json:"processed_records" bson:"processed_records"`
	SuccessCount     int                `json:"success_count" bson:"success_count"`
	ErrorCount       int                `json:"error_count" bson:"error_count"`

	// ResumeOffset is the number of data rows already accounted for.
	// A paused or failed job restarts its stream after this many rows.
	ResumeOffset int `json:"resume_offset" bson:"resume_offset"`

	ColumnMapping      map[string]string `json:"column_mapping" bson:"column_mapping"` // file column -> asset field
	SkipDuplicateCheck bool              `json:"skip_duplicate_check" bson:"skip_duplicate_check"`
	ConflictPolicy     ConflictPolicy    `json:"conflict_policy" bson:"conflict_policy"`
	ValidationScript   string            `json:"validation_script,omitempty" bson:"validation_script,omitempty"`

	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// ImportError is one recorded row or batch failure. Append-only.
type ImportError struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	JobID     primitive.ObjectID  `json:"job_id" bson:"job_id"`
	Row       int                 `json:"row" bson:"row"` // 1-based over the whole file
	Field     string              `json:"field,omitempty" bson:"field,omitempty"`
	Value     string              `json:"value,omitempty" bson:"value,omitempty"`
	Category  ImportErrorCategory `json:"category" bson:"category"`
	Message   string              `json:"message" bson:"message"`
	Warning   bool                `json:"warning,omitempty" bson:"warning,omitempty"`
	CreatedAt time.Time           `json:"created_at" bson:"created_at"`
}

// ImportRecord is one parsed row in flight. Required natural-key fields are
// typed; every unmapped column is kept in Extra in file order.
type ImportRecord struct {
	Row        int // 1-based data row number over the whole file
	Code       string
	Tag        string
	Name       string
	Status     string
	Priority   string
	Location   string
	Custodian  string
	AcquiredAt string
	Extra      []MetaField
}

// BatchResult is the in-memory summary of one committed batch, used for
// counter updates and progress events. Never persisted as a document.
type BatchResult struct {
	Attempted  int
	Successful int
	Failed     int
	Errors     []ImportError
}

// ProgressEvent is the snapshot pushed to dashboard subscribers.
type ProgressEvent struct {
	JobID      string       `json:"job_id"`
	Status     ImportStatus `json:"status"`
	Processed  int          `json:"processed"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Percent    float64      `json:"percent"`
}

// ImportPreview is returned by the upload preview endpoint.
type ImportPreview struct {
	Headers    []string            `json:"headers"`
	SampleData []map[string]string `json:"sample_data"`
	TotalRows  int                 `json:"total_rows"`
}
