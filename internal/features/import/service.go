package import_feature

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go-assettrack/internal/config"
	"go-assettrack/internal/features/asset"
	"go-assettrack/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrJobNotFound  = errors.New("import job not found")
	ErrInvalidState = errors.New("operation not valid in the job's current state")
	ErrInvalidInput = errors.New("invalid input")
)

type ImportService interface {
	CreateJob(ctx context.Context, job *models.ImportJob) error
	StartJob(ctx context.Context, jobID string) error
	PauseJob(ctx context.Context, jobID string) error
	ResumeJob(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) error

	GetJob(ctx context.Context, id string) (*models.ImportJob, error)
	GetUserJobs(ctx context.Context, userID primitive.ObjectID) ([]models.ImportJob, error)
	ListErrors(ctx context.Context, jobID string, page, limit int64) ([]models.ImportError, int64, error)
	PreviewFile(ctx context.Context, file io.Reader, filename string) (*models.ImportPreview, error)

	Shutdown()
}

// ImportServiceImpl owns the job lifecycle. One streaming pipeline runs per
// started job; a weighted semaphore keeps at most ImportMaxConcurrent of
// them processing at once, extra starts queue on the semaphore inside their
// own goroutine.
type ImportServiceImpl struct {
	ImportRepo  ImportRepository
	AssetRepo   asset.AssetRepository
	Broadcaster ProgressBroadcaster
	Config      *config.Config
	Log         *zap.Logger

	sem    *semaphore.Weighted
	mu     sync.Mutex
	active map[string]*batchAssembler

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewImportService(
	importRepo ImportRepository,
	assetRepo asset.AssetRepository,
	broadcaster ProgressBroadcaster,
	cfg *config.Config,
	log *zap.Logger,
) ImportService {
	maxConcurrent := cfg.ImportMaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ImportServiceImpl{
		ImportRepo:  importRepo,
		AssetRepo:   assetRepo,
		Broadcaster: broadcaster,
		Config:      cfg,
		Log:         log,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		active:      make(map[string]*batchAssembler),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

func (s *ImportServiceImpl) CreateJob(ctx context.Context, job *models.ImportJob) error {
	if job.FileName == "" || job.FilePath == "" {
		return fmt.Errorf("%w: filename and file path are required", ErrInvalidInput)
	}
	if job.ConflictPolicy != "" &&
		job.ConflictPolicy != models.ConflictPolicyStrict &&
		job.ConflictPolicy != models.ConflictPolicySkip {
		return fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidInput, job.ConflictPolicy)
	}
	if job.ValidationScript != "" {
		if _, err := NewRecordValidator(job.ValidationScript); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	return s.ImportRepo.Create(ctx, job)
}

func (s *ImportServiceImpl) StartJob(ctx context.Context, jobID string) error {
	return s.launch(ctx, jobID, []models.ImportStatus{
		models.ImportStatusPending,
		models.ImportStatusPaused,
	})
}

// ResumeJob re-enters processing from the recorded offset. Paused jobs and
// jobs failed by a system condition are both resumable; completed and
// cancelled jobs are not.
func (s *ImportServiceImpl) ResumeJob(ctx context.Context, jobID string) error {
	return s.launch(ctx, jobID, []models.ImportStatus{
		models.ImportStatusPaused,
		models.ImportStatusFailed,
	})
}

func (s *ImportServiceImpl) launch(ctx context.Context, jobID string, allowed []models.ImportStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	stateOK := false
	for _, st := range allowed {
		if job.Status == st {
			stateOK = true
			break
		}
	}
	if !stateOK {
		return fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}

	validator, err := NewRecordValidator(job.ValidationScript)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	if _, running := s.active[jobID]; running {
		s.mu.Unlock()
		return fmt.Errorf("%w: job pipeline already active", ErrInvalidState)
	}
	asm := newBatchAssembler(job, s.ImportRepo, s.AssetRepo, validator, s.Broadcaster, s.Log,
		s.Config.ImportBatchSize, s.Config.ImportMaxFailedBatches)
	s.active[jobID] = asm
	s.mu.Unlock()

	go s.run(job, asm)

	return nil
}

// run is the per-job pipeline goroutine: wait for a slot, transition to
// processing, stream the file, hand the final state back to the store.
func (s *ImportServiceImpl) run(job *models.ImportJob, asm *batchAssembler) {
	jobID := job.ID.Hex()
	defer func() {
		s.mu.Lock()
		delete(s.active, jobID)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
		s.Log.Warn("import job never got a slot", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer s.sem.Release(1)

	ok, err := s.ImportRepo.UpdateStatusWhere(s.baseCtx, jobID,
		[]models.ImportStatus{models.ImportStatusPending, models.ImportStatusPaused, models.ImportStatusFailed},
		models.ImportStatusProcessing)
	if err != nil || !ok {
		// Cancelled (or otherwise moved on) while queued.
		s.Log.Info("import job not started", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	job.Status = models.ImportStatusProcessing
	asm.publishProgress(models.ImportStatusProcessing)

	s.Log.Info("import job processing",
		zap.String("job_id", jobID),
		zap.String("file", job.FileName),
		zap.Int("resume_offset", job.ResumeOffset))

	stream, err := OpenStream(job.FilePath, job.FileName, job.ColumnMapping, job.ResumeOffset)
	if err != nil {
		s.failWithFileError(jobID, job, err)
		return
	}
	defer stream.Close()

	final, runErr := asm.Run(s.baseCtx, stream)
	if runErr != nil {
		s.Log.Error("import job failed",
			zap.String("job_id", jobID),
			zap.Error(runErr))
	}

	if _, err := s.ImportRepo.UpdateStatusWhere(s.baseCtx, jobID,
		[]models.ImportStatus{models.ImportStatusProcessing}, final); err != nil {
		s.Log.Error("failed to record final job state",
			zap.String("job_id", jobID),
			zap.String("state", string(final)),
			zap.Error(err))
	}
	asm.publishProgress(final)

	s.Log.Info("import job finished",
		zap.String("job_id", jobID),
		zap.String("state", string(final)))
}

func (s *ImportServiceImpl) failWithFileError(jobID string, job *models.ImportJob, cause error) {
	s.ImportRepo.AppendErrors(s.baseCtx, []models.ImportError{{
		JobID:    job.ID,
		Row:      job.ResumeOffset,
		Field:    "file",
		Category: models.ImportErrFileFormat,
		Message:  cause.Error(),
	}})
	s.ImportRepo.UpdateStatusWhere(s.baseCtx, jobID,
		[]models.ImportStatus{models.ImportStatusProcessing}, models.ImportStatusFailed)
	s.publishStatus(job, models.ImportStatusFailed)
	s.Log.Error("import file unreadable", zap.String("job_id", jobID), zap.Error(cause))
}

// PauseJob signals the active pipeline to stop after the batch in flight
// commits. The resume offset is already durable, it is written with every
// batch commit.
func (s *ImportServiceImpl) PauseJob(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.ImportStatusProcessing {
		return fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}

	s.mu.Lock()
	asm, running := s.active[jobID]
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("%w: no active pipeline for job", ErrInvalidState)
	}

	asm.RequestPause()
	return nil
}

// CancelJob stops processing at the next batch boundary. Pending and paused
// jobs are cancelled immediately.
func (s *ImportServiceImpl) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}

	s.mu.Lock()
	asm, running := s.active[jobID]
	s.mu.Unlock()
	if running {
		asm.RequestCancel()
		if job.Status != models.ImportStatusProcessing {
			// Pipeline still queued on the semaphore: persist the cancel so it
			// survives a restart. The guarded transition into processing loses
			// against this update, so the queued run becomes a no-op.
			ok, err := s.ImportRepo.UpdateStatusWhere(ctx, jobID,
				[]models.ImportStatus{models.ImportStatusPending, models.ImportStatusPaused},
				models.ImportStatusCancelled)
			if err != nil {
				return err
			}
			if ok {
				s.publishStatus(job, models.ImportStatusCancelled)
			}
		}
		return nil
	}

	if job.Status == models.ImportStatusProcessing {
		// Processing in the store but no pipeline here: interrupted run that
		// the recovery sweep has not caught up with yet.
		return fmt.Errorf("%w: no active pipeline for job", ErrInvalidState)
	}

	ok, err := s.ImportRepo.UpdateStatusWhere(ctx, jobID,
		[]models.ImportStatus{models.ImportStatusPending, models.ImportStatusPaused},
		models.ImportStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job state changed concurrently", ErrInvalidState)
	}
	s.publishStatus(job, models.ImportStatusCancelled)
	return nil
}

func (s *ImportServiceImpl) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := s.ImportRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, primitive.ErrInvalidHex) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *ImportServiceImpl) GetUserJobs(ctx context.Context, userID primitive.ObjectID) ([]models.ImportJob, error) {
	return s.ImportRepo.FindByUserID(ctx, userID.Hex(), 50)
}

func (s *ImportServiceImpl) ListErrors(ctx context.Context, jobID string, page, limit int64) ([]models.ImportError, int64, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, 0, err
	}
	return s.ImportRepo.ListErrors(ctx, jobID, page, limit)
}

func (s *ImportServiceImpl) PreviewFile(ctx context.Context, file io.Reader, filename string) (*models.ImportPreview, error) {
	return PreviewFile(file, filename)
}

// Shutdown aborts active pipelines; interrupted jobs stay resumable from
// their last committed offset.
func (s *ImportServiceImpl) Shutdown() {
	s.cancel()
}

func (s *ImportServiceImpl) publishStatus(job *models.ImportJob, status models.ImportStatus) {
	percent := 0.0
	if job.TotalRecords > 0 {
		percent = float64(job.ProcessedRecords) / float64(job.TotalRecords) * 100
		if percent > 100 {
			percent = 100
		}
	}
	s.Broadcaster.Publish(models.ProgressEvent{
		JobID:      job.ID.Hex(),
		Status:     status,
		Processed:  job.ProcessedRecords,
		Total:      job.TotalRecords,
		Successful: job.SuccessCount,
		Failed:     job.ErrorCount,
		Percent:    percent,
	})
}
