package import_feature

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"go-assettrack/internal/features/asset"
	"go-assettrack/internal/models"

	"go.uber.org/zap"
)

type controlSignal int32

const (
	ctrlNone controlSignal = iota
	ctrlPause
	ctrlCancel
)

var errTooManyFailedBatches = errors.New("persistence failure ceiling exceeded")

// batchAssembler drives one job's record stream through
// validate -> deduplicate -> write -> record, one batch at a time.
//
// The stream producer feeds a bounded channel sized to one batch; it blocks
// whenever the assembler is busy committing, so the file reader can never
// outrun the store's sustainable write rate. Counters are owned by this
// goroutine alone and persisted through a single atomic update per batch.
type batchAssembler struct {
	job         *models.ImportJob
	repo        ImportRepository
	writer      *BatchWriter
	validator   *RecordValidator
	dedup       *DuplicateDetector
	broadcaster ProgressBroadcaster
	log         *zap.Logger

	batchSize        int
	maxFailedBatches int

	ctrl atomic.Int32

	// cumulative counters, seeded from the job on resume
	processed  int
	successful int
	failed     int
	lastRow    int
}

func newBatchAssembler(
	job *models.ImportJob,
	repo ImportRepository,
	store AssetStore,
	validator *RecordValidator,
	broadcaster ProgressBroadcaster,
	log *zap.Logger,
	batchSize, maxFailedBatches int,
) *batchAssembler {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &batchAssembler{
		job:              job,
		repo:             repo,
		writer:           NewBatchWriter(store, job),
		validator:        validator,
		dedup:            NewDuplicateDetector(store, job.SkipDuplicateCheck),
		broadcaster:      broadcaster,
		log:              log,
		batchSize:        batchSize,
		maxFailedBatches: maxFailedBatches,
		processed:        job.ProcessedRecords,
		successful:       job.SuccessCount,
		failed:           job.ErrorCount,
		lastRow:          job.ResumeOffset,
	}
}

// RequestPause asks the assembler to stop at the next batch boundary.
func (a *batchAssembler) RequestPause() {
	a.ctrl.CompareAndSwap(int32(ctrlNone), int32(ctrlPause))
}

// RequestCancel asks the assembler to stop for good at the next batch
// boundary. Cancel wins over a pending pause.
func (a *batchAssembler) RequestCancel() {
	a.ctrl.Store(int32(ctrlCancel))
}

// Run consumes the stream to completion or until paused/cancelled/failed.
// It returns the state the job should transition to. Row-level problems are
// recorded as data and never surface here; a non-nil error always means the
// job is going to failed state.
func (a *batchAssembler) Run(ctx context.Context, stream RecordStream) (models.ImportStatus, error) {
	recordCh := make(chan *models.ImportRecord, a.batchSize)
	done := make(chan struct{})
	defer close(done)

	// Producer. parseErr is written before recordCh is closed, so the
	// consumer may read it once the channel is drained.
	var parseErr error
	go func() {
		defer close(recordCh)
		for {
			rec, err := stream.Next()
			if err != nil {
				if err != io.EOF {
					parseErr = err
				}
				return
			}
			select {
			case recordCh <- rec:
			case <-done:
				return
			}
		}
	}()

	failedBatches := 0
	for {
		switch controlSignal(a.ctrl.Load()) {
		case ctrlCancel:
			return models.ImportStatusCancelled, nil
		case ctrlPause:
			return models.ImportStatusPaused, nil
		}

		batch, open, err := a.gather(ctx, recordCh)
		if err != nil {
			a.recordSystemError(a.lastRow, err)
			return models.ImportStatusFailed, err
		}
		if len(batch) > 0 {
			if err := a.processBatch(ctx, batch, &failedBatches); err != nil {
				return models.ImportStatusFailed, err
			}
		}
		if !open {
			break
		}
	}

	if parseErr != nil {
		a.recordError(models.ImportError{
			JobID:    a.job.ID,
			Row:      a.lastRow + 1,
			Field:    "file",
			Category: models.ImportErrFileFormat,
			Message:  parseErr.Error(),
		})
		return models.ImportStatusFailed, parseErr
	}

	// Stream exhausted: the provisional row count becomes authoritative.
	if err := a.repo.SetTotalRecords(ctx, a.job.ID.Hex(), a.lastRow); err != nil {
		return models.ImportStatusFailed, err
	}
	a.job.TotalRecords = a.lastRow

	return models.ImportStatusCompleted, nil
}

// gather blocks until a full batch is collected or the stream ends.
func (a *batchAssembler) gather(ctx context.Context, recordCh <-chan *models.ImportRecord) ([]*models.ImportRecord, bool, error) {
	batch := make([]*models.ImportRecord, 0, a.batchSize)
	for len(batch) < a.batchSize {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case rec, ok := <-recordCh:
			if !ok {
				return batch, false, nil
			}
			batch = append(batch, rec)
		}
	}
	return batch, true, nil
}

func (a *batchAssembler) processBatch(ctx context.Context, batch []*models.ImportRecord, failedBatches *int) error {
	var rowErrs []models.ImportError
	var valid []*models.ImportRecord
	failedRows := 0

	for _, rec := range batch {
		verrs := a.validator.Validate(rec)
		blocking := HasBlockingError(verrs)
		for i := range verrs {
			verrs[i].JobID = a.job.ID
		}
		rowErrs = append(rowErrs, verrs...)
		if blocking {
			failedRows++
			continue
		}

		dup, err := a.dedup.IsDuplicate(ctx, rec.Code, rec.Tag)
		if err != nil {
			// Store unreachable mid-lookup: fatal, nothing of this batch is
			// accounted and the job resumes from the last committed offset.
			a.recordSystemError(rec.Row, err)
			return err
		}
		if dup {
			rowErrs = append(rowErrs, models.ImportError{
				JobID:    a.job.ID,
				Row:      rec.Row,
				Field:    "code",
				Value:    rec.Code,
				Category: models.ImportErrDuplicate,
				Message:  "natural key already imported",
			})
			failedRows++
			continue
		}

		valid = append(valid, rec)
	}

	successful := 0
	if len(valid) > 0 {
		inserted, conflicts, err := a.writer.Write(ctx, valid)
		switch {
		case err != nil && errors.Is(err, asset.ErrStoreUnavailable):
			a.recordSystemError(valid[0].Row, err)
			return err

		case err != nil:
			// The whole batch is the unit of failure for accounting, even if
			// some rows physically landed: without a transactional guarantee
			// partial success cannot be assumed.
			for _, rec := range valid {
				rowErrs = append(rowErrs, models.ImportError{
					JobID:    a.job.ID,
					Row:      rec.Row,
					Category: models.ImportErrPersistence,
					Message:  err.Error(),
				})
			}
			failedRows += len(valid)
			*failedBatches++
			a.log.Warn("batch write failed",
				zap.String("job_id", a.job.ID.Hex()),
				zap.Int("batch_size", len(valid)),
				zap.Error(err))

		default:
			successful = inserted
			for _, idx := range conflicts {
				rowErrs = append(rowErrs, models.ImportError{
					JobID:    a.job.ID,
					Row:      valid[idx].Row,
					Field:    "code",
					Value:    valid[idx].Code,
					Category: models.ImportErrDuplicate,
					Message:  "natural key already exists in store",
				})
				failedRows++
			}
		}
	}

	// Write-path errors are collected after the per-record loop, so without
	// this the log could record a late row before an earlier one.
	sort.SliceStable(rowErrs, func(i, j int) bool { return rowErrs[i].Row < rowErrs[j].Row })

	result := models.BatchResult{
		Attempted:  len(batch),
		Successful: successful,
		Failed:     failedRows,
		Errors:     rowErrs,
	}

	if len(result.Errors) > 0 {
		if err := a.repo.AppendErrors(ctx, result.Errors); err != nil {
			return err
		}
	}

	lastRow := batch[len(batch)-1].Row
	if err := a.repo.CommitBatch(ctx, a.job.ID.Hex(), result.Attempted, result.Successful, result.Failed, lastRow); err != nil {
		return err
	}

	a.processed += result.Attempted
	a.successful += result.Successful
	a.failed += result.Failed
	a.lastRow = lastRow

	a.publishProgress(models.ImportStatusProcessing)

	if a.maxFailedBatches > 0 && *failedBatches > a.maxFailedBatches {
		a.recordError(models.ImportError{
			JobID:    a.job.ID,
			Row:      lastRow,
			Category: models.ImportErrSystem,
			Message:  fmt.Sprintf("aborted after %d failed batch writes", *failedBatches),
		})
		return errTooManyFailedBatches
	}

	return nil
}

func (a *batchAssembler) publishProgress(status models.ImportStatus) {
	total := a.job.TotalRecords
	percent := 0.0
	if total > 0 {
		percent = float64(a.processed) / float64(total) * 100
		if percent > 100 {
			percent = 100
		}
	}

	a.broadcaster.Publish(models.ProgressEvent{
		JobID:      a.job.ID.Hex(),
		Status:     status,
		Processed:  a.processed,
		Total:      total,
		Successful: a.successful,
		Failed:     a.failed,
		Percent:    percent,
	})
}

func (a *batchAssembler) recordSystemError(row int, cause error) {
	a.recordError(models.ImportError{
		JobID:    a.job.ID,
		Row:      row,
		Category: models.ImportErrSystem,
		Message:  cause.Error(),
	})
}

func (a *batchAssembler) recordError(importErr models.ImportError) {
	// Best effort: if the store is down this may fail too, the job status
	// still carries the failure.
	if err := a.repo.AppendErrors(context.Background(), []models.ImportError{importErr}); err != nil {
		a.log.Error("failed to record import error",
			zap.String("job_id", a.job.ID.Hex()),
			zap.Error(err))
	}
}
