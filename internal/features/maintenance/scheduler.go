package maintenance

import (
	"context"
	"os"
	"time"

	"go-assettrack/internal/config"
	import_feature "go-assettrack/internal/features/import"
	"go-assettrack/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler owns the background housekeeping for import jobs: a startup
// recovery pass over jobs interrupted mid-processing and a daily sweep that
// releases upload files past the retention window.
type Scheduler struct {
	ImportRepo import_feature.ImportRepository
	Config     *config.Config
	Log        *zap.Logger

	cron *cron.Cron
}

func NewScheduler(importRepo import_feature.ImportRepository, cfg *config.Config, log *zap.Logger) *Scheduler {
	return &Scheduler{
		ImportRepo: importRepo,
		Config:     cfg,
		Log:        log,
		cron:       cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.RecoverInterruptedJobs(ctx); err != nil {
		s.Log.Error("interrupted job recovery failed", zap.Error(err))
	}

	if _, err := s.cron.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.SweepExpiredFiles(ctx); err != nil {
			s.Log.Error("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	<-stopped.Done()
}

// RecoverInterruptedJobs marks jobs that were processing when the previous
// process died as failed. Their committed offsets are intact, so a resume
// picks up where the last batch landed.
func (s *Scheduler) RecoverInterruptedJobs(ctx context.Context) error {
	jobs, err := s.ImportRepo.FindByStatus(ctx, models.ImportStatusProcessing)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		jobID := job.ID.Hex()
		ok, err := s.ImportRepo.UpdateStatusWhere(ctx, jobID,
			[]models.ImportStatus{models.ImportStatusProcessing}, models.ImportStatusFailed)
		if err != nil {
			s.Log.Error("failed to mark interrupted job",
				zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		s.ImportRepo.AppendErrors(ctx, []models.ImportError{{
			JobID:    job.ID,
			Row:      job.ResumeOffset,
			Category: models.ImportErrSystem,
			Message:  "processing interrupted by service restart",
		}})

		s.Log.Warn("recovered interrupted import job",
			zap.String("job_id", jobID),
			zap.Int("resume_offset", job.ResumeOffset))
	}

	return nil
}

// SweepExpiredFiles deletes upload files of terminal jobs older than the
// retention window and clears their file path so they are swept only once.
// Job records and error logs are kept for audit.
func (s *Scheduler) SweepExpiredFiles(ctx context.Context) error {
	retention := s.Config.ImportRetentionDays
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retention)

	jobs, err := s.ImportRepo.FindTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	removed := 0
	for _, job := range jobs {
		if job.FilePath == "" {
			continue
		}
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			s.Log.Warn("failed to remove expired upload",
				zap.String("job_id", job.ID.Hex()),
				zap.String("path", job.FilePath),
				zap.Error(err))
			continue
		}
		if err := s.ImportRepo.ClearFilePath(ctx, job.ID.Hex()); err != nil {
			s.Log.Error("failed to clear file path",
				zap.String("job_id", job.ID.Hex()), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.Log.Info("retention sweep removed expired uploads", zap.Int("count", removed))
	}
	return nil
}
