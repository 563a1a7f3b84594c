package import_feature

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go-assettrack/internal/features/asset"
	"go-assettrack/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// --- in-memory fakes shared by the assembler and service tests ---

type fakeImportRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.ImportJob
	errs []models.ImportError
}

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{jobs: make(map[string]*models.ImportJob)}
}

func (r *fakeImportRepo) Create(ctx context.Context, job *models.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	job.Status = models.ImportStatusPending
	if job.ConflictPolicy == "" {
		job.ConflictPolicy = models.ConflictPolicyStrict
	}
	cp := *job
	r.jobs[job.ID.Hex()] = &cp
	return nil
}

func (r *fakeImportRepo) Get(ctx context.Context, id string) (*models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *job
	return &cp, nil
}

func (r *fakeImportRepo) FindByUserID(ctx context.Context, userID string, limit int64) ([]models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportJob
	for _, job := range r.jobs {
		if job.UserID.Hex() == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *fakeImportRepo) FindByStatus(ctx context.Context, status models.ImportStatus) ([]models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportJob
	for _, job := range r.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *fakeImportRepo) FindTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportJob
	for _, job := range r.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) && job.FilePath != "" {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *fakeImportRepo) UpdateStatusWhere(ctx context.Context, id string, from []models.ImportStatus, to models.ImportStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if job.Status == st {
			job.Status = to
			job.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeImportRepo) CommitBatch(ctx context.Context, id string, processed, successful, failed, resumeOffset int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if processed != successful+failed {
		return fmt.Errorf("commit breaks accounting: %d != %d + %d", processed, successful, failed)
	}
	job.ProcessedRecords += processed
	job.SuccessCount += successful
	job.ErrorCount += failed
	job.ResumeOffset = resumeOffset
	job.UpdatedAt = time.Now()
	return nil
}

func (r *fakeImportRepo) SetTotalRecords(ctx context.Context, id string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.TotalRecords = total
	}
	return nil
}

func (r *fakeImportRepo) ClearFilePath(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.FilePath = ""
	}
	return nil
}

func (r *fakeImportRepo) AppendErrors(ctx context.Context, errs []models.ImportError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, errs...)
	return nil
}

func (r *fakeImportRepo) ListErrors(ctx context.Context, jobID string, page, limit int64) ([]models.ImportError, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportError
	for _, e := range r.errs {
		if e.JobID.Hex() == jobID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeImportRepo) errorsByCategory(cat models.ImportErrorCategory) []models.ImportError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportError
	for _, e := range r.errs {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// fakeAssetStore implements asset.AssetRepository against a map. failOn maps
// a BulkInsert call number (1-based) to the error that call returns before
// writing anything.
type fakeAssetStore struct {
	mu          sync.Mutex
	existing    map[string]bool
	inserted    int
	calls       int
	failOn      map[int]error
	lookupErr   error
	insertDelay time.Duration
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{existing: make(map[string]bool), failOn: make(map[int]error)}
}

func (s *fakeAssetStore) EnsureIndexes(ctx context.Context) error { return nil }

func (s *fakeAssetStore) ExistsByCodeOrTag(ctx context.Context, code, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	return s.existing[code] || s.existing[tag], nil
}

func (s *fakeAssetStore) BulkInsert(ctx context.Context, assets []models.Asset, policy models.ConflictPolicy) (int, []int, error) {
	if s.insertDelay > 0 {
		time.Sleep(s.insertDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if err := s.failOn[s.calls]; err != nil {
		return 0, nil, err
	}

	var conflicts []int
	for i, a := range assets {
		if s.existing[a.Code] || s.existing[a.Tag] {
			conflicts = append(conflicts, i)
		}
	}
	if len(conflicts) > 0 && policy == models.ConflictPolicyStrict {
		return 0, nil, asset.ErrDuplicateKey
	}

	conflictSet := make(map[int]bool, len(conflicts))
	for _, i := range conflicts {
		conflictSet[i] = true
	}
	inserted := 0
	for i, a := range assets {
		if conflictSet[i] {
			continue
		}
		s.existing[a.Code] = true
		s.existing[a.Tag] = true
		inserted++
	}
	s.inserted += inserted
	return inserted, conflicts, nil
}

func (s *fakeAssetStore) List(ctx context.Context, filter map[string]any, limit, offset int64) ([]models.Asset, error) {
	return nil, nil
}

func (s *fakeAssetStore) Count(ctx context.Context, filter map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.inserted), nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	events    []models.ProgressEvent
	onPublish func(models.ProgressEvent)
}

func (b *fakeBroadcaster) Publish(event models.ProgressEvent) {
	b.mu.Lock()
	b.events = append(b.events, event)
	hook := b.onPublish
	b.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

type sliceStream struct {
	recs []*models.ImportRecord
	pos  int
}

func (s *sliceStream) Next() (*models.ImportRecord, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	rec := s.recs[s.pos]
	s.pos++
	return rec, nil
}

func (s *sliceStream) Close() error { return nil }

// makeRecords builds valid records for rows first..first+n-1.
func makeRecords(first, n int) []*models.ImportRecord {
	recs := make([]*models.ImportRecord, 0, n)
	for i := 0; i < n; i++ {
		row := first + i
		recs = append(recs, &models.ImportRecord{
			Row:    row,
			Code:   fmt.Sprintf("AST-%04d", row),
			Tag:    fmt.Sprintf("TAG:%04d", row),
			Name:   fmt.Sprintf("Asset %d", row),
			Status: "active",
		})
	}
	return recs
}

func newTestJob(repo *fakeImportRepo) *models.ImportJob {
	job := &models.ImportJob{
		UserID:     primitive.NewObjectID(),
		ObjectType: "equipment",
		FileName:   "upload.csv",
		FilePath:   "/tmp/upload.csv",
	}
	repo.Create(context.Background(), job)
	return job
}

func newTestAssembler(job *models.ImportJob, repo *fakeImportRepo, store *fakeAssetStore, bc ProgressBroadcaster, batchSize int) *batchAssembler {
	validator, _ := NewRecordValidator(job.ValidationScript)
	if bc == nil {
		bc = &fakeBroadcaster{}
	}
	return newBatchAssembler(job, repo, store, validator, bc, zap.NewNop(), batchSize, 5)
}

// --- assembler behavior ---

func TestRunMixedValidity(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	recs := makeRecords(1, 10)
	recs[2].Code = ""         // row 3
	recs[6].Status = "zapped" // row 7

	asm := newTestAssembler(job, repo, store, nil, 1000)
	final, err := asm.Run(context.Background(), &sliceStream{recs: recs})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final != models.ImportStatusCompleted {
		t.Fatalf("final = %s, want completed", final)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	if got.ProcessedRecords != 10 || got.SuccessCount != 8 || got.ErrorCount != 2 {
		t.Fatalf("counters = %d/%d/%d, want 10/8/2", got.ProcessedRecords, got.SuccessCount, got.ErrorCount)
	}
	if got.ProcessedRecords != got.SuccessCount+got.ErrorCount {
		t.Fatal("processed != success + failed")
	}
	if got.TotalRecords != 10 {
		t.Fatalf("total = %d, want 10", got.TotalRecords)
	}
	if store.inserted != 8 {
		t.Fatalf("store inserts = %d, want 8", store.inserted)
	}

	verrs := repo.errorsByCategory(models.ImportErrValidation)
	rows := map[int]bool{}
	for _, e := range verrs {
		if !e.Warning {
			rows[e.Row] = true
		}
	}
	if !rows[3] || !rows[7] {
		t.Fatalf("expected blocking errors on rows 3 and 7, got %+v", verrs)
	}
}

func TestRunStoreOutageThenResume(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	// Third batch write hits an unreachable store.
	store.failOn[3] = asset.ErrStoreUnavailable

	asm := newTestAssembler(job, repo, store, nil, 10)
	final, err := asm.Run(context.Background(), &sliceStream{recs: makeRecords(1, 50)})
	if final != models.ImportStatusFailed {
		t.Fatalf("final = %s, want failed", final)
	}
	if !errors.Is(err, asset.ErrStoreUnavailable) {
		t.Fatalf("Run() error = %v, want store unavailable", err)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	// The failing batch is not accounted; only the two committed batches are.
	if got.ProcessedRecords != 20 || got.SuccessCount != 20 || got.ErrorCount != 0 {
		t.Fatalf("counters after outage = %d/%d/%d, want 20/20/0", got.ProcessedRecords, got.SuccessCount, got.ErrorCount)
	}
	if got.ResumeOffset != 20 {
		t.Fatalf("resume offset = %d, want 20", got.ResumeOffset)
	}
	if len(repo.errorsByCategory(models.ImportErrSystem)) == 0 {
		t.Fatal("expected a system-category error entry")
	}

	// Store back up; resume from the committed offset.
	delete(store.failOn, 3)
	resumed, _ := repo.Get(context.Background(), job.ID.Hex())
	asm2 := newTestAssembler(resumed, repo, store, nil, 10)
	final, err = asm2.Run(context.Background(), &sliceStream{recs: makeRecords(21, 30)})
	if err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("resume Run() = %s, %v", final, err)
	}

	got, _ = repo.Get(context.Background(), job.ID.Hex())
	if got.ProcessedRecords != 50 || got.SuccessCount != 50 || got.ErrorCount != 0 {
		t.Fatalf("counters after resume = %d/%d/%d, want 50/50/0", got.ProcessedRecords, got.SuccessCount, got.ErrorCount)
	}
	if got.TotalRecords != 50 {
		t.Fatalf("total = %d, want 50", got.TotalRecords)
	}
}

func TestRunDuplicateWithinBatch(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	recs := makeRecords(1, 3)
	recs[2].Code = recs[0].Code // row 3 repeats row 1's code
	recs[2].Tag = "TAG:9999"

	asm := newTestAssembler(job, repo, store, nil, 1000)
	if final, err := asm.Run(context.Background(), &sliceStream{recs: recs}); err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("Run() = %s, %v", final, err)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	if got.SuccessCount != 2 || got.ErrorCount != 1 {
		t.Fatalf("counters = %d/%d, want 2 successes 1 failure", got.SuccessCount, got.ErrorCount)
	}
	dups := repo.errorsByCategory(models.ImportErrDuplicate)
	if len(dups) != 1 || dups[0].Row != 3 {
		t.Fatalf("duplicate errors = %+v", dups)
	}
}

func TestRunReimportFlagsEveryRowDuplicate(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()

	first := newTestJob(repo)
	asm := newTestAssembler(first, repo, store, nil, 1000)
	if _, err := asm.Run(context.Background(), &sliceStream{recs: makeRecords(1, 100)}); err != nil {
		t.Fatalf("first import: %v", err)
	}

	second := newTestJob(repo)
	asm2 := newTestAssembler(second, repo, store, nil, 1000)
	final, err := asm2.Run(context.Background(), &sliceStream{recs: makeRecords(1, 100)})
	if err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("second import Run() = %s, %v", final, err)
	}

	got, _ := repo.Get(context.Background(), second.ID.Hex())
	if got.SuccessCount != 0 || got.ErrorCount != 100 {
		t.Fatalf("re-import counters = %d/%d, want 0/100", got.SuccessCount, got.ErrorCount)
	}
	if store.inserted != 100 {
		t.Fatalf("store inserts = %d, want 100 (nothing added by re-import)", store.inserted)
	}
}

func TestRunPauseResumeMatchesUninterrupted(t *testing.T) {
	run := func(t *testing.T, pauseAfterFirstBatch bool) (*models.ImportJob, *fakeAssetStore) {
		repo := newFakeImportRepo()
		store := newFakeAssetStore()
		job := newTestJob(repo)

		var asm *batchAssembler
		bc := &fakeBroadcaster{}
		if pauseAfterFirstBatch {
			once := sync.Once{}
			bc.onPublish = func(models.ProgressEvent) {
				once.Do(func() { asm.RequestPause() })
			}
		}
		asm = newTestAssembler(job, repo, store, bc, 10)

		final, err := asm.Run(context.Background(), &sliceStream{recs: makeRecords(1, 30)})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if pauseAfterFirstBatch {
			if final != models.ImportStatusPaused {
				t.Fatalf("final = %s, want paused", final)
			}
			resumed, _ := repo.Get(context.Background(), job.ID.Hex())
			asm2 := newTestAssembler(resumed, repo, store, &fakeBroadcaster{}, 10)
			if final, err := asm2.Run(context.Background(), &sliceStream{recs: makeRecords(resumed.ResumeOffset+1, 30-resumed.ResumeOffset)}); err != nil || final != models.ImportStatusCompleted {
				t.Fatalf("resume Run() = %s, %v", final, err)
			}
		}

		got, _ := repo.Get(context.Background(), job.ID.Hex())
		return got, store
	}

	straight, straightStore := run(t, false)
	paused, pausedStore := run(t, true)

	if paused.ProcessedRecords != straight.ProcessedRecords ||
		paused.SuccessCount != straight.SuccessCount ||
		paused.ErrorCount != straight.ErrorCount {
		t.Fatalf("pause/resume counters %d/%d/%d differ from uninterrupted %d/%d/%d",
			paused.ProcessedRecords, paused.SuccessCount, paused.ErrorCount,
			straight.ProcessedRecords, straight.SuccessCount, straight.ErrorCount)
	}
	if pausedStore.inserted != straightStore.inserted {
		t.Fatalf("store inserts %d != %d", pausedStore.inserted, straightStore.inserted)
	}
}

func TestRunCancelStopsAtBatchBoundary(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	var asm *batchAssembler
	once := sync.Once{}
	bc := &fakeBroadcaster{onPublish: func(models.ProgressEvent) {
		once.Do(func() { asm.RequestCancel() })
	}}
	asm = newTestAssembler(job, repo, store, bc, 10)

	final, err := asm.Run(context.Background(), &sliceStream{recs: makeRecords(1, 30)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final != models.ImportStatusCancelled {
		t.Fatalf("final = %s, want cancelled", final)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	// The batch in flight commits, everything after it does not.
	if got.ProcessedRecords != 10 || got.SuccessCount != 10 {
		t.Fatalf("counters = %d/%d, want 10/10", got.ProcessedRecords, got.SuccessCount)
	}
}

func TestRunPersistenceRejectionAccountsBatchFailed(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	store.failOn[1] = errors.New("document too large")

	asm := newTestAssembler(job, repo, store, nil, 10)
	final, err := asm.Run(context.Background(), &sliceStream{recs: makeRecords(1, 20)})
	if err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("Run() = %s, %v", final, err)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	if got.ProcessedRecords != 20 || got.SuccessCount != 10 || got.ErrorCount != 10 {
		t.Fatalf("counters = %d/%d/%d, want 20/10/10", got.ProcessedRecords, got.SuccessCount, got.ErrorCount)
	}
	perrs := repo.errorsByCategory(models.ImportErrPersistence)
	if len(perrs) != 10 {
		t.Fatalf("persistence errors = %d, want 10", len(perrs))
	}
}

func TestRunFailedBatchCeiling(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	rejected := errors.New("write rejected")
	for i := 1; i <= 10; i++ {
		store.failOn[i] = rejected
	}

	validator, _ := NewRecordValidator("")
	asm := newBatchAssembler(job, repo, store, validator, &fakeBroadcaster{}, zap.NewNop(), 10, 2)

	final, err := asm.Run(context.Background(), &sliceStream{recs: makeRecords(1, 100)})
	if final != models.ImportStatusFailed {
		t.Fatalf("final = %s, want failed", final)
	}
	if !errors.Is(err, errTooManyFailedBatches) {
		t.Fatalf("Run() error = %v, want ceiling error", err)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	// Batches up to and including the one that tripped the ceiling are
	// accounted as failed rows.
	if got.ProcessedRecords != 30 || got.ErrorCount != 30 {
		t.Fatalf("counters = %d/%d, want 30 processed 30 failed", got.ProcessedRecords, got.ErrorCount)
	}
}

func TestRunEmptyStream(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	asm := newTestAssembler(job, repo, store, nil, 10)
	final, err := asm.Run(context.Background(), &sliceStream{})
	if err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("Run() = %s, %v", final, err)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	if got.ProcessedRecords != 0 || got.TotalRecords != 0 {
		t.Fatalf("empty stream counters = %d, total %d", got.ProcessedRecords, got.TotalRecords)
	}
}

func TestRunErrorLogAppendOrder(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	// Row 9 fails validation during the record loop; the rejected bulk write
	// then produces errors for the earlier rows of the same batch.
	recs := makeRecords(1, 10)
	recs[8].Code = ""
	store.failOn[1] = errors.New("write rejected")

	asm := newTestAssembler(job, repo, store, nil, 1000)
	if final, err := asm.Run(context.Background(), &sliceStream{recs: recs}); err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("Run() = %s, %v", final, err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.errs) < 10 {
		t.Fatalf("recorded errors = %d, want at least 10", len(repo.errs))
	}
	lastRow := 0
	for i, e := range repo.errs {
		if e.Row < lastRow {
			t.Fatalf("append order not by row: index %d row %d after row %d", i, e.Row, lastRow)
		}
		lastRow = e.Row
	}
}

func TestRunWarningsDoNotFailRows(t *testing.T) {
	repo := newFakeImportRepo()
	store := newFakeAssetStore()
	job := newTestJob(repo)

	recs := makeRecords(1, 5)
	for _, rec := range recs {
		rec.Status = "" // warning: defaults to in_storage
	}

	asm := newTestAssembler(job, repo, store, nil, 1000)
	if final, err := asm.Run(context.Background(), &sliceStream{recs: recs}); err != nil || final != models.ImportStatusCompleted {
		t.Fatalf("Run() = %s, %v", final, err)
	}

	got, _ := repo.Get(context.Background(), job.ID.Hex())
	if got.SuccessCount != 5 || got.ErrorCount != 0 {
		t.Fatalf("counters = %d/%d, want 5/0", got.SuccessCount, got.ErrorCount)
	}

	warned := 0
	for _, e := range repo.errorsByCategory(models.ImportErrValidation) {
		if e.Warning {
			warned++
		}
	}
	if warned != 5 {
		t.Fatalf("warnings recorded = %d, want 5", warned)
	}
}
