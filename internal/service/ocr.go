package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mrzgate/internal/config"
	"mrzgate/internal/crm"
	"mrzgate/internal/engine"
	"mrzgate/internal/model"
	"mrzgate/internal/mrz"
	"mrzgate/internal/quality"
	"mrzgate/internal/repository"
	"mrzgate/internal/sla"
	"mrzgate/internal/storage"
)

var (
	ErrIDRequired       = errors.New("job id is required")
	ErrTenantRequired   = errors.New("tenant id is required")
	ErrImageKeyRequired = errors.New("image key is required")
	ErrNotFound         = errors.New("job not found")
	ErrCapacityExceeded = errors.New("intake capacity exceeded")
	ErrNotReviewable    = errors.New("job is not awaiting manual review")
	ErrJobTerminal      = errors.New("job already reached a terminal state")
	ErrInvalidMRZ       = errors.New("corrected mrz is structurally invalid")
	ErrClosed           = errors.New("service is shutting down")
)

// QualityGate is the pre-OCR image check the orchestrator runs.
// *quality.Gate satisfies it.
type QualityGate interface {
	EvaluateBytes(data []byte) quality.Verdict
}

// OCRChain drives the provider fallback. *engine.Chain satisfies it.
type OCRChain interface {
	Run(ctx context.Context, image []byte) engine.Outcome
}

// JobService defines the use cases of the extraction pipeline.
type JobService interface {
	// Submit accepts an opaque image reference for a tenant and enqueues
	// a job. Fails fast with ErrCapacityExceeded when intake is full; the
	// job is never created in that case.
	Submit(ctx context.Context, tenantID, imageKey string) (*model.Job, error)

	// Get returns the latest known state of a job. Safe to call while
	// the job is still being processed.
	Get(ctx context.Context, id string) (*model.Job, error)

	// SubmitReview applies a reviewer's corrected MRZ lines to a job in
	// MANUAL_REVIEW, promoting it to AUTO_ACCEPTED. The passport hash is
	// recomputed from the corrected lines; the scorer is bypassed.
	SubmitReview(ctx context.Context, id, line1, line2 string) (*model.Job, error)

	// RecordAsyncResult feeds a callback-based engine completion into
	// the attempt-recording path. A job in MANUAL_REVIEW is promoted
	// when the late result clears the acceptance threshold.
	RecordAsyncResult(ctx context.Context, jobID, engineName, line1, line2 string, latencyMS int64) (*model.Job, error)

	// Close drains the workers. No submissions are accepted afterwards.
	Close()
}

// Deps are the collaborators the orchestrator is wired with at startup.
type Deps struct {
	Repo   repository.JobRepository
	Hashes repository.HashIndex
	Store  storage.Storage
	Gate   QualityGate
	Chain  OCRChain
	CRM    crm.Connector
	SLA    *sla.Logger
}

type jobService struct {
	repo   repository.JobRepository
	hashes repository.HashIndex
	store  storage.Storage
	gate   QualityGate
	chain  OCRChain
	crm    crm.Connector
	slaLog *sla.Logger

	minConfidence float64
	now           func() time.Time

	mu     sync.Mutex
	closed bool
	slots  chan struct{}
	queue  chan *model.Job
	intake sync.WaitGroup
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewJobService constructs the orchestrator and starts its worker pool.
func NewJobService(deps Deps, cfg config.PipelineConfig) JobService {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	capacity := cfg.QueueCapacity
	if capacity < 1 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &jobService{
		repo:          deps.Repo,
		hashes:        deps.Hashes,
		store:         deps.Store,
		gate:          deps.Gate,
		chain:         deps.Chain,
		crm:           deps.CRM,
		slaLog:        deps.SLA,
		minConfidence: cfg.MinConfidence,
		now:           time.Now,
		slots:         make(chan struct{}, capacity),
		queue:         make(chan *model.Job, capacity),
		baseCtx:       ctx,
		cancel:        cancel,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *jobService) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		s.process(s.baseCtx, job)
		<-s.slots
	}
}

// Close stops intake and waits for in-flight jobs to finish.
func (s *jobService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// Submissions that already reserved a slot still hold a queue send;
	// let them land before the channel closes.
	s.intake.Wait()
	close(s.queue)

	s.wg.Wait()
	s.cancel()
}

func (s *jobService) Submit(ctx context.Context, tenantID, imageKey string) (*model.Job, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if imageKey == "" {
		return nil, ErrImageKeyRequired
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	// Reserve an intake slot before creating anything: when capacity is
	// exceeded the job must never exist. The lock covers only the
	// reservation, so one caller's insert never stalls another's intake.
	select {
	case s.slots <- struct{}{}:
	default:
		s.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	s.intake.Add(1)
	s.mu.Unlock()
	defer s.intake.Done()

	job := &model.Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ImageKey:  imageKey,
		State:     model.StatePending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		<-s.slots
		return nil, fmt.Errorf("create job: %w", err)
	}
	// The queue has the same capacity as the slot semaphore, so this
	// send cannot block.
	s.queue <- job

	s.logEvent("job_submitted", job, nil)
	return job, nil
}

func (s *jobService) Get(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// process runs one job through the full pipeline: quality gate, fallback
// chain, accept/review decision, persistence and telemetry. Provider
// errors are absorbed inside the chain; anything that escapes here is an
// internal fault that forces the job to FAILED.
func (s *jobService) process(ctx context.Context, job *model.Job) {
	if err := job.Transition(model.StateProcessing); err != nil {
		s.forceFail(ctx, job, err)
		return
	}
	if err := s.repo.Update(ctx, job); err != nil {
		s.forceFail(ctx, job, err)
		return
	}

	image, err := s.fetchImage(ctx, job.ImageKey)
	if err != nil {
		s.forceFail(ctx, job, fmt.Errorf("fetch image: %w", err))
		return
	}

	verdict := s.gate.EvaluateBytes(image)
	if !verdict.Pass {
		job.NeedsBetterPhoto = true
		for _, r := range verdict.Reasons {
			job.QualityReasons = append(job.QualityReasons, string(r))
		}
		s.finalize(ctx, job, model.StateManualReview)
		return
	}

	outcome := s.chain.Run(ctx, image)
	job.Attempts = outcome.Attempts
	if err := s.repo.AppendAttempts(ctx, job.ID, outcome.Attempts); err != nil {
		s.forceFail(ctx, job, err)
		return
	}

	switch {
	case outcome.Result == nil:
		// No provider ever returned parseable MRZ.
		s.finalize(ctx, job, model.StateFailed)
	case outcome.AutoAccepted:
		job.Result = outcome.Result
		job.WinningEngine = outcome.WinningEngine
		s.flagDuplicate(ctx, job)
		s.finalize(ctx, job, model.StateAutoAccepted)
	default:
		// Best candidate below threshold: hand it to a human.
		job.Result = outcome.Result
		job.WinningEngine = outcome.WinningEngine
		s.finalize(ctx, job, model.StateManualReview)
	}
}

func (s *jobService) fetchImage(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// flagDuplicate runs the atomic tenant-scoped check-and-insert. A match
// only flags the result; acceptance is unaffected. Index failures are
// logged and treated as non-duplicates rather than blocking the job.
func (s *jobService) flagDuplicate(ctx context.Context, job *model.Job) {
	if job.Result == nil || job.Result.PassportHash == "" {
		return
	}
	dup, err := s.hashes.CheckAndInsert(ctx, job.TenantID, job.Result.PassportHash, job.ID)
	if err != nil {
		s.logEvent("duplicate_index_error", job, err)
		return
	}
	job.Result.DuplicateFlag = dup
}

// finalize moves the job to its decision state, persists it and emits
// the SLA record. AUTO_ACCEPTED results are forwarded downstream.
func (s *jobService) finalize(ctx context.Context, job *model.Job, state model.JobState) {
	if err := job.Transition(state); err != nil {
		s.forceFail(ctx, job, err)
		return
	}
	if err := s.repo.Update(ctx, job); err != nil {
		s.logEvent("job_persist_error", job, err)
	}
	s.logEvent("job_decided", job, nil)
	if s.slaLog != nil {
		s.slaLog.RecordDecision(job)
	}
	if job.State == model.StateAutoAccepted && job.Result != nil && s.crm != nil {
		if err := s.crm.PushResult(ctx, job.TenantID, job.ID, job.Result); err != nil {
			s.logEvent("crm_push_failed", job, err)
		}
	}
}

// forceFail handles internal faults: the job is forced to FAILED no
// matter what state it is in, the fault is fully logged internally, and
// the caller-facing surface never sees the detail.
func (s *jobService) forceFail(ctx context.Context, job *model.Job, cause error) {
	s.logEvent("internal_fault", job, cause)
	if err := job.Transition(model.StateFailed); err != nil {
		// The state machine refused (already terminal); overwrite
		// defensively so the stored state is honest about the outcome.
		job.State = model.StateFailed
		now := s.now().UTC()
		job.CompletedAt = &now
	}
	if err := s.repo.Update(ctx, job); err != nil {
		s.logEvent("job_persist_error", job, err)
	}
	if s.slaLog != nil {
		s.slaLog.RecordDecision(job)
	}
}

func (s *jobService) SubmitReview(ctx context.Context, id, line1, line2 string) (*model.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != model.StateManualReview {
		if job.State.Terminal() {
			return nil, ErrJobTerminal
		}
		return nil, ErrNotReviewable
	}

	parsed, perr := mrz.Parse(line1, line2)
	if perr != nil {
		return nil, ErrInvalidMRZ
	}

	// Reviewer-approved fields bypass the scorer; the prior candidate's
	// score is carried for observability when one exists.
	score := 0.0
	tier := model.TierLow
	if job.Result != nil {
		score = job.Result.ConfidenceScore
		tier = job.Result.ConfidenceTier
	}
	result := mrz.BuildResult(parsed, score, tier)
	job.Result = result
	s.flagDuplicate(ctx, job)

	if err := job.Transition(model.StateAutoAccepted); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist review: %w", err)
	}
	s.logEvent("manual_review_applied", job, nil)
	if s.slaLog != nil {
		s.slaLog.RecordDecision(job)
	}
	if s.crm != nil {
		if err := s.crm.PushResult(ctx, job.TenantID, job.ID, job.Result); err != nil {
			s.logEvent("crm_push_failed", job, err)
		}
	}
	return job, nil
}

func (s *jobService) RecordAsyncResult(ctx context.Context, jobID, engineName, line1, line2 string, latencyMS int64) (*model.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return nil, ErrJobTerminal
	}

	parsed, _ := mrz.Parse(line1, line2)
	score, tier := mrz.Score(parsed, parsed.EditDistance(), s.now())

	// The repository allocates the persisted attempt index; this one only
	// orders the in-memory echo returned to the caller.
	attempt := model.EngineAttempt{
		EngineName:      engineName,
		AttemptIndex:    len(job.Attempts),
		LatencyMS:       latencyMS,
		ConfidenceScore: &score,
	}
	job.Attempts = append(job.Attempts, attempt)
	if err := s.repo.AppendAttempts(ctx, job.ID, []model.EngineAttempt{attempt}); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	// A late result can still rescue a job parked for manual review.
	if job.State == model.StateManualReview && score >= s.minConfidence {
		job.Result = mrz.BuildResult(parsed, score, tier)
		job.WinningEngine = engineName
		s.flagDuplicate(ctx, job)
		if err := job.Transition(model.StateAutoAccepted); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("persist async result: %w", err)
		}
		s.logEvent("async_result_accepted", job, nil)
		if s.slaLog != nil {
			s.slaLog.RecordDecision(job)
		}
		if s.crm != nil {
			if err := s.crm.PushResult(ctx, job.TenantID, job.ID, job.Result); err != nil {
				s.logEvent("crm_push_failed", job, err)
			}
		}
	}
	return job, nil
}

// logEvent writes one JSON log line per lifecycle event. Identity data
// never appears here; jobs are referenced by id and tenant only.
func (s *jobService) logEvent(event string, job *model.Job, cause error) {
	entry := map[string]any{
		"ts":        s.now().UTC().Format(time.RFC3339Nano),
		"level":     "info",
		"component": "job_service",
		"event":     event,
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
		"state":     string(job.State),
	}
	if cause != nil {
		entry["level"] = "error"
		entry["error"] = cause.Error()
	}
	if b, err := json.Marshal(entry); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
