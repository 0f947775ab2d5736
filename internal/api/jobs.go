package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// GenerationJob tracks a long-running generation request the frontend polls.
type GenerationJob struct {
	ID        string    `json:"jobId"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message,omitempty"`
	Percent   int       `json:"percent"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ProgressFunc reports a step of a running job.
type ProgressFunc func(step, message string, current, total int)

// JobFunc does the work of a job. Its result is stored as-is and must not be
// modified after it returns.
type JobFunc func(ctx context.Context, progress ProgressFunc) (any, error)

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*GenerationJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJobManager() *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]*GenerationJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers a job and runs fn in the background.
func (m *JobManager) Start(kind string, fn JobFunc) *GenerationJob {
	now := time.Now().UTC()
	job := &GenerationJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := job.clone()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(job.ID, fn)
	}()
	return snapshot
}

func (m *JobManager) run(id string, fn JobFunc) {
	m.MarkProcessing(id)
	progress := func(step, message string, current, total int) {
		m.UpdateProgress(id, step, message, current, total)
	}
	result, err := fn(m.ctx, progress)
	if err != nil {
		m.MarkFailed(id, err.Error())
		return
	}
	m.MarkCompleted(id, result)
}

func (m *JobManager) GetJob(id string) (*GenerationJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusProcessing
		job.Message = "Starting"
	})
}

func (m *JobManager) UpdateProgress(id, step, message string, current, total int) {
	m.withJob(id, func(job *GenerationJob) {
		job.Step = step
		job.Message = message
		job.Percent = percent(current, total)
	})
}

func (m *JobManager) MarkCompleted(id string, result any) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusComplete
		job.Step = "complete"
		job.Message = "Generation complete"
		job.Percent = 100
		job.Result = result
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "generation failed"
	}
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusFailed
		job.Step = "error"
		job.Message = msg
		job.Error = msg
		job.Percent = 100
	})
}

// Close cancels running jobs and waits for them to return.
func (m *JobManager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until every started job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

func (m *JobManager) withJob(id string, fn func(job *GenerationJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *GenerationJob) clone() *GenerationJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	return &copyJob
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
