package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/pkg/lock"
	"github.com/d60-Lab/thought-board/pkg/logger"
)

const (
	recoverLockKey = "recover"
	recoverLockTTL = 2 * time.Hour
)

// ErrRecoveryQueueFull 队列已满，请求被丢弃
var ErrRecoveryQueueFull = errors.New("recovery queue full")

// ErrRunNotFound 未知的 run id
var ErrRunNotFound = errors.New("recovery run not found")

// ErrRecoveryRunning 另一个恢复任务持有锁
var ErrRecoveryRunning = errors.New("recovery already running")

// ErrRunnerStopped 执行器已停止，排队中的任务不会再执行
var ErrRunnerStopped = errors.New("recovery runner stopped")

// RunState 恢复任务状态
type RunState string

const (
	RunQueued   RunState = "queued"
	RunRunning  RunState = "running"
	RunDone     RunState = "done"
	RunFailed   RunState = "failed"
	RunRejected RunState = "rejected"
)

// RecoveryRun 一次异步恢复的状态快照
type RecoveryRun struct {
	ID         string          `json:"id"`
	State      RunState        `json:"state"`
	Request    RecoveryRequest `json:"request"`
	Report     *RecoveryReport `json:"report,omitempty"`
	Error      string          `json:"error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

type recoveryJob struct {
	id  string
	req RecoveryRequest
}

// RecoveryRunner 本地异步执行恢复任务，同一时刻只跑一个
type RecoveryRunner struct {
	reconciler *Reconciler
	locker     lock.Locker
	ch         chan recoveryJob

	mu      sync.RWMutex
	runs    map[string]*RecoveryRun
	stopped bool
}

func NewRecoveryRunner(reconciler *Reconciler, locker lock.Locker, queueSize int) *RecoveryRunner {
	if queueSize <= 0 {
		queueSize = 16
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &RecoveryRunner{
		reconciler: reconciler,
		locker:     locker,
		ch:         make(chan recoveryJob, queueSize),
		runs:       make(map[string]*RecoveryRun),
	}
}

// Start 启动单个 worker；停止时取消正在执行的任务
func (r *RecoveryRunner) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// 停止后不再取新任务
			if ctx.Err() != nil {
				r.drain()
				return
			}
			select {
			case job := <-r.ch:
				r.run(ctx, job)
			case <-ctx.Done():
				r.drain()
				return
			}
		}
	}()
	return func(stopCtx context.Context) error {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

// Enqueue 提交恢复请求，返回 run id
func (r *RecoveryRunner) Enqueue(req RecoveryRequest) (string, error) {
	id := uuid.NewString()
	run := &RecoveryRun{ID: id, State: RunQueued, Request: req, EnqueuedAt: time.Now().UTC()}

	// 入队与 stopped 判断在同一把锁内，停止后的 drain 一定能看到已入队的任务
	r.mu.Lock()
	r.runs[id] = run
	err := ErrRunnerStopped
	if !r.stopped {
		select {
		case r.ch <- recoveryJob{id: id, req: req}:
			err = nil
		default:
			err = ErrRecoveryQueueFull
		}
	}
	r.mu.Unlock()

	if err != nil {
		logger.Warn("recovery run rejected", zap.String("run_id", id), zap.Strings("channels", req.ChannelIDs), zap.Error(err))
		r.finish(id, RunRejected, nil, err)
		return "", err
	}
	return id, nil
}

// Status 返回任务状态副本
func (r *RecoveryRunner) Status(id string) (RecoveryRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return RecoveryRun{}, ErrRunNotFound
	}
	return *run, nil
}

// RunNow 同步执行（CLI 使用），与后台任务共用同一把锁
func (r *RecoveryRunner) RunNow(ctx context.Context, req RecoveryRequest) (*RecoveryReport, error) {
	release, ok, err := r.locker.TryLock(ctx, recoverLockKey, recoverLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecoveryRunning
	}
	defer release()
	return r.reconciler.Recover(ctx, req)
}

// QueueLen 当前排队数量
func (r *RecoveryRunner) QueueLen() int { return len(r.ch) }

func (r *RecoveryRunner) run(ctx context.Context, job recoveryJob) {
	r.mu.Lock()
	if run, ok := r.runs[job.id]; ok {
		run.State = RunRunning
	}
	r.mu.Unlock()

	logger.Info("recovery run started", zap.String("run_id", job.id))
	report, err := r.RunNow(ctx, job.req)
	if err != nil {
		logger.Error("recovery run failed", zap.String("run_id", job.id), zap.Error(err))
		r.finish(job.id, RunFailed, report, err)
		return
	}
	r.finish(job.id, RunDone, report, nil)
}

// drain 把仍在排队的任务标记为 rejected
func (r *RecoveryRunner) drain() {
	for {
		select {
		case job := <-r.ch:
			r.finish(job.id, RunRejected, nil, ErrRunnerStopped)
		default:
			return
		}
	}
}

func (r *RecoveryRunner) finish(id string, state RunState, report *RecoveryReport, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	run.State = state
	run.Report = report
	run.FinishedAt = &now
	if err != nil {
		run.Error = err.Error()
	}
}
