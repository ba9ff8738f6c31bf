package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus 定义了任务可能的状态。
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Kind 是任务类型。
type Kind string

const (
	KindScan   Kind = "scan"
	KindMerge  Kind = "merge"
	KindDedupe Kind = "dedupe"
	KindCopy   Kind = "copy"
)

// ErrBusy 表示已有任务在运行。
var ErrBusy = errors.New("另一个任务正在进行中")

// ErrNotFound 表示任务 ID 不存在。
var ErrNotFound = errors.New("找不到任务")

// Task 结构体代表一个具体的后台任务。
type Task struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Status    TaskStatus `json:"status"`
	Progress  float64    `json:"progress"`
	Error     string     `json:"error,omitempty"`
	Result    any        `json:"result,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	cancel context.CancelFunc
}

// Runner 执行任务主体。返回的 cancelled 表示运行因取消而提前结束。
type Runner func(ctx context.Context) (result any, cancelled bool, err error)

// Manager 结构体是任务管理器。同一时间只运行一个任务，因为各类任务共享目标目录与数据集。
type Manager struct {
	tasks map[string]*Task
	mu    sync.RWMutex
	wg    sync.WaitGroup

	base context.Context
	stop context.CancelFunc
}

// NewManager 创建并返回一个新的任务管理器实例。
func NewManager() *Manager {
	base, stop := context.WithCancel(context.Background())
	return &Manager{tasks: make(map[string]*Task), base: base, stop: stop}
}

// Start 创建一个新任务并立即在后台启动它。
func (m *Manager) Start(kind Kind, run Runner) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.Status == StatusRunning || t.Status == StatusPending {
			return "", fmt.Errorf("%w (ID: %s)，请等待其完成后再试", ErrBusy, t.ID)
		}
	}

	ctx, cancel := context.WithCancel(m.base)
	t := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		StartTime: time.Now(),
		cancel:    cancel,
	}
	m.tasks[t.ID] = t

	m.wg.Add(1)
	go m.run(ctx, t, run)
	return t.ID, nil
}

func (m *Manager) run(ctx context.Context, t *Task, run Runner) {
	defer m.wg.Done()
	defer t.cancel()

	m.mu.Lock()
	t.Status = StatusRunning
	m.mu.Unlock()
	slog.Info("任务启动", "id", t.ID, "kind", t.Kind)

	result, cancelled, err := run(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	end := time.Now()
	t.EndTime = &end
	t.Result = result
	switch {
	case err != nil:
		t.Status = StatusFailed
		t.Error = err.Error()
		slog.Error("任务失败", "id", t.ID, "kind", t.Kind, "error", err)
	case cancelled:
		t.Status = StatusCancelled
		slog.Warn("任务已取消", "id", t.ID, "kind", t.Kind)
	default:
		t.Status = StatusCompleted
		t.Progress = 100
		slog.Info("任务完成", "id", t.ID, "kind", t.Kind, "duration", end.Sub(t.StartTime))
	}
}

// GetTaskStatus 根据任务ID检索特定任务当前状态的副本。
func (m *Manager) GetTaskStatus(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return *t, nil
}

// List 按开始时间返回全部任务。
func (m *Manager) List() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Cancel 请求取消任务。已结束的任务不受影响。
func (m *Manager) Cancel(taskID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	t.cancel()
	return nil
}

// Shutdown 取消所有任务并等待它们结束，ctx 到期时提前返回。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
