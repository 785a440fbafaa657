package application

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"feeindex/internal/domain"

	"github.com/oklog/ulid/v2"
)

// TaskTracker records scan task states in the cache store. Unknown ids are
// reported as pending.
type TaskTracker struct {
	cache Cache
	now   func() time.Time
}

func NewTaskTracker(cache Cache) (*TaskTracker, error) {
	if cache == nil {
		return nil, errors.New("task tracker requires a cache")
	}
	return &TaskTracker{cache: cache, now: time.Now}, nil
}

func (t *TaskTracker) Create(ctx context.Context, action domain.ActionType) (domain.ScanTask, error) {
	id, err := ulid.New(ulid.Timestamp(t.now()), rand.Reader)
	if err != nil {
		return domain.ScanTask{}, err
	}
	task := domain.ScanTask{ID: id.String(), Action: action, State: domain.TaskPending}
	return task, t.Save(ctx, task)
}

func (t *TaskTracker) Save(ctx context.Context, task domain.ScanTask) error {
	task.UpdatedAt = t.now().UTC()
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return t.cache.Set(ctx, taskKey(task.ID), string(payload))
}

func (t *TaskTracker) Get(ctx context.Context, id string) (domain.ScanTask, error) {
	raw, ok, err := t.cache.Get(ctx, taskKey(id))
	if err != nil {
		return domain.ScanTask{}, err
	}
	if !ok {
		return domain.ScanTask{ID: id, State: domain.TaskPending}, nil
	}
	var task domain.ScanTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return domain.ScanTask{}, err
	}
	return task, nil
}

// RunTask executes one scan for task and records its lifecycle.
func RunTask(ctx context.Context, scanner *Scanner, tracker *TaskTracker, task domain.ScanTask) (domain.ScanReport, error) {
	task.State = domain.TaskStarted
	if err := tracker.Save(ctx, task); err != nil {
		slog.Warn("task state save failed", "task_id", task.ID, "err", err)
	}

	report, err := scanner.Run(ctx, task.Action)
	task.Cursor = report.Cursor
	switch {
	case errors.Is(err, ErrScanInProgress):
		task.State = domain.TaskSkipped
		task.Error = err.Error()
	case err != nil:
		task.State = domain.TaskFailure
		task.Error = err.Error()
	case report.State == domain.ScanStopped:
		task.State = domain.TaskStopped
	default:
		task.State = domain.TaskSuccess
	}
	// Record the outcome even if the run was cancelled.
	if serr := tracker.Save(context.WithoutCancel(ctx), task); serr != nil {
		slog.Warn("task state save failed", "task_id", task.ID, "err", serr)
	}
	slog.Info("scan task finished",
		"task_id", task.ID,
		"state", task.State,
		"pages", report.Pages,
		"computed", report.Computed,
		"cached", report.Cached,
		"cursor", report.Cursor,
	)
	return report, err
}

// ScanDispatcher hands a scan task to whatever runs the background scanner.
type ScanDispatcher interface {
	DispatchScan(ctx context.Context, task domain.ScanTask) error
}

// LocalDispatcher runs scans on a goroutine of the current process.
type LocalDispatcher struct {
	base    context.Context
	scanner *Scanner
	tracker *TaskTracker
	wg      sync.WaitGroup
}

func NewLocalDispatcher(base context.Context, scanner *Scanner, tracker *TaskTracker) (*LocalDispatcher, error) {
	if base == nil || scanner == nil || tracker == nil {
		return nil, errors.New("local dispatcher dependencies must not be nil")
	}
	return &LocalDispatcher{base: base, scanner: scanner, tracker: tracker}, nil
}

func (d *LocalDispatcher) DispatchScan(_ context.Context, task domain.ScanTask) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := RunTask(d.base, d.scanner, d.tracker, task); err != nil {
			slog.Error("scan task failed", "task_id", task.ID, "err", err)
		}
	}()
	return nil
}

// Wait blocks until dispatched scans have returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
