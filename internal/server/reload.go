package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	reloadTaskPrefix            = "reload-"
	reloadStatusRunning         = reloadStatus("running")
	reloadStatusCompleted       = reloadStatus("completed")
	reloadStatusFailed          = reloadStatus("failed")
	reloadTaskNotFoundMessage   = "reload task not found"
	reloadTimeout               = 2 * time.Minute
	logMessageReloadFailed      = "reload failed"
	logMessageReloadCompleted   = "reload completed"
	logFieldReloadTask          = "task"
	logFieldReloadDurationMilli = "duration_ms"
)

// reloadStatus represents the lifecycle state of a reload task.
type reloadStatus string

type reloadTask struct {
	identifier string
	status     reloadStatus
	startedAt  time.Time
	finishedAt time.Time
	err        string
}

// reloadTaskSnapshot copies the public portions of a task for serialization.
type reloadTaskSnapshot struct {
	Identifier string       `json:"id"`
	Status     reloadStatus `json:"status"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// reloadTracker tracks running and finished reload tasks. At most one reload runs at a time.
type reloadTracker struct {
	mutex        sync.Mutex
	tasks        map[string]*reloadTask
	running      string
	nextSequence int
}

func newReloadTracker() *reloadTracker {
	return &reloadTracker{tasks: make(map[string]*reloadTask)}
}

// StartTask registers a new task. When a reload is already running its snapshot is returned
// and started is false.
func (tracker *reloadTracker) StartTask(now time.Time) (snapshot reloadTaskSnapshot, started bool) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	if running, exists := tracker.tasks[tracker.running]; exists && running.status == reloadStatusRunning {
		return tracker.snapshotTask(running), false
	}
	tracker.nextSequence++
	identifier := fmt.Sprintf("%s%d", reloadTaskPrefix, tracker.nextSequence)
	task := &reloadTask{identifier: identifier, status: reloadStatusRunning, startedAt: now}
	tracker.tasks[identifier] = task
	tracker.running = identifier
	return tracker.snapshotTask(task), true
}

// CompleteTask transitions a task to its terminal status.
func (tracker *reloadTracker) CompleteTask(taskIdentifier string, finishedAt time.Time, reloadErr error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return
	}
	task.finishedAt = finishedAt
	if reloadErr != nil {
		task.status = reloadStatusFailed
		task.err = reloadErr.Error()
	} else {
		task.status = reloadStatusCompleted
	}
	if tracker.running == taskIdentifier {
		tracker.running = ""
	}
}

// TaskSnapshot returns a copy of the task state for external observers.
func (tracker *reloadTracker) TaskSnapshot(taskIdentifier string) (reloadTaskSnapshot, bool) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return reloadTaskSnapshot{}, false
	}
	return tracker.snapshotTask(task), true
}

func (tracker *reloadTracker) snapshotTask(task *reloadTask) reloadTaskSnapshot {
	snapshot := reloadTaskSnapshot{
		Identifier: task.identifier,
		Status:     task.status,
		StartedAt:  task.startedAt,
		Error:      task.err,
	}
	if !task.finishedAt.IsZero() {
		finishedAt := task.finishedAt
		snapshot.FinishedAt = &finishedAt
	}
	return snapshot
}

func (handler workflowHandler) startReload(ginContext *gin.Context) {
	if handler.reload == nil {
		ginContext.JSON(http.StatusNotImplemented, gin.H{errorResponseKey: errorMessageReloadDisabled})
		return
	}
	snapshot, started := handler.reloads.StartTask(handler.now())
	if !started {
		ginContext.JSON(http.StatusConflict, snapshot)
		return
	}
	go handler.runReload(snapshot.Identifier)
	ginContext.JSON(http.StatusAccepted, snapshot)
}

func (handler workflowHandler) runReload(taskIdentifier string) {
	reloadContext, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	startedAt := handler.now()
	reloadErr := handler.reload(reloadContext)
	finishedAt := handler.now()
	handler.reloads.CompleteTask(taskIdentifier, finishedAt, reloadErr)
	if reloadErr != nil {
		handler.logger.Warn(logMessageReloadFailed, zap.String(logFieldReloadTask, taskIdentifier), zap.Error(reloadErr))
		return
	}
	handler.logger.Info(logMessageReloadCompleted,
		zap.String(logFieldReloadTask, taskIdentifier),
		zap.Int64(logFieldReloadDurationMilli, finishedAt.Sub(startedAt).Milliseconds()),
	)
}

func (handler workflowHandler) reloadTaskStatus(ginContext *gin.Context) {
	snapshot, exists := handler.reloads.TaskSnapshot(ginContext.Param(taskParameter))
	if !exists {
		ginContext.JSON(http.StatusNotFound, gin.H{errorResponseKey: reloadTaskNotFoundMessage})
		return
	}
	ginContext.JSON(http.StatusOK, snapshot)
}
