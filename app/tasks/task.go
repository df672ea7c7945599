package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	// TaskTypeProcessFeed fetches a feed and merges its items into the shared article store.
	TaskTypeProcessFeed TaskType = "process_feed"
	// TaskTypeExtractContent fills in readable content for a feed's articles that arrived without any.
	TaskTypeExtractContent TaskType = "extract_content"
)

const DefaultMaxRetries = 3

// TaskInterface is a unit of background work scoped to a single feed id.
// Articles can belong to several feeds, so a task only ever touches the
// membership of the feed it was created for.
type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetFeedID() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

// Task holds the bookkeeping shared by all task types. FeedID is the database id of the
// feed, not its URL, and stays valid only while the feed exists.
type Task struct {
	ID         string
	Type       TaskType
	FeedID     string
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetFeedID() string {
	return t.FeedID
}

func (t *Task) GetRetryCount() int {
	return t.RetryCount
}

func (t *Task) GetMaxRetries() int {
	return t.MaxRetries
}

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, feedID string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		FeedID:     feedID,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// taskKey identifies a task by type and feed id, so the same feed is never queued twice for the same work.
func taskKey(task TaskInterface) string {
	return string(task.GetType()) + ":" + task.GetFeedID()
}
