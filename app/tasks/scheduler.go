package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/cfg"
	"github.com/lysyi3m/rss-digest/app/database"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	feedRepo        database.FeedRepository
	articleRepo     ArticleContentStore
	refresher       FeedRefresher
	fetcher         PageFetcher
	extractor       ContentExtractor
	invalidator     articles.FeedCacheInvalidator
	interval        time.Duration
	refreshInterval time.Duration
	fetchTimeout    time.Duration
	workerCount     int
	maxItems        int
	extractContent  bool
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	taskQueue       chan TaskInterface

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewScheduler(feedRepo database.FeedRepository, articleRepo ArticleContentStore, refresher FeedRefresher,
	fetcher PageFetcher, extractor ContentExtractor, invalidator articles.FeedCacheInvalidator) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		feedRepo:        feedRepo,
		articleRepo:     articleRepo,
		refresher:       refresher,
		fetcher:         fetcher,
		extractor:       extractor,
		invalidator:     invalidator,
		interval:        cfg.SchedulerIntervalDuration(),
		refreshInterval: cfg.RefreshIntervalDuration(),
		fetchTimeout:    cfg.FetchTimeoutDuration(),
		workerCount:     cfg.WorkerCount,
		maxItems:        cfg.MaxItems,
		extractContent:  cfg.ExtractContent,
		ctx:             ctx,
		cancel:          cancel,
		taskQueue:       make(chan TaskInterface, 300),
		pending:         make(map[string]struct{}),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// EnqueueTask queues a task unless the same kind of work for the same feed is already queued or running.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	key := taskKey(task)

	s.mu.Lock()
	if _, ok := s.pending[key]; ok {
		s.mu.Unlock()
		slog.Debug("Task already pending, skipping", "type", string(task.GetType()), "feed_id", task.GetFeedID())
		return nil
	}
	s.pending[key] = struct{}{}
	s.mu.Unlock()

	if err := s.push(task); err != nil {
		s.release(task)
		return err
	}
	return nil
}

func (s *Scheduler) EnqueueFeedRefresh(feed database.Feed) error {
	return s.EnqueueTask(NewProcessFeedTask(feed, s.refresher))
}

func (s *Scheduler) push(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) release(task TaskInterface) {
	s.mu.Lock()
	delete(s.pending, taskKey(task))
	s.mu.Unlock()
}

func (s *Scheduler) enqueueTasks() {
	dueBefore := time.Now().UTC().Add(-s.refreshInterval)

	feeds, err := s.feedRepo.GetFeedsDueForRefresh(s.ctx, dueBefore)
	if err != nil {
		slog.Error("Failed to get feeds due for refresh", "error", err)
		return
	}

	if len(feeds) == 0 {
		slog.Debug("No feeds due for refresh")
		return
	}

	slog.Debug("Scheduling feed refresh", "count", len(feeds))

	for _, feed := range feeds {
		if err := s.EnqueueFeedRefresh(feed); err != nil {
			slog.Warn("Failed to enqueue ProcessFeedTask", "feed_id", feed.ID, "url", feed.URL, "error", err)
		}

		if !s.extractContent {
			continue
		}

		extractTask := NewExtractContentTask(feed.ID, s.fetcher, s.extractor, s.articleRepo, s.invalidator, s.maxItems, s.fetchTimeout)
		if err := s.EnqueueTask(extractTask); err != nil {
			slog.Warn("Failed to enqueue ExtractContentTask", "feed_id", feed.ID, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.release(task)
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		s.release(task)
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	delay := retryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed_id", task.GetFeedID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

	go func() {
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			s.release(task)
			return
		}

		// the task keeps its pending slot while waiting, so push directly
		if retryErr := s.push(task); retryErr != nil {
			s.release(task)
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}

func retryDelay(retryCount int) time.Duration {
	delay := time.Duration(1<<uint(retryCount-1)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
