package articles

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFeedURL  = errors.New("invalid feed URL")
	ErrUnparseableFeed = errors.New("feed document could not be parsed")
)

// CandidateError reports a candidate that could not be written; the rest of the batch continues.
type CandidateError struct {
	DedupKey string
	Err      error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("article %q: %v", e.DedupKey, e.Err)
}

func (e *CandidateError) Unwrap() error {
	return e.Err
}

// CleanupError is returned when feed deletion stops before the feed row is removed.
// Articles counted in Processed are already detached; retrying the deletion is safe.
type CleanupError struct {
	FeedID    string
	ArticleID string
	Processed int
	Err       error
}

func (e *CleanupError) Error() string {
	if e.ArticleID == "" {
		return fmt.Sprintf("cleanup of feed %s failed after %d articles: %v", e.FeedID, e.Processed, e.Err)
	}
	return fmt.Sprintf("cleanup of feed %s failed at article %s after %d articles: %v", e.FeedID, e.ArticleID, e.Processed, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}
