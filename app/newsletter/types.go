package newsletter

import (
	"context"
	"time"
)

const requiredListLength = 5

type Status string

const (
	StatusEmpty      Status = "empty"
	StatusNotObject  Status = "not-object"
	StatusIncomplete Status = "incomplete"
	StatusPartial    Status = "partial"
	StatusComplete   Status = "complete"
)

// Newsletter is the object the model is asked to produce.
type Newsletter struct {
	SuggestedTitles       []string `json:"suggestedTitles"`
	SuggestedSubjectLines []string `json:"suggestedSubjectLines"`
	Body                  string   `json:"body"`
	TopAnnouncements      []string `json:"topAnnouncements"`
	AdditionalInfo        string   `json:"additionalInfo,omitempty"`
}

// IsComplete reports whether every required field has its final shape.
func (n *Newsletter) IsComplete() bool {
	return len(n.SuggestedTitles) == requiredListLength &&
		len(n.SuggestedSubjectLines) == requiredListLength &&
		len(n.TopAnnouncements) == requiredListLength &&
		n.Body != ""
}

// PartialResult is the best-effort view of the stream after one chunk.
// Newsletter is nil unless Status is StatusPartial or StatusComplete.
type PartialResult struct {
	Status     Status      `json:"status"`
	Newsletter *Newsletter `json:"newsletter,omitempty"`
	Received   int         `json:"received"`
}

func (r PartialResult) HasObject() bool {
	return r.Newsletter != nil
}

// Request selects the articles a newsletter is written from.
type Request struct {
	FeedIDs   []string  `json:"feedIds"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	UserInput string    `json:"userInput"`
}

// ChunkStream yields text chunks until it returns io.EOF.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// Producer opens a text stream for a prompt.
type Producer interface {
	Open(ctx context.Context, prompt string) (ChunkStream, error)
}
