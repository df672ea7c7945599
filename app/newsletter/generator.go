package newsletter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-digest/app/database"
)

const maxDigestArticles = 100

var (
	ErrNoArticles     = errors.New("no articles found for the selected feeds and date range")
	ErrInvalidRequest = errors.New("invalid newsletter request")
)

type ArticleSource interface {
	GetArticlesForDigest(ctx context.Context, feedIDs []string, from, to time.Time, limit int) ([]database.Article, error)
}

// Generator selects articles, prompts the producer and feeds its output through an Accumulator.
type Generator struct {
	articles ArticleSource
	producer Producer
}

func NewGenerator(articles ArticleSource, producer Producer) *Generator {
	return &Generator{
		articles: articles,
		producer: producer,
	}
}

// Prepare validates req and loads the articles it selects.
func (g *Generator) Prepare(ctx context.Context, req Request) ([]database.Article, error) {
	if len(req.FeedIDs) == 0 {
		return nil, fmt.Errorf("%w: no feeds selected", ErrInvalidRequest)
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return nil, fmt.Errorf("%w: invalid date range", ErrInvalidRequest)
	}

	articles, err := g.articles.GetArticlesForDigest(ctx, req.FeedIDs, req.StartDate, req.EndDate, maxDigestArticles)
	if err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}
	if len(articles) == 0 {
		return nil, ErrNoArticles
	}

	return articles, nil
}

// Stream runs the generation for articles and calls emit with the parse result after every chunk.
// It stops as soon as ctx is done or emit fails, and returns the final result.
func (g *Generator) Stream(ctx context.Context, req Request, articles []database.Article, emit func(PartialResult) error) (PartialResult, error) {
	stream, err := g.producer.Open(ctx, BuildPrompt(req, articles))
	if err != nil {
		return PartialResult{}, fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	start := time.Now()
	acc := NewAccumulator()
	chunks := 0

	for {
		if err := ctx.Err(); err != nil {
			return acc.Final(), err
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return acc.Final(), fmt.Errorf("stream interrupted after %d bytes: %w", len(acc.Text()), err)
		}

		chunks++
		if err := emit(acc.Push(chunk)); err != nil {
			return acc.Final(), err
		}
	}

	final := acc.Final()
	slog.Info("Newsletter generated",
		"articles", len(articles),
		"chunks", chunks,
		"bytes", final.Received,
		"status", final.Status,
		"duration", time.Since(start))

	return final, nil
}
