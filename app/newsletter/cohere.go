package newsletter

import (
	"context"
	"fmt"
	"io"
	"net/http"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// CohereProducer streams chat completions from the Cohere API.
type CohereProducer struct {
	client *cohereclient.Client
	model  string
}

func NewCohereProducer(apiKey, model string, httpClient *http.Client) *CohereProducer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &CohereProducer{
		client: cohereclient.NewClient(
			cohereclient.WithToken(apiKey),
			cohereclient.WithHTTPClient(httpClient),
		),
		model: model,
	}
}

func (p *CohereProducer) Open(ctx context.Context, prompt string) (ChunkStream, error) {
	model := p.model
	stream, err := p.client.ChatStream(ctx, &cohere.ChatStreamRequest{
		Message: prompt,
		Model:   &model,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere chat stream: %w", err)
	}

	return &cohereStream{
		recv: func() (string, bool, error) {
			event, err := stream.Recv()
			if err != nil {
				return "", false, err
			}
			if event.StreamEnd != nil {
				return "", true, nil
			}
			if event.TextGeneration != nil {
				return event.TextGeneration.Text, false, nil
			}
			return "", false, nil
		},
		close: stream.Close,
	}, nil
}

type cohereStream struct {
	recv  func() (text string, end bool, err error)
	close func() error
}

// Recv skips events that carry no text and maps the stream-end event to io.EOF.
func (s *cohereStream) Recv() (string, error) {
	for {
		text, end, err := s.recv()
		if err != nil {
			return "", err
		}
		if end {
			return "", io.EOF
		}
		if text != "" {
			return text, nil
		}
	}
}

func (s *cohereStream) Close() error {
	return s.close()
}
