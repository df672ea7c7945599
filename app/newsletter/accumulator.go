package newsletter

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Accumulator collects streamed text and re-parses the whole buffer on every chunk.
// It is meant for a single producer and a single consumer.
type Accumulator struct {
	buf  strings.Builder
	last PartialResult
	best *Newsletter
}

func NewAccumulator() *Accumulator {
	return &Accumulator{last: PartialResult{Status: StatusEmpty}}
}

// Push appends chunk and returns the best-effort object for the text so far.
func (a *Accumulator) Push(chunk string) PartialResult {
	a.buf.WriteString(chunk)

	result := Parse(a.buf.String())
	result.Received = a.buf.Len()
	if result.Newsletter != nil {
		a.best = result.Newsletter
	}
	a.last = result

	return result
}

// Text returns everything pushed so far.
func (a *Accumulator) Text() string {
	return a.buf.String()
}

// Final returns the last status together with the last object that could be decoded.
func (a *Accumulator) Final() PartialResult {
	final := a.last
	if final.Newsletter == nil && a.best != nil {
		final.Newsletter = a.best
	}
	return final
}

// Parse decodes text as a newsletter object. It never panics; any internal failure
// is reported as StatusIncomplete.
func Parse(text string) (result PartialResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic while parsing stream", "panic", r, "length", len(text))
			result = PartialResult{Status: StatusIncomplete}
		}
	}()

	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return PartialResult{Status: StatusEmpty}
	}

	cleaned = sanitize(strings.TrimSpace(extractFenced(cleaned)))
	if cleaned == "" {
		return PartialResult{Status: StatusEmpty}
	}
	if !strings.HasPrefix(cleaned, "{") {
		return PartialResult{Status: StatusNotObject}
	}

	var n Newsletter
	if err := json.Unmarshal([]byte(cleaned), &n); err != nil {
		return PartialResult{Status: StatusIncomplete}
	}

	if n.IsComplete() {
		return PartialResult{Status: StatusComplete, Newsletter: &n}
	}
	return PartialResult{Status: StatusPartial, Newsletter: &n}
}
