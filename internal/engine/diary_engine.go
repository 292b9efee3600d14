package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"robot-diary/server/internal/models"
	"robot-diary/server/internal/prompts"
	"robot-diary/server/internal/timeline"
)

const (
	// snippetTextLimit bounds the free-text body in the reasoning context.
	snippetTextLimit = 240

	// TravelTag marks timeline entries written by the reasoning model.
	TravelTag = "20B"

	defaultQuestion = "Summarize recent activities."
)

// snippet is the compact per-entry projection handed to the reasoning model.
type snippet struct {
	Ts      int64   `json:"ts"`
	Title   string  `json:"title"`
	State   string  `json:"state"`
	Risk    float64 `json:"risk"`
	Caption string  `json:"caption"`
	Text    string  `json:"text"`
}

// DiaryEngine runs the two reasoning operations over a bounded window of
// recent timeline entries. Both operations return within the configured
// timeout; Ask always returns a string, never an error.
type DiaryEngine struct {
	gen     Generator
	tmpl    *prompts.TemplateEngine
	store   *timeline.Store
	model   string
	window  int
	timeout time.Duration
}

func NewDiaryEngine(gen Generator, tmpl *prompts.TemplateEngine, store *timeline.Store, model string, window int, timeout time.Duration) *DiaryEngine {
	return &DiaryEngine{
		gen:     gen,
		tmpl:    tmpl,
		store:   store,
		model:   model,
		window:  window,
		timeout: timeout,
	}
}

// Ask answers a free-text question from the recent window. Endpoint failures
// degrade to an error-marker answer string.
func (e *DiaryEngine) Ask(ctx context.Context, question string) string {
	if question == "" {
		question = defaultQuestion
	}

	prompt, err := e.tmpl.Render("ask", map[string]string{
		"context":  e.windowContext(),
		"question": question,
	})
	if err != nil {
		return fmt.Sprintf("(error building prompt) %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	answer, err := e.gen.Generate(ctx, e.model, prompt, nil)
	if err != nil {
		return fmt.Sprintf("(error contacting reasoning model) %v", err)
	}
	return answer
}

// ComposeTravelEntry asks the reasoning model for a travel-diary paragraph
// woven from the recent window plus an optional user note, and returns it as
// a ready-to-append entry. On failure no entry is produced.
func (e *DiaryEngine) ComposeTravelEntry(ctx context.Context, note string) (models.Entry, error) {
	if note == "" {
		note = "(none)"
	}

	prompt, err := e.tmpl.Render("travel", map[string]string{
		"context": e.windowContext(),
		"note":    note,
	})
	if err != nil {
		return models.Entry{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.gen.Generate(ctx, e.model, prompt, nil)
	if err != nil {
		return models.Entry{}, fmt.Errorf("reasoning model: %w", err)
	}

	return models.Entry{
		Timestamp: time.Now().Unix(),
		Title:     "travel diary",
		Text:      "",
		Image:     nil,
		Caption:   text,
		Risk:      0,
		State:     "idle",
		Tag:       TravelTag,
	}, nil
}

// windowContext serializes the last window entries as snippet JSON, oldest
// first, exactly as embedded into the prompt templates.
func (e *DiaryEngine) windowContext() string {
	entries := e.store.Tail(e.window)
	snippets := make([]snippet, 0, len(entries))
	for _, entry := range entries {
		snippets = append(snippets, snippet{
			Ts:      entry.Timestamp,
			Title:   entry.Title,
			State:   entry.State,
			Risk:    entry.Risk,
			Caption: entry.Caption,
			Text:    truncate(entry.Text, snippetTextLimit),
		})
	}
	data, err := json.Marshal(snippets)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
