package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/schollz/progressbar/v3"
)

const expandSystemPrompt = `You write prompts for evaluating a fine-tuned image generation model.
Given an example prompt, produce one distinct variation that keeps the subject
but changes composition, lighting, or setting. Respond with JSON:
{"shortname": "...", "prompt": "..."}`

// LibraryExpander grows a user prompt library with LLM-written variations so
// validation covers more of the subject distribution than the user typed in.
type LibraryExpander struct {
	client openai.Client
	model  string
	temp   float64

	// generate is swapped for a stub in tests.
	generate func(ctx context.Context, entry Entry) (Entry, error)
}

func NewLibraryExpander(model string, temp float64) *LibraryExpander {
	e := &LibraryExpander{client: openai.NewClient(), model: model, temp: temp}
	e.generate = e.expandOne
	return e
}

type expansion struct {
	Shortname string `json:"shortname"`
	Prompt    string `json:"prompt"`
}

// Expand produces up to perEntry variations of each entry. Failures skip the
// entry rather than aborting the whole expansion.
func (e *LibraryExpander) Expand(ctx context.Context, entries []Entry, perEntry int) []Entry {
	bar := progressbar.Default(int64(len(entries)*perEntry), "expanding prompt library")

	var out []Entry
	for _, entry := range entries {
		for i := 0; i < perEntry; i++ {
			variant, err := e.generate(ctx, entry)
			if err != nil {
				slog.Error("error expanding prompt", "shortname", entry.Shortname, "error", err)
				_ = bar.Add(1)
				continue
			}
			out = append(out, variant)
			_ = bar.Add(1)
		}
	}
	return out
}

func (e *LibraryExpander) expandOne(ctx context.Context, entry Entry) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	res, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(expandSystemPrompt),
			openai.UserMessage(entry.Prompt),
		},
		Temperature: openai.Float(e.temp),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("openai generation failed: %w", err)
	}

	var exp expansion
	if err := json.Unmarshal([]byte(res.Choices[0].Message.Content), &exp); err != nil {
		return Entry{}, fmt.Errorf("parsing expansion response: %w", err)
	}
	if exp.Prompt == "" {
		return Entry{}, fmt.Errorf("expansion returned empty prompt")
	}

	shortname := exp.Shortname
	if shortname == "" {
		shortname = entry.Shortname + "_var"
	}
	return Entry{Shortname: SanitizeShortname(shortname), Prompt: exp.Prompt}, nil
}
