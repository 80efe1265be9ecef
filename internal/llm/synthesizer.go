package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/biocite/biocite/internal/cache"
)

// ErrNoSubstantiveBody indicates the model produced no usable text. It is
// distinguishable from a transport failure: the call worked, the content is
// empty.
var ErrNoSubstantiveBody = errors.New("no substantive body")

// Synthesizer produces the baseline markdown report for a prompt. Responses
// are cached by model+prompt digest so re-runs are deterministic and cheap.
type Synthesizer struct {
	Client      Client
	Cache       *cache.Disk
	Model       string
	Temperature float32

	// sleep is injectable for tests; nil means a fixed 100ms backoff
	// before the single transient retry.
	sleep func()
}

// Synthesize requests a single completion, retrying once on transport error.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	if s.Client == nil || strings.TrimSpace(s.Model) == "" {
		return "", errors.New("synthesizer not configured")
	}
	key := cache.KeyFrom("llm", s.Model+"\n\n"+prompt)
	if s.Cache != nil {
		if raw, ok, _ := s.Cache.Get(ctx, key); ok {
			var out struct {
				Markdown string `json:"markdown"`
			}
			if err := json.Unmarshal(raw, &out); err == nil && strings.TrimSpace(out.Markdown) != "" {
				return out.Markdown, nil
			}
		}
	}

	req := openai.ChatCompletionRequest{
		Model: s.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: s.Temperature,
		N:           1,
	}
	resp, err := s.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		if s.sleep != nil {
			s.sleep()
		} else {
			time.Sleep(100 * time.Millisecond)
		}
		resp, err = s.Client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("synthesis call (after retry): %w", err)
		}
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoSubstantiveBody
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrNoSubstantiveBody
	}
	if s.Cache != nil {
		payload, _ := json.Marshal(map[string]string{"markdown": out})
		_ = s.Cache.Save(ctx, key, payload)
	}
	return out, nil
}

// ChatGenerator satisfies the repair loop's generator boundary with a plain
// chat completion. Repair calls are not cached: a repair prompt embeds
// claim text that should be retried fresh each iteration.
type ChatGenerator struct {
	Client      Client
	Model       string
	Temperature float32
}

// Generate sends one prompt and returns the raw completion text.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.Client == nil || strings.TrimSpace(g.Model) == "" {
		return "", errors.New("generator not configured")
	}
	resp, err := g.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.Temperature,
		N:           1,
	})
	if err != nil {
		return "", fmt.Errorf("generation call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoSubstantiveBody
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrNoSubstantiveBody
	}
	return out, nil
}
