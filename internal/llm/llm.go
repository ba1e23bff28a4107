// Package llm wraps the Anthropic API for conflict classification and
// extraction assistance, with retry/backoff and audit logging.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agenr/memory/internal/audit"
	"github.com/agenr/memory/internal/debug"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("llm: API key required")

// ConflictRelation is the forced tool-call classification of how a
// candidate entry relates to an existing one.
type ConflictRelation string

const (
	RelationSupersedes ConflictRelation = "supersedes"
	RelationContradicts ConflictRelation = "contradicts"
	RelationElaborates  ConflictRelation = "elaborates"
	RelationRelated     ConflictRelation = "related"
	RelationUnrelated   ConflictRelation = "unrelated"
)

// ConflictClassification is the structured result of ClassifyConflict.
type ConflictClassification struct {
	Relation    ConflictRelation
	Confidence  float64
	Explanation string
}

// ExtractedEntry is one candidate knowledge entry produced by ExtractEntries.
type ExtractedEntry struct {
	Type       string   `json:"type"`
	Subject    string   `json:"subject"`
	Content    string   `json:"content"`
	Importance int      `json:"importance"`
	Tags       []string `json:"tags"`
}

// Client is the LLM surface consumed by the conflict resolver, the
// consolidator, and the extraction scheduler.
type Client interface {
	ClassifyConflict(ctx context.Context, existing, candidate string) (*ConflictClassification, error)
	Summarize(ctx context.Context, prompt string) (string, error)
	ExtractEntries(ctx context.Context, chunkText, referenceContext string) ([]ExtractedEntry, error)
}

// AnthropicClient is the production Client backed by the Anthropic API.
type AnthropicClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
	log            *debug.Logger
	audit          *audit.Log
}

// New creates an AnthropicClient. Env var ANTHROPIC_API_KEY takes
// precedence over an explicit apiKey argument. auditLog may be nil to
// disable call logging.
func New(apiKey string, log *debug.Logger, auditLog *audit.Log) (*AnthropicClient, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or configure llm.apiKey", ErrAPIKeyRequired)
	}

	return &AnthropicClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          defaultModel,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		log:            log,
		audit:          auditLog,
	}, nil
}

var classifyConflictTool = anthropic.ToolParam{
	Name:        "classify_conflict",
	Description: anthropic.String("Record the relation between two memory entries."),
	InputSchema: anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"relation": map[string]any{
				"type": "string",
				"enum": []string{"supersedes", "contradicts", "elaborates", "related", "unrelated"},
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"explanation": map[string]any{
				"type": "string",
			},
		},
		Required: []string{"relation", "confidence", "explanation"},
	},
}

// ClassifyConflict asks the model to compare an existing entry's text
// against a candidate's, forcing a classify_conflict tool call so the
// result is structured rather than parsed out of prose.
func (c *AnthropicClient) ClassifyConflict(ctx context.Context, existing, candidate string) (*ConflictClassification, error) {
	prompt := fmt.Sprintf(classifyPromptTemplate, existing, candidate)

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{OfTool: &classifyConflictTool},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: "classify_conflict"},
		},
	}

	message, callErr := c.callWithRetry(ctx, params)
	c.auditCall(prompt, message, callErr)
	if callErr != nil {
		return nil, callErr
	}

	for _, block := range message.Content {
		if block.Type != "tool_use" {
			continue
		}
		var args struct {
			Relation    string  `json:"relation"`
			Confidence  float64 `json:"confidence"`
			Explanation string  `json:"explanation"`
		}
		if err := json.Unmarshal(block.Input, &args); err != nil {
			return nil, fmt.Errorf("llm: decode classify_conflict args: %w", err)
		}
		return &ConflictClassification{
			Relation:    ConflictRelation(args.Relation),
			Confidence:  args.Confidence,
			Explanation: args.Explanation,
		}, nil
	}
	return nil, errors.New("llm: no tool_use block in response")
}

var extractEntriesTool = anthropic.ToolParam{
	Name:        "extract_entries",
	Description: anthropic.String("Record the knowledge entries found in a transcript chunk."),
	InputSchema: anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"entries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":       map[string]any{"type": "string", "enum": []string{"fact", "decision", "preference", "todo", "lesson", "event"}},
						"subject":    map[string]any{"type": "string"},
						"content":    map[string]any{"type": "string"},
						"importance": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
						"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"type", "subject", "content", "importance"},
				},
			},
		},
		Required: []string{"entries"},
	},
}

// ExtractEntries asks the model to pull candidate knowledge entries out of
// a transcript chunk, optionally grounded by referenceContext (the
// elaborative pre-fetch's related-entry excerpts), forcing an
// extract_entries tool call so results are structured.
func (c *AnthropicClient) ExtractEntries(ctx context.Context, chunkText, referenceContext string) ([]ExtractedEntry, error) {
	prompt := fmt.Sprintf(extractPromptTemplate, referenceContext, chunkText)

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{OfTool: &extractEntriesTool},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: "extract_entries"},
		},
	}

	message, callErr := c.callWithRetry(ctx, params)
	c.auditCall(prompt, message, callErr)
	if callErr != nil {
		return nil, callErr
	}

	for _, block := range message.Content {
		if block.Type != "tool_use" {
			continue
		}
		var args struct {
			Entries []ExtractedEntry `json:"entries"`
		}
		if err := json.Unmarshal(block.Input, &args); err != nil {
			return nil, fmt.Errorf("llm: decode extract_entries args: %w", err)
		}
		return args.Entries, nil
	}
	return nil, errors.New("llm: no tool_use block in response")
}

// Summarize issues a plain text completion, used by the signals package
// to write handoff summaries.
func (c *AnthropicClient) Summarize(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	message, err := c.callWithRetry(ctx, params)
	c.auditCall(prompt, message, err)
	if err != nil {
		return "", err
	}
	if len(message.Content) == 0 || message.Content[0].Type != "text" {
		return "", errors.New("llm: unexpected response format")
	}
	return message.Content[0].Text, nil
}

func (c *AnthropicClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return message, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("llm: non-retryable error: %w", err)
		}
		if c.log != nil {
			c.log.Warnf("llm call attempt %d failed, retrying: %v", attempt+1, err)
		}
	}
	return nil, fmt.Errorf("llm: failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *AnthropicClient) auditCall(prompt string, message *anthropic.Message, callErr error) {
	if c.audit == nil {
		return
	}
	e := &audit.Entry{
		Kind:   "llm_call",
		Model:  string(c.model),
		Prompt: prompt,
	}
	if message != nil && len(message.Content) > 0 {
		e.Response = message.Content[0].Text
	}
	if callErr != nil {
		e.Error = callErr.Error()
	}
	// Best-effort: never fail the caller's classification because audit
	// logging failed.
	_, _ = c.audit.Append(e)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

const extractPromptTemplate = `You extract durable knowledge entries from a chunk of an AI coding assistant's conversation transcript, for a long-term personal memory store.

Related memories already on file (reference only, do not repeat them):
%s

Transcript chunk:
%s

For each distinct fact, decision, preference, todo, lesson, or event worth remembering, call extract_entries with one array element per entry. Skip small talk and anything already covered by the reference memories. Keep subject short (a few words) and content to one or two sentences.`

const classifyPromptTemplate = `You are comparing two memory entries stored by a personal knowledge assistant to decide how the new one relates to the existing one.

Existing entry:
%s

Candidate entry:
%s

Classify the relation as exactly one of: supersedes, contradicts, elaborates, related, unrelated. Use the classify_conflict tool to record your answer.`
