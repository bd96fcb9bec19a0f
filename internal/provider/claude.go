package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// maxFileBytes caps how much of a single file is sent to the API.
const maxFileBytes = 64 * 1024

// ClaudeAPI reviews through the Anthropic Messages API instead of a local
// executable. Review-only: the API cannot edit files.
type ClaudeAPI struct {
	api    *anthropic.Client
	model  anthropic.Model
	apiKey string
}

// NewClaudeAPI creates the API-backed reviewer. An empty API key yields a
// provider that reports itself unavailable rather than failing at call time.
func NewClaudeAPI(apiKey, model string) *ClaudeAPI {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &ClaudeAPI{
		api:    &client,
		model:  anthropic.Model(model),
		apiKey: apiKey,
	}
}

func (c *ClaudeAPI) Name() string { return "claude" }
func (c *ClaudeAPI) Capabilities() Capability { return CapReview }
func (c *ClaudeAPI) Available() bool { return c.apiKey != "" }

// Review reads the requested files and sends them with the review prompt in
// a single Messages call. The response text is returned as stdout so the
// downstream parse chain treats API and CLI providers identically.
func (c *ClaudeAPI) Review(ctx context.Context, req Request) Response {
	user, err := buildFilePayload(req.Dir, req.Files)
	if err != nil {
		return Response{Err: fmt.Errorf("read review files: %w", err)}
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: req.Prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return Response{Err: fmt.Errorf("anthropic API call: %w", err)}
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return Response{Err: fmt.Errorf("no text content in API response")}
	}

	return Response{Stdout: text}
}

// buildFilePayload concatenates the file subset with path headers, capping
// each file so one large file cannot crowd out the rest.
func buildFilePayload(dir string, files []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Files under review:\n\n")

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		if len(data) > maxFileBytes {
			data = data[:maxFileBytes]
		}
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", name, data)
	}

	return sb.String(), nil
}
