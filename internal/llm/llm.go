package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the Anthropic API for ticket enrichment.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// EnrichedTicket holds the LLM-generated enrichment fields for a ticket.
type EnrichedTicket struct {
	Description string `json:"description"`
	PRD         string `json:"prd"`
}

// buildEnrichPrompt constructs the system and user prompts for ticket enrichment.
func buildEnrichPrompt(title, description string) (system string, user string) {
	system = `You enrich tickets for an autonomous coding-agent system. Given a ticket's title and optional description, return a JSON object with exactly two fields:

- "description": A concise 1-3 sentence summary of what this ticket is about. If a description is already provided, improve it for clarity. If none exists, generate one from the title.
- "prd": A requirements document (5-15 sentences) for an autonomous AI developer agent that will implement this ticket unattended. Include: what needs to be built or fixed, key technical considerations, suggested approach, files or areas likely affected, and concrete acceptance criteria the agent can verify itself. Be specific and actionable.

Rules:
- Return valid JSON only, no markdown fencing or explanation
- The description should be suitable for display on a ticket board
- The prd must be self-contained: the agent receives only this text and the repository, with no way to ask follow-up questions mid-task
- If the description is empty, infer as much as possible from the title alone`

	var sb strings.Builder
	sb.WriteString("Ticket title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nExisting description:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// EnrichTicket sends ticket data to the LLM and returns an improved
// description plus a requirements document for the agent.
func (c *Client) EnrichTicket(ctx context.Context, title, description string) (*EnrichedTicket, error) {
	systemPrompt, userPrompt := buildEnrichPrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	text = stripFencing(text)

	var enriched EnrichedTicket
	if err := json.Unmarshal([]byte(text), &enriched); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	return &enriched, nil
}

// stripFencing removes markdown code fencing the model sometimes adds
// despite instructions.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
