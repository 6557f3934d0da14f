// Package summarize turns a Slack conversation into a ticket draft.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ghabxph/starship/internal/apierr"
)

const (
	service          = "openai"
	maxTitleLength   = 200
	maxPromptLength  = 12000
	fallbackTitle    = "Task from Slack conversation"
	defaultIssueType = "Task"
	defaultPriority  = "Medium"
)

var ErrEmptyConversation = errors.New("conversation has no messages")

// Message is one line of the conversation being summarized
type Message struct {
	Author string
	Text   string
}

// Summary is a ticket draft
type Summary struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type"`
	Priority    string `json:"priority"`
}

// OpenAI summarizes with a chat completion model
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a summarizer. baseURL may be empty for the public API.
func NewOpenAI(apiKey, model, baseURL string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Summaries run inside a deferred task with its own deadline
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

const systemPrompt = `You are Starship, an assistant that turns Slack conversations into tickets.
Identify the main issue or request and write one actionable ticket.
Answer in exactly this format:
Title: <one line, under 100 characters>
Type: <Bug|Task|Story>
Priority: <Highest|High|Medium|Low|Lowest>
Description:
<problem statement, relevant details, and acceptance criteria as a bullet list>`

// SummarizeConversation drafts a ticket from msgs. hint is the text the user
// addressed to the bot, if any.
func (o *OpenAI) SummarizeConversation(ctx context.Context, msgs []Message, hint string) (*Summary, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyConversation
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(msgs, hint)),
		},
		Temperature:         openai.Float(0.3),
		MaxCompletionTokens: openai.Int(1000),
	})
	if err != nil {
		return nil, apierr.Wrap(service, "chat completion", err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, apierr.Wrap(service, "chat completion", errors.New("empty response"))
	}

	return ParseSummary(completion.Choices[0].Message.Content, msgs), nil
}

func buildPrompt(msgs []Message, hint string) string {
	var b strings.Builder
	if hint = strings.TrimSpace(hint); hint != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", hint)
	}
	b.WriteString("Conversation:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Author, m.Text)
	}
	prompt := b.String()
	if len(prompt) > maxPromptLength {
		// Keep the end of long threads; the latest messages carry the ask
		start := len(prompt) - maxPromptLength
		for start < len(prompt) && prompt[start]&0xC0 == 0x80 {
			start++
		}
		prompt = prompt[start:]
	}
	return prompt
}

// ParseSummary reads a model answer. Missing fields fall back to values
// derived from the answer text and the conversation itself.
func ParseSummary(answer string, msgs []Message) *Summary {
	s := &Summary{}
	var (
		desc   []string
		inDesc bool
	)
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		key, value, hasKey := cutField(trimmed)

		switch {
		case hasKey && (key == "title" || key == "summary") && s.Title == "":
			s.Title = value
			inDesc = false
		case hasKey && key == "type" && s.IssueType == "":
			s.IssueType = normalizeIssueType(value)
			inDesc = false
		case hasKey && key == "priority" && s.Priority == "":
			s.Priority = normalizePriority(value)
			inDesc = false
		case hasKey && key == "description":
			inDesc = true
			if value != "" {
				desc = append(desc, value)
			}
		case inDesc:
			desc = append(desc, line)
		}
	}

	s.Description = strings.TrimSpace(strings.Join(desc, "\n"))

	if s.Title == "" {
		s.Title = firstSentence(answer)
	}
	if s.Title == "" {
		s.Title = fallbackTitle
	}
	s.Title = clip(strings.Trim(s.Title, `"*`), maxTitleLength)

	if s.Description == "" {
		var texts []string
		for _, m := range msgs {
			texts = append(texts, m.Text)
		}
		s.Description = clip(strings.Join(texts, " "), 500)
	}
	if s.IssueType == "" {
		s.IssueType = guessIssueType(answer)
	}
	if s.Priority == "" {
		s.Priority = guessPriority(answer)
	}
	return s
}

func cutField(line string) (key, value string, ok bool) {
	line = strings.TrimLeft(line, "*#- ")
	k, v, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	k = strings.ToLower(strings.Trim(strings.TrimSpace(k), "*"))
	switch k {
	case "title", "summary", "type", "issue type", "priority", "description":
	default:
		return "", "", false
	}
	if k == "issue type" {
		k = "type"
	}
	return k, strings.TrimSpace(strings.Trim(strings.TrimSpace(v), "*")), true
}

func firstSentence(answer string) string {
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 10 && !strings.Contains(line, ":") {
			return line
		}
	}
	return ""
}

func normalizeIssueType(v string) string {
	switch strings.ToLower(v) {
	case "bug":
		return "Bug"
	case "story", "user story":
		return "Story"
	case "task":
		return "Task"
	}
	return guessIssueType(v)
}

func normalizePriority(v string) string {
	for _, p := range []string{"Highest", "High", "Medium", "Lowest", "Low"} {
		if strings.EqualFold(v, p) {
			return p
		}
	}
	return guessPriority(v)
}

func guessIssueType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "bug") || strings.Contains(lower, "error") || strings.Contains(lower, "broken"):
		return "Bug"
	case strings.Contains(lower, "story") || strings.Contains(lower, "feature"):
		return "Story"
	}
	return defaultIssueType
}

func guessPriority(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "urgent") || strings.Contains(lower, "critical") || strings.Contains(lower, "highest"):
		return "Highest"
	case strings.Contains(lower, "high priority") || strings.Contains(lower, "important"):
		return "High"
	case strings.Contains(lower, "lowest"):
		return "Lowest"
	case strings.Contains(lower, "low priority") || strings.Contains(lower, "minor"):
		return "Low"
	}
	return defaultPriority
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
