package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultEndpointPath = "/v1/chat/completions"

	batchSystemPrompt  = "You are a helpful research paper analyzer."
	singleSystemPrompt = "You are a professional academic paper analyst specialized in " +
		"determining whether papers are relevant to the configured research topic."
)

var (
	resultPattern = regexp.MustCompile(
		`(?s)<result>\s*<id>(.*?)</id>\s*<judgment>(.*?)</judgment>\s*<explanation>(.*?)</explanation>\s*</result>`)
	judgmentPattern    = regexp.MustCompile(`(?s)<judgment>(.*?)</judgment>`)
	explanationPattern = regexp.MustCompile(`(?s)<explanation>(.*?)</explanation>`)
)

// OpenAIConfig carries the settings for an OpenAI-compatible chat API.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Topic       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com"
	}
	if c.Topic == "" {
		c.Topic = "artificial intelligence"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8192
	}
	return c
}

// OpenAIClassifier implements Classifier against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIClassifier struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

var _ Classifier = (*OpenAIClassifier)(nil)

// NewOpenAIClassifier builds a classifier from configuration.
func NewOpenAIClassifier(cfg OpenAIConfig) (*OpenAIClassifier, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("classifier model is required")
	}
	return &OpenAIClassifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ClassifyBatch submits every item in one prompt and parses the per-item
// tagged results. Items the model omits are simply absent from the returned
// votes; the caller decides how to treat them.
func (c *OpenAIClassifier) ClassifyBatch(ctx context.Context, items []BatchItem) ([]Vote, error) {
	if len(items) == 0 {
		return nil, nil
	}
	answer, err := c.complete(ctx, batchSystemPrompt, c.batchPrompt(items))
	if err != nil {
		return nil, err
	}

	var votes []Vote
	for _, match := range resultPattern.FindAllStringSubmatch(answer, -1) {
		votes = append(votes, Vote{
			ID:          strings.TrimSpace(match[1]),
			Relevant:    isRelated(match[2]),
			Explanation: strings.TrimSpace(match[3]),
		})
	}
	return votes, nil
}

// ClassifyOne runs the single-item adjudication prompt.
func (c *OpenAIClassifier) ClassifyOne(ctx context.Context, item BatchItem) (Vote, error) {
	answer, err := c.complete(ctx, singleSystemPrompt, c.singlePrompt(item))
	if err != nil {
		return Vote{}, err
	}

	vote := Vote{ID: item.ID}
	if m := judgmentPattern.FindStringSubmatch(answer); m != nil {
		vote.Relevant = isRelated(m[1])
	} else {
		return Vote{}, fmt.Errorf("no judgment tag in adjudication response for %s", item.ID)
	}
	if m := explanationPattern.FindStringSubmatch(answer); m != nil {
		vote.Explanation = strings.TrimSpace(m[1])
	}
	return vote, nil
}

func (c *OpenAIClassifier) batchPrompt(items []BatchItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You will be given a batch of papers. For each paper, analyze whether it is related to %s.\n\n", c.cfg.Topic)
	b.WriteString("For each <item>, return the result as:\n<result>\n<id>...</id>\n<judgment>Related / Not Related</judgment>\n<explanation>...</explanation>\n</result>\n\nThe papers are as follows:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "<item>\n<id>%s</id>\n<title>%s</title>\n<abstract>%s</abstract>\n</item>\n", item.ID, item.Title, item.Abstract)
	}
	return b.String()
}

func (c *OpenAIClassifier) singlePrompt(item BatchItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your task is to determine whether the given paper's title and abstract are related to %s.\n\n", c.cfg.Topic)
	fmt.Fprintf(&b, "Paper Title:\n<title>\n%s\n</title>\n\nPaper Abstract:\n<abstract>\n%s\n</abstract>\n\n", item.Title, item.Abstract)
	b.WriteString("Carefully read the title and abstract, compare them with the topic, and form a judgment.\n")
	b.WriteString("Provide your final judgment in a <judgment> tag using \"Related\" or \"Not Related\", then explain your reasoning in an <explanation> tag.\n")
	return b.String()
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClassifier) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + defaultEndpointPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat completion %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response carries no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func isRelated(judgment string) bool {
	return strings.EqualFold(strings.TrimSpace(judgment), "related")
}
