package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/observability"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/pkg/httpx"
)

// Client is the OpenAI Responses API client used by the rest of the backend.
type Client interface {
	// Plain text, non-streaming. Used for title generation.
	GenerateText(ctx context.Context, system string, user string) (string, error)

	// StreamTurn opens one streaming Responses call carrying the tool
	// descriptors and the chat's continuation handle, and dispatches provider
	// events to the handlers as they arrive. The returned FinalResponse holds
	// the response id parsed from the terminal event, when one was seen.
	StreamTurn(ctx context.Context, params TurnParams, handlers TurnHandlers) (FinalResponse, error)
}

type TurnParams struct {
	Model string
	Input string
	Tools []ToolDescriptor

	// PreviousResponseID resumes provider-side context from an earlier turn.
	// Forwarded verbatim; empty means a fresh conversation.
	PreviousResponseID string

	Instructions    string
	MaxOutputTokens int
}

// TurnHandlers receives provider events in arrival order. OnTextDelta and
// OnContentPartAdded may return an error to stop consuming the stream.
type TurnHandlers struct {
	OnTextDelta        func(delta string) error
	OnContentPartAdded func() error
	OnResponseID       func(responseID string)
	OnToolEvent        func(event string, data string)
}

type FinalResponse struct {
	ID string
}

type client struct {
	log             *logger.Logger
	baseURL         string
	apiKey          string
	model           string
	httpClient      *http.Client
	responsesClient *http.Client

	maxRetries int

	temperature        *float64
	disableTemperature bool

	// If a model rejects temperature, remember and omit it thereafter.
	noTempMu   sync.RWMutex
	noTempSeen map[string]time.Time
	noTempTTL  time.Duration
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o"
	}

	timeoutSec := 300
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	responsesTimeoutSec := timeoutSec
	if v := os.Getenv("OPENAI_RESPONSES_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			responsesTimeoutSec = parsed
		}
	}

	maxRetries := 2
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	disableTemperature := false
	var tempPtr *float64
	if v := strings.TrimSpace(os.Getenv("OPENAI_TEMPERATURE")); v != "" {
		low := strings.ToLower(v)
		if low == "off" || low == "none" || low == "false" {
			disableTemperature = true
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			tempPtr = &f
		}
	}

	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	return &client{
		log:                log.With("service", "OpenAIClient"),
		baseURL:            baseURL,
		apiKey:             apiKey,
		model:              model,
		httpClient:         &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		responsesClient:    &http.Client{Timeout: time.Duration(responsesTimeoutSec) * time.Second},
		maxRetries:         maxRetries,
		temperature:        tempPtr,
		disableTemperature: disableTemperature,
		noTempSeen:         map[string]time.Time{},
		noTempTTL:          24 * time.Hour,
	}, nil
}

func normalizeModelKey(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

func (c *client) modelIsNoTemp(model string) bool {
	m := normalizeModelKey(model)
	if m == "" {
		return false
	}
	c.noTempMu.RLock()
	ts, ok := c.noTempSeen[m]
	ttl := c.noTempTTL
	c.noTempMu.RUnlock()
	if !ok {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(ts) < ttl
}

func (c *client) noteNoTempModel(model string) {
	m := normalizeModelKey(model)
	if m == "" {
		return
	}
	c.noTempMu.Lock()
	c.noTempSeen[m] = time.Now().UTC()
	c.noTempMu.Unlock()
}

func (c *client) temperatureFor(model string) *float64 {
	if c.disableTemperature || c.temperature == nil {
		return nil
	}
	if c.modelIsNoTemp(model) {
		return nil
	}
	return c.temperature
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func isUnsupportedTemperatureMessage(s string) bool {
	msg := strings.ToLower(strings.TrimSpace(s))
	if msg == "" || !strings.Contains(msg, "temperature") {
		return false
	}
	for _, marker := range []string{
		"unsupported parameter",
		"unknown parameter",
		"unrecognized parameter",
		"not supported",
		"does not support",
		"only the default",
		"unsupported_value",
		"invalid_request_error",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *client) doOnce(ctx context.Context, httpClient *http.Client, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	if httpClient == nil {
		httpClient = c.httpClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second
	start := time.Now()
	model := c.model

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, c.httpClient, method, path, body)
		if err == nil {
			if metrics := observability.Current(); metrics != nil {
				inputTokens, outputTokens := extractUsageFromRaw(raw)
				metrics.ObserveLLMRequest(model, path, statusFromResp(resp), time.Since(start), inputTokens, outputTokens)
			}
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			if metrics := observability.Current(); metrics != nil {
				metrics.ObserveLLMRequest(model, path, statusFromRespErr(resp, err), time.Since(start), 0, 0)
			}
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

type responsesInputItem struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesRequest struct {
	Model       string               `json:"model"`
	Input       []responsesInputItem `json:"input"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *client) GenerateText(ctx context.Context, system string, user string) (string, error) {
	req := responsesRequest{
		Model: c.model,
		Input: []responsesInputItem{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperatureFor(c.model),
	}

	var resp responsesResponse
	err := c.do(ctx, "POST", "/v1/responses", &req, &resp)
	if err != nil && req.Temperature != nil && isUnsupportedTemperatureMessage(err.Error()) {
		c.noteNoTempModel(req.Model)
		req.Temperature = nil
		err = c.do(ctx, "POST", "/v1/responses", &req, &resp)
	}
	if err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

type turnTextOptions struct {
	Format    map[string]any `json:"format,omitempty"`
	Verbosity string         `json:"verbosity,omitempty"`
}

type turnRequest struct {
	Model              string           `json:"model"`
	Input              string           `json:"input"`
	Instructions       string           `json:"instructions,omitempty"`
	Tools              []ToolDescriptor `json:"tools,omitempty"`
	MaxOutputTokens    int              `json:"max_output_tokens,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	Text               *turnTextOptions `json:"text,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	Store              bool             `json:"store"`
	Stream             bool             `json:"stream"`
}

func (c *client) StreamTurn(ctx context.Context, params TurnParams, handlers TurnHandlers) (FinalResponse, error) {
	var final FinalResponse

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = c.model
	}
	maxOutputTokens := params.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = 32000
	}

	reqBody := turnRequest{
		Model:              model,
		Input:              params.Input,
		Instructions:       strings.TrimSpace(params.Instructions),
		Tools:              params.Tools,
		MaxOutputTokens:    maxOutputTokens,
		PreviousResponseID: strings.TrimSpace(params.PreviousResponseID),
		Text: &turnTextOptions{
			Format:    map[string]any{"type": "text"},
			Verbosity: "low",
		},
		Temperature: c.temperatureFor(model),
		Store:       true,
		Stream:      true,
	}
	start := time.Now()
	inputTokens := estimateTokens(params.Input)

	doStream := func(body turnRequest) (*http.Response, []byte, error) {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/responses", &buf)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.responsesClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil, nil
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	resp, raw, err := doStream(reqBody)
	if err != nil {
		if reqBody.Temperature != nil && isUnsupportedTemperatureMessage(string(raw)) {
			c.noteNoTempModel(reqBody.Model)
			reqBody.Temperature = nil
			resp, raw, err = doStream(reqBody)
		}
	}
	if err != nil {
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveLLMRequest(reqBody.Model, "/v1/responses", statusFromRespErr(resp, err), time.Since(start), inputTokens, 0)
		}
		return final, err
	}
	defer resp.Body.Close()

	outputTokens := 0
	err = streamSSE(resp.Body, func(event string, data string) error {
		trimmed := strings.TrimSpace(data)
		if trimmed == "" || trimmed == "[DONE]" {
			return nil
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil
		}

		evt := strings.TrimSpace(event)
		if t, ok := obj["type"].(string); ok && strings.TrimSpace(t) != "" {
			evt = strings.TrimSpace(t)
		}

		if r, ok := obj["refusal"].(string); ok && strings.TrimSpace(r) != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if eAny, ok := obj["error"]; ok && eAny != nil {
			b, _ := json.Marshal(eAny)
			return fmt.Errorf("openai stream error: %s", string(b))
		}

		switch {
		case strings.HasSuffix(evt, "output_text.delta"):
			d, _ := obj["delta"].(string)
			if d == "" {
				return nil
			}
			outputTokens += estimateTokens(d)
			if handlers.OnTextDelta != nil {
				return handlers.OnTextDelta(d)
			}

		case evt == "response.content_part.added":
			if handlers.OnContentPartAdded != nil {
				return handlers.OnContentPartAdded()
			}

		case evt == "response.created" || evt == "response.done" || evt == "response.completed":
			if id := responseIDFromEvent(obj); id != "" {
				if handlers.OnResponseID != nil {
					handlers.OnResponseID(id)
				}
				if final.ID == "" {
					final.ID = id
				}
			}

		case strings.Contains(evt, "mcp_") || strings.Contains(evt, "tool"):
			// Tool traffic is observability-only; nothing reaches the client.
			if handlers.OnToolEvent != nil {
				handlers.OnToolEvent(evt, trimmed)
			}
		}

		return nil
	})
	if err != nil {
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveLLMRequest(reqBody.Model, "/v1/responses", statusFromRespErr(resp, err), time.Since(start), inputTokens, outputTokens)
		}
		return final, err
	}
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveLLMRequest(reqBody.Model, "/v1/responses", statusFromResp(resp), time.Since(start), inputTokens, outputTokens)
	}
	return final, nil
}

// responseIDFromEvent digs the response id out of a lifecycle event, which
// carries either {"response":{"id":...}} or a bare {"id":...}.
func responseIDFromEvent(obj map[string]any) string {
	if respAny, ok := obj["response"].(map[string]any); ok {
		if id, ok := respAny["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	if id, ok := obj["id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

func extractUsageFromRaw(raw []byte) (int, int) {
	if len(raw) == 0 {
		return 0, 0
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, 0
	}
	usage, ok := payload["usage"].(map[string]any)
	if !ok {
		return 0, 0
	}
	return intFromAny(usage["input_tokens"]), intFromAny(usage["output_tokens"])
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// estimateTokens is a rough 4-chars-per-token heuristic, used only for
// metrics on streaming paths where no usage object is returned.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func statusFromResp(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func statusFromRespErr(resp *http.Response, err error) int {
	if resp != nil {
		return resp.StatusCode
	}

	for err != nil {
		if he, ok := err.(*openAIHTTPError); ok {
			return he.StatusCode
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
