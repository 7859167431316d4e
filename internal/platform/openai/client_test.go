package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
)

func newTestClient(t *testing.T, baseURL string) Client {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", baseURL)
	t.Setenv("OPENAI_MODEL", "gpt-test")
	t.Setenv("OPENAI_MAX_RETRIES", "0")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: " + e + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestStreamTurnDispatchesDeltas(t *testing.T) {
	var gotReq turnRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"response.created","response":{"id":"resp_1"}}`,
			`{"type":"response.output_text.delta","delta":"Hello"}`,
			`{"type":"response.content_part.added"}`,
			`{"type":"response.output_text.delta","delta":" world"}`,
			`{"type":"response.completed","response":{"id":"resp_1"}}`,
		))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var deltas []string
	var partBreaks int
	var seenIDs []string

	final, err := c.StreamTurn(context.Background(), TurnParams{
		Input:              "hi",
		PreviousResponseID: "resp_0",
		Tools:              BuildToolset("tok", "https://mcp.example.com"),
	}, TurnHandlers{
		OnTextDelta: func(d string) error {
			deltas = append(deltas, d)
			return nil
		},
		OnContentPartAdded: func() error {
			partBreaks++
			return nil
		},
		OnResponseID: func(id string) {
			seenIDs = append(seenIDs, id)
		},
	})
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if got := strings.Join(deltas, "|"); got != "Hello| world" {
		t.Fatalf("deltas = %q", got)
	}
	if partBreaks != 1 {
		t.Fatalf("partBreaks = %d, want 1", partBreaks)
	}
	if final.ID != "resp_1" {
		t.Fatalf("final.ID = %q, want resp_1", final.ID)
	}
	if len(seenIDs) == 0 || seenIDs[0] != "resp_1" {
		t.Fatalf("OnResponseID calls = %v", seenIDs)
	}

	if gotReq.Input != "hi" {
		t.Fatalf("request input = %q", gotReq.Input)
	}
	if !gotReq.Stream || !gotReq.Store {
		t.Fatalf("stream=%v store=%v, want both true", gotReq.Stream, gotReq.Store)
	}
	if gotReq.PreviousResponseID != "resp_0" {
		t.Fatalf("previous_response_id = %q", gotReq.PreviousResponseID)
	}
	if gotReq.MaxOutputTokens != 32000 {
		t.Fatalf("max_output_tokens = %d, want 32000", gotReq.MaxOutputTokens)
	}
	if len(gotReq.Tools) != 2 {
		t.Fatalf("tools len = %d, want 2", len(gotReq.Tools))
	}
	if gotReq.Text == nil || gotReq.Text.Verbosity != "low" {
		t.Fatalf("text options = %+v", gotReq.Text)
	}
}

func TestStreamTurnHandlerErrorStopsConsuming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"response.output_text.delta","delta":"one"}`,
			`{"type":"response.output_text.delta","delta":"two"}`,
			`{"type":"response.output_text.delta","delta":"three"}`,
		))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	stop := errors.New("sink closed")
	var count int
	_, err := c.StreamTurn(context.Background(), TurnParams{Input: "hi"}, TurnHandlers{
		OnTextDelta: func(d string) error {
			count++
			if count == 2 {
				return stop
			}
			return nil
		},
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want sink error", err)
	}
	if count != 2 {
		t.Fatalf("delta handler ran %d times, want 2", count)
	}
}

func TestStreamTurnUpstreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.StreamTurn(context.Background(), TurnParams{Input: "hi"}, TurnHandlers{})
	if err == nil {
		t.Fatal("expected error from 500 upstream")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Fatalf("error does not carry status: %v", err)
	}
}

func TestGenerateTextExtractsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "resp_t",
			"output": [
				{"type": "reasoning"},
				{"type": "message", "role": "assistant", "content": [
					{"type": "output_text", "text": "Candidate Pipeline Review"}
				]}
			]
		}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	got, err := c.GenerateText(context.Background(), "make a title", "first message")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "Candidate Pipeline Review" {
		t.Fatalf("GenerateText = %q", got)
	}
}

func TestGenerateTextRetriesWithoutTemperature(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req responsesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Temperature != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Unsupported parameter: temperature"}}`)
			return
		}
		fmt.Fprint(w, `{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}`)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_TEMPERATURE", "0.2")
	c := newTestClient(t, srv.URL)

	got, err := c.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "ok" {
		t.Fatalf("GenerateText = %q", got)
	}
	if calls != 2 {
		t.Fatalf("upstream called %d times, want 2 (with then without temperature)", calls)
	}

	// The model is remembered; the next call omits temperature up front.
	calls = 0
	if _, err := c.GenerateText(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("second GenerateText: %v", err)
	}
	if calls != 1 {
		t.Fatalf("upstream called %d times after learning, want 1", calls)
	}
}

func TestStreamSSEParsesMultilineAndComments(t *testing.T) {
	t.Parallel()

	body := ": keepalive\n" +
		"event: response.output_text.delta\n" +
		"data: {\"delta\":\n" +
		"data: \"x\"}\n" +
		"\n" +
		"data: [DONE]\n\n"

	var events []string
	var datas []string
	err := streamSSE(strings.NewReader(body), func(event, data string) error {
		events = append(events, event)
		datas = append(datas, data)
		return nil
	})
	if err != nil {
		t.Fatalf("streamSSE: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0] != "response.output_text.delta" {
		t.Fatalf("events[0] = %q", events[0])
	}
	if datas[0] != "{\"delta\":\n\"x\"}" {
		t.Fatalf("datas[0] = %q", datas[0])
	}
	if datas[1] != "[DONE]" {
		t.Fatalf("datas[1] = %q", datas[1])
	}
}
