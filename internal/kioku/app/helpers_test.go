package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdobrica/kioku/internal/kioku/completion"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/retrieval"
	"github.com/bdobrica/kioku/internal/kioku/store"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

const summaryJSON = `{"summary":"earlier discussion","topics_covered":["travel"],"key_questions":[],"important_decisions":[]}`

// fakeProvider answers every call with summaryJSON, or err when set.
type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	err    error
	tokens int
}

func (f *fakeProvider) Complete(ctx context.Context, _ completion.Request) (*completion.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &completion.Response{
		Content: summaryJSON,
		Usage:   completion.TokenUsage{PromptTokens: f.tokens, TotalTokens: f.tokens, Model: "fake"},
	}, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testConfig: threshold 200 tokens, hard budget 400, window 2.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StoreDSN = "memory://"
	cfg.Memory.MaxHistoryTokens = 400
	cfg.Memory.SummarizationTriggerRatio = 0.5
	cfg.Memory.RecentWindowSize = 2
	cfg.Memory.MaxSummarizationRetries = 0
	cfg.Memory.RetryInitialDelay = time.Millisecond
	cfg.Memory.RetryMaxDelay = time.Millisecond
	cfg.Retrieval.Enabled = true
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg Config, p completion.Provider) *App {
	t.Helper()
	opts := []Option{
		WithLogger(discardLogger()),
		WithStore(store.NewMemory()),
		WithIndex(retrieval.NewMemoryIndex(nil, nil)),
		WithRegistry(prometheus.NewRegistry()),
		WithClock(func() time.Time { return fixedNow }),
	}
	if p != nil {
		opts = append(opts, WithProvider(p))
	}
	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

type turnBody struct {
	ConversationID      string                      `json:"conversation_id"`
	RecentMessages      []memory.Message            `json:"recent_messages"`
	Summary             *memory.ConversationSummary `json:"summary"`
	TotalTokensEstimate int                         `json:"total_tokens_estimate"`
	Stats               memory.Stats                `json:"stats"`
	ContextBlocks       []memory.Message            `json:"context_blocks"`
	CurrentQuestion     string                      `json:"current_question"`
	EnrichedQuery       string                      `json:"enriched_query"`
	Documents           []retrieval.Result          `json:"documents"`
	SummarizationDenied string                      `json:"summarization_denied"`
}

// chars returns a message of exactly n characters.
func chars(role memory.Role, n int) memory.Message {
	return memory.Message{Role: role, Content: strings.Repeat("a", n)}
}

func createConversation(t *testing.T, h http.Handler, id string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/conversations", map[string]string{"id": id})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: status %d body %s", rec.Code, rec.Body.String())
	}
}

func turn(t *testing.T, h http.Handler, id string, req TurnRequest) turnBody {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/conversations/"+id+"/turns", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("turn: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode[turnBody](t, rec)
}

// overThreshold pushes a fresh conversation over the summarization
// threshold: 2 small messages then 4 × 100 tokens.
func overThreshold(t *testing.T, h http.Handler, id string) turnBody {
	t.Helper()
	turn(t, h, id, TurnRequest{Messages: []memory.Message{chars(memory.RoleUser, 40), chars(memory.RoleAssistant, 40)}})
	return turn(t, h, id, TurnRequest{Messages: []memory.Message{
		chars(memory.RoleUser, 400), chars(memory.RoleAssistant, 400),
		chars(memory.RoleUser, 400), chars(memory.RoleAssistant, 400),
	}})
}
