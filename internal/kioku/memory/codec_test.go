package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func sampleState(t *testing.T) MemoryState {
	t.Helper()
	m, _ := newTestManager(testConfig(), &fakeSummarizer{content: "a summary", topics: []string{"t1"}})
	res, err := m.PrepareContext(context.Background(), conversation(14, 1088), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res.MemoryState
}

func TestStateJSON_WireShape(t *testing.T) {
	data, err := MarshalStateJSON(sampleState(t))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"recent_messages", "summary", "total_tokens_estimate"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	summary := doc["summary"].(map[string]any)
	for _, key := range []string{"content", "messages_summarized_count", "topics_covered", "key_questions", "important_decisions", "token_count", "generation_method", "created_at"} {
		if _, ok := summary[key]; !ok {
			t.Errorf("missing summary key %q", key)
		}
	}
}

func TestResultJSON_IncludesStats(t *testing.T) {
	res := Result{MemoryState: MemoryState{RecentMessages: []Message{}}, Stats: Stats{TotalMessages: 8, KeptRecent: 6, SummarizedCount: 2, SummaryCreated: true}}
	data, _ := json.Marshal(res)
	s := string(data)
	for _, want := range []string{`"stats":{`, `"total_messages":8`, `"kept_recent":6`, `"summarized_count":2`, `"summary_created":true`, `"summary":null`, `"truncated":false`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}
}

func TestState_RoundTripPreservesBehaviour(t *testing.T) {
	state := sampleState(t)
	next := append(append([]Message(nil), state.RecentMessages...), conversation(10, 1088)...)

	codecs := map[string]struct {
		enc func(MemoryState) ([]byte, error)
		dec func([]byte) (MemoryState, error)
	}{
		"json": {MarshalStateJSON, UnmarshalStateJSON},
		"cbor": {MarshalStateCBOR, UnmarshalStateCBOR},
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			data, err := c.enc(state)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := c.dec(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.TotalTokensEstimate != state.TotalTokensEstimate || decoded.Estimate() != state.Estimate() {
				t.Fatalf("estimate changed: %d vs %d", decoded.TotalTokensEstimate, state.TotalTokensEstimate)
			}
			if !decoded.Summary.CreatedAt.Equal(state.Summary.CreatedAt) {
				t.Errorf("created_at changed: %v vs %v", decoded.Summary.CreatedAt, state.Summary.CreatedAt)
			}

			nextOriginal := append(append([]Message(nil), state.RecentMessages...), next[len(state.RecentMessages):]...)
			nextDecoded := append(append([]Message(nil), decoded.RecentMessages...), next[len(state.RecentMessages):]...)

			m1, _ := newTestManager(testConfig(), &fakeSummarizer{content: "second"})
			m2, _ := newTestManager(testConfig(), &fakeSummarizer{content: "second"})
			r1, err1 := m1.PrepareContext(context.Background(), nextOriginal, state.Summary, "q")
			r2, err2 := m2.PrepareContext(context.Background(), nextDecoded, decoded.Summary, "q")
			if err1 != nil || err2 != nil {
				t.Fatalf("prepare: %v / %v", err1, err2)
			}
			if r1.Stats != r2.Stats {
				t.Errorf("stats differ: %+v vs %+v", r1.Stats, r2.Stats)
			}
			a, _ := MarshalStateJSON(r1.MemoryState)
			b, _ := MarshalStateJSON(r2.MemoryState)
			if string(a) != string(b) {
				t.Errorf("next states differ:\n%s\n%s", a, b)
			}
		})
	}
}

func TestUnmarshalState_RejectsGarbage(t *testing.T) {
	if _, err := UnmarshalStateJSON([]byte("{not json")); err == nil {
		t.Error("expected JSON error")
	}
	if _, err := UnmarshalStateCBOR([]byte{0xff, 0x00}); err == nil {
		t.Error("expected CBOR error")
	}
}
