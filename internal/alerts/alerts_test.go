package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/liamashdown/insiderlens/internal/ratelimit"
)

type recordingSender struct {
	err   error
	calls int
}

func (r *recordingSender) Send(context.Context, *AlertPayload) error {
	r.calls++
	return r.err
}

func TestSeverityForPriority(t *testing.T) {
	tests := []struct {
		priority string
		want     Severity
	}{
		{"critical", SeverityAlert},
		{"high", SeverityWarn},
		{"medium", SeverityInfo},
		{"low", SeverityInfo},
	}
	for _, tt := range tests {
		if got := SeverityForPriority(tt.priority); got != tt.want {
			t.Errorf("SeverityForPriority(%q) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestShortAddress(t *testing.T) {
	if got := ShortAddress("0x1234567890abcdef"); got != "0x1234...cdef" {
		t.Errorf("ShortAddress() = %q", got)
	}
	if got := ShortAddress("0xabc"); got != "0xabc" {
		t.Errorf("ShortAddress() = %q", got)
	}
}

func TestMultiSenderContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSender{err: boom}
	b := &recordingSender{}

	err := NewMultiSender(a, b).Send(context.Background(), &AlertPayload{})
	if !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want wrapped %v", err, boom)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d, %d, want 1, 1", a.calls, b.calls)
	}

	if err := NewMultiSender(b).Send(context.Background(), &AlertPayload{}); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string][]map[string]interface{}
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	profit := 1250.5
	payload := &AlertPayload{
		Severity:           SeverityAlert,
		BatchID:            "5f1c2b7e-0000-4000-8000-000000000000",
		CandidateID:        7,
		TradeID:            42,
		DiscoveryRank:      1,
		Priority:           "critical",
		WalletShort:        "0x1234...cdef",
		MarketTitle:        "Will it happen?",
		Side:               "BUY",
		Outcome:            "Yes",
		InsiderProbability: 0.91,
		MatchedPatterns:    map[string]float64{"trinity": 0.9, "high_probability": 0.6},
		EstimatedProfit:    &profit,
		Timestamp:          time.Unix(1700000000, 0),
	}

	s := NewDiscordSender(srv.URL, ratelimit.New(10))
	if err := s.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	embeds := got["embeds"]
	if len(embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(embeds))
	}
	if title, _ := embeds[0]["title"].(string); !strings.Contains(title, "Critical") {
		t.Errorf("title = %q", title)
	}
	if desc, _ := embeds[0]["description"].(string); !strings.Contains(desc, "91%") {
		t.Errorf("description = %q", desc)
	}

	status = http.StatusTooManyRequests
	if err := s.Send(context.Background(), payload); err == nil {
		t.Error("expected error on non-2xx status")
	}
}

func TestFormatPatternsOrdersBestFirst(t *testing.T) {
	got := formatPatterns(map[string]float64{"b": 0.6, "a": 0.9, "c": 0.6})
	want := "`a`: **0.90**\n`b`: **0.60**\n`c`: **0.60**"
	if got != want {
		t.Errorf("formatPatterns() = %q, want %q", got, want)
	}
}
