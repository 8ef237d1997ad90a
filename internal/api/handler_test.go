package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/feedback"
	"github.com/liamashdown/insiderlens/internal/investigation"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/rings"
	"github.com/liamashdown/insiderlens/internal/scoring"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/liamashdown/insiderlens/internal/storage/memory"
	"github.com/liamashdown/insiderlens/internal/wallets"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*storage.DB)(nil)
	_ Store = (*memory.Store)(nil)
)

func ptr[T any](v T) *T { return &v }

type testAPI struct {
	store  *memory.Store
	server *Server
}

func newTestAPI(t *testing.T, store Store, mem *memory.Store) *testAPI {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{
		Environment:                   "test",
		BaselineMinSamples:            2,
		BaselineMinInsiderSamples:     2,
		BaselineChunkSize:             100,
		ScoringBatchSize:              10,
		ScoringWorkers:                2,
		DiscoveryAnomalyThreshold:     0.5,
		DiscoveryProbabilityThreshold: 0.5,
		DiscoveryLimit:                100,
		SignificantSeparationDelta:    0.2,
		SignificantF1Delta:            0.1,
		ModerateSeparationDelta:       0.05,
		ModerateF1Delta:               0.03,
		RegressionTolerance:           0.01,
	}

	base := baseline.New(cfg, mem, log)
	pats := patterns.New(cfg, mem, log)
	score := scoring.New(cfg, mem, pats, log)
	inv := investigation.New(cfg, mem, nil, log)
	svc := Services{
		Baselines:     base,
		Scoring:       score,
		Patterns:      pats,
		Investigation: inv,
		Feedback:      feedback.New(cfg, mem, base, pats, score, inv, log),
		Rings:         rings.New(mem, log),
		Wallets:       wallets.New(cfg, mem, log),
	}
	return &testAPI{store: mem, server: NewServer(NewHandler(svc, store, log), log)}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, json.RawMessage) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.server.Echo().ServeHTTP(rec, req)

	var env struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if strings.HasPrefix(path, "/api/") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
		assert.Equal(t, rec.Code, env.Status)
	} else {
		env.Data = rec.Body.Bytes()
	}
	return rec.Code, env.Data
}

// seedScored adds correct event-market trades with preset scores
func seedScored(t *testing.T, mem *memory.Store, probs ...float64) []int64 {
	t.Helper()
	m := mem.AddMarket(storage.Market{ConditionID: "e", Question: "Will it happen?", Category: "politics", IsEventBased: true, ResolvedOutcome: ptr("Yes")})
	var ids []int64
	for i, p := range probs {
		tr := mem.AddTrade(storage.Trade{
			WalletAddress: fmt.Sprintf("0xwallet%d", i), MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes",
			Size: 1000, Price: 0.2, WasCorrect: ptr(true), ProfitLoss: ptr(800.0),
		})
		require.NoError(t, mem.UpsertTradeScore(context.Background(), &storage.TradeScore{
			TradeID: tr.ID, AnomalyScore: 0.8, InsiderProbability: p,
		}))
		ids = append(ids, tr.ID)
	}
	return ids
}

type downStore struct{ *memory.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthAndReady(t *testing.T) {
	mem := memory.New()
	a := newTestAPI(t, mem, mem)

	code, body := a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))

	code, _ = a.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, code)

	down := newTestAPI(t, downStore{mem}, mem)
	code, body = down.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unavailable"}`, string(body))
}

func TestCandidateWorkflow(t *testing.T) {
	mem := memory.New()
	a := newTestAPI(t, mem, mem)
	seedScored(t, mem, 0.9, 0.7)

	code, body := a.do(t, http.MethodPost, "/api/v1/discovery/run", `{"notes":"weekly"}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	var res investigation.DiscoveryResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 2, res.CandidatesCreated)

	code, _ = a.do(t, http.MethodGet, "/api/v1/discovery/batches/"+res.BatchID, "")
	assert.Equal(t, http.StatusOK, code)

	code, body = a.do(t, http.MethodGet, "/api/v1/candidates?priority=critical", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []storage.InvestigationCandidate `json:"rows"`
		Total int                              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Total)
	id := list.Rows[0].ID
	path := fmt.Sprintf("/api/v1/candidates/%d", id)

	code, _ = a.do(t, http.MethodPost, path+"/start", `{"investigator":"alice"}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = a.do(t, http.MethodPost, path+"/evidence", `{"type":"news","description":"leak reported"}`)
	assert.Equal(t, http.StatusCreated, code)

	code, _ = a.do(t, http.MethodPost, path+"/notes", `{"author":"alice","note":"wallet funded same day"}`)
	assert.Equal(t, http.StatusOK, code)

	code, body = a.do(t, http.MethodPost, path+"/resolve", `{"resolution":"confirmed_insider","resolved_by":"alice"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var resolved investigation.ResolveResult
	require.NoError(t, json.Unmarshal(body, &resolved))
	require.NotNil(t, resolved.Insider)
	assert.Equal(t, "confirmed", resolved.Insider.ConfidenceLevel)
	assert.Equal(t, string(investigation.StatusResolved), resolved.Candidate.Status)
	assert.Len(t, resolved.Candidate.Evidence, 1)

	// terminal
	code, _ = a.do(t, http.MethodPost, path+"/resolve", `{"resolution":"cleared"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, body = a.do(t, http.MethodGet, "/api/v1/insiders", "")
	require.Equal(t, http.StatusOK, code)
	var insiders struct {
		Rows  []storage.ConfirmedInsider `json:"rows"`
		Total int                        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &insiders))
	require.Equal(t, 1, insiders.Total)
	assert.Equal(t, resolved.Candidate.WalletAddress, insiders.Rows[0].WalletAddress)
}

func TestErrorMapping(t *testing.T) {
	mem := memory.New()
	a := newTestAPI(t, mem, mem)
	ids := seedScored(t, mem, 0.9)
	code, _ := a.do(t, http.MethodPost, "/api/v1/discovery/run", "")
	require.Equal(t, http.StatusCreated, code)
	cands, err := mem.ListCandidates(context.Background(), storage.CandidateFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	path := fmt.Sprintf("/api/v1/candidates/%d", cands[0].ID)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing candidate", http.MethodGet, "/api/v1/candidates/999", "", http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/api/v1/candidates/abc", "", http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/api/v1/candidates?status=open", "", http.StatusBadRequest},
		{"dismiss without reason", http.MethodPost, path + "/dismiss", `{}`, http.StatusBadRequest},
		{"start without investigator", http.MethodPost, path + "/start", `{}`, http.StatusBadRequest},
		{"unknown resolution", http.MethodPost, path + "/resolve", `{"resolution":"guilty"}`, http.StatusUnprocessableEntity},
		{"resolve before start", http.MethodPost, path + "/resolve", `{"resolution":"cleared"}`, http.StatusConflict},
		{"bad threshold", http.MethodPost, "/api/v1/discovery/run", `{"anomaly_threshold":2}`, http.StatusUnprocessableEntity},
		{"missing batch", http.MethodGet, "/api/v1/discovery/batches/nope", "", http.StatusNotFound},
		{"missing pattern", http.MethodGet, "/api/v1/patterns/nope", "", http.StatusNotFound},
		{"empty pattern", http.MethodPost, "/api/v1/patterns", `{"name":"x"}`, http.StatusUnprocessableEntity},
		{"unscored trade", http.MethodGet, "/api/v1/trades/12345/score", "", http.StatusNotFound},
		{"scored trade", http.MethodGet, fmt.Sprintf("/api/v1/trades/%d/score", ids[0]), "", http.StatusOK},
		{"score missing trade", http.MethodPost, "/api/v1/trades/12345/score", "", http.StatusNotFound},
		{"malformed json", http.MethodPost, path + "/evidence", `{"type":`, http.StatusBadRequest},
		{"empty wallet batch", http.MethodPost, "/api/v1/wallets/connections", `{"wallets":[]}`, http.StatusBadRequest},
		{"bad feedback thresholds", http.MethodPost, "/api/v1/feedback/run", `{"thresholds":{"regression_tolerance":-1}}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := a.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, string(body))
		})
	}
}

func TestPatternsAndScoring(t *testing.T) {
	mem := memory.New()
	a := newTestAPI(t, mem, mem)
	m := mem.AddMarket(storage.Market{ConditionID: "m", Category: "politics"})
	tr := mem.AddTrade(storage.Trade{WalletAddress: "0xa", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes", Size: 10})

	code, body := a.do(t, http.MethodPost, "/api/v1/patterns", `{
		"name": "one_sided",
		"conditions": [{"metric": "position_concentration", "operator": ">=", "value": 0.9}],
		"alert_threshold": 0.7
	}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = a.do(t, http.MethodGet, "/api/v1/patterns", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Total)

	code, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trades/%d/score", tr.ID), "")
	require.Equal(t, http.StatusOK, code, string(body))
	var score storage.TradeScore
	require.NoError(t, json.Unmarshal(body, &score))
	assert.Equal(t, map[string]float64{"one_sided": 0.7}, score.MatchedPatterns)

	code, body = a.do(t, http.MethodPost, "/api/v1/scores/rescore-all", `{"batch_size":5}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var batch scoring.BatchResult
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Equal(t, int64(1), batch.Scored)
}

func TestWalletRoutes(t *testing.T) {
	mem := memory.New()
	a := newTestAPI(t, mem, mem)
	ctx := context.Background()
	m1 := mem.AddMarket(storage.Market{ConditionID: "m1"})
	m2 := mem.AddMarket(storage.Market{ConditionID: "m2"})
	for _, w := range []string{"0xinsider", "0xsuspect"} {
		mem.AddTrade(storage.Trade{WalletAddress: w, MarketID: m1.ID, Side: storage.SideBuy, Outcome: "Yes", Size: 10})
		mem.AddTrade(storage.Trade{WalletAddress: w, MarketID: m2.ID, Side: storage.SideBuy, Outcome: "Yes", Size: 10})
	}
	require.NoError(t, mem.CreateConfirmedInsider(ctx, &storage.ConfirmedInsider{WalletAddress: "0xinsider", ConfidenceLevel: "confirmed"}))

	code, body := a.do(t, http.MethodGet, "/api/v1/wallets/0xsuspect/connections", "")
	require.Equal(t, http.StatusOK, code, string(body))
	var conn rings.Connection
	require.NoError(t, json.Unmarshal(body, &conn))
	assert.True(t, conn.Connected)
	assert.Equal(t, 2, conn.SharedMarkets)

	code, body = a.do(t, http.MethodPost, "/api/v1/wallets/connections", `{"wallets":["0xsuspect","0xnobody"]}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var batch map[string]*rings.Connection
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.True(t, batch["0xsuspect"].Connected)
	assert.False(t, batch["0xnobody"].Connected)

	code, _ = a.do(t, http.MethodPost, "/api/v1/wallets/recompute", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	mem := memory.New()
	a := newTestAPI(t, mem, mem)
	a.do(t, http.MethodGet, "/health", "")

	code, body := a.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "insiderlens_health_checks_total")
}
