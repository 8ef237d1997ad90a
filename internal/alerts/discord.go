package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/liamashdown/insiderlens/internal/ratelimit"
)

// DiscordSender sends alerts to Discord via webhook
type DiscordSender struct {
	webhookURL string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewDiscordSender creates a new Discord sender. limiter may be shared between
// senders and may be nil.
func NewDiscordSender(webhookURL string, limiter *ratelimit.Limiter) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
	}
}

// Send sends the alert to Discord
func (s *DiscordSender) Send(ctx context.Context, payload *AlertPayload) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{buildEmbed(payload)},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

func buildEmbed(payload *AlertPayload) map[string]interface{} {
	var title string
	var color int
	switch payload.Severity {
	case SeverityAlert:
		title = "🚨 Critical insider candidate"
		color = 0xFF0000 // Red
	case SeverityWarn:
		title = "⚠️ High priority insider candidate"
		color = 0xFFA500 // Orange
	default:
		title = "ℹ️ Insider candidate discovered"
		color = 0x0099FF // Blue
	}

	description := fmt.Sprintf("**%s %s** @ **%.2f** for **$%.2f**\nInsider probability **%.0f%%** (anomaly %.2f)",
		payload.Side,
		payload.Outcome,
		payload.Price,
		payload.NotionalUSD,
		payload.InsiderProbability*100,
		payload.AnomalyScore,
	)

	fields := []map[string]interface{}{
		{
			"name":   "Wallet",
			"value":  fmt.Sprintf("`%s`", payload.WalletShort),
			"inline": true,
		},
		{
			"name":   "Market",
			"value":  truncate(payload.MarketTitle, 100),
			"inline": true,
		},
		{
			"name":   "Category",
			"value":  payload.Category,
			"inline": true,
		},
		{
			"name":   "Rank",
			"value":  fmt.Sprintf("#%d (%s)", payload.DiscoveryRank, payload.Priority),
			"inline": true,
		},
		{
			"name":   "Candidate",
			"value":  fmt.Sprintf("%d (trade %d)", payload.CandidateID, payload.TradeID),
			"inline": true,
		},
	}

	if payload.EstimatedProfit != nil {
		fields = append(fields, map[string]interface{}{
			"name":   "Est. Profit",
			"value":  fmt.Sprintf("$%.2f", *payload.EstimatedProfit),
			"inline": true,
		})
	}

	if len(payload.MatchedPatterns) > 0 {
		fields = append(fields, map[string]interface{}{
			"name":   "📊 Matched Patterns",
			"value":  formatPatterns(payload.MatchedPatterns),
			"inline": false,
		})
	}

	footer := map[string]interface{}{
		"text": fmt.Sprintf("insiderlens • batch %s • %s • %s", ShortAddress(payload.BatchID), payload.Environment, payload.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")),
	}

	return map[string]interface{}{
		"title":       title,
		"description": description,
		"color":       color,
		"fields":      fields,
		"footer":      footer,
		"timestamp":   payload.Timestamp.Format(time.RFC3339),
	}
}

// formatPatterns lists matches best first
func formatPatterns(matches map[string]float64) string {
	names := make([]string, 0, len(matches))
	for name := range matches {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if matches[names[i]] != matches[names[j]] {
			return matches[names[i]] > matches[names[j]]
		}
		return names[i] < names[j]
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("`%s`: **%.2f**", name, matches[name]))
	}
	return truncate(strings.Join(parts, "\n"), 1000)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
