package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	appconfig "coinflow/config"
	"coinflow/internal/models"
	"coinflow/logger"
)

// Field is one key/value entry of a webhook embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is the structured summary attached to a webhook message.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields"`
}

type webhookPayload struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Poster fires block summaries at a Discord-compatible webhook. An empty URL
// turns every Post into a safe no-op.
type Poster struct {
	url    string
	client *http.Client
	log    *logger.Log
}

func NewPoster(cfg appconfig.WebhookConfig) *Poster {
	return &Poster{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.GetLogger(),
	}
}

// Post delivers a message with an optional embed. The first return value
// reports whether a delivery was attempted and accepted.
func (p *Poster) Post(ctx context.Context, content string, embed *Embed) (bool, error) {
	if p.url == "" {
		return false, nil
	}

	payload := webhookPayload{Content: content}
	if embed != nil {
		payload.Embeds = []Embed{*embed}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return true, nil
}

// BuildEmbed summarizes a fetch block into webhook embed fields: headline
// snapshot values plus history record counts, with CVD only when computable.
func BuildEmbed(block *models.FetchBlock) Embed {
	fields := []Field{
		{Name: "Open Interest", Value: models.FirstValue(block.Snapshots["open_interest"], "value"), Inline: true},
		{Name: "Funding", Value: models.FirstValue(block.Snapshots["funding_rate"], "value"), Inline: true},
		{Name: "Candles", Value: strconv.Itoa(models.HistoryCount(block.History["ohlcv"])), Inline: true},
		{Name: "LIQ", Value: strconv.Itoa(models.HistoryCount(block.History["liquidations"])), Inline: true},
	}
	if block.Computed.CVD != nil {
		fields = append(fields, Field{
			Name:   "CVD",
			Value:  strconv.FormatFloat(*block.Computed.CVD, 'f', -1, 64),
			Inline: true,
		})
	}

	return Embed{
		Title:       fmt.Sprintf("Coinalyze • %s • %s", block.Symbol, block.Interval),
		Description: fmt.Sprintf("Live snapshot • fetched_at %d", block.FetchedAt),
		Fields:      fields,
	}
}
