// Package httpjson probes a usage source over a JSON HTTP endpoint.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openusage/meterd/internal/meter"
)

const defaultTimeout = 20 * time.Second

// Config describes one HTTP JSON source.
type Config struct {
	Meta     meter.SourceMeta
	Endpoint string
	// BearerToken, when set, is sent as an Authorization header.
	BearerToken string
	Timeout     time.Duration
	// Client overrides the HTTP client, primarily for tests.
	Client *http.Client
}

// Probe fetches and normalizes one endpoint's usage payload.
type Probe struct {
	cfg    Config
	client *http.Client
}

// New creates the probe.
func New(cfg Config) (*Probe, error) {
	if cfg.Meta.ID == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for source %q", cfg.Meta.ID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Probe{cfg: cfg, client: client}, nil
}

// ID returns the source id.
func (p *Probe) ID() meter.SourceID {
	return p.cfg.Meta.ID
}

// Meta returns the source metadata.
func (p *Probe) Meta() meter.SourceMeta {
	return p.cfg.Meta
}

// wirePayload is the endpoint's JSON shape.
type wirePayload struct {
	DisplayName string     `json:"display_name"`
	Plan        string     `json:"plan"`
	IconURL     string     `json:"icon_url"`
	Lines       []wireLine `json:"lines"`
}

type wireLine struct {
	Kind             string     `json:"kind"`
	Label            string     `json:"label"`
	Value            string     `json:"value"`
	Used             float64    `json:"used"`
	Limit            float64    `json:"limit"`
	Format           string     `json:"format"`
	ResetsAt         *time.Time `json:"resets_at"`
	PeriodDurationMs int64      `json:"period_duration_ms"`
	Text             string     `json:"text"`
}

// Probe fetches the endpoint and converts its payload to a PluginOutput.
func (p *Probe) Probe(ctx context.Context) (meter.PluginOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint, nil)
	if err != nil {
		return meter.PluginOutput{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.BearerToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return meter.PluginOutput{}, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return meter.PluginOutput{}, fmt.Errorf("fetch usage: unexpected status %d", resp.StatusCode)
	}

	var payload wirePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return meter.PluginOutput{}, fmt.Errorf("decode usage payload: %w", err)
	}
	return p.convert(payload), nil
}

func (p *Probe) convert(payload wirePayload) meter.PluginOutput {
	out := meter.PluginOutput{
		SourceID:    p.cfg.Meta.ID,
		DisplayName: payload.DisplayName,
		Plan:        payload.Plan,
		IconURL:     payload.IconURL,
	}
	if out.DisplayName == "" {
		out.DisplayName = p.cfg.Meta.Name
	}
	if out.IconURL == "" {
		out.IconURL = p.cfg.Meta.IconURL
	}
	for _, line := range payload.Lines {
		converted := meter.MetricLine{
			Kind:     meter.LineKind(line.Kind),
			Label:    line.Label,
			Format:   line.Format,
			ResetsAt: line.ResetsAt,
		}
		switch converted.Kind {
		case meter.LineText:
			converted.Value = line.Value
		case meter.LineProgress:
			converted.Used = line.Used
			converted.Limit = line.Limit
			if line.PeriodDurationMs > 0 {
				converted.PeriodDuration = time.Duration(line.PeriodDurationMs) * time.Millisecond
			}
		case meter.LineBadge:
			converted.Text = line.Text
		default:
			continue
		}
		out.Lines = append(out.Lines, converted)
	}
	return out
}
