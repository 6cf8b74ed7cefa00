package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/models"
)

// HTTPClient talks JSON to the inference gateway.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewHTTPClient(cfg config.AIConfig) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, media Media, kind models.MediaKind) (AnalyzeReport, error) {
	req := struct {
		Media Media  `json:"media"`
		Kind  string `json:"kind"`
	}{Media: media, Kind: string(kind)}

	var report AnalyzeReport
	if err := c.post(ctx, "/v1/analyze", req, &report); err != nil {
		return AnalyzeReport{}, err
	}
	return report, nil
}

func (c *HTTPClient) GenerateFix(ctx context.Context, media Media, problems []models.Problem) (FixOutput, error) {
	req := struct {
		Media    Media            `json:"media"`
		Problems []models.Problem `json:"problems"`
	}{Media: media, Problems: problems}

	var resp struct {
		ImageB64       string   `json:"imageB64"`
		Format         string   `json:"format"`
		ChangesApplied []string `json:"changesApplied"`
		Summary        string   `json:"summary"`
	}
	if err := c.post(ctx, "/v1/fix", req, &resp); err != nil {
		return FixOutput{}, err
	}

	data, err := base64.StdEncoding.DecodeString(resp.ImageB64)
	if err != nil {
		return FixOutput{}, fmt.Errorf("decode fix image: %w", err)
	}
	return FixOutput{
		Data:           data,
		Format:         resp.Format,
		ChangesApplied: resp.ChangesApplied,
		Summary:        resp.Summary,
	}, nil
}

func (c *HTTPClient) Moderate(ctx context.Context, media Media) (Moderation, error) {
	req := struct {
		Media Media `json:"media"`
	}{Media: media}

	var mod Moderation
	if err := c.post(ctx, "/v1/moderate", req, &mod); err != nil {
		return Moderation{}, err
	}
	return mod, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrTransient, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: status %d: %s", errs.ErrTransient, path, resp.StatusCode, snippet)
		}
		return fmt.Errorf("inference %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
