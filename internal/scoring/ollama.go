package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
)

// OllamaScorer scores via a local Ollama instance. Any transport or
// parse failure surfaces as ErrUnavailable so the pipeline can fall
// back to the heuristic for that item.
type OllamaScorer struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaScorer(baseURL, model string) *OllamaScorer {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2:latest"
	}
	return &OllamaScorer{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (s *OllamaScorer) Score(ctx context.Context, in Input) (models.ScoreResult, error) {
	reqBody := generateRequest{
		Model:  s.Model,
		Prompt: buildPrompt(in),
		Format: "json",
		Stream: false,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.BaseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: ollama request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ScoreResult{}, fmt.Errorf("%w: ollama returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsedResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsedResp); err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	return parseModelResponse(parsedResp.Response)
}

func buildPrompt(in Input) string {
	profile := in.Profile
	keywords := joinLimited(profile.Keywords, 15, "N/A")
	categories := joinLimited(profile.PreferredCategories, 5, "N/A")
	excludes := joinLimited(profile.ExcludeKeywords, 5, "None")

	content := in.EnrichmentText
	if content == "" {
		content = in.Opportunity.Summary
	}
	content = truncateRunes(content, 8000)

	return fmt.Sprintf(`Score this RFP opportunity 0-100 for relevance. Reply with ONLY valid JSON:
{"score": <0-100>, "match_reasons": ["..."], "risks": ["..."], "evidence": ["..."], "confidence": "high|medium|low"}

Profile: keywords=[%s], categories=[%s], exclude=[%s]
Opportunity: title=%q
Content: %s

JSON:`, keywords, categories, excludes, in.Opportunity.Title, content)
}

func joinLimited(items []string, limit int, empty string) string {
	if len(items) == 0 {
		return empty
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, ", ")
}

var jsonBlockPattern = regexp.MustCompile(`(?s)\{[^{}]*\}`)

type modelVerdict struct {
	Score        int      `json:"score"`
	MatchReasons []string `json:"match_reasons"`
	Risks        []string `json:"risks"`
	Evidence     []string `json:"evidence"`
	Confidence   string   `json:"confidence"`
}

// parseModelResponse extracts the JSON block from a model reply, which
// may be wrapped in markdown fences or prose.
func parseModelResponse(text string) (models.ScoreResult, error) {
	raw := jsonBlockPattern.FindString(text)
	if raw == "" {
		return models.ScoreResult{}, fmt.Errorf("%w: no JSON object in model response", ErrUnavailable)
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: malformed model JSON: %v", ErrUnavailable, err)
	}

	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 100 {
		verdict.Score = 100
	}

	confidence := models.Confidence(verdict.Confidence)
	switch confidence {
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow, models.ConfidenceInsufficientText:
	default:
		confidence = models.ConfidenceMedium
	}

	return models.ScoreResult{
		Score:      verdict.Score,
		Reasons:    verdict.MatchReasons,
		Risks:      verdict.Risks,
		Evidence:   verdict.Evidence,
		Confidence: confidence,
	}, nil
}
