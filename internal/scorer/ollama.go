package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultModel is the default scoring model.
	DefaultModel = "llama3.2"
)

// OllamaScorer implements Scorer using an Ollama model prompted to emit
// a single relevance score. Temperature is pinned to zero so repeated
// calls on the same pair return the same score.
type OllamaScorer struct {
	baseURL    string
	httpClient *http.Client
	model      string
}

// OllamaOption is a functional option for configuring OllamaScorer.
type OllamaOption func(*OllamaScorer)

// WithBaseURL sets a custom base URL for the Ollama API.
func WithBaseURL(url string) OllamaOption {
	return func(s *OllamaScorer) {
		s.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(s *OllamaScorer) {
		s.httpClient = client
	}
}

// WithModel sets the model used for scoring.
func WithModel(model string) OllamaOption {
	return func(s *OllamaScorer) {
		s.model = model
	}
}

// NewOllamaScorer creates a new Ollama-backed scorer with the given options.
func NewOllamaScorer(opts ...OllamaOption) *OllamaScorer {
	s := &OllamaScorer{
		baseURL: DefaultOllamaBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		model: DefaultModel,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ollamaRequest represents the request body for Ollama's generate API.
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// ollamaResponse represents the response from Ollama's generate API.
type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// scoreResponse is the structured output requested from the model.
type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score rates candidateText's relevance to queryText on [0,1].
func (s *OllamaScorer) Score(ctx context.Context, queryText, candidateText string) (float64, error) {
	prompt := buildScorePrompt(queryText, candidateText)

	reqBody := ollamaRequest{
		Model:  s.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": 0.0,
			"num_predict": 64,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}

	return parseScore(result.Response)
}

// ModelName returns the scoring model identifier.
func (s *OllamaScorer) ModelName() string {
	return s.model
}

// buildScorePrompt constructs the pairwise scoring prompt.
func buildScorePrompt(queryText, candidateText string) string {
	// Truncate candidate text to avoid token limits
	if len(candidateText) > 1000 {
		candidateText = candidateText[:1000] + "..."
	}

	var sb strings.Builder
	sb.WriteString("You are a relevance scoring system for security log classification.\n\n")
	sb.WriteString("Log record:\n")
	sb.WriteString(queryText)
	sb.WriteString("\n\nCandidate category description:\n")
	sb.WriteString(candidateText)
	sb.WriteString("\n\n")
	sb.WriteString(`Score how well the category describes the log record, from 0.0 to 1.0.
Output ONLY valid JSON in this exact format: {"score": 0.9}
Be strict: unrelated categories score below 0.3, plausible ones 0.3-0.7, clear matches above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScore extracts the score from the model response, clamped to [0,1].
func parseScore(response string) (float64, error) {
	response = strings.TrimSpace(response)

	// Strip markdown code fences if present
	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}
	response = strings.TrimSpace(response)

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse score response: %w", err)
	}

	score := parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// Ensure OllamaScorer implements Scorer interface.
var _ Scorer = (*OllamaScorer)(nil)
