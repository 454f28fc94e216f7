package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rescuedyne/go-rover/internal/httpc"
	"github.com/rescuedyne/go-rover/pkg/frame"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// positionPrompt asks for survivor detection and centering in a strict JSON
// shape so the response can be parsed into a typed Result at the boundary.
const positionPrompt = `Analyze this camera feed image for SURVIVOR DETECTION and POSITIONING.

Your task:
1. Look for any PERSON, HUMAN, or SURVIVOR in the image
2. If a person is detected, report their position within the frame
3. A person is considered CENTERED if they are in the middle 40% of the image

Respond with ONLY this JSON format:
{
    "person_detected": true/false,
    "position": {"x": 0.0-1.0, "y": 0.0-1.0},
    "person_centered": true/false,
    "confidence": 0.0-1.0,
    "position_description": "brief description of where person is located",
    "target_ready": true/false
}

Position (0.5, 0.5) is the exact center of the frame. Set "target_ready" to
true ONLY if a person is clearly detected AND reasonably centered AND you
have high confidence in the detection. Be precise and conservative - false
positives could cause mission failure.`

// GeminiDetector implements Detector against the Gemini vision API.
type GeminiDetector struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewGeminiDetector creates a detector. The client timeout is a backstop;
// the loop bounds each call with its own context deadline.
func NewGeminiDetector(apiKey string, timeout time.Duration) *GeminiDetector {
	return &GeminiDetector{
		apiKey:  apiKey,
		baseURL: defaultGeminiBaseURL,
		model:   defaultGeminiModel,
		http:    httpc.NewClient(timeout),
	}
}

// Detect submits one frame and parses the structured response.
func (g *GeminiDetector) Detect(ctx context.Context, f frame.Frame) (Result, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": positionPrompt},
					{"inline_data": map[string]string{
						"mime_type": "image/jpeg",
						"data":      base64.StdEncoding.EncodeToString(f.Data),
					}},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     0.2,
			"maxOutputTokens": 300,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("detect: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("detect: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("detect: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("detect: API error (status %d): %s",
			resp.StatusCode, truncate(string(raw), 200))
	}

	var gr geminiResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return Result{}, fmt.Errorf("detect: decode response: %w", err)
	}
	if gr.Error.Message != "" {
		return Result{}, fmt.Errorf("detect: API error: %s", gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	return ParseResult(gr.Candidates[0].Content.Parts[0].Text, f.Timestamp)
}

// positionWire is the detector's JSON contract.
type positionWire struct {
	PersonDetected bool `json:"person_detected"`
	Position       struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
	PersonCentered      bool    `json:"person_centered"`
	Confidence          float64 `json:"confidence"`
	PositionDescription string  `json:"position_description"`
	TargetReady         bool    `json:"target_ready"`
}

// ParseResult parses the model's text output into a Result. Markdown code
// fences are stripped first; anything that still fails to parse is a
// detector failure, not a runtime type error propagating inward.
func ParseResult(text string, ts time.Time) (Result, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var w positionWire
	if err := json.Unmarshal([]byte(clean), &w); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if w.Confidence < 0 || w.Confidence > 1 {
		return Result{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, w.Confidence)
	}
	if w.PersonDetected && (w.Position.X < 0 || w.Position.X > 1 || w.Position.Y < 0 || w.Position.Y > 1) {
		return Result{}, fmt.Errorf("%w: position (%v, %v) out of range",
			ErrMalformedResponse, w.Position.X, w.Position.Y)
	}

	return Result{
		TargetPresent: w.PersonDetected,
		X:             w.Position.X,
		Y:             w.Position.Y,
		Confidence:    w.Confidence,
		Centered:      w.PersonCentered && w.TargetReady,
		Position:      w.PositionDescription,
		Timestamp:     ts,
	}, nil
}

// geminiResponse is the response envelope from the Gemini API.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
