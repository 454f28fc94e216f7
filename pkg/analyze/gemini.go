package analyze

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
	"github.com/rescuedyne/go-rover/pkg/segment"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"

	// maxSampleFrames caps how many frames of a segment are uploaded.
	// Frames are sampled evenly across the segment's span.
	maxSampleFrames = 8
)

// rescuePrompt drives the medical assessment. The JSON contract mirrors
// what the mission dashboard stores.
const rescuePrompt = `Analyze this sequence of video frames from a rescue rover searching for survivors.
The frames are evenly sampled from a few seconds of footage. Look carefully
for any people who might need rescue assistance, including:

- People lying on the ground (injured, unconscious, or trapped)
- People showing signs of distress or calling for help
- People with visible injuries, wounds, or bleeding
- People trapped under debris or in confined spaces
- People who appear motionless or in need of medical attention

Respond with ONLY this JSON format:
{
    "survivors_detected": true/false,
    "survivor_count": number,
    "detailed_description": "detailed description of what you see",
    "survivor_details": [
        {
            "position": "description of where person is located",
            "condition": "description of apparent condition/injuries",
            "urgency_level": "low/medium/high/critical",
            "confidence": 0.0-1.0
        }
    ],
    "rescue_priority": "none/low/medium/high/critical",
    "recommended_action": "specific recommended rescue action"
}

If no people are visible, set survivors_detected to false and survivor_count
to 0. Be thorough but accurate - only report people you can clearly see.`

// GeminiAnalyzer implements Analyzer against the Gemini vision API using
// multi-image requests sampled from the segment.
type GeminiAnalyzer struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewGeminiAnalyzer creates an analyzer. The client timeout is a backstop;
// the loop bounds each call with its own context deadline.
func NewGeminiAnalyzer(apiKey string, timeout time.Duration) *GeminiAnalyzer {
	return &GeminiAnalyzer{
		apiKey:  apiKey,
		baseURL: defaultGeminiBaseURL,
		model:   defaultGeminiModel,
		http:    httpc.NewClient(timeout),
	}
}

// Analyze submits sampled frames from the segment and parses the
// structured assessment.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, seg *segment.Segment) (Assessment, error) {
	if seg == nil || len(seg.Frames) == 0 {
		return Assessment{}, fmt.Errorf("analyze: empty segment")
	}

	parts := []map[string]interface{}{
		{"text": rescuePrompt},
	}
	for _, f := range SampleFrames(seg, maxSampleFrames) {
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]string{
				"mime_type": "image/jpeg",
				"data":      base64.StdEncoding.EncodeToString(f.Data),
			},
		})
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     0.2,
			"maxOutputTokens": 1000,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Assessment{}, fmt.Errorf("analyze: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("analyze: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("analyze: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Assessment{}, fmt.Errorf("analyze: API error (status %d)", resp.StatusCode)
	}

	var gr geminiResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return Assessment{}, fmt.Errorf("analyze: decode response: %w", err)
	}
	if gr.Error.Message != "" {
		return Assessment{}, fmt.Errorf("analyze: API error: %s", gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Assessment{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	return ParseAssessment(gr.Candidates[0].Content.Parts[0].Text, seg.End)
}

// SampleFrames picks up to max frames evenly spread across the segment.
// A non-positive max yields no frames.
func SampleFrames(seg *segment.Segment, max int) []frameRef {
	n := len(seg.Frames)
	if max <= 0 {
		return nil
	}
	if n <= max {
		refs := make([]frameRef, n)
		for i := range seg.Frames {
			refs[i] = frameRef{Data: seg.Frames[i].Data}
		}
		return refs
	}
	if max == 1 {
		// Latest frame is the most informative single pick.
		return []frameRef{{Data: seg.Frames[n-1].Data}}
	}
	refs := make([]frameRef, 0, max)
	for i := 0; i < max; i++ {
		idx := i * (n - 1) / (max - 1)
		refs = append(refs, frameRef{Data: seg.Frames[idx].Data})
	}
	return refs
}

// frameRef avoids copying frame payloads during sampling.
type frameRef struct {
	Data []byte
}

// assessmentWire is the analyzer's JSON contract.
type assessmentWire struct {
	SurvivorsDetected   bool   `json:"survivors_detected"`
	SurvivorCount       int    `json:"survivor_count"`
	DetailedDescription string `json:"detailed_description"`
	SurvivorDetails     []struct {
		Position     string  `json:"position"`
		Condition    string  `json:"condition"`
		UrgencyLevel string  `json:"urgency_level"`
		Confidence   float64 `json:"confidence"`
	} `json:"survivor_details"`
	RescuePriority    string `json:"rescue_priority"`
	RecommendedAction string `json:"recommended_action"`
}

var validUrgencies = map[string]Urgency{
	"low":      UrgencyLow,
	"medium":   UrgencyMedium,
	"high":     UrgencyHigh,
	"critical": UrgencyCritical,
}

var validPriorities = map[string]Priority{
	"none":     PriorityNone,
	"low":      PriorityLow,
	"medium":   PriorityMedium,
	"high":     PriorityHigh,
	"critical": PriorityCritical,
}

// ParseAssessment parses the model's text output into an Assessment.
// Malformed responses are analyzer failures, not runtime type errors.
func ParseAssessment(text string, ts time.Time) (Assessment, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var w assessmentWire
	if err := json.Unmarshal([]byte(clean), &w); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	priority, ok := validPriorities[strings.ToLower(w.RescuePriority)]
	if !ok {
		return Assessment{}, fmt.Errorf("%w: unknown rescue priority %q",
			ErrMalformedResponse, w.RescuePriority)
	}

	a := Assessment{
		SurvivorsDetected: w.SurvivorsDetected,
		SurvivorCount:     w.SurvivorCount,
		Description:       w.DetailedDescription,
		RescuePriority:    priority,
		RecommendedAction: w.RecommendedAction,
		Timestamp:         ts,
	}
	for _, d := range w.SurvivorDetails {
		urgency, ok := validUrgencies[strings.ToLower(d.UrgencyLevel)]
		if !ok {
			return Assessment{}, fmt.Errorf("%w: unknown urgency %q",
				ErrMalformedResponse, d.UrgencyLevel)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return Assessment{}, fmt.Errorf("%w: confidence %v out of range",
				ErrMalformedResponse, d.Confidence)
		}
		a.Survivors = append(a.Survivors, Survivor{
			Position:   d.Position,
			Condition:  d.Condition,
			Urgency:    urgency,
			Confidence: d.Confidence,
		})
	}
	return a, nil
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
