package service

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
)

// DefaultVisualPrompt is used when neither the analysis nor the user supplied
// a visual direction.
const DefaultVisualPrompt = "Cinematic abstract music video with flowing light patterns, deep atmospheric colors, smooth organic motion"

// Section is a named span of the track with a suggested visual treatment.
// Percent values cover [0, 100] over the track length.
type Section struct {
	Name         string  `json:"name"`
	StartPercent float64 `json:"startPercent"`
	EndPercent   float64 `json:"endPercent"`
	VisualHint   string  `json:"visualHint"`
}

type AnalysisResult struct {
	Transcription string    `json:"transcription"`
	Mood          string    `json:"mood"`
	Energy        string    `json:"energy"`
	VisualPrompt  string    `json:"visualPrompt"`
	Sections      []Section `json:"sections"`
}

type AnalyzeRequest struct {
	AudioData  []byte
	MimeType   string
	UserPrompt string
}

type FrameRequest struct {
	Prompt      string
	ClipIndex   int
	TotalClips  int
	Mood        string
	Energy      string
	Quality     string
	SectionHint string
}

type VisualFrame struct {
	ImageData []byte
	Width     int
	Height    int
}

// VisualProvider is the generative-content capability consumed by the
// pipeline. Implementations are swappable; the active one is injected into
// the pipeline at startup.
type VisualProvider interface {
	Name() string
	AnalyzeAudio(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error)
	GenerateFrame(ctx context.Context, req FrameRequest) (VisualFrame, error)
}

const autoAnalysisPrompt = `You are an expert creative director and music analyst.
Analyze this audio track thoroughly. Determine:
- Tempo / BPM estimate
- Energy level (low/medium/high)
- Mood (e.g., calm, melancholic, dark, upbeat, aggressive, dreamy, euphoric)
- Genre feel
- Section changes you can detect (intro, verse, chorus, bridge, outro)
- Emotional arc from start to finish

Based on your analysis, create a detailed visual prompt for a music video that:
- Uses abstract, cinematic, atmospheric visuals (no people or text)
- Has a consistent color palette that matches the mood
- Describes smooth camera movements that follow the tempo
- Evolves visually as the song progresses through sections
- Prioritizes visual coherence and smooth transitions

Format as JSON: { "transcription": "lyrics if any, or empty string", "mood": "one-line mood description", "energy": "low|medium|high", "visualPrompt": "detailed cinematic visual description", "sections": [{"name": "intro", "startPercent": 0, "endPercent": 10, "visualHint": "description"}] }`

const styledAnalysisPrompt = `You are an expert creative director and music analyst.
Analyze this audio track. The user wants this visual style: "%s"

Determine the song's mood, energy, tempo, and structure. Then create a refined, production-ready visual prompt that:
- Honors the user's style request: "%s"
- Adapts the style to match the music's energy and sections
- Describes specific visual elements, colors, camera movements
- Ensures visual continuity across multiple clips

Format as JSON: { "transcription": "lyrics if any, or empty string", "mood": "one-line mood description", "energy": "low|medium|high", "visualPrompt": "refined cinematic visual description based on user's style", "sections": [{"name": "intro", "startPercent": 0, "endPercent": 10, "visualHint": "description"}] }`

// GeminiProvider talks to the Gemini generateContent API over plain HTTP.
type GeminiProvider struct {
	apiKey        string
	baseURL       string
	analysisModel string
	imageModel    string
	client        *http.Client
}

func NewGeminiProvider(apiKey, baseURL, analysisModel, imageModel string) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if analysisModel == "" {
		analysisModel = "gemini-2.5-flash"
	}
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	return &GeminiProvider{
		apiKey:        apiKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		analysisModel: analysisModel,
		imageModel:    imageModel,
		client:        &http.Client{Timeout: 5 * time.Minute},
	}
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

// AnalyzeAudio sends the raw track to the analysis model. A transport or API
// failure is returned to the caller; a malformed model reply degrades to a
// default analysis instead of failing the run.
func (g *GeminiProvider) AnalyzeAudio(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error) {
	prompt := autoAnalysisPrompt
	if req.UserPrompt != "" {
		prompt = fmt.Sprintf(styledAnalysisPrompt, req.UserPrompt, req.UserPrompt)
	}

	parts := []geminiPart{
		{InlineData: &geminiInlineData{
			MimeType: req.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.AudioData),
		}},
		{Text: prompt},
	}
	resp, err := g.generateContent(ctx, g.analysisModel, parts, nil)
	if err != nil {
		return AnalysisResult{}, err
	}
	return parseAnalysis(resp.firstText(), req.UserPrompt), nil
}

func (g *GeminiProvider) GenerateFrame(ctx context.Context, req FrameRequest) (VisualFrame, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	gen := &geminiGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	resp, err := g.generateContent(ctx, g.imageModel, parts, gen)
	if err != nil {
		return VisualFrame{}, err
	}

	data := resp.firstInlineData()
	if data == "" {
		return VisualFrame{}, fmt.Errorf("image response contained no inline data")
	}
	imageData, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return VisualFrame{}, fmt.Errorf("decode image data: %w", err)
	}

	frame := VisualFrame{ImageData: imageData, Width: 1280, Height: 720}
	if req.Quality == "high" {
		frame.Width, frame.Height = 1920, 1080
	}
	return frame, nil
}

// parseAnalysis strips markdown code fences and decodes the model's JSON
// reply. On any decode failure it falls back to a generic analysis built from
// the user's prompt, so a sloppy model answer degrades instead of failing.
func parseAnalysis(raw, userPrompt string) AnalysisResult {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var result AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		visual := userPrompt
		if visual == "" {
			visual = "Abstract cinematic visuals with flowing light, deep colors, and smooth motion"
		}
		return AnalysisResult{
			Mood:         "cinematic",
			Energy:       "medium",
			VisualPrompt: visual,
		}
	}
	return result
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r *geminiResponse) firstText() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

func (r *geminiResponse) firstInlineData() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return p.InlineData.Data
			}
		}
	}
	return ""
}

func (g *GeminiProvider) generateContent(ctx context.Context, model string, parts []geminiPart, gen *geminiGenerationConfig) (*geminiResponse, error) {
	reqBody := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: gen,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, string(respBody))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
