package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

// Point is a pixel coordinate in the downscaled snapshot's space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ScreenshotPayload struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimeType"`
}

// Context is the lightweight hint block sent alongside every request.
type Context struct {
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	WindowTitle  string `json:"windowTitle,omitempty"`
	ActiveApp    string `json:"activeApp,omitempty"`
	IntentType   string `json:"intentType,omitempty"`
}

type DetectRequest struct {
	Screenshot  ScreenshotPayload `json:"screenshot"`
	Description string            `json:"description"`
	Context     Context           `json:"context"`
}

type DetectResponse struct {
	Success         bool    `json:"success"`
	Coordinates     *Point  `json:"coordinates,omitempty"`
	Confidence      float64 `json:"confidence"`
	SelectedElement string  `json:"selectedElement,omitempty"`
	Message         string  `json:"message,omitempty"`
}

type VerifyRequest struct {
	Screenshot      ScreenshotPayload `json:"screenshot"`
	Prompt          string            `json:"prompt"`
	StepDescription string            `json:"stepDescription"`
	Context         Context           `json:"context"`
}

// VerifyResponse carries the verifier's judgement. Verified nil means the
// check was inconclusive and the caller should treat it as advisory.
type VerifyResponse struct {
	Success    bool    `json:"success"`
	Verified   *bool   `json:"verified"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Suggestion string  `json:"suggestion,omitempty"`
	Provider   string  `json:"provider,omitempty"`
}

// Client talks to the external element-detection and visual-verification
// services.
type Client struct {
	detectorURL string
	verifierURL string
	apiKey      string
	http        *http.Client
	logger      *observability.Logger
}

func NewClient(cfg config.VisionConfig, logger *observability.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		detectorURL: cfg.DetectorURL,
		verifierURL: cfg.VerifierURL,
		apiKey:      cfg.APIKey,
		http:        &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Detect asks the element-detection service for the pixel position of the
// described element within the snapshot. A transport failure is a hard error:
// the caller must not click a guess.
func (c *Client) Detect(ctx context.Context, snap *display.Snapshot, description string, hints Context) (*DetectResponse, error) {
	start := time.Now()

	req := DetectRequest{
		Screenshot: ScreenshotPayload{
			Base64:   snap.Base64Image,
			MimeType: "image/png",
		},
		Description: description,
		Context:     hints,
	}
	req.Context.ScreenWidth = snap.Width
	req.Context.ScreenHeight = snap.Height

	var resp DetectResponse
	if err := c.post(ctx, c.detectorURL, req, &resp); err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}

	if c.logger != nil {
		c.logger.LogDetector(description, resp.Success, resp.Confidence, time.Since(start))
	}
	return &resp, nil
}

// Verify asks the visual-verification service whether the described effect is
// visible on screen. Verification is advisory: a transport-level failure
// degrades to Verified nil instead of an error.
func (c *Client) Verify(ctx context.Context, snap *display.Snapshot, prompt, stepDescription string, hints Context) *VerifyResponse {
	start := time.Now()

	req := VerifyRequest{
		Screenshot: ScreenshotPayload{
			Base64:   snap.Base64Image,
			MimeType: "image/png",
		},
		Prompt:          prompt,
		StepDescription: stepDescription,
		Context:         hints,
	}
	req.Context.ScreenWidth = snap.Width
	req.Context.ScreenHeight = snap.Height

	var resp VerifyResponse
	if err := c.post(ctx, c.verifierURL, req, &resp); err != nil {
		resp = VerifyResponse{
			Success:   false,
			Verified:  nil,
			Reasoning: fmt.Sprintf("verifier unreachable: %v", err),
		}
	}

	if c.logger != nil {
		c.logger.LogVerifier(prompt, resp.Verified, resp.Confidence, time.Since(start))
	}
	return &resp
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
