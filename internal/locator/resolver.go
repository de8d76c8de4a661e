package locator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/vision"
)

var (
	// ErrNotFound means the detector returned no coordinate for the label.
	ErrNotFound = errors.New("element not found")
	// ErrLowConfidence means a coordinate came back below the minimum
	// threshold; clicking it would be a guess.
	ErrLowConfidence = errors.New("detection confidence below threshold")
)

// Target is a resolved click position in logical (input-device) coordinates.
type Target struct {
	X               int     `json:"x"`
	Y               int     `json:"y"`
	Confidence      float64 `json:"confidence"`
	SelectedElement string  `json:"selectedElement,omitempty"`
}

// WindowContext carries the hints forwarded to the detector.
type WindowContext struct {
	WindowTitle string
	ActiveApp   string
	IntentType  string
}

// Detector is the subset of the vision client the resolver needs.
type Detector interface {
	Detect(ctx context.Context, snap *display.Snapshot, description string, hints vision.Context) (*vision.DetectResponse, error)
}

// Resolver turns a natural-language element description into a clickable
// screen position: capture, downscale, detect, then map the detected pixel
// back through the resize ratio and the display's pixel density factor.
type Resolver struct {
	capturer      display.Capturer
	detector      Detector
	minConfidence float64
}

func NewResolver(capturer display.Capturer, detector Detector, minConfidence float64) *Resolver {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &Resolver{
		capturer:      capturer,
		detector:      detector,
		minConfidence: minConfidence,
	}
}

// Resolve captures a fresh snapshot, asks the detector for the element, and
// maps the result into logical coordinates. Failures are explicit; the caller
// decides whether to fall back.
func (r *Resolver) Resolve(ctx context.Context, label string, win WindowContext) (*Target, error) {
	snap, err := r.capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	resp, err := r.detector.Detect(ctx, snap, label, vision.Context{
		WindowTitle: win.WindowTitle,
		ActiveApp:   win.ActiveApp,
		IntentType:  win.IntentType,
	})
	if err != nil {
		return nil, err
	}

	if !resp.Success || resp.Coordinates == nil {
		if resp.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
		}
		return nil, ErrNotFound
	}
	if resp.Confidence < r.minConfidence {
		return nil, fmt.Errorf("%w: %.2f < %.2f for %q",
			ErrLowConfidence, resp.Confidence, r.minConfidence, label)
	}

	x, y := MapToLogical(resp.Coordinates.X, resp.Coordinates.Y, snap)
	return &Target{
		X:               x,
		Y:               y,
		Confidence:      resp.Confidence,
		SelectedElement: resp.SelectedElement,
	}, nil
}

// MapToLogical undoes the two transforms between the detector's coordinate
// space and the input device's. The order is fixed: detected pixels sit in
// the downscaled image, so divide by the resize ratio first to recover
// physical pixels, then by the pixel density factor to reach logical units.
// Skipping either division produces a systematic offset proportional to the
// skipped factor.
func MapToLogical(dx, dy float64, snap *display.Snapshot) (int, int) {
	ratio := snap.ResizeRatio
	if ratio <= 0 {
		ratio = 1.0
	}
	scale := snap.PixelScale
	if scale <= 0 {
		scale = 1.0
	}

	physX := dx / ratio
	physY := dy / ratio
	return int(math.Round(physX / scale)), int(math.Round(physY / scale))
}
