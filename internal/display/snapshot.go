package display

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/image/draw"

	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

// Snapshot is one full-screen capture prepared for the detector. It is
// created fresh for every detection or verification call and never cached:
// display state changes between steps.
type Snapshot struct {
	Base64Image    string  `json:"base64Image"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	PhysicalWidth  int     `json:"physicalWidth"`
	PhysicalHeight int     `json:"physicalHeight"`
	PixelScale     float64 `json:"pixelScale"`
	ResizeRatio    float64 `json:"resizeRatio"`
}

// Capturer produces fresh snapshots of the desktop.
type Capturer interface {
	Capture(ctx context.Context) (*Snapshot, error)
}

// ScreenCapturer shells out to the platform screenshot utility:
// screencapture on macOS, scrot with an ffmpeg x11grab fallback elsewhere.
type ScreenCapturer struct {
	maxWidth   int
	pixelScale float64 // 0 = detect per capture
}

func NewScreenCapturer(cfg config.DisplayConfig) *ScreenCapturer {
	maxWidth := cfg.MaxCaptureWidth
	if maxWidth <= 0 {
		maxWidth = 1280
	}
	return &ScreenCapturer{
		maxWidth:   maxWidth,
		pixelScale: cfg.PixelScale,
	}
}

func (c *ScreenCapturer) Capture(ctx context.Context) (*Snapshot, error) {
	img, err := captureDesktop(ctx)
	if err != nil {
		return nil, err
	}

	scale := c.pixelScale
	if scale <= 0 {
		scale = detectPixelScale(ctx, img.Bounds().Dx())
	}

	return Prepare(img, scale, c.maxWidth)
}

// Prepare builds a Snapshot from a raw capture: downscale to the logical
// width cap when needed, encode to base64 PNG, and record both the resize
// ratio and the pixel density factor as first-class fields so the resolver
// can undo them in order.
func Prepare(img image.Image, pixelScale float64, maxWidth int) (*Snapshot, error) {
	if pixelScale <= 0 {
		pixelScale = 1.0
	}

	physW := img.Bounds().Dx()
	physH := img.Bounds().Dy()

	ratio := 1.0
	out := img
	if maxWidth > 0 && physW > maxWidth {
		ratio = float64(maxWidth) / float64(physW)
		targetH := int(math.Round(float64(physH) * ratio))
		scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, targetH))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Over, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return &Snapshot{
		Base64Image:    base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:          out.Bounds().Dx(),
		Height:         out.Bounds().Dy(),
		PhysicalWidth:  physW,
		PhysicalHeight: physH,
		PixelScale:     pixelScale,
		ResizeRatio:    ratio,
	}, nil
}

func captureDesktop(ctx context.Context) (image.Image, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("agentd_capture_%d.png", time.Now().UnixNano()))
	defer os.Remove(path)

	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", path)
	} else {
		cmd = exec.CommandContext(ctx, "scrot", "-o", path)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		// Fallback for hosts without scrot.
		cmd = exec.CommandContext(ctx, "ffmpeg", "-f", "x11grab", "-i", ":0.0", "-frames:v", "1", path, "-y")
		if output2, err2 := cmd.CombinedOutput(); err2 != nil {
			return nil, fmt.Errorf("screen capture failed: %v (%s); fallback: %v (%s)",
				err, bytes.TrimSpace(output), err2, bytes.TrimSpace(output2))
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	return img, nil
}

// detectPixelScale compares the physical capture width against the logical
// desktop width. macOS Retina reports 2.0; everywhere else defaults to 1.0.
func detectPixelScale(ctx context.Context, physicalWidth int) float64 {
	if runtime.GOOS != "darwin" {
		return 1.0
	}
	out, err := exec.CommandContext(ctx, "osascript", "-e",
		`tell application "Finder" to get bounds of window of desktop`).Output()
	if err != nil {
		return 1.0
	}
	// Output shape: "0, 0, 1512, 982" — third field is the logical width.
	fields := bytes.Split(bytes.TrimSpace(out), []byte(","))
	if len(fields) < 3 {
		return 1.0
	}
	logicalWidth, err := strconv.Atoi(string(bytes.TrimSpace(fields[2])))
	if err != nil || logicalWidth <= 0 {
		return 1.0
	}
	scale := math.Round(float64(physicalWidth) / float64(logicalWidth))
	if scale < 1 {
		return 1.0
	}
	return scale
}
