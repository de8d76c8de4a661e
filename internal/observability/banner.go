package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset = "\033[0m"
	colorCyan  = "\033[36m"
	colorBold  = "\033[1m"
)

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// PrintBanner writes the startup header. Skipped when stdout is not a
// terminal so JSONL consumers see only events.
func PrintBanner(name, listen string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	width := termWidth()
	if width > 72 {
		width = 72
	}
	rule := strings.Repeat("─", width)
	fmt.Println(colorCyan + rule + colorReset)
	fmt.Printf("%s%s%s  desktop actuation service\n", colorBold, name, colorReset)
	fmt.Printf("listen=%s  go=%s  os=%s/%s\n", listen, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Println(colorCyan + rule + colorReset)
}

// Uptime reports time since process start, used by the health surface.
func Uptime() time.Duration {
	return time.Since(startTime)
}
