package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const actionTimeout = 60 * time.Second

// Action describes one browser operation within a session.
type Action struct {
	Action      string `json:"action"`
	URL         string `json:"url,omitempty"`
	Selector    string `json:"selector,omitempty"`
	Text        string `json:"text,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

// Act performs one action in the named session, creating it on first use.
// Concurrent calls against the same session key serialize here.
func (r *Registry) Act(ctx context.Context, sessionID string, act Action) (string, error) {
	if act.Action == "close" {
		r.Close(sessionID)
		return "Session closed.", nil
	}

	s, err := r.acquire(sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()

	actionCtx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	return runAction(actionCtx, act)
}

func runAction(ctx context.Context, act Action) (string, error) {
	switch act.Action {
	case "navigate":
		if act.URL == "" {
			return "", fmt.Errorf("url is required for 'navigate'")
		}
		if err := chromedp.Run(ctx, chromedp.Navigate(act.URL)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Navigated to %s", act.URL), nil

	case "click":
		if act.Selector == "" {
			return "", fmt.Errorf("selector is required for 'click'")
		}
		if err := chromedp.Run(ctx, chromedp.Click(act.Selector, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked %s", act.Selector), nil

	case "type":
		if act.Selector == "" || act.Text == "" {
			return "", fmt.Errorf("selector and text are required for 'type'")
		}
		if err := chromedp.Run(ctx, chromedp.SendKeys(act.Selector, act.Text, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed text in %s", act.Selector), nil

	case "press":
		if act.Text == "" {
			return "", fmt.Errorf("text (key) is required for 'press'")
		}
		if err := chromedp.Run(ctx, chromedp.KeyEvent(act.Text)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Pressed key: %s", act.Text), nil

	case "scroll":
		if act.Selector != "" {
			if err := chromedp.Run(ctx, chromedp.ScrollIntoView(act.Selector, chromedp.ByQuery)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Scrolled to %s", act.Selector), nil
		}
		if err := chromedp.Run(ctx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil)); err != nil {
			return "", err
		}
		return "Scrolled to bottom", nil

	case "wait":
		if act.Selector != "" {
			if err := chromedp.Run(ctx, chromedp.WaitVisible(act.Selector, chromedp.ByQuery)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Element %s is visible", act.Selector), nil
		}
		if act.WaitSeconds > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(act.WaitSeconds) * time.Second):
			}
			return fmt.Sprintf("Waited %d seconds", act.WaitSeconds), nil
		}
		return "Nothing to wait for", nil

	case "back":
		if err := chromedp.Run(ctx, chromedp.NavigateBack()); err != nil {
			return "", err
		}
		return "Navigated back", nil

	case "forward":
		if err := chromedp.Run(ctx, chromedp.NavigateForward()); err != nil {
			return "", err
		}
		return "Navigated forward", nil

	case "reload":
		if err := chromedp.Run(ctx, chromedp.Reload()); err != nil {
			return "", err
		}
		return "Page reloaded", nil

	case "content":
		html, err := pageHTML(ctx)
		if err != nil {
			return "", err
		}
		if len(html) > 50000 {
			html = html[:50000] + "\n... (truncated)"
		}
		return html, nil

	case "extract":
		return extractReadable(ctx)

	case "screenshot":
		var buf []byte
		if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(buf), nil

	default:
		return "", fmt.Errorf("unknown browser action %q", act.Action)
	}
}

func pageHTML(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	return html, err
}

// extractReadable pulls the main article content out of the current page and
// sanitizes it to plain text.
func extractReadable(ctx context.Context) (string, error) {
	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	html, err := pageHTML(ctx)
	if err != nil {
		return "", err
	}

	pageURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("failed to parse page url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	sanitized := bluemonday.StrictPolicy().Sanitize(article.TextContent)

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n"
	if len(sanitized) > 50000 {
		sanitized = sanitized[:50000] + "\n... (content truncated) ..."
	}
	return output + sanitized, nil
}
