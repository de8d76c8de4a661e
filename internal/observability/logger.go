package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeSkill       EventType = "skill"
	EventTypeStep        EventType = "step"
	EventTypePlan        EventType = "plan"
	EventTypeDetector    EventType = "detector"
	EventTypeVerifier    EventType = "verifier"
	EventTypeSession     EventType = "session"
	EventTypeHeartbeat   EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	PlanID    string    `json:"plan_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	visionLogPath string
	maxSize       int64
}

func NewLogger() *Logger {
	return &Logger{
		visionLogPath: filepath.Join("logs", "vision.jsonl"),
		maxSize:       10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event to stdout.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	// Detector/verifier traffic carries screenshots and model output, so it
	// also goes to a size-rotated file for offline inspection.
	if evt.Type == EventTypeDetector || evt.Type == EventTypeVerifier {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.visionLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.visionLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.visionLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.visionLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.visionLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPolicyCheck(command, category, risk string, allowed bool, reason string) {
	l.Log(Event{
		Type: EventTypePolicyCheck,
		Data: map[string]any{
			"command":  command,
			"category": category,
			"risk":     risk,
			"allowed":  allowed,
			"reason":   reason,
		},
	})
}

func (l *Logger) LogSkill(skill string, ok bool, detail string) {
	l.Log(Event{
		Type: EventTypeSkill,
		Data: map[string]any{
			"skill":  skill,
			"ok":     ok,
			"detail": detail,
		},
	})
}

func (l *Logger) LogStep(planID, stepID, status, method string, retries int) {
	l.Log(Event{
		Type:   EventTypeStep,
		PlanID: planID,
		StepID: stepID,
		Data: map[string]any{
			"status":  status,
			"method":  method,
			"retries": retries,
		},
	})
}

func (l *Logger) LogPlan(planID, status string, completed, total int, elapsed time.Duration) {
	l.Log(Event{
		Type:   EventTypePlan,
		PlanID: planID,
		Data: map[string]any{
			"status":    status,
			"completed": completed,
			"total":     total,
			"elapsed":   elapsed.Milliseconds(),
		},
	})
}

func (l *Logger) LogSession(sessionID, event string) {
	l.Log(Event{
		Type: EventTypeSession,
		Data: map[string]string{
			"session_id": sessionID,
			"event":      event,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogDetector(description string, success bool, confidence float64, elapsed time.Duration) {
	l.Log(Event{
		Type: EventTypeDetector,
		Data: map[string]any{
			"description": description,
			"success":     success,
			"confidence":  confidence,
			"elapsed_ms":  elapsed.Milliseconds(),
		},
	})
}

func (l *Logger) LogVerifier(prompt string, verified *bool, confidence float64, elapsed time.Duration) {
	l.Log(Event{
		Type: EventTypeVerifier,
		Data: map[string]any{
			"prompt":     prompt,
			"verified":   verified,
			"confidence": confidence,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}
