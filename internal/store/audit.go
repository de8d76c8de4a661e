package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/lukaizhi5559/command-service-sub000/internal/executor"
	"github.com/lukaizhi5559/command-service-sub000/internal/governance"
)

// AuditStore persists validator verdicts and plan outcomes so operators can
// reconstruct what the engine did and why, after the fact.
type AuditStore struct {
	DB *sql.DB
}

func NewAuditStore(dbPath string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS validations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT,
			category TEXT,
			risk_level TEXT,
			allowed INTEGER,
			requires_confirmation INTEGER,
			reason TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS plan_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT,
			status TEXT,
			total_steps INTEGER,
			completed INTEGER,
			total_time_ms INTEGER,
			steps_json TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			return nil, err
		}
	}

	return &AuditStore{DB: db}, nil
}

func (s *AuditStore) Close() error {
	return s.DB.Close()
}

func (s *AuditStore) RecordValidation(command string, cls governance.Classification) error {
	query := `INSERT INTO validations (command, category, risk_level, allowed, requires_confirmation, reason)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.DB.Exec(query, command, string(cls.Category), string(cls.RiskLevel),
		boolToInt(cls.Allowed), boolToInt(cls.RequiresConfirmation), cls.Reason)
	return err
}

func (s *AuditStore) RecordPlanResult(res executor.PlanResult) error {
	steps, err := json.Marshal(res.Steps)
	if err != nil {
		return err
	}

	completed := res.Summary.Completed
	if res.Status == executor.PlanCompleted {
		completed = res.Summary.Successful
	}

	query := `INSERT INTO plan_results (plan_id, status, total_steps, completed, total_time_ms, steps_json)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.DB.Exec(query, res.PlanID, string(res.Status),
		res.Summary.TotalSteps, completed, res.TotalTimeMs, string(steps))
	return err
}

// ValidationRecord is one persisted validator verdict.
type ValidationRecord struct {
	ID                   int       `json:"id"`
	Command              string    `json:"command"`
	Category             string    `json:"category"`
	RiskLevel            string    `json:"riskLevel"`
	Allowed              bool      `json:"allowed"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
	Reason               string    `json:"reason,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// RecentValidations returns the newest verdicts first.
func (s *AuditStore) RecentValidations(limit int) ([]ValidationRecord, error) {
	query := `SELECT id, command, category, risk_level, allowed, requires_confirmation, reason, timestamp
		FROM validations ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ValidationRecord
	for rows.Next() {
		var rec ValidationRecord
		var allowed, confirm int
		if err := rows.Scan(&rec.ID, &rec.Command, &rec.Category, &rec.RiskLevel,
			&allowed, &confirm, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Allowed = allowed != 0
		rec.RequiresConfirmation = confirm != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PlanRecord is one persisted plan outcome.
type PlanRecord struct {
	ID          int                   `json:"id"`
	PlanID      string                `json:"planId"`
	Status      string                `json:"status"`
	TotalSteps  int                   `json:"totalSteps"`
	Completed   int                   `json:"completed"`
	TotalTimeMs int64                 `json:"totalTime"`
	Steps       []executor.StepResult `json:"steps"`
	Timestamp   time.Time             `json:"timestamp"`
}

// RecentPlans returns the newest plan outcomes first.
func (s *AuditStore) RecentPlans(limit int) ([]PlanRecord, error) {
	query := `SELECT id, plan_id, status, total_steps, completed, total_time_ms, steps_json, timestamp
		FROM plan_results ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var rec PlanRecord
		var stepsJSON string
		if err := rows.Scan(&rec.ID, &rec.PlanID, &rec.Status, &rec.TotalSteps,
			&rec.Completed, &rec.TotalTimeMs, &stepsJSON, &rec.Timestamp); err != nil {
			return nil, err
		}
		if stepsJSON != "" {
			if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
