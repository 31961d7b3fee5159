// Package store records WPT runs in SQLite through gorm.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cryguy/wptworker/internal/core"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the runner over a set of files.
type Run struct {
	ID         string `gorm:"primaryKey;size:36"`
	Engine     string
	BaseURL    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Files      []FileResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// FileResult is the outcome of one test file.
type FileResult struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         string `gorm:"index;size:36"`
	Path          string `gorm:"index"`
	HarnessStatus string // OK, ERROR, TIMEOUT, ... or empty when the file never completed
	ErrorName     string
	ErrorMessage  string
	RunError      string // timeouts, stalls and other runner failures
	DurationMS    int64
	Passed        int
	Failed        int
	Cases         []CaseResult `gorm:"foreignKey:FileResultID;constraint:OnDelete:CASCADE"`
}

// CaseResult is one test case inside a file.
type CaseResult struct {
	ID           uint `gorm:"primaryKey"`
	FileResultID uint `gorm:"index"`
	Position     int
	Name         string
	Status       string
	Message      string
}

// FileOutcome is what the runner hands over for a finished file.
type FileOutcome struct {
	Path       string
	Results    []core.TestResult
	Completion *core.HarnessStatus
	Error      *core.ErrorInfo
	RunErr     error
	Duration   time.Duration
}

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates it. ":memory:"
// gives a private in-memory database.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("opening store %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening store %q: %w", path, err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		db.Exec("PRAGMA journal_mode=WAL")
	}
	db.Exec("PRAGMA foreign_keys=ON")
	if err := db.AutoMigrate(&Run{}, &FileResult{}, &CaseResult{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BeginRun creates a run and returns its ID.
func (s *Store) BeginRun(engine, baseURL string) (string, error) {
	run := Run{ID: uuid.NewString(), Engine: engine, BaseURL: baseURL, StartedAt: time.Now().UTC()}
	if err := s.db.Create(&run).Error; err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return run.ID, nil
}

// RecordFile stores the outcome of one file under runID.
func (s *Store) RecordFile(runID string, out FileOutcome) error {
	fr := FileResult{
		RunID:      runID,
		Path:       out.Path,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Completion != nil {
		fr.HarnessStatus = out.Completion.Status.String()
	}
	if out.Error != nil {
		fr.ErrorName = out.Error.Name
		fr.ErrorMessage = out.Error.Message
	}
	if out.RunErr != nil {
		fr.RunError = out.RunErr.Error()
	}
	for i, r := range out.Results {
		if r.Status == core.StatusPass {
			fr.Passed++
		} else {
			fr.Failed++
		}
		fr.Cases = append(fr.Cases, CaseResult{Position: i, Name: r.Name, Status: r.Status.String(), Message: r.Message})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Run{}).Where("id = ?", runID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err := tx.Create(&fr).Error; err != nil {
			return fmt.Errorf("recording %s: %w", out.Path, err)
		}
		return nil
	})
}

// FinishRun stamps the run's finish time.
func (s *Store) FinishRun(runID string) error {
	res := s.db.Model(&Run{}).Where("id = ?", runID).Update("finished_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("finishing run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns a run without its files.
func (s *Store) GetRun(runID string) (*Run, error) {
	var run Run
	err := s.db.First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FileResults returns the files recorded for runID ordered by path, each
// with its cases in report order.
func (s *Store) FileResults(runID string) ([]FileResult, error) {
	var files []FileResult
	err := s.db.
		Preload("Cases", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("run_id = ?", runID).
		Order("path").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("loading file results: %w", err)
	}
	return files, nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	var runs []Run
	q := s.db.Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
