// Package history keeps a SQLite ledger of merge runs.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/merge"
)

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 20

// MemoryDSN opens a private in-memory ledger.
const MemoryDSN = ":memory:"

// ErrUnsuccessfulRun indicates a failed merge was offered for recording.
var ErrUnsuccessfulRun = errors.New("only successful runs are recorded")

// RunRecord is one recorded merge.
type RunRecord struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index"        json:"createdAt"`
	OutputDir      string    `gorm:"type:text"                   json:"outputDir"`
	FilesProcessed int       `json:"filesProcessed"`
	UniqueFiles    int       `json:"uniqueFiles"`
	StatementsPct  float64   `json:"statementsPct"`
	LinesPct       float64   `json:"linesPct"`
	FunctionsPct   float64   `json:"functionsPct"`
	BranchesPct    float64   `json:"branchesPct"`
}

// TableName pins the table name.
func (RunRecord) TableName() string { return "coverage_runs" }

// FromResult builds a record from a successful merge.
func FromResult(res merge.Result) (RunRecord, error) {
	if !res.Success {
		return RunRecord{}, ErrUnsuccessfulRun
	}

	return RunRecord{
		ID:             uuid.NewString(),
		OutputDir:      res.OutputDir,
		FilesProcessed: res.FilesProcessed,
		UniqueFiles:    res.UniqueFiles,
		StatementsPct:  res.Totals.Statements.Pct,
		LinesPct:       res.Totals.Lines.Pct,
		FunctionsPct:   res.Totals.Functions.Pct,
		BranchesPct:    res.Totals.Branches.Pct,
	}, nil
}

// Store is the ledger.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite file at dsn, creating parent directories and
// the schema as needed.
func Open(dsn string) (*Store, error) {
	if dsn != MemoryDSN {
		mkdirErr := os.MkdirAll(filepath.Dir(dsn), 0o755)
		if mkdirErr != nil {
			return nil, fmt.Errorf("create history directory: %w", mkdirErr)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	migrateErr := db.AutoMigrate(&RunRecord{})
	if migrateErr != nil {
		return nil, errors.Join(fmt.Errorf("migrate history: %w", migrateErr), closeDB(db))
	}

	return &Store{db: db}, nil
}

// Record inserts rec, assigning an ID when empty.
func (s *Store) Record(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	return nil
}

// List returns up to limit records, newest first. A non-positive limit
// means DefaultLimit.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var records []RunRecord

	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return records, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return closeDB(s.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("history connection: %w", err)
	}

	return sqlDB.Close()
}
