package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
	JobSkipped   string = "SKIPPED"
)

// ValidationRun is one validation pass against a training checkpoint.
type ValidationRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	GlobalStep  int    `gorm:"not null"`
	Type        string `gorm:"size:20;not null"` // intermediary, final, base_model
	ModelFamily string `gorm:"size:20;not null"`
	Status      string `gorm:"size:20;not null"`

	ForceEvaluation bool `gorm:"default:false"`

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	// Config is the serialized validation configuration the run used, kept
	// so old runs stay interpretable after settings change.
	Config datatypes.JSON

	Images []ValidationImage `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Errors []RunError        `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// ValidationImage is one produced artifact.
type ValidationImage struct {
	RunId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Shortname  string    `gorm:"primaryKey;size:255"`
	Resolution string    `gorm:"primaryKey;size:20"`

	Prompt    string
	Path      string
	Luminance float64
}

// RunError records a per-item generation failure within a run.
type RunError struct {
	RunId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Shortname  string
	Resolution string
	Error      string
	Timestamp  time.Time
}
