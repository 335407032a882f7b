// Package api holds the public JSON types of the validation backend's HTTP
// surface.
package api

import (
	"time"

	"github.com/google/uuid"
)

type SubmitRunRequest struct {
	GlobalStep      int    `json:"global_step"`
	ValidationType  string `json:"validation_type"`
	ForceEvaluation bool   `json:"force_evaluation"`
	SkipExecution   bool   `json:"skip_execution"`
}

type SubmitRunResponse struct {
	RunId uuid.UUID `json:"run_id"`
}

type ValidationRun struct {
	Id             uuid.UUID  `json:"id"`
	GlobalStep     int        `json:"global_step"`
	Type           string     `json:"type"`
	ModelFamily    string     `json:"model_family"`
	Status         string     `json:"status"`
	CreationTime   time.Time  `json:"creation_time"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	ImageCount     int        `json:"image_count"`
	ErrorCount     int        `json:"error_count"`
}

type ValidationImage struct {
	RunId      uuid.UUID `json:"run_id"`
	Shortname  string    `json:"shortname"`
	Resolution string    `json:"resolution"`
	Prompt     string    `json:"prompt"`
	Path       string    `json:"path"`
	Luminance  float64   `json:"luminance"`
}

type RunError struct {
	Shortname  string    `json:"shortname,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

type ListRunsResponse struct {
	Runs []ValidationRun `json:"runs"`
}

type GetRunResponse struct {
	Run    ValidationRun     `json:"run"`
	Images []ValidationImage `json:"images"`
	Errors []RunError        `json:"errors"`
}
