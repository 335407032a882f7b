package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed, JobSkipped:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&ValidationRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating validation run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveRunError(ctx context.Context, txn *gorm.DB, runId uuid.UUID, shortname, resolution, errorMessage string) {
	runError := RunError{
		RunId:      runId,
		ErrorId:    uuid.New(),
		Shortname:  shortname,
		Resolution: resolution,
		Error:      errorMessage,
		Timestamp:  time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&runError).Error; err != nil {
		slog.Error("error saving run error", "run_id", runId, "error", err)
	}
}

func SaveRunImages(ctx context.Context, txn *gorm.DB, images []ValidationImage) error {
	if len(images) == 0 {
		return nil
	}
	if err := txn.WithContext(ctx).Create(&images).Error; err != nil {
		slog.Error("error saving validation images", "error", err)
		return err
	}
	return nil
}
