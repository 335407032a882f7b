package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"tuner-backend/internal/database"
	"tuner-backend/internal/messaging"
	"tuner-backend/internal/state"
	"tuner-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Processor consumes validation tasks from the queue, drives the validator,
// and records outcomes in the run registry. One processor serves one
// training job.
type Processor struct {
	db        *gorm.DB
	store     storage.ObjectStore
	reciever  messaging.Reciever
	validator *Validator
	run       *state.RunState

	outputDir string
	bucket    string

	done chan struct{}
}

func NewProcessor(db *gorm.DB, store storage.ObjectStore, reciever messaging.Reciever, validator *Validator, run *state.RunState, outputDir, bucket string) *Processor {
	return &Processor{
		db:        db,
		store:     store,
		reciever:  reciever,
		validator: validator,
		run:       run,
		outputDir: outputDir,
		bucket:    bucket,
		done:      make(chan struct{}),
	}
}

func (p *Processor) Start() {
	for task := range p.reciever.Tasks() {
		p.processTask(task)
	}
	close(p.done)
}

func (p *Processor) Stop() {
	p.reciever.Close()
	<-p.done
}

func (p *Processor) processTask(task messaging.Task) {
	if task.Type() != messaging.ValidationQueue {
		slog.Error("recieved task from unknown queue", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "error", err)
		}
		return
	}

	var payload messaging.ValidationTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error parsing validation task payload", "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "error", err)
		}
		return
	}

	if err := p.ProcessValidationTask(context.Background(), payload); err != nil {
		slog.Error("error processing validation task", "run_id", payload.RunId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error nacking task", "error", err)
		}
		return
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acking task", "error", err)
	}
}

// ProcessValidationTask runs one validation pass and persists everything it
// produced. A gated-off run is recorded as skipped, not failed.
func (p *Processor) ProcessValidationTask(ctx context.Context, payload messaging.ValidationTaskPayload) error {
	if payload.RunId == uuid.Nil {
		payload.RunId = uuid.New()
	}
	if err := p.ensureRunRecord(ctx, payload); err != nil {
		return err
	}
	if err := database.UpdateRunStatus(ctx, p.db, payload.RunId, database.JobRunning); err != nil {
		return err
	}

	p.run.GlobalStep = payload.GlobalStep
	if payload.ForceEvaluation {
		p.validator.ForceNextRun()
	}
	if payload.SkipExecution {
		p.validator.SkipNextRun()
	}

	results, err := p.validator.Run(ctx, payload.ValidationType)
	if err != nil {
		database.SaveRunError(ctx, p.db, payload.RunId, "", "", err.Error())
		if statusErr := database.UpdateRunStatus(ctx, p.db, payload.RunId, database.JobFailed); statusErr != nil {
			slog.Error("error marking run failed", "run_id", payload.RunId, "error", statusErr)
		}
		return fmt.Errorf("validation run %s failed: %w", payload.RunId, err)
	}

	if results == nil {
		return database.UpdateRunStatus(ctx, p.db, payload.RunId, database.JobSkipped)
	}

	images := make([]database.ValidationImage, 0, len(results.Images))
	for _, img := range results.Images {
		images = append(images, database.ValidationImage{
			RunId:      payload.RunId,
			Shortname:  img.Shortname,
			Resolution: img.Resolution.Label(),
			Prompt:     img.Prompt,
			Path:       img.Path,
			Luminance:  img.Luminance,
		})
	}
	if err := database.SaveRunImages(ctx, p.db, images); err != nil {
		return err
	}
	for _, itemErr := range results.Errors {
		database.SaveRunError(ctx, p.db, payload.RunId, itemErr.Shortname, itemErr.Resolution.Label(), itemErr.Err.Error())
	}

	if p.store != nil {
		src := filepath.Join(p.outputDir, "validation_images")
		prefix := fmt.Sprintf("validation_images/step_%d", results.Step)
		if err := p.store.UploadDir(ctx, p.bucket, prefix, src); err != nil {
			// Artifacts exist locally; a sync failure should not fail the run.
			slog.Error("error syncing validation images to object store", "run_id", payload.RunId, "error", err)
		}

		if payload.ValidationType == TypeBaseModel {
			benchSrc := filepath.Join(p.outputDir, "benchmarks")
			if err := p.store.UploadDir(ctx, p.bucket, "benchmarks", benchSrc); err != nil {
				slog.Error("error syncing benchmark snapshots to object store", "run_id", payload.RunId, "error", err)
			}
		}
	}

	return database.UpdateRunStatus(ctx, p.db, payload.RunId, database.JobCompleted)
}

func (p *Processor) ensureRunRecord(ctx context.Context, payload messaging.ValidationTaskPayload) error {
	run := database.ValidationRun{
		Id:              payload.RunId,
		GlobalStep:      payload.GlobalStep,
		Type:            payload.ValidationType,
		ModelFamily:     string(p.run.Family),
		Status:          database.JobQueued,
		ForceEvaluation: payload.ForceEvaluation,
		CreationTime:    time.Now().UTC(),
	}

	if err := p.db.WithContext(ctx).FirstOrCreate(&run, database.ValidationRun{Id: run.Id}).Error; err != nil {
		return fmt.Errorf("creating validation run record: %w", err)
	}
	return nil
}
