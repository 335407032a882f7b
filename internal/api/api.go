package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tuner-backend/internal/database"
	"tuner-backend/internal/messaging"
	"tuner-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BackendService exposes the run registry over HTTP: submitting validation
// runs and browsing what past runs produced.
type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher) *BackendService {
	return &BackendService{db: db, publisher: publisher}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Get("/{run_id}/images", RestHandler(s.ListRunImages))
		r.Get("/{run_id}/images/{shortname}/{resolution}", s.ServeRunImage)
	})
}

func (s *BackendService) SubmitRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitRunRequest](r)
	if err != nil {
		return nil, err
	}

	if req.GlobalStep < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "global_step must not be negative")
	}

	validationType := req.ValidationType
	if validationType == "" {
		validationType = "intermediary"
	}

	ctx := r.Context()

	run := database.ValidationRun{
		Id:              uuid.New(),
		GlobalStep:      req.GlobalStep,
		Type:            validationType,
		Status:          database.JobQueued,
		ForceEvaluation: req.ForceEvaluation,
		CreationTime:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating validation run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create validation run entry")
	}

	payload := messaging.ValidationTaskPayload{
		RunId:           run.Id,
		GlobalStep:      req.GlobalStep,
		ValidationType:  validationType,
		ForceEvaluation: req.ForceEvaluation,
		SkipExecution:   req.SkipExecution,
	}
	if err := s.publisher.PublishValidationTask(ctx, payload); err != nil {
		slog.Error("error publishing validation task", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue validation task")
	}

	slog.Info("submitted validation run", "run_id", run.Id, "step", req.GlobalStep)
	return api.SubmitRunResponse{RunId: run.Id}, nil
}

type listRunsParams struct {
	Status string `schema:"status"`
	Type   string `schema:"type"`
	Limit  int    `schema:"limit"`
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listRunsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).
		Preload("Images").Preload("Errors").
		Order("creation_time desc")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var runs []database.ValidationRun
	if err := query.Find(&runs).Error; err != nil {
		slog.Error("error listing validation runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving validation runs")
	}

	resp := api.ListRunsResponse{Runs: make([]api.ValidationRun, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, convertRun(run))
	}
	return resp, nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.loadRun(r, runId)
	if err != nil {
		return nil, err
	}

	resp := api.GetRunResponse{Run: convertRun(*run)}
	for _, img := range run.Images {
		resp.Images = append(resp.Images, convertImage(img))
	}
	for _, runErr := range run.Errors {
		resp.Errors = append(resp.Errors, api.RunError{
			Shortname:  runErr.Shortname,
			Resolution: runErr.Resolution,
			Error:      runErr.Error,
			Timestamp:  runErr.Timestamp,
		})
	}
	return resp, nil
}

func (s *BackendService) ListRunImages(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	var images []database.ValidationImage
	if err := s.db.WithContext(r.Context()).Where("run_id = ?", runId).Find(&images).Error; err != nil {
		slog.Error("error listing validation images", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving validation images")
	}

	resp := make([]api.ValidationImage, 0, len(images))
	for _, img := range images {
		resp = append(resp, convertImage(img))
	}
	return resp, nil
}

// ServeRunImage streams the stored PNG for one prompt at one resolution. It
// bypasses RestHandler because the body is a file, not JSON.
func (s *BackendService) ServeRunImage(w http.ResponseWriter, r *http.Request) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var img database.ValidationImage
	err = s.db.WithContext(r.Context()).
		Where("run_id = ? AND shortname = ? AND resolution = ?", runId, chi.URLParam(r, "shortname"), chi.URLParam(r, "resolution")).
		First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "validation image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("error looking up validation image", "run_id", runId, "error", err)
		http.Error(w, "error retrieving validation image", http.StatusInternalServerError)
		return
	}

	http.ServeFile(w, r, img.Path)
}

func (s *BackendService) loadRun(r *http.Request, runId uuid.UUID) (*database.ValidationRun, error) {
	var run database.ValidationRun
	err := s.db.WithContext(r.Context()).
		Preload("Images").Preload("Errors").
		First(&run, "id = ?", runId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, CodedErrorf(http.StatusNotFound, "validation run not found")
	}
	if err != nil {
		slog.Error("error getting validation run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving validation run record")
	}
	return &run, nil
}

func convertRun(run database.ValidationRun) api.ValidationRun {
	out := api.ValidationRun{
		Id:           run.Id,
		GlobalStep:   run.GlobalStep,
		Type:         run.Type,
		ModelFamily:  run.ModelFamily,
		Status:       run.Status,
		CreationTime: run.CreationTime,
		ImageCount:   len(run.Images),
		ErrorCount:   len(run.Errors),
	}
	if run.StartTime.Valid {
		t := run.StartTime.Time
		out.StartTime = &t
	}
	if run.CompletionTime.Valid {
		t := run.CompletionTime.Time
		out.CompletionTime = &t
	}
	return out
}

func convertImage(img database.ValidationImage) api.ValidationImage {
	return api.ValidationImage{
		RunId:      img.RunId,
		Shortname:  img.Shortname,
		Resolution: img.Resolution,
		Prompt:     img.Prompt,
		Path:       img.Path,
		Luminance:  img.Luminance,
	}
}
