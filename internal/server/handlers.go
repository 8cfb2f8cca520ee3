package server

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"speakerscribe/internal/deps"
	"speakerscribe/internal/fileutil"
	"speakerscribe/internal/jobs"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/output"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/services"
)

const (
	uploadField       = "audio"
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", s.cfg.Server.MaxUploadMB))
			return
		}
		s.writeError(w, http.StatusBadRequest, "expected multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing audio file field \""+uploadField+"\"")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(s.cfg.Server.AllowedExtensions, ext) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q (allowed: %s)", ext, strings.Join(s.cfg.Server.AllowedExtensions, ", ")))
		return
	}

	opts, err := s.formOptions(r.MultipartForm)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: services.Kind(err)})
		return
	}

	job := jobs.NewJob(s.cfg, header.Filename, opts)
	if err := s.storeUpload(job, file, limit); err != nil {
		if errors.Is(err, fileutil.ErrTooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", s.cfg.Server.MaxUploadMB))
			return
		}
		logging.WithContext(r.Context(), s.logger).Error("failed to store upload", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	if err := s.runner.Submit(context.WithoutCancel(r.Context()), job); err != nil {
		_ = fileutil.RemoveAll(filepath.Dir(job.UploadPath))
		logging.WithContext(r.Context(), s.logger).Error("failed to submit job", logging.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "failed to queue job: "+err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("input", header.Filename),
		logging.Int64("bytes", header.Size),
		logging.String("device", job.Device),
	)

	stored, err := s.store.Get(r.Context(), job.ID)
	if err != nil {
		stored = job
	}
	s.writeJSON(w, http.StatusAccepted, JobResponse{Job: newJobView(stored)})
}

func (s *Server) storeUpload(job *jobs.Job, file multipart.File, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(job.UploadPath), 0o755); err != nil {
		return err
	}
	if _, err := fileutil.WriteReaderAtomic(job.UploadPath, file, 0o644, limit); err != nil {
		_ = fileutil.RemoveAll(filepath.Dir(job.UploadPath))
		return err
	}
	return nil
}

// formOptions overlays the multipart form fields on the configured defaults.
func (s *Server) formOptions(form *multipart.Form) (pipeline.Options, error) {
	opts := pipeline.OptionsFromConfig(s.cfg)
	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	badField := func(name, v string) error {
		return services.Wrap(services.ErrInput, "options", "parse", fmt.Sprintf("%s must be an integer (got %q)", name, v), nil)
	}
	intField := func(name string) (*int, error) {
		v := value(name)
		if v == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, badField(name, v)
		}
		return &n, nil
	}

	if v := value("model_size"); v != "" {
		opts.ModelSize = v
	}
	if v := value("language"); v != "" {
		opts.Language = v
	}
	if v := value("device"); v != "" {
		opts.Device = v
	}
	if v := value("compute_type"); v != "" {
		opts.ComputeType = v
	}
	counts := make(map[string]*int, 4)
	for _, name := range []string{"batch_size", "num_speakers", "min_speakers", "max_speakers"} {
		n, err := intField(name)
		if err != nil {
			return pipeline.Options{}, err
		}
		counts[name] = n
	}
	if n := counts["batch_size"]; n != nil {
		opts.BatchSize = *n
	}
	opts.OverrideSpeakerCounts(counts["num_speakers"], counts["min_speakers"], counts["max_speakers"])
	if formBool(value("no_corrections")) {
		opts.Corrections = false
	}
	if formBool(value("no_diarization")) {
		opts.Diarize = false
	}
	if err := opts.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	return opts, nil
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b || v == "on"
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		st := jobs.Status(strings.TrimSpace(value))
		if st == "" {
			continue
		}
		if !st.Valid() {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, st)
	}
	list, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := JobListResponse{Jobs: make([]JobView, 0, len(list))}
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, newJobView(job))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, JobResponse{Job: newJobView(job)})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	path, ok := s.outputPath(w, job, output.FormatText)
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "transcript file missing")
		return
	}
	s.writeJSON(w, http.StatusOK, TranscriptResponse{ID: job.ID, Transcript: string(data)})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	format, err := output.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	path, ok := s.outputPath(w, job, format)
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "result file missing")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Remove(r.Context(), id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job removed", logging.String(logging.FieldJobID, id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Jobs: map[string]int{}}
	list, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	for _, st := range []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed} {
		resp.Jobs[string(st)] = 0
	}
	for _, job := range list {
		resp.Jobs[string(job.Status)]++
	}
	if s.deps != nil {
		resp.Dependencies = s.deps(r.Context())
		if len(deps.MissingRequired(resp.Dependencies)) > 0 {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return nil, false
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return job, true
}

// outputPath resolves a finished job's file. Unfinished jobs get 409 so
// partial results are never served.
func (s *Server) outputPath(w http.ResponseWriter, job *jobs.Job, format output.Format) (string, bool) {
	if job.Status != jobs.StatusSucceeded {
		s.writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: fmt.Sprintf("job is %s; results are available once it succeeds", job.Status),
			Kind:  job.ErrorKind,
		})
		return "", false
	}
	path, ok := job.Outputs[string(format)]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no %s output for job", format))
		return "", false
	}
	rel, err := filepath.Rel(job.OutputDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		s.writeError(w, http.StatusNotFound, "result outside job directory")
		return "", false
	}
	return path, true
}
