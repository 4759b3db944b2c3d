package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/conversation"
	"github.com/kalambet/sangam/internal/extract"
	"github.com/kalambet/sangam/internal/ingest"
	"github.com/kalambet/sangam/internal/pipeline"
	"github.com/kalambet/sangam/internal/proxy"
	"github.com/kalambet/sangam/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultMaxUploadSize = 50 << 20

// ContentService is the conversation and content surface the API exposes.
// Implemented by conversation.Service.
type ContentService interface {
	Ask(ctx context.Context, owner, name, question string) (pipeline.Result, error)
	History(ctx context.Context, owner, name string) ([]storage.Turn, error)
	ClearHistory(ctx context.Context, owner, name string) (int, error)
	List(ctx context.Context, owner string) ([]conversation.Item, error)
	Stat(ctx context.Context, owner, name string) (conversation.Item, error)
	Source(ctx context.Context, owner, name string) ([]byte, artifact.Header, error)
	Table(ctx context.Context, owner, name string) (*extract.Table, error)
	Delete(ctx context.Context, owner, name string) error
	Summarize(ctx context.Context, owner, name string) (string, error)
}

// Uploader accepts new content. Implemented by ingest.Ingester.
type Uploader interface {
	Submit(ctx context.Context, u ingest.Upload) (ingest.Receipt, error)
}

// JobReader looks up background jobs. Implemented by storage.Store.
type JobReader interface {
	GetJob(id string) (storage.Job, error)
}

// ModelLister lists the models of the generation backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]proxy.Model, error)
}

type AppDeps struct {
	Content       ContentService
	Uploader      Uploader
	Jobs          JobReader
	Models        ModelLister // optional; /models answers 503 when nil
	Token         string
	MaxUploadSize int64
}

// NewAppHandler returns the REST API. Every route but /health requires the
// bearer token and an owner header.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = defaultMaxUploadSize
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/models", handleModels(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner)

			r.Post("/upload/document", handleUploadFile(deps, artifact.KindDocument))
			r.Post("/upload/table", handleUploadFile(deps, artifact.KindTable))
			r.Post("/upload/transcript", handleUploadTranscript(deps))

			r.Get("/files", handleListFiles(deps))
			r.Get("/files/{name}", handleGetFile(deps))
			r.Delete("/files/{name}", handleDeleteFile(deps))
			r.Get("/files/{name}/source", handleGetSource(deps))
			r.Get("/files/{name}/table", handleGetTable(deps))
			r.Post("/files/{name}/summary", handleSummary(deps))

			r.Post("/chat/{name}", handleChat(deps))
			r.Get("/chat/{name}/history", handleHistory(deps))
			r.Delete("/chat/{name}/history", handleClearHistory(deps))
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "model listing is not available")
			return
		}
		models, err := deps.Models.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "upstream_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, proxy.ModelList{Object: "list", Data: models})
	}
}

type jobView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, jobView{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

func handleUploadFile(deps AppDeps, kind artifact.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", deps.MaxUploadSize)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		receipt, err := deps.Uploader.Submit(r.Context(), ingest.Upload{
			Owner:       ownerFrom(r),
			Kind:        kind,
			Name:        filepath.Base(header.Filename),
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			serviceError(w, "upload", err)
			return
		}
		writeJSON(w, http.StatusAccepted, receipt)
	}
}

type transcriptRequest struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

func handleUploadTranscript(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadSize)
		defer r.Body.Close()

		var req transcriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		receipt, err := deps.Uploader.Submit(r.Context(), ingest.Upload{
			Owner:     ownerFrom(r),
			Kind:      artifact.KindTranscript,
			Reference: req.URL,
			Data:      []byte(req.Content),
		})
		if err != nil {
			serviceError(w, "upload", err)
			return
		}
		writeJSON(w, http.StatusAccepted, receipt)
	}
}

func handleListFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Content.List(r.Context(), ownerFrom(r))
		if err != nil {
			serviceError(w, "list files", err)
			return
		}
		if items == nil {
			items = []conversation.Item{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleGetFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Content.Stat(r.Context(), ownerFrom(r), nameParam(r))
		if err != nil {
			serviceError(w, "get file", err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := nameParam(r)
		if _, err := deps.Content.Stat(r.Context(), ownerFrom(r), name); err != nil {
			serviceError(w, "delete file", err)
			return
		}
		if err := deps.Content.Delete(r.Context(), ownerFrom(r), name); err != nil {
			serviceError(w, "delete file", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetSource(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := nameParam(r)
		b, h, err := deps.Content.Source(r.Context(), ownerFrom(r), name)
		if err != nil {
			serviceError(w, "get source", err)
			return
		}
		ct := h.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Write(b)
	}
}

type tableView struct {
	Shape   [2]int     `json:"shape"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func handleGetTable(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Content.Table(r.Context(), ownerFrom(r), nameParam(r))
		if err != nil {
			serviceError(w, "get table", err)
			return
		}
		writeJSON(w, http.StatusOK, tableView{Shape: t.Shape(), Columns: t.Columns, Rows: t.Rows})
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := nameParam(r)
		summary, err := deps.Content.Summarize(r.Context(), ownerFrom(r), name)
		if err != nil {
			serviceError(w, "summary", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "summary": summary})
	}
}

type chatRequest struct {
	Question string `json:"question"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Content.Ask(r.Context(), ownerFrom(r), nameParam(r), req.Question)
		if err != nil {
			serviceError(w, "chat", err)
			return
		}
		if res.SourceChunks == nil {
			res.SourceChunks = []pipeline.SourceChunk{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type turnView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := deps.Content.History(r.Context(), ownerFrom(r), nameParam(r))
		if err != nil {
			serviceError(w, "history", err)
			return
		}
		out := make([]turnView, len(turns))
		for i, t := range turns {
			out[i] = turnView{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleClearHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Content.ClearHistory(r.Context(), ownerFrom(r), nameParam(r))
		if err != nil {
			serviceError(w, "clear history", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": n})
	}
}

// nameParam returns the unescaped {name} path segment.
func nameParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}
