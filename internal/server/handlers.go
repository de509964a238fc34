package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"geosync/internal/geosync"
	"geosync/internal/model"
	"geosync/internal/multipart"
)

// Multipart field names of the wire protocol.
const (
	FieldChanges = "changes"
	FieldFile    = "file"
	FieldDiff    = "diff"
)

// DiffFieldName names the part carrying the changeset of a version.
func DiffFieldName(version int) string {
	return "v" + strconv.Itoa(version)
}

// ParseDiffFieldName is the inverse of DiffFieldName.
func ParseDiffFieldName(name string) (int, error) {
	if len(name) < 2 || name[0] != 'v' {
		return 0, fmt.Errorf("invalid changeset field %q", name)
	}
	v, err := strconv.Atoi(name[1:])
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid changeset field %q", name)
	}
	return v, nil
}

// Handlers serves the project API over a Store.
type Handlers struct {
	store     *Store
	auth      *Auth
	logger    geosync.Logger
	chunkSize int
}

// NewHandlers creates the API handlers.
func NewHandlers(store *Store, auth *Auth, logger geosync.Logger, chunkSize int) *Handlers {
	if chunkSize <= 0 {
		chunkSize = multipart.DefaultChunkSize
	}
	return &Handlers{store: store, auth: auth, logger: logger, chunkSize: chunkSize}
}

// Router returns the routes of the API.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.HandleFunc("/v1/project/{id}", h.HandleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/project/{id}", h.HandleInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/project/{id}/download", h.HandleDownload).Methods(http.MethodGet)
	r.HandleFunc("/v1/project/{id}/diffs", h.HandleDiffs).Methods(http.MethodGet)
	r.HandleFunc("/v1/project/{id}/push", h.HandlePush).Methods(http.MethodPost)
	return r
}

// authorize resolves the project of the request and checks access to it.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, write bool) (string, model.Permissions, bool) {
	id := mux.Vars(r)["id"]
	perm, err := h.auth.Permissions(r, id)
	if err == nil && write && !perm.Write {
		err = fmt.Errorf("%w: read-only access to project %s", geosync.ErrPermissionDenied, id)
	}
	if err != nil {
		h.writeError(w, err)
		return "", perm, false
	}
	return id, perm, true
}

// HandleCreate creates an empty project.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, perm, ok := h.authorize(w, r, true)
	if !ok {
		return
	}
	info, err := h.store.Create(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	info.Permissions = perm
	writeJSON(w, http.StatusCreated, info)
}

// HandleInfo returns the current state of a project.
func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	id, perm, ok := h.authorize(w, r, false)
	if !ok {
		return
	}
	info, err := h.store.Info(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	info.Permissions = perm
	writeJSON(w, http.StatusOK, info)
}

// HandleDownload streams the current content of one file.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.authorize(w, r, false)
	if !ok {
		return
	}
	p := r.URL.Query().Get("path")
	if err := validatePath(p); err != nil {
		h.writeError(w, err)
		return
	}
	_, body, err := h.store.Open(r.Context(), id, p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	field, err := multipart.SniffField(FieldFile, p, body)
	if err != nil {
		h.writeError(w, fmt.Errorf("reading %s: %w", p, err))
		return
	}
	h.writeMultipart(w, multipart.Fields(*field))
}

// HandleDiffs streams the changesets of a file after a version, one part
// per version in ascending order.
func (h *Handlers) HandleDiffs(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.authorize(w, r, false)
	if !ok {
		return
	}
	q := r.URL.Query()
	p := q.Get("path")
	if err := validatePath(p); err != nil {
		h.writeError(w, err)
		return
	}
	since, err := strconv.Atoi(q.Get("since"))
	if err != nil || since < 0 {
		h.writeError(w, fmt.Errorf("%w: invalid since %q", ErrBadRequest, q.Get("since")))
		return
	}
	refs, err := h.store.DiffChain(r.Context(), id, p, since)
	if err != nil {
		h.writeError(w, err)
		return
	}

	i := 0
	h.writeMultipart(w, multipart.FieldFunc(func() (*multipart.Field, error) {
		if i >= len(refs) {
			return nil, io.EOF
		}
		ref := refs[i]
		i++
		return &multipart.Field{
			Name:        DiffFieldName(ref.Version),
			Filename:    p,
			ContentType: "application/octet-stream",
			Body:        h.store.OpenContent(ref.Checksum),
		}, nil
	}))
}

// HandlePush commits a change set. The first part carries the manifest; the
// remaining parts carry file contents and changesets, named after the path
// they belong to.
func (h *Handlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	id, perm, ok := h.authorize(w, r, true)
	if !ok {
		return
	}
	boundary, err := multipart.ParseBoundary(r.Header.Get("Content-Type"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	mr := multipart.NewReaderSize(r.Body, boundary, h.chunkSize)

	part, err := mr.NextPart()
	if err != nil || part.Name != FieldChanges {
		h.writeError(w, fmt.Errorf("%w: push must start with the %s part", ErrBadRequest, FieldChanges))
		return
	}
	data, err := part.ReadAll()
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: reading manifest: %v", ErrBadRequest, err))
		return
	}
	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		h.writeError(w, fmt.Errorf("%w: decoding manifest: %v", ErrBadRequest, err))
		return
	}

	next := func() (*Upload, error) {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		switch part.Name {
		case FieldFile:
			return &Upload{Path: part.Filename, Body: part}, nil
		case FieldDiff:
			return &Upload{Diff: true, Path: part.Filename, Body: part}, nil
		}
		return nil, fmt.Errorf("%w: unexpected part %q", ErrBadRequest, part.Name)
	}
	info, err := h.store.Push(r.Context(), id, &m, next)
	if err != nil {
		h.writeError(w, err)
		return
	}
	info.Permissions = perm
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) writeMultipart(w http.ResponseWriter, src multipart.FieldSource) {
	enc := multipart.NewEncoder(src)
	defer enc.Close()
	w.Header().Set("Content-Type", enc.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, enc); err != nil {
		// The status is already sent; the client sees a truncated stream.
		h.logger.Error("streaming response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	} else {
		h.logger.Debug("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Code: code, Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
