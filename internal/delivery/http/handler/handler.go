package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/user/content-audit/internal/accounts"
	"github.com/user/content-audit/internal/audit"
	"github.com/user/content-audit/internal/delivery/http/request"
	"github.com/user/content-audit/internal/delivery/http/response"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/internal/worker"
	"go.uber.org/zap"
)

type Handler struct {
	engine     *audit.Engine
	snapshots  repository.SnapshotRepository
	content    repository.ContentRepository
	posts      repository.PostRepository
	accounts   *accounts.Manager
	classifier worker.Reclassifier
	logger     *zap.Logger
}

func NewHandler(engine *audit.Engine, snapshots repository.SnapshotRepository, content repository.ContentRepository, posts repository.PostRepository, acct *accounts.Manager, classifier worker.Reclassifier, logger *zap.Logger) *Handler {
	return &Handler{
		engine:     engine,
		snapshots:  snapshots,
		content:    content,
		posts:      posts,
		accounts:   acct,
		classifier: classifier,
		logger:     logger,
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "ok"})
}

// HandleStartAudit creates (or with force, restarts) the new snapshot and
// enables stepping. The audit itself progresses on cron ticks.
func (h *Handler) HandleStartAudit(w http.ResponseWriter, r *http.Request) {
	var req request.StartAuditRequest
	if err := h.decode(r, &req); err != nil {
		h.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.engine.Start(r.Context(), req.Force)
	if err != nil {
		h.logger.Error("audit start failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.StartAuditResponse{
		SnapshotID: snap.ID,
		State:      string(entity.AuditRunning),
	})
}

// HandleStep triggers one engine pass immediately instead of waiting for
// the next cron tick. Safe to call while a tick runs; the lock makes the
// loser a no-op.
func (h *Handler) HandleStep(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Step(r.Context())
	if err != nil {
		h.logger.Error("audit step failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StepResponse{State: string(state)})
}

func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(r.Context()); err != nil {
		h.logger.Error("audit resume failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "resumed"})
}

func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(r.Context()); err != nil {
		h.logger.Error("audit stop failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "stopped"})
}

func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.engine.Progress(r.Context())
	if err != nil {
		h.logger.Error("progress read failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

// HandleContent lists the audited rows. ?snapshot=new selects the
// in-progress generation; the default is the promoted one.
func (h *Handler) HandleContent(w http.ResponseWriter, r *http.Request) {
	var (
		snap *entity.Snapshot
		err  error
	)
	if r.URL.Query().Get("snapshot") == "new" {
		snap, err = h.snapshots.New(r.Context())
	} else {
		snap, err = h.snapshots.Current(r.Context())
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSON(w, http.StatusOK, []response.ContentRowResponse{})
			return
		}
		h.logger.Error("snapshot lookup failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	rows, err := h.content.Rows(r.Context(), snap.ID)
	if err != nil {
		h.logger.Error("content read failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]response.ContentRowResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, response.ContentRowResponse{
			SnapshotID:        row.SnapshotID,
			PostID:            row.PostID,
			Action:            string(row.Action),
			TotalMonth:        row.TotalMonth,
			OrganicMonth:      row.OrganicMonth,
			Backlinks:         row.Backlinks,
			Position:          row.Position,
			Keyword:           row.Keyword,
			KeywordManual:     row.KeywordManual,
			IsApprovedKeyword: row.IsApprovedKeyword,
			Updated:           row.Updated,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleUpsertPost(w http.ResponseWriter, r *http.Request) {
	var req request.UpsertPostRequest
	if err := h.decode(r, &req); err != nil || req.Path == "" {
		h.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	post := &entity.Post{
		Path:        req.Path,
		Title:       req.Title,
		PublishedAt: req.PublishedAt,
		Excluded:    req.Excluded,
	}
	id, err := h.posts.Upsert(r.Context(), post)
	if err != nil {
		h.logger.Error("post upsert failed", zap.String("path", req.Path), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.PostResponse{
		ID:          id,
		Path:        req.Path,
		Title:       req.Title,
		PublishedAt: req.PublishedAt,
		Excluded:    req.Excluded,
	})
}

// HandleDeletePost removes a post and every audit row referencing it.
func (h *Handler) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.content.DeleteForPost(r.Context(), id); err != nil {
		h.logger.Error("content cleanup failed", zap.Int64("post_id", id), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.posts.Delete(r.Context(), id); err != nil {
		h.logger.Error("post delete failed", zap.Int64("post_id", id), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "deleted"})
}

// HandleExcludePost flips the manual exclusion flag and parks the post's
// in-progress row accordingly.
func (h *Handler) HandleExcludePost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req request.ExcludePostRequest
	if err := h.decode(r, &req); err != nil {
		h.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.posts.SetExcluded(r.Context(), id, req.Excluded); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSONError(w, "post not found", http.StatusNotFound)
			return
		}
		h.logger.Error("post exclusion failed", zap.Int64("post_id", id), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// The in-progress snapshot reflects the flag immediately; a restored
	// post re-enters at the scope stage.
	if snap, err := h.snapshots.New(r.Context()); err == nil {
		action := entity.ActionAnalyzingInitial
		if req.Excluded {
			action = entity.ActionExcluded
		}
		if err := h.content.SetAction(r.Context(), snap.ID, id, action); err != nil && !errors.Is(err, repository.ErrNotFound) {
			h.logger.Error("row exclusion update failed", zap.Int64("post_id", id), zap.Error(err))
		}
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "ok"})
}

// HandleSetKeyword stores a manual keyword override on the active
// snapshot's row and reclassifies it (and, through the classifier, any
// sibling rows competing for the same keyword).
func (h *Handler) HandleSetKeyword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "postID")
	if !ok {
		return
	}
	var req request.SetKeywordRequest
	if err := h.decode(r, &req); err != nil {
		h.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.snapshots.New(r.Context())
	if errors.Is(err, repository.ErrNotFound) {
		snap, err = h.snapshots.Current(r.Context())
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSONError(w, "no audit snapshot exists", http.StatusConflict)
			return
		}
		h.logger.Error("snapshot lookup failed", zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.content.SetKeywordManual(r.Context(), snap.ID, id, req.Keyword, req.Approved); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSONError(w, "content row not found", http.StatusNotFound)
			return
		}
		h.logger.Error("keyword update failed", zap.Int64("post_id", id), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.classifier.Reclassify(r.Context(), snap.ID, id); err != nil {
		h.logger.Error("reclassification failed", zap.Int64("post_id", id), zap.Error(err))
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "ok"})
}

func (h *Handler) HandleConnectAccount(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.pathProvider(w, r)
	if !ok {
		return
	}
	var req request.ConnectAccountRequest
	if err := h.decode(r, &req); err != nil || req.Token == "" {
		h.writeJSONError(w, "token is required", http.StatusBadRequest)
		return
	}
	if err := h.accounts.Connect(r.Context(), provider, req.Token); err != nil {
		h.logger.Error("account connect failed", zap.String("provider", string(provider)), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "connected"})
}

func (h *Handler) HandleDisconnectAccount(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.pathProvider(w, r)
	if !ok {
		return
	}
	if err := h.accounts.Disconnect(r.Context(), provider); err != nil {
		h.logger.Error("account disconnect failed", zap.String("provider", string(provider)), zap.Error(err))
		h.writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StatusResponse{Status: "disconnected"})
}

func (h *Handler) decode(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSONError(w, "invalid post id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// pathProvider accepts only the two connectable accounts; the Google
// account covers both Google APIs.
func (h *Handler) pathProvider(w http.ResponseWriter, r *http.Request) (entity.Provider, bool) {
	switch p := entity.Provider(chi.URLParam(r, "provider")); p {
	case entity.ProviderAhrefs, entity.ProviderGoogle:
		return p, true
	default:
		h.writeJSONError(w, "unknown provider", http.StatusBadRequest)
		return "", false
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("response write failed", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
