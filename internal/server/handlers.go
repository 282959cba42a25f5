package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

const maxBodyBytes = 1 << 20

type entityResponse struct {
	Type   models.EntityType `json:"type"`
	ID     string            `json:"id"`
	Status string            `json:"status"`
}

type recordResponse struct {
	models.EmbeddingRecord
	Vector []float32 `json:"vector,omitempty"`
}

type listResponse struct {
	Records []models.EmbeddingRecord `json:"records"`
	Count   int                      `json:"count"`
	Offset  int                      `json:"offset"`
	Limit   int                      `json:"limit"`
}

func (s *Server) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	t, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	body, err := readBody(w, r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	e, err := models.DecodeEntity(t, id, body)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	_, getErr := s.store.Get(t, id)
	created := kerr.IsNotFound(getErr)
	s.logger.Debug("upsert entity request", zap.String("type", string(t)), zap.String("id", id), zap.Bool("created", created))
	if err := s.sink.EntitySaved(r.Context(), e, created); err != nil {
		s.respondErr(w, err)
		return
	}
	status, word := http.StatusOK, "updated"
	if created {
		status, word = http.StatusCreated, "created"
	}
	s.respondJSON(w, status, entityResponse{Type: t, ID: id, Status: word})
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	t, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	var fields struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		s.respondErr(w, kerr.Wrap(err, kerr.CodeServerRequestInvalidInput, "body must be a JSON object with a string id"))
		return
	}
	id := fields.ID
	if id == "" {
		id = uuid.NewString()
	}
	e, err := models.DecodeEntity(t, id, body)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("create entity request", zap.String("type", string(t)), zap.String("id", id))
	if err := s.sink.EntityCreated(r.Context(), e); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, entityResponse{Type: t, ID: id, Status: "created"})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	t, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(t, id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	resp := recordResponse{EmbeddingRecord: rec}
	if withVector, _ := strconv.ParseBool(r.URL.Query().Get("vector")); withVector {
		if resp.Vector, err = s.store.Vector(t, id); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	t, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete entity request", zap.String("type", string(t)), zap.String("id", id))
	if err := s.sink.EntityDeleted(r.Context(), t, id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entityResponse{Type: t, ID: id, Status: "deleted"})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var t models.EntityType
	if raw := q.Get("type"); raw != "" {
		var err error
		if t, err = models.ParseEntityType(raw); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		s.respondErr(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.respondErr(w, err)
		return
	}
	records, err := s.store.List(r.Context(), t, offset, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if records == nil {
		records = []models.EmbeddingRecord{}
	}
	s.respondJSON(w, http.StatusOK, listResponse{Records: records, Count: len(records), Offset: offset, Limit: limit})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&query); err != nil {
		s.respondErr(w, kerr.Wrap(err, kerr.CodeServerRequestInvalidInput, "invalid request body"))
		return
	}
	if err := query.Validate(s.config.Search.DefaultK, s.config.Search.MaxK); err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K), zap.String("mode", string(query.Mode)))
	start := time.Now()
	var (
		hits []models.SearchHit
		err  error
	)
	switch {
	case query.Mode == models.SearchKeyword:
		hits, err = s.store.KeywordSearch(r.Context(), query.Query, query.K, &keyword.SearchOptions{FuzzyEnabled: true})
	case len(query.Vector) > 0:
		hits, err = s.store.Search(r.Context(), query.Vector, query.K)
	default:
		hits, err = s.store.Query(r.Context(), query.Query, query.K)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{
		Hits:      hits,
		Total:     len(hits),
		Mode:      query.Mode,
		Query:     query.Query,
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"store": s.store.Stats(),
	}
	if s.version != "" {
		resp["version"] = s.version
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"default_k":            s.config.Search.DefaultK,
			"max_k":                s.config.Search.MaxK,
			"catalog_path":         s.config.Storage.CatalogPath,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeServerRequestInvalidInput, "invalid request body")
	}
	return body, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, kerr.New(kerr.CodeServerRequestInvalidInput, "invalid query parameter",
			kerr.Field("param", name), kerr.Field("value", raw))
	}
	return n, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := kerr.HTTPStatus(err)
	code := kerr.CodeOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", string(code)), zap.Error(err))
		if code == "" {
			code = kerr.CodeServerInternalFailure
		}
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
}
