package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/bank"
	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "OCS answer API",
		"version": "1.0.0",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "api": "answer"})
}

// searchItem is one entry of the OCS search envelope.
type searchItem struct {
	Question     string `json:"question"`
	QuestionType string `json:"question_type"`
	Options      string `json:"options"`
	Answer       string `json:"answer"`
}

type searchResponse struct {
	Code    int          `json:"code"`
	Results []searchItem `json:"results"`
}

type searchBody struct {
	Question string `json:"question"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Options  string `json:"options"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var in searchBody
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
			s.searchFailed(w, http.StatusBadRequest)
			return
		}
	default:
		q := r.URL.Query()
		in.Question = firstNonEmpty(q.Get("q"), q.Get("question"), q.Get("title"))
		in.Type = q.Get("type")
		in.Options = q.Get("options")
	}
	if in.Question == "" {
		in.Question = in.Title
	}

	req := model.NewRequest(in.Question, model.ParseQuestionType(in.Type), normalize.CleanText(in.Options))
	out, err := s.opts.Resolver.Resolve(r.Context(), req)
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		s.searchFailed(w, http.StatusBadRequest)
		return
	case err != nil:
		zap.L().Warn("server: resolve failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		s.searchFailed(w, http.StatusOK)
		return
	case !out.Found:
		s.searchFailed(w, http.StatusOK)
		return
	}

	res := out.Result
	writeJSON(w, http.StatusOK, searchResponse{
		Code: s.opts.SuccessCode,
		Results: []searchItem{{
			Question:     res.Question,
			QuestionType: string(res.Type),
			Options:      res.Options,
			Answer:       res.Answer,
		}},
	})
}

func (s *Server) searchFailed(w http.ResponseWriter, status int) {
	writeJSON(w, status, searchResponse{Code: s.opts.ErrorCode, Results: []searchItem{}})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Banks == nil || s.opts.Banks.Len() == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "error",
			"message":    "no question banks configured",
			"configured": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"message":        "question banks configured",
		"configured":     true,
		"count":          s.opts.Banks.Len(),
		"question_banks": s.opts.Banks.Statuses(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Resolver.InvalidateCache(r.Context()); err != nil {
		zap.L().Error("server: clear cache", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "cache clear failed"})
		return
	}
	zap.L().Info("server: cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "cache cleared"})
}

func (s *Server) handleConfigExample(example func() []bank.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "example": example()})
	}
}

func (s *Server) manualDisabled(w http.ResponseWriter) bool {
	if s.opts.Manual != nil {
		return false
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "manual bank disabled"})
	return true
}

func (s *Server) handleManualList(w http.ResponseWriter, _ *http.Request) {
	if s.manualDisabled(w) {
		return
	}
	entries := s.opts.Manual.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"count":   len(entries),
		"entries": entries,
		"issues":  s.opts.Manual.Issues(),
	})
}

type manualBody struct {
	Question string `json:"question"`
	Type     string `json:"type"`
	Answer   string `json:"answer"`
	Note     string `json:"note"`
}

func (s *Server) handleManualAdd(w http.ResponseWriter, r *http.Request) {
	if s.manualDisabled(w) {
		return
	}
	var in manualBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(in.Question) == "" || strings.TrimSpace(in.Answer) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "question and answer are required"})
		return
	}
	var qtype model.QuestionType
	if in.Type != "" {
		if qtype = model.ParseQuestionType(in.Type); qtype == model.TypeUnknown {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "unknown type " + in.Type})
			return
		}
	}

	e := manual.Entry{Question: in.Question, Type: qtype, Answer: in.Answer, Note: in.Note}
	if err := s.opts.Manual.Add(r.Context(), e); err != nil {
		zap.L().Error("server: manual add", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "could not save entry"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "count": s.opts.Manual.Len()})
}

func (s *Server) handleManualRemove(w http.ResponseWriter, r *http.Request) {
	if s.manualDisabled(w) {
		return
	}
	q := r.URL.Query()
	question := firstNonEmpty(q.Get("q"), q.Get("question"))
	if strings.TrimSpace(question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "question is required"})
		return
	}
	var qtype model.QuestionType
	if t := q.Get("type"); t != "" {
		qtype = model.ParseQuestionType(t)
	}
	n, err := s.opts.Manual.Remove(r.Context(), question, qtype)
	if err != nil {
		zap.L().Error("server: manual remove", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "could not remove entry"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": n})
}
