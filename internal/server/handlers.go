package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
	"github.com/SmitUplenchwar2687/Carelink/internal/service"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": st.Online,
		"time":   s.clock.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.Status())
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.Functions())
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "could not read request body")
		return
	}
	if len(body) > maxBodyBytes {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "request body too large")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		s.writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "request body must be JSON")
		return
	}

	out, err := s.svc.Invoke(r.Context(), CallerFrom(r.Context()), name, body)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrRateLimited):
		setRateLimitHeaders(w, out.Decision, s.clock.Now())
		s.writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "function quota exceeded")
		return
	case errors.Is(err, queue.ErrUnknownFunction), errors.Is(err, queue.ErrEmptyFunctionName):
		s.writeError(w, r, http.StatusNotFound, CodeFunctionNotFound, err.Error())
		return
	default:
		s.logger.Warn("function call failed", zap.String("function", name), zap.Error(err))
		s.writeError(w, r, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}

	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
	}
	s.writeJSON(w, r, status, out)
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.Queue().Pending())
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.Queue().DeadLetters())
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.Drain(r.Context())
	if errors.Is(err, queue.ErrDrainInProgress) {
		s.writeError(w, r, http.StatusConflict, CodeDrainInProgress, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, results)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Queue().Remove(id); err != nil {
		s.queueError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Queue().Requeue(id); err != nil {
		s.queueError(w, r, err)
		return
	}
	req, err := s.svc.Queue().Get(id)
	if err != nil {
		s.queueError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, req)
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Online == nil {
		s.writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, `body must be {"online": true|false}`)
		return
	}
	s.svc.SetOnline(r.Context(), *body.Online)
	s.writeJSON(w, r, http.StatusOK, s.svc.Status())
}

func (s *Server) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) queueError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, queue.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, CodeInternal, err.Error())
}
