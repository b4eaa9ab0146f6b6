package proxy

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/caffeineduck/actionproxy/executor"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello World!"))
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	s.init(w, r, s.session)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.session)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	name := req.Lang
	if name == "" {
		name = s.cfg.Lang
	}
	lang, err := s.langs.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := s.exec.NewSession(lang, s.cfg.SessionOptions()...)
	if err != nil {
		http.Error(w, "failed to create session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	id := s.sessions.add(session)
	s.logger.Debug("session created", zap.String("session_id", id), zap.String("lang", lang.Name()))
	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.remove(chi.URLParam(r, "id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.init(w, r, session)
}

func (s *Server) handleSessionRun(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.run(w, r, session)
}

func (s *Server) init(w http.ResponseWriter, r *http.Request, session *executor.Session) {
	lang := session.Language().Name()

	code, err := decodeInit(r)
	if err != nil {
		observePhase("init", lang, false, 0)
		s.answer(w, r, "init", response{}, err)
		return
	}

	result := session.Init(r.Context(), code)
	observePhase("init", lang, result.OK(), result.Duration)
	s.logOutput(r, "init", result)
	s.answer(w, r, "init", response{OK: result.OK()}, result.Error)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, session *executor.Session) {
	lang := session.Language().Name()

	args, err := decodeRun(r)
	if err != nil {
		observePhase("run", lang, false, 0)
		s.answer(w, r, "run", response{}, err)
		return
	}

	result := session.Run(r.Context(), args)
	s.logOutput(r, "run", result)

	if result.Error != nil {
		observePhase("run", lang, false, result.Duration)
		s.answer(w, r, "run", response{}, result.Error)
		return
	}

	raw, err := encodeResult(result.Value)
	observePhase("run", lang, err == nil, result.Duration)
	if err != nil {
		s.answer(w, r, "run", response{}, executor.ResultError(err.Error()))
		return
	}
	s.answer(w, r, "run", response{OK: true, Result: raw}, nil)
}

// answer writes an init or run response. These always carry status 200;
// the outcome is in the OK field.
func (s *Server) answer(w http.ResponseWriter, r *http.Request, phase string, resp response, err error) {
	if err != nil {
		s.logger.Info(phase+" failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(executor.KindOf(err))),
			zap.Error(err),
		)
		if s.cfg.Diagnostics {
			resp.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logOutput(r *http.Request, phase string, result executor.Result) {
	if result.Output == "" {
		return
	}
	s.logger.Debug("captured output",
		zap.String("phase", phase),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("output", result.Output),
	)
}
