// Package server exposes the ask pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/ledger"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/metrics"
	"github.com/statline-ai/statline/pkg/models"
)

const (
	maxRequestBody = 64 << 10
	// statusClientClosed is the non-standard status logged when the caller
	// goes away before the answer is ready.
	statusClientClosed = 499
)

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, text, modelPreference string, onChunk func(string)) (models.Answer, error)
}

// LedgerReader reports running generation costs.
type LedgerReader interface {
	Snapshot() ledger.Snapshot
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Query  string `json:"query"`
	Model  string `json:"model,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// Server is the statline HTTP API.
type Server struct {
	listen string
	asker  Asker
	ledger LedgerReader
	mux    *http.ServeMux
	logger *zap.Logger
}

// New creates a Server listening on listen.
func New(listen string, asker Asker, l LedgerReader, logger *zap.Logger) *Server {
	s := &Server{
		listen: listen,
		asker:  asker,
		ledger: l,
		mux:    http.NewServeMux(),
		logger: logging.OrNop(logger),
	}
	s.mux.HandleFunc("/v1/ask", s.handleAsk)
	s.mux.HandleFunc("/v1/ledger", s.handleLedger)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("statline listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, errs.CategoryInvalidInput, "method not allowed")
		return
	}

	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errs.CategoryInvalidInput, "invalid request body")
		return
	}

	if req.Stream {
		s.streamAsk(w, r, req)
		return
	}

	ans, err := s.asker.Ask(r.Context(), req.Query, req.Model, nil)
	if err != nil {
		s.writeAskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// streamAsk answers as server-sent events: a "chunk" event per piece of
// generated text, then one "answer" or "error" event.
func (s *Server) streamAsk(w http.ResponseWriter, r *http.Request, req AskRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, errs.CategoryInternalFailure, "streaming unsupported")
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	ans, err := s.asker.Ask(r.Context(), req.Query, req.Model, func(chunk string) {
		start()
		writeEvent(w, "chunk", map[string]string{"text": chunk})
		flusher.Flush()
	})
	if err != nil && !started {
		s.writeAskError(w, err)
		return
	}
	start()
	if err != nil {
		s.logAskError(err)
		writeEvent(w, "error", errorBody(errs.CategoryOf(err), errs.CodeOf(err), err.Error()))
	} else {
		writeEvent(w, "answer", ans)
	}
	flusher.Flush()
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, errs.CategoryInvalidInput, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeAskError(w http.ResponseWriter, err error) {
	s.logAskError(err)
	cat := errs.CategoryOf(err)
	body := errorBody(cat, errs.CodeOf(err), err.Error())
	writeJSON(w, statusFor(cat), body)
}

func (s *Server) logAskError(err error) {
	cat := errs.CategoryOf(err)
	if cat == errs.CategoryInvalidInput || cat == errs.CategoryCancelled {
		s.logger.Debug("ask rejected", zap.String("category", string(cat)), zap.Error(err))
		return
	}
	s.logger.Error("ask failed", zap.String("category", string(cat)), zap.String("code", errs.CodeOf(err)), zap.Error(err))
}

// statusFor maps an error category to an HTTP status.
func statusFor(cat errs.Category) int {
	switch cat {
	case errs.CategoryInvalidInput:
		return http.StatusBadRequest
	case errs.CategoryBudgetExceeded:
		return http.StatusTooManyRequests
	case errs.CategoryGenerationTransient, errs.CategoryUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case errs.CategoryGenerationPermanent:
		return http.StatusBadGateway
	case errs.CategoryCancelled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func errorBody(cat errs.Category, code, message string) apiError {
	var e apiError
	e.Error.Message = message
	e.Error.Type = string(cat)
	e.Error.Code = code
	return e
}

func writeJSONError(w http.ResponseWriter, status int, cat errs.Category, message string) {
	writeJSON(w, status, errorBody(cat, "", message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":{"message":%q}}`, err.Error()))
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
