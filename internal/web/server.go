// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"docguard/internal/apperr"
	"docguard/internal/detector"
	"docguard/internal/engine"
	"docguard/internal/observability"
	"docguard/internal/version"

	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 32 << 20

// WebServer exposes the engine over HTTP
type WebServer struct {
	addr     string
	engine   *engine.Engine
	observer *observability.Observer
	server   *http.Server
}

// DocumentRequest is one document in a request body
type DocumentRequest struct {
	ID             string            `json:"id"`
	Text           string            `json:"text"`
	Identities     []string          `json:"identities,omitempty"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`
}

func (d DocumentRequest) document() detector.Document {
	return detector.Document{
		ID:             d.ID,
		Text:           d.Text,
		Identities:     d.Identities,
		SourceMetadata: d.SourceMetadata,
	}
}

// AnalyzeRequest is the body of a batch analysis
type AnalyzeRequest struct {
	engine.RunRequest
	Documents []DocumentRequest `json:"documents"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error"`

	// RunID names a run left open for POST /runs/{id}/finalize
	RunID string `json:"run_id,omitempty"`
}

// NewWebServer creates a server for eng listening on addr
func NewWebServer(addr string, eng *engine.Engine, observer *observability.Observer) *WebServer {
	if observer == nil {
		observer = observability.Nop()
	}
	return &WebServer{addr: addr, engine: eng, observer: observer.Named("web")}
}

// Handler returns the routed handler
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", ws.handleHealth)
	mux.HandleFunc("POST /analyze", ws.handleAnalyze)

	mux.HandleFunc("GET /runs", ws.handleListRuns)
	mux.HandleFunc("POST /runs", ws.handleOpenRun)
	mux.HandleFunc("POST /runs/{id}/documents", ws.handleSubmit)
	mux.HandleFunc("POST /runs/{id}/finalize", ws.handleFinalize)
	mux.HandleFunc("DELETE /runs/{id}", ws.handleAbort)

	mux.HandleFunc("GET /apps", ws.handleListApps)
	mux.HandleFunc("GET /apps/{app}", ws.handleMetadata)
	mux.HandleFunc("DELETE /apps/{app}", ws.handleReset)

	mux.HandleFunc("GET /report/{app}", ws.handleReportJSON)
	mux.HandleFunc("GET /report/{app}/pdf", ws.handleReportPDF)
	return ws.logRequests(mux)
}

// createSecureServer creates an HTTP server with timeouts
func (ws *WebServer) createSecureServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ws.addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (ws *WebServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", ws.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", ws.addr, err)
	}
	return ws.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled
func (ws *WebServer) Serve(ctx context.Context, listener net.Listener) error {
	ws.server = ws.createSecureServer(ws.Handler())
	ws.observer.Logger().Info("server started", zap.String("addr", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ws.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		<-errCh
		ws.observer.Logger().Info("server stopped")
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (ws *WebServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		ws.observer.Logger().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Full()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"service":     "docguard",
		"version":     info["version"],
		"build_info":  info,
		"recognizers": ws.engine.Recognizers(),
	})
}

func (ws *WebServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !ws.decode(w, r, &req) {
		return
	}
	docs := make([]detector.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = d.document()
	}

	result, err := ws.engine.AnalyzeRun(r.Context(), req.RunRequest, docs)
	if err != nil {
		resp := ws.errorResponse(err)
		if result != nil {
			resp.RunID = result.Run.RunID
		}
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (ws *WebServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": ws.engine.OpenRuns()})
}

func (ws *WebServer) handleOpenRun(w http.ResponseWriter, r *http.Request) {
	var req engine.RunRequest
	if !ws.decode(w, r, &req) {
		return
	}
	h, err := ws.engine.OpenRun(req)
	if err != nil {
		ws.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"run": h.Context(), "state": h.State().String()})
}

func (ws *WebServer) lookupRun(w http.ResponseWriter, r *http.Request) (*engine.RunHandle, bool) {
	id := r.PathValue("id")
	h, ok := ws.engine.Run(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no open run " + id})
	}
	return h, ok
}

func (ws *WebServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h, ok := ws.lookupRun(w, r)
	if !ok {
		return
	}
	var doc DocumentRequest
	if !ws.decode(w, r, &doc) {
		return
	}
	out, err := h.Submit(r.Context(), doc.document())
	if err != nil {
		ws.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (ws *WebServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	h, ok := ws.lookupRun(w, r)
	if !ok {
		return
	}
	meta, err := h.Finalize(r.Context())
	if err != nil {
		ws.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (ws *WebServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	h, ok := ws.lookupRun(w, r)
	if !ok {
		return
	}
	h.Abort()
	w.WriteHeader(http.StatusNoContent)
}

func (ws *WebServer) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := ws.engine.Apps()
	if err != nil {
		ws.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"apps": apps})
}

func (ws *WebServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	app := r.PathValue("app")
	meta, found, err := ws.engine.Metadata(app)
	if err != nil {
		ws.sendError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no metadata for " + app})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (ws *WebServer) handleReset(w http.ResponseWriter, r *http.Request) {
	app := r.PathValue("app")
	deleted, err := ws.engine.Reset(r.Context(), app)
	if err != nil {
		ws.sendError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no metadata for " + app})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ws *WebServer) handleReportJSON(w http.ResponseWriter, r *http.Request) {
	data, err := ws.engine.GetReport(r.Context(), r.PathValue("app"))
	if err != nil {
		ws.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleReportPDF renders with the configured template only; template
// paths are never taken from the request.
func (ws *WebServer) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	app := r.PathValue("app")
	data, err := ws.engine.GetReportPDF(r.Context(), app, "")
	if err != nil {
		ws.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", app+"-report.pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// decode reads a JSON body, answering 400 itself on failure
func (ws *WebServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Kind: apperr.KindValidation.String(), Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	kind, ok := apperr.KindOf(err)
	switch {
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case !ok:
		return http.StatusInternalServerError
	case kind == apperr.KindValidation:
		return http.StatusBadRequest
	case kind == apperr.KindReport:
		return http.StatusNotFound
	case kind == apperr.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) sendError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ws.errorResponse(err))
}

func (ws *WebServer) errorResponse(err error) ErrorResponse {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if kind, ok := apperr.KindOf(err); ok {
		resp.Kind = kind.String()
	}
	if status >= http.StatusInternalServerError {
		ws.observer.Logger().Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
