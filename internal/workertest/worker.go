// Package workertest is an in-process stand-in for the backend worker: it
// serves the HTTP task surface and the progress websocket with the same
// token rules, and records what it was asked to do.
package workertest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

// PNGHeader is what the fake preview endpoint returns.
var PNGHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// RequestLog captures a request for assertions
type RequestLog struct {
	Method    string
	Path      string
	Token     string
	RequestID string
	Body      map[string]interface{}
}

// Worker is the fake backend. It implements http.Handler.
type Worker struct {
	token string
	mux   *http.ServeMux
	hub   *wsHub

	mu           sync.Mutex
	requests     []RequestLog
	healthStatus int
	healthHits   int
	batches      map[string]*protocol.BatchStatus
	cancels      []string
}

// New creates a fake worker. An empty token disables auth, like the real worker.
func New(token string) *Worker {
	w := &Worker{
		token:        token,
		mux:          http.NewServeMux(),
		hub:          newWSHub(),
		healthStatus: http.StatusOK,
		batches:      make(map[string]*protocol.BatchStatus),
	}
	w.mux.HandleFunc("GET "+protocol.HealthPath, w.handleHealth)
	w.mux.HandleFunc("POST "+protocol.PreviewPath, w.handlePreview)
	w.mux.HandleFunc("POST "+protocol.GeneratePath, w.handleGenerate)
	w.mux.HandleFunc("POST "+protocol.BatchPath, w.handleBatch)
	w.mux.HandleFunc("GET "+protocol.BatchPath+"/{id}/status", w.handleBatchStatus)
	w.mux.HandleFunc("POST "+protocol.BatchPath+"/{id}/cancel", w.handleBatchCancel)
	w.mux.HandleFunc("GET "+protocol.ProgressStreamPath, w.handleWS)
	return w
}

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != protocol.ProgressStreamPath {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		var body map[string]interface{}
		json.Unmarshal(raw, &body)
		w.mu.Lock()
		w.requests = append(w.requests, RequestLog{
			Method:    r.Method,
			Path:      r.URL.Path,
			Token:     r.Header.Get(protocol.TokenHeader),
			RequestID: r.Header.Get(protocol.RequestIDHeader),
			Body:      body,
		})
		w.mu.Unlock()

		if w.token != "" && r.Header.Get(protocol.TokenHeader) != w.token {
			writeJSON(rw, http.StatusUnauthorized, map[string]string{"detail": "Unauthorized"})
			return
		}
	}
	w.mux.ServeHTTP(rw, r)
}

// Serve listens on addr until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: w}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		w.hub.closeAll()
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	w.healthHits++
	status := w.healthStatus
	w.mu.Unlock()
	if status >= 300 {
		writeJSON(rw, status, map[string]string{"detail": "not ready"})
		return
	}
	writeJSON(rw, status, protocol.HealthResponse{Status: "ok"})
}

func (w *Worker) handlePreview(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "image/png")
	rw.Write(PNGHeader)
}

func (w *Worker) handleGenerate(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, protocol.GenerateResponse{OutputPath: "/tmp/pattern.png", FileSize: 1234})
}

func (w *Worker) handleBatch(rw http.ResponseWriter, r *http.Request) {
	var req protocol.BatchRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.Width <= 0 || req.Height <= 0 ||
		req.APLRangeStart < 1 || req.APLRangeEnd > 100 || req.Steps() == 0 {
		writeJSON(rw, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []map[string]interface{}{{"loc": []string{"body"}, "msg": "Invalid batch request"}},
		})
		return
	}

	id := uuid.NewString()
	w.mu.Lock()
	w.batches[id] = &protocol.BatchStatus{BatchID: id, Status: protocol.BatchRunning, Total: req.Steps()}
	w.mu.Unlock()
	writeJSON(rw, http.StatusAccepted, protocol.BatchResponse{BatchID: id})
}

func (w *Worker) handleBatchStatus(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	w.mu.Lock()
	status, ok := w.batches[id]
	var snapshot protocol.BatchStatus
	if ok {
		snapshot = *status
	}
	w.mu.Unlock()
	if !ok {
		writeJSON(rw, http.StatusNotFound, map[string]string{"detail": "Batch not found"})
		return
	}
	writeJSON(rw, http.StatusOK, snapshot)
}

func (w *Worker) handleBatchCancel(rw http.ResponseWriter, r *http.Request) {
	cancelled := w.cancel(r.PathValue("id"))
	writeJSON(rw, http.StatusOK, protocol.CancelResponse{Cancelled: cancelled})
}

// cancel marks a running batch cancelled and broadcasts the final event.
func (w *Worker) cancel(id string) bool {
	w.mu.Lock()
	w.cancels = append(w.cancels, id)
	status, ok := w.batches[id]
	if !ok || protocol.IsTerminalStatus(status.Status) {
		w.mu.Unlock()
		return false
	}
	status.Status = protocol.BatchCancelled
	evt := protocol.ProgressEvent{
		Type:      protocol.EventBatchProgress,
		BatchID:   id,
		Status:    status.Status,
		Total:     status.Total,
		Completed: status.Completed,
		Failed:    status.Failed,
	}
	w.mu.Unlock()

	w.Broadcast(evt)
	return true
}

func (w *Worker) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	if w.token != "" && r.URL.Query().Get(protocol.StreamTokenQueryParam) != w.token {
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	client := w.hub.add(conn)
	defer w.hub.remove(client)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if id, ok := protocol.ParseCancelFrame(string(data)); ok {
			w.cancel(id)
		}
	}
}

// Broadcast sends evt to every connected stream client.
func (w *Worker) Broadcast(evt protocol.ProgressEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	w.hub.broadcast(data)
}

// BroadcastRaw sends data as-is, for malformed-frame tests.
func (w *Worker) BroadcastRaw(data []byte) {
	w.hub.broadcast(data)
}

// DropClients closes every stream connection as if the worker went away.
func (w *Worker) DropClients() {
	w.hub.closeAll()
}

// SetHealthStatus changes what the liveness endpoint answers.
func (w *Worker) SetHealthStatus(status int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.healthStatus = status
}

// AddBatch seeds a batch in the running state.
func (w *Worker) AddBatch(id string, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches[id] = &protocol.BatchStatus{BatchID: id, Status: protocol.BatchRunning, Total: total}
}

// Advance records evt as the batch's latest state and broadcasts it.
func (w *Worker) Advance(evt protocol.ProgressEvent) {
	evt.Type = protocol.EventBatchProgress
	w.mu.Lock()
	w.batches[evt.BatchID] = &protocol.BatchStatus{
		BatchID:    evt.BatchID,
		Status:     evt.Status,
		Total:      evt.Total,
		Completed:  evt.Completed,
		Failed:     evt.Failed,
		CurrentAPL: evt.CurrentAPL,
	}
	w.mu.Unlock()
	w.Broadcast(evt)
}

func (w *Worker) HealthHits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthHits
}

func (w *Worker) Requests() []RequestLog {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]RequestLog(nil), w.requests...)
}

func (w *Worker) Cancels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.cancels...)
}

// ClientCount returns the number of live stream connections.
func (w *Worker) ClientCount() int {
	return w.hub.count()
}

// Connections returns how many stream connections were ever accepted.
func (w *Worker) Connections() int {
	return w.hub.total()
}

// ConnectionTimes returns when each stream connection was accepted.
func (w *Worker) ConnectionTimes() []time.Time {
	return w.hub.times()
}

// WaitForClients polls until n stream clients are connected.
func (w *Worker) WaitForClients(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.ClientCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return w.ClientCount() >= n
}

// WaitForConnections polls until n connections were accepted in total.
func (w *Worker) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.Connections() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return w.Connections() >= n
}

// Server wraps a Worker in an httptest server.
type Server struct {
	*httptest.Server
	*Worker
}

// NewServer starts a fake worker on a random loopback port.
func NewServer(token string) *Server {
	w := New(token)
	return &Server{Server: httptest.NewServer(w), Worker: w}
}

// NewServerOn serves a fake worker on ln, e.g. to bring one back on a port
// that was refusing connections.
func NewServerOn(ln net.Listener, token string) *Server {
	w := New(token)
	srv := httptest.NewUnstartedServer(w)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	return &Server{Server: srv, Worker: w}
}

// Info returns the BackendInfo a client needs to reach this server.
func (s *Server) Info() protocol.BackendInfo {
	return protocol.BackendInfo{BaseURL: s.URL, Token: s.token}
}

// Close drops stream clients before shutting the server down.
func (s *Server) Close() {
	s.hub.closeAll()
	s.Server.Close()
}
