package destination

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// testAdapter exposes a sandbox through the HTTP adapter protocol.
type testAdapter struct {
	sandbox *Sandbox
	server  *httptest.Server

	mu       sync.Mutex
	sessions map[string]rfc.Session
	headers  []http.Header
	requests int
}

func newTestAdapter(t *testing.T) *testAdapter {
	t.Helper()

	a := &testAdapter{sandbox: NewSandbox("ERP"), sessions: make(map[string]rfc.Session)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /functions/{name}", a.describe)
	mux.HandleFunc("POST /functions/{name}/execute", a.execute)
	mux.HandleFunc("POST /sessions", a.openSession)
	mux.HandleFunc("DELETE /sessions/{id}", a.closeSession)

	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.requests++
		a.headers = append(a.headers, r.Header.Clone())
		a.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *testAdapter) lastHeader() http.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.headers) == 0 {
		return nil
	}
	return a.headers[len(a.headers)-1]
}

func (a *testAdapter) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRemoteError(w http.ResponseWriter, err error) {
	var business *rfc.BusinessException
	if errors.As(err, &business) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]any{"kind": "business", "key": business.Key, "message": business.Message},
		})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{
		"error": map[string]any{"kind": "system", "message": err.Error()},
	})
}

func (a *testAdapter) describe(w http.ResponseWriter, r *http.Request) {
	schema, _ := a.sandbox.FunctionSchema(r.Context(), r.PathValue("name"))
	if schema == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (a *testAdapter) execute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Imports map[string]any              `json:"imports"`
		Tables  map[string][]map[string]any `json:"tables"`
		Session string                      `json:"session"`
	}
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"kind": "system", "message": err.Error()}})
		return
	}

	inv := &rfc.Invocation{Function: r.PathValue("name"), Imports: req.Imports, Tables: req.Tables}

	var (
		result *rfc.CallResult
		err    error
	)
	if req.Session != "" {
		a.mu.Lock()
		sess, ok := a.sessions[req.Session]
		a.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"kind": "system", "message": "no such session"}})
			return
		}
		result, err = sess.Execute(context.Background(), inv)
	} else {
		result, err = a.sandbox.Execute(context.Background(), inv)
	}
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": result.Exports, "tables": result.Tables})
}

func (a *testAdapter) openSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sandbox.BeginSession(r.Context(), rfc.Credentials{})
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	a.mu.Lock()
	a.sessions[sess.ID()] = sess
	a.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"id": sess.ID()})
}

func (a *testAdapter) closeSession(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	sess, ok := a.sessions[r.PathValue("id")]
	delete(a.sessions, r.PathValue("id"))
	a.mu.Unlock()
	if ok {
		_ = sess.End(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}
