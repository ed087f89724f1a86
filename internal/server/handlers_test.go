package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

// TestHealthHandler verifies that the liveness handler answers every method
// with the plain text banner.
func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "GET request to health endpoint",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedBody:   "roomrelay server is running!",
		},
		{
			name:           "POST request to health endpoint",
			method:         http.MethodPost,
			expectedStatus: http.StatusOK,
			expectedBody:   "roomrelay server is running!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, "/", http.NoBody)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()

			server.HealthHandler(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}
			if rr.Body.String() != tt.expectedBody {
				t.Errorf("handler returned unexpected body: got %v want %v",
					rr.Body.String(), tt.expectedBody)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
				t.Errorf("Expected content type text/plain, got %s", ct)
			}
		})
	}
}

// TestStatusHandler verifies the JSON health report of an idle hub.
func TestStatusHandler(t *testing.T) {
	hub := server.NewHub()

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rr := httptest.NewRecorder()

	server.StatusHandler(hub)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected content type application/json, got %s", ct)
	}

	var status server.HealthStatus
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	want := server.HealthStatus{Status: "ok", Connections: 0, Rooms: 0}
	if status != want {
		t.Errorf("Expected %+v, got %+v", want, status)
	}
}

func TestStatusHandlerRejectsPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/health", http.NoBody)
	rr := httptest.NewRecorder()

	server.StatusHandler(server.NewHub())(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

// TestWebSocketHandlerMethodValidation verifies that only GET may upgrade.
func TestWebSocketHandlerMethodValidation(t *testing.T) {
	handler := server.WebSocketHandler(server.NewHub())

	methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/ws", http.NoBody)
			rr := httptest.NewRecorder()

			handler(rr, req)

			if rr.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status %d for %s, got %d", http.StatusMethodNotAllowed, method, rr.Code)
			}
		})
	}
}

// TestWebSocketHandlerGETWithoutUpgrade verifies that a plain GET is refused
// by the upgrader.
func TestWebSocketHandlerGETWithoutUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	rr := httptest.NewRecorder()

	server.WebSocketHandler(server.NewHub())(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

// TestSetupRoutes verifies that every route is wired on the mux.
func TestSetupRoutes(t *testing.T) {
	hub := server.NewHub()
	testServer := httptest.NewServer(server.SetupRoutes(hub))
	defer testServer.Close()

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/")
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "roomrelay server is running!" {
		t.Errorf("Unexpected body for /: %q", body)
	}

	resp = testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/health")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /health status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	resp = testhelpers.MakeRequest(t, http.MethodPost, testServer.URL+"/ws")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected /ws POST status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
	}
}

// TestCreateServer verifies the production timeouts.
func TestCreateServer(t *testing.T) {
	mux := http.NewServeMux()
	srv := server.CreateServer(":5001", mux)

	if srv.Addr != ":5001" {
		t.Errorf("Expected addr :5001, got %s", srv.Addr)
	}
	if srv.Handler != mux {
		t.Error("Expected handler to be the provided mux")
	}
	if srv.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", srv.ReadTimeout)
	}
	if srv.WriteTimeout != 15*time.Second {
		t.Errorf("Expected WriteTimeout 15s, got %v", srv.WriteTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", srv.IdleTimeout)
	}
}
