package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/f-sync/followback/internal/ratelimit"
	"github.com/f-sync/followback/internal/server"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/state"
)

const (
	reloadPollTimeout  = 2 * time.Second
	reloadPollInterval = 10 * time.Millisecond
)

var routerTestEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	current atomic.Int64
}

func newTestClock() *testClock {
	clock := &testClock{}
	clock.current.Store(routerTestEpoch.UnixNano())
	return clock
}

func (clock *testClock) Now() time.Time {
	return time.Unix(0, clock.current.Load()).UTC()
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.current.Add(int64(duration))
}

func newTestSession(t *testing.T, following ...string) *session.Session {
	t.Helper()
	entries := make([]string, 0, len(following))
	for index, username := range following {
		entries = append(entries, fmt.Sprintf(`{"title":"%s","string_list_data":[{"timestamp":%d}]}`, username, 1_700_000_000+index))
	}
	testSession, err := session.Initialize(
		context.Background(),
		[]byte(`{"relationships_followers":[{"string_list_data":[{"value":"friend"}]}]}`),
		[]byte(`{"relationships_following":[`+strings.Join(entries, ",")+`]}`),
		session.Options{Repository: state.NewRepository(state.NewMemoryBackend(), nil)},
	)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	return testSession
}

func newTestRouter(t *testing.T, configuration server.RouterConfig) http.Handler {
	t.Helper()
	router, err := server.NewRouter(configuration)
	if err != nil {
		t.Fatalf("NewRouter error: %v", err)
	}
	return router
}

func performRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
}

func TestNewRouterRequiresSession(t *testing.T) {
	if _, err := server.NewRouter(server.RouterConfig{}); err == nil {
		t.Fatalf("expected error without a session")
	}
}

func TestHealthAndReport(t *testing.T) {
	router := newTestRouter(t, server.RouterConfig{Session: newTestSession(t, "alice", "friend")})

	health := performRequest(t, router, http.MethodGet, "/healthz", nil)
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", health.Code, health.Body.String())
	}

	page := performRequest(t, router, http.MethodGet, "/", nil)
	if page.Code != http.StatusOK {
		t.Fatalf("report status = %d", page.Code)
	}
	if !strings.Contains(page.Body.String(), "https://www.instagram.com/alice/") {
		t.Fatalf("report does not list alice")
	}
	if strings.Contains(page.Body.String(), "instagram.com/friend/") {
		t.Fatalf("report lists an account that follows back")
	}

	stylesheet := performRequest(t, router, http.MethodGet, "/static/report.css", nil)
	if stylesheet.Code != http.StatusOK {
		t.Fatalf("static asset status = %d", stylesheet.Code)
	}
}

func TestAccountRoutes(t *testing.T) {
	router := newTestRouter(t, server.RouterConfig{Session: newTestSession(t, "alice", "bob", "friend")})

	testCases := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
		expectedBody   string
	}{
		{name: "list", method: http.MethodGet, path: "/api/accounts?sort=alpha", expectedStatus: http.StatusOK, expectedBody: `"username":"alice"`},
		{name: "bad sort", method: http.MethodGet, path: "/api/accounts?sort=random", expectedStatus: http.StatusBadRequest},
		{name: "pin", method: http.MethodPost, path: "/api/accounts/alice/pin", expectedStatus: http.StatusOK, expectedBody: `"pinned":1`},
		{name: "pinned filter", method: http.MethodGet, path: "/api/accounts?category=pinned", expectedStatus: http.StatusOK, expectedBody: `"pinned":true`},
		{name: "unpin", method: http.MethodDelete, path: "/api/accounts/alice/pin", expectedStatus: http.StatusOK, expectedBody: `"pinned":0`},
		{name: "visit", method: http.MethodPost, path: "/api/accounts/bob/visit", expectedStatus: http.StatusOK, expectedBody: `"visited":1`},
		{name: "move to tbd", method: http.MethodPost, path: "/api/accounts/bob/transition", body: map[string]string{"category": "tbd"}, expectedStatus: http.StatusOK, expectedBody: `"changed":true`},
		{name: "pin outside pending", method: http.MethodPost, path: "/api/accounts/bob/pin", expectedStatus: http.StatusConflict},
		{name: "unknown account", method: http.MethodPost, path: "/api/accounts/friend/pin", expectedStatus: http.StatusNotFound},
		{name: "unknown category", method: http.MethodPost, path: "/api/accounts/alice/transition", body: map[string]string{"category": "archived"}, expectedStatus: http.StatusBadRequest},
		{name: "missing category", method: http.MethodPost, path: "/api/accounts/alice/transition", body: map[string]string{}, expectedStatus: http.StatusBadRequest},
		{name: "verify", method: http.MethodGet, path: "/api/accounts/Friend/verify", expectedStatus: http.StatusOK, expectedBody: `"inFollowers":true`},
		{name: "diagnostics", method: http.MethodGet, path: "/api/diagnostics", expectedStatus: http.StatusOK, expectedBody: `"flagged":2`},
		{name: "bad mode", method: http.MethodPut, path: "/api/mode", body: map[string]string{"mode": "yolo"}, expectedStatus: http.StatusBadRequest},
		{name: "reset", method: http.MethodPost, path: "/api/reset", expectedStatus: http.StatusOK, expectedBody: `"pending":2`},
	}

	for _, testCase := range testCases {
		recorder := performRequest(t, router, testCase.method, testCase.path, testCase.body)
		if recorder.Code != testCase.expectedStatus {
			t.Fatalf("%s: status = %d, want %d (%s)", testCase.name, recorder.Code, testCase.expectedStatus, recorder.Body.String())
		}
		if testCase.expectedBody != "" && !strings.Contains(recorder.Body.String(), testCase.expectedBody) {
			t.Fatalf("%s: body %s missing %s", testCase.name, recorder.Body.String(), testCase.expectedBody)
		}
	}
}

func TestTransitionBlockedByRateGate(t *testing.T) {
	usernames := make([]string, 0, 11)
	for index := 0; index < 11; index++ {
		usernames = append(usernames, fmt.Sprintf("user_%02d", index))
	}
	clock := newTestClock()
	router := newTestRouter(t, server.RouterConfig{Session: newTestSession(t, usernames...), Now: clock.Now})

	for index := 0; index < ratelimit.DefaultShortLimit; index++ {
		recorder := performRequest(t, router, http.MethodPost, "/api/accounts/"+usernames[index]+"/transition", map[string]string{"category": "done"})
		if recorder.Code != http.StatusOK {
			t.Fatalf("transition %d status = %d (%s)", index, recorder.Code, recorder.Body.String())
		}
		clock.Advance(time.Minute)
	}

	blocked := performRequest(t, router, http.MethodPost, "/api/accounts/user_10/transition", map[string]string{"category": "done"})
	if blocked.Code != http.StatusTooManyRequests {
		t.Fatalf("blocked status = %d (%s)", blocked.Code, blocked.Body.String())
	}
	var result session.TransitionResult
	decodeBody(t, blocked, &result)
	if !result.Blocked || result.WaitMillis != (89*time.Minute).Milliseconds() {
		t.Fatalf("blocked result = %+v", result)
	}

	rate := performRequest(t, router, http.MethodGet, "/api/rate", nil)
	var status ratelimit.Status
	decodeBody(t, rate, &status)
	if !status.Locked || status.UsedShort != ratelimit.DefaultShortLimit {
		t.Fatalf("rate = %+v", status)
	}

	mode := performRequest(t, router, http.MethodPut, "/api/mode", map[string]string{"mode": "risk"})
	if mode.Code != http.StatusOK || !strings.Contains(mode.Body.String(), `"canProceed":true`) {
		t.Fatalf("mode = %d %s", mode.Code, mode.Body.String())
	}
	admitted := performRequest(t, router, http.MethodPost, "/api/accounts/user_10/transition", map[string]string{"category": "done"})
	if admitted.Code != http.StatusOK {
		t.Fatalf("risk mode transition status = %d", admitted.Code)
	}
}

func TestReloadRoutes(t *testing.T) {
	disabled := newTestRouter(t, server.RouterConfig{Session: newTestSession(t, "alice")})
	if recorder := performRequest(t, disabled, http.MethodPost, "/api/reload", nil); recorder.Code != http.StatusNotImplemented {
		t.Fatalf("reload without reloader status = %d", recorder.Code)
	}

	testCases := []struct {
		name           string
		reloadErr      error
		expectedStatus string
	}{
		{name: "success", expectedStatus: "completed"},
		{name: "failure", reloadErr: errors.New("export unreachable"), expectedStatus: "failed"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			var calls atomic.Int32
			router := newTestRouter(t, server.RouterConfig{
				Session: newTestSession(t, "alice"),
				Reload: func(context.Context) error {
					calls.Add(1)
					return testCase.reloadErr
				},
			})

			started := performRequest(t, router, http.MethodPost, "/api/reload", nil)
			if started.Code != http.StatusAccepted {
				t.Fatalf("reload status = %d", started.Code)
			}
			var task struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Error  string `json:"error"`
			}
			decodeBody(t, started, &task)

			deadline := time.Now().Add(reloadPollTimeout)
			for task.Status == "running" && time.Now().Before(deadline) {
				time.Sleep(reloadPollInterval)
				decodeBody(t, performRequest(t, router, http.MethodGet, "/api/reload/"+task.ID, nil), &task)
			}
			if task.Status != testCase.expectedStatus {
				t.Fatalf("task status = %q, want %q", task.Status, testCase.expectedStatus)
			}
			if testCase.reloadErr != nil && task.Error == "" {
				t.Fatalf("failed task carries no error")
			}
			if calls.Load() != 1 {
				t.Fatalf("reload calls = %d, want 1", calls.Load())
			}
		})
	}

	router := newTestRouter(t, server.RouterConfig{Session: newTestSession(t, "alice"), Reload: func(context.Context) error { return nil }})
	if recorder := performRequest(t, router, http.MethodGet, "/api/reload/reload-42", nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("unknown task status = %d", recorder.Code)
	}
}

func TestRateStreamPushesStatus(t *testing.T) {
	router := newTestRouter(t, server.RouterConfig{
		Session:        newTestSession(t, "alice"),
		StatusInterval: 20 * time.Millisecond,
	})
	httpServer := httptest.NewServer(router)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	connection, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(httpServer.URL, "http")+"/api/rate/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer connection.Close(websocket.StatusNormalClosure, "done")

	for message := 0; message < 2; message++ {
		var status ratelimit.Status
		if err := wsjson.Read(ctx, connection, &status); err != nil {
			t.Fatalf("read message %d: %v", message, err)
		}
		if status.Mode != ratelimit.ModeStrict || !status.CanProceed {
			t.Fatalf("message %d = %+v", message, status)
		}
	}
}
