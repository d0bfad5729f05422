package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/moodflo/moodflo/internal/analysis"
	"github.com/moodflo/moodflo/internal/registry"
	"github.com/moodflo/moodflo/internal/timeline"
)

type reportStoreStub struct {
	reports map[string][]byte
}

func (s reportStoreStub) GetReport(sessionID string) ([]byte, error) {
	if payload, ok := s.reports[sessionID]; ok {
		return payload, nil
	}
	return nil, sql.ErrNoRows
}

func newAPIHandler(src analysis.FrameSource, reports ReportStore) (http.Handler, *registry.Registry) {
	reg := registry.New(func(string) (analysis.FrameSource, error) { return src, nil }, 0)
	hub := NewHub(reg, time.Second, 0)
	if reports == nil {
		reports = reportStoreStub{}
	}
	return Handler(reg, hub, reports), reg
}

func completedSource(frames ...timeline.Frame) analysis.FrameSource {
	gate := make(chan struct{})
	close(gate)
	return &gatedSource{frames: frames, gate: gate}
}

func createSession(t *testing.T, h http.Handler, mediaRef string) string {
	t.Helper()
	body := strings.NewReader(`{"media_ref":"` + mediaRef + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session id")
	}
	return resp.SessionID
}

func TestAPICreateAndGetSession(t *testing.T) {
	h, reg := newAPIHandler(completedSource(frame(0, 3), frame(5, 8)), nil)

	id := createSession(t, h, "standup.wav")
	waitTerminal(t, reg, id)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}

	var detail map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail["media_ref"] != "standup.wav" {
		t.Fatalf("unexpected media_ref %#v", detail["media_ref"])
	}
	if detail["state"] != "completed" {
		t.Fatalf("unexpected state %#v", detail["state"])
	}
	if detail["frame_count"].(float64) != 2 {
		t.Fatalf("expected frame_count 2, got %v", detail["frame_count"])
	}
}

func TestAPISessionOutlivesCreateRequest(t *testing.T) {
	// A real server cancels the request context once the create handler
	// returns; the builder must keep running on its own lifetime. The gate
	// stays shut until the response is in, so every frame is extracted after
	// the request context died.
	gate := make(chan struct{})
	src := &gatedSource{frames: []timeline.Frame{frame(0, 3), frame(5, 8), frame(10, 2)}, gate: gate}
	h, reg := newAPIHandler(src, nil)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", strings.NewReader(`{"media_ref":"standup.wav"}`))
	if err != nil {
		t.Fatalf("POST /api/sessions failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	close(gate)
	waitTerminal(t, reg, created.SessionID)

	detailResp, err := http.Get(srv.URL + "/api/sessions/" + created.SessionID)
	if err != nil {
		t.Fatalf("GET session failed: %v", err)
	}
	defer func() { _ = detailResp.Body.Close() }()
	var detail map[string]any
	if err := json.NewDecoder(detailResp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail["state"] != "completed" {
		t.Fatalf("expected completed after the create request died, got %#v", detail["state"])
	}
	if detail["frame_count"].(float64) != 3 {
		t.Fatalf("expected frame_count 3, got %v", detail["frame_count"])
	}
}

func TestAPICreateSessionValidation(t *testing.T) {
	h, _ := newAPIHandler(completedSource(frame(0, 3)), nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing media_ref", `{}`},
		{"blank media_ref", `{"media_ref":"  "}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", tc.name, rr.Code)
		}
	}
}

func TestAPIDuplicateSessionConflict(t *testing.T) {
	// The source never finishes, so the first session stays alive.
	src := &gatedSource{frames: []timeline.Frame{frame(0, 3)}, gate: make(chan struct{}, 1)}
	h, reg := newAPIHandler(src, nil)

	id := createSession(t, h, "standup.wav")
	defer reg.Delete(id)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"media_ref":"standup.wav"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPIGetUnknownSession(t *testing.T) {
	h, _ := newAPIHandler(completedSource(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/no-such-session", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/bad%2Fid", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for invalid id, got %d", rr.Code)
	}
}

func TestAPITimelineSnapshot(t *testing.T) {
	h, reg := newAPIHandler(completedSource(frame(0, 3), frame(5, 8), frame(10, 2)), nil)

	id := createSession(t, h, "retro.wav")
	waitTerminal(t, reg, id)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/timeline", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		State  string           `json:"state"`
		Frames []timeline.Frame `json:"frames"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(resp.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(resp.Frames))
	}
	if resp.Frames[1].Energy != 8 {
		t.Fatalf("expected energy 8 at second frame, got %v", resp.Frames[1].Energy)
	}
}

func TestAPIReport(t *testing.T) {
	reports := reportStoreStub{reports: map[string][]byte{
		"ready-session": []byte(`{"summary":{"dominant_emotion":"energised"}}`),
	}}
	h, _ := newAPIHandler(completedSource(), reports)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/ready-session/report", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "dominant_emotion") {
		t.Fatalf("expected archived payload, got %s", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/pending-session/report", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 before the report exists, got %d", rr.Code)
	}
}

func TestAPIDeleteIdempotent(t *testing.T) {
	h, reg := newAPIHandler(completedSource(frame(0, 3)), nil)

	id := createSession(t, h, "standup.wav")
	waitTerminal(t, reg, id)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("delete attempt %d: expected status 204, got %d", i+1, rr.Code)
		}
	}

	if _, err := reg.Get(id); err == nil {
		t.Fatal("expected session gone after delete")
	}
}

func TestAPIHealth(t *testing.T) {
	h, _ := newAPIHandler(completedSource(frame(0, 3)), nil)
	createSession(t, h, "standup.wav")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("unexpected status %#v", resp["status"])
	}
	if resp["active_sessions"].(float64) != 1 {
		t.Fatalf("expected 1 active session, got %v", resp["active_sessions"])
	}
}
