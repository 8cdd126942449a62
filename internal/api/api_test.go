package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/hottake/debate-app/internal/ban"
	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/matching"
	"github.com/hottake/debate-app/internal/moderation"
	"github.com/hottake/debate-app/internal/relay"
	"github.com/hottake/debate-app/internal/session"
	"github.com/hottake/debate-app/internal/topic"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiHarness struct {
	t      *testing.T
	engine *gin.Engine
	svc    *debate.Service
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	registry := session.NewRegistry()
	router := relay.NewRouter(registry)
	catalog := topic.NewCatalog([]topic.Topic{
		{Text: "Cats are better than dogs", Category: "pets"},
		{Text: "Pineapple belongs on pizza", Category: "food"},
	})
	cfg := debate.DefaultConfig()
	cfg.PremiumKeys = []string{"gold"}
	svc := debate.NewService(cfg, debate.Deps{
		Registry: registry,
		Queue:    matching.NewQueue(),
		Catalog:  catalog,
		Guard:    moderation.NewGuard(ban.NewMemoryStore(), moderation.DefaultGuardConfig()),
		Notifier: router,
	})
	t.Cleanup(svc.Shutdown)

	engine := NewEngine(Options{
		Service:    svc,
		Router:     router,
		Catalog:    catalog,
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
		PublicURL:  "https://debates.example.org/",
	})
	return &apiHarness{t: t, engine: engine, svc: svc}
}

func (h *apiHarness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func (h *apiHarness) connect(name string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/api/connections", map[string]string{"name": name})
	if w.Code != http.StatusCreated {
		h.t.Fatalf("create connection: status %d body %s", w.Code, w.Body)
	}
	id, _ := decode(h.t, w)["connection_id"].(string)
	if id == "" {
		h.t.Fatal("expected a connection id")
	}
	return id
}

// signalTypes drains the mailbox of conn and returns the frame types.
func (h *apiHarness) signalTypes(conn string) []string {
	h.t.Helper()
	w := h.do(http.MethodGet, "/api/signals?connection_id="+conn, nil)
	if w.Code != http.StatusOK {
		h.t.Fatalf("poll signals: status %d body %s", w.Code, w.Body)
	}
	var body struct {
		Signals []struct {
			Type string `json:"type"`
		} `json:"signals"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		h.t.Fatalf("decode signals: %v", err)
	}
	out := make([]string, 0, len(body.Signals))
	for _, s := range body.Signals {
		out = append(out, s.Type)
	}
	return out
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	h.connect("ada")

	w := h.do(http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["connected"] != float64(1) {
		t.Errorf("unexpected health body: %v", body)
	}

	w = h.do(http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := decode(t, w)["debates"].([]interface{}); !ok {
		t.Errorf("expected a debates array: %s", w.Body)
	}
}

func TestPollingDebateFlow(t *testing.T) {
	h := newAPIHarness(t)
	a := h.connect("ada")
	b := h.connect("bob")

	w := h.do(http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": a})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body)
	}
	if body := decode(t, w); body["status"] != "waiting" || body["position"] != float64(1) {
		t.Errorf("unexpected waiting body: %v", body)
	}

	w = h.do(http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": a})
	if w.Code != http.StatusConflict || decode(t, w)["code"] != debate.CodeAlreadyQueued {
		t.Fatalf("expected already_queued conflict, got %d: %s", w.Code, w.Body)
	}

	w = h.do(http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": b})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	id, _ := decode(t, w)["id"].(string)
	if id == "" {
		t.Fatal("expected the debate view")
	}

	types := h.signalTypes(a)
	if len(types) == 0 || types[len(types)-1] != "debate_matched" {
		t.Errorf("expected debate_matched for a, got %v", types)
	}

	w = h.do(http.MethodGet, "/api/debates/"+id+"/phase", nil)
	if w.Code != http.StatusOK || decode(t, w)["started"] != false {
		t.Fatalf("polling debates wait for both sides: %d %s", w.Code, w.Body)
	}

	w = h.do(http.MethodPost, "/api/debates/"+id+"/ready", map[string]string{"connection_id": a})
	if w.Code != http.StatusOK || decode(t, w)["started"] != false {
		t.Fatalf("first ready: %d %s", w.Code, w.Body)
	}
	w = h.do(http.MethodPost, "/api/debates/"+id+"/ready", map[string]string{"connection_id": b})
	if w.Code != http.StatusOK || decode(t, w)["started"] != true {
		t.Fatalf("second ready: %d %s", w.Code, w.Body)
	}

	w = h.do(http.MethodPost, "/api/debates/"+id+"/signal", map[string]interface{}{
		"connection_id": a,
		"kind":          "webrtc_offer",
		"payload":       map[string]string{"sdp": "v=0"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signal: %d %s", w.Code, w.Body)
	}
	types = h.signalTypes(b)
	found := false
	for _, typ := range types {
		if typ == "webrtc_offer" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the offer in b's mailbox, got %v", types)
	}

	w = h.do(http.MethodGet, "/api/debates/live", nil)
	if list, _ := decode(t, w)["debates"].([]interface{}); len(list) != 1 {
		t.Errorf("expected one live debate: %s", w.Body)
	}

	w = h.do(http.MethodPost, "/api/debates/"+id+"/end", map[string]string{"connection_id": b})
	if w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body)
	}
	w = h.do(http.MethodGet, "/api/debates/"+id, nil)
	if w.Code != http.StatusNotFound || decode(t, w)["code"] != debate.CodeSessionNotFound {
		t.Errorf("expected 404 after end, got %d: %s", w.Code, w.Body)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newAPIHarness(t)
	a := h.connect("ada")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing debate", http.MethodGet, "/api/debates/nope", nil, http.StatusNotFound},
		{"missing connection id", http.MethodPost, "/api/debates/cancel", map[string]string{}, http.StatusBadRequest},
		{"unknown connection", http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": "ghost"}, http.StatusNotFound},
		{"category without premium", http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": a, "category": "pets"}, http.StatusForbidden},
		{"bad relay kind", http.MethodPost, "/api/debates/nope/signal", map[string]string{"connection_id": a, "kind": "launch"}, http.StatusUnprocessableEntity},
		{"signals without id", http.MethodGet, "/api/signals", nil, http.StatusBadRequest},
		{"signals for unknown", http.MethodGet, "/api/signals?connection_id=ghost", nil, http.StatusNotFound},
		{"qr for missing debate", http.MethodGet, "/api/debates/nope/qr", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body)
			}
		})
	}
}

func TestPremiumCategory(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(http.MethodPost, "/api/connections", map[string]string{"name": "vip", "premium_key": "gold"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body)
	}
	body := decode(t, w)
	if body["privileged"] != true {
		t.Fatalf("expected privileged connection: %v", body)
	}
	id := body["connection_id"].(string)

	w = h.do(http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": id, "category": "pets"})
	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d: %s", w.Code, w.Body)
	}
	w = h.do(http.MethodPost, "/api/debates/cancel", map[string]string{"connection_id": id})
	if w.Code != http.StatusOK {
		t.Errorf("cancel: expected 200, got %d", w.Code)
	}
}

func TestDeleteConnection(t *testing.T) {
	h := newAPIHarness(t)
	a := h.connect("ada")

	w := h.do(http.MethodDelete, "/api/connections/"+a, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = h.do(http.MethodGet, "/api/signals?connection_id="+a, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestSpectateQR(t *testing.T) {
	h := newAPIHarness(t)
	a, b := h.connect("ada"), h.connect("bob")
	h.do(http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": a})
	w := h.do(http.MethodPost, "/api/debates/find-opponent", map[string]string{"connection_id": b})
	id, _ := decode(t, w)["id"].(string)

	w = h.do(http.MethodGet, "/api/debates/"+id+"/qr", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}
}

func TestTopicsAndICE(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodGet, "/api/topics?category=food", nil)
	var topics struct {
		Topics []topic.Topic `json:"topics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &topics); err != nil {
		t.Fatal(err)
	}
	if len(topics.Topics) != 1 || !strings.Contains(topics.Topics[0].Text, "Pineapple") {
		t.Errorf("unexpected topics: %+v", topics.Topics)
	}

	w = h.do(http.MethodGet, "/api/topics/random?category=pets", nil)
	if w.Code != http.StatusOK || decode(t, w)["category"] != "pets" {
		t.Errorf("random topic: %d %s", w.Code, w.Body)
	}
	w = h.do(http.MethodGet, "/api/topics/random?category=space", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown category: expected 404, got %d", w.Code)
	}

	w = h.do(http.MethodGet, "/api/topics/categories", nil)
	if cats, _ := decode(t, w)["categories"].([]interface{}); len(cats) != 2 {
		t.Errorf("unexpected categories: %s", w.Body)
	}

	w = h.do(http.MethodGet, "/api/ice-servers", nil)
	if !strings.Contains(w.Body.String(), "stun:stun.example.org:3478") {
		t.Errorf("unexpected ice servers: %s", w.Body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		debate.CodeSessionNotFound:      http.StatusNotFound,
		debate.CodeUnknownConnection:    http.StatusNotFound,
		debate.CodeAlreadyInSession:     http.StatusConflict,
		debate.CodeBanned:               http.StatusForbidden,
		debate.CodeOpponentUnresolvable: http.StatusUnprocessableEntity,
		debate.CodeContentRejected:      http.StatusUnprocessableEntity,
		debate.CodeRateLimited:          http.StatusTooManyRequests,
		debate.CodeInternal:             http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := statusFor(code); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
