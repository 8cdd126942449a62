package ws

import (
	"encoding/json"
	"testing"

	"github.com/hottake/debate-app/internal/ban"
	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/matching"
	"github.com/hottake/debate-app/internal/moderation"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/relay"
	"github.com/hottake/debate-app/internal/session"
	"github.com/hottake/debate-app/internal/topic"
)

type wsHarness struct {
	svc   *debate.Service
	d     *MessageDispatcher
	out   *captured
	boxes map[string]*relay.Mailbox
}

func newWSHarness(t *testing.T, ids ...string) *wsHarness {
	t.Helper()
	registry := session.NewRegistry()
	svc := debate.NewService(debate.DefaultConfig(), debate.Deps{
		Registry: registry,
		Queue:    matching.NewQueue(),
		Catalog:  topic.DefaultCatalog(),
		Guard:    moderation.NewGuard(ban.NewMemoryStore(), moderation.DefaultGuardConfig()),
		Notifier: relay.NewRouter(registry),
	})
	t.Cleanup(svc.Shutdown)

	d, out := newTestDispatcher()
	RegisterHandlers(d, svc)

	h := &wsHarness{svc: svc, d: d, out: out, boxes: map[string]*relay.Mailbox{}}
	for _, id := range ids {
		mb := relay.NewMailbox()
		if err := svc.Connect(id, "", mb); err != nil {
			t.Fatalf("Connect(%s) error: %v", id, err)
		}
		h.boxes[id] = mb
	}
	return h
}

func (h *wsHarness) send(id, frame string) {
	h.d.Dispatch(&Connection{ID: id}, []byte(frame))
}

// types drains the mailbox of id and returns the frame types in order.
func (h *wsHarness) types(t *testing.T, id string) []string {
	t.Helper()
	frames, _ := h.boxes[id].Drain()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func contains(types []string, want string) bool {
	for _, typ := range types {
		if typ == want {
			return true
		}
	}
	return false
}

func TestHandlers_MatchAndList(t *testing.T) {
	h := newWSHarness(t, "a", "b", "watcher")

	h.send("a", `{"type":"set_profile","name":"Ada"}`)
	h.send("a", `{"type":"find_opponent"}`)
	if got := h.types(t, "a"); !contains(got, protocol.TypeProfileSet) || !contains(got, protocol.TypeSearching) {
		t.Fatalf("unexpected frames for a: %v", got)
	}

	h.send("b", `{"type":"find_opponent"}`)
	if got := h.types(t, "b"); !contains(got, protocol.TypeDebateMatched) {
		t.Fatalf("expected b to be matched, got %v", got)
	}
	if got := h.types(t, "a"); !contains(got, protocol.TypeDebateMatched) {
		t.Fatalf("expected a to be matched, got %v", got)
	}

	h.send("watcher", `{"type":"list_debates"}`)
	frames := h.out.all()
	if len(frames) != 1 || frames[0]["type"] != protocol.TypeDebatesList {
		t.Fatalf("expected a debates list reply, got %v", frames)
	}
	list, _ := frames[0]["debates"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected one live debate, got %v", frames[0]["debates"])
	}
	id, _ := list[0].(map[string]interface{})["id"].(string)

	h.send("watcher", `{"type":"join_spectator","debate_id":"`+id+`"}`)
	if got := h.types(t, "watcher"); !contains(got, protocol.TypeSpectatorJoined) {
		t.Errorf("expected spectator_joined, got %v", got)
	}
}

func TestHandlers_ErrorsReachSender(t *testing.T) {
	h := newWSHarness(t, "a")

	h.send("a", `{"type":"turn_completed","debate_id":"missing"}`)
	h.send("a", `{"type":"cancel_search"}`)

	frames := h.out.all()
	if len(frames) < 1 || frames[0]["code"] != debate.CodeSessionNotFound {
		t.Fatalf("expected session_not_found, got %v", frames)
	}
}
