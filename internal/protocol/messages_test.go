package protocol

import (
	"encoding/json"
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a find_opponent message
// ---------------------------------------------------------------------------

func TestParseClientMessage_FindOpponent(t *testing.T) {
	input := []byte(`{"type":"find_opponent","category":"science"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeFindOpponent {
		t.Fatalf("expected type %q, got %q", TypeFindOpponent, msgType)
	}

	fo, ok := msg.(FindOpponentMsg)
	if !ok {
		t.Fatalf("expected FindOpponentMsg, got %T", msg)
	}
	if fo.Category != "science" {
		t.Errorf("expected category %q, got %q", "science", fo.Category)
	}
}

// ---------------------------------------------------------------------------
// Test: Relay payloads stay opaque
// ---------------------------------------------------------------------------

func TestParseClientMessage_RelayPayloadUntouched(t *testing.T) {
	input := []byte(`{"type":"webrtc_offer","debate_id":"d1","payload":{"sdp":"v=0","extra":[1,2]}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rm, ok := msg.(RelayMsg)
	if !ok {
		t.Fatalf("expected RelayMsg, got %T", msg)
	}
	if msgType != TypeWebRTCOffer || rm.DebateID != "d1" {
		t.Errorf("unexpected relay message: type=%q %+v", msgType, rm)
	}
	if string(rm.Payload) != `{"sdp":"v=0","extra":[1,2]}` {
		t.Errorf("payload changed: %s", rm.Payload)
	}
}

func TestRelayOutboundType(t *testing.T) {
	cases := map[string]string{
		TypeWebRTCOffer:  TypeWebRTCOffer,
		TypeICECandidate: TypeICECandidate,
		TypeSendEmoji:    TypeEmojiReceived,
		TypeChat:         TypeChatMessage,
	}
	for in, want := range cases {
		got, ok := RelayOutboundType(in)
		if !ok || got != want {
			t.Errorf("RelayOutboundType(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if IsRelayKind(TypeEndDebate) {
		t.Error("end_debate must not be a relay kind")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a debate_matched server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_DebateMatched(t *testing.T) {
	payload := DebateMatchedMsg{
		DebateID:     "d-456",
		Topic:        "Remote work is better",
		Stance:       "for",
		OpponentName: "Bob",
		FirstSpeaker: "c1",
		Round:        1,
	}

	data, err := NewServerMessage(TypeDebateMatched, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeDebateMatched {
		t.Errorf("expected type %q, got %v", TypeDebateMatched, result["type"])
	}
	if result["debate_id"] != "d-456" {
		t.Errorf("expected debate_id %q, got %v", "d-456", result["debate_id"])
	}
	if result["stance"] != "for" {
		t.Errorf("expected stance %q, got %v", "for", result["stance"])
	}
	if _, ok := result["ice_servers"]; ok {
		t.Error("expected empty ice_servers to be omitted")
	}
}

func TestNewServerMessage_OverridesType(t *testing.T) {
	data, err := NewServerMessage(TypeTopicSkipped, SkipTopicMsg{Type: "wrong", DebateID: "d1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded SkipTopicMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeTopicSkipped {
		t.Errorf("expected type %q, got %q", TypeTopicSkipped, decoded.Type)
	}
}

func TestNewServerMessage_RejectsNonObject(t *testing.T) {
	if _, err := NewServerMessage(TypePong, []int{1}); err == nil {
		t.Fatal("expected an error for a non-object payload")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	for _, input := range []string{
		`{"type":"unknown_type","data":"something"}`,
		`{"type":"debate_matched"}`, // server-only
	} {
		msgType, msg, err := ParseClientMessage([]byte(input))
		if err == nil {
			t.Fatalf("expected an error for %s, got nil", input)
		}
		if msg != nil {
			t.Errorf("expected nil message for %q, got %v", msgType, msg)
		}
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"skip_topic_response","accepted":"yes"}`))
	if err == nil {
		t.Fatal("expected a decode error for a string boolean")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
		wantGo   interface{}
	}{
		{"set_profile", `{"type":"set_profile","name":"Ann","fingerprint":"f"}`, TypeSetProfile, SetProfileMsg{}},
		{"find_opponent", `{"type":"find_opponent"}`, TypeFindOpponent, FindOpponentMsg{}},
		{"cancel_search", `{"type":"cancel_search"}`, TypeCancelSearch, CancelSearchMsg{}},
		{"resume_debate", `{"type":"resume_debate","debate_id":"d","token":"t"}`, TypeResumeDebate, ResumeDebateMsg{}},
		{"webrtc_answer", `{"type":"webrtc_answer","debate_id":"d","payload":{}}`, TypeWebRTCAnswer, RelayMsg{}},
		{"ice_candidate", `{"type":"ice_candidate","debate_id":"d","payload":{}}`, TypeICECandidate, RelayMsg{}},
		{"mute_state", `{"type":"mute_state","debate_id":"d","payload":{"muted":true}}`, TypeMuteState, RelayMsg{}},
		{"send_emoji", `{"type":"send_emoji","debate_id":"d","payload":"x"}`, TypeSendEmoji, RelayMsg{}},
		{"chat", `{"type":"chat","debate_id":"d","payload":{"text":"hi"}}`, TypeChat, RelayMsg{}},
		{"turn_completed", `{"type":"turn_completed","debate_id":"d"}`, TypeTurnCompleted, DebateMsg{}},
		{"request_new_topic", `{"type":"request_new_topic","debate_id":"d"}`, TypeRequestNewTopic, DebateMsg{}},
		{"skip_topic_request", `{"type":"skip_topic_request","debate_id":"d"}`, TypeSkipTopicRequest, DebateMsg{}},
		{"skip_topic_response", `{"type":"skip_topic_response","debate_id":"d","accepted":true}`, TypeSkipTopicResponse, SkipTopicResponseMsg{}},
		{"end_debate", `{"type":"end_debate","debate_id":"d"}`, TypeEndDebate, DebateMsg{}},
		{"join_spectator", `{"type":"join_spectator","debate_id":"d"}`, TypeJoinSpectator, DebateMsg{}},
		{"leave_spectator", `{"type":"leave_spectator","debate_id":"d"}`, TypeLeaveSpectator, DebateMsg{}},
		{"cast_vote", `{"type":"cast_vote","debate_id":"d","choice":"participant1"}`, TypeCastVote, CastVoteMsg{}},
		{"spectator_chat", `{"type":"spectator_chat","debate_id":"d","text":"hi"}`, TypeSpectatorChat, SpectatorChatMsg{}},
		{"spectator_signal", `{"type":"spectator_signal","debate_id":"d","peer_id":"p","kind":"offer","payload":{}}`, TypeSpectatorSignal, SpectatorSignalMsg{}},
		{"report_user", `{"type":"report_user","reason":"rude"}`, TypeReportUser, ReportUserMsg{}},
		{"block_user", `{"type":"block_user","target_id":"x"}`, TypeBlockUser, BlockUserMsg{}},
		{"list_debates", `{"type":"list_debates"}`, TypeListDebates, ListDebatesMsg{}},
		{"ping", `{"type":"ping"}`, TypePing, PingMsg{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if got, want := typeName(msg), typeName(tc.wantGo); got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
		})
	}
}

func typeName(v interface{}) string {
	return fmt.Sprintf("%T", v)
}
