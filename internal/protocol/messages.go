// Package protocol defines the real-time channel messages exchanged between
// debate clients and the server. Every frame is a JSON object carrying a
// "type" discriminator; client frames are decoded into one concrete struct per
// type before they reach the debate service.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/hottake/debate-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSetProfile        = "set_profile"
	TypeFindOpponent      = "find_opponent"
	TypeCancelSearch      = "cancel_search"
	TypeResumeDebate      = "resume_debate"
	TypeWebRTCOffer       = "webrtc_offer"
	TypeWebRTCAnswer      = "webrtc_answer"
	TypeICECandidate      = "ice_candidate"
	TypeMuteState         = "mute_state"
	TypeSendEmoji         = "send_emoji"
	TypeChat              = "chat"
	TypeTurnCompleted     = "turn_completed"
	TypeRequestNewTopic   = "request_new_topic"
	TypeSkipTopicRequest  = "skip_topic_request"
	TypeSkipTopicResponse = "skip_topic_response"
	TypeEndDebate         = "end_debate"
	TypeJoinSpectator     = "join_spectator"
	TypeLeaveSpectator    = "leave_spectator"
	TypeCastVote          = "cast_vote"
	TypeSpectatorChat     = "spectator_chat"
	TypeSpectatorSignal   = "spectator_signal"
	TypeReportUser        = "report_user"
	TypeBlockUser         = "block_user"
	TypeListDebates       = "list_debates"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeConnected             = "connected"
	TypeProfileSet            = "profile_set"
	TypeSearching             = "searching"
	TypeSearchCancelled       = "search_cancelled"
	TypeMatchTimeout          = "match_timeout"
	TypeDebateMatched         = "debate_matched"
	TypeDebateResumed         = "debate_resumed"
	TypeTurnChange            = "turn_change"
	TypeOpenDebateStart       = "open_debate_start"
	TypeVotingStart           = "voting_start"
	TypeTopicChanged          = "topic_changed"
	TypeSkipTopicRequested    = "skip_topic_requested"
	TypeSkipTopicSent         = "skip_topic_sent"
	TypeTopicSkipped          = "topic_skipped"
	TypeSkipTopicDeclined     = "skip_topic_declined"
	TypeEmojiReceived         = "emoji_received"
	TypeChatMessage           = "chat_message"
	TypeSpectatorJoined       = "spectator_joined"
	TypeSpectatorJoinedNotify = "spectator_joined_notify"
	TypeSpectatorLeft         = "spectator_left"
	TypeSpectatorCountUpdate  = "spectator_count_update"
	TypeVoteRecorded          = "vote_recorded"
	TypeVoteUpdate            = "vote_update"
	TypeSpectatorChatMessage  = "spectator_chat_message"
	TypeOpponentDisconnected  = "opponent_disconnected"
	TypeOpponentReconnected   = "opponent_reconnected"
	TypeDebateEnded           = "debate_ended"
	TypeBanned                = "banned"
	TypeReportReceived        = "report_received"
	TypeBlockReceived         = "block_received"
	TypeDebatesList           = "debates_list"
	TypeRateLimited           = "rate_limited"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Relay kinds accepted from participants. The relayed frame keeps the same
// type, except send_emoji and chat which arrive as emoji_received and
// chat_message.
var relayKinds = map[string]string{
	TypeWebRTCOffer:  TypeWebRTCOffer,
	TypeWebRTCAnswer: TypeWebRTCAnswer,
	TypeICECandidate: TypeICECandidate,
	TypeMuteState:    TypeMuteState,
	TypeSendEmoji:    TypeEmojiReceived,
	TypeChat:         TypeChatMessage,
}

// RelayOutboundType returns the server frame type used to forward a relay
// kind, and false when kind is not relayable.
func RelayOutboundType(kind string) (string, bool) {
	t, ok := relayKinds[kind]
	return t, ok
}

// IsRelayKind reports whether kind is one of the participant relay kinds.
func IsRelayKind(kind string) bool {
	_, ok := relayKinds[kind]
	return ok
}

// Spectator signalling kinds.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON for deferred decoding.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full frame and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SetProfileMsg sets the display name, the optional fingerprint used as
// moderation identity, and an optional premium key.
type SetProfileMsg struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	PremiumKey  string `json:"premium_key"`
}

// FindOpponentMsg enters matchmaking. An empty category means the default pool.
type FindOpponentMsg struct {
	Type     string `json:"type"`
	Category string `json:"category"`
}

// CancelSearchMsg leaves matchmaking.
type CancelSearchMsg struct {
	Type string `json:"type"`
}

// ResumeDebateMsg reattaches a new connection to a debate after a drop.
type ResumeDebateMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Token    string `json:"token"`
}

// RelayMsg is the shared shape of webrtc_offer, webrtc_answer, ice_candidate,
// mute_state, send_emoji and chat. Payload is forwarded untouched.
type RelayMsg struct {
	Type     string          `json:"type"`
	DebateID string          `json:"debate_id"`
	Payload  json.RawMessage `json:"payload"`
}

// DebateMsg is the shared shape of frames that only name a debate:
// turn_completed, request_new_topic, skip_topic_request, end_debate,
// join_spectator and leave_spectator.
type DebateMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
}

// SkipTopicResponseMsg answers a pending skip request.
type SkipTopicResponseMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Accepted bool   `json:"accepted"`
}

// CastVoteMsg records a spectator's vote for the current round. Choice is
// "participant1", "participant2" or a participant's connection id.
type CastVoteMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Choice   string `json:"choice"`
}

// SpectatorChatMsg is a chat line from a spectator.
type SpectatorChatMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Text     string `json:"text"`
}

// SpectatorSignalMsg carries WebRTC signalling between a participant and a
// spectator of the same debate.
type SpectatorSignalMsg struct {
	Type     string          `json:"type"`
	DebateID string          `json:"debate_id"`
	PeerID   string          `json:"peer_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// ReportUserMsg reports a user. An empty target means the current opponent.
type ReportUserMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

// BlockUserMsg blocks a user from future pairings. An empty target means the
// current opponent.
type BlockUserMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// ListDebatesMsg asks for the live debate listing.
type ListDebatesMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Shared views
// ---------------------------------------------------------------------------

// VoteTally is the per-round vote count.
type VoteTally struct {
	Participant1 int `json:"participant1"`
	Participant2 int `json:"participant2"`
}

// ParticipantView describes one debater.
type ParticipantView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Stance    string `json:"stance"`
	Slot      string `json:"slot"` // participant1 or participant2
	Connected bool   `json:"connected"`
}

// DebateView is the full snapshot of a debate.
type DebateView struct {
	ID               string            `json:"id"`
	Topic            string            `json:"topic"`
	Category         string            `json:"category,omitempty"`
	Phase            string            `json:"phase"`
	Round            int               `json:"round"`
	CurrentSpeaker   string            `json:"current_speaker,omitempty"`
	Participants     []ParticipantView `json:"participants"`
	Spectators       int               `json:"spectators"`
	Votes            VoteTally         `json:"votes"`
	Started          bool              `json:"started"`
	StartedAt        int64             `json:"started_at"` // unix millis
	DurationSeconds  int               `json:"duration_seconds"`
	RemainingSeconds int               `json:"remaining_seconds"`
}

// DebateSummary is one entry of the live debate listing.
type DebateSummary struct {
	ID              string    `json:"id"`
	Topic           string    `json:"topic"`
	Category        string    `json:"category,omitempty"`
	Phase           string    `json:"phase"`
	Round           int       `json:"round"`
	Spectators      int       `json:"spectators"`
	DurationSeconds int       `json:"duration_seconds"`
	Votes           VoteTally `json:"votes"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is the first frame on a new connection.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// ProfileSetMsg confirms set_profile.
type ProfileSetMsg struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

// SearchingMsg confirms the connection is waiting for an opponent.
type SearchingMsg struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
	Category string `json:"category,omitempty"`
	Timeout  int    `json:"timeout"` // seconds
}

// SearchCancelledMsg confirms cancel_search.
type SearchCancelledMsg struct {
	Type string `json:"type"`
}

// MatchTimeoutMsg tells a waiting connection its search expired.
type MatchTimeoutMsg struct {
	Type string `json:"type"`
}

// DebateMatchedMsg is sent to both participants when a debate is created.
type DebateMatchedMsg struct {
	Type          string             `json:"type"`
	DebateID      string             `json:"debate_id"`
	Topic         string             `json:"topic"`
	Category      string             `json:"category,omitempty"`
	Stance        string             `json:"stance"`
	Slot          string             `json:"slot"`
	OpponentID    string             `json:"opponent_id"`
	OpponentName  string             `json:"opponent_name"`
	FirstSpeaker  string             `json:"first_speaker"`
	YouGoFirst    bool               `json:"you_go_first"`
	Round         int                `json:"round"`
	Phase         string             `json:"phase"`
	PhaseDuration int                `json:"phase_duration"` // seconds
	RequiresReady bool               `json:"requires_ready"`
	ResumeToken   string             `json:"resume_token"`
	ICEServers    []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

// DebateResumedMsg is sent to a participant that rejoined after a drop.
type DebateResumedMsg struct {
	Type        string     `json:"type"`
	Debate      DebateView `json:"debate"`
	Stance      string     `json:"stance"`
	ResumeToken string     `json:"resume_token"`
}

// TurnChangeMsg announces a speaking phase and its speaker.
type TurnChangeMsg struct {
	Type           string `json:"type"`
	DebateID       string `json:"debate_id"`
	Phase          string `json:"phase"`
	Round          int    `json:"round"`
	CurrentSpeaker string `json:"current_speaker"`
	Duration       int    `json:"duration"` // seconds
}

// OpenDebateStartMsg announces the unmoderated exchange.
type OpenDebateStartMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Round    int    `json:"round"`
	Duration int    `json:"duration"`
}

// VotingStartMsg opens the voting window for spectators.
type VotingStartMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Round    int    `json:"round"`
	Duration int    `json:"duration"`
}

// TopicChangedMsg announces a new round with a new topic.
type TopicChangedMsg struct {
	Type         string `json:"type"`
	DebateID     string `json:"debate_id"`
	Topic        string `json:"topic"`
	Category     string `json:"category,omitempty"`
	Round        int    `json:"round"`
	Phase        string `json:"phase"`
	FirstSpeaker string `json:"first_speaker"`
	Duration     int    `json:"duration"`
}

// SkipTopicMsg is the shared payload of skip_topic_requested, skip_topic_sent,
// topic_skipped and skip_topic_declined.
type SkipTopicMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	From     string `json:"from,omitempty"`
}

// RelayedMsg forwards a participant relay payload.
type RelayedMsg struct {
	Type     string          `json:"type"`
	DebateID string          `json:"debate_id"`
	From     string          `json:"from"`
	FromName string          `json:"from_name,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// SpectatorSignalOutMsg forwards spectator signalling to its peer.
type SpectatorSignalOutMsg struct {
	Type     string          `json:"type"`
	DebateID string          `json:"debate_id"`
	From     string          `json:"from"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// SpectatorJoinedMsg is the snapshot sent to a new spectator.
type SpectatorJoinedMsg struct {
	Type    string         `json:"type"`
	Debate  DebateView     `json:"debate"`
	ChatLog []chat.Message `json:"chat_log"`
}

// SpectatorJoinedNotifyMsg tells participants a spectator arrived.
type SpectatorJoinedNotifyMsg struct {
	Type        string `json:"type"`
	DebateID    string `json:"debate_id"`
	SpectatorID string `json:"spectator_id"`
	Count       int    `json:"count"`
}

// SpectatorLeftMsg confirms leave_spectator.
type SpectatorLeftMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
}

// SpectatorCountUpdateMsg carries the current spectator count.
type SpectatorCountUpdateMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Count    int    `json:"count"`
}

// VoteRecordedMsg confirms a vote to the voter.
type VoteRecordedMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
	Choice   string `json:"choice"`
}

// VoteUpdateMsg carries the current tally.
type VoteUpdateMsg struct {
	Type     string    `json:"type"`
	DebateID string    `json:"debate_id"`
	Round    int       `json:"round"`
	Votes    VoteTally `json:"votes"`
}

// SpectatorChatMessageMsg broadcasts an accepted spectator chat line.
type SpectatorChatMessageMsg struct {
	Type     string       `json:"type"`
	DebateID string       `json:"debate_id"`
	Name     string       `json:"name"`
	Message  chat.Message `json:"message"`
}

// OpponentDisconnectedMsg tells a participant the opponent dropped.
// GraceSeconds is set when the debate is held open for a resume.
type OpponentDisconnectedMsg struct {
	Type         string `json:"type"`
	DebateID     string `json:"debate_id"`
	GraceSeconds int    `json:"grace_seconds,omitempty"`
}

// OpponentReconnectedMsg tells a participant the opponent resumed.
type OpponentReconnectedMsg struct {
	Type     string `json:"type"`
	DebateID string `json:"debate_id"`
}

// DebateEndedMsg tells a participant or spectator the debate is over.
type DebateEndedMsg struct {
	Type     string    `json:"type"`
	DebateID string    `json:"debate_id"`
	Reason   string    `json:"reason"`
	EndedBy  string    `json:"ended_by,omitempty"`
	Votes    VoteTally `json:"votes"`
}

// BannedMsg is sent to a connection before it is disconnected for a ban, and
// in reply to find_opponent while the ban lasts.
type BannedMsg struct {
	Type            string   `json:"type"`
	Reason          string   `json:"reason"`
	BannedUntil     int64    `json:"banned_until"` // unix millis
	ReportCount     int      `json:"report_count"`
	Reasons         []string `json:"reasons"`
	TimeLeftMinutes int      `json:"time_left_minutes"`
}

// ReportReceivedMsg confirms report_user.
type ReportReceivedMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// BlockReceivedMsg confirms block_user.
type BlockReceivedMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// DebatesListMsg answers list_debates.
type DebatesListMsg struct {
	Type    string          `json:"type"`
	Debates []DebateSummary `json:"debates"`
}

// RateLimitedMsg is sent when an action is throttled.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// ErrorMsg reports a failed request.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses a raw frame into its concrete client struct. It
// returns the type, the decoded value and an error for malformed JSON and for
// unknown or server-only types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var target interface{}
	switch env.Type {
	case TypeSetProfile:
		target = &SetProfileMsg{}
	case TypeFindOpponent:
		target = &FindOpponentMsg{}
	case TypeCancelSearch:
		target = &CancelSearchMsg{}
	case TypeResumeDebate:
		target = &ResumeDebateMsg{}
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeICECandidate, TypeMuteState, TypeSendEmoji, TypeChat:
		target = &RelayMsg{}
	case TypeTurnCompleted, TypeRequestNewTopic, TypeSkipTopicRequest, TypeEndDebate,
		TypeJoinSpectator, TypeLeaveSpectator:
		target = &DebateMsg{}
	case TypeSkipTopicResponse:
		target = &SkipTopicResponseMsg{}
	case TypeCastVote:
		target = &CastVoteMsg{}
	case TypeSpectatorChat:
		target = &SpectatorChatMsg{}
	case TypeSpectatorSignal:
		target = &SpectatorSignalMsg{}
	case TypeReportUser:
		target = &ReportUserMsg{}
	case TypeBlockUser:
		target = &BlockUserMsg{}
	case TypeListDebates:
		target = &ListDebatesMsg{}
	case TypePing:
		target = &PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err := json.Unmarshal(env.Raw, target); err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, deref(target), nil
}

// deref turns the decoding target back into a value so handlers can type
// switch on plain structs.
func deref(v interface{}) interface{} {
	switch m := v.(type) {
	case *SetProfileMsg:
		return *m
	case *FindOpponentMsg:
		return *m
	case *CancelSearchMsg:
		return *m
	case *ResumeDebateMsg:
		return *m
	case *RelayMsg:
		return *m
	case *DebateMsg:
		return *m
	case *SkipTopicResponseMsg:
		return *m
	case *CastVoteMsg:
		return *m
	case *SpectatorChatMsg:
		return *m
	case *SpectatorSignalMsg:
		return *m
	case *ReportUserMsg:
		return *m
	case *BlockUserMsg:
		return *m
	case *ListDebatesMsg:
		return *m
	case *PingMsg:
		return *m
	}
	return v
}

// NewServerMessage encodes payload as JSON and sets its "type" key to msgType.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
