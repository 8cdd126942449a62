// Package debate owns the debate sessions: matchmaking orchestration, the
// phase engine, spectators and votes, signalling relay resolution and
// moderation enforcement. All mutations go through Service, which serializes
// them under one lock and delivers notifications after releasing it.
package debate

import (
	"sort"
	"time"

	"github.com/hottake/debate-app/internal/chat"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/topic"
)

// Phase is a stage of the debate state machine.
type Phase string

const (
	PhaseOpening       Phase = "opening"
	PhaseResponse      Phase = "response"
	PhaseOpenDebate    Phase = "open-debate"
	PhaseTransitioning Phase = "transitioning"
	PhaseEnded         Phase = "ended"
)

// Stances.
const (
	StanceFor     = "for"
	StanceAgainst = "against"
)

// Participant slots, also the accepted vote choices.
const (
	SlotParticipant1 = "participant1"
	SlotParticipant2 = "participant2"
)

// End reasons carried by debate_ended.
const (
	ReasonEnded                = "ended"
	ReasonOpponentDisconnected = "opponent_disconnected"
	ReasonOpponentLeft         = "opponent_left"
	ReasonIdle                 = "idle"
	ReasonBanned               = "banned"
	ReasonShutdown             = "shutdown"
)

// Participant is one debater of a debate.
type Participant struct {
	ConnID      string
	Name        string
	Identity    string
	Stance      string
	Slot        string
	Ready       bool
	Connected   bool
	ResumeToken string
}

// Debate is one matched session between two participants.
type Debate struct {
	ID               string
	Topic            topic.Topic
	Category         string
	Phase            Phase
	Round            int
	CurrentSpeaker   string
	LastFirstSpeaker string
	Participants     [2]*Participant
	Started          bool
	SkipRequestedBy  string

	StartedAt      time.Time
	PhaseStartedAt time.Time
	PhaseDuration  time.Duration
	LastActivity   time.Time
	LastTopicAt    time.Time

	// Last accepted turn_completed; the debounce window starts here.
	lastTurnAt time.Time
	lastTurnBy string

	// Set while a dropped participant may still resume.
	GraceFor        string
	pausedRemaining time.Duration

	spectators map[string]struct{}
	votes      map[string]string // spectator conn id -> slot
	chat       *chat.Log

	timer    Timer
	timerSeq uint64
}

func newDebate(id string, t topic.Topic, category string, p1, p2 *Participant, now time.Time) *Debate {
	p1.Slot = SlotParticipant1
	p2.Slot = SlotParticipant2
	return &Debate{
		ID:             id,
		Topic:          t,
		Category:       category,
		Phase:          PhaseOpening,
		Round:          1,
		Participants:   [2]*Participant{p1, p2},
		StartedAt:      now,
		PhaseStartedAt: now,
		LastActivity:   now,
		LastTopicAt:    now,
		spectators:     make(map[string]struct{}),
		votes:          make(map[string]string),
		chat:           chat.NewLog(),
	}
}

// Participant returns the participant bound to connID, or nil.
func (d *Debate) Participant(connID string) *Participant {
	for _, p := range d.Participants {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

// Opponent returns the other participant of connID, or nil when connID is
// not a participant.
func (d *Debate) Opponent(connID string) *Participant {
	switch connID {
	case d.Participants[0].ConnID:
		return d.Participants[1]
	case d.Participants[1].ConnID:
		return d.Participants[0]
	}
	return nil
}

// HasSpectator reports whether connID watches this debate.
func (d *Debate) HasSpectator(connID string) bool {
	_, ok := d.spectators[connID]
	return ok
}

// SpectatorCount returns the number of attached spectators.
func (d *Debate) SpectatorCount() int { return len(d.spectators) }

// SpectatorIDs returns the spectators in a stable order.
func (d *Debate) SpectatorIDs() []string {
	ids := make([]string, 0, len(d.spectators))
	for id := range d.spectators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tally counts the current round's votes.
func (d *Debate) Tally() protocol.VoteTally {
	var t protocol.VoteTally
	for _, slot := range d.votes {
		switch slot {
		case SlotParticipant1:
			t.Participant1++
		case SlotParticipant2:
			t.Participant2++
		}
	}
	return t
}

// Remaining returns the time left in the current phase, recomputed from the
// phase start rather than read from the timer.
func (d *Debate) Remaining(now time.Time) time.Duration {
	if !d.Started || d.PhaseDuration <= 0 {
		return 0
	}
	if d.GraceFor != "" {
		return d.pausedRemaining
	}
	left := d.PhaseDuration - now.Sub(d.PhaseStartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// ChatLog returns the retained chat history, oldest first.
func (d *Debate) ChatLog() []chat.Message { return d.chat.Messages() }

// View builds the full snapshot of the debate.
func (d *Debate) View(now time.Time) protocol.DebateView {
	parts := make([]protocol.ParticipantView, 0, 2)
	for _, p := range d.Participants {
		parts = append(parts, protocol.ParticipantView{
			ID:        p.ConnID,
			Name:      p.Name,
			Stance:    p.Stance,
			Slot:      p.Slot,
			Connected: p.Connected,
		})
	}
	return protocol.DebateView{
		ID:               d.ID,
		Topic:            d.Topic.Text,
		Category:         d.Category,
		Phase:            string(d.Phase),
		Round:            d.Round,
		CurrentSpeaker:   d.CurrentSpeaker,
		Participants:     parts,
		Spectators:       len(d.spectators),
		Votes:            d.Tally(),
		Started:          d.Started,
		StartedAt:        d.StartedAt.UnixMilli(),
		DurationSeconds:  int(now.Sub(d.StartedAt).Seconds()),
		RemainingSeconds: ceilSeconds(d.Remaining(now)),
	}
}

// Summary builds the listing entry of the debate.
func (d *Debate) Summary(now time.Time) protocol.DebateSummary {
	return protocol.DebateSummary{
		ID:              d.ID,
		Topic:           d.Topic.Text,
		Category:        d.Category,
		Phase:           string(d.Phase),
		Round:           d.Round,
		Spectators:      len(d.spectators),
		DurationSeconds: int(now.Sub(d.StartedAt).Seconds()),
		Votes:           d.Tally(),
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
