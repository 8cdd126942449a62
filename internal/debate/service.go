package debate

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/matching"
	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/moderation"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/ratelimit"
	"github.com/hottake/debate-app/internal/session"
	"github.com/hottake/debate-app/internal/topic"
)

// MaxNameLength caps display names, in runes.
const MaxNameLength = 32

// MaxLiveListing caps the live debate listing.
const MaxLiveListing = 20

// Config holds the timing and access policy of the service.
type Config struct {
	MatchTimeout       time.Duration
	OpeningDuration    time.Duration
	ResponseDuration   time.Duration
	OpenDebateDuration time.Duration
	VotingDuration     time.Duration
	TurnDebounce       time.Duration
	TopicDebounce      time.Duration
	DisconnectGrace    time.Duration // 0 tears a debate down as soon as a participant drops
	IdleTimeout        time.Duration // debates without activity for this long are ended
	PollIdleTimeout    time.Duration // polling connections not seen for this long are dropped
	PremiumKeys        []string
	ICEServers         []webrtc.ICEServer
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		MatchTimeout:       30 * time.Second,
		OpeningDuration:    90 * time.Second,
		ResponseDuration:   90 * time.Second,
		OpenDebateDuration: 60 * time.Second,
		VotingDuration:     30 * time.Second,
		TurnDebounce:       time.Second,
		TopicDebounce:      2 * time.Second,
		IdleTimeout:        30 * time.Minute,
		PollIdleTimeout:    2 * time.Minute,
	}
}

// Notifier delivers frames to connections and closes them.
type Notifier interface {
	Send(connID, msgType string, payload interface{}) error
	Close(connID string)
}

// Sweeper is a store with periodic housekeeping.
type Sweeper interface {
	Sweep() int
}

// Deps are the collaborators of a Service. Registry, Queue, Catalog, Guard and
// Notifier are required; the rest default to in-process implementations.
type Deps struct {
	Registry *session.Registry
	Queue    *matching.Queue
	Catalog  *topic.Catalog
	Guard    *moderation.Guard
	Notifier Notifier
	Filter   *moderation.Filter
	Limiter  ratelimit.Limiter
	Events   messaging.Publisher
	Clock    Clock
	Sweepers []Sweeper
}

// Service is the debate orchestrator. Every mutation of queues, debates and
// connection bindings runs under mu; frames produced by a mutation are
// collected in an outbox and delivered after mu is released.
type Service struct {
	cfg      Config
	registry *session.Registry
	queue    *matching.Queue
	catalog  *topic.Catalog
	guard    *moderation.Guard
	filter   *moderation.Filter
	limiter  ratelimit.Limiter
	notifier Notifier
	events   messaging.Publisher
	clock    Clock
	sweepers []Sweeper
	log      zerolog.Logger

	intn  func(n int) int
	newID func() string

	mu    sync.Mutex
	store *Store
}

// NewService wires a Service.
func NewService(cfg Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		registry: deps.Registry,
		queue:    deps.Queue,
		catalog:  deps.Catalog,
		guard:    deps.Guard,
		filter:   deps.Filter,
		limiter:  deps.Limiter,
		notifier: deps.Notifier,
		events:   deps.Events,
		clock:    deps.Clock,
		sweepers: deps.Sweepers,
		log:      logging.Component("debate"),
		intn:     rand.IntN,
		newID:    uuid.NewString,
		store:    newStore(),
	}
	if s.filter == nil {
		s.filter = moderation.NewFilter()
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter()
	}
	if s.events == nil {
		s.events = messaging.NopPublisher{}
	}
	if s.clock == nil {
		s.clock = RealClock()
	}
	return s
}

// ---------------------------------------------------------------------------
// Outbox
// ---------------------------------------------------------------------------

type outFrame struct {
	conn    string
	msgType string
	payload interface{}
}

type outEvent struct {
	subject string
	event   interface{}
}

// outbox collects the side effects of one locked mutation.
type outbox struct {
	frames []outFrame
	events []outEvent
	closes []string
	after  []func()
}

func (o *outbox) send(conn, msgType string, payload interface{}) {
	o.frames = append(o.frames, outFrame{conn: conn, msgType: msgType, payload: payload})
}

func (o *outbox) publish(subject string, event interface{}) {
	o.events = append(o.events, outEvent{subject: subject, event: event})
}

func (o *outbox) close(conn string) {
	o.closes = append(o.closes, conn)
}

// do runs fn under the service lock and flushes its outbox afterwards.
func (s *Service) do(fn func(o *outbox) error) error {
	var o outbox
	s.mu.Lock()
	err := fn(&o)
	s.updateGaugesLocked()
	s.mu.Unlock()
	s.flush(&o)
	return err
}

func (s *Service) flush(o *outbox) {
	for _, f := range o.frames {
		s.notify(f.conn, f.msgType, f.payload)
	}
	for _, e := range o.events {
		s.events.Publish(e.subject, e.event)
	}
	for _, conn := range o.closes {
		s.notifier.Close(conn)
	}
	for _, fn := range o.after {
		fn()
	}
}

// notify sends one frame outside the lock. Delivery failures are logged; the
// transport reports the dead connection through Disconnect.
func (s *Service) notify(connID, msgType string, payload interface{}) {
	if err := s.notifier.Send(connID, msgType, payload); err != nil {
		s.log.Debug().Str("conn", connID).Str("msg", msgType).Err(err).Msg("notify failed")
	}
}

func (s *Service) updateGaugesLocked() {
	metrics.ActiveDebates.Set(float64(s.store.Len()))
	metrics.MatchQueueSize.Set(float64(s.queue.Len()))
	spectators := 0
	for _, d := range s.store.debates {
		spectators += d.SpectatorCount()
	}
	metrics.Spectators.Set(float64(spectators))
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// Connect registers a new connection and greets it with its id.
func (s *Service) Connect(connID, name string, t session.Transport) error {
	if _, err := s.registry.Register(connID, cleanName(name), t); err != nil {
		return err
	}
	if t != nil {
		metrics.ConnectionsTotal.WithLabelValues(string(t.Kind())).Inc()
	}
	s.notify(connID, protocol.TypeConnected, protocol.ConnectedMsg{ConnectionID: connID})
	s.log.Debug().Str("conn", connID).Msg("connected")
	return nil
}

// SetProfile updates display name and moderation identity. A premium key that
// matches the configured keys unlocks category pools.
func (s *Service) SetProfile(connID, name, fingerprint, premiumKey string) (session.Connection, error) {
	privileged := premiumKey != "" && s.isPremiumKey(premiumKey)
	c, ok := s.registry.SetProfile(connID, cleanName(name), strings.TrimSpace(fingerprint), privileged)
	if !ok {
		return session.Connection{}, ErrUnknownConnection
	}
	s.notify(connID, protocol.TypeProfileSet, protocol.ProfileSetMsg{Name: c.Name, Privileged: c.Privileged})
	return c, nil
}

func (s *Service) isPremiumKey(key string) bool {
	for _, k := range s.cfg.PremiumKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Disconnect releases every piece of state held by connID: its queue entry,
// its spectator seat and its debate. It is called by the transports when a
// connection goes away and is safe to call more than once.
func (s *Service) Disconnect(connID string) {
	_ = s.do(func(o *outbox) error {
		s.disconnectLocked(o, connID)
		return nil
	})
}

func (s *Service) disconnectLocked(o *outbox, connID string) {
	c, ok := s.registry.Get(connID)
	if !ok {
		return
	}
	s.detachLocked(o, c, true)
	s.registry.Remove(connID)
	if c.Transport != nil {
		metrics.ConnectionsTotal.WithLabelValues(string(c.Transport.Kind())).Dec()
	}
	if c.Identity() == c.ID {
		s.guard.Forget(c.ID)
	}
	s.log.Debug().Str("conn", connID).Msg("disconnected")
}

// detachLocked removes c from the queue, its spectator seat and its debate.
// allowGrace lets a debate wait for the participant to resume.
func (s *Service) detachLocked(o *outbox, c session.Connection, allowGrace bool) {
	s.queue.Remove(c.ID)
	if c.Spectating != "" {
		if d := s.store.Get(c.Spectating); d != nil {
			s.leaveSpectatorLocked(o, d, c.ID, false)
		}
	}
	if c.DebateID != "" {
		if d := s.store.Get(c.DebateID); d != nil {
			s.participantDroppedLocked(o, d, c.ID, allowGrace)
		}
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Get returns the snapshot of a debate.
func (s *Service) Get(debateID string) (protocol.DebateView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.store.Get(debateID)
	if d == nil {
		return protocol.DebateView{}, ErrSessionNotFound
	}
	return d.View(s.clock.Now()), nil
}

// PhaseStatus is the current phase of a debate with its remaining time.
type PhaseStatus struct {
	DebateID         string `json:"debate_id"`
	Phase            string `json:"phase"`
	Round            int    `json:"round"`
	CurrentSpeaker   string `json:"current_speaker,omitempty"`
	Started          bool   `json:"started"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// Phase returns the phase of a debate; the remaining time is recomputed from
// the last phase update.
func (s *Service) Phase(debateID string) (PhaseStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.store.Get(debateID)
	if d == nil {
		return PhaseStatus{}, ErrSessionNotFound
	}
	return PhaseStatus{
		DebateID:         d.ID,
		Phase:            string(d.Phase),
		Round:            d.Round,
		CurrentSpeaker:   d.CurrentSpeaker,
		Started:          d.Started,
		RemainingSeconds: ceilSeconds(d.Remaining(s.clock.Now())),
	}, nil
}

// ListLive returns at most MaxLiveListing debates, most recent first.
func (s *Service) ListLive() []protocol.DebateSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	recent := s.store.Recent()
	if len(recent) > MaxLiveListing {
		recent = recent[:MaxLiveListing]
	}
	out := make([]protocol.DebateSummary, 0, len(recent))
	for _, d := range recent {
		out = append(out, d.Summary(now))
	}
	return out
}

// Stats are the read-only counters exposed by the health surface.
type Stats struct {
	Waiting       int                      `json:"waiting"`
	ActiveDebates int                      `json:"active_debates"`
	Connected     int                      `json:"connected"`
	Spectators    int                      `json:"spectators"`
	Debates       []protocol.DebateSummary `json:"debates,omitempty"`
}

// Stats returns the counters; withDebates adds one summary per debate.
func (s *Service) Stats(withDebates bool) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Waiting:       s.queue.Len(),
		ActiveDebates: s.store.Len(),
		Connected:     s.registry.Count(),
	}
	now := s.clock.Now()
	for _, d := range s.store.Recent() {
		st.Spectators += d.SpectatorCount()
		if withDebates {
			st.Debates = append(st.Debates, d.Summary(now))
		}
	}
	return st
}

// Shutdown ends every debate and notifies its members.
func (s *Service) Shutdown() {
	_ = s.do(func(o *outbox) error {
		for _, d := range s.store.Recent() {
			s.endLocked(o, d, ending{reason: ReasonShutdown})
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// allow applies a rate limit rule to identity. Limiter failures fail open.
func (s *Service) allow(ctx context.Context, identity, action string, rule ratelimit.Rule) error {
	ok, err := s.limiter.Allow(ctx, identity, rule)
	if err != nil {
		s.log.Warn().Str("action", action).Err(err).Msg("rate limiter error")
	}
	if !ok {
		return &RateLimitedError{Action: action, RetryAfter: rule.Window}
	}
	return nil
}

// lookup returns the connection or ErrUnknownConnection.
func (s *Service) lookup(connID string) (session.Connection, error) {
	c, ok := s.registry.Get(connID)
	if !ok {
		return session.Connection{}, ErrUnknownConnection
	}
	return c, nil
}

// broadcastLocked queues a frame for both connected participants and every
// spectator.
func (s *Service) broadcastLocked(o *outbox, d *Debate, msgType string, payload interface{}) {
	s.toParticipantsLocked(o, d, msgType, payload)
	s.toSpectatorsLocked(o, d, msgType, payload)
}

func (s *Service) toParticipantsLocked(o *outbox, d *Debate, msgType string, payload interface{}) {
	for _, p := range d.Participants {
		if p.Connected {
			o.send(p.ConnID, msgType, payload)
		}
	}
}

func (s *Service) toSpectatorsLocked(o *outbox, d *Debate, msgType string, payload interface{}) {
	for _, id := range d.SpectatorIDs() {
		o.send(id, msgType, payload)
	}
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	return name
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
