package debate

import (
	"context"
	"strings"

	"github.com/hottake/debate-app/internal/ban"
	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/moderation"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/ratelimit"
)

// MaxReasonLength caps report reasons, in bytes.
const MaxReasonLength = 200

// resolveTarget returns the moderation identity and connection id of the
// user targeted by a report or block. An empty target means the reporter's
// current opponent. Targets that are no longer connected are addressed by the
// id the client knows them by.
func (s *Service) resolveTarget(reporterConn, targetID string) (identity, connID string, err error) {
	if targetID == "" {
		s.mu.Lock()
		r, ok := s.registry.Get(reporterConn)
		var d *Debate
		if ok && r.DebateID != "" {
			d = s.store.Get(r.DebateID)
		}
		if d != nil {
			if opp := d.Opponent(reporterConn); opp != nil {
				identity, connID = opp.Identity, opp.ConnID
			}
		}
		s.mu.Unlock()
		if connID == "" {
			return "", "", ErrOpponentUnresolvable
		}
		return identity, connID, nil
	}
	if t, ok := s.registry.Get(targetID); ok {
		return t.Identity(), t.ID, nil
	}
	return targetID, targetID, nil
}

// Report files a report from reporterConn against targetID and returns the
// number of reports inside the window. Crossing the threshold bans the
// target: every connection of that identity gets a ban notice, is removed
// from its queue, seat and debate, and is closed.
func (s *Service) Report(ctx context.Context, reporterConn, targetID, reason string) (int, error) {
	reporter, err := s.lookup(reporterConn)
	if err != nil {
		return 0, err
	}
	identity, target, err := s.resolveTarget(reporterConn, targetID)
	if err != nil {
		return 0, err
	}
	if identity == reporter.Identity() || target == reporterConn {
		return 0, ErrNotAuthorized
	}
	if err := s.allow(ctx, reporter.Identity(), "report_user", ratelimit.RuleReport); err != nil {
		return 0, err
	}

	reason = strings.TrimSpace(reason)
	if len(reason) > MaxReasonLength {
		reason = reason[:MaxReasonLength]
	}
	if reason == "" {
		reason = "unspecified"
	}

	out, err := s.guard.Report(ctx, identity, reporter.Identity(), reason)
	if err != nil {
		// The report itself was recorded; only persisting the ban failed.
		s.log.Error().Str("target", identity).Err(err).Msg("storing ban failed")
	}
	metrics.ReportsTotal.Inc()

	now := s.clock.Now()
	var debateID string
	if c, ok := s.registry.Get(target); ok {
		debateID = c.DebateID
	}
	s.events.Publish(messaging.SubjectModerationReport, moderation.ReportEvent{
		Target:   identity,
		Reporter: reporter.Identity(),
		Reason:   reason,
		DebateID: debateID,
		Count:    out.Count,
		Ts:       now.UnixMilli(),
	})
	s.notify(reporterConn, protocol.TypeReportReceived, protocol.ReportReceivedMsg{Count: out.Count})
	s.log.Info().Str("target", identity).Str("reporter", reporter.Identity()).Int("count", out.Count).Msg("report received")

	if out.Ban != nil {
		s.enforceBan(identity, out.Ban)
	}
	return out.Count, nil
}

// enforceBan notifies and disconnects every connection of identity.
func (s *Service) enforceBan(identity string, rec *ban.Record) {
	metrics.BansTotal.Inc()
	_ = s.do(func(o *outbox) error {
		now := s.clock.Now()
		notice := banNotice(rec.Until, rec.Count, rec.Reasons, rec.Reason, rec.Remaining(now))
		for _, connID := range s.registry.ByIdentity(identity) {
			c, ok := s.registry.Get(connID)
			if !ok {
				continue
			}
			o.send(connID, protocol.TypeBanned, notice)
			if c.DebateID != "" {
				if d := s.store.Get(c.DebateID); d != nil {
					s.endLocked(o, d, ending{reason: ReasonBanned, dropped: connID})
				}
			}
			s.detachLocked(o, c, false)
			s.registry.ClearDebate(connID)
			s.registry.SetSpectating(connID, "")
			o.close(connID)
		}
		o.publish(messaging.SubjectModerationBan, moderation.BanEvent{
			Identity: identity,
			Until:    rec.Until.UnixMilli(),
			Count:    rec.Count,
			Reasons:  rec.Reasons,
			Reason:   rec.Reason,
			Ts:       now.UnixMilli(),
		})
		s.log.Warn().Str("identity", identity).Time("until", rec.Until).Int("count", rec.Count).Msg("identity banned")
		return nil
	})
}

// Block stops the blocker and the target from being paired again, in both
// directions. An empty target means the current opponent.
func (s *Service) Block(blockerConn, targetID string) error {
	blocker, err := s.lookup(blockerConn)
	if err != nil {
		return err
	}
	identity, target, err := s.resolveTarget(blockerConn, targetID)
	if err != nil {
		return err
	}
	if identity == blocker.Identity() {
		return ErrNotAuthorized
	}
	s.guard.Block(blocker.Identity(), identity)
	s.notify(blockerConn, protocol.TypeBlockReceived, protocol.BlockReceivedMsg{TargetID: target})
	s.log.Info().Str("blocker", blocker.Identity()).Str("blocked", identity).Msg("block recorded")
	return nil
}
