package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Convenience methods for the election platform's producers. Each formats
// the auditable context as "key:value|key:value" metadata.

// Poll is the auditable view of a poll.
type Poll struct {
	ID        int64
	Title     string
	Status    string
	StartDate time.Time
	EndDate   time.Time
}

// Candidate is the auditable view of a candidate.
type Candidate struct {
	ID     int64
	PollID int64
	Name   string
}

// Vote is the auditable view of a cast vote.
type Vote struct {
	PollID      int64
	CandidateID int64
	VoterID     int64
	IPAddress   string
}

// Voter is the auditable view of a roster entry.
type Voter struct {
	ID         int64
	ExternalID string
	PollID     int64
}

// RecordPollCreated logs poll creation.
func (s *Service) RecordPollCreated(ctx context.Context, p Poll) (Entry, error) {
	return s.recordPoll(ctx, p, ActionCreate)
}

// RecordPollUpdated logs a poll edit.
func (s *Service) RecordPollUpdated(ctx context.Context, p Poll) (Entry, error) {
	return s.recordPoll(ctx, p, ActionUpdate)
}

// RecordPollClosed logs the closure of a poll.
func (s *Service) RecordPollClosed(ctx context.Context, p Poll) (Entry, error) {
	return s.recordPoll(ctx, p, ActionClose)
}

// RecordPollDeleted logs poll deletion.
func (s *Service) RecordPollDeleted(ctx context.Context, p Poll) (Entry, error) {
	return s.recordPoll(ctx, p, ActionDelete)
}

func (s *Service) recordPoll(ctx context.Context, p Poll, action string) (Entry, error) {
	return s.Append(ctx, Event{
		EntityType: EntityPoll,
		EntityID:   p.ID,
		Action:     action,
		Metadata: formatMetadata(
			"poll", strconv.FormatInt(p.ID, 10),
			"title", p.Title,
			"status", p.Status,
			"start", formatTime(p.StartDate),
			"end", formatTime(p.EndDate),
		),
	})
}

// RecordCandidateAdded logs a candidate joining a poll.
func (s *Service) RecordCandidateAdded(ctx context.Context, c Candidate) (Entry, error) {
	return s.recordCandidate(ctx, c, ActionCreate)
}

// RecordCandidateUpdated logs a candidate edit.
func (s *Service) RecordCandidateUpdated(ctx context.Context, c Candidate) (Entry, error) {
	return s.recordCandidate(ctx, c, ActionUpdate)
}

// RecordCandidateRemoved logs a candidate removal.
func (s *Service) RecordCandidateRemoved(ctx context.Context, c Candidate) (Entry, error) {
	return s.recordCandidate(ctx, c, ActionDelete)
}

func (s *Service) recordCandidate(ctx context.Context, c Candidate, action string) (Entry, error) {
	return s.Append(ctx, Event{
		EntityType: EntityCandidate,
		EntityID:   c.ID,
		Action:     action,
		Metadata: formatMetadata(
			"poll", strconv.FormatInt(c.PollID, 10),
			"candidate", strconv.FormatInt(c.ID, 10),
			"name", c.Name,
		),
	})
}

// RecordVoteCast logs a ballot. The entry is keyed by voter so a voter's
// history can be queried directly.
func (s *Service) RecordVoteCast(ctx context.Context, v Vote) (Entry, error) {
	pairs := []string{
		"poll", strconv.FormatInt(v.PollID, 10),
		"candidate", strconv.FormatInt(v.CandidateID, 10),
		"voter", strconv.FormatInt(v.VoterID, 10),
	}
	if v.IPAddress != "" {
		pairs = append(pairs, "ip", v.IPAddress)
	}
	return s.Append(ctx, Event{
		EntityType: EntityVote,
		EntityID:   v.VoterID,
		Action:     ActionCast,
		Metadata:   formatMetadata(pairs...),
	})
}

// RecordVoterImported logs a roster import.
func (s *Service) RecordVoterImported(ctx context.Context, v Voter) (Entry, error) {
	return s.recordVoter(ctx, v, ActionImport)
}

// RecordVoterUpdated logs a roster edit.
func (s *Service) RecordVoterUpdated(ctx context.Context, v Voter) (Entry, error) {
	return s.recordVoter(ctx, v, ActionUpdate)
}

// RecordVoterRemoved logs a roster removal.
func (s *Service) RecordVoterRemoved(ctx context.Context, v Voter) (Entry, error) {
	return s.recordVoter(ctx, v, ActionDelete)
}

func (s *Service) recordVoter(ctx context.Context, v Voter, action string) (Entry, error) {
	pairs := []string{"voter", strconv.FormatInt(v.ID, 10)}
	if v.ExternalID != "" {
		pairs = append(pairs, "external", v.ExternalID)
	}
	if v.PollID > 0 {
		pairs = append(pairs, "poll", strconv.FormatInt(v.PollID, 10))
	}
	return s.Append(ctx, Event{
		EntityType: EntityVoter,
		EntityID:   v.ID,
		Action:     action,
		Metadata:   formatMetadata(pairs...),
	})
}

func formatMetadata(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, pairs[i]+":"+pairs[i+1])
	}
	return strings.Join(parts, "|")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
