package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository. A single mutex stands in for
// row locks, so every method observes the same conditional semantics as the
// PostgreSQL queries.
type MemoryStore struct {
	mu            sync.Mutex
	players       map[string]Player
	playersByKey  map[string]string
	queue         map[string]QueueEntry
	offers        map[string]MatchOffer
	matches       map[string]Match
	rounds        map[string]MatchRound
	answers       map[string][]RoundAnswer
	notifications []MatchNotification
	ratings       map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:      map[string]Player{},
		playersByKey: map[string]string{},
		queue:        map[string]QueueEntry{},
		offers:       map[string]MatchOffer{},
		matches:      map[string]Match{},
		rounds:       map[string]MatchRound{},
		answers:      map[string][]RoundAnswer{},
		ratings:      map[string]int{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) CreatePlayer(ctx context.Context, displayName, apiKey string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := HashAPIKey(apiKey)
	if _, ok := m.playersByKey[hash]; ok {
		return nil, ErrDuplicateAPIKey
	}
	p := Player{ID: NewID(), DisplayName: displayName, APIKeyHash: hash, CreatedAt: time.Now().UTC()}
	m.players[p.ID] = p
	m.playersByKey[hash] = p.ID
	return &p, nil
}

func (m *MemoryStore) GetPlayer(ctx context.Context, id string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetPlayerByAPIKey(ctx context.Context, apiKey string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.playersByKey[HashAPIKey(apiKey)]
	if !ok {
		return nil, ErrNotFound
	}
	p := m.players[id]
	return &p, nil
}

func (m *MemoryStore) UpsertQueueEntry(ctx context.Context, p JoinQueueParams) (*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.queue[p.PlayerID]
	if !ok {
		e := QueueEntry{PlayerID: p.PlayerID, Subject: p.Subject, Level: p.Level, Status: QueueWaiting, JoinedAt: p.Now, LastHeartbeat: p.Now}
		m.queue[p.PlayerID] = e
		return &e, nil
	}
	sameBucket := cur.Subject == p.Subject && cur.Level == p.Level
	if cur.Status != QueueWaiting && !sameBucket {
		return nil, ErrAlreadyQueued
	}
	if !sameBucket {
		cur.JoinedAt = p.Now
	}
	cur.Subject = p.Subject
	cur.Level = p.Level
	cur.LastHeartbeat = p.Now
	m.queue[p.PlayerID] = cur
	return &cur, nil
}

func (m *MemoryStore) TouchQueueEntry(ctx context.Context, playerID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[playerID]
	if !ok {
		return false, nil
	}
	e.LastHeartbeat = now
	m.queue[playerID] = e
	return true, nil
}

func (m *MemoryStore) DeleteQueueEntry(ctx context.Context, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[playerID]
	delete(m.queue, playerID)
	return ok, nil
}

func (m *MemoryStore) GetQueueEntry(ctx context.Context, playerID string) (*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) ListWaitingBuckets(ctx context.Context, freshAfter time.Time) ([]Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[Bucket]int{}
	for _, e := range m.queue {
		if e.Status == QueueWaiting && !e.LastHeartbeat.Before(freshAfter) {
			counts[Bucket{Subject: e.Subject, Level: e.Level}]++
		}
	}
	out := []Bucket{}
	for b, n := range counts {
		if n >= 2 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Level < out[j].Level
	})
	return out, nil
}

func (m *MemoryStore) DeleteStaleQueueEntries(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.queue {
		if e.LastHeartbeat.Before(cutoff) {
			delete(m.queue, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateOfferFromQueue(ctx context.Context, p PairParams) (*MatchOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := []QueueEntry{}
	for _, e := range m.queue {
		if e.Status == QueueWaiting && e.Subject == p.Subject && e.Level == p.Level && !e.LastHeartbeat.Before(p.FreshAfter) {
			waiting = append(waiting, e)
		}
	}
	if len(waiting) < 2 {
		return nil, nil
	}
	sort.Slice(waiting, func(i, j int) bool {
		if !waiting[i].JoinedAt.Equal(waiting[j].JoinedAt) {
			return waiting[i].JoinedAt.Before(waiting[j].JoinedAt)
		}
		return waiting[i].PlayerID < waiting[j].PlayerID
	})
	a, b := waiting[0], waiting[1]
	o := MatchOffer{
		ID:        NewID(),
		P1:        a.PlayerID,
		P2:        b.PlayerID,
		Subject:   p.Subject,
		Level:     p.Level,
		State:     OfferPending,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.Now,
	}
	a.Status, b.Status = QueueMatched, QueueMatched
	a.OfferID, b.OfferID = o.ID, o.ID
	m.queue[a.PlayerID] = a
	m.queue[b.PlayerID] = b
	m.offers[o.ID] = o
	return &o, nil
}

func (m *MemoryStore) CreateSelfPlayOffer(ctx context.Context, p SelfPlayParams) (*MatchOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := MatchOffer{
		ID:        NewID(),
		P1:        p.PlayerID,
		P2:        p.PlayerID,
		Subject:   p.Subject,
		Level:     p.Level,
		State:     OfferPending,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.Now,
	}
	m.offers[o.ID] = o
	return &o, nil
}

func (m *MemoryStore) GetOffer(ctx context.Context, id string) (*MatchOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *MemoryStore) GetPendingOfferForPlayer(ctx context.Context, playerID string, now time.Time) (*MatchOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *MatchOffer
	for _, o := range m.offers {
		if o.State != OfferPending || !o.ExpiresAt.After(now) || !o.IsParticipant(playerID) {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			o := o
			best = &o
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) AcceptOffer(ctx context.Context, p AcceptParams) (*AcceptOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[p.OfferID]
	if !ok {
		return nil, ErrNotFound
	}
	if !o.IsParticipant(p.PlayerID) {
		return nil, ErrNotAParticipant
	}
	switch {
	case o.State == OfferAccepted:
		return m.acceptedOutcomeLocked(o), nil
	case o.State != OfferPending:
		return nil, ErrOfferNotPending
	case !o.ExpiresAt.After(p.Now):
		return nil, ErrOfferExpired
	}

	if o.P1 == p.PlayerID {
		o.P1Accepted = true
	}
	if o.P2 == p.PlayerID {
		o.P2Accepted = true
	}
	if !o.P1Accepted || !o.P2Accepted {
		m.offers[o.ID] = o
		return &AcceptOutcome{Offer: o}, nil
	}

	seed, err := p.Seed(o)
	if err != nil {
		return nil, err
	}
	match := Match{
		ID:          NewID(),
		OfferID:     o.ID,
		P1:          o.P1,
		P2:          o.P2,
		Subject:     o.Subject,
		Level:       o.Level,
		RoundCount:  1,
		TotalRounds: seed.TotalRounds,
		TargetScore: seed.TargetScore,
		CreatedAt:   p.Now,
	}
	round := seedRound(match, seed, p.Now)
	match.CurrentRoundID = round.ID

	now := p.Now
	o.State = OfferAccepted
	o.MatchID = match.ID
	o.ResolvedAt = &now
	m.offers[o.ID] = o
	m.matches[match.ID] = match
	m.rounds[round.ID] = round
	for _, uid := range notificationRecipients(match.P1, match.P2) {
		m.notifications = append(m.notifications, MatchNotification{ID: NewID(), UserID: uid, MatchID: match.ID, CreatedAt: now})
	}
	delete(m.queue, o.P1)
	delete(m.queue, o.P2)
	return &AcceptOutcome{Offer: o, Match: &match, Round: &round, Created: true}, nil
}

func (m *MemoryStore) acceptedOutcomeLocked(o MatchOffer) *AcceptOutcome {
	out := &AcceptOutcome{Offer: o}
	if match, ok := m.matches[o.MatchID]; ok {
		out.Match = &match
		if r, ok := m.rounds[match.CurrentRoundID]; ok {
			out.Round = &r
		}
	}
	return out
}

func (m *MemoryStore) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.offers {
		if o.State != OfferPending || !o.ExpiresAt.Before(now) {
			continue
		}
		resolved := now
		o.State = OfferExpired
		o.ResolvedAt = &resolved
		m.offers[id] = o
		n++
		for _, pid := range []string{o.P1, o.P2} {
			if e, ok := m.queue[pid]; ok && e.Status == QueueMatched && e.OfferID == id {
				e.Status = QueueWaiting
				e.OfferID = ""
				m.queue[pid] = e
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) GetMatch(ctx context.Context, id string) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &match, nil
}

func (m *MemoryStore) ListActiveMatchesForPlayer(ctx context.Context, playerID string) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Match{}
	for _, match := range m.matches {
		if !match.Ended() && match.IsParticipant(playerID) {
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetRound(ctx context.Context, id string) (*MatchRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListMatchRounds(ctx context.Context, matchID string) ([]MatchRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []MatchRound{}
	for _, r := range m.rounds {
		if r.MatchID == matchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundIndex < out[j].RoundIndex })
	return out, nil
}

func (m *MemoryStore) ListRoundAnswers(ctx context.Context, roundID string) ([]RoundAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.answers[roundID]), nil
}

func (m *MemoryStore) ListOverdueRounds(ctx context.Context, now time.Time, limit int) ([]MatchRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []MatchRound{}
	for _, r := range m.rounds {
		if !r.Closed() && r.EndsAt.Before(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(out[j].EndsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AdvanceRound(ctx context.Context, p AdvanceParams, plan PlanFunc) (*AdvanceOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[p.RoundID]
	if !ok || r.MatchID != p.MatchID {
		return nil, ErrNotFound
	}
	if r.Closed() {
		return &AdvanceOutcome{Match: m.matches[r.MatchID], Round: r}, ErrRoundClosed
	}
	if r.PhaseSeq != p.ExpectedSeq {
		return &AdvanceOutcome{Match: m.matches[r.MatchID], Round: r}, ErrPhaseConflict
	}

	fenced := r
	fenced.PhaseSeq++
	match := m.matches[r.MatchID]
	snap := RoundSnapshot{
		Match:           match,
		Round:           fenced,
		Answers:         slices.Clone(m.answers[r.ID]),
		UsedQuestionIDs: m.usedQuestionIDsLocked(match.ID),
		Ratings:         m.ratingsLocked(match.Participants()),
	}
	tr, err := plan(snap)
	if err != nil {
		return nil, err
	}

	fenced.Phase = tr.Phase
	fenced.EndsAt = tr.EndsAt
	if tr.ChoosingStartedAt != nil {
		fenced.ChoosingStartedAt = tr.ChoosingStartedAt
	}
	if tr.Results != nil {
		fenced.Results = tr.Results
		fenced.P1Delta = tr.P1Delta
		fenced.P2Delta = tr.P2Delta
	}
	if tr.Complete {
		now := p.Now
		fenced.CompletedAt = &now
	}
	m.rounds[fenced.ID] = fenced

	match.P1Score = tr.P1Score
	match.P2Score = tr.P2Score
	out := &AdvanceOutcome{Round: fenced}
	if tr.NextRound != nil {
		next := *tr.NextRound
		m.rounds[next.ID] = next
		match.CurrentRoundID = next.ID
		match.RoundCount++
		out.NextRound = &next
	}
	if tr.End != nil {
		m.endMatchLocked(&match, *tr.End, p.Now)
		end := *tr.End
		out.End = &end
	}
	m.matches[match.ID] = match
	out.Match = match
	return out, nil
}

func (m *MemoryStore) InsertRoundAnswer(ctx context.Context, p AnswerParams) (*RoundAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.answers[p.RoundID] {
		if a.PlayerID == p.PlayerID && a.StepID == p.StepID {
			a := a
			return &a, ErrDuplicateAnswer
		}
	}
	r, ok := m.rounds[p.RoundID]
	if !ok || r.MatchID != p.MatchID {
		return nil, ErrNotFound
	}
	if !m.matches[r.MatchID].IsParticipant(p.PlayerID) {
		return nil, ErrNotAParticipant
	}
	if r.Phase != PhaseChoosing || r.Closed() {
		return nil, ErrNotChoosing
	}
	a := RoundAnswer{RoundID: p.RoundID, PlayerID: p.PlayerID, StepID: p.StepID, OptionIndex: p.OptionIndex, SubmittedAt: p.Now}
	m.answers[p.RoundID] = append(m.answers[p.RoundID], a)
	return &a, nil
}

func (m *MemoryStore) ForfeitMatch(ctx context.Context, p ForfeitParams, finish FinishFunc) (*ForfeitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[p.MatchID]
	if !ok {
		return nil, ErrNotFound
	}
	if !match.IsParticipant(p.PlayerID) {
		return nil, ErrNotAParticipant
	}
	if match.Ended() {
		return nil, ErrMatchEnded
	}
	end := finish(match, m.ratingsLocked(match.Participants()))
	m.endMatchLocked(&match, end, p.Now)
	m.matches[match.ID] = match

	out := &ForfeitOutcome{Match: match, End: end}
	if r, ok := m.rounds[match.CurrentRoundID]; ok && !r.Closed() {
		now := p.Now
		r.PhaseSeq++
		r.CompletedAt = &now
		m.rounds[r.ID] = r
		out.Round = &r
	}
	return out, nil
}

func (m *MemoryStore) GetRatings(ctx context.Context, playerIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ratingsLocked(playerIDs), nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]MatchNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []MatchNotification{}
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUndeliveredNotifications(ctx context.Context, limit int) ([]MatchNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []MatchNotification{}
	for _, n := range m.notifications {
		if n.DeliveredAt == nil {
			out = append(out, n)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			if m.notifications[i].DeliveredAt == nil {
				t := at
				m.notifications[i].DeliveredAt = &t
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) CountNotificationsByMatch(ctx context.Context, matchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.notifications {
		if row.MatchID == matchID {
			n++
		}
	}
	return n, nil
}

// MutateRound applies fn to a stored round. It is meant for fixtures and
// operator repair, not for gameplay paths.
func (m *MemoryStore) MutateRound(id string, fn func(r *MatchRound)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return ErrNotFound
	}
	fn(&r)
	m.rounds[id] = r
	return nil
}

func (m *MemoryStore) endMatchLocked(match *Match, end MatchEnd, now time.Time) {
	ended := now
	match.WinnerID = end.WinnerID
	match.EndReason = end.Reason
	match.EndedAt = &ended
	for pid, delta := range end.RatingChanges {
		cur, ok := m.ratings[pid]
		if !ok {
			cur = DefaultRating
		}
		m.ratings[pid] = cur + delta
	}
}

func (m *MemoryStore) ratingsLocked(ids []string) map[string]int {
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if r, ok := m.ratings[id]; ok {
			out[id] = r
		} else {
			out[id] = DefaultRating
		}
	}
	return out
}

func (m *MemoryStore) usedQuestionIDsLocked(matchID string) []string {
	out := []string{}
	for _, r := range m.rounds {
		if r.MatchID == matchID && r.QuestionID != "" {
			out = append(out, r.QuestionID)
		}
	}
	sort.Strings(out)
	return out
}

var _ Repository = (*MemoryStore)(nil)
