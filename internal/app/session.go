package app

import (
	"sync"
	"time"

	"pygrounds-generation-service/internal/domain"
)

// session holds one generation run's mutable state. All mutation goes through
// methods that hold mu and broadcast a fresh snapshot to subscribers, so
// pollers and stream consumers always observe a consistent view.
type session struct {
	id       string
	gameType domain.GameType
	clock    func() time.Time

	mu          sync.RWMutex
	state       domain.SessionState
	cancelled   bool
	startedAt   time.Time
	updatedAt   time.Time
	accepted    int
	duplicates  int
	details     []domain.TaskDetail
	subscribers map[chan domain.StatusSnapshot]struct{}
}

func newSession(id string, gameType domain.GameType, tasks []domain.Task, clock func() time.Time) *session {
	now := clock()
	details := make([]domain.TaskDetail, len(tasks))
	for i, t := range tasks {
		details[i] = domain.TaskDetail{
			TaskID:     i + 1,
			Units:      t.UnitNames(),
			Difficulty: t.Difficulty,
			State:      domain.TaskPending,
		}
	}
	return &session{
		id:          id,
		gameType:    gameType,
		clock:       clock,
		state:       domain.SessionPending,
		startedAt:   now,
		updatedAt:   now,
		details:     details,
		subscribers: make(map[chan domain.StatusSnapshot]struct{}),
	}
}

// transition moves the session to a non-terminal state unless it was already
// cancelled; a cancelled session is never revived.
func (s *session) transition(state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.state = state
	s.touchLocked()
	s.broadcastLocked()
}

// finish settles the terminal state once all dispatch has drained. The
// cancellation flag wins over whatever the run loop concluded. A session with
// failed tasks still completes; FAILED is reserved for runs where dispatch
// never happened at all.
func (s *session) finish(state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		s.state = domain.SessionCancelled
	} else {
		s.state = state
	}
	s.touchLocked()
	s.broadcastLocked()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

// cancel flips the cooperative flag. Idempotent; a terminal session ignores it.
func (s *session) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.state.Terminal() {
		return
	}
	s.cancelled = true
	s.state = domain.SessionCancelled
	s.touchLocked()
	s.broadcastLocked()
}

func (s *session) isCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

func (s *session) markRunning(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[i].State = domain.TaskRunning
	s.touchLocked()
	s.broadcastLocked()
}

func (s *session) markSkipped(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[i].State = domain.TaskSkipped
	s.touchLocked()
	s.broadcastLocked()
}

// applyOutcome folds one finished task into the session counters. Counters
// only ever grow; a failed task still credits its accepted questions.
func (s *session) applyOutcome(i int, out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &s.details[i]
	d.Accepted = len(out.Accepted)
	d.Rejected = out.Rejected
	if out.Err != nil {
		d.State = domain.TaskFailed
		d.Error = errKind(out.Err)
	} else {
		d.State = domain.TaskCompleted
	}

	s.accepted += len(out.Accepted)
	s.duplicates += out.Duplicates
	s.touchLocked()
	s.broadcastLocked()
}

// subscribe registers a snapshot channel. The first snapshot is delivered
// immediately so a late subscriber does not wait for the next mutation.
func (s *session) subscribe() (chan domain.StatusSnapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domain.StatusSnapshot, 16)
	ch <- s.snapshotLocked()
	if s.state.Terminal() {
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *session) snapshot() domain.StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *session) snapshotLocked() domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		SessionID:         s.id,
		State:             s.state,
		GameType:          s.gameType,
		TasksTotal:        len(s.details),
		QuestionsAccepted: s.accepted,
		DuplicatesSkipped: s.duplicates,
		StartedAt:         s.startedAt,
		UpdatedAt:         s.updatedAt,
		Tasks:             make([]domain.TaskDetail, len(s.details)),
	}
	copy(snap.Tasks, s.details)
	for _, d := range s.details {
		switch d.State {
		case domain.TaskCompleted:
			snap.TasksDone++
		case domain.TaskFailed:
			snap.TasksFailed++
		}
	}
	if snap.TasksTotal > 0 {
		settled := snap.TasksDone + snap.TasksFailed
		snap.Percent = float64(settled) / float64(snap.TasksTotal) * 100
	}
	return snap
}

// broadcastLocked fans the current snapshot out to subscribers. Slow
// consumers are skipped rather than blocked on; they catch up on the next
// mutation.
func (s *session) broadcastLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *session) touchLocked() {
	s.updatedAt = s.clock()
}
