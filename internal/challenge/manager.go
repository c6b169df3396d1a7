package challenge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrAlreadyPending = errors.New("a challenge is already pending")
	ErrNoPending      = errors.New("no pending challenge")
)

const DefaultTTL = 10 * time.Minute

// Manager keeps pending challenges in memory, per channel.
type Manager struct {
	mu        sync.Mutex
	byChannel map[string][]*Challenge
	ttl       time.Duration
	seq       uint64
	now       func() time.Time
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{byChannel: make(map[string][]*Challenge), ttl: ttl, now: time.Now}
}

func (m *Manager) Create(channelID, challengerID, challengerName, targetID, targetName string, color ColorChoice) (*Challenge, error) {
	channelID, challengerID, targetID = strings.TrimSpace(channelID), strings.TrimSpace(challengerID), strings.TrimSpace(targetID)
	if channelID == "" || challengerID == "" {
		return nil, ErrInvalidArgs
	}
	if challengerID == targetID {
		return nil, ErrSelfChallenge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	list := m.prune(channelID, now)
	for _, c := range list {
		if c.ChallengerID == challengerID || (targetID != "" && (c.TargetID == targetID || c.ChallengerID == targetID)) {
			return nil, ErrAlreadyPending
		}
	}
	ch := &Challenge{
		ID:             m.nextID(),
		ChannelID:      channelID,
		ChallengerID:   challengerID,
		ChallengerName: strings.TrimSpace(challengerName),
		TargetID:       targetID,
		TargetName:     strings.TrimSpace(targetName),
		Color:          color,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		Status:         StatusPending,
	}
	m.byChannel[channelID] = append(list, ch)
	return ch, nil
}

// Accept resolves the latest pending challenge addressed to acceptorID or
// one of its aliases (the name a mention carries), or failing that the
// latest open one it did not issue.
func (m *Manager) Accept(channelID, acceptorID string, aliases ...string) (*Challenge, error) {
	return m.resolve(channelID, acceptorID, aliases, StatusAccepted)
}

func (m *Manager) Decline(channelID, targetID string, aliases ...string) (*Challenge, error) {
	return m.resolve(channelID, targetID, aliases, StatusDeclined)
}

// Cancel withdraws the challenger's own pending challenge.
func (m *Manager) Cancel(channelID, challengerID string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.prune(channelID, m.now())
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ChallengerID == challengerID {
			ch := list[i]
			ch.Status = StatusDeclined
			m.byChannel[channelID] = append(list[:i:i], list[i+1:]...)
			return ch, nil
		}
	}
	return nil, ErrNoPending
}

// Peek returns a copy of the challenge Accept would resolve, leaving it
// pending. Settle with Take once the game exists.
func (m *Manager) Peek(channelID, acceptorID string, aliases ...string) (*Challenge, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(acceptorID) == "" {
		return nil, ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.prune(channelID, m.now())
	idx := find(list, acceptorID, aliases, true)
	if idx < 0 {
		return nil, ErrNoPending
	}
	cp := *list[idx]
	if cp.Open() {
		cp.TargetID = acceptorID
	}
	return &cp, nil
}

// Take accepts the pending challenge id on behalf of acceptorID.
func (m *Manager) Take(channelID, id, acceptorID string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.prune(channelID, m.now())
	for i, c := range list {
		if c.ID != id {
			continue
		}
		return m.settle(channelID, list, i, acceptorID, StatusAccepted), nil
	}
	return nil, ErrNoPending
}

func (m *Manager) resolve(channelID, userID string, aliases []string, status Status) (*Challenge, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.prune(channelID, m.now())
	idx := find(list, userID, aliases, status == StatusAccepted)
	if idx < 0 {
		return nil, ErrNoPending
	}
	return m.settle(channelID, list, idx, userID, status), nil
}

// settle removes list[idx] with its final status. Caller holds mu.
func (m *Manager) settle(channelID string, list []*Challenge, idx int, userID string, status Status) *Challenge {
	ch := list[idx]
	ch.Status = status
	if ch.Open() {
		ch.TargetID = userID
	}
	m.byChannel[channelID] = append(list[:idx:idx], list[idx+1:]...)
	return ch
}

// find prefers the latest challenge addressed to userID; open ones it did
// not issue count only when allowOpen is set.
func find(list []*Challenge, userID string, aliases []string, allowOpen bool) int {
	for i := len(list) - 1; i >= 0; i-- {
		if addressedTo(list[i], userID, aliases) {
			return i
		}
	}
	if !allowOpen {
		return -1
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Open() && list[i].ChallengerID != userID {
			return i
		}
	}
	return -1
}

func addressedTo(c *Challenge, userID string, aliases []string) bool {
	if c.TargetID == "" {
		return false
	}
	if c.TargetID == userID {
		return true
	}
	for _, a := range aliases {
		if strings.TrimSpace(a) == c.TargetID {
			return true
		}
	}
	return false
}

// prune drops expired entries and returns what is still pending. Caller holds mu.
func (m *Manager) prune(channelID string, now time.Time) []*Challenge {
	list := m.byChannel[channelID]
	kept := list[:0]
	for _, c := range list {
		if c.pendingAt(now) {
			kept = append(kept, c)
		} else if c.Status == StatusPending {
			c.Status = StatusExpired
		}
	}
	if len(kept) == 0 {
		delete(m.byChannel, channelID)
		return nil
	}
	m.byChannel[channelID] = kept
	return kept
}

func (m *Manager) nextID() string {
	n := atomic.AddUint64(&m.seq, 1)
	return fmt.Sprintf("ch-%d-%d", m.now().UnixNano(), n)
}
