package orchestrator

import (
	"sync"
	"time"
)

// HistoryEntry is one completed orchestration as seen by a session.
type HistoryEntry struct {
	Pipeline       string        `json:"pipeline"`
	PromptID       string        `json:"prompt_id"`
	Success        bool          `json:"success"`
	State          State         `json:"state"`
	StagesExecuted int           `json:"stages_executed"`
	TotalTime      time.Duration `json:"total_time"`
	Timestamp      time.Time     `json:"timestamp"`
}

const maxHistorySessions = 1024

// history keeps a bounded per-session record of orchestrations for the state
// query surface. Oldest sessions are evicted once the session cap is hit.
type history struct {
	mu       sync.Mutex
	limit    int
	sessions map[string][]HistoryEntry
	order    []string
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 50
	}
	return &history{
		limit:    limit,
		sessions: make(map[string][]HistoryEntry),
	}
}

func (h *history) Record(sessionID string, e HistoryEntry) {
	if sessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, known := h.sessions[sessionID]
	if !known {
		if len(h.order) >= maxHistorySessions {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.sessions, oldest)
		}
		h.order = append(h.order, sessionID)
	}

	entries = append(entries, e)
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}
	h.sessions[sessionID] = entries
}

// Session returns up to limit most recent entries, newest last. A
// non-positive limit returns everything retained.
func (h *history) Session(sessionID string, limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]HistoryEntry(nil), entries...)
}
