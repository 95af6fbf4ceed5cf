package manager

import (
	"log"

	"github.com/yoanbernabeu/codeindex/watcher"
)

// canTransition encodes the lifecycle: Standby and Error are reachable from
// anywhere, Indexing from any state but itself, Indexed only from Indexing.
func canTransition(from, to State) bool {
	switch to {
	case StateStandby, StateError:
		return true
	case StateIndexing:
		return from != StateIndexing
	case StateIndexed:
		return from == StateIndexing
	default:
		return false
	}
}

func (m *Manager) setState(state State, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(state, message)
}

func (m *Manager) transitionLocked(state State, message string) {
	if !canTransition(m.state, state) {
		log.Printf("Warning: refusing state change %s -> %s for %s", m.state, state, m.root)
		return
	}
	m.state = state
	m.message = message
	m.broadcastLocked()
}

// progress publishes a message without changing the state.
func (m *Manager) progress(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.message = message
	m.broadcastLocked()
}

func (m *Manager) broadcastLocked() {
	if len(m.subs) == 0 {
		return
	}
	statuses := make(map[string]watcher.Status, len(m.fileStatuses))
	for path, s := range m.fileStatuses {
		statuses[path] = s
	}
	ev := ProgressEvent{State: m.state, Message: m.message, FileStatuses: statuses}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it will catch up on the next event.
		}
	}
}

// publishFile records a watcher outcome and forwards it to file subscribers.
func (m *Manager) publishFile(status watcher.FileStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileStatuses[status.Path] = status.Status
	for _, ch := range m.fileSubs {
		select {
		case ch <- status:
		default:
			log.Printf("Warning: dropping file status for %s, subscriber is not keeping up", status.Path)
		}
	}
	m.broadcastLocked()
}

// Subscribe returns a stream of state and progress events. Call cancel to stop
// receiving; the channel is closed afterwards.
func (m *Manager) Subscribe() (<-chan ProgressEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan ProgressEvent, subscriberBuffer)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

// SubscribeFiles streams one FileStatus per watcher pass.
func (m *Manager) SubscribeFiles() (<-chan watcher.FileStatus, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan watcher.FileStatus, subscriberBuffer)
	m.fileSubs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.fileSubs[id]; ok {
			close(c)
			delete(m.fileSubs, id)
		}
	}
}
