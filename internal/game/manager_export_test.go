package game

// TrackedLocks reports how many per-session locks the manager holds.
func (m *Manager) TrackedLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
