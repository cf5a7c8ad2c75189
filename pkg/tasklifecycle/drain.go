package tasklifecycle

// DrainAndShutdown arms the manager to invoke shutdownCallback once no
// task is pending any more. Entries retained only for lineage do not hold
// the shutdown back. If no task is pending, shutdownCallback fires
// immediately. Calling it again replaces any previously armed callback.
func (m *Manager) DrainAndShutdown(shutdownCallback func()) {
	m.mu.Lock()
	empty := m.numPendingTasks == 0
	if !empty {
		m.shutdownHook = shutdownCallback
	}
	m.mu.Unlock()

	if empty && shutdownCallback != nil {
		shutdownCallback()
	}
}

// ShutdownIfNeeded fires and clears an armed shutdown hook once no task is
// pending. It is called after every operation that can lower the pending
// count (CompletePendingTask, PendingTaskFailed), so the drain is detected
// as soon as it completes rather than on a poll.
func (m *Manager) ShutdownIfNeeded() {
	m.mu.Lock()
	var hook func()
	if m.shutdownHook != nil && m.numPendingTasks == 0 {
		hook = m.shutdownHook
		m.shutdownHook = nil
	}
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
}
