package intif

// MemTransport queues requests in memory. Tests and the loopback backend
// drain the queue and feed acks back through Client.Deliver.
type MemTransport struct {
	queue []Request

	// FailSend, when set, makes Send return this error.
	FailSend error
}

func (m *MemTransport) Send(req Request) error {
	if m.FailSend != nil {
		return m.FailSend
	}
	m.queue = append(m.queue, req)
	return nil
}

// Drain returns and clears the queued requests.
func (m *MemTransport) Drain() []Request {
	q := m.queue
	m.queue = nil
	return q
}

// Len returns the number of queued requests.
func (m *MemTransport) Len() int { return len(m.queue) }
