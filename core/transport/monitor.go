package transport

import "github.com/artpar/livesync/core/events"

// Monitor emits client.connect and client.disconnect for one instance.
type Monitor struct {
	*events.Emitter
	inst *Instance
}

// Stats is a point-in-time view of an instance.
type Stats struct {
	Connections int      `json:"connections"`
	Channels    []string `json:"channels"`
}

// Stats returns the current connection count and channel names.
func (m *Monitor) Stats() Stats {
	return Stats{
		Connections: len(m.inst.Conns()),
		Channels:    m.inst.Channels(),
	}
}
