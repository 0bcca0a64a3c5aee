package hub

import "github.com/jsherman999/roomrelay/internal/message"

// Sweep runs one liveness pass out of band. The actor also sweeps on its own
// every ping interval.
func (h *Hub) Sweep() {
	h.send(sweepCmd{})
}

// handleSweep probes every stream and push subscriber and prunes the ones
// whose sink refuses the probe. This reclaims half-open connections that
// never disconnect explicitly.
func (h *Hub) handleSweep() {
	h.metrics.Sweeps.Inc()

	for id, sink := range h.stream {
		if err := sink.TrySend(nil); err != nil {
			h.pruneStream(id, err)
		}
	}

	hb := message.Heartbeat(h.room)
	for id, sink := range h.push {
		if err := sink.TrySend(hb); err != nil {
			h.prunePush(id, err)
		}
	}

	h.observeSizes()
}
