package hub

import "encoding/json"

// handlePublish fans one message out to all three registries. The message is
// serialized once; stream and poll subscribers share the same bytes.
func (h *Hub) handlePublish(c publishCmd) {
	raw, err := json.Marshal(c.msg)
	if err != nil {
		h.log.Error().Err(err).Str("command", c.msg.Command).Msg("failed to marshal outbound message")
		return
	}
	h.metrics.Published.Inc()

	for id, sink := range h.push {
		if id == c.origin {
			h.metrics.SelfSkipped.WithLabelValues(TransportPush).Inc()
			continue
		}
		if err := sink.TrySend(c.msg); err != nil {
			h.prunePush(id, err)
			continue
		}
		h.metrics.Deliveries.WithLabelValues(TransportPush).Inc()
	}

	for id, sink := range h.stream {
		if id == c.origin {
			h.metrics.SelfSkipped.WithLabelValues(TransportStream).Inc()
			continue
		}
		if err := sink.TrySend(raw); err != nil {
			h.pruneStream(id, err)
			continue
		}
		h.metrics.Deliveries.WithLabelValues(TransportStream).Inc()
	}

	// Every waiter is drained. The origin's own waiters go back in the
	// queue untouched; everyone else is completed and discarded.
	waiters := h.poll
	kept := make([]*pollWaiter, 0, len(waiters))
	for _, w := range waiters {
		if w.identity == c.origin {
			h.metrics.SelfSkipped.WithLabelValues(TransportPoll).Inc()
			kept = append(kept, w)
			continue
		}
		w.complete(PollResult{Message: c.msg, Raw: raw})
		h.metrics.Deliveries.WithLabelValues(TransportPoll).Inc()
		h.metrics.PollOutcomes.WithLabelValues("delivered").Inc()
	}
	h.poll = kept

	h.observeSizes()
}
