package hub

func (h *Hub) handleRegisterPush(c registerPushCmd) {
	if old, ok := h.push[c.identity]; ok && old != c.sink {
		closeSink(old)
		h.log.Debug().Str("identity", c.identity).Msg("push subscriber replaced")
	}
	h.push[c.identity] = c.sink
	h.observeSizes()
	h.log.Debug().Str("identity", c.identity).Int("total", len(h.push)).Msg("push subscriber registered")
}

func (h *Hub) handleUnregisterPush(c unregisterPushCmd) {
	cur, ok := h.push[c.identity]
	if !ok || cur != c.sink {
		return
	}
	delete(h.push, c.identity)
	h.observeSizes()
	h.log.Debug().Str("identity", c.identity).Int("remaining", len(h.push)).Msg("push subscriber unregistered")
}

func (h *Hub) handleRegisterStream(c registerStreamCmd) {
	if old, ok := h.stream[c.identity]; ok && old != c.sink {
		closeSink(old)
		h.log.Debug().Str("identity", c.identity).Msg("stream subscriber replaced")
	}
	h.stream[c.identity] = c.sink
	h.observeSizes()
	h.log.Debug().Str("identity", c.identity).Int("total", len(h.stream)).Msg("stream subscriber registered")
}

func (h *Hub) handleUnregisterStream(c unregisterStreamCmd) {
	cur, ok := h.stream[c.identity]
	if !ok || cur != c.sink {
		return
	}
	delete(h.stream, c.identity)
	h.observeSizes()
	h.log.Debug().Str("identity", c.identity).Int("remaining", len(h.stream)).Msg("stream subscriber unregistered")
}

func (h *Hub) prunePush(identity string, err error) {
	closeSink(h.push[identity])
	delete(h.push, identity)
	h.metrics.Pruned.WithLabelValues(TransportPush, pruneReason(err)).Inc()
	h.log.Debug().Str("identity", identity).Err(err).Msg("push subscriber pruned")
}

func (h *Hub) pruneStream(identity string, err error) {
	closeSink(h.stream[identity])
	delete(h.stream, identity)
	h.metrics.Pruned.WithLabelValues(TransportStream, pruneReason(err)).Inc()
	h.log.Debug().Str("identity", identity).Err(err).Msg("stream subscriber pruned")
}
