// Package hub implements the room broadcast hub.
//
// A single actor goroutine owns three registries (push, stream and poll
// waiters) and processes registrations, publishes, liveness sweeps and poll
// expiries from one command channel. Publishes skip the sender's own
// subscriptions. Push and stream sinks are non-blocking bounded buffers; a
// sink that refuses a message is pruned. Poll waiters are one-shot slots
// completed by the first non-self publish or released by their timeout.
package hub
