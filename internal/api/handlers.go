package api

import (
	"net/http"

	"github.com/jsherman999/roomrelay/internal/hub"
	"github.com/jsherman999/roomrelay/internal/logging"
	"github.com/jsherman999/roomrelay/internal/message"
	"github.com/jsherman999/roomrelay/internal/push"
)

const (
	serverSenderID = "server"
	serverRole     = "server"
	userListCmd    = "GET_USER_LIST"
)

// GET /ws?id=
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		a.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	push.Serve(ws, id, a.hub, push.Options{
		PingInterval: a.cfg.Hub.PingInterval,
		DeadMultiple: a.cfg.Hub.DeadMultiple,
		BufferSize:   a.cfg.Hub.PushBuffer,
		Clock:        a.clock,
		Logger:       a.log,
	})
}

// GET /sse?id=
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := identity(r)
	log := logging.WithIdentity(logging.WithTransport(a.log, hub.TransportStream), id)
	outbox := hub.NewOutbox[[]byte](a.cfg.Hub.StreamBuffer)
	a.hub.RegisterStream(id, outbox)
	log.Debug().Msg("stream opened")
	defer func() {
		a.hub.UnregisterStream(id, outbox)
		outbox.Close()
		log.Debug().Msg("stream closed")
	}()

	// send a comment to open stream
	_, _ = w.Write([]byte(": ok\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-outbox.Done():
			return
		case b := <-outbox.C():
			var err error
			if len(b) == 0 {
				_, err = w.Write([]byte(": ping\n\n"))
			} else {
				_, err = w.Write([]byte("data: " + string(b) + "\n\n"))
			}
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// POST /lp?id=
func (a *API) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	res := a.hub.RegisterPollWaiter(id, a.cfg.Poll.Timeout)
	if res.TimedOut {
		log := logging.WithIdentity(a.log, id)
		logging.Dur(log.Debug(), "timeout", a.cfg.Poll.Timeout).Msg("long poll timed out")
		writeJSON(w, http.StatusOK, "timeout")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Raw)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	msg, err := message.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.hub.Publish(msg, msg.Sender.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type userInfo struct {
	ID         string `json:"id"`
	Connection string `json:"connection"`
}

type connectionCounts struct {
	WS  int `json:"ws"`
	SSE int `json:"sse"`
	LP  int `json:"lp"`
}

type userListPayload struct {
	Users  []userInfo       `json:"users"`
	Counts connectionCounts `json:"counts"`
}

type userListMessage struct {
	RoomID  string          `json:"room_id"`
	Sender  message.Sender  `json:"sender"`
	Command string          `json:"command"`
	Payload userListPayload `json:"payload"`
}

// POST /watching_users: the body must be a valid message; the reply lists
// every registered subscriber.
func (a *API) handleUserList(w http.ResponseWriter, r *http.Request) {
	if _, err := message.Decode(r.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := a.hub.Counts()
	users := []userInfo{}
	for _, m := range a.hub.Roster() {
		users = append(users, userInfo{ID: m.Identity, Connection: connectionName(m.Transport)})
	}

	writeJSON(w, http.StatusOK, userListMessage{
		RoomID:  a.cfg.Room.ID,
		Sender:  message.Sender{ID: serverSenderID, Type: serverRole},
		Command: userListCmd,
		Payload: userListPayload{
			Users:  users,
			Counts: connectionCounts{WS: c.Push, SSE: c.Stream, LP: c.Poll},
		},
	})
}

func connectionName(transport string) string {
	switch transport {
	case hub.TransportPush:
		return "ws"
	case hub.TransportStream:
		return "sse"
	case hub.TransportPoll:
		return "long_polling"
	default:
		return transport
	}
}
