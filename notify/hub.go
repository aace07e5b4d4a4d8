package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"go-aftershock/metrics"
)

const writeTimeout = 5 * time.Second

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer per connection
}

// Hub fans notifications out to the websocket connections of each user. A
// user may hold several connections; all of them receive every message.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]*subscriber
	log  *logrus.Entry
	now  func() time.Time
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		subs: make(map[string]map[*websocket.Conn]*subscriber),
		log:  log,
		now:  time.Now,
	}
}

// Subscribe registers conn on the user's topic.
func (h *Hub) Subscribe(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*websocket.Conn]*subscriber)
	}
	h.subs[userID][conn] = &subscriber{conn: conn}
	h.log.WithFields(logrus.Fields{"topic": Topic(userID), "subscribers": len(h.subs[userID])}).Debug("subscribed")
}

// Unsubscribe removes conn from the user's topic and closes it.
func (h *Hub) Unsubscribe(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.subs[userID][conn]
	if ok {
		delete(h.subs[userID], conn)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
	}
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Subscribers reports how many connections the user currently holds.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Notify writes the message to every connection of the user. Without a
// connection the message is dropped.
func (h *Hub) Notify(_ context.Context, userID, message string) {
	payload, err := Payload(message, h.now())
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		h.log.WithField("topic", Topic(userID)).WithError(err).Error("failed to encode notification")
		return
	}
	h.forward(userID, payload)
}

func (h *Hub) forward(userID string, payload []byte) {
	entry := h.log.WithField("topic", Topic(userID))

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[userID]))
	for _, s := range h.subs[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		entry.Debug("no subscriber, notification dropped")
		return
	}

	for _, s := range targets {
		if err := s.write(payload); err != nil {
			metrics.Notifications.WithLabelValues("error").Inc()
			entry.WithError(err).Warn("failed to send notification, closing connection")
			h.Unsubscribe(userID, s.conn)
			continue
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
	}
}

func (s *subscriber) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
