package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"go-aftershock/notify"
)

type SubscribeHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewSubscribeHandler(hub *notify.Hub, log *logrus.Entry) *SubscribeHandler {
	return &SubscribeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			// mobile clients send no Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Subscribe handles GET /ws/user/:userID. Callers may only subscribe to their
// own topic.
func (h *SubscribeHandler) Subscribe(c *gin.Context) {
	userID := c.Param("userID")
	principal, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if principal.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot subscribe to another user's topic"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}
	h.hub.Subscribe(userID, conn)

	go func() {
		defer h.hub.Unsubscribe(userID, conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

// RequestLogger logs each request once it has been served.
func RequestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("request served")
	}
}
