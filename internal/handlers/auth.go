package handlers

import (
	"net/http"

	"github.com/jason-s-yu/cardroom/internal/auth"
	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/jason-s-yu/cardroom/internal/protocol"
	"github.com/jason-s-yu/cardroom/internal/session"
	"github.com/sirupsen/logrus"
)

// TokenValidator resolves a bearer token to the identity it vouches for.
type TokenValidator func(token string) (models.Identity, error)

// DefaultValidator checks tokens with the process's auth keys.
var DefaultValidator TokenValidator = auth.ValidateToken

// authenticate handles an auth message for either client endpoint. Repeated
// failures close the connection.
func authenticate(conn *Connection, env *protocol.Envelope, sessions *session.Registry, validate TokenValidator) {
	reject := func(reason string) {
		conn.Send(protocol.Message{"type": protocol.TypeAuthError, "message": reason})
		if conn.authFailed() {
			conn.logger.Warn("Too many failed auth attempts; closing connection")
			conn.CloseWith(AuthFailuresError, "too many failed authentication attempts")
		}
	}

	var req protocol.AuthRequest
	if err := env.Bind(&req); err != nil || req.Token == "" {
		reject("Missing token")
		return
	}
	id, err := validate(req.Token)
	if err != nil {
		conn.logger.WithError(err).Info("Auth rejected")
		reject(ErrorReason(err))
		return
	}
	if _, err := sessions.Authenticate(conn.ID, id); err != nil {
		reject(ErrorReason(err))
		return
	}
	conn.authSucceeded()
	conn.logger.WithFields(logrus.Fields{"user_id": id.UserID, "username": id.Username}).Info("Client authenticated")
	conn.Send(protocol.Message{
		"type":     protocol.TypeAuthSuccess,
		"user_id":  id.UserID,
		"username": id.Username,
	})
}

// openSession registers a new connection and, when the upgrade request
// carried a token, authenticates it right away.
func openSession(conn *Connection, r *http.Request, sessions *session.Registry, validate TokenValidator) {
	sessions.Create(conn.ID, conn)
	token := tokenFromRequest(r)
	if token == "" {
		return
	}
	id, err := validate(token)
	if err != nil {
		conn.Send(protocol.Message{"type": protocol.TypeAuthError, "message": ErrorReason(err)})
		return
	}
	if _, err := sessions.Authenticate(conn.ID, id); err != nil {
		return
	}
	conn.Send(protocol.Message{
		"type":     protocol.TypeAuthSuccess,
		"user_id":  id.UserID,
		"username": id.Username,
	})
}

// requireSession returns the caller's authenticated session or replies with
// an error.
func requireSession(conn *Connection, sessions *session.Registry) (session.Session, bool) {
	sess, ok := sessions.Get(conn.ID)
	if !ok || !sess.Authenticated {
		conn.SendError(ErrorReason(ErrAuthRequired))
		return session.Session{}, false
	}
	sessions.Touch(conn.ID)
	return sess, true
}
