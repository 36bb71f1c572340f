// Package identity tells the note repository who is acting. A Session serves
// the single-user app process; ContextProvider serves HTTP requests whose
// actor was put in the context by the authentication middleware.
package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Provider returns the authenticated actor for ctx.
type Provider interface {
	CurrentActor(ctx context.Context) (string, bool)
}

// Wiper clears every cache holding decrypted PHI. *phicache.Manager
// satisfies it.
type Wiper interface {
	ClearAll()
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}

// ContextProvider reads the actor from the request context.
type ContextProvider struct{}

func (ContextProvider) CurrentActor(ctx context.Context) (string, bool) {
	return ActorFromContext(ctx)
}

// Session is the signed-in state of one app process. Ending the session or
// sending the app to the background wipes all decrypted PHI.
type Session struct {
	mu      sync.RWMutex
	actorID string

	wiper  Wiper
	logger *zap.Logger
}

func NewSession(wiper Wiper, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{wiper: wiper, logger: logger}
}

// SignIn makes actorID the current actor. Switching from another actor
// wipes the caches first so nothing decrypted for them stays around.
func (s *Session) SignIn(actorID string) {
	s.mu.Lock()
	previous := s.actorID
	s.actorID = actorID
	s.mu.Unlock()

	if previous != "" && previous != actorID {
		s.wipe("actor changed")
	}
}

// SignOut forgets the actor and wipes the caches.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.actorID = ""
	s.mu.Unlock()
	s.wipe("signed out")
}

// Background wipes the caches but keeps the actor signed in.
func (s *Session) Background() {
	s.wipe("backgrounded")
}

func (s *Session) CurrentActor(context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actorID, s.actorID != ""
}

func (s *Session) wipe(reason string) {
	if s.wiper == nil {
		return
	}
	s.logger.Info("wiping PHI caches", zap.String("reason", reason))
	s.wiper.ClearAll()
}
