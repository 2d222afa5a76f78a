package chat

import "time"

// Session is one ordered conversation owned by a single user. The slice
// index of a message is the sole conversation ordering.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Persona   string    `json:"persona"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the manager's lock.
func (s *Session) Clone() *Session {
	copied := *s
	copied.Messages = append([]Message(nil), s.Messages...)
	return &copied
}

// Collection maps session id to session for one user identity.
type Collection map[string]*Session
