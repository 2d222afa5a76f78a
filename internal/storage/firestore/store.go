// Package firestore is the durable gateway for user data. Documents live
// under users/{uid}/chats, users/{uid}/personas and users/{uid}/flashcards.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buddy-ai/buddy/internal/model/chat"
	"github.com/buddy-ai/buddy/internal/model/flashcard"
	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/model/user"
)

type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewStore connects to Firestore in the given project.
func NewStore(ctx context.Context, projectID string, logger *slog.Logger) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, logger: logger}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(userID)
}

func (s *Store) chatsCol(userID string) *firestore.CollectionRef {
	return s.userDoc(userID).Collection("chats")
}

func (s *Store) personasCol(userID string) *firestore.CollectionRef {
	return s.userDoc(userID).Collection("personas")
}

func (s *Store) flashcardsCol(userID string) *firestore.CollectionRef {
	return s.userDoc(userID).Collection("flashcards")
}

type messageDoc struct {
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	CreatedAt time.Time `firestore:"created_at"`
}

type chatDoc struct {
	Title     string       `firestore:"title"`
	Persona   string       `firestore:"persona"`
	Messages  []messageDoc `firestore:"messages"`
	CreatedAt time.Time    `firestore:"created_at"`
	Timestamp time.Time    `firestore:"timestamp"`
}

type personaDoc struct {
	Name         string `firestore:"name"`
	Instructions string `firestore:"instructions"`
}

type cardDoc struct {
	ID        string    `firestore:"id"`
	Question  string    `firestore:"question"`
	Answer    string    `firestore:"answer"`
	CreatedAt time.Time `firestore:"created_at"`
}

type setDoc struct {
	Title     string    `firestore:"title"`
	Cards     []cardDoc `firestore:"cards"`
	CardCount int       `firestore:"card_count"`
	CreatedAt time.Time `firestore:"created_at"`
	Timestamp time.Time `firestore:"timestamp"`
}

type userDoc struct {
	Email     string    `firestore:"email"`
	Name      string    `firestore:"name"`
	Picture   string    `firestore:"picture"`
	LastLogin time.Time `firestore:"last_login"`
}

// SaveUser upserts the user's profile document at sign-in.
func (s *Store) SaveUser(ctx context.Context, id user.Identity) error {
	_, err := s.userDoc(id.UserID).Set(ctx, userDoc{
		Email:     id.Email,
		Name:      id.Name,
		Picture:   id.Picture,
		LastLogin: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("firestore SaveUser: %w", err)
	}
	return nil
}

// SaveSession writes the whole session document, messages inline.
func (s *Store) SaveSession(ctx context.Context, userID string, session *chat.Session) error {
	doc := chatDoc{
		Title:     session.Title,
		Persona:   session.Persona,
		Messages:  make([]messageDoc, 0, len(session.Messages)),
		CreatedAt: session.CreatedAt,
		Timestamp: session.UpdatedAt,
	}
	for _, msg := range session.Messages {
		doc.Messages = append(doc.Messages, messageDoc{
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}

	_, err := s.chatsCol(userID).Doc(session.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore SaveSession: %w", err)
	}
	return nil
}

// LoadAllSessions reads the user's sessions, newest activity first.
// Malformed documents are skipped with a warning rather than failing the
// whole load.
func (s *Store) LoadAllSessions(ctx context.Context, userID string) (chat.Collection, error) {
	iter := s.chatsCol(userID).OrderBy("timestamp", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	out := make(chat.Collection)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return out, nil
			}
			return nil, fmt.Errorf("firestore LoadAllSessions: %w", err)
		}

		var doc chatDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn("skipping malformed chat document", "user_id", userID, "doc_id", snap.Ref.ID, "error", err)
			continue
		}

		session := &chat.Session{
			ID:        snap.Ref.ID,
			Title:     doc.Title,
			Persona:   doc.Persona,
			Messages:  make([]chat.Message, 0, len(doc.Messages)),
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.Timestamp,
		}
		for _, msg := range doc.Messages {
			session.Messages = append(session.Messages, chat.Message{
				Role:      chat.Role(msg.Role),
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			})
		}
		out[session.ID] = session
	}
	return out, nil
}

// DeleteSession removes one chat document. Deleting an absent document is
// not an error in Firestore.
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.chatsCol(userID).Doc(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

// SavePersona upserts one custom persona, keyed by name.
func (s *Store) SavePersona(ctx context.Context, userID string, p persona.Persona) error {
	_, err := s.personasCol(userID).Doc(p.Name).Set(ctx, personaDoc{
		Name:         p.Name,
		Instructions: p.Instructions,
	})
	if err != nil {
		return fmt.Errorf("firestore SavePersona: %w", err)
	}
	return nil
}

// LoadPersonas reads the user's custom personas.
func (s *Store) LoadPersonas(ctx context.Context, userID string) ([]persona.Persona, error) {
	iter := s.personasCol(userID).Documents(ctx)
	defer iter.Stop()

	var out []persona.Persona
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return out, nil
			}
			return nil, fmt.Errorf("firestore LoadPersonas: %w", err)
		}

		var doc personaDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn("skipping malformed persona document", "user_id", userID, "doc_id", snap.Ref.ID, "error", err)
			continue
		}
		if doc.Name == "" {
			doc.Name = snap.Ref.ID
		}
		out = append(out, persona.Persona{Name: doc.Name, Instructions: doc.Instructions})
	}
	return out, nil
}

// DeletePersona removes one custom persona document.
func (s *Store) DeletePersona(ctx context.Context, userID, name string) error {
	if _, err := s.personasCol(userID).Doc(name).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeletePersona: %w", err)
	}
	return nil
}

// SaveFlashcardSet writes one generated set with its cards inline.
func (s *Store) SaveFlashcardSet(ctx context.Context, userID string, set *flashcard.Set) error {
	doc := setDoc{
		Title:     set.Title,
		Cards:     make([]cardDoc, 0, len(set.Cards)),
		CardCount: set.CardCount,
		CreatedAt: set.CreatedAt,
		Timestamp: set.UpdatedAt,
	}
	for _, card := range set.Cards {
		doc.Cards = append(doc.Cards, cardDoc{
			ID:        card.ID,
			Question:  card.Question,
			Answer:    card.Answer,
			CreatedAt: card.CreatedAt,
		})
	}

	_, err := s.flashcardsCol(userID).Doc(set.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore SaveFlashcardSet: %w", err)
	}
	return nil
}

// LoadFlashcardSets reads the user's sets, newest first.
func (s *Store) LoadFlashcardSets(ctx context.Context, userID string) ([]*flashcard.Set, error) {
	iter := s.flashcardsCol(userID).OrderBy("timestamp", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var out []*flashcard.Set
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return out, nil
			}
			return nil, fmt.Errorf("firestore LoadFlashcardSets: %w", err)
		}

		var doc setDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn("skipping malformed flashcard document", "user_id", userID, "doc_id", snap.Ref.ID, "error", err)
			continue
		}

		set := &flashcard.Set{
			ID:        snap.Ref.ID,
			Title:     doc.Title,
			Cards:     make([]flashcard.Card, 0, len(doc.Cards)),
			CardCount: doc.CardCount,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.Timestamp,
		}
		for _, card := range doc.Cards {
			set.Cards = append(set.Cards, flashcard.Card{
				ID:        card.ID,
				Question:  card.Question,
				Answer:    card.Answer,
				CreatedAt: card.CreatedAt,
			})
		}
		out = append(out, set)
	}
	return out, nil
}

// DeleteFlashcardSet removes one set document.
func (s *Store) DeleteFlashcardSet(ctx context.Context, userID, setID string) error {
	if _, err := s.flashcardsCol(userID).Doc(setID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteFlashcardSet: %w", err)
	}
	return nil
}
