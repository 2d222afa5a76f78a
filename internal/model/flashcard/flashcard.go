package flashcard

import "time"

// Card is one question/answer pair.
type Card struct {
	ID        string    `json:"id" firestore:"id"`
	Question  string    `json:"question" firestore:"question"`
	Answer    string    `json:"answer" firestore:"answer"`
	CreatedAt time.Time `json:"createdAt" firestore:"created_at"`
}

// Set groups the cards generated from one topic or document.
type Set struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cards     []Card    `json:"cards"`
	CardCount int       `json:"cardCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
