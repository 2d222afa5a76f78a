package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/model/flashcard"
)

const flashcardPromptTemplate = `Based on the provided content, generate %d high-quality flashcards for studying.

IMPORTANT: Respond ONLY with valid JSON. Do not include any preamble, explanation, or markdown formatting.

Each flashcard should have:
- A clear, specific question on one side
- A comprehensive but concise answer on the other side

Return your response as a JSON array in this exact format:
[
  {"question": "What is...", "answer": "..."},
  {"question": "How does...", "answer": "..."}
]

Topic/Context: %s

Generate flashcards that:
1. Cover key concepts and important details
2. Progress from fundamental to advanced topics
3. Use varied question types (what, how, why, compare, etc.)
4. Include specific examples where relevant
5. Are suitable for active recall studying

Return ONLY the JSON array, nothing else.`

// GenerateFlashcards produces study cards for a topic, optionally grounded
// in uploaded files. Failures come back as a single explanatory card so the
// user always sees what happened.
func (g *Gemini) GenerateFlashcards(ctx context.Context, topic string, attachments []Attachment, count int) []flashcard.Card {
	prompt := fmt.Sprintf(flashcardPromptTemplate, count, topic)

	text, err := g.Generate(ctx, Request{Prompt: prompt, Attachments: attachments})
	if err != nil {
		g.logger.Warn("flashcard generation failed", "error", err)
		return []flashcard.Card{errorCard(fmt.Sprintf("An error occurred: %v", err))}
	}

	cards, err := parseFlashcards(text)
	if err != nil {
		g.logger.Warn("flashcard response unparsable", "error", err)
		return []flashcard.Card{errorCard(fmt.Sprintf("Failed to parse response. Please try again. Error: %v", err))}
	}

	now := time.Now().UTC()
	for i := range cards {
		cards[i].ID = uuid.NewString()
		cards[i].CreatedAt = now
	}
	return cards
}

// parseFlashcards strips markdown code fences the model sometimes wraps its
// JSON in, then unmarshals and validates the card array.
func parseFlashcards(text string) ([]flashcard.Card, error) {
	cleaned := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(cleaned, "```json"); ok {
		cleaned = rest
	} else if rest, ok := strings.CutPrefix(cleaned, "```"); ok {
		cleaned = rest
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	cleaned = strings.TrimSpace(cleaned)

	var cards []flashcard.Card
	if err := json.Unmarshal([]byte(cleaned), &cards); err != nil {
		return nil, fmt.Errorf("decoding flashcard JSON: %w", err)
	}

	for i, card := range cards {
		if card.Question == "" || card.Answer == "" {
			return nil, fmt.Errorf("card %d is missing a question or answer", i)
		}
	}
	return cards, nil
}

func errorCard(answer string) flashcard.Card {
	return flashcard.Card{
		ID:        uuid.NewString(),
		Question:  "Error generating flashcards",
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}
}
