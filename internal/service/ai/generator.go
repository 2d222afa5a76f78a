package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/buddy-ai/buddy/internal/config"
	"github.com/buddy-ai/buddy/internal/model/chat"
)

// ErrGeneration wraps failures of the remote generation call. Callers record
// the error text as the assistant turn instead of propagating it to the
// surface.
var ErrGeneration = errors.New("generation failed")

// Attachment references a file already uploaded to the generation API and
// ready to be attached to a prompt.
type Attachment struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	MIME string `json:"mime"`
}

// Request describes one generation call.
type Request struct {
	Prompt       string
	Instructions string
	History      []chat.Message
	Attachments  []Attachment
}

// ChunkStream is a finite, non-restartable sequence of incremental text
// fragments. Recv returns io.EOF once the sequence ends; Close releases the
// underlying stream and is safe to call after EOF.
type ChunkStream interface {
	Recv() (string, error)
	Close()
}

// Gemini adapts the Gemini API to the generation contract used by the
// conversation manager.
type Gemini struct {
	client       *genai.Client
	model        string
	temperature  *float64
	maxTokens    *int
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewGemini creates a Gemini-backed generator from configuration.
func NewGemini(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Gemini, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	pollInterval := cfg.UploadPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Gemini{
		client:       client,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxOutputTokens,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// Generate performs a one-shot generation call.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, g.contents(req), g.genConfig(req))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	text := resp.Text()
	if text == "" {
		return "No response generated", nil
	}

	g.logger.Debug("generated response", "model", g.model, "length", len(text))
	return text, nil
}

// Stream starts an incremental generation call. A transport failure before
// the first fragment surfaces as a single error-describing chunk followed
// by EOF, so a turn always has something to record.
func (g *Gemini) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, g.contents(req), g.genConfig(req)))
	return &geminiStream{next: next, stop: stop}, nil
}

type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	started bool
	done    bool
}

func (s *geminiStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			if !s.started {
				// Failed before yielding anything: one readable chunk, then end.
				s.done = true
				return fmt.Sprintf("Error generating response: %v", err), nil
			}
			s.done = true
			return "", fmt.Errorf("%w: %v", ErrGeneration, err)
		}

		text := resp.Text()
		if text == "" {
			continue
		}
		s.started = true
		return text, nil
	}
}

func (s *geminiStream) Close() {
	s.stop()
}

// Upload pushes one file to the Files API and polls until it is ready to be
// referenced from a prompt. The poll sleep is the only blocking wait and it
// honors ctx cancellation.
func (g *Gemini) Upload(ctx context.Context, name, mimeType string, r io.Reader) (Attachment, error) {
	file, err := g.client.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: name,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("uploading %s: %w", name, err)
	}

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return Attachment{}, ctx.Err()
		case <-time.After(g.pollInterval):
		}

		file, err = g.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return Attachment{}, fmt.Errorf("polling %s: %w", name, err)
		}
	}

	if file.State != genai.FileStateActive {
		return Attachment{}, fmt.Errorf("file %s not usable, state %s", name, file.State)
	}

	g.logger.Debug("file uploaded", "name", file.Name, "mime", mimeType)
	return Attachment{Name: file.Name, URI: file.URI, MIME: mimeType}, nil
}

// contents maps history plus the current prompt into the API's turn
// representation. The assistant role becomes the API's "model" role here;
// that mapping is an adapter detail.
func (g *Gemini) contents(req Request) []*genai.Content {
	var contents []*genai.Content
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, att := range req.Attachments {
		parts = append(parts, genai.NewPartFromURI(att.URI, att.MIME))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	return contents
}

func (g *Gemini) genConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if g.temperature != nil {
		temp := float32(*g.temperature)
		cfg.Temperature = &temp
	}
	if g.maxTokens != nil {
		cfg.MaxOutputTokens = int32(*g.maxTokens)
	}
	return cfg
}
