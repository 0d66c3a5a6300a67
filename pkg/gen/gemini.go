package gen

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

var _ Generator = (*GeminiGenerator)(nil)

// GeminiGenerator implements Generator using the Google Gemini API.
type GeminiGenerator struct {
	Client *genai.Client

	// Model should not start with "models/".
	Model string

	// SystemPrompt, when set, becomes the system instruction.
	SystemPrompt string

	// Timeout bounds one call. Default 60s.
	Timeout time.Duration
}

// GenerateStream implements Generator.
func (g *GeminiGenerator) GenerateStream(ctx context.Context, history []Exchange, prompt string) (*Stream, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, ex := range history {
		role := genai.RoleUser
		if ex.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(ex.Text)},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	})

	var cfg *genai.GenerateContentConfig
	if g.SystemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{genai.NewPartFromText(g.SystemPrompt)},
			},
		}
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	sb := NewStreamBuilder(32)
	go func() {
		defer cancel()
		if err := geminiPull(sb, g.Client.Models.GenerateContentStream(ctx, g.Model, contents, cfg)); err != nil {
			sb.Abort(err)
		}
	}()
	return sb.Stream(), nil
}

func geminiPull(sb *StreamBuilder, itr iter.Seq2[*genai.GenerateContentResponse, error]) error {
	var selIdx int32
	for chunk, err := range itr {
		if err != nil {
			if e, ok := err.(*apierror.APIError); ok {
				err = e.Unwrap()
			}
			return err
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		var sel *genai.Candidate
		if selIdx == 0 {
			selIdx = chunk.Candidates[0].Index
			sel = chunk.Candidates[0]
		} else {
			for _, c := range chunk.Candidates {
				if c.Index == selIdx {
					sel = c
					break
				}
			}
			if sel == nil {
				continue
			}
		}

		if sel.Content != nil {
			for _, p := range sel.Content.Parts {
				if p.Text == "" {
					continue
				}
				if err := sb.Add(p.Text); err != nil {
					return err
				}
			}
		}

		switch sel.FinishReason {
		case genai.FinishReasonUnspecified, "":
			// continue
		case genai.FinishReasonStop, genai.FinishReasonMaxTokens:
			return sb.Done()
		case genai.FinishReasonSafety:
			var cats []string
			for _, sr := range sel.SafetyRatings {
				if sr.Blocked {
					cats = append(cats, string(sr.Category))
				}
			}
			return fmt.Errorf("gen: blocked by %s", strings.Join(cats, ", "))
		default:
			return fmt.Errorf("gen: unexpected finish reason: %s", sel.FinishReason)
		}
	}
	return errors.New("gen: unexpected end of stream: no finish reason")
}
