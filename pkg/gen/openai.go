package gen

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
)

var _ Generator = (*OpenAIGenerator)(nil)

const (
	oaiFinishReasonStop          = "stop"
	oaiFinishReasonLength        = "length"
	oaiFinishReasonContentFilter = "content_filter"
)

// defaultGenerateTimeout bounds one generation call including stream drain.
const defaultGenerateTimeout = 60 * time.Second

// OpenAIGenerator implements Generator using the OpenAI chat completions API.
//
// This also works with any OpenAI-compatible provider (e.g. Groq) by
// constructing the client with option.WithBaseURL.
type OpenAIGenerator struct {
	Client *openai.Client

	Model string

	// SystemPrompt, when set, leads the message list.
	SystemPrompt string

	// Timeout bounds one call. Default 60s.
	Timeout time.Duration
}

// GenerateStream implements Generator.
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, history []Exchange, prompt string) (*Stream, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if g.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(g.SystemPrompt))
	}
	for _, ex := range history {
		switch ex.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(ex.Text))
		default:
			msgs = append(msgs, openai.UserMessage(ex.Text))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.Model),
		Messages: msgs,
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	sb := NewStreamBuilder(32)
	go func() {
		defer cancel()
		if err := oaiPull(sb, g.Client.Chat.Completions.NewStreaming(ctx, params)); err != nil {
			sb.Abort(err)
		}
	}()
	return sb.Stream(), nil
}

func oaiPull(sb *StreamBuilder, stream *ssestream.Stream[openai.ChatCompletionChunk]) error {
	var index int64
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		var sel *openai.ChatCompletionChunkChoice
		if index == 0 {
			index = chunk.Choices[0].Index
			sel = &chunk.Choices[0]
		} else {
			for _, c := range chunk.Choices {
				if c.Index == index {
					sel = &c
					break
				}
			}
			if sel == nil {
				continue
			}
		}
		if s := sel.Delta.Content; s != "" {
			if err := sb.Add(s); err != nil {
				return err
			}
		}
		switch sel.FinishReason {
		case oaiFinishReasonStop, oaiFinishReasonLength:
			return sb.Done()
		case oaiFinishReasonContentFilter:
			return fmt.Errorf("gen: blocked by content filter: %s", sel.Delta.Refusal)
		}
		if s := sel.Delta.Refusal; s != "" {
			return fmt.Errorf("gen: refused: %s", s)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	// Stream ended without a finish reason; whatever arrived is the reply.
	return sb.Done()
}
