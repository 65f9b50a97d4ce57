package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zaprelay/zaprelay/internal/models"
)

const openAISystemPrompt = "Você é um atendente virtual educado e objetivo. " +
	"Responda a mensagem do cliente em português, de forma breve e útil."

// chatCompleter is the minimal chat-completion surface used by OpenAIClient.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient answers messages with a direct OpenAI chat completion instead
// of the webhook backend. The stage it reports is always the sender's current
// stage; OpenAI has no notion of relationship classification.
type OpenAIClient struct {
	chat    chatCompleter
	model   openai.ChatModel
	timeout time.Duration
}

// NewOpenAIClient initializes the OpenAI-backed relay using the
// OPENAI_API_KEY environment variable.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		chat:    &cli.Chat.Completions,
		model:   openai.ChatModelGPT4oMini,
		timeout: DefaultTimeout,
	}, nil
}

// Reply builds a chat completion from the system prompt, the trailing history
// window and the inbound message. Failures degrade like webhook relay failures.
func (c *OpenAIClient) Reply(ctx context.Context, msg models.CanonicalMessage, state models.ConversationState) models.AIReply {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(openAISystemPrompt + " " + ContextSummary(&state, time.Now())),
	}
	// The inbound message is usually already the last history entry.
	history := state.LastHistory(5)
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Text == msg.Text {
		history = history[:n-1]
	}
	for _, e := range history {
		switch e.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(e.Text))
		default:
			messages = append(messages, openai.UserMessage(e.Text))
		}
	}
	messages = append(messages, openai.UserMessage(msg.Text))

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Warn("OpenAIClient.Reply: chat completion failed", "error", err, "sender", msg.Sender)
		return DegradedReply(state.Stage)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("OpenAIClient.Reply: empty completion", "sender", msg.Sender)
		return DegradedReply(state.Stage)
	}

	return models.AIReply{
		Text:          resp.Choices[0].Message.Content,
		Stage:         state.Stage,
		RequiresHuman: false,
	}
}
