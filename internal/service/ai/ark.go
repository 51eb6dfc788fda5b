package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/forno/backend/internal/config"
)

// ArkBackend runs prompts through an eino chain ending in the Ark chat model.
type ArkBackend struct {
	chain compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewArkBackend compiles the chain for the configured Ark model.
func NewArkBackend(ctx context.Context, cfg config.AIConfig) (*ArkBackend, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkBackend{chain: runnable}, nil
}

func (b *ArkBackend) Name() string { return "ark" }

// Complete sends prompt as one user message. The prompt is not templated: it already
// contains the full rendered context and may include braces.
func (b *ArkBackend) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := b.chain.Invoke(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}
