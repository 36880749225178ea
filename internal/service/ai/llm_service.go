package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/chatflow/internal/config"
)

// Service drafts token briefs with a chat model, falling back to TemplateBrief.
// A nil *Service always uses the template.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the brief service from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel)
}

// NewServiceWithModel compiles the brief chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(briefSystemPrompt),
		schema.UserMessage(briefUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile brief chain: %w", err)
	}

	return &Service{chatModel: chatModel, chain: runnable}, nil
}

// Enabled 返回是否配置了大模型。
func (s *Service) Enabled() bool {
	return s != nil && s.chain != nil
}

// DraftBrief writes a short brief for f. Model failures fall back to the template;
// only a cancelled or expired ctx is returned as an error.
func (s *Service) DraftBrief(ctx context.Context, f TokenFacts) (string, error) {
	if !s.Enabled() {
		return TemplateBrief(f), nil
	}

	msg, err := s.chain.Invoke(ctx, f.promptInput())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Printf("[ai] brief generation failed, use template: %v", err)
		return TemplateBrief(f), nil
	}

	content := ""
	if msg != nil {
		content = strings.TrimSpace(msg.Content)
	}
	if content == "" {
		return TemplateBrief(f), nil
	}

	log.Printf("[ai] generated brief for symbol=%s, length=%d", f.Symbol, len(content))
	return content, nil
}
