package chat

import (
	"context"
	"strings"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/planner"
)

const (
	summaryLabel  = "[خلاصه گفتگو]"
	articlesLabel = "[مواد قانونی مرتبط]"
	digestLabel   = "[اطلاعات کمکی]"
)

type ProviderSource interface {
	ForModel(ctx context.Context, model string) (ai.Provider, error)
}

// BuildStack assembles the agent call in fixed order: core prompt, module
// prompt, rolling summary, article context, history, then the user turn.
func BuildStack(corePrompt string, d planner.Decision, summaryJSON string, p *Prepared) []ai.Message {
	stack := make([]ai.Message, 0, len(p.History)+5)
	if s := strings.TrimSpace(corePrompt); s != "" {
		stack = append(stack, ai.Message{Role: ai.RoleSystem, Content: s})
	}
	if s := strings.TrimSpace(d.ModulePrompt); s != "" {
		stack = append(stack, ai.Message{Role: ai.RoleSystem, Content: s})
	}
	if s := strings.TrimSpace(summaryJSON); s != "" {
		stack = append(stack, ai.Message{Role: ai.RoleSystem, Content: summaryLabel + "\n" + s})
	}
	if s := strings.TrimSpace(d.ArticleLookupJSON); s != "" {
		stack = append(stack, ai.Message{Role: ai.RoleSystem, Content: articlesLabel + "\n" + s})
	}
	stack = append(stack, p.History...)

	user := p.UserPlainText
	if p.AttachmentContext != "" {
		user += "\n\n" + digestLabel + "\n" + p.AttachmentContext
	}
	return append(stack, ai.Message{Role: ai.RoleUser, Content: user})
}

type Invoker struct {
	providers    ProviderSource
	defaultModel string
}

func NewInvoker(providers ProviderSource, defaultModel string) *Invoker {
	return &Invoker{providers: providers, defaultModel: defaultModel}
}

// ModelFor returns the module's preferred model or the default one.
func (iv *Invoker) ModelFor(d planner.Decision) string {
	if m := strings.TrimSpace(d.Model); m != "" {
		return m
	}
	return iv.defaultModel
}

// Invoke makes one synchronous call. Failures are not retried.
func (iv *Invoker) Invoke(ctx context.Context, model string, stack []ai.Message) (string, error) {
	provider, err := iv.providers.ForModel(ctx, model)
	if err != nil {
		return "", common.Upstream(err)
	}
	reply, err := provider.Chat(ctx, stack, ai.ChatOptions{})
	if err != nil {
		return "", common.Upstream(err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", common.Upstream(errEmptyReply)
	}
	return reply, nil
}
