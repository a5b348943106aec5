package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
)

const systemPrompt = `You maintain a running case summary for an Iranian legal-assistant conversation.
Return ONLY one JSON object, no prose and no markdown, with exactly these keys:
summary_version (integer), jurisdiction (string), domain (string), user_profile (string),
facts_confirmed, claims_unverified, timeline, open_questions, decisions_and_actions (arrays of strings),
important_entities {people, organizations, places, documents} (arrays of strings),
legal_context {keywords, articles_or_laws_verified, articles_or_laws_needing_verification} (arrays of strings),
last_updated_iso (string).
Merge the new messages into the previous summary. Keep every previously confirmed fact unless a new
message explicitly corrects it. Move a claim to facts_confirmed only when the user confirms it.
Write values in Persian. Use empty arrays, never null.`

type ProviderSource interface {
	ForModel(ctx context.Context, model string) (ai.Provider, error)
}

type Summarizer struct {
	providers ProviderSource
	model     string
}

func NewSummarizer(providers ProviderSource, model string) *Summarizer {
	return &Summarizer{providers: providers, model: model}
}

// Summarize folds batch into prev. The result is fully validated and carries
// targetVersion; on any failure nothing is returned.
func (s *Summarizer) Summarize(ctx context.Context, prev *Summary, batch []ai.Message, targetVersion int, now time.Time) (*Summary, error) {
	if prev != nil && targetVersion <= prev.SummaryVersion {
		return nil, fmt.Errorf("target version %d must exceed %d", targetVersion, prev.SummaryVersion)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("summarize: empty batch")
	}

	provider, err := s.providers.ForModel(ctx, s.model)
	if err != nil {
		return nil, err
	}

	user, err := buildUserPrompt(prev, batch, targetVersion)
	if err != nil {
		return nil, err
	}

	raw, err := provider.Chat(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt},
		{Role: ai.RoleUser, Content: user},
	}, ai.ChatOptions{Temperature: ai.Float(0.1), JSON: true})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	out, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if prev != nil {
		out.FactsConfirmed = keepPrior(prev.FactsConfirmed, out.FactsConfirmed)
	}
	out.SummaryVersion = targetVersion
	out.Jurisdiction = Jurisdiction
	out.LastUpdatedISO = now.UTC().Format(time.RFC3339)
	return out, nil
}

func buildUserPrompt(prev *Summary, batch []ai.Message, targetVersion int) (string, error) {
	base := Empty()
	if prev != nil {
		base = *prev
	}
	prevJSON, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "summary_version to emit: %d\n\n", targetVersion)
	b.WriteString("PREVIOUS_SUMMARY:\n")
	b.Write(prevJSON)
	b.WriteString("\n\nNEW_MESSAGES:\n")
	for _, m := range batch {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String(), nil
}

// keepPrior appends prior facts the model left out, preserving order.
func keepPrior(prior, next []string) []string {
	seen := make(map[string]struct{}, len(next))
	for _, f := range next {
		seen[strings.TrimSpace(f)] = struct{}{}
	}
	out := append([]string{}, next...)
	for _, f := range prior {
		if _, ok := seen[strings.TrimSpace(f)]; !ok {
			out = append(out, f)
		}
	}
	return out
}
