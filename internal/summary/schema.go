package summary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const Jurisdiction = "IR"

var ErrInvalidSummary = errors.New("invalid conversation summary")

type Summary struct {
	SummaryVersion      int          `json:"summary_version"`
	Jurisdiction        string       `json:"jurisdiction"`
	Domain              string       `json:"domain"`
	UserProfile         string       `json:"user_profile"`
	FactsConfirmed      []string     `json:"facts_confirmed"`
	ClaimsUnverified    []string     `json:"claims_unverified"`
	Timeline            []string     `json:"timeline"`
	OpenQuestions       []string     `json:"open_questions"`
	DecisionsAndActions []string     `json:"decisions_and_actions"`
	ImportantEntities   Entities     `json:"important_entities"`
	LegalContext        LegalContext `json:"legal_context"`
	LastUpdatedISO      string       `json:"last_updated_iso"`
}

type Entities struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Places        []string `json:"places"`
	Documents     []string `json:"documents"`
}

type LegalContext struct {
	Keywords                          []string `json:"keywords"`
	ArticlesOrLawsVerified            []string `json:"articles_or_laws_verified"`
	ArticlesOrLawsNeedingVerification []string `json:"articles_or_laws_needing_verification"`
}

var (
	topLevelKeys = []string{
		"summary_version", "jurisdiction", "domain", "user_profile",
		"facts_confirmed", "claims_unverified", "timeline", "open_questions",
		"decisions_and_actions", "important_entities", "legal_context", "last_updated_iso",
	}
	topLevelLists = []string{"facts_confirmed", "claims_unverified", "timeline", "open_questions", "decisions_and_actions"}
	entityKeys    = []string{"people", "organizations", "places", "documents"}
	legalKeys     = []string{"keywords", "articles_or_laws_verified", "articles_or_laws_needing_verification"}
)

// Parse validates raw model output against the schema. Markdown code fences
// around the object are tolerated; anything else invalid is rejected whole.
func Parse(raw string) (*Summary, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty output", ErrInvalidSummary)
	}

	top, err := exactObject([]byte(body), topLevelKeys)
	if err != nil {
		return nil, err
	}
	if err := stringLists(top, topLevelLists); err != nil {
		return nil, err
	}
	entities, err := exactObject(top["important_entities"], entityKeys)
	if err != nil {
		return nil, fmt.Errorf("important_entities: %w", err)
	}
	if err := stringLists(entities, entityKeys); err != nil {
		return nil, fmt.Errorf("important_entities: %w", err)
	}
	legal, err := exactObject(top["legal_context"], legalKeys)
	if err != nil {
		return nil, fmt.Errorf("legal_context: %w", err)
	}
	if err := stringLists(legal, legalKeys); err != nil {
		return nil, fmt.Errorf("legal_context: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var s Summary
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSummary, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidSummary)
	}
	return &s, nil
}

// exactObject requires data to be a JSON object with exactly keys, none null.
func exactObject(data []byte, keys []string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, fmt.Errorf("%w: not a json object", ErrInvalidSummary)
	}
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidSummary, k)
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: %q is null", ErrInvalidSummary, k)
		}
	}
	if len(m) != len(keys) {
		return nil, fmt.Errorf("%w: unexpected keys", ErrInvalidSummary)
	}
	return m, nil
}

// stringLists requires each of keys to be an array of strings with no null
// elements; plain decoding would turn a null element into "".
func stringLists(m map[string]json.RawMessage, keys []string) error {
	for _, k := range keys {
		var items []*string
		if err := json.Unmarshal(m[k], &items); err != nil {
			return fmt.Errorf("%w: %q is not a string array", ErrInvalidSummary, k)
		}
		for i, it := range items {
			if it == nil {
				return fmt.Errorf("%w: %q[%d] is null", ErrInvalidSummary, k, i)
			}
		}
	}
	return nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// Empty is the skeleton shown to the model and used for a first summary.
func Empty() Summary {
	return Summary{
		Jurisdiction:        Jurisdiction,
		FactsConfirmed:      []string{},
		ClaimsUnverified:    []string{},
		Timeline:            []string{},
		OpenQuestions:       []string{},
		DecisionsAndActions: []string{},
		ImportantEntities: Entities{
			People: []string{}, Organizations: []string{}, Places: []string{}, Documents: []string{},
		},
		LegalContext: LegalContext{
			Keywords: []string{}, ArticlesOrLawsVerified: []string{}, ArticlesOrLawsNeedingVerification: []string{},
		},
	}
}
