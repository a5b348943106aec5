// Package planner routes each chat turn to exactly one legal module and
// decides whether the turn is answered by the module's intake flow or by
// the LLM agent.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Mode string

const (
	ModeIntake Mode = "intake"
	ModeAgent  Mode = "agent"
)

type Stage string

const (
	StageCollecting Stage = "collecting"
	StageReady      Stage = "ready"
)

// State is the module-in-progress record kept in session metadata.
type State struct {
	Module  ModuleID          `json:"module"`
	Stage   Stage             `json:"stage"`
	Pending int               `json:"pending"`
	Answers map[string]string `json:"answers,omitempty"`
}

type Input struct {
	// Selector is the request's explicit module choice (id or label).
	Selector   string
	UserText   string
	HistoryLen int
}

type Decision struct {
	Module            ModuleID
	Mode              Mode
	Model             string
	ModulePrompt      string
	ArticleLookupJSON string
	IntakeResponse    string
	// Next replaces the stored state; nil clears it.
	Next *State
}

type Planner struct {
	catalog *Catalog
}

func New(catalog *Catalog) *Planner {
	return &Planner{catalog: catalog}
}

func (p *Planner) Catalog() *Catalog { return p.catalog }

// Plan is deterministic: the same state and input always give the same decision.
func (p *Planner) Plan(state *State, in Input) Decision {
	if m, ok := p.catalog.Lookup(in.Selector); ok {
		if m.ID == ModuleGeneral {
			return p.general()
		}
		if state == nil || state.Module != m.ID {
			return p.start(m)
		}
	}

	if state == nil {
		return p.general()
	}
	m, ok := p.catalog.Module(state.Module)
	if !ok || m.ID == ModuleGeneral {
		return p.general()
	}

	switch state.Stage {
	case StageCollecting:
		return p.collect(m, state, in.UserText)
	default:
		return p.agent(m, cloneState(state))
	}
}

func (p *Planner) general() Decision {
	m, _ := p.catalog.Module(ModuleGeneral)
	return Decision{
		Module:       ModuleGeneral,
		Mode:         ModeAgent,
		Model:        m.Model,
		ModulePrompt: m.Prompt,
	}
}

func (p *Planner) start(m *Module) Decision {
	if len(m.Fields) == 0 {
		return p.agent(m, &State{Module: m.ID, Stage: StageReady})
	}
	next := &State{Module: m.ID, Stage: StageCollecting, Answers: map[string]string{}}
	intro := fmt.Sprintf("برای تنظیم «%s» چند سؤال کوتاه از شما می‌پرسم.\n\n%s", m.Label, m.Fields[0].Question)
	return Decision{Module: m.ID, Mode: ModeIntake, Model: m.Model, IntakeResponse: intro, Next: next}
}

func (p *Planner) collect(m *Module, state *State, userText string) Decision {
	next := cloneState(state)
	if next.Pending < 0 || next.Pending > len(m.Fields) {
		next.Pending = 0
	}

	if next.Pending < len(m.Fields) {
		answer := strings.TrimSpace(userText)
		if answer == "" {
			return Decision{Module: m.ID, Mode: ModeIntake, Model: m.Model, IntakeResponse: m.Fields[next.Pending].Question, Next: next}
		}
		next.Answers[m.Fields[next.Pending].Key] = answer
		next.Pending++
	}

	if next.Pending < len(m.Fields) {
		return Decision{Module: m.ID, Mode: ModeIntake, Model: m.Model, IntakeResponse: m.Fields[next.Pending].Question, Next: next}
	}
	next.Stage = StageReady
	return p.agent(m, next)
}

func (p *Planner) agent(m *Module, next *State) Decision {
	d := Decision{
		Module:       m.ID,
		Mode:         ModeAgent,
		Model:        m.Model,
		ModulePrompt: m.Prompt,
		Next:         next,
	}
	if facts := renderAnswers(m, next); facts != "" {
		d.ModulePrompt = strings.TrimSpace(d.ModulePrompt + "\n\n" + facts)
	}
	if len(m.Articles) > 0 {
		if b, err := json.Marshal(m.Articles); err == nil {
			d.ArticleLookupJSON = string(b)
		}
	}
	return d
}

func renderAnswers(m *Module, s *State) string {
	if s == nil || len(s.Answers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("اطلاعات ارائه‌شده توسط کاربر:")
	for _, f := range m.Fields {
		if v, ok := s.Answers[f.Key]; ok {
			fmt.Fprintf(&b, "\n- %s %s", f.Question, v)
		}
	}
	return b.String()
}

func cloneState(s *State) *State {
	out := &State{Module: s.Module, Stage: s.Stage, Pending: s.Pending, Answers: make(map[string]string, len(s.Answers))}
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	return out
}
