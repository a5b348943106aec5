package planner

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ModuleID string

const (
	ModuleGeneral     ModuleID = "general"
	ModulePetition    ModuleID = "petition"
	ModuleComplaint   ModuleID = "complaint"
	ModuleDeclaration ModuleID = "declaration"
	ModuleContract    ModuleID = "contract"
)

var knownModules = map[ModuleID]bool{
	ModuleGeneral:     true,
	ModulePetition:    true,
	ModuleComplaint:   true,
	ModuleDeclaration: true,
	ModuleContract:    true,
}

//go:embed modules.yaml
var defaultCatalog []byte

type Field struct {
	Key      string `yaml:"key"`
	Question string `yaml:"question"`
}

type Article struct {
	Law     string `yaml:"law" json:"law"`
	Article string `yaml:"article" json:"article"`
	Text    string `yaml:"text" json:"text"`
}

type Module struct {
	ID       ModuleID  `yaml:"id"`
	Label    string    `yaml:"label"`
	Model    string    `yaml:"model"`
	Prompt   string    `yaml:"prompt"`
	Fields   []Field   `yaml:"fields"`
	Articles []Article `yaml:"articles"`
}

type Catalog struct {
	CorePrompt string   `yaml:"core_prompt"`
	Modules    []Module `yaml:"modules"`

	byID    map[ModuleID]*Module
	byLabel map[string]*Module
}

// LoadCatalog reads path, or the embedded catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read module catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse module catalog: %w", err)
	}
	c.CorePrompt = strings.TrimSpace(c.CorePrompt)
	if c.CorePrompt == "" {
		return nil, fmt.Errorf("module catalog: core_prompt is empty")
	}

	c.byID = make(map[ModuleID]*Module, len(c.Modules))
	c.byLabel = make(map[string]*Module, len(c.Modules))
	for i := range c.Modules {
		m := &c.Modules[i]
		if !knownModules[m.ID] {
			return nil, fmt.Errorf("module catalog: unknown module id %q", m.ID)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("module catalog: duplicate module %q", m.ID)
		}
		for _, f := range m.Fields {
			if f.Key == "" || strings.TrimSpace(f.Question) == "" {
				return nil, fmt.Errorf("module catalog: %s has an incomplete field", m.ID)
			}
		}
		m.Prompt = strings.TrimSpace(m.Prompt)
		c.byID[m.ID] = m
		if m.Label != "" {
			c.byLabel[strings.TrimSpace(m.Label)] = m
		}
	}
	if _, ok := c.byID[ModuleGeneral]; !ok {
		return nil, fmt.Errorf("module catalog: %q module is required", ModuleGeneral)
	}
	return &c, nil
}

func (c *Catalog) Module(id ModuleID) (*Module, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Lookup resolves a module selector: its id or its exact label.
func (c *Catalog) Lookup(selector string) (*Module, bool) {
	s := strings.TrimSpace(selector)
	if s == "" {
		return nil, false
	}
	if m, ok := c.byID[ModuleID(strings.ToLower(s))]; ok {
		return m, true
	}
	m, ok := c.byLabel[s]
	return m, ok
}
