package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"RAG-Telebot/server/internal/interfaces"
)

// Template names
const (
	KnowledgeContextTemplate = "knowledge_context"
	SearchResultsTemplate    = "search_results"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Template is a named text with {{variable}} placeholders
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
}

// TemplateEngine renders registered templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// RegisterTemplate registers a template, extracting its variables
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl == nil || tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render replaces {{name}} placeholders with vars. Unknown placeholders are kept.
func (e *TemplateEngine) Render(name string, vars map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	return varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	}), nil
}

// ParseTemplateVariables extracts variables from a template in order of first use
func ParseTemplateVariables(content string) []string {
	matches := varRegex.FindAllStringSubmatch(content, -1)

	seen := make(map[string]bool)
	vars := make([]string, 0, len(matches))
	for _, match := range matches {
		if !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}

// PromptBuilder assembles chat prompts: persona, optional knowledge, history, current message
type PromptBuilder struct {
	engine  *TemplateEngine
	persona string
}

// NewPromptBuilder creates a builder with the given persona and knowledge header.
// The header must contain {{knowledge}}; it is appended when missing.
func NewPromptBuilder(persona, knowledgeHeader string) (*PromptBuilder, error) {
	if strings.TrimSpace(knowledgeHeader) == "" {
		knowledgeHeader = "Relevant knowledge:"
	}
	if !strings.Contains(knowledgeHeader, "{{knowledge}}") {
		knowledgeHeader = strings.TrimRight(knowledgeHeader, "\n") + "\n{{knowledge}}"
	}

	engine := NewTemplateEngine()
	templates := []*Template{
		{
			Name:        KnowledgeContextTemplate,
			Description: "System message carrying retrieved knowledge",
			Content:     knowledgeHeader,
		},
		{
			Name:        SearchResultsTemplate,
			Description: "Reply to the search command",
			Content:     "Found {{count}}:\n{{results}}",
		},
	}
	for _, tmpl := range templates {
		if err := engine.RegisterTemplate(tmpl); err != nil {
			return nil, fmt.Errorf("failed to register template %s: %w", tmpl.Name, err)
		}
	}

	return &PromptBuilder{engine: engine, persona: persona}, nil
}

// Build returns the ordered prompt messages
func (b *PromptBuilder) Build(knowledge []string, history []interfaces.ConversationTurn, current string) []interfaces.ChatMessage {
	messages := make([]interfaces.ChatMessage, 0, len(history)+3)
	messages = append(messages, interfaces.ChatMessage{Role: interfaces.RoleSystem, Content: b.persona})

	if len(knowledge) > 0 {
		content, err := b.engine.Render(KnowledgeContextTemplate, map[string]string{
			"knowledge": bulletList(knowledge),
		})
		if err == nil {
			messages = append(messages, interfaces.ChatMessage{Role: interfaces.RoleSystem, Content: content})
		}
	}

	for _, turn := range history {
		messages = append(messages, interfaces.ChatMessage{Role: turn.Role, Content: turn.Content})
	}

	return append(messages, interfaces.ChatMessage{Role: interfaces.RoleUser, Content: current})
}

// SearchResults formats raw search hits as a numbered list
func (b *PromptBuilder) SearchResults(texts []string) string {
	lines := make([]string, len(texts))
	for i, t := range texts {
		lines[i] = fmt.Sprintf("%d. %s", i+1, t)
	}
	out, err := b.engine.Render(SearchResultsTemplate, map[string]string{
		"count":   fmt.Sprintf("%d", len(texts)),
		"results": strings.Join(lines, "\n"),
	})
	if err != nil {
		return strings.Join(lines, "\n")
	}
	return out
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}
