package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// TemplateEngine manages the fixed prompt templates used by the diary engine.
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template is a prompt with {{variable}} placeholders.
type Template struct {
	Name        string
	Content     string
	Description string
}

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// NewTemplateEngine creates an engine pre-loaded with the diary templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, tmpl := range defaultTemplates() {
		e.Register(tmpl)
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(tmpl *Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[tmpl.Name] = tmpl
}

// Render substitutes vars into the named template. Unknown placeholders are
// kept verbatim so a missing variable is visible in the produced prompt.
func (e *TemplateEngine) Render(name string, vars map[string]string) (string, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	return varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	}), nil
}

// Variables extracts the unique placeholder names of a template body.
func Variables(content string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range varRegex.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

func defaultTemplates() []*Template {
	return []*Template{
		{
			Name:        "caption",
			Description: "Two-line scene caption for an uploaded image",
			Content: strings.Join([]string{
				"You are a concise scene captioner for a robot diary.",
				"Output exactly two short lines:",
				"1) A compact caption (<= 14 words).",
				"2) Key objects with rough position (left/center/right; near/far), comma-separated.",
				"No speculation, no extra lines.",
			}, "\n"),
		},
		{
			Name:        "ask",
			Description: "Answer a question from recent timeline snippets",
			Content: "Answer the question using ONLY the following recent timeline snippets (newest last).\n" +
				"Be brief and precise (3-6 sentences). Mention uncertainty if needed.\n\n" +
				"Context: {{context}}\n" +
				"Question: {{question}}\n" +
				"Answer:\n",
		},
		{
			Name:        "travel",
			Description: "Compose a travel-diary paragraph from recent snippets",
			Content: "You are a concise travel-diary writer (first-person, warm, factual).\n" +
				"Use ONLY this context (newest last):\n" +
				"{{context}}\n\n" +
				"Optional note from user: {{note}}\n\n" +
				"Write one short paragraph (4-6 sentences). No bullet points. No speculation.\n",
		},
	}
}
