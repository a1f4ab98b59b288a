// Package prompt loads and renders named prompt templates from a
// directory. Each file becomes a template named after its basename
// without extension.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Registry holds compiled prompt templates.
type Registry struct {
	templates map[string]*template.Template
}

// LoadDir compiles every regular file in dir into the registry.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read prompts dir: %w", err)
	}

	r := &Registry{templates: make(map[string]*template.Template)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		tmpl, err := template.New(name).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", entry.Name(), err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Names lists the registered template names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Render executes the named template with data.
func (r *Registry) Render(name string, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return b.String(), nil
}
