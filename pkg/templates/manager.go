package templates

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
)

// Renderer renders a named notification template to text
type Renderer interface {
	ExecuteTemplate(name string, data any) (string, error)
}

// Manager loads notification templates from a directory and renders
// them by file name
type Manager struct {
	templates *template.Template
	directory string
}

// funcMap holds the helpers notification templates rely on. signalEmoji
// maps a signal value to its marker so templates never hardcode the
// buy/sell/hold branching.
func funcMap() template.FuncMap {
	return template.FuncMap{
		"signalEmoji": func(sig string) string {
			switch sig {
			case "buy":
				return "🟢"
			case "sell":
				return "🔴"
			default:
				return "⚪"
			}
		},
		"money": func(v float64) string {
			return fmt.Sprintf("$%.2f", v)
		},
	}
}

// NewManager loads every *.tmpl under dir and its immediate
// subdirectories and verifies the required names are present
func NewManager(dir string, required ...string) (*Manager, error) {
	root := template.New("notifications").Funcs(funcMap())

	loaded := 0
	for _, pattern := range []string{
		filepath.Join(dir, "*.tmpl"),
		filepath.Join(dir, "*", "*.tmpl"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad template pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			continue
		}
		if _, err := root.ParseFiles(matches...); err != nil {
			return nil, fmt.Errorf("failed to parse templates in %s: %w", dir, err)
		}
		loaded += len(matches)
	}

	if loaded == 0 {
		return nil, fmt.Errorf("no templates found in %s", dir)
	}

	for _, name := range required {
		if root.Lookup(name) == nil {
			return nil, fmt.Errorf("required template not found: %s", name)
		}
	}

	logger.Info("notification templates loaded",
		zap.Int("count", loaded),
		zap.String("directory", dir),
	)

	return &Manager{templates: root, directory: dir}, nil
}

// ExecuteTemplate renders a template by file name
func (m *Manager) ExecuteTemplate(name string, data any) (string, error) {
	tmpl := m.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// Exists reports whether a template with the name was loaded
func (m *Manager) Exists(name string) bool {
	return m.templates.Lookup(name) != nil
}

// Directory returns the load path, for diagnostics
func (m *Manager) Directory() string {
	return m.directory
}
