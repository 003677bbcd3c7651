// Package mailing renders and sends the account notifications that accompany
// signup and confirmation. Templates use the Liquid language; each one starts
// with a "Subject: ..." line followed by the plain-text body.
package mailing

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

//go:embed templates/*.liquid
var builtin embed.FS

// Template names.
const (
	TemplateSignupAccepted = "signup_accepted"
	TemplateSignupDenied   = "signup_denied"
	TemplateConfirmed      = "confirmed"
	TemplateConfirmDenied  = "confirm_denied"
)

// TemplateService parses templates once and renders them by name.
type TemplateService struct {
	engine *liquid.Engine
	mu     sync.RWMutex
	cache  map[string]*liquid.Template
	source fs.FS
}

// NewTemplateService loads templates from dir, falling back to the built-in
// set for any name dir does not provide. An empty dir uses only built-ins.
func NewTemplateService(dir string) *TemplateService {
	engine := liquid.NewEngine()
	ts := &TemplateService{
		engine: engine,
		cache:  make(map[string]*liquid.Template),
		source: overlayFS{dir: dir},
	}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// {{ name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
}

// Rendered is a subject and plain-text body.
type Rendered struct {
	Subject string
	Text    string
}

// Render executes the named template with vars.
func (ts *TemplateService) Render(name string, vars map[string]interface{}) (*Rendered, error) {
	tpl, err := ts.template(name)
	if err != nil {
		return nil, err
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return splitSubject(out), nil
}

// Validate parses every known template so misconfiguration fails at startup.
func (ts *TemplateService) Validate() error {
	for _, name := range []string{TemplateSignupAccepted, TemplateSignupDenied, TemplateConfirmed, TemplateConfirmDenied} {
		if _, err := ts.template(name); err != nil {
			return err
		}
	}
	return nil
}

func (ts *TemplateService) template(name string) (*liquid.Template, error) {
	ts.mu.RLock()
	tpl, ok := ts.cache[name]
	ts.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	src, err := fs.ReadFile(ts.source, name+".liquid")
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", name, err)
	}
	parsed, err := ts.engine.ParseTemplate(src)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}

	ts.mu.Lock()
	ts.cache[name] = parsed
	ts.mu.Unlock()
	return parsed, nil
}

func splitSubject(s string) *Rendered {
	first, rest, _ := strings.Cut(s, "\n")
	if subject, ok := strings.CutPrefix(strings.TrimSpace(first), "Subject:"); ok {
		return &Rendered{Subject: strings.TrimSpace(subject), Text: strings.TrimLeft(rest, "\n")}
	}
	return &Rendered{Text: s}
}

// overlayFS reads name from dir first, then from the embedded templates.
type overlayFS struct {
	dir string
}

func (o overlayFS) Open(name string) (fs.File, error) {
	if o.dir != "" {
		f, err := os.Open(filepath.Join(o.dir, filepath.FromSlash(name)))
		if err == nil {
			return f, nil
		}
	}
	return builtin.Open("templates/" + name)
}
