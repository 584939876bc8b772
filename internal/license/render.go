package license

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed templates/license.md
var templates embed.FS

// Blanks are the fields filled into a license.
type Blanks struct {
	DeveloperName     string
	DeveloperLocation string
	DeveloperEmail    string
	AgentName         string
	AgentLocation     string
	AgentWebsite      string
	UserName          string
	UserLocation      string
	UserEmail         string
	SoftwareURL       string
	SoftwareCategory  string
	Price             string
	Date              string
	Term              string
}

// Agent identifies the marketplace operator in every license.
type Agent struct {
	Name     string
	Location string
	Website  string
}

type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the template at path, or the built-in license when
// path is empty.
func NewRenderer(path string) (*Renderer, error) {
	var (
		src []byte
		err error
	)
	if path == "" {
		src, err = templates.ReadFile("templates/license.md")
	} else {
		src, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read license template: %w", err)
	}
	tmpl, err := template.New("license").Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse license template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(blanks Blanks) ([]byte, error) {
	if blanks.Term == "" {
		blanks.Term = "forever"
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, blanks); err != nil {
		return nil, fmt.Errorf("render license: %w", err)
	}
	return buf.Bytes(), nil
}
