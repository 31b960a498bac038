package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/waypoint/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ErrMissingName is returned when a parsed template has no name.
var ErrMissingName = errors.New("template missing name")

// Parser is responsible for converting raw bytes into a Template.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a YAML (or JSON) template definition.
func (p *Parser) Parse(data []byte) (*domain.Template, error) {
	tpl, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	if tpl.Name == "" {
		return nil, ErrMissingName
	}
	return tpl, nil
}

// ParseFile reads and parses a template file. A missing name defaults to the file's base name.
func (p *Parser) ParseFile(path string) (*domain.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	tpl, err := p.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if tpl.Name == "" {
		base := filepath.Base(path)
		tpl.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return tpl, nil
}

// decode rejects unknown fields so typos in node definitions surface early.
func (p *Parser) decode(data []byte) (*domain.Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tpl domain.Template
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &tpl, nil
}
