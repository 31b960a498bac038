package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/waypoint/internal/compiler"
	loamAdapter "github.com/aretw0/waypoint/pkg/adapters/loam"
	"github.com/aretw0/waypoint/pkg/domain"
)

// loadTemplates reads a single YAML/JSON template file, or every template document of a
// loam repository when path is a directory.
func loadTemplates(ctx context.Context, path string) ([]*domain.Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		tpl, err := compiler.NewParser().ParseFile(path)
		if err != nil {
			return nil, err
		}
		return []*domain.Template{tpl}, nil
	}

	src, err := loamAdapter.Open(path)
	if err != nil {
		return nil, err
	}
	return src.Templates(ctx)
}

// pickTemplate selects the named template, or the only one when name is empty.
func pickTemplate(templates []*domain.Template, name string) (*domain.Template, error) {
	if name == "" {
		if len(templates) == 1 {
			return templates[0], nil
		}
		names := make([]string, len(templates))
		for i, tpl := range templates {
			names[i] = tpl.Name
		}
		return nil, fmt.Errorf("found %d templates (%s), pick one with --template", len(templates), strings.Join(names, ", "))
	}
	for _, tpl := range templates {
		if tpl.Name == name {
			return tpl, nil
		}
	}
	return nil, fmt.Errorf("%w: '%s'", domain.ErrTemplateNotFound, name)
}
