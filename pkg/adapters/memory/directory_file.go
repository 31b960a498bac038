package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// directoryFile is the YAML layout read by LoadDirectory.
//
//	roles:
//	  legal: [bob, carol]
//	groups:
//	  finance: [dave]
//	delegations:
//	  - {principal: alice, delegate: zed, type: primary, document_type: memo}
type directoryFile struct {
	Roles       map[string][]string `yaml:"roles"`
	Groups      map[string][]string `yaml:"groups"`
	Delegations []struct {
		Principal    string `yaml:"principal"`
		Delegate     string `yaml:"delegate"`
		Type         string `yaml:"type"`
		DocumentType string `yaml:"document_type"`
	} `yaml:"delegations"`
}

// LoadDirectory builds a Directory from a YAML description. Delegations without a document
// type apply to every type.
func LoadDirectory(data []byte) (*Directory, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file directoryFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}

	d := NewDirectory()
	for role, members := range file.Roles {
		d.AddRoleMembers(role, members...)
	}
	for group, members := range file.Groups {
		d.AddGroupMembers(group, members...)
	}
	for i, del := range file.Delegations {
		if del.Principal == "" || del.Delegate == "" {
			return nil, fmt.Errorf("delegation %d: principal and delegate are required", i)
		}
		documentType := del.DocumentType
		if documentType == "" {
			documentType = AnyDocumentType
		}
		switch del.Type {
		case "", "primary":
			d.SetPrimaryDelegate(del.Principal, documentType, del.Delegate)
		case "secondary":
			d.AddSecondaryDelegate(del.Principal, documentType, del.Delegate)
		default:
			return nil, fmt.Errorf("delegation %d: unknown type '%s'", i, del.Type)
		}
	}
	return d, nil
}
