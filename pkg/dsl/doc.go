/*
Package dsl provides a Go DSL (Domain Specific Language) for programmatically constructing
routing templates.

It allows developers to define routes using a type-safe, fluent builder pattern instead of
relying on external YAML files. This is particularly useful for tests and for templates
generated from other configuration.

Example usage:

	b := dsl.New("memo-review").ForDocumentType("memo")
	b.Add("draft").Principal("alice").Action(domain.ActionComplete).Go("fanout").
		Add("fanout").Split().Go("legal", "finance").
		Add("legal").Role("legal").Go("signoff").
		Add("finance").Group("finance").First().Go("signoff").
		Add("signoff").Join()

	tpl, err := b.Build()

Build validates the template the same way a template store does on publish.
*/
package dsl
