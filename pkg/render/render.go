// Package render substitutes named placeholders such as {{first_name}} in
// step templates. Unknown placeholders are an error rather than being left
// in the output.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"

	"github.com/leadflow/leadflow/pkg/model"
)

// Vars is the typed rendering context for one enrollment.
type Vars struct {
	FirstName        string
	LastName         string
	FullName         string
	Email            string
	Company          string
	Position         string
	Website          string
	SenderName       string
	SenderEmail      string
	CompanyName      string
	OpeningLine      string
	PainPoint        string
	ValueProposition string
	FollowUpHook     string
	CallToAction     string
}

func NewVars(contact *model.Contact, program *model.Program, p model.Personalization) Vars {
	v := Vars{
		SenderName:       program.SenderName,
		SenderEmail:      program.SenderEmail,
		CompanyName:      program.CompanyName,
		OpeningLine:      p.OpeningLine,
		PainPoint:        p.PainPoint,
		ValueProposition: p.ValueProposition,
		FollowUpHook:     p.FollowUpHook,
	}
	if contact != nil {
		v.FirstName = contact.FirstName
		v.LastName = contact.LastName
		v.FullName = contact.FullName()
		v.Email = contact.Email
		v.Company = contact.Company
		v.Position = contact.Position
		v.Website = contact.Website
	}
	if p.FirstName != "" {
		v.FirstName = p.FirstName
	}
	return v
}

func (v Vars) fields() map[string]string {
	return map[string]string{
		"first_name":        v.FirstName,
		"last_name":         v.LastName,
		"full_name":         v.FullName,
		"email":             v.Email,
		"company":           v.Company,
		"position":          v.Position,
		"website":           v.Website,
		"sender_name":       v.SenderName,
		"sender_email":      v.SenderEmail,
		"company_name":      v.CompanyName,
		"opening_line":      v.OpeningLine,
		"pain_point":        v.PainPoint,
		"value_proposition": v.ValueProposition,
		"follow_up_hook":    v.FollowUpHook,
		"call_to_action":    v.CallToAction,
	}
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

var keywords = map[string]bool{
	"if": true, "else": true, "end": true, "range": true, "with": true,
	"define": true, "template": true, "block": true, "break": true, "continue": true, "nil": true,
}

// normalize rewrites {{name}} to {{.name}} so text/template resolves it
// against the field map.
func normalize(text string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if keywords[name] {
			return m
		}
		return "{{." + name + "}}"
	})
}

// Render expands text against vars. It fails on malformed templates and on
// placeholders with no matching variable.
func Render(name, text string, vars Vars) (string, error) {
	if text == "" {
		return "", nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(normalize(text))
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, vars.fields()); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return out.String(), nil
}
