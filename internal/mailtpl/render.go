// Package mailtpl renders the voting token email.
package mailtpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const defaultSubject = "Your voting token"

const defaultBody = `# Hello, {{.FullName}}

You are registered to vote with student ID **{{.NIM}}**.

Your one-time voting token is:

## {{.Token}}

Keep it private. The token can be used once and is valid until **{{.EndsAt}}**.
`

type Data struct {
	FullName string
	NIM      string
	Token    string
	EndsAt   string
}

type Renderer struct {
	subject string
	tpl     *template.Template
	md      goldmark.Markdown
}

// New parses a Markdown body template. An empty body selects the built-in one.
func New(subject, body string) (*Renderer, error) {
	if strings.TrimSpace(subject) == "" {
		subject = defaultSubject
	}
	if strings.TrimSpace(body) == "" {
		body = defaultBody
	}
	tpl, err := template.New("token_email").Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}
	return &Renderer{
		subject: subject,
		tpl:     tpl,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

func MustDefault() *Renderer {
	r, err := New("", "")
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Renderer) Render(data Data) (string, string, error) {
	var src bytes.Buffer
	if err := r.tpl.Execute(&src, escapeData(data)); err != nil {
		return "", "", fmt.Errorf("execute email template: %w", err)
	}
	var out bytes.Buffer
	if err := r.md.Convert(src.Bytes(), &out); err != nil {
		return "", "", fmt.Errorf("render email markdown: %w", err)
	}
	return r.subject, out.String(), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

// escapeData keeps voter supplied names from injecting markup.
func escapeData(data Data) Data {
	data.FullName = markdownEscaper.Replace(data.FullName)
	data.NIM = markdownEscaper.Replace(data.NIM)
	return data
}
