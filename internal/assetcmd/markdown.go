package assetcmd

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inful/mdfp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

const MarkdownType = "markdown"

// Tag prefixes attached to rendered markdown outputs.
const (
	TagMarkdown          = "markdown"
	TagFingerprintPrefix = "mdfp:"
	TagFrontmatterPrefix = "tag:"
)

//go:embed markdown.go
var markdownSource []byte

var markdownTypeHash = command.HashImplementation(MarkdownType, markdownSource)

// Fields excluded from the content fingerprint.
var fingerprintExcluded = map[string]bool{
	mdfp.FingerprintField: true,
	"lastmod":             true,
	"uid":                 true,
	"aliases":             true,
}

var errMissingClosingDelimiter = fmt.Errorf("frontmatter start delimiter found but closing delimiter is missing")

// Markdown renders a markdown document to HTML. Its frontmatter is dropped from the
// page, fingerprinted with mdfp and optionally written as JSON to Meta.
type Markdown struct {
	command.Base

	Source objectid.Location `json:"source"`
	Dest   objectid.Location `json:"dest"`
	Meta   objectid.Location `json:"meta,omitzero"`
	Unsafe bool              `json:"unsafe,omitempty"`
}

// NewMarkdown renders source to dest.
func NewMarkdown(source, dest objectid.Location) *Markdown {
	return &Markdown{Source: source, Dest: dest}
}

// Command identity and declared files.
func (m *Markdown) CommandType() string                       { return MarkdownType }
func (m *Markdown) Title() string                             { return "markdown " + m.Source.Path }
func (m *Markdown) TypeHash() objectid.ContentHash            { return markdownTypeHash }
func (m *Markdown) InputFiles() []objectid.Location           { return []objectid.Location{m.Source} }
func (m *Markdown) OutputLocation() (objectid.Location, bool) { return m.Dest, true }

// Validate requires source and destination.
func (m *Markdown) Validate() error {
	if m.Source.IsZero() || m.Dest.IsZero() {
		return fmt.Errorf("markdown requires source and dest")
	}
	return nil
}

// ComputeParameterHash covers the locations and the unsafe flag.
func (m *Markdown) ComputeParameterHash(d *objectid.Digest) error {
	d.WriteLocation(m.Source)
	d.WriteLocation(m.Dest)
	d.WriteLocation(m.Meta)
	d.WriteBool(m.Unsafe)
	return nil
}

// Execute splits front matter, renders the body to HTML and optionally writes the
// front matter as JSON to Meta.
func (m *Markdown) Execute(ctx context.Context, env *command.Env) (command.ResultStatus, error) {
	content, err := env.ReadInput(ctx, m.Source)
	if err != nil {
		return command.Failed, err
	}

	doc, err := parseDocument(content)
	if err != nil {
		return command.Failed, fmt.Errorf("%s: %w", m.Source, err)
	}

	fp, err := doc.fingerprint()
	if err != nil {
		return command.Failed, fmt.Errorf("fingerprint %s: %w", m.Source, err)
	}
	if declared, ok := doc.fields[mdfp.FingerprintField].(string); ok && declared != fp {
		env.Logger.Warn("Markdown fingerprint is stale",
			logfields.Location(m.Source.String()),
			logfields.Hash(fp))
	}

	rendered, err := m.render(doc.body)
	if err != nil {
		return command.Failed, fmt.Errorf("render %s: %w", m.Source, err)
	}
	if _, err := env.WriteOutput(ctx, m.Dest, rendered); err != nil {
		return command.Failed, err
	}

	env.Tag(m.Dest, TagMarkdown)
	env.Tag(m.Dest, TagFingerprintPrefix+fp)
	for _, t := range doc.tags() {
		env.Tag(m.Dest, TagFrontmatterPrefix+t)
	}

	if !m.Meta.IsZero() {
		meta, err := json.Marshal(doc.fields)
		if err != nil {
			return command.Failed, fmt.Errorf("encode frontmatter of %s: %w", m.Source, err)
		}
		if _, err := env.WriteOutput(ctx, m.Meta, meta); err != nil {
			return command.Failed, err
		}
	}
	return command.Successful, nil
}

func (m *Markdown) render(body []byte) ([]byte, error) {
	var rendererOpts []goldmark.Option
	if m.Unsafe {
		rendererOpts = append(rendererOpts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}
	md := goldmark.New(append(rendererOpts, goldmark.WithExtensions(extension.GFM))...)

	var buf bytes.Buffer
	if err := md.Convert(body, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Clone returns an unexecuted copy.
func (m *Markdown) Clone() command.Command {
	return &Markdown{Source: m.Source, Dest: m.Dest, Meta: m.Meta, Unsafe: m.Unsafe}
}

type document struct {
	fields map[string]any
	body   []byte
}

// parseDocument splits `---` delimited YAML frontmatter from the body.
func parseDocument(content []byte) (*document, error) {
	nl := "\n"
	if i := bytes.IndexByte(content, '\n'); i > 0 && content[i-1] == '\r' {
		nl = "\r\n"
	}
	doc := &document{fields: map[string]any{}, body: content}

	open := []byte("---" + nl)
	if !bytes.HasPrefix(content, open) {
		return doc, nil
	}
	rest := content[len(open):]

	var raw []byte
	if bytes.HasPrefix(rest, open) {
		doc.body = rest[len(open):]
	} else {
		closeSeq := []byte(nl + "---" + nl)
		idx := bytes.Index(rest, closeSeq)
		if idx < 0 {
			return nil, errMissingClosingDelimiter
		}
		raw = rest[:idx+len(nl)]
		doc.body = rest[idx+len(closeSeq):]
	}

	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &doc.fields); err != nil {
			return nil, fmt.Errorf("parse frontmatter: %w", err)
		}
		if doc.fields == nil {
			doc.fields = map[string]any{}
		}
	}
	return doc, nil
}

// fingerprint hashes the canonical frontmatter (sorted keys, LF newlines, excluded
// fields dropped) together with the body.
func (d *document) fingerprint() (string, error) {
	hashed := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		if !fingerprintExcluded[k] {
			hashed[k] = v
		}
	}
	frontmatter := ""
	if len(hashed) > 0 {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(hashed); err != nil {
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		frontmatter = strings.TrimSuffix(buf.String(), "\n")
	}
	return mdfp.CalculateFingerprintFromParts(frontmatter, string(d.body)), nil
}

func (d *document) tags() []string {
	var out []string
	switch v := d.fields["tags"].(type) {
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case string:
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
