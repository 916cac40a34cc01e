package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PrepareMessages rewrites parts a model cannot take. Placeholders and,
// for models without image support, all image and file parts become
// text references. Empty assistant turns are dropped.
func PrepareMessages(msgs []Message, f Features) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleAssistant && strings.TrimSpace(m.Text()) == "" {
			continue
		}
		parts := make([]Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch {
			case p.Kind == PartText:
				parts = append(parts, p)
			case p.Placeholder:
				parts = append(parts, TextPart(fmt.Sprintf("[attachment: %s] (unavailable)", p.Name)))
			case !f.Image:
				parts = append(parts, TextPart(AttachmentReference(p)))
			default:
				parts = append(parts, p)
			}
		}
		out = append(out, Message{Role: m.Role, Parts: parts})
	}
	return out
}

// AttachmentReference renders a non-text part as a text line
func AttachmentReference(p Part) string {
	return fmt.Sprintf("[attachment: %s] %s", p.Name, p.URL)
}

var errNoJSONObject = errors.New("no JSON object in response")

// DecodeObject decodes the first JSON object in text into v.
// Models often wrap JSON in markdown fences or add prose around it.
func DecodeObject(text string, v interface{}) error {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return errNoJSONObject
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

// schemaInstruction describes a schema in prose for providers without
// native structured output.
func schemaInstruction(s *Schema) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. The object has these string fields:\n")
	for _, f := range s.Fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		if len(f.Enum) > 0 {
			b.WriteString(" (one of: ")
			b.WriteString(strings.Join(f.Enum, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// withSchemaInstruction appends the schema description to the system prompt
func withSchemaInstruction(system string, s *Schema) string {
	if s == nil {
		return system
	}
	if system == "" {
		return schemaInstruction(s)
	}
	return system + "\n\n" + schemaInstruction(s)
}
