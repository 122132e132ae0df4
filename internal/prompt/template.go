package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goosewin/glot/internal/apperr"
)

// Role tags a message part.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one role-tagged template string with {placeholder} markers.
type Part struct {
	Role    Role   `yaml:"role"`
	Content string `yaml:"content"`
}

// Message is a rendered part.
type Message struct {
	Role    Role
	Content string
}

// Request is a fully substituted, ordered sequence of messages.
type Request struct {
	messages []Message
}

// NewRequest builds a request from already rendered messages.
func NewRequest(messages ...Message) Request {
	return Request{messages: append([]Message(nil), messages...)}
}

// Messages returns a copy of the rendered messages.
func (r Request) Messages() []Message {
	return append([]Message(nil), r.messages...)
}

// Len returns the number of messages.
func (r Request) Len() int {
	return len(r.messages)
}

// Content returns the content of the first message with the given role.
func (r Request) Content(role Role) (string, bool) {
	for _, msg := range r.messages {
		if msg.Role == role {
			return msg.Content, true
		}
	}
	return "", false
}

// MissingPlaceholderError names the first placeholder without a value.
type MissingPlaceholderError struct {
	Name string
	Part int
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("missing value for placeholder {%s} in part %d", e.Name, e.Part)
}

func (e *MissingPlaceholderError) Unwrap() error {
	return apperr.ErrMissingPlaceholder
}

var ErrNoParts = errors.New("template needs at least one part")

type segment struct {
	literal     string
	placeholder string
}

type compiledPart struct {
	role     Role
	source   string
	segments []segment
}

// Template is an immutable ordered set of parts. The zero value has no parts
// and cannot be rendered.
type Template struct {
	parts []compiledPart
}

// TranslationSystemPrompt and TranslationUserPrompt form the default
// translation template.
const (
	TranslationSystemPrompt = "Translate the following into {language}:"
	TranslationUserPrompt   = "{text}"
)

// Translation returns the system/user template used for translation requests.
func Translation() Template {
	return MustNew(
		Part{Role: RoleSystem, Content: TranslationSystemPrompt},
		Part{Role: RoleUser, Content: TranslationUserPrompt},
	)
}

// New compiles parts into a template.
func New(parts ...Part) (Template, error) {
	if len(parts) == 0 {
		return Template{}, ErrNoParts
	}
	compiled := make([]compiledPart, 0, len(parts))
	for i, part := range parts {
		role := Role(strings.ToLower(strings.TrimSpace(string(part.Role))))
		if role == "" {
			return Template{}, fmt.Errorf("part %d: role is required", i)
		}
		compiled = append(compiled, compiledPart{
			role:     role,
			source:   part.Content,
			segments: parseSegments(part.Content),
		})
	}
	return Template{parts: compiled}, nil
}

// MustNew is like New but panics on error.
func MustNew(parts ...Part) Template {
	t, err := New(parts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Parts returns the template's source parts.
func (t Template) Parts() []Part {
	parts := make([]Part, 0, len(t.parts))
	for _, part := range t.parts {
		parts = append(parts, Part{Role: part.role, Content: part.source})
	}
	return parts
}

// Placeholders lists placeholder names in order of first appearance.
func (t Template) Placeholders() []string {
	seen := map[string]bool{}
	var names []string
	for _, part := range t.parts {
		for _, seg := range part.segments {
			if seg.placeholder == "" || seen[seg.placeholder] {
				continue
			}
			seen[seg.placeholder] = true
			names = append(names, seg.placeholder)
		}
	}
	return names
}

// Render substitutes values into every part. Values are inserted verbatim and
// never re-scanned; keys without a matching placeholder are ignored.
func (t Template) Render(values map[string]string) (Request, error) {
	if len(t.parts) == 0 {
		return Request{}, ErrNoParts
	}
	messages := make([]Message, 0, len(t.parts))
	for i, part := range t.parts {
		var b strings.Builder
		for _, seg := range part.segments {
			if seg.placeholder == "" {
				b.WriteString(seg.literal)
				continue
			}
			value, ok := values[seg.placeholder]
			if !ok {
				return Request{}, &MissingPlaceholderError{Name: seg.placeholder, Part: i}
			}
			b.WriteString(value)
		}
		messages = append(messages, Message{Role: part.role, Content: b.String()})
	}
	return Request{messages: messages}, nil
}

// parseSegments splits content into literal runs and {name} placeholders.
// "{{" and "}}" are literal braces; braces around anything other than an
// identifier are kept as text.
func parseSegments(content string) []segment {
	var segments []segment
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '{' && i+1 < len(content) && content[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(content) && content[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(content[i+1:], '}')
			if end < 0 {
				lit.WriteByte(c)
				continue
			}
			name := content[i+1 : i+1+end]
			if !isIdentifier(name) {
				lit.WriteByte(c)
				continue
			}
			flush()
			segments = append(segments, segment{placeholder: name})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segments
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
