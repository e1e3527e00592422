package sqlfrag

import (
	"encoding/json"
	"strings"
)

// Builder accumulates SQL text and bind values incrementally. It is the
// fluent equivalent of Build, for call sites that assemble a query from
// conditionally-present pieces rather than from one literal template.
type Builder struct {
	sb    strings.Builder
	binds []any
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Raw appends literal SQL text verbatim.
func (b *Builder) Raw(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Bind appends a "?" placeholder and binds v.
func (b *Builder) Bind(v any) *Builder {
	b.sb.WriteString("?")
	b.binds = append(b.binds, v)
	return b
}

// ID appends v as a quoted SQL identifier. No bind value is added.
func (b *Builder) ID(v any) *Builder {
	b.sb.WriteString(QuoteID(valToString(v)))
	return b
}

// Lit appends v's literal SQL form inline. No bind value is added.
func (b *Builder) Lit(v any) *Builder {
	b.sb.WriteString(valToString(v))
	return b
}

// JSON appends a "?" placeholder and binds the JSON encoding of v.
func (b *Builder) JSON(v any) *Builder {
	encoded, err := json.Marshal(v)
	if err != nil {
		encoded = []byte("null")
	}
	return b.Bind(string(encoded))
}

// Build returns the accumulated SQL text and bind values.
func (b *Builder) Build() (string, []any) {
	return b.sb.String(), b.binds
}
