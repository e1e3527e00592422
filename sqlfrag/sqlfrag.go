// Package sqlfrag provides a compositional SQL fragment builder.
//
// It turns a sequence of literal text and typed values into a pair of
// (sql text, bind values), the way the source's tagged-template builder does.
// Go has no tagged-template-literal syntax, so two equivalent front ends are
// offered: Build, which mirrors the tagged-template call shape directly
// (literal chunks interleaved with values, suffix tags read off the next
// chunk's prefix), and Builder, a fluent chain for call sites that build a
// query incrementally. Both funnel through the same tag semantics below.
package sqlfrag

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Tag selects how an interpolated value is rendered into the SQL text.
type Tag int

const (
	// TagBind renders an ordinary "?" placeholder and binds the raw value.
	TagBind Tag = iota
	// TagID renders a quoted identifier inline; no bind value is added.
	TagID
	// TagLit renders the value's literal SQL form inline; no bind value is added.
	TagLit
	// TagJSON renders a "?" placeholder and binds the JSON-encoded value.
	TagJSON
)

// Build mirrors a tagged-template call: chunks[0] + tag(values[0]) + chunks[1]
// + tag(values[1]) + chunks[2] + ... . The tag for values[i] is detected from
// the leading run of [A-Z]+ in chunks[i+1]; the matched run is consumed from
// the chunk before it is appended. A run immediately followed by a lowercase
// 's' is never treated as a tag (it reads as plural literal text, e.g. "IDs",
// "JSONs", typed by the caller) -- the value falls back to an ordinary bind
// and the whole chunk, 's' included, is kept verbatim.
func Build(chunks []string, values ...any) (string, []any) {
	if len(chunks) != len(values)+1 {
		panic("sqlfrag: Build requires len(chunks) == len(values)+1")
	}

	var sb strings.Builder
	var binds []any

	sb.WriteString(chunks[0])
	for i, v := range values {
		tag, rest := splitTag(chunks[i+1])
		switch tag {
		case TagID:
			sb.WriteString(QuoteID(valToString(v)))
		case TagLit:
			sb.WriteString(valToString(v))
		case TagJSON:
			sb.WriteString("?")
			encoded, err := json.Marshal(v)
			if err != nil {
				encoded = []byte("null")
			}
			binds = append(binds, string(encoded))
		default:
			sb.WriteString("?")
			binds = append(binds, v)
		}
		sb.WriteString(rest)
	}

	return sb.String(), binds
}

// splitTag reads the leading run of [A-Z]+ off chunk and, if it exactly
// matches a known tag and is not followed by a lowercase 's', returns the tag
// and the remaining text. Otherwise it returns TagBind and the chunk
// untouched.
func splitTag(chunk string) (Tag, string) {
	i := 0
	for i < len(chunk) && chunk[i] >= 'A' && chunk[i] <= 'Z' {
		i++
	}
	if i == 0 {
		return TagBind, chunk
	}
	if i < len(chunk) && chunk[i] == 's' {
		return TagBind, chunk
	}

	switch chunk[:i] {
	case "ID":
		return TagID, chunk[i:]
	case "LIT":
		return TagLit, chunk[i:]
	case "JSON":
		return TagJSON, chunk[i:]
	default:
		return TagBind, chunk
	}
}

// ValToSQL renders a scalar as an inline SQL literal, for TagLit and
// debugging use.
func ValToSQL(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return valToString(v)
	}
}

// valToString renders a value's plain string form, without SQL quoting.
// Numbers render as decimal text; nil renders as the empty string (callers
// that need NULL semantics use ValToSQL instead).
func valToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmtStringer:
		return t.String()
	default:
		return jsonFallback(v)
	}
}

type fmtStringer interface {
	String() string
}

func jsonFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	s := string(b)
	return strings.Trim(s, `"`)
}

// QuoteID double-quotes a SQL identifier, escaping embedded double quotes.
func QuoteID(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
