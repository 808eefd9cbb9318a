// Package repair neutralises the values of known corrupted fields in raw cart event payloads,
// so that the rest of the document can be parsed as JSON.
//
// Upstream serialises some tag fields as nested JSON documents without escaping their inner quotes.
// Those values cannot be recovered, so they are replaced with an empty string.
package repair

import (
	"regexp"
	"strings"
)

// DefaultDirtyFields are the fields known to carry unescaped serialised documents.
var DefaultDirtyFields = []string{
	"brandPurchasedTag",
	"brandVisitedTag",
	"categoryPurchasedTag",
	"categoryVisitedTag",
	"departmentVisitedTag",
	"productPurchasedTag",
	"productVisitedTag",
	"visitedProductWithStockOutSkusTag",
	"carttag",
	"checkouttag",
}

// Repairer turns a raw payload into text which a JSON parser accepts.
type Repairer interface {
	Repair(raw string) string
}

// FieldBlanker blanks the value of every occurrence of a fixed set of fields.
//
// The end of a value is the next `",` sequence. When the value starts a serialised
// object or array, a `",` inside its brackets belongs to the embedded document, and brackets
// inside the strings of that document are ignored. A document which never balances ends at the
// next `",`. Occurrences whose end cannot be found are left as is.
type FieldBlanker struct {
	fields []string
	prefix *regexp.Regexp
}

// New returns a FieldBlanker for the given field names.
// Empty and duplicated names are ignored.
func New(fields []string) *FieldBlanker {
	seen := make(map[string]struct{}, len(fields))
	b := &FieldBlanker{}
	var alternatives []string
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		b.fields = append(b.fields, f)
		alternatives = append(alternatives, regexp.QuoteMeta(f))
	}

	if len(alternatives) > 0 {
		// Matches the quoted key, the colon and the opening quote of the value.
		b.prefix = regexp.MustCompile(`"(?:` + strings.Join(alternatives, "|") + `)"\s*:\s*"`)
	}
	return b
}

// Fields returns the field names handled by the blanker.
func (b *FieldBlanker) Fields() []string {
	return append([]string(nil), b.fields...)
}

// Repair returns a copy of raw where the value of each dirty field is replaced with an empty string.
// The key and the spacing around the colon are kept as received.
func (b *FieldBlanker) Repair(raw string) string {
	if b.prefix == nil {
		return raw
	}

	matches := b.prefix.FindAllStringIndex(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var sb strings.Builder
	sb.Grow(len(raw))
	last := 0
	for _, m := range matches {
		// Part of a value which was already blanked.
		if m[0] < last {
			continue
		}
		end, ok := valueEnd(raw, m[1])
		if !ok {
			continue
		}
		sb.WriteString(raw[last:m[1]])
		sb.WriteString(`",`)
		last = end
	}
	sb.WriteString(raw[last:])

	return sb.String()
}

// valueEnd returns the index right after the `",` closing the string value starting at start.
// It reports false when the value is the last member of its object or array, or when no boundary exists.
func valueEnd(s string, start int) (int, bool) {
	if start < len(s) && (s[start] == '{' || s[start] == '[') {
		if closing := documentClose(s, start); closing >= 0 {
			return plainEnd(s, closing+1)
		}
		// Unbalanced document: the first boundary ends the value.
		if i := strings.Index(s[start:], `",`); i >= 0 {
			return start + i + 2, true
		}
		return 0, false
	}
	return plainEnd(s, start)
}

// documentClose returns the index of the bracket closing the serialised document starting at start, or -1.
// Brackets inside the strings of the document are not structure.
func documentClose(s string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if inString {
				continue
			}
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// plainEnd returns the index right after the first `",` from start.
// It reports false when a quote closing the enclosing object or array comes first.
func plainEnd(s string, start int) (int, bool) {
	for i := start; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		if i+1 < len(s) && s[i+1] == ',' {
			return i + 2, true
		}
		if closesContainer(s, i+1) {
			return 0, false
		}
	}
	return 0, false
}

// closesContainer reports if the first non blank character from i closes an object or an array.
func closesContainer(s string, i int) bool {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '}', ']':
			return true
		default:
			return false
		}
	}
	return false
}
