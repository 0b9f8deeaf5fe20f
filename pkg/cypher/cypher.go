// Package cypher renders row values and identifiers as Cypher text.
//
// Literal output is used by backends that only accept query text (Apache AGE
// embeds the Cypher body inside an SQL call), Param output by backends that
// take driver parameters (Neo4j). Both paths share the same null handling.
package cypher

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ha1tch/csvgraph/pkg/models"
)

// NullLiteral is the Cypher null literal
const NullLiteral = "null"

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsPlainIdent reports whether name can be emitted without quoting
func IsPlainIdent(name string) bool {
	return plainIdent.MatchString(name)
}

// Literal formats a value as a Cypher literal
func Literal(v models.Value) string {
	v = v.Normalize()
	switch v.Kind() {
	case models.KindBool:
		return strconv.FormatBool(v.AsBool())
	case models.KindInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case models.KindFloat:
		return floatLiteral(v.AsFloat())
	case models.KindString:
		return Quote(v.AsString())
	default:
		return NullLiteral
	}
}

func floatLiteral(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NullLiteral
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// keep integral floats floats on the way back in
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Quote returns s as a single-quoted Cypher string literal
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Param converts a value into a driver parameter
func Param(v models.Value) interface{} {
	v = v.Normalize()
	if v.Kind() == models.KindFloat && math.IsInf(v.AsFloat(), 0) {
		return nil
	}
	return v.Interface()
}

// Params converts a property set into a driver parameter map
func Params(props models.Properties) map[string]interface{} {
	m := make(map[string]interface{}, len(props))
	for _, f := range props {
		m[f.Name] = Param(f.Value)
	}
	return m
}

// Ident renders a label, relationship type or property key
func Ident(name string) string {
	if IsPlainIdent(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// PropertyMap renders props as a Cypher map literal in property order
func PropertyMap(props models.Properties) string {
	if len(props) == 0 {
		return "{}"
	}
	parts := make([]string, len(props))
	for i, f := range props {
		parts[i] = Ident(f.Name) + ": " + Literal(f.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// DollarQuote wraps body in a PostgreSQL dollar-quoted constant whose tag
// does not occur anywhere in body.
func DollarQuote(body string) string {
	tag := "$cypher$"
	for n := 1; strings.Contains(body, tag); n++ {
		tag = fmt.Sprintf("$cypher%d$", n)
	}
	return tag + body + tag
}
