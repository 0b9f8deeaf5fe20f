package cypher_test

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/ha1tch/csvgraph/pkg/cypher"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unquote reverses cypher.Quote
func unquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '\'' || lit[len(lit)-1] != '\'' {
		return "", fmt.Errorf("not a string literal: %s", lit)
	}
	body := lit[1 : len(lit)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\'' {
			return "", fmt.Errorf("unescaped quote at offset %d", i+1)
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("dangling escape")
		}
		switch body[i] {
		case '\\', '\'', '"':
			b.WriteByte(body[i])
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+4 >= len(body) {
				return "", fmt.Errorf("short unicode escape")
			}
			n, err := strconv.ParseUint(body[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("bad unicode escape: %w", err)
			}
			b.WriteRune(rune(n))
			i += 4
		default:
			return "", fmt.Errorf("unknown escape \\%c", body[i])
		}
	}
	return b.String(), nil
}

func TestLiteral_Null(t *testing.T) {
	assert.Equal(t, "null", cypher.Literal(models.Null()))
	assert.Equal(t, "null", cypher.Literal(models.String("")))
	assert.Equal(t, "null", cypher.Literal(models.Float(math.NaN())))
	assert.Equal(t, "null", cypher.Literal(models.Float(math.Inf(1))))
}

func TestLiteral_Numbers(t *testing.T) {
	assert.Equal(t, "42", cypher.Literal(models.Int(42)))
	assert.Equal(t, "-7", cypher.Literal(models.Int(-7)))
	assert.Equal(t, "1.5", cypher.Literal(models.Float(1.5)))
	assert.Equal(t, "2.0", cypher.Literal(models.Float(2)))
	assert.Equal(t, "1e+21", cypher.Literal(models.Float(1e21)))
}

func TestLiteral_Bool(t *testing.T) {
	assert.Equal(t, "true", cypher.Literal(models.Bool(true)))
	assert.Equal(t, "false", cypher.Literal(models.Bool(false)))
}

func TestLiteral_StringEscaping(t *testing.T) {
	assert.Equal(t, `'Knee Exo'`, cypher.Literal(models.String("Knee Exo")))
	assert.Equal(t, `'It\'s'`, cypher.Literal(models.String("It's")))
	assert.Equal(t, `'say \"hi\"'`, cypher.Literal(models.String(`say "hi"`)))
	assert.Equal(t, `'a\\b'`, cypher.Literal(models.String(`a\b`)))
	assert.Equal(t, `'line\nbreak'`, cypher.Literal(models.String("line\nbreak")))
}

func TestLiteral_StringRoundTrip(t *testing.T) {
	inputs := []string{
		"plain",
		"It's working",
		`Test with "quotes"`,
		`trailing backslash \`,
		`\'`,
		"'); MATCH (n) DETACH DELETE n; //",
		"José François",
		"tab\tand\x01control",
		"$$ dollar $cypher$",
	}

	for _, in := range inputs {
		lit := cypher.Literal(models.String(in))
		out, err := unquote(lit)
		require.NoError(t, err, lit)
		assert.Equal(t, in, out)

		// the only unescaped quotes are the delimiters
		inner := lit[1 : len(lit)-1]
		assert.False(t, strings.ContainsAny(inner, "\n\r"))
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' {
				i++
				continue
			}
			assert.NotEqual(t, byte('\''), inner[i], "unescaped quote in %s", lit)
		}
	}
}

func TestParam(t *testing.T) {
	assert.Nil(t, cypher.Param(models.Null()))
	assert.Nil(t, cypher.Param(models.String("")))
	assert.Nil(t, cypher.Param(models.Float(math.NaN())))
	assert.Equal(t, int64(3), cypher.Param(models.Int(3)))
	assert.Equal(t, "x", cypher.Param(models.String("x")))

	params := cypher.Params(models.Properties{
		{Name: "_id", Value: models.Int(1)},
		{Name: "name", Value: models.Null()},
	})
	assert.Equal(t, map[string]interface{}{"_id": int64(1), "name": nil}, params)
}

func TestIdent(t *testing.T) {
	assert.Equal(t, "Exo", cypher.Ident("Exo"))
	assert.Equal(t, "_id", cypher.Ident("_id"))
	assert.Equal(t, "`first name`", cypher.Ident("first name"))
	assert.Equal(t, "`a``b`", cypher.Ident("a`b"))
}

func TestPropertyMap(t *testing.T) {
	props := models.Properties{
		{Name: "_id", Value: models.Int(1)},
		{Name: "name", Value: models.String("Knee Exo")},
		{Name: "weight kg", Value: models.Float(2.5)},
		{Name: "notes", Value: models.Null()},
	}
	assert.Equal(t, "{_id: 1, name: 'Knee Exo', `weight kg`: 2.5, notes: null}", cypher.PropertyMap(props))
	assert.Equal(t, "{}", cypher.PropertyMap(nil))
}

func TestDollarQuote(t *testing.T) {
	assert.Equal(t, "$cypher$ CREATE (n) $cypher$", cypher.DollarQuote(" CREATE (n) "))
	body := "CREATE (n {s: '$cypher$'})"
	assert.Equal(t, "$cypher1$"+body+"$cypher1$", cypher.DollarQuote(body))
}
