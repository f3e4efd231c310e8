package options

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// specLexer tokenizes decoder spec strings such as
// uart(baudRate=9600, parity=EVEN).
var specLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Float", Pattern: `[-+]?[0-9]+\.[0-9]+`},
	{Name: "Int", Pattern: `[-+]?[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[(),=;]`},
})

type specAST struct {
	Decoder string       `@Ident`
	Params  []*specParam `( "(" ( @@ ( ( "," | ";" ) @@ )* )? ")" )?`
}

type specParam struct {
	Key   string     `@Ident "="`
	Value *specValue `@@`
}

type specValue struct {
	Float  *float64 `  @Float`
	Int    *int64   `| @Int`
	String *string  `| @String`
	Ident  *string  `| @Ident`
}

func (v *specValue) value() any {
	switch {
	case v.Float != nil:
		return *v.Float
	case v.Int != nil:
		return int(*v.Int)
	case v.String != nil:
		return *v.String
	case v.Ident != nil:
		return *v.Ident
	}
	return nil
}

var specParser = participle.MustBuild[specAST](
	participle.Lexer(specLexer),
	participle.Elide("Whitespace"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Spec is a parsed decoder spec: a decoder name with its options.
type Spec struct {
	Decoder string
	Options Options
}

// ParseSpec parses "name(key=value, ...)". The parenthesised list is
// optional and keys must be unique.
func ParseSpec(s string) (Spec, error) {
	ast, err := specParser.ParseString("", s)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: decoder spec %q: %w", tool.ErrInvalidConfig, s, err)
	}

	spec := Spec{Decoder: strings.ToLower(ast.Decoder), Options: make(Options, len(ast.Params))}
	for _, p := range ast.Params {
		if spec.Options.Has(p.Key) {
			return Spec{}, fmt.Errorf("%w: decoder spec %q: duplicate option %q", tool.ErrInvalidConfig, s, p.Key)
		}
		spec.Options[p.Key] = p.Value.value()
	}
	return spec, nil
}

// String renders the spec in the syntax ParseSpec accepts.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Decoder)
	b.WriteByte('(')
	for i, k := range s.Options.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		v := s.Options[k]
		if str, ok := v.(string); ok && strings.ContainsAny(str, " ,()=;\"") {
			fmt.Fprintf(&b, "%s=%q", k, str)
			continue
		}
		fmt.Fprintf(&b, "%s=%v", k, v)
	}
	b.WriteByte(')')
	return b.String()
}
