// Package expr parses and evaluates the restricted arithmetic sub-language
// used for data-dependent geometry. An expression either folds to an integer
// when every referenced variable is bound, or is returned as a symbolic
// formula for the raster engine to evaluate with its own runtime metadata.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ExpressionError reports a malformed expression or a non-numeric result.
type ExpressionError struct {
	Expr   string
	Reason string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %s", e.Expr, e.Reason)
}

var variables = map[string]struct{}{
	"w":       {},
	"h":       {},
	"trimW":   {},
	"trimH":   {},
	"padW":    {},
	"padH":    {},
	"targetW": {},
	"targetH": {},
}

var functions = map[string]struct{}{
	"max":   {},
	"min":   {},
	"floor": {},
	"ceil":  {},
	"round": {},
	"abs":   {},
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

// Token is one lexical element of an expression.
type Token struct {
	Kind tokenKind
	Text string
}

// Result is the outcome of evaluating an expression: either a concrete
// integer, or a deferred formula with all whitespace removed.
type Result struct {
	Deferred bool
	Value    int
	Formula  string
}

// Parse tokenizes an expression and checks it against the fixed variable and
// function vocabulary. Parenthesis nesting must balance; every bare
// identifier must be a known variable; every identifier followed by an
// opening parenthesis must be a known function.
func Parse(input string) ([]Token, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &ExpressionError{Expr: input, Reason: "empty expression"}
	}

	depth := 0
	for i, tok := range tokens {
		switch tok.Kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth < 0 {
				return nil, &ExpressionError{Expr: input, Reason: "unbalanced parentheses"}
			}
		case tokIdent:
			if i+1 < len(tokens) && tokens[i+1].Kind == tokLParen {
				if _, ok := functions[tok.Text]; !ok {
					return nil, &ExpressionError{Expr: input, Reason: fmt.Sprintf("unknown function %q", tok.Text)}
				}
				continue
			}
			if _, ok := variables[tok.Text]; !ok {
				return nil, &ExpressionError{Expr: input, Reason: fmt.Sprintf("unknown identifier %q", tok.Text)}
			}
		}
	}
	if depth != 0 {
		return nil, &ExpressionError{Expr: input, Reason: "unbalanced parentheses"}
	}
	return tokens, nil
}

// Evaluate folds an expression to an integer when every referenced variable
// has a binding, rounding to the nearest integer. When any variable is
// unbound the expression is returned unchanged as a deferred formula.
func Evaluate(input string, bindings map[string]float64) (Result, error) {
	tokens, err := Parse(input)
	if err != nil {
		return Result{}, err
	}

	for i, tok := range tokens {
		if tok.Kind != tokIdent {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].Kind == tokLParen {
			continue
		}
		if _, ok := bindings[tok.Text]; !ok {
			return Result{Deferred: true, Formula: joinTokens(tokens)}, nil
		}
	}

	p := &parser{expr: input, tokens: tokens, bindings: bindings}
	value, err := p.parseExpr()
	if err != nil {
		return Result{}, err
	}
	if p.pos != len(p.tokens) {
		return Result{}, &ExpressionError{Expr: input, Reason: fmt.Sprintf("unexpected token %q", p.tokens[p.pos].Text)}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Result{}, &ExpressionError{Expr: input, Reason: "non-numeric result"}
	}
	return Result{Value: int(math.Round(value))}, nil
}

// NumericBindings extracts the float-valued entries of a variable map.
func NumericBindings(vars map[string]any) map[string]float64 {
	out := make(map[string]float64, len(vars))
	for name, value := range vars {
		switch v := value.(type) {
		case float64:
			out[name] = v
		case float32:
			out[name] = float64(v)
		case int:
			out[name] = float64(v)
		case int64:
			out[name] = float64(v)
		}
	}
	return out
}

func tokenize(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			seenDot := false
			for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
				if input[i] == '.' {
					if seenDot {
						return nil, &ExpressionError{Expr: input, Reason: "malformed number"}
					}
					seenDot = true
				}
				i++
			}
			text := input[start:i]
			if text == "." {
				return nil, &ExpressionError{Expr: input, Reason: "malformed number"}
			}
			tokens = append(tokens, Token{Kind: tokNumber, Text: text})
		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: tokIdent, Text: input[start:i]})
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, Token{Kind: tokOp, Text: string(c)})
			i++
		case c == '(':
			tokens = append(tokens, Token{Kind: tokLParen, Text: "("})
			i++
		case c == ')':
			tokens = append(tokens, Token{Kind: tokRParen, Text: ")"})
			i++
		case c == ',':
			tokens = append(tokens, Token{Kind: tokComma, Text: ","})
			i++
		default:
			return nil, &ExpressionError{Expr: input, Reason: fmt.Sprintf("unexpected character %q", string(c))}
		}
	}
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func joinTokens(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Text)
	}
	return b.String()
}

type parser struct {
	expr     string
	tokens   []Token
	pos      int
	bindings map[string]float64
}

func (p *parser) errorf(format string, args ...any) error {
	return &ExpressionError{Expr: p.expr, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) expect(kind tokenKind) error {
	tok, ok := p.peek()
	if !ok || tok.Kind != kind {
		return p.errorf("unbalanced parentheses")
	}
	p.pos++
	return nil
}

func (p *parser) parseExpr() (float64, error) {
	value, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != tokOp || (tok.Text != "+" && tok.Text != "-") {
			return value, nil
		}
		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if tok.Text == "+" {
			value += rhs
		} else {
			value -= rhs
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	value, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != tokOp || (tok.Text != "*" && tok.Text != "/") {
			return value, nil
		}
		p.pos++
		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if tok.Text == "*" {
			value *= rhs
		} else {
			value /= rhs
		}
	}
}

func (p *parser) parseFactor() (float64, error) {
	tok, ok := p.peek()
	if !ok {
		return 0, p.errorf("unexpected end of expression")
	}
	switch tok.Kind {
	case tokNumber:
		p.pos++
		value, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return 0, p.errorf("malformed number %q", tok.Text)
		}
		return value, nil
	case tokOp:
		if tok.Text != "-" {
			return 0, p.errorf("unexpected operator %q", tok.Text)
		}
		p.pos++
		value, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -value, nil
	case tokLParen:
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if err := p.expect(tokRParen); err != nil {
			return 0, err
		}
		return value, nil
	case tokIdent:
		if next := p.pos + 1; next < len(p.tokens) && p.tokens[next].Kind == tokLParen {
			return p.parseCall(tok.Text)
		}
		p.pos++
		value, bound := p.bindings[tok.Text]
		if !bound {
			return 0, p.errorf("unbound identifier %q", tok.Text)
		}
		return value, nil
	default:
		return 0, p.errorf("unexpected token %q", tok.Text)
	}
}

func (p *parser) parseCall(name string) (float64, error) {
	p.pos += 2 // function name and opening paren
	var args []float64
	for {
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		args = append(args, value)
		tok, ok := p.peek()
		if !ok {
			return 0, p.errorf("unbalanced parentheses")
		}
		if tok.Kind == tokComma {
			p.pos++
			continue
		}
		if tok.Kind == tokRParen {
			p.pos++
			break
		}
		return 0, p.errorf("unexpected token %q in %s()", tok.Text, name)
	}
	return applyFunction(p.expr, name, args)
}

func applyFunction(expr, name string, args []float64) (float64, error) {
	unary := func() (float64, error) {
		if len(args) != 1 {
			return 0, &ExpressionError{Expr: expr, Reason: fmt.Sprintf("%s() takes exactly one argument", name)}
		}
		return args[0], nil
	}
	switch name {
	case "max":
		if len(args) == 0 {
			return 0, &ExpressionError{Expr: expr, Reason: "max() requires at least one argument"}
		}
		value := args[0]
		for _, arg := range args[1:] {
			value = math.Max(value, arg)
		}
		return value, nil
	case "min":
		if len(args) == 0 {
			return 0, &ExpressionError{Expr: expr, Reason: "min() requires at least one argument"}
		}
		value := args[0]
		for _, arg := range args[1:] {
			value = math.Min(value, arg)
		}
		return value, nil
	case "floor":
		value, err := unary()
		if err != nil {
			return 0, err
		}
		return math.Floor(value), nil
	case "ceil":
		value, err := unary()
		if err != nil {
			return 0, err
		}
		return math.Ceil(value), nil
	case "round":
		value, err := unary()
		if err != nil {
			return 0, err
		}
		return math.Round(value), nil
	case "abs":
		value, err := unary()
		if err != nil {
			return 0, err
		}
		return math.Abs(value), nil
	default:
		return 0, &ExpressionError{Expr: expr, Reason: fmt.Sprintf("unknown function %q", name)}
	}
}
