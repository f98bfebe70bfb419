package parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// Parser parses MOO source into an AST. It is a recursive-descent
// parser with one token of lookahead.
type Parser struct {
	lexer      *Lexer
	current    Token
	peek       Token
	indexDepth int // inside [ ]: ^ and $ are index markers
}

// NewParser creates a new Parser instance
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) expect(t TokenType) (Token, error) {
	if p.current.Type != t {
		return Token{}, p.errorf(p.current.Position, "expected %s, got %s", t, p.current.Type)
	}
	tok := p.current
	p.nextToken()
	return tok, nil
}

// Parse compiles a whole program (a verb body).
func Parse(src string) ([]Stmt, error) {
	return NewParser(src).ParseProgram()
}

// parseExpression is the entry point for one expression.
func (p *Parser) parseExpression() (Expr, error) {
	return p.parseAssign()
}

// parseAssign handles right-associative assignment, including the
// scatter form when the target is a {...} pattern.
func (p *Parser) parseAssign() (Expr, error) {
	left, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TOKEN_ASSIGN {
		return left, nil
	}
	pos := p.current.Position
	p.nextToken()
	value, err := p.parseAssign()
	if err != nil {
		return nil, err
	}

	if list, ok := left.(*ListExpr); ok {
		targets, err := p.listToScatter(list)
		if err != nil {
			return nil, err
		}
		return &ScatterExpr{Pos: list.Pos, Targets: targets, Value: value}, nil
	}

	switch left.(type) {
	case *IdentifierExpr, *IndexExpr, *RangeExpr, *PropertyExpr, *SysRefExpr:
		return &AssignExpr{Pos: pos, Target: left, Value: value}, nil
	}
	return nil, p.errorf(pos, "invalid assignment target")
}

// listToScatter reinterprets a parsed {...} as scatter targets.
func (p *Parser) listToScatter(list *ListExpr) ([]ScatterTarget, error) {
	targets := make([]ScatterTarget, 0, len(list.Elements))
	for _, el := range list.Elements {
		switch e := el.(type) {
		case *IdentifierExpr:
			targets = append(targets, ScatterTarget{Pos: e.Pos, Name: e.Name})
		case *SpliceExpr:
			id, ok := e.Expr.(*IdentifierExpr)
			if !ok {
				return nil, p.errorf(e.Pos, "scatter rest target must be a variable")
			}
			targets = append(targets, ScatterTarget{Pos: e.Pos, Name: id.Name, Rest: true})
		case *TernaryOptional:
			targets = append(targets, ScatterTarget{
				Pos: e.Pos, Name: e.Name, Optional: true, Default: e.Default,
			})
		default:
			return nil, p.errorf(el.Position(), "invalid scatter target")
		}
	}
	return targets, nil
}

// TernaryOptional is a parse-time marker for ?name [= default] inside
// a {...} that turns out to be a scatter pattern. It never survives
// into a finished AST.
type TernaryOptional struct {
	Pos     Position
	Name    string
	Default Expr
}

func (e *TernaryOptional) Position() Position { return e.Pos }
func (e *TernaryOptional) exprNode()          {}

func (p *Parser) parseTernary() (Expr, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TOKEN_QUESTION {
		return cond, nil
	}
	pos := p.current.Position
	p.nextToken()
	thenExpr, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_PIPE); err != nil {
		return nil, err
	}
	elseExpr, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &TernaryExpr{Pos: pos, Condition: cond, ThenExpr: thenExpr, ElseExpr: elseExpr}, nil
}

// binaryLevel parses one left-associative precedence level.
func (p *Parser) binaryLevel(ops []TokenType, next func() (Expr, error)) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.current.Type == op {
				pos := p.current.Position
				p.nextToken()
				right, err := next()
				if err != nil {
					return nil, err
				}
				left = &BinaryExpr{Pos: pos, Left: left, Operator: op, Right: right}
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
	}
}

func (p *Parser) parseOr() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_OR}, p.parseAnd)
}

func (p *Parser) parseAnd() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_AND}, p.parseEquality)
}

func (p *Parser) parseEquality() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_EQ, TOKEN_NE}, p.parseRelational)
}

func (p *Parser) parseRelational() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_LT, TOKEN_GT, TOKEN_LE, TOKEN_GE, TOKEN_IN}, p.parseBitOr)
}

func (p *Parser) parseBitOr() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_BITOR}, p.parseBitXor)
}

func (p *Parser) parseBitXor() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_BITXOR}, p.parseBitAnd)
}

func (p *Parser) parseBitAnd() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_BITAND}, p.parseShift)
}

func (p *Parser) parseShift() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_LSHIFT, TOKEN_RSHIFT}, p.parseAdditive)
}

func (p *Parser) parseAdditive() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_PLUS, TOKEN_MINUS}, p.parseMultiplicative)
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.binaryLevel([]TokenType{TOKEN_STAR, TOKEN_SLASH, TOKEN_PERCENT}, p.parsePower)
}

// parsePower handles ^, right-associative.
func (p *Parser) parsePower() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TOKEN_CARET {
		return left, nil
	}
	pos := p.current.Position
	p.nextToken()
	right, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Pos: pos, Left: left, Operator: TOKEN_CARET, Right: right}, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	switch p.current.Type {
	case TOKEN_MINUS, TOKEN_NOT, TOKEN_BITNOT:
		pos := p.current.Position
		op := p.current.Type
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Pos: pos, Operator: op, Operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles indexing, slicing, property access and verb
// calls, which all bind tightest and chain left to right.
func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current.Type {
		case TOKEN_LBRACKET:
			pos := p.current.Position
			p.nextToken()
			p.indexDepth++
			first, err := p.parseExpression()
			if err != nil {
				p.indexDepth--
				return nil, err
			}
			if p.current.Type == TOKEN_RANGE {
				p.nextToken()
				end, err := p.parseExpression()
				if err != nil {
					p.indexDepth--
					return nil, err
				}
				p.indexDepth--
				if _, err := p.expect(TOKEN_RBRACKET); err != nil {
					return nil, err
				}
				expr = &RangeExpr{Pos: pos, Expr: expr, Start: first, End: end}
				continue
			}
			p.indexDepth--
			if _, err := p.expect(TOKEN_RBRACKET); err != nil {
				return nil, err
			}
			expr = &IndexExpr{Pos: pos, Expr: expr, Index: first}

		case TOKEN_DOT:
			pos := p.current.Position
			p.nextToken()
			if p.current.Type == TOKEN_LPAREN {
				p.nextToken()
				name, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(TOKEN_RPAREN); err != nil {
					return nil, err
				}
				expr = &PropertyExpr{Pos: pos, Expr: expr, Dynamic: name}
				continue
			}
			tok, err := p.expectName()
			if err != nil {
				return nil, err
			}
			expr = &PropertyExpr{Pos: pos, Expr: expr, Property: tok.Value}

		case TOKEN_COLON:
			pos := p.current.Position
			p.nextToken()
			if p.current.Type == TOKEN_LPAREN {
				p.nextToken()
				name, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(TOKEN_RPAREN); err != nil {
					return nil, err
				}
				args, err := p.parseArgList()
				if err != nil {
					return nil, err
				}
				expr = &VerbCallExpr{Pos: pos, Expr: expr, Dynamic: name, Args: args}
				continue
			}
			tok, err := p.expectName()
			if err != nil {
				return nil, err
			}
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			expr = &VerbCallExpr{Pos: pos, Expr: expr, Verb: tok.Value, Args: args}

		default:
			return expr, nil
		}
	}
}

// expectName accepts an identifier or a keyword used as a name
// (properties and verbs may be called "in", "for", ...).
func (p *Parser) expectName() (Token, error) {
	switch p.current.Type {
	case TOKEN_IDENTIFIER:
		tok := p.current
		p.nextToken()
		return tok, nil
	}
	if _, isKw := keywords[strings.ToLower(p.current.Value)]; isKw && p.current.Value != "" {
		tok := p.current
		p.nextToken()
		return tok, nil
	}
	return Token{}, p.errorf(p.current.Position, "expected name, got %s", p.current.Type)
}

// parseArgList parses ( expr, @expr, ... ).
func (p *Parser) parseArgList() ([]Expr, error) {
	if _, err := p.expect(TOKEN_LPAREN); err != nil {
		return nil, err
	}
	var args []Expr
	for p.current.Type != TOKEN_RPAREN {
		arg, err := p.parseSpliceableExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.current.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}
		break
	}
	if _, err := p.expect(TOKEN_RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parseSpliceableExpr() (Expr, error) {
	if p.current.Type == TOKEN_AT {
		pos := p.current.Position
		p.nextToken()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &SpliceExpr{Pos: pos, Expr: inner}, nil
	}
	return p.parseExpression()
}

func (p *Parser) parsePrimary() (Expr, error) {
	pos := p.current.Position
	switch p.current.Type {
	case TOKEN_INT:
		val, err := strconv.ParseInt(p.current.Value, 10, 64)
		if err != nil {
			return nil, p.errorf(pos, "bad integer literal %q", p.current.Value)
		}
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: types.NewInt(val)}, nil

	case TOKEN_FLOAT:
		val, err := strconv.ParseFloat(p.current.Value, 64)
		if err != nil && !math.IsInf(val, 0) {
			return nil, p.errorf(pos, "bad float literal %q", p.current.Value)
		}
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: types.NewFloat(val)}, nil

	case TOKEN_STRING:
		v := types.NewStr(p.current.Value)
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: v}, nil

	case TOKEN_OBJECT:
		n, err := strconv.ParseInt(p.current.Value, 10, 32)
		if err != nil {
			return nil, p.errorf(pos, "bad object literal #%s", p.current.Value)
		}
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: types.NewObj(types.ObjID(n))}, nil

	case TOKEN_ERROR_LIT:
		code, ok := types.ErrorFromString(p.current.Value)
		if !ok {
			return nil, p.errorf(pos, "unknown error literal %s", p.current.Value)
		}
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: types.NewErr(code)}, nil

	case TOKEN_SYMBOL:
		v := types.NewSym(p.current.Value)
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: v}, nil

	case TOKEN_TRUE:
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: types.NewBool(true)}, nil

	case TOKEN_FALSE:
		p.nextToken()
		return &LiteralExpr{Pos: pos, Value: types.NewBool(false)}, nil

	case TOKEN_IDENTIFIER:
		name := p.current.Value
		if p.peek.Type == TOKEN_LPAREN {
			p.nextToken()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			return &BuiltinCallExpr{Pos: pos, Name: name, Args: args}, nil
		}
		p.nextToken()
		return &IdentifierExpr{Pos: pos, Name: name}, nil

	case TOKEN_LPAREN:
		p.nextToken()
		// Parenthesized expressions reset the index-marker context.
		depth := p.indexDepth
		p.indexDepth = 0
		inner, err := p.parseExpression()
		p.indexDepth = depth
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_RPAREN); err != nil {
			return nil, err
		}
		return &ParenExpr{Pos: pos, Expr: inner}, nil

	case TOKEN_LBRACE:
		return p.parseListExpr()

	case TOKEN_LBRACKET:
		return p.parseMapExpr()

	case TOKEN_LT:
		return p.parseFlyweightExpr()

	case TOKEN_BACKTICK:
		return p.parseCatchExpr()

	case TOKEN_DOLLAR:
		if p.peek.Type == TOKEN_IDENTIFIER {
			p.nextToken()
			name := p.current.Value
			p.nextToken()
			if p.current.Type == TOKEN_LPAREN {
				// $foo(args) is #0:foo(args)
				args, err := p.parseArgList()
				if err != nil {
					return nil, err
				}
				return &VerbCallExpr{
					Pos:  pos,
					Expr: &LiteralExpr{Pos: pos, Value: types.NewObj(0)},
					Verb: name,
					Args: args,
				}, nil
			}
			return &SysRefExpr{Pos: pos, Name: name}, nil
		}
		if p.indexDepth > 0 {
			p.nextToken()
			return &IndexMarkerExpr{Pos: pos, Marker: TOKEN_DOLLAR}, nil
		}
		return nil, p.errorf(pos, "unexpected $")

	case TOKEN_CARET:
		if p.indexDepth > 0 {
			p.nextToken()
			return &IndexMarkerExpr{Pos: pos, Marker: TOKEN_CARET}, nil
		}
		return nil, p.errorf(pos, "unexpected ^")

	case TOKEN_QUESTION:
		// Only meaningful inside a {...} scatter pattern; resolved by
		// listToScatter when the assignment is seen.
		return p.parseOptionalTarget()
	}

	return nil, p.errorf(pos, "unexpected token %s", p.current.Type)
}

// parseListExpr parses {e1, @e2, ...}.
func (p *Parser) parseListExpr() (Expr, error) {
	pos := p.current.Position
	p.nextToken()
	depth := p.indexDepth
	p.indexDepth = 0
	defer func() { p.indexDepth = depth }()
	var elems []Expr
	for p.current.Type != TOKEN_RBRACE {
		el, err := p.parseSpliceableExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		if p.current.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}
		break
	}
	if _, err := p.expect(TOKEN_RBRACE); err != nil {
		return nil, err
	}
	return &ListExpr{Pos: pos, Elements: elems}, nil
}

// parseMapExpr parses [k -> v, ...].
func (p *Parser) parseMapExpr() (Expr, error) {
	pos := p.current.Position
	p.nextToken()
	depth := p.indexDepth
	p.indexDepth = 0
	defer func() { p.indexDepth = depth }()
	var pairs []MapPair
	for p.current.Type != TOKEN_RBRACKET {
		key, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_ARROW); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, MapPair{Key: key, Value: val})
		if p.current.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}
		break
	}
	if _, err := p.expect(TOKEN_RBRACKET); err != nil {
		return nil, err
	}
	return &MapExpr{Pos: pos, Pairs: pairs}, nil
}

// parseFlyweightExpr parses <delegate [, [slots]] [, {contents}]>.
func (p *Parser) parseFlyweightExpr() (Expr, error) {
	pos := p.current.Position
	p.nextToken() // '<'
	// The delegate is parsed above the comparison level so the closing
	// '>' of "<#7>" is not read as an operator.
	delegate, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	fw := &FlyweightExpr{Pos: pos, Delegate: delegate}
	if p.current.Type == TOKEN_COMMA {
		p.nextToken()
		if p.current.Type == TOKEN_LBRACKET {
			m, err := p.parseMapExpr()
			if err != nil {
				return nil, err
			}
			fw.Slots = m.(*MapExpr).Pairs
			if p.current.Type == TOKEN_COMMA {
				p.nextToken()
			}
		}
		if p.current.Type == TOKEN_LBRACE {
			l, err := p.parseListExpr()
			if err != nil {
				return nil, err
			}
			fw.Contents = l.(*ListExpr).Elements
		}
	}
	if _, err := p.expect(TOKEN_GT); err != nil {
		return nil, err
	}
	return fw, nil
}

// parseCatchExpr parses `expr ! codes => default'.
func (p *Parser) parseCatchExpr() (Expr, error) {
	pos := p.current.Position
	p.nextToken() // '`'
	inner, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_NOT); err != nil {
		return nil, err
	}
	codes, isAny, err := p.parseCodes()
	if err != nil {
		return nil, err
	}
	catch := &CatchExpr{Pos: pos, Expr: inner, Codes: codes, IsAny: isAny}
	if p.current.Type == TOKEN_FATARROW {
		p.nextToken()
		def, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		catch.Default = def
	}
	if _, err := p.expect(TOKEN_SQUOTE); err != nil {
		return nil, err
	}
	return catch, nil
}

// parseCodes parses the catchable codeset: ANY or a comma-separated
// list of error literals.
func (p *Parser) parseCodes() ([]types.ErrorCode, bool, error) {
	if p.current.Type == TOKEN_IDENTIFIER && strings.EqualFold(p.current.Value, "any") {
		p.nextToken()
		return nil, true, nil
	}
	var codes []types.ErrorCode
	for {
		if p.current.Type != TOKEN_ERROR_LIT {
			return nil, false, p.errorf(p.current.Position, "expected error code, got %s", p.current.Type)
		}
		code, ok := types.ErrorFromString(p.current.Value)
		if !ok {
			return nil, false, p.errorf(p.current.Position, "unknown error code %s", p.current.Value)
		}
		codes = append(codes, code)
		p.nextToken()
		if p.current.Type != TOKEN_COMMA {
			return codes, false, nil
		}
		p.nextToken()
	}
}

// parseOptionalTarget parses ?name [= default] — only valid inside a
// {...} that becomes a scatter pattern.
func (p *Parser) parseOptionalTarget() (Expr, error) {
	pos := p.current.Position
	p.nextToken() // '?'
	tok, err := p.expect(TOKEN_IDENTIFIER)
	if err != nil {
		return nil, err
	}
	opt := &TernaryOptional{Pos: pos, Name: tok.Value}
	if p.current.Type == TOKEN_ASSIGN {
		p.nextToken()
		def, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		opt.Default = def
	}
	return opt, nil
}
