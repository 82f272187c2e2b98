// Package signature implements the positional byte pattern language used to
// gate format detection.
//
// A pattern is a sequence of tokens, whitespace between them is ignored:
//
//	4D5A          literal bytes as hex pairs
//	'PK'          literal ASCII run
//	.. or ??      any single byte
//	{u16le:0x10b} integer of the given width and byte order
//
// Integer tokens accept u8, u16le, u16be, u32le, u32be, u64le and u64be.
package signature

import (
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/binmap/stream"
)

type tokenKind uint8

const (
	tokenLiteral tokenKind = iota
	tokenWildcard
	tokenNumber
)

type token struct {
	kind      tokenKind
	literal   []byte
	width     int
	bigEndian bool
	value     uint64
}

func (t token) size() int {
	switch t.kind {
	case tokenLiteral:
		return len(t.literal)
	case tokenWildcard:
		return 1
	}
	return t.width
}

// Pattern is a compiled signature. Its length is fixed.
type Pattern struct {
	expr   string
	tokens []token
	size   int
}

var numberTypes = map[string]struct {
	width     int
	bigEndian bool
}{
	"u8":    {1, false},
	"u16le": {2, false},
	"u16be": {2, true},
	"u32le": {4, false},
	"u32be": {4, true},
	"u64le": {8, false},
	"u64be": {8, true},
}

// Compile parses expr.
func Compile(expr string) (*Pattern, error) {
	p := &Pattern{expr: expr}
	var hexRun strings.Builder

	flush := func() error {
		if hexRun.Len() == 0 {
			return nil
		}
		s := hexRun.String()
		hexRun.Reset()
		if len(s)%2 != 0 {
			return errors.Errorf("signature %q: odd number of hex digits in %q", expr, s)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return errors.Wrapf(err, "signature %q", expr)
		}
		p.add(token{kind: tokenLiteral, literal: b})
		return nil
	}

	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isHex(c):
			hexRun.WriteByte(c)
			i++
		case c == '.' || c == '?':
			if err := flush(); err != nil {
				return nil, err
			}
			if i+1 >= len(expr) || expr[i+1] != c {
				return nil, errors.Errorf("signature %q: wildcard at %d must be %c%c", expr, i, c, c)
			}
			p.add(token{kind: tokenWildcard})
			i += 2
		case c == '\'':
			if err := flush(); err != nil {
				return nil, err
			}
			end := strings.IndexByte(expr[i+1:], '\'')
			if end < 0 {
				return nil, errors.Errorf("signature %q: unterminated string at %d", expr, i)
			}
			if end == 0 {
				return nil, errors.Errorf("signature %q: empty string at %d", expr, i)
			}
			p.add(token{kind: tokenLiteral, literal: []byte(expr[i+1 : i+1+end])})
			i += end + 2
		case c == '{':
			if err := flush(); err != nil {
				return nil, err
			}
			end := strings.IndexByte(expr[i:], '}')
			if end < 0 {
				return nil, errors.Errorf("signature %q: unterminated number at %d", expr, i)
			}
			t, err := parseNumber(expr[i+1 : i+end])
			if err != nil {
				return nil, errors.WithMessagef(err, "signature %q", expr)
			}
			p.add(t)
			i += end + 1
		default:
			return nil, errors.Errorf("signature %q: unexpected %q at %d", expr, c, i)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if p.size == 0 {
		return nil, errors.Errorf("signature %q is empty", expr)
	}
	return p, nil
}

// MustCompile is like Compile but panics on error. It is meant for
// package-level pattern tables.
func MustCompile(expr string) *Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func parseNumber(body string) (token, error) {
	typ, value, ok := strings.Cut(body, ":")
	if !ok {
		return token{}, errors.Errorf("number %q: want type:value", body)
	}
	nt, ok := numberTypes[strings.TrimSpace(typ)]
	if !ok {
		return token{}, errors.Errorf("number %q: unknown type %q", body, typ)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(value), 0, nt.width*8)
	if err != nil {
		return token{}, errors.Wrapf(err, "number %q", body)
	}
	return token{kind: tokenNumber, width: nt.width, bigEndian: nt.bigEndian, value: v}, nil
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func (p *Pattern) add(t token) {
	// Adjacent literals are merged so matching compares whole runs.
	if n := len(p.tokens); n > 0 && t.kind == tokenLiteral && p.tokens[n-1].kind == tokenLiteral {
		p.tokens[n-1].literal = append(p.tokens[n-1].literal, t.literal...)
	} else {
		p.tokens = append(p.tokens, t)
	}
	p.size += t.size()
}

// Len returns the number of bytes the pattern covers.
func (p *Pattern) Len() int {
	return p.size
}

func (p *Pattern) String() string {
	return p.expr
}

// Match reports whether the pattern matches s at offset.
func (p *Pattern) Match(s *stream.Stream, offset int64) bool {
	if !s.Contains(offset, int64(p.size)) {
		return false
	}
	cursor := offset
	for _, t := range p.tokens {
		switch t.kind {
		case tokenLiteral:
			if !s.Compare(cursor, t.literal) {
				return false
			}
		case tokenNumber:
			if s.Uint(cursor, t.width, t.bigEndian) != t.value {
				return false
			}
		}
		cursor += int64(t.size())
	}
	return true
}

var cache sync.Map // expr -> *Pattern, or error for invalid expressions

// Match compiles expr once and matches it against s at offset. An invalid
// expression never matches.
func Match(s *stream.Stream, expr string, offset int64) bool {
	p, err := cached(expr)
	if err != nil {
		return false
	}
	return p.Match(s, offset)
}

func cached(expr string) (*Pattern, error) {
	if v, ok := cache.Load(expr); ok {
		if p, ok := v.(*Pattern); ok {
			return p, nil
		}
		return nil, v.(error)
	}
	p, err := Compile(expr)
	if err != nil {
		cache.Store(expr, err)
		return nil, err
	}
	cache.Store(expr, p)
	return p, nil
}
