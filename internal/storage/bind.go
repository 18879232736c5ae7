// ABOUTME: Named parameter binding and read statement detection
// ABOUTME: Rewrites :name to ? for both drivers and guards the read-only path

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// bind rewrites :name placeholders to ? and returns the ordered arguments.
// Placeholders inside quoted literals, identifiers and comments are left alone,
// as is the :: cast operator.
func (s Statement) bind() (string, []any, error) {
	if strings.TrimSpace(s.SQL) == "" {
		return "", nil, errors.New("empty statement")
	}
	if len(s.Params) > 0 && len(s.Args) > 0 {
		return "", nil, errors.New("statement mixes named and positional parameters")
	}
	if len(s.Params) == 0 {
		args := make([]any, len(s.Args))
		for i, a := range s.Args {
			args[i] = normalizeArg(a)
		}
		return s.SQL, args, nil
	}

	src := []rune(s.SQL)
	var out strings.Builder
	var args []any

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(src, i, c)
			out.WriteString(string(src[i:end]))
			i = end - 1
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			end := i
			for end < len(src) && src[end] != '\n' {
				end++
			}
			out.WriteString(string(src[i:end]))
			i = end - 1
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := len(src)
			for j := i + 2; j+1 < len(src); j++ {
				if src[j] == '*' && src[j+1] == '/' {
					end = j + 2
					break
				}
			}
			out.WriteString(string(src[i:end]))
			i = end - 1
		case c == ':' && i+1 < len(src) && src[i+1] == ':':
			out.WriteString("::")
			i++
		case c == ':' && i+1 < len(src) && isIdentStart(src[i+1]):
			end := i + 1
			for end < len(src) && isIdentPart(src[end]) {
				end++
			}
			name := string(src[i+1 : end])
			v, ok := s.Params[name]
			if !ok {
				return "", nil, fmt.Errorf("missing parameter %q", name)
			}
			out.WriteByte('?')
			args = append(args, normalizeArg(v))
			i = end - 1
		default:
			out.WriteRune(c)
		}
	}

	return out.String(), args, nil
}

// closingQuote returns the index just past the literal that starts at start.
// A doubled quote character is an escaped quote.
func closingQuote(src []rune, start int, q rune) int {
	for i := start + 1; i < len(src); i++ {
		if src[i] != q {
			continue
		}
		if i+1 < len(src) && src[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(src)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// normalizeArg stores structured values as JSON text.
func normalizeArg(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	default:
		return v
	}
}

// sqlToken is a keyword, identifier or punctuation mark outside quotes and
// comments. Words are upper-cased.
type sqlToken struct {
	word  string
	punct rune
}

// tokenize splits sql into the tokens isReadStatement looks at. Quoted text,
// comments, numbers and operators other than ( ) ; = are dropped.
func tokenize(sql string) []sqlToken {
	src := []rune(sql)
	var toks []sqlToken
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = closingQuote(src, i, c) - 1
		case c == '[':
			for i < len(src) && src[i] != ']' {
				i++
			}
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := len(src)
			for j := i + 2; j+1 < len(src); j++ {
				if src[j] == '*' && src[j+1] == '/' {
					end = j + 2
					break
				}
			}
			i = end - 1
		case c == '(' || c == ')' || c == ';' || c == '=':
			toks = append(toks, sqlToken{punct: c})
		case isIdentStart(c):
			end := i
			for end < len(src) && (isIdentPart(src[end]) || src[end] == '.') {
				end++
			}
			toks = append(toks, sqlToken{word: strings.ToUpper(string(src[i:end]))})
			i = end - 1
		}
	}
	return toks
}

// statementKeywords start the main statement after WITH or EXPLAIN.
var statementKeywords = map[string]bool{
	"SELECT":  true,
	"VALUES":  true,
	"INSERT":  true,
	"REPLACE": true,
	"UPDATE":  true,
	"DELETE":  true,
	"WITH":    true,
}

// Pragmas that take an argument without changing anything.
var readPragmasWithArg = map[string]bool{
	"TABLE_INFO":        true,
	"TABLE_XINFO":       true,
	"TABLE_LIST":        true,
	"INDEX_LIST":        true,
	"INDEX_INFO":        true,
	"INDEX_XINFO":       true,
	"FOREIGN_KEY_LIST":  true,
	"FOREIGN_KEY_CHECK": true,
	"INTEGRITY_CHECK":   true,
	"QUICK_CHECK":       true,
}

// Pragmas that do work even when called without an argument.
var writePragmas = map[string]bool{
	"OPTIMIZE":           true,
	"SHRINK_MEMORY":      true,
	"INCREMENTAL_VACUUM": true,
	"WAL_CHECKPOINT":     true,
}

// isReadStatement reports whether sql is a single statement that only reads.
// WITH and EXPLAIN are judged by the statement they wrap, SELECT ... INTO
// is a write, and PRAGMA is a read only when it queries a value.
func isReadStatement(sql string) bool {
	toks := tokenize(sql)

	// One statement only; trailing semicolons are fine.
	for i, t := range toks {
		if t.punct != ';' {
			continue
		}
		for _, rest := range toks[i+1:] {
			if rest.punct != ';' {
				return false
			}
		}
		toks = toks[:i]
		break
	}

	for _, t := range toks {
		if t.word == "INTO" {
			return false
		}
	}
	return isReadTokens(toks)
}

func isReadTokens(toks []sqlToken) bool {
	first := -1
	for i, t := range toks {
		if t.word != "" {
			first = i
			break
		}
		if t.punct != '(' {
			return false
		}
	}
	if first < 0 {
		return false
	}

	rest := toks[first+1:]
	switch toks[first].word {
	case "SELECT", "VALUES", "SHOW", "DESCRIBE", "DESC":
		return true
	case "WITH":
		return isReadTokens(mainStatement(rest))
	case "EXPLAIN":
		for i, t := range rest {
			if statementKeywords[t.word] {
				return isReadTokens(rest[i:])
			}
		}
		// EXPLAIN <table> describes it.
		return true
	case "PRAGMA":
		return isReadPragma(rest)
	default:
		return false
	}
}

// mainStatement skips the common table expressions after WITH and returns
// the tokens of the statement they belong to.
func mainStatement(toks []sqlToken) []sqlToken {
	depth := 0
	for i, t := range toks {
		switch {
		case t.punct == '(':
			depth++
		case t.punct == ')':
			depth--
		case depth == 0 && statementKeywords[t.word] && t.word != "WITH":
			return toks[i:]
		}
	}
	return nil
}

func isReadPragma(toks []sqlToken) bool {
	if len(toks) == 0 || toks[0].word == "" {
		return false
	}
	name := toks[0].word
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		name = name[dot+1:]
	}

	args := toks[1:]
	if len(args) == 0 {
		return !writePragmas[name]
	}
	for _, t := range args {
		if t.punct == '=' {
			return false
		}
	}
	return args[0].punct == '(' && readPragmasWithArg[name]
}
