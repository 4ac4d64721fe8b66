// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rewrite

import (
	"bytes"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// CSS rewrites url(...) functions and @import parameters whose resolved
// origin equals the target origin. All other tokens pass through verbatim.
//
// url(...) forms, quoted or not, arrive as a single URLToken whose quotes are
// stripped and restored here; a url( function token followed by a string
// token is handled as well.
func CSS(body []byte, t Target) ([]byte, error) {
	lexer := css.NewLexer(parse.NewInputBytes(body))
	var out bytes.Buffer
	inImport := false
	inURLFunc := false

	for {
		tt, text := lexer.Next()
		switch tt {
		case css.ErrorToken:
			if err := lexer.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return out.Bytes(), nil
		case css.AtKeywordToken:
			inImport = strings.EqualFold(string(text), "@import")
			out.Write(text)
		case css.SemicolonToken:
			inImport = false
			out.Write(text)
		case css.FunctionToken:
			if strings.EqualFold(string(text), "url(") {
				inURLFunc = true
			}
			out.Write(text)
		case css.RightParenthesisToken:
			inURLFunc = false
			out.Write(text)
		case css.URLToken:
			out.WriteString(t.rewriteURLToken(string(text)))
		case css.StringToken:
			if inImport || inURLFunc {
				out.WriteString(t.rewriteStringToken(string(text)))
			} else {
				out.Write(text)
			}
		default:
			out.Write(text)
		}
	}
}

// rewriteURLToken handles a full unquoted url(...) token.
func (t Target) rewriteURLToken(token string) string {
	open := strings.Index(token, "(")
	if open < 0 || !strings.HasSuffix(token, ")") {
		return token
	}
	inner := token[open+1 : len(token)-1]
	trimmed := strings.TrimSpace(inner)

	quote := ""
	value := trimmed
	if len(trimmed) >= 2 && (trimmed[0] == '"' || trimmed[0] == '\'') && trimmed[len(trimmed)-1] == trimmed[0] {
		quote = string(trimmed[0])
		value = trimmed[1 : len(trimmed)-1]
	}

	rewritten, ok := t.rewriteRef(value)
	if !ok {
		return token
	}
	return token[:open+1] + quote + rewritten + quote + token[len(token)-1:]
}

// rewriteStringToken handles a quoted url() argument or @import parameter.
func (t Target) rewriteStringToken(token string) string {
	if len(token) < 2 {
		return token
	}
	quote := token[0]
	if quote != '"' && quote != '\'' {
		return token
	}
	value := token[1 : len(token)-1]
	rewritten, ok := t.rewriteRef(value)
	if !ok {
		return token
	}
	return string(quote) + rewritten + string(quote)
}
