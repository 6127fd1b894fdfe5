// Package filter implements the field:value mini-language used to select
// cases for list, batch and download operations. The parser only validates
// syntax and produces a field→value mapping; interpreting the mapping
// (document paths, range comparisons, conjunction) is the store's job.
package filter

import (
	"strings"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
)

// searchable keys and the document paths stores should match them against.
var allowedKeys = map[string]string{
	"curator":    "revisionMetadata.curator",
	"gender":     "demographics.gender",
	"occupation": "demographics.occupation",
	"country":    "location.country",
	"place":      "location.query",
	"admin1":     "location.admin1",
	"admin2":     "location.admin2",
	"admin3":     "location.admin3",
	"caseid":     "_id",
	"sourceid":   "caseReference.sourceId",
	"sourceurl":  "caseReference.sourceUrl",
	"uploadid":   "caseReference.uploadId",
	"status":     "caseStatus",
	"variant":    "variant",
}

const (
	keyConfirmedAfter  = "dateconfirmedafter"
	keyConfirmedBefore = "dateconfirmedbefore"
)

// Filter is the parsed form of a filter string: exact-match properties plus
// optional confirmation-date bounds.
type Filter struct {
	Props           map[string]string
	ConfirmedAfter  *caseschema.Date
	ConfirmedBefore *caseschema.Date
}

// Empty reports whether the filter constrains nothing. A nil *Filter selects
// everything; a parsed filter is never empty.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Props) == 0 && f.ConfirmedAfter == nil && f.ConfirmedBefore == nil)
}

// PathFor maps a searchable key to the document path stores match against.
func PathFor(key string) (string, bool) {
	path, ok := allowedKeys[key]
	return path, ok
}

// Parse validates a filter string and splits it into field/value pairs.
// Values containing whitespace must be single-quoted; quotes are stripped.
// An empty string, a token without a value, or an unknown field name is a
// validation failure.
func Parse(query string) (*Filter, error) {
	tokens, err := tokenize(query)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errs.Validationf("filter query is empty")
	}
	f := &Filter{Props: make(map[string]string)}
	for _, token := range tokens {
		colon := strings.IndexByte(token, ':')
		if colon <= 0 || colon == len(token)-1 {
			return nil, errs.Validationf("malformed filter term %q", token)
		}
		key := strings.ToLower(token[:colon])
		value := unquote(token[colon+1:])
		if value == "" {
			return nil, errs.Validationf("malformed filter term %q", token)
		}
		switch key {
		case keyConfirmedAfter, keyConfirmedBefore:
			d, err := caseschema.ParseDate(value)
			if err != nil {
				return nil, errs.Validationf("filter term %q: %v", token, err)
			}
			if key == keyConfirmedAfter {
				f.ConfirmedAfter = &d
			} else {
				f.ConfirmedBefore = &d
			}
		default:
			if _, ok := allowedKeys[key]; !ok {
				return nil, errs.Validationf("unknown filter field %q", key)
			}
			f.Props[key] = value
		}
	}
	return f, nil
}

// tokenize splits on whitespace outside single quotes.
func tokenize(query string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			current.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if inQuote {
		return nil, errs.Validationf("unterminated quote in filter query")
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
