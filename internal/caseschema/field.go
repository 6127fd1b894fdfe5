package caseschema

import (
	"regexp"

	"github.com/globaldothealth/linelist/internal/errs"
)

// Kind enumerates the value kinds a case field can hold. It is a closed set:
// everything that inspects a field dispatches on Kind exhaustively.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindDate    Kind = "date"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
)

// ParseKind maps the API spelling of a field type onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindString, KindInteger, KindDate, KindBoolean, KindEnum:
		return Kind(s), nil
	}
	return "", errs.UnsupportedTypef("unsupported field type %q", s)
}

// Field describes one entry in the case schema: a core field fixed at compile
// time or a custom field added through the registry.
type Field struct {
	Key         string      `json:"key" bson:"key"`
	Kind        Kind        `json:"type" bson:"type"`
	Description string      `json:"description" bson:"description"`
	Required    bool        `json:"required" bson:"required"`
	IsList      bool        `json:"isList" bson:"isList"`
	Values      []string    `json:"values,omitempty" bson:"values,omitempty"`
	Default     interface{} `json:"default,omitempty" bson:"default,omitempty"`
}

func (f Field) allowsValue(s string) bool {
	if len(f.Values) == 0 {
		return true
	}
	for _, v := range f.Values {
		if v == s {
			return true
		}
	}
	return false
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved words that cannot become document keys in the host representation.
var reservedKeys = map[string]bool{
	"type": true, "func": true, "map": true, "range": true,
	"import": true, "package": true, "return": true, "select": true,
}

func legalFieldKey(key string) bool {
	return identifierPattern.MatchString(key) && !reservedKeys[key]
}
