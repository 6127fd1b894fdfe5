package caseschema

import (
	"fmt"
	"time"
)

// Date is a civil date (day precision, UTC). Case documents carry dates
// without a time component; JSON uses the ISO-8601 date form.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func Today() Date { return DateOf(time.Now()) }

func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) String() string     { return d.t.Format(dateLayout) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a JSON string, got %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDate accepts the plain date form and RFC3339 date-times, which are
// truncated to their day.
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("cannot interpret date %q", s)
}

// InterpretDate coerces the date-like values that arrive from the API and
// from BSON decoding: ISO strings, time.Time values, an existing Date, or a
// {"$date": ...} wrapper.
func InterpretDate(v interface{}) (Date, error) {
	switch val := v.(type) {
	case Date:
		return val, nil
	case time.Time:
		return DateOf(val), nil
	case string:
		return ParseDate(val)
	case map[string]interface{}:
		if inner, ok := val["$date"]; ok {
			return InterpretDate(inner)
		}
	}
	return Date{}, fmt.Errorf("cannot interpret date %v", v)
}
