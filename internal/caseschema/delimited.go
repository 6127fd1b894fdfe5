package caseschema

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Header renders the delimited header row for the current schema: the
// flattened field catalogue joined by sep, CRLF terminated.
func Header(reg *Registry, sep rune) string {
	return writeRow(sep, FieldNames(reg))
}

// DelimitedRow renders one case as a delimited row in field-declaration
// order. Nested sub-records contribute their flattened fields in place,
// list values are joined by comma, absent values render empty.
func DelimitedRow(reg *Registry, c *Case, sep rune) string {
	return writeRow(sep, fieldValues(reg, c))
}

func writeRow(sep rune, values []string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = sep
	w.UseCRLF = true
	_ = w.Write(values)
	w.Flush()
	return b.String()
}

func fieldValues(reg *Registry, c *Case) []string {
	values := make([]string, 0, 16)
	values = append(values, c.ID)
	if c.ConfirmationDate != nil {
		values = append(values, c.ConfirmationDate.String())
	} else {
		values = append(values, "")
	}
	values = append(values, c.CaseStatus)
	if c.CaseReference != nil {
		values = append(values, c.CaseReference.SourceID, c.CaseReference.SourceEntryID, c.CaseReference.SourceURL)
	} else {
		values = append(values, "", "", "")
	}
	if c.CaseExclusion != nil {
		values = append(values, c.CaseExclusion.Date.String(), c.CaseExclusion.Note)
	} else {
		values = append(values, "", "")
	}
	if c.Location != nil {
		values = append(values,
			c.Location.Query,
			c.Location.Country,
			c.Location.Admin1,
			c.Location.Admin2,
			c.Location.Admin3,
			formatFloat(c.Location.Latitude),
			formatFloat(c.Location.Longitude),
			c.Location.Resolution,
		)
	} else {
		values = append(values, "", "", "", "", "", "", "", "")
	}
	for _, f := range reg.Fields() {
		values = append(values, renderCustomValue(c.Custom[f.Key]))
	}
	return values
}

func renderCustomValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case bool:
		return strconv.FormatBool(value)
	case Date:
		return value.String()
	case []interface{}:
		parts := make([]string, 0, len(value))
		for _, element := range value {
			parts = append(parts, renderCustomValue(element))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%v", v)
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
