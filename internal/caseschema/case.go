package caseschema

import (
	"encoding/json"
	"fmt"

	"github.com/globaldothealth/linelist/internal/errs"
)

// Case statuses. The omit_ statuses mark a case as excluded from the line
// list; excluded cases must carry exclusion metadata.
const (
	StatusConfirmed     = "confirmed"
	StatusProbable      = "probable"
	StatusSuspected     = "suspected"
	StatusOmitError     = "omit_error"
	StatusOmitDuplicate = "omit_duplicate"
)

var CaseStatuses = []string{
	StatusConfirmed,
	StatusProbable,
	StatusSuspected,
	StatusOmitError,
	StatusOmitDuplicate,
}

var excludedStatuses = map[string]bool{
	StatusOmitError:     true,
	StatusOmitDuplicate: true,
}

// KnownStatus reports whether s is a recognised case status.
func KnownStatus(s string) bool {
	for _, status := range CaseStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ExcludedStatus reports whether s marks a case as excluded.
func ExcludedStatus(s string) bool { return excludedStatuses[s] }

// CaseReference identifies the upstream source a case was ingested from.
type CaseReference struct {
	SourceID      string `json:"sourceId"`
	SourceEntryID string `json:"sourceEntryId,omitempty"`
	SourceURL     string `json:"sourceUrl,omitempty"`
}

// CaseExclusion records when and why a case was excluded from the line list.
// It is present exactly when the case status is an excluded status.
type CaseExclusion struct {
	Date Date   `json:"date"`
	Note string `json:"note"`
}

// Location is the geocoded place a case was reported from.
type Location struct {
	Query      string  `json:"query,omitempty"`
	Country    string  `json:"country,omitempty"`
	Admin1     string  `json:"admin1,omitempty"`
	Admin2     string  `json:"admin2,omitempty"`
	Admin3     string  `json:"admin3,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
}

// Case is one line-list record: the fixed core fields plus whatever custom
// fields the registry currently declares. Custom values are tagged by their
// field's Kind; the concrete representations are string, int64, bool, Date
// and []interface{} of those.
type Case struct {
	ID               string
	ConfirmationDate *Date
	CaseStatus       string
	CaseReference    *CaseReference
	CaseExclusion    *CaseExclusion
	Location         *Location
	Custom           map[string]interface{}
}

// Core field catalogue, in declaration order. Nested record fields flatten
// one level in the catalogue and the delimited output.
var coreFieldOrder = []string{
	"_id",
	"confirmationDate",
	"caseStatus",
	"caseReference",
	"caseExclusion",
	"location",
}

var nestedFieldOrder = map[string][]string{
	"caseReference": {"sourceId", "sourceEntryId", "sourceUrl"},
	"caseExclusion": {"date", "note"},
	"location":      {"query", "country", "admin1", "admin2", "admin3", "latitude", "longitude", "resolution"},
}

var coreFieldKeys = func() map[string]bool {
	keys := make(map[string]bool)
	for _, k := range coreFieldOrder {
		keys[k] = true
	}
	return keys
}()

// FieldNames lists every addressable field in declaration order, with nested
// record fields flattened as parent.child, followed by the registry's custom
// fields.
func FieldNames(reg *Registry) []string {
	names := make([]string, 0, 16)
	for _, key := range coreFieldOrder {
		if nested, ok := nestedFieldOrder[key]; ok {
			for _, child := range nested {
				names = append(names, key+"."+child)
			}
			continue
		}
		names = append(names, key)
	}
	for _, f := range reg.Fields() {
		names = append(names, f.Key)
	}
	return names
}

// FieldKindForPath resolves the kind of the field at a dotted path, so that
// updates arriving as raw JSON can coerce values for date-typed leaves.
func FieldKindForPath(reg *Registry, path string) (Kind, bool) {
	switch path {
	case "_id", "caseStatus",
		"caseReference.sourceId", "caseReference.sourceEntryId", "caseReference.sourceUrl",
		"caseExclusion.note",
		"location.query", "location.country", "location.admin1", "location.admin2",
		"location.admin3", "location.resolution":
		return KindString, true
	case "confirmationDate", "caseExclusion.date":
		return KindDate, true
	case "location.latitude", "location.longitude":
		return "", false
	}
	if f, ok := reg.Lookup(path); ok {
		return f.Kind, true
	}
	return "", false
}

// CaseFromJSON builds a validated case from a JSON document.
func CaseFromJSON(reg *Registry, data []byte) (*Case, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.Validationf("malformed case document: %v", err)
	}
	return CaseFromRaw(reg, raw)
}

// CaseFromRaw builds a case from a raw decoded payload, coercing date-like
// values and nested sub-records, then validates it. Keys that name neither a
// core field nor a registered custom field are ignored; stores may hold
// values for fields that were registered and later superseded.
func CaseFromRaw(reg *Registry, raw map[string]interface{}) (*Case, error) {
	if raw == nil {
		return nil, errs.Validationf("case document is empty")
	}
	c := &Case{}
	for key, value := range raw {
		if value == nil {
			continue
		}
		var err error
		switch key {
		case "_id":
			c.ID, err = stringValue(value)
		case "confirmationDate":
			var d Date
			if d, err = InterpretDate(value); err == nil {
				c.ConfirmationDate = &d
			}
		case "caseStatus":
			c.CaseStatus, err = stringValue(value)
		case "caseReference":
			c.CaseReference, err = caseReferenceFromRaw(value)
		case "caseExclusion":
			c.CaseExclusion, err = caseExclusionFromRaw(value)
		case "location":
			c.Location, err = locationFromRaw(value)
		default:
			field, known := reg.Lookup(key)
			if !known {
				continue
			}
			var coerced interface{}
			if coerced, err = coerceCustomValue(field, value); err == nil && coerced != nil {
				c.setCustom(key, coerced)
			}
		}
		if err != nil {
			return nil, errs.Validationf("%s: %v", key, err)
		}
	}
	applyDefaults(reg, c)
	if err := c.Validate(reg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Case) setCustom(key string, value interface{}) {
	if c.Custom == nil {
		c.Custom = make(map[string]interface{})
	}
	c.Custom[key] = value
}

func applyDefaults(reg *Registry, c *Case) {
	for _, f := range reg.Fields() {
		if !f.Required || f.Default == nil {
			continue
		}
		if _, present := c.Custom[f.Key]; present {
			continue
		}
		if v, err := coerceCustomValue(f, f.Default); err == nil {
			c.setCustom(f.Key, v)
		}
	}
}

// Validate walks every declared field once: required fields must have values,
// list fields must hold elements of the declared kind, enumerated values must
// lie in the permissible set, and exclusion metadata must agree with the case
// status.
func (c *Case) Validate(reg *Registry) error {
	if c.ConfirmationDate == nil {
		return errs.Validationf("confirmationDate must have a value")
	}
	if c.CaseStatus == "" {
		return errs.Validationf("caseStatus must have a value")
	}
	if !KnownStatus(c.CaseStatus) {
		return errs.Validationf("caseStatus value %s not in permissible values %v", c.CaseStatus, CaseStatuses)
	}
	if c.CaseReference == nil {
		return errs.Validationf("caseReference must have a value")
	}
	if c.CaseReference.SourceID == "" {
		return errs.Validationf("caseReference.sourceId must have a value")
	}
	if ExcludedStatus(c.CaseStatus) && c.CaseExclusion == nil {
		return errs.Validationf("caseExclusion must be set for excluded status %s", c.CaseStatus)
	}
	if !ExcludedStatus(c.CaseStatus) && c.CaseExclusion != nil {
		return errs.Validationf("caseExclusion must not be set for status %s", c.CaseStatus)
	}
	for _, f := range reg.Fields() {
		value := c.Custom[f.Key]
		if value == nil {
			if f.Required {
				return errs.Validationf("%s must have a value", f.Key)
			}
			continue
		}
		if err := validateCustomValue(f, value); err != nil {
			return err
		}
	}
	return nil
}

func validateCustomValue(f Field, value interface{}) error {
	if f.IsList {
		list, ok := value.([]interface{})
		if !ok {
			return errs.Validationf("%s must be a list", f.Key)
		}
		for _, element := range list {
			if !valueMatchesKind(f.Kind, element) {
				return errs.Validationf("%s member %v is of the wrong type", f.Key, element)
			}
			if err := checkPermissible(f, element); err != nil {
				return err
			}
		}
		return nil
	}
	if !valueMatchesKind(f.Kind, value) {
		return errs.Validationf("%s value %v is of the wrong type", f.Key, value)
	}
	return checkPermissible(f, value)
}

func checkPermissible(f Field, value interface{}) error {
	if len(f.Values) == 0 {
		return nil
	}
	s, ok := value.(string)
	if !ok || !f.allowsValue(s) {
		return errs.Validationf("%s value %v not in permissible values %v", f.Key, value, f.Values)
	}
	return nil
}

func valueMatchesKind(k Kind, value interface{}) bool {
	switch k {
	case KindString, KindEnum:
		_, ok := value.(string)
		return ok
	case KindInteger:
		_, ok := value.(int64)
		return ok
	case KindBoolean:
		_, ok := value.(bool)
		return ok
	case KindDate:
		_, ok := value.(Date)
		return ok
	}
	return false
}

// coerceCustomValue converts a raw decoded value into the tagged
// representation for the field's kind.
func coerceCustomValue(f Field, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if f.IsList {
		rawList, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected a list")
		}
		out := make([]interface{}, 0, len(rawList))
		for _, element := range rawList {
			coerced, err := coerceScalar(f.Kind, element)
			if err != nil {
				return nil, err
			}
			out = append(out, coerced)
		}
		return out, nil
	}
	return coerceScalar(f.Kind, value)
}

func coerceScalar(k Kind, value interface{}) (interface{}, error) {
	switch k {
	case KindString, KindEnum:
		return value, nil
	case KindInteger:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		}
		return value, nil
	case KindBoolean:
		return value, nil
	case KindDate:
		return InterpretDate(value)
	}
	return nil, fmt.Errorf("unsupported field kind %q", k)
}

func stringValue(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %v", v)
	}
	return s, nil
}

func caseReferenceFromRaw(v interface{}) (*CaseReference, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an object, got %v", v)
	}
	ref := &CaseReference{}
	ref.SourceID, _ = m["sourceId"].(string)
	ref.SourceEntryID, _ = m["sourceEntryId"].(string)
	ref.SourceURL, _ = m["sourceUrl"].(string)
	return ref, nil
}

func caseExclusionFromRaw(v interface{}) (*CaseExclusion, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an object, got %v", v)
	}
	excl := &CaseExclusion{}
	if rawDate, present := m["date"]; present && rawDate != nil {
		d, err := InterpretDate(rawDate)
		if err != nil {
			return nil, err
		}
		excl.Date = d
	}
	excl.Note, _ = m["note"].(string)
	return excl, nil
}

func locationFromRaw(v interface{}) (*Location, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an object, got %v", v)
	}
	loc := &Location{}
	loc.Query, _ = m["query"].(string)
	loc.Country, _ = m["country"].(string)
	loc.Admin1, _ = m["admin1"].(string)
	loc.Admin2, _ = m["admin2"].(string)
	loc.Admin3, _ = m["admin3"].(string)
	loc.Resolution, _ = m["resolution"].(string)
	loc.Latitude = floatValue(m["latitude"])
	loc.Longitude = floatValue(m["longitude"])
	return loc, nil
}

func floatValue(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Clone returns a deep copy; the update engine works on copies so a failed
// validation never corrupts the original record.
func (c *Case) Clone() *Case {
	out := &Case{ID: c.ID, CaseStatus: c.CaseStatus}
	if c.ConfirmationDate != nil {
		d := *c.ConfirmationDate
		out.ConfirmationDate = &d
	}
	if c.CaseReference != nil {
		ref := *c.CaseReference
		out.CaseReference = &ref
	}
	if c.CaseExclusion != nil {
		excl := *c.CaseExclusion
		out.CaseExclusion = &excl
	}
	if c.Location != nil {
		loc := *c.Location
		out.Location = &loc
	}
	if c.Custom != nil {
		out.Custom = make(map[string]interface{}, len(c.Custom))
		for k, v := range c.Custom {
			if list, ok := v.([]interface{}); ok {
				out.Custom[k] = append([]interface{}(nil), list...)
				continue
			}
			out.Custom[k] = v
		}
	}
	return out
}

// ToRaw renders the case in the store representation: nested maps with dates
// as UTC time values, custom fields inline. The inverse is CaseFromRaw.
func (c *Case) ToRaw() map[string]interface{} {
	raw := make(map[string]interface{})
	if c.ID != "" {
		raw["_id"] = c.ID
	}
	if c.ConfirmationDate != nil {
		raw["confirmationDate"] = c.ConfirmationDate.Time()
	}
	if c.CaseStatus != "" {
		raw["caseStatus"] = c.CaseStatus
	}
	if c.CaseReference != nil {
		raw["caseReference"] = map[string]interface{}{
			"sourceId":      c.CaseReference.SourceID,
			"sourceEntryId": c.CaseReference.SourceEntryID,
			"sourceUrl":     c.CaseReference.SourceURL,
		}
	}
	if c.CaseExclusion != nil {
		raw["caseExclusion"] = map[string]interface{}{
			"date": c.CaseExclusion.Date.Time(),
			"note": c.CaseExclusion.Note,
		}
	}
	if c.Location != nil {
		raw["location"] = map[string]interface{}{
			"query":      c.Location.Query,
			"country":    c.Location.Country,
			"admin1":     c.Location.Admin1,
			"admin2":     c.Location.Admin2,
			"admin3":     c.Location.Admin3,
			"latitude":   c.Location.Latitude,
			"longitude":  c.Location.Longitude,
			"resolution": c.Location.Resolution,
		}
	}
	for k, v := range c.Custom {
		if d, ok := v.(Date); ok {
			raw[k] = d.Time()
			continue
		}
		raw[k] = v
	}
	return raw
}

// MarshalJSON emits the full nested structure with dates in ISO-8601 form.
func (c *Case) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{})
	if c.ID != "" {
		out["_id"] = c.ID
	}
	if c.ConfirmationDate != nil {
		out["confirmationDate"] = *c.ConfirmationDate
	}
	if c.CaseStatus != "" {
		out["caseStatus"] = c.CaseStatus
	}
	if c.CaseReference != nil {
		out["caseReference"] = c.CaseReference
	}
	if c.CaseExclusion != nil {
		out["caseExclusion"] = c.CaseExclusion
	}
	if c.Location != nil {
		out["location"] = c.Location
	}
	for k, v := range c.Custom {
		out[k] = v
	}
	return json.Marshal(out)
}
