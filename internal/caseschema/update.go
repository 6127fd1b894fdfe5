package caseschema

import (
	"strings"

	"github.com/globaldothealth/linelist/internal/errs"
)

// DocumentUpdate is a set of field writes and a set of field clears addressed
// by dotted paths. Applying an update touches only the named fields; the
// controller validates the result before committing it.
type DocumentUpdate struct {
	Sets   map[string]interface{}
	Unsets []string
}

// UpdateFromRaw builds an update from an API payload: explicit nulls become
// unsets, everything else a set. The identity field is never updatable.
func UpdateFromRaw(raw map[string]interface{}) DocumentUpdate {
	update := DocumentUpdate{Sets: make(map[string]interface{})}
	for key, value := range raw {
		if key == "_id" {
			continue
		}
		if value == nil {
			update.Unsets = append(update.Unsets, key)
			continue
		}
		update.Sets[key] = value
	}
	return update
}

func (u DocumentUpdate) Empty() bool {
	return len(u.Sets) == 0 && len(u.Unsets) == 0
}

// NormalizeUpdate coerces raw set values for date-kind leaves into Dates, so
// that every store backend receives typed values it can compare and persist.
func NormalizeUpdate(reg *Registry, u DocumentUpdate) (DocumentUpdate, error) {
	out := DocumentUpdate{Sets: make(map[string]interface{}, len(u.Sets)), Unsets: u.Unsets}
	for path, value := range u.Sets {
		kind, known := FieldKindForPath(reg, path)
		if known && kind == KindDate {
			d, err := InterpretDate(value)
			if err != nil {
				return DocumentUpdate{}, errs.Validationf("%s: %v", path, err)
			}
			out.Sets[path] = d
			continue
		}
		if nested, ok := value.(map[string]interface{}); ok {
			normalized := make(map[string]interface{}, len(nested))
			for child, inner := range nested {
				childKind, childKnown := FieldKindForPath(reg, path+"."+child)
				if childKnown && childKind == KindDate && inner != nil {
					d, err := InterpretDate(inner)
					if err != nil {
						return DocumentUpdate{}, errs.Validationf("%s.%s: %v", path, child, err)
					}
					normalized[child] = d
					continue
				}
				normalized[child] = inner
			}
			out.Sets[path] = normalized
			continue
		}
		out.Sets[path] = value
	}
	return out, nil
}

// UpdatedCopy applies the update to a deep copy and returns it; the argument
// is never mutated.
func UpdatedCopy(reg *Registry, c *Case, u DocumentUpdate) (*Case, error) {
	out := c.Clone()
	if err := out.ApplyUpdate(reg, u); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyUpdate applies sets then unsets. Set paths create empty nested
// sub-records on demand; unset paths resolve tolerantly and clear the leaf.
func (c *Case) ApplyUpdate(reg *Registry, u DocumentUpdate) error {
	for path, value := range u.Sets {
		if err := c.setPath(reg, path, value); err != nil {
			return err
		}
	}
	for _, path := range u.Unsets {
		c.unsetPath(path)
	}
	return nil
}

func (c *Case) setPath(reg *Registry, path string, value interface{}) error {
	if dot := strings.IndexByte(path, '.'); dot >= 0 {
		return c.setNested(path[:dot], path[dot+1:], value)
	}
	switch path {
	case "confirmationDate":
		d, err := InterpretDate(value)
		if err != nil {
			return errs.Validationf("%s: %v", path, err)
		}
		c.ConfirmationDate = &d
	case "caseStatus":
		s, err := stringValue(value)
		if err != nil {
			return errs.Validationf("%s: %v", path, err)
		}
		c.CaseStatus = s
	case "caseReference":
		ref, err := toCaseReference(value)
		if err != nil {
			return errs.Validationf("%s: %v", path, err)
		}
		c.CaseReference = ref
	case "caseExclusion":
		excl, err := toCaseExclusion(value)
		if err != nil {
			return errs.Validationf("%s: %v", path, err)
		}
		c.CaseExclusion = excl
	case "location":
		loc, err := toLocation(value)
		if err != nil {
			return errs.Validationf("%s: %v", path, err)
		}
		c.Location = loc
	default:
		field, known := reg.Lookup(path)
		if !known {
			return errs.Validationf("no such field %s", path)
		}
		coerced, err := coerceCustomValue(field, value)
		if err != nil {
			return errs.Validationf("%s: %v", path, err)
		}
		c.setCustom(path, coerced)
	}
	return nil
}

func (c *Case) setNested(parent, child string, value interface{}) error {
	switch parent {
	case "caseReference":
		if c.CaseReference == nil {
			c.CaseReference = &CaseReference{}
		}
		return c.CaseReference.set(child, value)
	case "caseExclusion":
		if c.CaseExclusion == nil {
			c.CaseExclusion = &CaseExclusion{}
		}
		return c.CaseExclusion.set(child, value)
	case "location":
		if c.Location == nil {
			c.Location = &Location{}
		}
		return c.Location.set(child, value)
	}
	return errs.Validationf("no such field %s.%s", parent, child)
}

func (c *Case) unsetPath(path string) {
	if dot := strings.IndexByte(path, '.'); dot >= 0 {
		parent, child := path[:dot], path[dot+1:]
		switch parent {
		case "caseReference":
			if c.CaseReference != nil {
				_ = c.CaseReference.set(child, nil)
			}
		case "caseExclusion":
			if c.CaseExclusion != nil {
				_ = c.CaseExclusion.set(child, nil)
			}
		case "location":
			if c.Location != nil {
				_ = c.Location.set(child, nil)
			}
		}
		return
	}
	switch path {
	case "confirmationDate":
		c.ConfirmationDate = nil
	case "caseStatus":
		c.CaseStatus = ""
	case "caseReference":
		c.CaseReference = nil
	case "caseExclusion":
		c.CaseExclusion = nil
	case "location":
		c.Location = nil
	default:
		delete(c.Custom, path)
	}
}

func (r *CaseReference) set(child string, value interface{}) error {
	s, err := optionalString(value)
	if err != nil {
		return errs.Validationf("caseReference.%s: %v", child, err)
	}
	switch child {
	case "sourceId":
		r.SourceID = s
	case "sourceEntryId":
		r.SourceEntryID = s
	case "sourceUrl":
		r.SourceURL = s
	default:
		return errs.Validationf("no such field caseReference.%s", child)
	}
	return nil
}

func (e *CaseExclusion) set(child string, value interface{}) error {
	switch child {
	case "date":
		if value == nil {
			e.Date = Date{}
			return nil
		}
		d, err := InterpretDate(value)
		if err != nil {
			return errs.Validationf("caseExclusion.date: %v", err)
		}
		e.Date = d
	case "note":
		s, err := optionalString(value)
		if err != nil {
			return errs.Validationf("caseExclusion.note: %v", err)
		}
		e.Note = s
	default:
		return errs.Validationf("no such field caseExclusion.%s", child)
	}
	return nil
}

func (l *Location) set(child string, value interface{}) error {
	switch child {
	case "latitude":
		l.Latitude = floatValue(value)
		return nil
	case "longitude":
		l.Longitude = floatValue(value)
		return nil
	}
	s, err := optionalString(value)
	if err != nil {
		return errs.Validationf("location.%s: %v", child, err)
	}
	switch child {
	case "query":
		l.Query = s
	case "country":
		l.Country = s
	case "admin1":
		l.Admin1 = s
	case "admin2":
		l.Admin2 = s
	case "admin3":
		l.Admin3 = s
	case "resolution":
		l.Resolution = s
	default:
		return errs.Validationf("no such field location.%s", child)
	}
	return nil
}

func optionalString(value interface{}) (string, error) {
	if value == nil {
		return "", nil
	}
	return stringValue(value)
}

func toCaseReference(value interface{}) (*CaseReference, error) {
	if ref, ok := value.(*CaseReference); ok {
		clone := *ref
		return &clone, nil
	}
	return caseReferenceFromRaw(value)
}

func toCaseExclusion(value interface{}) (*CaseExclusion, error) {
	if excl, ok := value.(*CaseExclusion); ok {
		clone := *excl
		return &clone, nil
	}
	return caseExclusionFromRaw(value)
}

func toLocation(value interface{}) (*Location, error) {
	if loc, ok := value.(*Location); ok {
		clone := *loc
		return &clone, nil
	}
	return locationFromRaw(value)
}
