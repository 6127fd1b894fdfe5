package caseschema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixtureCase(t *testing.T, reg *Registry) *Case {
	t.Helper()
	c, err := CaseFromRaw(reg, map[string]interface{}{
		"confirmationDate": "2021-06-03",
		"caseStatus":       StatusConfirmed,
		"caseReference":    map[string]interface{}{"sourceId": "src-1", "sourceUrl": "http://upstream.example"},
		"location":         map[string]interface{}{"country": "FR", "query": "Paris"},
	})
	require.NoError(t, err)
	return c
}

func TestUpdateFromRawSetsAndUnsets(t *testing.T) {
	u := UpdateFromRaw(map[string]interface{}{
		"_id":              "ignored",
		"caseStatus":       StatusSuspected,
		"location.admin1":  "Île-de-France",
		"confirmationDate": nil,
	})

	require.Len(t, u.Sets, 2)
	require.Equal(t, StatusSuspected, u.Sets["caseStatus"])
	require.Equal(t, []string{"confirmationDate"}, u.Unsets)
	require.NotContains(t, u.Sets, "_id")
}

func TestUpdatedCopyLeavesUntouchedFieldsAlone(t *testing.T) {
	reg := NewRegistry()
	original := fixtureCase(t, reg)

	updated, err := UpdatedCopy(reg, original, DocumentUpdate{
		Sets: map[string]interface{}{"caseStatus": StatusProbable},
	})
	require.NoError(t, err)

	require.Equal(t, StatusProbable, updated.CaseStatus)
	require.Equal(t, StatusConfirmed, original.CaseStatus)
	require.Equal(t, "src-1", updated.CaseReference.SourceID)
	require.Equal(t, "FR", updated.Location.Country)
	require.True(t, original.ConfirmationDate.Equal(*updated.ConfirmationDate))
}

func TestSetNestedPathCreatesContainers(t *testing.T) {
	reg := NewRegistry()
	c, err := CaseFromRaw(reg, map[string]interface{}{
		"confirmationDate": "2021-06-03",
		"caseStatus":       StatusConfirmed,
		"caseReference":    map[string]interface{}{"sourceId": "src-1"},
	})
	require.NoError(t, err)
	require.Nil(t, c.Location)

	err = c.ApplyUpdate(reg, DocumentUpdate{Sets: map[string]interface{}{"location.country": "IN"}})
	require.NoError(t, err)
	require.NotNil(t, c.Location)
	require.Equal(t, "IN", c.Location.Country)
}

func TestSetUnknownPathFails(t *testing.T) {
	reg := NewRegistry()
	c := fixtureCase(t, reg)

	err := c.ApplyUpdate(reg, DocumentUpdate{Sets: map[string]interface{}{"nationality": "fr"}})
	require.Error(t, err)

	err = c.ApplyUpdate(reg, DocumentUpdate{Sets: map[string]interface{}{"location.continent": "EU"}})
	require.Error(t, err)
}

func TestUnsetIsTolerant(t *testing.T) {
	reg := NewRegistry()
	c := fixtureCase(t, reg)

	require.NoError(t, c.ApplyUpdate(reg, DocumentUpdate{Unsets: []string{
		"location.admin2",    // present container, absent leaf
		"caseExclusion.note", // absent container
		"noSuchField",        // unknown path
		"location",           // whole sub-record
	}}))
	require.Nil(t, c.Location)
	require.Nil(t, c.CaseExclusion)
}

func TestUpdateCustomFieldsCoerced(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(Field{Key: "age", Kind: KindInteger}))
	c := fixtureCase(t, reg)

	require.NoError(t, c.ApplyUpdate(reg, DocumentUpdate{Sets: map[string]interface{}{"age": float64(33)}}))
	require.Equal(t, int64(33), c.Custom["age"])

	require.NoError(t, c.ApplyUpdate(reg, DocumentUpdate{Unsets: []string{"age"}}))
	require.Nil(t, c.Custom["age"])
}

func TestNormalizeUpdateCoercesDateLeaves(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(Field{Key: "onsetDate", Kind: KindDate}))

	u, err := NormalizeUpdate(reg, UpdateFromRaw(map[string]interface{}{
		"confirmationDate": "2021-06-10",
		"onsetDate":        "2021-06-01",
		"caseExclusion":    map[string]interface{}{"date": "2021-06-11", "note": "dup"},
	}))
	require.NoError(t, err)

	confirmed, ok := u.Sets["confirmationDate"].(Date)
	require.True(t, ok)
	require.True(t, NewDate(2021, time.June, 10).Equal(confirmed))

	onset, ok := u.Sets["onsetDate"].(Date)
	require.True(t, ok)
	require.True(t, NewDate(2021, time.June, 1).Equal(onset))

	exclusion, ok := u.Sets["caseExclusion"].(map[string]interface{})
	require.True(t, ok)
	_, ok = exclusion["date"].(Date)
	require.True(t, ok)

	_, err = NormalizeUpdate(reg, UpdateFromRaw(map[string]interface{}{"confirmationDate": "yesterday"}))
	require.Error(t, err)
}

func TestUpdateStatusAndExclusionTogether(t *testing.T) {
	reg := NewRegistry()
	c := fixtureCase(t, reg)

	err := c.ApplyUpdate(reg, DocumentUpdate{Sets: map[string]interface{}{
		"caseStatus":    StatusOmitError,
		"caseExclusion": &CaseExclusion{Date: NewDate(2021, time.July, 1), Note: "mistaken entry"},
	}})
	require.NoError(t, err)
	require.NoError(t, c.Validate(reg))
	require.Equal(t, "mistaken entry", c.CaseExclusion.Note)

	err = c.ApplyUpdate(reg, DocumentUpdate{
		Sets:   map[string]interface{}{"caseStatus": StatusConfirmed},
		Unsets: []string{"caseExclusion"},
	})
	require.NoError(t, err)
	require.NoError(t, c.Validate(reg))
	require.Nil(t, c.CaseExclusion)
}
