package caseschema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDateForms(t *testing.T) {
	want := NewDate(2021, time.December, 31)

	for _, input := range []string{
		"2021-12-31",
		"2021-12-31T00:00:00Z",
		"2021-12-31T00:00:00.000Z",
	} {
		got, err := ParseDate(input)
		require.NoError(t, err, input)
		require.True(t, want.Equal(got), input)
	}

	_, err := ParseDate("31/12/2021")
	require.Error(t, err)
}

func TestInterpretDate(t *testing.T) {
	want := NewDate(2022, time.May, 1)

	fromString, err := InterpretDate("2022-05-01")
	require.NoError(t, err)
	require.True(t, want.Equal(fromString))

	fromTime, err := InterpretDate(time.Date(2022, time.May, 1, 13, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, want.Equal(fromTime))

	fromWrapper, err := InterpretDate(map[string]interface{}{"$date": "2022-05-01T00:00:00.000Z"})
	require.NoError(t, err)
	require.True(t, want.Equal(fromWrapper))

	fromDate, err := InterpretDate(want)
	require.NoError(t, err)
	require.True(t, want.Equal(fromDate))

	_, err = InterpretDate(42)
	require.Error(t, err)
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := NewDate(2021, time.June, 3)

	encoded, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"2021-06-03"`, string(encoded))

	var decoded Date
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.True(t, d.Equal(decoded))
}

func TestDateOrdering(t *testing.T) {
	early := NewDate(2020, time.January, 1)
	late := NewDate(2020, time.January, 2)

	require.True(t, early.Before(late))
	require.True(t, late.After(early))
	require.False(t, early.After(early))
	require.False(t, early.Before(early))
}
