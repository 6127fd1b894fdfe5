package cases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
	"github.com/globaldothealth/linelist/internal/geocode"
)

type fakeGeocoder struct {
	candidates []geocode.Location
	err        error
	queries    []string
}

func (g *fakeGeocoder) Locate(_ context.Context, query string) ([]geocode.Location, error) {
	g.queries = append(g.queries, query)
	return g.candidates, g.err
}

func newTestController(t *testing.T) (*Controller, *caseschema.Registry) {
	t.Helper()
	reg := caseschema.NewRegistry()
	return NewController(NewMemoryStore(reg), reg, nil), reg
}

func caseDoc(sourceID, country string, confirmed string) map[string]interface{} {
	doc := map[string]interface{}{
		"confirmationDate": confirmed,
		"caseStatus":       caseschema.StatusConfirmed,
		"caseReference":    map[string]interface{}{"sourceId": sourceID},
	}
	if country != "" {
		doc["location"] = map[string]interface{}{"country": country}
	}
	return doc
}

func mustCreate(t *testing.T, ctl *Controller, doc map[string]interface{}) *caseschema.Case {
	t.Helper()
	created, err := ctl.CreateCase(context.Background(), doc, 1)
	require.NoError(t, err)
	return created
}

func TestGetCase(t *testing.T) {
	ctl, _ := newTestController(t)
	created := mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))

	got, err := ctl.GetCase(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "src-1", got.CaseReference.SourceID)

	_, err = ctl.GetCase(context.Background(), "does-not-exist")
	require.Error(t, err)
	require.True(t, errs.IsNotFound(err))
}

func TestListCasesPagination(t *testing.T) {
	ctl, _ := newTestController(t)
	for i := 0; i < 3; i++ {
		mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))
	}
	ctx := context.Background()

	first, err := ctl.ListCases(ctx, 1, 2, "")
	require.NoError(t, err)
	require.Len(t, first.Cases, 2)
	require.Equal(t, int64(3), first.Total)
	require.NotNil(t, first.NextPage)
	require.Equal(t, 2, *first.NextPage)

	second, err := ctl.ListCases(ctx, 2, 2, "")
	require.NoError(t, err)
	require.Len(t, second.Cases, 1)
	require.Nil(t, second.NextPage)

	// a page beyond the data is empty, not an error
	third, err := ctl.ListCases(ctx, 3, 2, "")
	require.NoError(t, err)
	require.NotNil(t, third.Cases)
	require.Len(t, third.Cases, 0)
	require.Equal(t, int64(3), third.Total)
	require.Nil(t, third.NextPage)
}

func TestListCasesDefaults(t *testing.T) {
	ctl, _ := newTestController(t)
	mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	list, err := ctl.ListCases(context.Background(), 0, 0, "")
	require.NoError(t, err)
	require.Len(t, list.Cases, 1)
}

func TestListCasesFiltered(t *testing.T) {
	ctl, _ := newTestController(t)
	mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-01"))
	mustCreate(t, ctl, caseDoc("src-1", "DE", "2021-06-05"))
	mustCreate(t, ctl, caseDoc("src-2", "DE", "2021-06-10"))
	ctx := context.Background()

	list, err := ctl.ListCases(ctx, 1, 10, "country:DE")
	require.NoError(t, err)
	require.Len(t, list.Cases, 2)
	require.Equal(t, int64(2), list.Total)

	list, err = ctl.ListCases(ctx, 1, 10, "country:DE sourceid:src-2")
	require.NoError(t, err)
	require.Len(t, list.Cases, 1)

	// date bounds are strict
	list, err = ctl.ListCases(ctx, 1, 10, "dateconfirmedafter:2021-06-01")
	require.NoError(t, err)
	require.Len(t, list.Cases, 2)

	list, err = ctl.ListCases(ctx, 1, 10, "dateconfirmedbefore:2021-06-10 dateconfirmedafter:2021-06-01")
	require.NoError(t, err)
	require.Len(t, list.Cases, 1)

	_, err = ctl.ListCases(ctx, 1, 10, "nonsense")
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
}

func TestCreateCaseNumCases(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()

	created, err := ctl.CreateCase(ctx, caseDoc("src-1", "", "2021-06-03"), 3)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	list, err := ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), list.Total)

	// zero inserts nothing but still validates
	_, err = ctl.CreateCase(ctx, caseDoc("src-1", "", "2021-06-03"), 0)
	require.NoError(t, err)
	list, err = ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), list.Total)

	_, err = ctl.CreateCase(ctx, caseDoc("src-1", "", "2021-06-03"), -1)
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))
}

func TestCreateCaseInvalidDocument(t *testing.T) {
	ctl, _ := newTestController(t)

	_, err := ctl.CreateCase(context.Background(), map[string]interface{}{"caseStatus": "confirmed"}, 1)
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
}

func TestCreateCaseGeocodes(t *testing.T) {
	reg := caseschema.NewRegistry()
	geocoder := &fakeGeocoder{candidates: []geocode.Location{{
		Country: "IN", Admin1: "Karnataka", Latitude: 12.97, Longitude: 77.59, Resolution: "Admin1",
	}}}
	ctl := NewController(NewMemoryStore(reg), reg, geocoder)

	doc := caseDoc("src-1", "", "2021-06-03")
	doc["location"] = map[string]interface{}{"query": "Bangalore"}
	created, err := ctl.CreateCase(context.Background(), doc, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Bangalore"}, geocoder.queries)
	require.Equal(t, "IN", created.Location.Country)
	require.Equal(t, "Karnataka", created.Location.Admin1)
	require.InDelta(t, 12.97, created.Location.Latitude, 1e-9)
}

func TestCreateCaseSkipsGeocodingWhenLocated(t *testing.T) {
	reg := caseschema.NewRegistry()
	geocoder := &fakeGeocoder{err: errs.DependencyFailedf("should not be called")}
	ctl := NewController(NewMemoryStore(reg), reg, geocoder)

	doc := caseDoc("src-1", "", "2021-06-03")
	doc["location"] = map[string]interface{}{"query": "Bangalore", "country": "IN"}
	_, err := ctl.CreateCase(context.Background(), doc, 1)
	require.NoError(t, err)
	require.Empty(t, geocoder.queries)
}

func TestCreateCaseGeocoderFailure(t *testing.T) {
	reg := caseschema.NewRegistry()
	geocoder := &fakeGeocoder{err: errs.DependencyFailedf("location service down")}
	ctl := NewController(NewMemoryStore(reg), reg, geocoder)

	doc := caseDoc("src-1", "", "2021-06-03")
	doc["location"] = map[string]interface{}{"query": "Bangalore"}
	_, err := ctl.CreateCase(context.Background(), doc, 1)
	require.Error(t, err)
	require.True(t, errs.IsDependencyFailed(err))
}

func TestValidateCaseRawDoesNotPersist(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()

	require.NoError(t, ctl.ValidateCaseRaw(ctx, caseDoc("src-1", "", "2021-06-03")))
	require.Error(t, ctl.ValidateCaseRaw(ctx, map[string]interface{}{"caseStatus": "confirmed"}))

	list, err := ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), list.Total)
}

func TestBatchUpsert(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	existing := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	update := caseDoc("src-1", "", "2021-06-04")
	update["_id"] = existing.ID
	body := map[string]interface{}{"cases": []interface{}{
		caseDoc("src-2", "", "2021-06-05"),
		update,
		map[string]interface{}{"caseStatus": "confirmed"}, // invalid: no date, no reference
	}}

	response, err := ctl.BatchUpsert(ctx, body)
	require.NoError(t, err)
	require.Equal(t, 1, response.NumCreated)
	require.Equal(t, 1, response.NumUpdated)
	require.Len(t, response.Errors, 1)
	require.Contains(t, response.Errors, "2")

	updated, err := ctl.GetCase(ctx, existing.ID)
	require.NoError(t, err)
	require.True(t, caseschema.NewDate(2021, time.June, 4).Equal(*updated.ConfirmationDate))
}

func TestBatchUpsertRequestShape(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()

	_, err := ctl.BatchUpsert(ctx, nil)
	require.Error(t, err)
	require.True(t, errs.IsUnsupportedType(err))

	_, err = ctl.BatchUpsert(ctx, map[string]interface{}{})
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	_, err = ctl.BatchUpsert(ctx, map[string]interface{}{"cases": []interface{}{}})
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	_, err = ctl.BatchUpsert(ctx, map[string]interface{}{"cases": "not a list"})
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))
}

func TestBatchStatusChangeByIDs(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))
	b := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-04"))

	err := ctl.BatchStatusChange(ctx, caseschema.StatusOmitError, "wrong upload", []string{a.ID, b.ID}, "")
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID} {
		got, err := ctl.GetCase(ctx, id)
		require.NoError(t, err)
		require.Equal(t, caseschema.StatusOmitError, got.CaseStatus)
		require.NotNil(t, got.CaseExclusion)
		require.Equal(t, "wrong upload", got.CaseExclusion.Note)
		require.True(t, caseschema.Today().Equal(got.CaseExclusion.Date))
	}

	// leaving an excluded status clears the exclusion metadata
	err = ctl.BatchStatusChange(ctx, caseschema.StatusConfirmed, "", []string{a.ID}, "")
	require.NoError(t, err)
	got, err := ctl.GetCase(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, caseschema.StatusConfirmed, got.CaseStatus)
	require.Nil(t, got.CaseExclusion)
}

func TestBatchStatusChangeByQuery(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))
	mustCreate(t, ctl, caseDoc("src-1", "DE", "2021-06-04"))

	err := ctl.BatchStatusChange(ctx, caseschema.StatusSuspected, "", nil, "country:FR")
	require.NoError(t, err)

	list, err := ctl.ListCases(ctx, 1, 10, "status:suspected")
	require.NoError(t, err)
	require.Len(t, list.Cases, 1)
	require.Equal(t, "FR", list.Cases[0].Location.Country)
}

func TestBatchStatusChangeValidation(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	err := ctl.BatchStatusChange(ctx, "simulated", "", []string{a.ID}, "")
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	err = ctl.BatchStatusChange(ctx, caseschema.StatusOmitDuplicate, "", []string{a.ID}, "")
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))

	err = ctl.BatchStatusChange(ctx, caseschema.StatusConfirmed, "", []string{a.ID}, "country:FR")
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	// an empty id list must not select every case
	err = ctl.BatchStatusChange(ctx, caseschema.StatusOmitError, "dup", []string{}, "")
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	got, err := ctl.GetCase(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, caseschema.StatusConfirmed, got.CaseStatus)
	require.Nil(t, got.CaseExclusion)
}

func TestUpdateCase(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	created := mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))

	updated, err := ctl.UpdateCase(ctx, created.ID, map[string]interface{}{
		"caseStatus": caseschema.StatusSuspected,
		"location":   nil,
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, caseschema.StatusSuspected, updated.CaseStatus)
	require.Nil(t, updated.Location)
	require.True(t, caseschema.NewDate(2021, time.June, 3).Equal(*updated.ConfirmationDate))

	stored, err := ctl.GetCase(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, caseschema.StatusSuspected, stored.CaseStatus)
	require.Nil(t, stored.Location)
}

func TestUpdateCaseEmptyUpdate(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	created := mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))

	// an update naming no fields is a no-op, not an error
	updated, err := ctl.UpdateCase(ctx, created.ID, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, caseschema.StatusConfirmed, updated.CaseStatus)

	// _id is carried by every batch item and never counts as a change
	updated, err = ctl.UpdateCase(ctx, created.ID, map[string]interface{}{"_id": created.ID})
	require.NoError(t, err)
	require.Equal(t, "FR", updated.Location.Country)
}

func TestUpdateCaseRejectsInvalidResult(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	created := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	_, err := ctl.UpdateCase(ctx, created.ID, map[string]interface{}{"confirmationDate": nil})
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))

	// the stored record is untouched
	stored, err := ctl.GetCase(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConfirmationDate)
}

func TestUpdateCaseNotFound(t *testing.T) {
	ctl, _ := newTestController(t)
	_, err := ctl.UpdateCase(context.Background(), "missing", map[string]interface{}{"caseStatus": "confirmed"})
	require.Error(t, err)
	require.True(t, errs.IsNotFound(err))
}

func TestBatchUpdate(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))
	b := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-04"))

	modified, err := ctl.BatchUpdate(ctx, []map[string]interface{}{
		{"_id": a.ID, "caseStatus": caseschema.StatusSuspected},
		{"_id": b.ID, "caseStatus": caseschema.StatusProbable},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), modified)

	got, err := ctl.GetCase(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, caseschema.StatusProbable, got.CaseStatus)
}

func TestBatchUpdateRequiresIDs(t *testing.T) {
	ctl, _ := newTestController(t)
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	_, err := ctl.BatchUpdate(context.Background(), []map[string]interface{}{
		{"_id": a.ID, "caseStatus": caseschema.StatusSuspected},
		{"caseStatus": caseschema.StatusProbable},
	})
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	// ids are checked up front, so nothing was modified
	got, err := ctl.GetCase(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, caseschema.StatusConfirmed, got.CaseStatus)
}

func TestBatchUpdateAbortsOnFailure(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	modified, err := ctl.BatchUpdate(ctx, []map[string]interface{}{
		{"_id": a.ID, "caseStatus": caseschema.StatusSuspected},
		{"_id": "missing", "caseStatus": caseschema.StatusProbable},
	})
	require.Error(t, err)
	require.True(t, errs.IsNotFound(err))
	require.Equal(t, int64(1), modified)
}

func TestBatchUpdateQuery(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))
	mustCreate(t, ctl, caseDoc("src-1", "DE", "2021-06-04"))

	modified, err := ctl.BatchUpdateQuery(ctx, "country:FR", map[string]interface{}{"caseStatus": caseschema.StatusProbable})
	require.NoError(t, err)
	require.Equal(t, int64(1), modified)

	// blank query applies to everything
	modified, err = ctl.BatchUpdateQuery(ctx, "", map[string]interface{}{"caseStatus": caseschema.StatusSuspected})
	require.NoError(t, err)
	require.Equal(t, int64(2), modified)

	// an empty update modifies nothing and never reaches the store
	modified, err = ctl.BatchUpdateQuery(ctx, "", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, int64(0), modified)
}

func TestDeleteCase(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	created := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	require.NoError(t, ctl.DeleteCase(ctx, created.ID))
	_, err := ctl.GetCase(ctx, created.ID)
	require.True(t, errs.IsNotFound(err))

	err = ctl.DeleteCase(ctx, created.ID)
	require.Error(t, err)
	require.True(t, errs.IsNotFound(err))
}

func TestBatchDeleteByIDs(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))
	b := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-04"))

	require.NoError(t, ctl.BatchDelete(ctx, nil, []string{a.ID}, 0))

	list, err := ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), list.Total)
	require.Equal(t, b.ID, list.Cases[0].ID)
}

func TestBatchDeleteByQuery(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))
	mustCreate(t, ctl, caseDoc("src-1", "DE", "2021-06-04"))

	query := "country:FR"
	require.NoError(t, ctl.BatchDelete(ctx, &query, nil, 0))

	list, err := ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), list.Total)
	require.Equal(t, "DE", list.Cases[0].Location.Country)
}

func TestBatchDeleteSelectorRules(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))

	query := "country:FR"
	err := ctl.BatchDelete(ctx, &query, []string{a.ID}, 0)
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	err = ctl.BatchDelete(ctx, nil, nil, 0)
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	// a blank query must not select everything
	blank := "   "
	err = ctl.BatchDelete(ctx, &blank, nil, 0)
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	// neither may an empty id list
	err = ctl.BatchDelete(ctx, nil, []string{}, 0)
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))

	list, err := ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), list.Total)
}

func TestBatchDeleteThreshold(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustCreate(t, ctl, caseDoc("src-1", "FR", "2021-06-03"))
	}

	query := "country:FR"
	err := ctl.BatchDelete(ctx, &query, nil, 2)
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))

	list, err := ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), list.Total)

	require.NoError(t, ctl.BatchDelete(ctx, &query, nil, 3))
	list, err = ctl.ListCases(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), list.Total)
}

func TestExcludedCaseIDs(t *testing.T) {
	ctl, _ := newTestController(t)
	ctx := context.Background()
	a := mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-03"))
	mustCreate(t, ctl, caseDoc("src-1", "", "2021-06-04"))
	c := mustCreate(t, ctl, caseDoc("src-2", "", "2021-06-05"))

	require.NoError(t, ctl.BatchStatusChange(ctx, caseschema.StatusOmitDuplicate, "dup", []string{a.ID, c.ID}, ""))

	ids, err := ctl.ExcludedCaseIDs(ctx, "src-1")
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, ids)

	ids, err = ctl.ExcludedCaseIDs(ctx, "src-3")
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = ctl.ExcludedCaseIDs(ctx, "")
	require.Error(t, err)
	require.True(t, errs.IsPrecondition(err))
}
