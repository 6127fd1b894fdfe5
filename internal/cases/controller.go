package cases

import (
	"context"
	"strconv"
	"strings"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
	"github.com/globaldothealth/linelist/internal/filter"
	"github.com/globaldothealth/linelist/internal/geocode"
	"github.com/globaldothealth/linelist/pkg/metrics"
)

// DefaultPageSize is used when a list request does not name a limit.
const DefaultPageSize = 20

// Geocoder resolves a free-text place query into candidate locations. The
// production implementation lives in internal/geocode; tests substitute
// their own.
type Geocoder interface {
	Locate(ctx context.Context, query string) ([]geocode.Location, error)
}

// CaseList is one page of cases plus the full matching count. NextPage is
// nil on the last page and beyond.
type CaseList struct {
	Cases    []*caseschema.Case `json:"cases"`
	Total    int64              `json:"total"`
	NextPage *int               `json:"nextPage,omitempty"`
}

// BatchUpsertResponse reports per-item outcomes: failures are keyed by the
// input item's index and never abort the rest of the batch.
type BatchUpsertResponse struct {
	NumCreated int               `json:"numCreated"`
	NumUpdated int               `json:"numUpdated"`
	Errors     map[string]string `json:"errors"`
}

// Controller orchestrates the document model, the filter language and the
// store into the case operations the API exposes. It keeps no per-request
// state; the registry is the only shared mutable state it touches.
type Controller struct {
	store    Store
	reg      *caseschema.Registry
	geocoder Geocoder
	uploader Uploader
}

func NewController(store Store, reg *caseschema.Registry, geocoder Geocoder) *Controller {
	return &Controller{store: store, reg: reg, geocoder: geocoder}
}

// Store exposes the backing store, mainly for tests that need to arrange
// fixtures directly.
func (c *Controller) Store() Store { return c.store }

func (c *Controller) GetCase(ctx context.Context, id string) (*caseschema.Case, error) {
	found, err := c.store.CaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errs.NotFoundf("no case with id %s", id)
	}
	return found, nil
}

func (c *Controller) ListCases(ctx context.Context, page, limit int, filterQuery string) (*CaseList, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	f, err := c.parseOptionalFilter(filterQuery)
	if err != nil {
		return nil, err
	}
	total, err := c.store.CountCases(ctx, f)
	if err != nil {
		return nil, err
	}
	records, err := c.store.FetchCases(ctx, page, limit, f)
	if err != nil {
		return nil, err
	}
	list := &CaseList{Cases: records, Total: total}
	if list.Cases == nil {
		list.Cases = []*caseschema.Case{}
	}
	if int64(page*limit) < total {
		next := page + 1
		list.NextPage = &next
	}
	return list, nil
}

// CreateCase validates and constructs one record from the payload and
// inserts it numCases times: one report can stand for several identical
// real-world cases.
func (c *Controller) CreateCase(ctx context.Context, raw map[string]interface{}, numCases int) (*caseschema.Case, error) {
	if numCases < 0 {
		return nil, errs.Preconditionf("cannot create %d cases", numCases)
	}
	if err := c.geocodeRaw(ctx, raw); err != nil {
		return nil, err
	}
	newCase, err := caseschema.CaseFromRaw(c.reg, raw)
	if err != nil {
		return nil, err
	}
	for i := 0; i < numCases; i++ {
		id, err := c.store.InsertCase(ctx, newCase)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			newCase.ID = id
		}
	}
	metrics.CasesCreated.Add(float64(numCases))
	return newCase, nil
}

// ValidateCaseRaw runs construction and validation without persisting.
func (c *Controller) ValidateCaseRaw(ctx context.Context, raw map[string]interface{}) error {
	_, err := caseschema.CaseFromRaw(c.reg, raw)
	_ = ctx
	return err
}

// BatchUpsert validates and writes each item independently. Items carrying
// the id of an existing case count as updates; validation failures land in
// the response's error map keyed by item index.
func (c *Controller) BatchUpsert(ctx context.Context, body map[string]interface{}) (*BatchUpsertResponse, error) {
	if body == nil {
		return nil, errs.UnsupportedTypef("batch upsert requires a JSON body")
	}
	rawList, present := body["cases"]
	if !present {
		return nil, errs.Preconditionf("batch upsert requires a list of cases")
	}
	items, ok := rawList.([]interface{})
	if !ok || len(items) == 0 {
		return nil, errs.Preconditionf("batch upsert requires a non-empty list of cases")
	}
	response := &BatchUpsertResponse{Errors: map[string]string{}}
	for index, item := range items {
		raw, ok := item.(map[string]interface{})
		if !ok {
			response.Errors[strconv.Itoa(index)] = "case must be an object"
			continue
		}
		if err := c.upsertOne(ctx, raw, response); err != nil {
			response.Errors[strconv.Itoa(index)] = err.Error()
		}
	}
	return response, nil
}

func (c *Controller) upsertOne(ctx context.Context, raw map[string]interface{}, response *BatchUpsertResponse) error {
	if id, ok := raw["_id"].(string); ok && id != "" {
		existing, err := c.store.CaseByID(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			if _, err := c.UpdateCase(ctx, id, raw); err != nil {
				return err
			}
			response.NumUpdated++
			return nil
		}
	}
	newCase, err := caseschema.CaseFromRaw(c.reg, raw)
	if err != nil {
		return err
	}
	if _, err := c.store.InsertCase(ctx, newCase); err != nil {
		return err
	}
	response.NumCreated++
	metrics.CasesCreated.Inc()
	return nil
}

// BatchStatusChange moves the selected cases to a new status. Entering an
// excluded status stamps exclusion metadata from the call time and note;
// leaving one clears it.
func (c *Controller) BatchStatusChange(ctx context.Context, status, note string, caseIDs []string, filterQuery string) error {
	if !caseschema.KnownStatus(status) {
		return errs.Preconditionf("unknown case status %q", status)
	}
	excluded := caseschema.ExcludedStatus(status)
	if excluded && note == "" {
		return errs.Validationf("a note is required when excluding cases")
	}
	sel, err := c.selector(caseIDs, filterQuery)
	if err != nil {
		return err
	}
	update := caseschema.DocumentUpdate{Sets: map[string]interface{}{"caseStatus": status}}
	if excluded {
		update.Sets["caseExclusion"] = &caseschema.CaseExclusion{Date: caseschema.Today(), Note: note}
	} else {
		update.Unsets = append(update.Unsets, "caseExclusion")
	}
	_, err = c.store.UpdateCases(ctx, sel, update)
	return err
}

// UpdateCase applies the raw field changes to one case, null values becoming
// unsets, and commits only if the updated record validates.
func (c *Controller) UpdateCase(ctx context.Context, id string, raw map[string]interface{}) (*caseschema.Case, error) {
	existing, err := c.store.CaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errs.NotFoundf("no case with id %s", id)
	}
	update, err := caseschema.NormalizeUpdate(c.reg, caseschema.UpdateFromRaw(raw))
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return existing, nil
	}
	updated, err := caseschema.UpdatedCopy(c.reg, existing, update)
	if err != nil {
		return nil, err
	}
	if err := updated.Validate(c.reg); err != nil {
		return nil, err
	}
	if err := c.store.UpdateCase(ctx, id, update); err != nil {
		return nil, err
	}
	updated.ID = id
	return updated, nil
}

// BatchUpdate applies per-case updates; every item must name its case. The
// whole batch aborts on the first missing id, unknown case or invalid
// result; per-item reporting is BatchUpsert's contract, not this one's.
func (c *Controller) BatchUpdate(ctx context.Context, items []map[string]interface{}) (int64, error) {
	for _, item := range items {
		if id, ok := item["_id"].(string); !ok || id == "" {
			return 0, errs.Preconditionf("every case in a batch update must have an _id")
		}
	}
	var modified int64
	for _, item := range items {
		id := item["_id"].(string)
		if _, err := c.UpdateCase(ctx, id, item); err != nil {
			return modified, err
		}
		modified++
	}
	return modified, nil
}

// BatchUpdateQuery applies one update to every case matching the filter, or
// to all cases when the filter is blank.
func (c *Controller) BatchUpdateQuery(ctx context.Context, filterQuery string, raw map[string]interface{}) (int64, error) {
	f, err := c.parseOptionalFilter(filterQuery)
	if err != nil {
		return 0, err
	}
	update, err := caseschema.NormalizeUpdate(c.reg, caseschema.UpdateFromRaw(raw))
	if err != nil {
		return 0, err
	}
	if update.Empty() {
		return 0, nil
	}
	return c.store.UpdateCases(ctx, Selector{Filter: f}, update)
}

func (c *Controller) DeleteCase(ctx context.Context, id string) error {
	if err := c.store.DeleteCase(ctx, id); err != nil {
		return err
	}
	metrics.CasesDeleted.Inc()
	return nil
}

// BatchDelete removes the cases named by exactly one of query/caseIDs. A
// blank query or an empty id list is rejected so that a degenerate selector
// cannot select everything. When threshold is positive and the predicted
// count exceeds it, nothing is deleted.
func (c *Controller) BatchDelete(ctx context.Context, query *string, caseIDs []string, threshold int) error {
	if query != nil && caseIDs != nil {
		return errs.Preconditionf("supply a filter query or a list of case ids, not both")
	}
	if query == nil && caseIDs == nil {
		return errs.Preconditionf("supply a filter query or a list of case ids")
	}
	if caseIDs != nil && len(caseIDs) == 0 {
		return errs.Preconditionf("list of case ids must not be empty")
	}
	sel := Selector{IDs: caseIDs}
	if query != nil {
		if strings.TrimSpace(*query) == "" {
			return errs.Preconditionf("filter query must not be blank")
		}
		f, err := filter.Parse(*query)
		if err != nil {
			return err
		}
		sel = Selector{Filter: f}
	}
	if threshold > 0 {
		predicted, err := c.predictedCount(ctx, sel)
		if err != nil {
			return err
		}
		if predicted > int64(threshold) {
			return errs.Validationf("refusing to delete %d cases, more than threshold %d", predicted, threshold)
		}
	}
	deleted, err := c.store.DeleteCases(ctx, sel)
	if err != nil {
		return err
	}
	metrics.CasesDeleted.Add(float64(deleted))
	return nil
}

func (c *Controller) predictedCount(ctx context.Context, sel Selector) (int64, error) {
	if len(sel.IDs) > 0 {
		return int64(len(sel.IDs)), nil
	}
	return c.store.CountCases(ctx, sel.Filter)
}

// ExcludedCaseIDs lists the ids of excluded cases originating from a source,
// so that ingestion does not resurrect curator-rejected cases.
func (c *Controller) ExcludedCaseIDs(ctx context.Context, sourceID string) ([]string, error) {
	if sourceID == "" {
		return nil, errs.Preconditionf("a source id is required")
	}
	return c.store.ExcludedCaseIDs(ctx, sourceID)
}

func (c *Controller) selector(caseIDs []string, filterQuery string) (Selector, error) {
	if caseIDs != nil && filterQuery != "" {
		return Selector{}, errs.Preconditionf("supply case ids or a filter query, not both")
	}
	if caseIDs != nil {
		if len(caseIDs) == 0 {
			return Selector{}, errs.Preconditionf("list of case ids must not be empty")
		}
		return Selector{IDs: caseIDs}, nil
	}
	f, err := c.parseOptionalFilter(filterQuery)
	if err != nil {
		return Selector{}, err
	}
	return Selector{Filter: f}, nil
}

func (c *Controller) parseOptionalFilter(filterQuery string) (*filter.Filter, error) {
	if strings.TrimSpace(filterQuery) == "" {
		return nil, nil
	}
	return filter.Parse(filterQuery)
}

// geocodeRaw fills in the location sub-record from the geocoding service
// when the payload names a place query without coordinates.
func (c *Controller) geocodeRaw(ctx context.Context, raw map[string]interface{}) error {
	if c.geocoder == nil {
		return nil
	}
	loc, ok := raw["location"].(map[string]interface{})
	if !ok {
		return nil
	}
	query, _ := loc["query"].(string)
	if query == "" {
		return nil
	}
	if _, located := loc["country"]; located {
		return nil
	}
	candidates, err := c.geocoder.Locate(ctx, query)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return errs.DependencyFailedf("no locations found for %q", query)
	}
	best := candidates[0]
	loc["country"] = best.Country
	loc["admin1"] = best.Admin1
	loc["admin2"] = best.Admin2
	loc["admin3"] = best.Admin3
	loc["latitude"] = best.Latitude
	loc["longitude"] = best.Longitude
	loc["resolution"] = best.Resolution
	return nil
}
