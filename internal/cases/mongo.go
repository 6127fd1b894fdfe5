package cases

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
	"github.com/globaldothealth/linelist/internal/filter"
)

// MongoStore is the production Store: one collection of case documents in
// the shape produced by Case.ToRaw, one collection of custom field
// descriptors. Filter queries become conjunctions of equality matches plus
// range comparisons on confirmationDate.
type MongoStore struct {
	reg    *caseschema.Registry
	cases  *mongo.Collection
	fields *mongo.Collection
}

func NewMongoStore(db *mongo.Database, reg *caseschema.Registry) *MongoStore {
	cases := db.Collection("cases")
	// indexes back the hot filter paths; creation is idempotent
	cases.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "confirmationDate", Value: 1}}},
		{Keys: bson.D{{Key: "caseReference.sourceId", Value: 1}}},
		{Keys: bson.D{{Key: "caseStatus", Value: 1}}},
	})
	return &MongoStore{reg: reg, cases: cases, fields: db.Collection("schemaFields")}
}

func (s *MongoStore) PutCase(ctx context.Context, id string, c *caseschema.Case) error {
	doc := caseToDocument(c)
	delete(doc, "_id")
	opts := options.Replace().SetUpsert(true)
	_, err := s.cases.ReplaceOne(ctx, bson.M{"_id": storedID(id)}, doc, opts)
	return err
}

func (s *MongoStore) InsertCase(ctx context.Context, c *caseschema.Case) (string, error) {
	doc := caseToDocument(c)
	delete(doc, "_id")
	res, err := s.cases.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return "", errs.DependencyFailedf("store returned unusable id %v", res.InsertedID)
}

func (s *MongoStore) CaseByID(ctx context.Context, id string) (*caseschema.Case, error) {
	var doc bson.M
	err := s.cases.FindOne(ctx, bson.M{"_id": storedID(id)}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return s.documentToCase(doc)
}

func (s *MongoStore) FetchCases(ctx context.Context, page, limit int, f *filter.Filter) ([]*caseschema.Case, error) {
	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.cases.Find(ctx, filterToQuery(f), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*caseschema.Case
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		c, err := s.documentToCase(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

func (s *MongoStore) CountCases(ctx context.Context, f *filter.Filter) (int64, error) {
	return s.cases.CountDocuments(ctx, filterToQuery(f))
}

func (s *MongoStore) IterateCases(ctx context.Context, sel Selector, fn func(*caseschema.Case) error) error {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.cases.Find(ctx, selectorToQuery(sel), opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		c, err := s.documentToCase(doc)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *MongoStore) UpdateCase(ctx context.Context, id string, update caseschema.DocumentUpdate) error {
	res, err := s.cases.UpdateOne(ctx, bson.M{"_id": storedID(id)}, updateToDocument(update))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.NotFoundf("no case with id %s", id)
	}
	return nil
}

func (s *MongoStore) UpdateCases(ctx context.Context, sel Selector, update caseschema.DocumentUpdate) (int64, error) {
	res, err := s.cases.UpdateMany(ctx, selectorToQuery(sel), updateToDocument(update))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) DeleteCase(ctx context.Context, id string) error {
	res, err := s.cases.DeleteOne(ctx, bson.M{"_id": storedID(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errs.NotFoundf("no case with id %s", id)
	}
	return nil
}

func (s *MongoStore) DeleteCases(ctx context.Context, sel Selector) (int64, error) {
	res, err := s.cases.DeleteMany(ctx, selectorToQuery(sel))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) ExcludedCaseIDs(ctx context.Context, sourceID string) ([]string, error) {
	query := bson.M{
		"caseStatus":             bson.M{"$in": []string{caseschema.StatusOmitError, caseschema.StatusOmitDuplicate}},
		"caseReference.sourceId": sourceID,
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.cases.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	ids := []string{}
	for cur.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID.Hex())
	}
	return ids, cur.Err()
}

func (s *MongoStore) CaseFields(ctx context.Context) ([]caseschema.Field, error) {
	cur, err := s.fields.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var fields []caseschema.Field
	for cur.Next(ctx) {
		var f caseschema.Field
		if err := cur.Decode(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, cur.Err()
}

func (s *MongoStore) AddCaseField(ctx context.Context, f caseschema.Field) error {
	_, err := s.fields.InsertOne(ctx, f)
	return err
}

// storedID prefers ObjectID form so that ids round-trip through their hex
// representation; foreign ids stay strings.
func storedID(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func caseToDocument(c *caseschema.Case) bson.M {
	return bson.M(c.ToRaw())
}

// documentToCase normalises BSON decoding artifacts (primitive.DateTime,
// primitive.A, ObjectID) back into the raw shape CaseFromRaw accepts.
func (s *MongoStore) documentToCase(doc bson.M) (*caseschema.Case, error) {
	raw := normalizeBSON(doc).(map[string]interface{})
	return caseschema.CaseFromRaw(s.reg, raw)
}

func normalizeBSON(v interface{}) interface{} {
	switch value := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(value))
		for k, inner := range value {
			out[k] = normalizeBSON(inner)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, inner := range value {
			out[k] = normalizeBSON(inner)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(value))
		for _, elem := range value {
			out[elem.Key] = normalizeBSON(elem.Value)
		}
		return out
	case primitive.A:
		out := make([]interface{}, 0, len(value))
		for _, inner := range value {
			out = append(out, normalizeBSON(inner))
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(value))
		for _, inner := range value {
			out = append(out, normalizeBSON(inner))
		}
		return out
	case primitive.DateTime:
		return value.Time().UTC()
	case primitive.ObjectID:
		return value.Hex()
	case int32:
		return int64(value)
	default:
		return v
	}
}

func selectorToQuery(sel Selector) bson.M {
	if len(sel.IDs) > 0 {
		ids := make([]interface{}, 0, len(sel.IDs))
		for _, id := range sel.IDs {
			ids = append(ids, storedID(id))
		}
		return bson.M{"_id": bson.M{"$in": ids}}
	}
	return filterToQuery(sel.Filter)
}

// filterToQuery renders the parsed filter as the conjunction of its pairs.
// The date pseudo-fields become strict range bounds on confirmationDate.
func filterToQuery(f *filter.Filter) bson.M {
	query := bson.M{}
	if f.Empty() {
		return query
	}
	for key, value := range f.Props {
		path, ok := filter.PathFor(key)
		if !ok {
			continue
		}
		if path == "_id" {
			query[path] = storedID(value)
			continue
		}
		query[path] = value
	}
	dateBounds := bson.M{}
	if f.ConfirmedAfter != nil {
		dateBounds["$gt"] = f.ConfirmedAfter.Time()
	}
	if f.ConfirmedBefore != nil {
		dateBounds["$lt"] = f.ConfirmedBefore.Time()
	}
	if len(dateBounds) > 0 {
		query["confirmationDate"] = dateBounds
	}
	return query
}

func updateToDocument(update caseschema.DocumentUpdate) bson.M {
	doc := bson.M{}
	if len(update.Sets) > 0 {
		sets := bson.M{}
		for path, value := range update.Sets {
			sets[path] = updateValue(value)
		}
		doc["$set"] = sets
	}
	if len(update.Unsets) > 0 {
		unsets := bson.M{}
		for _, path := range update.Unsets {
			unsets[path] = ""
		}
		doc["$unset"] = unsets
	}
	return doc
}

func updateValue(v interface{}) interface{} {
	switch value := v.(type) {
	case caseschema.Date:
		return value.Time()
	case *caseschema.CaseExclusion:
		return bson.M{"date": value.Date.Time(), "note": value.Note}
	case map[string]interface{}:
		out := bson.M{}
		for k, inner := range value {
			out[k] = updateValue(inner)
		}
		return out
	default:
		return v
	}
}

var _ Store = (*MongoStore)(nil)
