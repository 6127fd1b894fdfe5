package cases

import (
	"context"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
)

// SchemaService manages the runtime-extensible part of the case schema:
// registrations go through the registry (which enforces the naming and
// typing rules) and are persisted through the store so every instance sees
// the same field set.
type SchemaService struct {
	store Store
	reg   *caseschema.Registry
}

func NewSchemaService(store Store, reg *caseschema.Registry) *SchemaService {
	return &SchemaService{store: store, reg: reg}
}

// Hydrate loads previously stored custom fields into the registry. Called
// once at startup, before the service accepts requests.
func (s *SchemaService) Hydrate(ctx context.Context) error {
	fields, err := s.store.CaseFields(ctx)
	if err != nil {
		return errs.Wrap(err, "loading custom case fields")
	}
	for _, f := range fields {
		if err := s.reg.Add(f); err != nil {
			return errs.Wrap(err, "restoring custom case field")
		}
	}
	return nil
}

// AddField registers a new custom field and persists its descriptor. All
// subsequently constructed cases carry the field; cases already in memory
// are unaffected until reloaded.
func (s *SchemaService) AddField(ctx context.Context, f caseschema.Field) error {
	if err := s.reg.Add(f); err != nil {
		return err
	}
	if err := s.store.AddCaseField(ctx, f); err != nil {
		return errs.Wrap(err, "persisting custom case field")
	}
	return nil
}
