package destination

import (
	"context"
	"errors"
	"strings"

	"github.com/eureka/eureka/internal/domain/cohort"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/db"
	"github.com/eureka/eureka/internal/platform/export"
)

// PropositionIDs maps phenotype keys to engine proposition ids.
type PropositionIDs interface {
	PropositionID(ctx context.Context, key string) (string, error)
}

type Service struct {
	dests   Repository
	cohorts cohort.Repository
	ids     PropositionIDs
}

func NewService(dests Repository, cohorts cohort.Repository, ids PropositionIDs) *Service {
	return &Service{dests: dests, cohorts: cohorts, ids: ids}
}

func (s *Service) validate(d *Destination) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.New(apperr.ErrInvalid, "Destination name must be specified")
	}
	if !validType(d.Type) {
		return apperr.Newf(apperr.ErrInvalid, "Invalid destination type %s", d.Type)
	}
	switch d.Type {
	case export.TypeCohort:
		if err := d.Cohort.Validate(); err != nil {
			return apperr.Newf(apperr.ErrInvalid, "Invalid cohort for destination %s: %v", d.Name, err)
		}
	case export.TypePatientSetExtractor:
		if d.AliasPropositionID == "" {
			return apperr.Newf(apperr.ErrInvalid, "Destination %s must have an alias proposition id", d.Name)
		}
	}
	return nil
}

// insert stores d as a new current row, with a fresh cohort row for cohort
// destinations.
func (s *Service) insert(ctx context.Context, d *Destination) error {
	d.ID = 0
	d.CohortID = nil
	if d.Type == export.TypeCohort {
		c := &cohort.Cohort{Node: d.Cohort}
		if err := s.cohorts.Create(ctx, c); err != nil {
			return err
		}
		d.CohortID = &c.ID
	}
	return s.dests.Create(ctx, d)
}

// Create stores a new destination. The caller owns it unless an owner is
// given.
func (s *Service) Create(ctx context.Context, userID int64, d *Destination) error {
	if err := s.validate(d); err != nil {
		return err
	}
	if d.OwnerUserID == nil {
		d.OwnerUserID = &userID
	}
	return db.InTx(ctx, func(ctx context.Context) error {
		_, err := s.dests.GetCurrent(ctx, d.Name)
		if err == nil {
			return apperr.Newf(apperr.ErrConflict, "Destination %s already exists", d.Name)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return s.insert(ctx, d)
	})
}

// Update expires the current row of d's name and inserts d as its
// successor. Only the owner may update.
func (s *Service) Update(ctx context.Context, userID int64, d *Destination) error {
	if err := s.validate(d); err != nil {
		return err
	}
	return db.InTx(ctx, func(ctx context.Context) error {
		old, err := s.dests.GetCurrent(ctx, d.Name)
		if err != nil {
			return err
		}
		if !old.OwnedBy(userID) {
			return apperr.Newf(apperr.ErrNotFound, "Invalid destination name %s", d.Name)
		}
		if d.OwnerUserID == nil {
			d.OwnerUserID = old.OwnerUserID
		}
		if d.OwnerUserID == nil {
			d.OwnerUserID = &userID
		}
		if err := s.dests.Expire(ctx, old.ID); err != nil {
			return err
		}
		return s.insert(ctx, d)
	})
}

func (s *Service) Get(ctx context.Context, name string) (*Destination, error) {
	return s.dests.GetCurrent(ctx, name)
}

// List returns every current destination, or those of typ when set.
func (s *Service) List(ctx context.Context, typ export.Type) ([]*Destination, error) {
	if typ != "" && !validType(typ) {
		return nil, apperr.Newf(apperr.ErrInvalid, "Invalid destination type %s", typ)
	}
	out, _, err := s.dests.ListCurrent(ctx, typ, 0, 0)
	if out == nil {
		out = []*Destination{}
	}
	return out, err
}

// ListCohorts returns a page of current cohort destinations and the total.
func (s *Service) ListCohorts(ctx context.Context, limit, offset int) ([]*Destination, int, error) {
	out, total, err := s.dests.ListCurrent(ctx, export.TypeCohort, limit, offset)
	if out == nil {
		out = []*Destination{}
	}
	return out, total, err
}

// GetCohort is Get restricted to cohort destinations.
func (s *Service) GetCohort(ctx context.Context, name string) (*Destination, error) {
	d, err := s.dests.GetCurrent(ctx, name)
	if err != nil {
		return nil, err
	}
	if d.Type != export.TypeCohort {
		return nil, apperr.Newf(apperr.ErrNotFound, "Invalid cohort destination name %s", name)
	}
	return d, nil
}

// Delete expires the current row of name. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, userID int64, name string) error {
	return s.delete(ctx, userID, name, "")
}

// DeleteCohort is Delete restricted to cohort destinations.
func (s *Service) DeleteCohort(ctx context.Context, userID int64, name string) error {
	return s.delete(ctx, userID, name, export.TypeCohort)
}

func (s *Service) delete(ctx context.Context, userID int64, name string, typ export.Type) error {
	d, err := s.dests.GetCurrent(ctx, name)
	if err != nil {
		return err
	}
	if !d.OwnedBy(userID) || (typ != "" && d.Type != typ) {
		return apperr.Newf(apperr.ErrNotFound, "Invalid destination name %s", name)
	}
	return s.dests.Expire(ctx, d.ID)
}

// IsCurrent reports whether an unexpired destination is named name.
func (s *Service) IsCurrent(ctx context.Context, name string) (bool, error) {
	_, err := s.dests.GetCurrent(ctx, name)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RequiredPropositionIDs converts d's required concepts to proposition ids.
func (s *Service) RequiredPropositionIDs(ctx context.Context, d *Destination) ([]string, error) {
	out := make([]string, 0, len(d.RequiredConcepts))
	for _, k := range d.RequiredConcepts {
		id, err := s.ids.PropositionID(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// ExportSpec describes the current destination name for the export factory.
// Cohort literals are rewritten to proposition ids.
func (s *Service) ExportSpec(ctx context.Context, name string) (*export.Spec, error) {
	d, err := s.dests.GetCurrent(ctx, name)
	if err != nil {
		return nil, err
	}
	required, err := s.RequiredPropositionIDs(ctx, d)
	if err != nil {
		return nil, err
	}
	spec := &export.Spec{
		Name:                        d.Name,
		Type:                        d.Type,
		AliasPropositionID:          d.AliasPropositionID,
		RequiredPropositionIDs:      required,
		AllowingQueryPropositionIDs: d.AllowingQueryPropositionIDs(),
	}
	if d.Cohort != nil {
		ids := make(map[string]string)
		for _, k := range d.Cohort.Literals() {
			if ids[k], err = s.ids.PropositionID(ctx, k); err != nil {
				return nil, err
			}
		}
		spec.Cohort = d.Cohort.Map(func(k string) string { return ids[k] })
	}
	return spec, nil
}
