package dataelement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eureka/eureka/internal/domain/systemelement"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/db"
	"github.com/eureka/eureka/internal/platform/engine"
)

// SystemElements looks up system phenotypes.
type SystemElements interface {
	SystemKeys
	Get(ctx context.Context, key string) (*systemelement.SystemElement, error)
}

type Service struct {
	elements Repository
	system   SystemElements
	units    TimeUnits
	now      func() time.Time
}

func NewService(elements Repository, system SystemElements, units TimeUnits) *Service {
	return &Service{elements: elements, system: system, units: units, now: time.Now}
}

func fromSystem(s *systemelement.SystemElement) *DataElement {
	return &DataElement{
		Key:               s.Key,
		DisplayName:       s.DisplayName,
		AbbrevDisplayName: s.AbbrevDisplayName,
		Type:              TypeSystem,
		InSystem:          true,
	}
}

// List returns the user's elements. Stored references to system elements
// are replaced by the system's current definition.
func (s *Service) List(ctx context.Context, userID int64) ([]*DataElement, error) {
	els, err := s.elements.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*DataElement, 0, len(els))
	for _, el := range els {
		if !el.InSystem {
			out = append(out, el)
			continue
		}
		sys, err := s.system.Get(ctx, el.Key)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromSystem(sys))
	}
	return out, nil
}

// Get returns the user's element key, falling back to the system elements.
func (s *Service) Get(ctx context.Context, userID int64, key string) (*DataElement, error) {
	el, err := s.elements.GetByKey(ctx, userID, key)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if el != nil && !el.InSystem {
		return el, nil
	}
	sys, err := s.system.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return fromSystem(sys), nil
}

// check translates d against the user's other elements and rejects
// reference cycles.
func (s *Service) check(ctx context.Context, d *DataElement, others []*DataElement) error {
	if strings.TrimSpace(d.Key) == "" {
		return apperr.New(apperr.ErrInvalid, "Data element key must be specified")
	}
	all := make([]*DataElement, 0, len(others)+1)
	for _, o := range others {
		if d.ID != nil && o.ID != nil && *o.ID == *d.ID {
			continue
		}
		all = append(all, o)
	}
	all = append(all, d)

	if d.InSystem || d.Type == TypeSystem {
		ok, err := s.system.IsSystem(ctx, d.Key)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Newf(apperr.ErrInvalid, "Invalid system element %s", d.Key)
		}
		return nil
	}
	if _, err := NewTranslator(s.system, s.units, all).Translate(ctx, d); err != nil {
		return err
	}
	return checkCycles(all)
}

// checkCycles fails when user elements reference each other in a loop.
func checkCycles(els []*DataElement) error {
	byKey := make(map[string]*DataElement, len(els))
	for _, el := range els {
		if !el.InSystem {
			byKey[el.Key] = el
		}
	}
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(byKey))
	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case visiting:
			return apperr.Newf(apperr.ErrInvalid, "Data element %s is part of a circular reference", key)
		case done:
			return nil
		}
		state[key] = visiting
		for _, ref := range byKey[key].References() {
			if _, ok := byKey[ref]; ok {
				if err := visit(ref); err != nil {
					return err
				}
			}
		}
		state[key] = done
		return nil
	}
	for _, el := range els {
		if _, ok := byKey[el.Key]; ok {
			if err := visit(el.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, d *DataElement) error {
	if d.ID != nil {
		return apperr.New(apperr.ErrPrecondition, "Data element to be created should not have an identifier.")
	}
	if d.UserID == nil {
		return apperr.New(apperr.ErrPrecondition, "Data element to be created should have a user identifier.")
	}
	return db.InTx(ctx, func(ctx context.Context) error {
		others, err := s.elements.ListByUser(ctx, *d.UserID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.Key == d.Key {
				return apperr.New(apperr.ErrConflict, "Data element already exists.")
			}
		}
		if err := s.check(ctx, d, others); err != nil {
			return err
		}
		now := s.now()
		d.Created, d.LastModified = &now, &now
		return s.elements.Create(ctx, d)
	})
}

func (s *Service) Update(ctx context.Context, d *DataElement) error {
	if d.ID == nil {
		return apperr.New(apperr.ErrPrecondition, "Data element to be updated should have an identifier.")
	}
	if d.UserID == nil {
		return apperr.New(apperr.ErrPrecondition, "Data element to be updated should have a user identifier.")
	}
	return db.InTx(ctx, func(ctx context.Context) error {
		old, err := s.elements.GetByID(ctx, *d.ID)
		if err != nil {
			return err
		}
		if old.UserID == nil || *old.UserID != *d.UserID {
			return apperr.Newf(apperr.ErrNotFound, "No data element with id %d", *d.ID)
		}
		others, err := s.elements.ListByUser(ctx, *d.UserID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.Key == d.Key && *o.ID != *d.ID {
				return apperr.New(apperr.ErrConflict, "Data element already exists.")
			}
		}
		if err := s.check(ctx, d, others); err != nil {
			return err
		}
		now := s.now()
		d.Created, d.LastModified = old.Created, &now
		return s.elements.Update(ctx, d)
	})
}

// Delete removes the user's element key unless other elements use it.
func (s *Service) Delete(ctx context.Context, userID int64, key string) error {
	return db.InTx(ctx, func(ctx context.Context) error {
		el, err := s.elements.GetByKey(ctx, userID, key)
		if err != nil {
			return err
		}
		others, err := s.elements.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		var users []string
		for _, o := range others {
			if o.Key == key {
				continue
			}
			for _, ref := range o.References() {
				if ref == key {
					users = append(users, o.Name())
					break
				}
			}
		}
		if len(users) > 0 {
			return apperr.Newf(apperr.ErrPrecondition, "Data element %s is used by %d other data element(s): %s",
				el.Name(), len(users), joinNames(users))
		}
		return s.elements.Delete(ctx, *el.ID)
	})
}

// joinNames renders "A", "A and B" or "A, B and C".
func joinNames(names []string) string {
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

// Definitions translates the user's own elements. It returns the
// definitions and the proposition ids of the elements.
func (s *Service) Definitions(ctx context.Context, userID int64) ([]*engine.PropositionDefinition, []string, error) {
	els, err := s.elements.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	t := NewTranslator(s.system, s.units, els)
	var defs []*engine.PropositionDefinition
	var ids []string
	for _, el := range els {
		if el.InSystem || el.Type == TypeSystem {
			continue
		}
		d, err := t.Translate(ctx, el)
		if err != nil {
			return nil, nil, fmt.Errorf("translate data element %s: %w", el.Key, err)
		}
		defs = append(defs, d...)
		ids = append(ids, systemelement.UserPrefix+el.Key)
	}
	return defs, ids, nil
}
