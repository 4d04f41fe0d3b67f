package destination

import (
	"time"

	"github.com/eureka/eureka/internal/domain/cohort"
	"github.com/eureka/eureka/internal/platform/export"
)

// PhenotypeField is a column a destination exposes for one phenotype.
type PhenotypeField struct {
	PhenotypeKey         string   `json:"phenotypeKey"`
	PhenotypeDisplayName string   `json:"phenotypeDisplayName,omitempty"`
	Type                 string   `json:"type,omitempty"`
	Fields               []string `json:"fields,omitempty"`
}

type Link struct {
	URL         string `json:"url"`
	DisplayName string `json:"displayName,omitempty"`
}

type Destination struct {
	ID                      int64            `json:"id"`
	Name                    string           `json:"name"`
	Description             string           `json:"description,omitempty"`
	Type                    export.Type      `json:"type"`
	OwnerUserID             *int64           `json:"ownerUserId,omitempty"`
	Read                    bool             `json:"read"`
	Write                   bool             `json:"write"`
	Execute                 bool             `json:"execute"`
	GetStatisticsSupported  bool             `json:"getStatisticsSupported"`
	JobConceptListSupported bool             `json:"jobConceptListSupported"`
	RequiredConcepts        []string         `json:"requiredConcepts"`
	PhenotypeFields         []PhenotypeField `json:"phenotypeFields"`
	Links                   []Link           `json:"links"`
	Created                 time.Time        `json:"created"`
	ExpiredAt               *time.Time       `json:"expiredAt,omitempty"`

	// Cohort destinations.
	CohortID *int64       `json:"cohortId,omitempty"`
	Cohort   *cohort.Node `json:"cohort,omitempty"`
	// Patient set extractors.
	AliasPropositionID string `json:"aliasPropositionId,omitempty"`
	// Neo4j destinations.
	DBPath string `json:"dbPath,omitempty"`
}

// AllowingQueryPropositionIDs reports whether jobs may pick the proposition
// ids to write.
func (d *Destination) AllowingQueryPropositionIDs() bool {
	return d.JobConceptListSupported
}

// OwnedBy reports whether userID may modify d. Unowned destinations belong
// to whoever modifies them first.
func (d *Destination) OwnedBy(userID int64) bool {
	return d.OwnerUserID == nil || *d.OwnerUserID == userID
}

func validType(t export.Type) bool {
	switch t {
	case export.TypeCohort, export.TypeI2B2, export.TypePatientSetExtractor,
		export.TypePatientSetSender, export.TypeTabularFile, export.TypeNeo4j:
		return true
	}
	return false
}
