package systemelement

import "github.com/eureka/eureka/internal/platform/engine"

// UserPrefix marks proposition ids derived from user-defined data elements.
const UserPrefix = "USER:"

// SystemElement is a read-only phenotype defined by the knowledge source.
type SystemElement struct {
	Key               string                `json:"key"`
	DisplayName       string                `json:"displayName"`
	AbbrevDisplayName string                `json:"abbrevDisplayName,omitempty"`
	Type              string                `json:"type"`
	InSystem          bool                  `json:"inSystem"`
	SystemType        engine.DefinitionType `json:"systemType"`
	Parent            bool                  `json:"parent"`
	Children          []string              `json:"children,omitempty"`
}

func fromDefinition(d *engine.PropositionDefinition) *SystemElement {
	return &SystemElement{
		Key:               d.ID,
		DisplayName:       d.DisplayName,
		AbbrevDisplayName: d.AbbrevDisplayName,
		Type:              "SYSTEM",
		InSystem:          true,
		SystemType:        d.Type,
		Parent:            len(d.InverseIsA) > 0,
		Children:          d.InverseIsA,
	}
}
