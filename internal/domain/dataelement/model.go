package dataelement

import "time"

type Type string

const (
	TypeSystem         Type = "SYSTEM"
	TypeCategorization Type = "CATEGORIZATION"
	TypeSequence       Type = "SEQUENCE"
	TypeFrequency      Type = "FREQUENCY"
	TypeValueThreshold Type = "VALUE_THRESHOLD"
)

// DataElement is a phenotype. Which of the type-specific fields are used
// depends on Type.
type DataElement struct {
	ID                *int64     `json:"id,omitempty"`
	UserID            *int64     `json:"userId,omitempty"`
	Key               string     `json:"key"`
	DisplayName       string     `json:"displayName,omitempty"`
	AbbrevDisplayName string     `json:"abbrevDisplayName,omitempty"`
	Description       string     `json:"description,omitempty"`
	Type              Type       `json:"type"`
	InSystem          bool       `json:"inSystem"`
	Created           *time.Time `json:"created,omitempty"`
	LastModified      *time.Time `json:"lastModified,omitempty"`

	// CATEGORIZATION
	Children []Child `json:"children,omitempty"`

	// SEQUENCE
	PrimaryDataElement  *DataElementField    `json:"primaryDataElement,omitempty"`
	RelatedDataElements []RelatedDataElement `json:"relatedDataElements,omitempty"`

	// FREQUENCY
	AtLeast            int               `json:"atLeast,omitempty"`
	IsConsecutive      bool              `json:"isConsecutive,omitempty"`
	DataElement        *DataElementField `json:"dataElement,omitempty"`
	IsWithin           bool              `json:"isWithin,omitempty"`
	WithinAtLeast      *int              `json:"withinAtLeast,omitempty"`
	WithinAtLeastUnits *int64            `json:"withinAtLeastUnits,omitempty"`
	WithinAtMost       *int              `json:"withinAtMost,omitempty"`
	WithinAtMostUnits  *int64            `json:"withinAtMostUnits,omitempty"`
	FrequencyType      string            `json:"frequencyType,omitempty"`

	// VALUE_THRESHOLD
	ThresholdsOperator string           `json:"thresholdsOperator,omitempty"`
	ValueThresholds    []ValueThreshold `json:"valueThresholds,omitempty"`
}

type Child struct {
	Key      string `json:"key"`
	InSystem bool   `json:"inSystem"`
}

// DataElementField references another data element by key.
type DataElementField struct {
	DataElementKey string `json:"dataElementKey"`
	WithValue      string `json:"withValue,omitempty"`
}

// RelatedDataElement places an element before or after an earlier element
// of a sequence.
type RelatedDataElement struct {
	DataElementField      DataElementField `json:"dataElementField"`
	RelationOperator      string           `json:"relationOperator"`
	SequentialDataElement string           `json:"sequentialDataElement,omitempty"`
	RelationMinCount      *int             `json:"relationMinCount,omitempty"`
	RelationMinUnits      *int64           `json:"relationMinUnits,omitempty"`
	RelationMaxCount      *int             `json:"relationMaxCount,omitempty"`
	RelationMaxUnits      *int64           `json:"relationMaxUnits,omitempty"`
}

const (
	RelationBefore = "before"
	RelationAfter  = "after"
)

type ValueThreshold struct {
	DataElement DataElementField `json:"dataElement"`
	LowerComp   string           `json:"lowerComp,omitempty"`
	LowerValue  string           `json:"lowerValue,omitempty"`
	UpperComp   string           `json:"upperComp,omitempty"`
	UpperValue  string           `json:"upperValue,omitempty"`
}

// Name is the label used in messages and trees.
func (d *DataElement) Name() string {
	if d.AbbrevDisplayName != "" {
		return d.AbbrevDisplayName
	}
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Key
}

// References lists the keys of the data elements d is built from, without
// duplicates.
func (d *DataElement) References() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, c := range d.Children {
		add(c.Key)
	}
	if d.PrimaryDataElement != nil {
		add(d.PrimaryDataElement.DataElementKey)
	}
	for _, r := range d.RelatedDataElements {
		add(r.DataElementField.DataElementKey)
	}
	if d.DataElement != nil {
		add(d.DataElement.DataElementKey)
	}
	for _, t := range d.ValueThresholds {
		add(t.DataElement.DataElementKey)
	}
	return out
}
