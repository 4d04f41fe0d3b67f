package dsb

import "time"

type Patient struct {
	Line          int
	Key           string
	FirstName     string
	LastName      string
	DOB           *time.Time
	Language      string
	MaritalStatus string
	Race          string
	Gender        string
	// Problems lists cells that could not be parsed.
	Problems []string
}

type Encounter struct {
	Line                 int
	Key                  string
	PatientKey           string
	ProviderKey          string
	Start                *time.Time
	End                  *time.Time
	Type                 string
	DischargeDisposition string
	// Problems lists cells that could not be parsed.
	Problems []string
}

type Provider struct {
	Line      int
	Key       string
	FirstName string
	LastName  string
}

// CodedEvent is a CPT, ICD9 or medication row.
type CodedEvent struct {
	Line         int
	Key          string
	EncounterKey string
	Timestamp    *time.Time
	EntityID     string
	// Rank is set for diagnosis codes only.
	Rank string
	// Problems lists cells that could not be parsed.
	Problems []string
}

// Observation is a lab or vital sign row.
type Observation struct {
	Line         int
	Key          string
	EncounterKey string
	Timestamp    *time.Time
	EntityID     string
	Result       string
	Units        string
	Flag         string
	// Problems lists cells that could not be parsed.
	Problems []string
}

// Sheet names as they appear in uploaded workbooks.
const (
	SheetPatients       = "patients"
	SheetEncounters     = "encounters"
	SheetProviders      = "providers"
	SheetCPT            = "cpt"
	SheetICD9Diagnoses  = "icd9d"
	SheetICD9Procedures = "icd9p"
	SheetMedications    = "meds"
	SheetLabs           = "labs"
	SheetVitals         = "vitals"
	timestampLayout     = "2006-01-02 15:04:05"
	dateLayout          = "2006-01-02"
)

// DataProvider exposes the rows of one uploaded data file.
type DataProvider interface {
	Name() string
	URI() string
	Patients() ([]Patient, error)
	Encounters() ([]Encounter, error)
	Providers() ([]Provider, error)
	CPTCodes() ([]CodedEvent, error)
	ICD9Diagnoses() ([]CodedEvent, error)
	ICD9Procedures() ([]CodedEvent, error)
	Medications() ([]CodedEvent, error)
	Labs() ([]Observation, error)
	Vitals() ([]Observation, error)
	Close() error
}
