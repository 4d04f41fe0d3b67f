package dsb

import (
	"github.com/eureka/eureka/internal/platform/engine"
)

const (
	SchemaName   = "EUREKA"
	KeyIDTable   = "PATIENT"
	KeyIDColumn  = "PATIENT_KEY"
	KeyIDJoinKey = "PATIENT_KEY"

	KeyType            = "Patient"
	KeyTypeDisplayName = "patient"

	DefaultRootFullName = "Eureka"
)

// RootFullNames name the encounter references to each event family.
type RootFullNames struct {
	Labs               string
	Vitals             string
	DiagnosisCodes     string
	MedicationOrders   string
	ICD9ProcedureCodes string
	CPTProcedureCodes  string
}

// DefaultRootFullNames returns every root full name set to Eureka.
func DefaultRootFullNames() RootFullNames {
	return RootFullNames{
		Labs:               DefaultRootFullName,
		Vitals:             DefaultRootFullName,
		DiagnosisCodes:     DefaultRootFullName,
		MedicationOrders:   DefaultRootFullName,
		ICD9ProcedureCodes: DefaultRootFullName,
		CPTProcedureCodes:  DefaultRootFullName,
	}
}

func rootOrDefault(s string) string {
	if s == "" {
		return DefaultRootFullName
	}
	return s
}

func keyBase() *ColumnSpec {
	return Column(SchemaName, KeyIDTable, KeyIDColumn)
}

// encounterChild is the chain PATIENT -> ENCOUNTER -> table.
func encounterChild(table string) *ColumnSpec {
	return keyBase().Joined(KeyIDJoinKey, "PATIENT_KEY",
		Table(SchemaName, "ENCOUNTER").Joined("ENCOUNTER_KEY", "ENCOUNTER_KEY", Table(SchemaName, table)))
}

func encounterRef(table string) *ColumnSpec {
	return Table(SchemaName, "ENCOUNTER").Joined("ENCOUNTER_KEY", "ENCOUNTER_KEY", Column(SchemaName, table, "EVENT_KEY"))
}

// EntitySpecs builds the relational mapping of the spreadsheet schema.
func EntitySpecs(mf *MappingsFactory, roots RootFullNames) ([]*EntitySpec, error) {
	get := func(names ...string) ([]*Mappings, error) {
		out := make([]*Mappings, len(names))
		for i, n := range names {
			m, err := mf.Get(n)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}
	ms, err := get(
		"gender_08172011.txt",
		"marital_status_08172011.txt",
		"language_08152012.txt",
		"race_08172011.txt",
		"ethnicity_08172011.txt",
		"type_encounter_08172011.txt",
		"disposition_discharge_08172011.txt",
		"icd9_diagnosis_position_07182011.txt",
		"icd9_diagnosis_08172011.txt",
		"icd9_procedure_08172011.txt",
		"cpt_procedure_08172011.txt",
		"meds_08182011.txt",
		"labs_08172011.txt",
		"vitals_result_types_08172011.txt",
	)
	if err != nil {
		return nil, err
	}
	gender, marital, language, race, ethnicity := ms[0], ms[1], ms[2], ms[3], ms[4]
	encType, discharge, dxPosition := ms[5], ms[6], ms[7]
	icd9Dx, icd9Px, cpt, meds, labs, vitals := ms[8], ms[9], ms[10], ms[11], ms[12], ms[13]

	patient := func(col string) *ColumnSpec { return Column(SchemaName, "PATIENT", col) }
	nominal := func(name string, c *ColumnSpec) *PropertySpec {
		return &PropertySpec{Name: name, Column: c, ValueType: ValueNominal}
	}

	specs := []*EntitySpec{
		{
			Name:           "Patients",
			PropositionIDs: []string{"Patient"},
			Type:           engine.TypeConstant,
			BaseSpec:       keyBase(),
			UniqueIDSpecs:  []*ColumnSpec{keyBase()},
			Properties: []*PropertySpec{
				nominal("patientId", patient("PATIENT_KEY")),
			},
		},
		{
			Name:           "Patient Details",
			PropositionIDs: []string{"PatientDetails"},
			Unique:         true,
			Type:           engine.TypeConstant,
			BaseSpec:       keyBase(),
			UniqueIDSpecs:  []*ColumnSpec{patient("PATIENT_KEY")},
			Properties: []*PropertySpec{
				{Name: "dateOfBirth", Column: patient("DOB"), ValueType: ValueDate},
				nominal("patientId", patient("PATIENT_KEY")),
				nominal("firstName", patient("FIRST_NAME")),
				nominal("lastName", patient("LAST_NAME")),
				nominal("gender", patient("GENDER").Mapped(gender, true)),
				nominal("maritalStatus", patient("MARITAL_STATUS").Mapped(marital, true)),
				nominal("language", patient("LANGUAGE").Mapped(language, true)),
				nominal("race", patient("RACE").Mapped(race, true)),
				nominal("ethnicity", patient("RACE").Mapped(ethnicity, true)),
			},
			References: []*ReferenceSpec{
				{
					Name:       "encounters",
					EntityName: "Encounters",
					Columns: []*ColumnSpec{
						Table(SchemaName, "PATIENT").Joined("PATIENT_KEY", "PATIENT_KEY", Column(SchemaName, "ENCOUNTER", "ENCOUNTER_KEY")),
					},
					Type: ReferenceMany,
				},
				{Name: "patient", EntityName: "Patients", Columns: []*ColumnSpec{patient("PATIENT_KEY")}, Type: ReferenceOne},
			},
		},
		{
			Name:           "Providers",
			PropositionIDs: []string{"Provider"},
			Type:           engine.TypeConstant,
			BaseSpec: keyBase().Joined("PATIENT_KEY", "PATIENT_KEY",
				Table(SchemaName, "ENCOUNTER").Joined("PROVIDER_KEY", "PROVIDER_KEY", Table(SchemaName, "PROVIDER"))),
			UniqueIDSpecs: []*ColumnSpec{Column(SchemaName, "PROVIDER", "PROVIDER_KEY")},
			Properties: []*PropertySpec{
				nominal("firstName", Column(SchemaName, "PROVIDER", "FIRST_NAME")),
				nominal("lastName", Column(SchemaName, "PROVIDER", "LAST_NAME")),
			},
		},
		{
			Name:           "Encounters",
			PropositionIDs: []string{"Encounter"},
			Unique:         true,
			Type:           engine.TypeEvent,
			BaseSpec:       keyBase().Joined("PATIENT_KEY", "PATIENT_KEY", Table(SchemaName, "ENCOUNTER")),
			UniqueIDSpecs:  []*ColumnSpec{Column(SchemaName, "ENCOUNTER", "ENCOUNTER_KEY")},
			StartTimeSpec:  Column(SchemaName, "ENCOUNTER", "TS_START"),
			FinishTimeSpec: Column(SchemaName, "ENCOUNTER", "TS_END"),
			Properties: []*PropertySpec{
				nominal("encounterId", Column(SchemaName, "ENCOUNTER", "ENCOUNTER_KEY")),
				nominal("type", Column(SchemaName, "ENCOUNTER", "ENCOUNTER_TYPE").Mapped(encType, true)),
				nominal("dischargeDisposition", Column(SchemaName, "ENCOUNTER", "DISCHARGE_DISP").Mapped(discharge, true)),
			},
			References: []*ReferenceSpec{
				{Name: rootOrDefault(roots.Labs), EntityName: "Labs", Columns: []*ColumnSpec{encounterRef("LABS_EVENT")}, Type: ReferenceMany},
				{Name: rootOrDefault(roots.Vitals), EntityName: "Vitals", Columns: []*ColumnSpec{encounterRef("VITALS_EVENT")}, Type: ReferenceMany},
				{Name: rootOrDefault(roots.DiagnosisCodes), EntityName: "Diagnosis Codes", Columns: []*ColumnSpec{encounterRef("ICD9D_EVENT")}, Type: ReferenceMany},
				{Name: rootOrDefault(roots.MedicationOrders), EntityName: "Medication Orders", Columns: []*ColumnSpec{encounterRef("MEDS_EVENT")}, Type: ReferenceMany},
				{Name: rootOrDefault(roots.ICD9ProcedureCodes), EntityName: "ICD9 Procedure Codes", Columns: []*ColumnSpec{encounterRef("ICD9P_EVENT")}, Type: ReferenceMany},
				{Name: rootOrDefault(roots.CPTProcedureCodes), EntityName: "CPT Procedure Codes", Columns: []*ColumnSpec{encounterRef("CPT_EVENT")}, Type: ReferenceMany},
				{Name: "provider", EntityName: "Providers", Columns: []*ColumnSpec{Column(SchemaName, "ENCOUNTER", "PROVIDER_KEY")}, Type: ReferenceOne},
				{Name: "patientDetails", EntityName: "Patient Details", Columns: []*ColumnSpec{Column(SchemaName, "ENCOUNTER", "PATIENT_KEY")}, Type: ReferenceOne},
			},
			Granularity: engine.Day,
		},
		codeEventSpec("Diagnosis Codes", "ICD9D_EVENT", icd9Dx,
			&PropertySpec{Name: "DXPRIORITY", Column: Column(SchemaName, "ICD9D_EVENT", "RANK").Mapped(dxPosition, false), ValueType: ValueNominal}),
		codeEventSpec("ICD9 Procedure Codes", "ICD9P_EVENT", icd9Px),
		codeEventSpec("CPT Procedure Codes", "CPT_EVENT", cpt),
		codeEventSpec("Medication Orders", "MEDS_EVENT", meds),
		observationSpec("Labs", "LABS_EVENT", labs, true),
		observationSpec("Vitals", "VITALS_EVENT", vitals, false),
	}
	return specs, nil
}

func codeEventSpec(name, table string, codes *Mappings, extra ...*PropertySpec) *EntitySpec {
	props := append([]*PropertySpec{
		{Name: "code", Column: Column(SchemaName, table, "ENTITY_ID"), ValueType: ValueNominal},
	}, extra...)
	return &EntitySpec{
		Name:           name,
		PropositionIDs: codes.Targets(),
		Unique:         true,
		Type:           engine.TypeEvent,
		BaseSpec:       encounterChild(table),
		UniqueIDSpecs:  []*ColumnSpec{Column(SchemaName, table, "EVENT_KEY")},
		StartTimeSpec:  Column(SchemaName, table, "TS_OBX"),
		Properties:     props,
		References: []*ReferenceSpec{
			{Name: "encounter", EntityName: "Encounters", Columns: []*ColumnSpec{Column(SchemaName, table, "ENCOUNTER_KEY")}, Type: ReferenceOne},
		},
		CodeSpec:    Column(SchemaName, table, "ENTITY_ID").Mapped(codes, true),
		Granularity: engine.Minute,
	}
}

func observationSpec(name, table string, codes *Mappings, withCode bool) *EntitySpec {
	var props []*PropertySpec
	if withCode {
		props = append(props, &PropertySpec{Name: "code", Column: Column(SchemaName, table, "ENTITY_ID"), ValueType: ValueNominal})
	}
	props = append(props,
		&PropertySpec{Name: "unitOfMeasure", Column: Column(SchemaName, table, "UNITS"), ValueType: ValueNominal},
		&PropertySpec{Name: "interpretation", Column: Column(SchemaName, table, "FLAG"), ValueType: ValueNominal},
	)
	return &EntitySpec{
		Name:           name,
		PropositionIDs: codes.Targets(),
		Unique:         true,
		Type:           engine.TypePrimitiveParameter,
		BaseSpec:       encounterChild(table),
		UniqueIDSpecs:  []*ColumnSpec{Column(SchemaName, table, "EVENT_KEY")},
		StartTimeSpec:  Column(SchemaName, table, "TS_OBX"),
		Properties:     props,
		References: []*ReferenceSpec{
			{Name: "encounter", EntityName: "Encounters", Columns: []*ColumnSpec{Column(SchemaName, table, "ENCOUNTER_KEY")}, Type: ReferenceOne},
		},
		CodeSpec:    Column(SchemaName, table, "ENTITY_ID").Mapped(codes, true),
		ValueSpec:   Column(SchemaName, table, "RESULT_STR"),
		ValueType:   ValueAny,
		Granularity: engine.Minute,
	}
}
