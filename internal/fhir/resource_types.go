package fhir

// knownResourceTypes lists the FHIR R4 resource types the gateway recognizes
// in request paths. A path segment outside this set classifies as
// KindUnknownResourceType so the dispatcher can report it by name.
var knownResourceTypes = map[string]bool{
	"Patient": true, "Practitioner": true, "PractitionerRole": true,
	"Organization": true, "Location": true, "Encounter": true,
	"EpisodeOfCare": true, "Condition": true, "Observation": true,
	"AllergyIntolerance": true, "Procedure": true, "Immunization": true,
	"Medication": true, "MedicationRequest": true,
	"MedicationAdministration": true, "MedicationDispense": true,
	"MedicationStatement": true, "ServiceRequest": true,
	"DiagnosticReport": true, "ImagingStudy": true, "Specimen": true,
	"Appointment": true, "Schedule": true, "Slot": true,
	"Coverage": true, "Claim": true, "ClaimResponse": true,
	"Consent": true, "DocumentReference": true, "Composition": true,
	"Communication": true, "ResearchStudy": true, "ResearchSubject": true,
	"Questionnaire": true, "QuestionnaireResponse": true,
	"CareTeam": true, "CarePlan": true, "Goal": true,
	"FamilyMemberHistory": true, "RelatedPerson": true, "Person": true,
	"Device": true, "Provenance": true, "AuditEvent": true, "Task": true,
	"List": true, "Binary": true, "Flag": true, "Basic": true,
	"Bundle": true, "OperationOutcome": true, "CapabilityStatement": true,
	"StructureDefinition": true, "ValueSet": true, "CodeSystem": true,
	"Invoice": true, "Account": true, "HealthcareService": true,
	"NutritionOrder": true, "VisionPrescription": true, "Media": true,
	"Subscription": true, "MessageHeader": true, "Parameters": true,
}

// IsKnownResourceType reports whether name is a recognized FHIR resource type.
func IsKnownResourceType(name string) bool {
	return knownResourceTypes[name]
}

// patientSearchParams records, for resource types that sit in the patient
// compartment, which search parameter references the patient. Types that use
// "subject" instead of "patient" are listed explicitly; "Patient" itself is
// filtered on _id.
var patientSearchParams = map[string]string{
	"Patient":                  "_id",
	"AllergyIntolerance":       "patient",
	"CarePlan":                 "patient",
	"CareTeam":                 "patient",
	"Claim":                    "patient",
	"ClaimResponse":            "patient",
	"Communication":            "patient",
	"Composition":              "subject",
	"Condition":                "patient",
	"Consent":                  "patient",
	"Coverage":                 "patient",
	"DiagnosticReport":         "patient",
	"DocumentReference":        "patient",
	"Encounter":                "patient",
	"EpisodeOfCare":            "patient",
	"FamilyMemberHistory":      "patient",
	"Flag":                     "patient",
	"Goal":                     "patient",
	"ImagingStudy":             "patient",
	"Immunization":             "patient",
	"Invoice":                  "subject",
	"List":                     "patient",
	"Media":                    "patient",
	"MedicationAdministration": "patient",
	"MedicationDispense":       "patient",
	"MedicationRequest":        "patient",
	"MedicationStatement":      "patient",
	"NutritionOrder":           "patient",
	"Observation":              "patient",
	"Procedure":                "patient",
	"QuestionnaireResponse":    "patient",
	"RelatedPerson":            "patient",
	"ResearchSubject":          "patient",
	"ServiceRequest":           "patient",
	"Specimen":                 "patient",
	"Task":                     "patient",
	"VisionPrescription":       "patient",
}

// PatientSearchParam returns the search parameter used to constrain a search
// over resourceType to a single patient ("_id" for Patient, "patient" or
// "subject" elsewhere). The second return is false when the type declares no
// patient-linked parameter.
func PatientSearchParam(resourceType string) (string, bool) {
	p, ok := patientSearchParams[resourceType]
	return p, ok
}
