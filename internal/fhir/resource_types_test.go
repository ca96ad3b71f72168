package fhir

import "testing"

func TestIsKnownResourceType(t *testing.T) {
	for _, known := range []string{"Patient", "Observation", "DocumentReference", "Encounter"} {
		if !IsKnownResourceType(known) {
			t.Errorf("%s should be known", known)
		}
	}
	for _, unknown := range []string{"glarb", "patient", "", "metadata"} {
		if IsKnownResourceType(unknown) {
			t.Errorf("%q should not be known", unknown)
		}
	}
}

func TestPatientSearchParam(t *testing.T) {
	tests := []struct {
		resourceType string
		wantParam    string
		wantOK       bool
	}{
		{"Patient", "_id", true},
		{"Observation", "patient", true},
		{"Composition", "subject", true},
		{"Invoice", "subject", true},
		{"Practitioner", "", false},
		{"Organization", "", false},
	}
	for _, tt := range tests {
		param, ok := PatientSearchParam(tt.resourceType)
		if param != tt.wantParam || ok != tt.wantOK {
			t.Errorf("PatientSearchParam(%s) = (%q, %v), want (%q, %v)",
				tt.resourceType, param, ok, tt.wantParam, tt.wantOK)
		}
	}
}
