package renewal

import (
	"strings"
	"testing"

	"github.com/vango-go/renewvoice/pkg/live"
)

func fullArgs() map[string]any {
	return map[string]any{
		FieldPatientName:  "Ada Lovelace",
		FieldDateOfBirth:  "1815-12-10",
		FieldMedication:   "metformin",
		FieldDosage:       "500mg twice daily",
		FieldPrescriber:   "Dr. Byron",
		FieldPharmacy:     "Corner Pharmacy, Elm St",
		FieldContactPhone: "555-0100",
	}
}

func TestBuildRecord_Complete(t *testing.T) {
	args := fullArgs()
	args[FieldContactEmail] = "ada@example.com"
	args[FieldNotes] = "prefers morning pickup"

	rec, err := BuildRecord(args)
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}

	for key, want := range args {
		if got := rec[key]; got != want {
			t.Errorf("rec[%q] = %q, want %q", key, got, want)
		}
	}
}

func TestBuildRecord_MissingRequired(t *testing.T) {
	args := fullArgs()
	delete(args, FieldMedication)
	args[FieldContactPhone] = "   " // whitespace counts as missing

	_, err := BuildRecord(args)
	if err == nil {
		t.Fatal("BuildRecord accepted incomplete args")
	}
	if !live.IsType(err, live.ErrValidation) {
		t.Fatalf("error = %v, want %s", err, live.ErrValidation)
	}
	msg := err.Error()
	if !strings.Contains(msg, FieldMedication) || !strings.Contains(msg, FieldContactPhone) {
		t.Errorf("error %q should name both missing fields", msg)
	}
}

func TestBuildRecord_OptionalOmitted(t *testing.T) {
	rec, err := BuildRecord(fullArgs())
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if _, ok := rec[FieldContactEmail]; ok {
		t.Error("absent optional field should not appear in record")
	}
}

func TestBuildRecord_CoercesJSONValues(t *testing.T) {
	args := fullArgs()
	args[FieldDosage] = float64(500)     // model sent a bare number
	args[FieldContactPhone] = " 5550100" // and a padded string

	rec, err := BuildRecord(args)
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if rec[FieldDosage] != "500" {
		t.Errorf("dosage = %q, want 500", rec[FieldDosage])
	}
	if rec[FieldContactPhone] != "5550100" {
		t.Errorf("phone = %q, want trimmed value", rec[FieldContactPhone])
	}
}
