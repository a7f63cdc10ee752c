// Package renewal carries the prescription-renewal intake domain: the
// collected record shape, the tools the model can call during a session and
// the side-effecting integrations behind them.
package renewal

import (
	"fmt"
	"strings"

	"github.com/vango-go/renewvoice/pkg/live"
)

// Canonical record field names. Required fields must be present and
// non-empty before a renewal request is accepted.
const (
	FieldPatientName  = "patient_name"
	FieldDateOfBirth  = "date_of_birth"
	FieldMedication   = "medication"
	FieldDosage       = "dosage"
	FieldPrescriber   = "prescriber"
	FieldPharmacy     = "pharmacy"
	FieldContactPhone = "contact_phone"
	FieldContactEmail = "contact_email"
	FieldNotes        = "notes"
)

var requiredFields = []string{
	FieldPatientName,
	FieldDateOfBirth,
	FieldMedication,
	FieldDosage,
	FieldPrescriber,
	FieldPharmacy,
	FieldContactPhone,
}

var optionalFields = []string{
	FieldContactEmail,
	FieldNotes,
}

// BuildRecord validates raw tool arguments and assembles the intake record.
// Arguments arrive as decoded JSON, so values are coerced to strings
// defensively; a missing or blank required field is a validation error.
func BuildRecord(args map[string]any) (live.CollectedRecord, error) {
	rec := make(live.CollectedRecord, len(requiredFields)+len(optionalFields))

	var missing []string
	for _, field := range requiredFields {
		v := stringArg(args, field)
		if v == "" {
			missing = append(missing, field)
			continue
		}
		rec[field] = v
	}
	if len(missing) > 0 {
		return nil, live.NewValidationError(
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	for _, field := range optionalFields {
		if v := stringArg(args, field); v != "" {
			rec[field] = v
		}
	}
	return rec, nil
}

// stringArg extracts a trimmed string from decoded JSON arguments. Numbers
// are rendered rather than rejected; the model occasionally sends a numeric
// dosage or phone value.
func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}
