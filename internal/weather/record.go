package weather

import "github.com/abhinavp13/Ubiquitous/internal/datalayer"

// DefaultPath is the well-known logical path of the weather record.
const DefaultPath = "/wearable/weather"

// Record field names. They are part of the wire contract with deployed
// peers; renaming one requires bumping datalayer.SchemaVersion.
const (
	FieldConditionID = "weather_id"
	FieldMaxTemp     = "max_temp"
	FieldMinTemp     = "min_temp"
)

// Record serializes a complete snapshot into its key/value form.
func (s Snapshot) Record() datalayer.Record {
	return datalayer.NewRecord().
		PutInt(FieldConditionID, s.ConditionID).
		PutString(FieldMaxTemp, s.MaxTemp).
		PutString(FieldMinTemp, s.MinTemp)
}

// Fields is a possibly partial snapshot read back from a record.
// Nil means the field was missing from the record.
type Fields struct {
	ConditionID *int
	MaxTemp     *string
	MinTemp     *string
}

// FieldsFromRecord extracts whatever snapshot fields a record carries.
// Empty strings count as missing.
func FieldsFromRecord(rec datalayer.Record) Fields {
	var f Fields
	if id, ok := rec.Int(FieldConditionID); ok {
		f.ConditionID = &id
	}
	if v, ok := rec.String(FieldMaxTemp); ok && v != "" {
		f.MaxTemp = &v
	}
	if v, ok := rec.String(FieldMinTemp); ok && v != "" {
		f.MinTemp = &v
	}
	return f
}
