package feed

// RawRecord is one object from the feed. The feed has no contractual schema,
// so fields are read through accessors and only the ones riotsync consumes
// are ever looked at. A nil RawRecord stands for a non-object array element.
type RawRecord map[string]any

// Feed field names.
const (
	FieldIP          = "ip"
	FieldName        = "name"
	FieldCategory    = "category"
	FieldDescription = "description"
	FieldLastUpdated = "last_updated"
)

// String returns the field when it is present and a JSON string.
func (r RawRecord) String(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

// Value returns the field as decoded, nil when absent.
func (r RawRecord) Value(key string) any {
	return r[key]
}

// Has reports whether the field is present, even if null.
func (r RawRecord) Has(key string) bool {
	_, ok := r[key]
	return ok
}
