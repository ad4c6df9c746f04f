package domain

// RawRecord is an applicant record as submitted by a partner, keyed by the
// partner's own field names.
type RawRecord map[string]any

// CanonicalRecord is an applicant record keyed by canonical variable ids,
// produced by the field mapper.
type CanonicalRecord map[string]any

// Clone returns a shallow copy of the record.
func (r CanonicalRecord) Clone() CanonicalRecord {
	out := make(CanonicalRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
