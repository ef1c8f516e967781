package manifest

import (
	"encoding/json"
	"sort"
	"strings"
)

// ReformatOptions control canonicalization.
type ReformatOptions struct {
	// ByUID sorts records by uid instead of the default case-insensitive
	// name order (uid remains the tie-break either way).
	ByUID bool
}

// Reformat returns a canonicalized copy of the manifest: string fields
// trimmed, updated_time renormalized when parseable, records sorted. The
// input is not mutated. Key order within a record is fixed by MarshalJSON.
func Reformat(records []AppRecord, opts ReformatOptions) []AppRecord {
	out := make([]AppRecord, len(records))
	for i, rec := range records {
		cp := rec
		cp.Name = strings.TrimSpace(rec.Name)
		cp.AppID = strings.TrimSpace(rec.AppID)
		cp.Version = strings.TrimSpace(rec.Version)
		cp.UpdatedTime = strings.TrimSpace(rec.UpdatedTime)
		if t, err := ParseTime(cp.UpdatedTime); err == nil {
			cp.UpdatedTime = FormatTime(t)
		}
		if len(rec.Extra) > 0 {
			cp.Extra = make(map[string]json.RawMessage, len(rec.Extra))
			for k, v := range rec.Extra {
				cp.Extra[k] = v
			}
		}
		out[i] = cp
	}

	sort.SliceStable(out, func(i, j int) bool {
		if opts.ByUID {
			if out[i].UID != out[j].UID {
				return out[i].UID < out[j].UID
			}
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].UID < out[j].UID
	})
	return out
}
