package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Canonical field order on disk. Unknown fields follow, sorted by key.
var knownFields = []string{"name", "uid", "appid", "updated_time", "version"}

// AppRecord is one tracked app. Fields the tool does not interpret are
// preserved in Extra so third-party additions survive a rewrite.
type AppRecord struct {
	Name        string
	UID         int
	AppID       string
	Version     string
	UpdatedTime string
	Extra       map[string]json.RawMessage

	// Raw values of known fields that failed to decode, kept so a record
	// classified invalid still round-trips byte-for-byte.
	rawBad map[string]json.RawMessage
}

// BadField reports whether a known field was present but not decodable.
func (r *AppRecord) BadField(key string) bool {
	_, ok := r.rawBad[key]
	return ok
}

func (r *AppRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("record is not an object: %w", err)
	}
	*r = AppRecord{}
	take := func(key string, dst any) {
		val, ok := raw[key]
		if !ok {
			return
		}
		delete(raw, key)
		if err := json.Unmarshal(val, dst); err != nil {
			if r.rawBad == nil {
				r.rawBad = map[string]json.RawMessage{}
			}
			r.rawBad[key] = val
		}
	}
	take("name", &r.Name)
	take("uid", &r.UID)
	take("appid", &r.AppID)
	take("version", &r.Version)
	take("updated_time", &r.UpdatedTime)
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

func (r AppRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	emit := func(key string, val any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(v)
		return nil
	}
	emitKnown := func(key string, val any, skip bool) error {
		if raw, ok := r.rawBad[key]; ok {
			return emit(key, json.RawMessage(raw))
		}
		if skip {
			return nil
		}
		return emit(key, val)
	}
	if err := emitKnown("name", r.Name, r.Name == ""); err != nil {
		return nil, err
	}
	if err := emitKnown("uid", r.UID, r.UID == 0); err != nil {
		return nil, err
	}
	if err := emitKnown("appid", r.AppID, r.AppID == ""); err != nil {
		return nil, err
	}
	if err := emitKnown("updated_time", r.UpdatedTime, r.UpdatedTime == ""); err != nil {
		return nil, err
	}
	if err := emitKnown("version", r.Version, r.Version == ""); err != nil {
		return nil, err
	}
	extraKeys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if err := emit(k, json.RawMessage(r.Extra[k])); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// timeLayout is the canonical updated_time form: ISO-8601 with an explicit
// numeric UTC offset, matching what the manifest has always carried.
const timeLayout = "2006-01-02T15:04:05-07:00"

var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
}

// ParseTime parses an updated_time value, requiring a timezone offset.
func ParseTime(value string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timezone-aware ISO-8601 timestamp: %q", value)
}

// FormatTime renders a timestamp in the canonical manifest form.
func FormatTime(t time.Time) string {
	return t.Format(timeLayout)
}
