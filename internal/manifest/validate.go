package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

// Permissive semantic-version shape; anything else is only a warning.
var versionPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)?([.-][A-Za-z0-9]+)?$`)

type RecordClass string

const (
	ClassValid   RecordClass = "valid"
	ClassWarning RecordClass = "warning"
	ClassInvalid RecordClass = "invalid"
)

// Issue is one finding against one record.
type Issue struct {
	Index   int    `json:"index"`
	UID     int    `json:"uid"`
	Level   string `json:"level"` // ERR or WARN
	Message string `json:"message"`
}

// ValidationResult carries per-record classifications plus aggregate counts.
type ValidationResult struct {
	Classes  []RecordClass `json:"classes"`
	Issues   []Issue       `json:"issues"`
	Valid    int           `json:"valid"`
	Warnings int           `json:"warnings"`
	Invalid  int           `json:"invalid"`
}

// Validate classifies every record. Data problems never fail the call;
// only a structurally broken document does, and that is caught at Load.
func Validate(records []AppRecord) ValidationResult {
	res := ValidationResult{Classes: make([]RecordClass, len(records))}
	seen := map[int]int{}

	for i := range records {
		rec := &records[i]
		var errs, warns []string

		switch {
		case rec.BadField("uid"):
			errs = append(errs, "malformed uid")
		case rec.UID == 0:
			errs = append(errs, "missing uid")
		default:
			if prev, dup := seen[rec.UID]; dup {
				errs = append(errs, fmt.Sprintf("duplicate uid (first at index %d)", prev))
			} else {
				seen[rec.UID] = i
			}
		}

		switch {
		case rec.BadField("version"):
			errs = append(errs, "malformed version")
		case strings.TrimSpace(rec.Version) == "":
			errs = append(errs, "empty version")
		case !versionPattern.MatchString(strings.TrimSpace(rec.Version)):
			warns = append(warns, fmt.Sprintf("unusual version string %q", rec.Version))
		}

		switch {
		case rec.BadField("updated_time"):
			errs = append(errs, "malformed updated_time")
		case rec.UpdatedTime == "":
			errs = append(errs, "missing updated_time")
		default:
			if _, err := ParseTime(rec.UpdatedTime); err != nil {
				errs = append(errs, "updated_time is not timezone-aware ISO-8601")
			}
		}

		if rec.BadField("name") {
			errs = append(errs, "malformed name")
		} else if strings.TrimSpace(rec.Name) == "" {
			warns = append(warns, "empty name")
		}
		if rec.BadField("appid") {
			errs = append(errs, "malformed appid")
		} else if strings.TrimSpace(rec.AppID) == "" {
			warns = append(warns, "empty appid")
		}

		class := ClassValid
		if len(warns) > 0 {
			class = ClassWarning
		}
		if len(errs) > 0 {
			class = ClassInvalid
		}
		res.Classes[i] = class
		switch class {
		case ClassValid:
			res.Valid++
		case ClassWarning:
			res.Warnings++
		case ClassInvalid:
			res.Invalid++
		}
		for _, msg := range errs {
			res.Issues = append(res.Issues, Issue{Index: i, UID: records[i].UID, Level: "ERR", Message: msg})
		}
		for _, msg := range warns {
			res.Issues = append(res.Issues, Issue{Index: i, UID: records[i].UID, Level: "WARN", Message: msg})
		}
	}
	return res
}
