package import_feature

import (
	"fmt"
	"regexp"
	"time"

	"go-assettrack/internal/models"

	"github.com/d5/tengo/v2"
)

const (
	maxNameLength      = 255
	maxFieldLength     = 1024
	maxMetaKeyLength   = 64
	maxMetaFields      = 50
	earliestAcquiredAt = "1900-01-01"
)

var (
	codePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{2,64}$`)
	tagPattern  = regexp.MustCompile(`^[A-Za-z0-9:-]{4,64}$`)

	acquiredAtLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		"02/01/2006",
		"2006-01-02 15:04:05",
	}
)

// RecordValidator checks a single parsed record against field, format and
// business rules. It performs no I/O and is safe to call concurrently for
// different records.
type RecordValidator struct {
	script string
}

// NewRecordValidator builds a validator. A non-empty script is a tengo
// program evaluated per record; it sees the record as a map named "record"
// and rejects the row by assigning a message to "reject".
func NewRecordValidator(script string) (*RecordValidator, error) {
	if script != "" {
		// Compile once up front so a broken script fails the job at start,
		// not half way through the file.
		if _, err := tengo.NewScript([]byte(script)).Compile(); err != nil {
			return nil, fmt.Errorf("invalid validation script: %w", err)
		}
	}
	return &RecordValidator{script: script}, nil
}

// Validate returns every rule violation found on the record. Entries flagged
// Warning are advisory and do not fail the row.
func (v *RecordValidator) Validate(rec *models.ImportRecord) []models.ImportError {
	var errs []models.ImportError

	addErr := func(field, value, message string) {
		errs = append(errs, models.ImportError{
			Row:      rec.Row,
			Field:    field,
			Value:    value,
			Category: models.ImportErrValidation,
			Message:  message,
		})
	}
	addWarn := func(field, value, message string) {
		errs = append(errs, models.ImportError{
			Row:      rec.Row,
			Field:    field,
			Value:    value,
			Category: models.ImportErrValidation,
			Message:  message,
			Warning:  true,
		})
	}

	if rec.Code == "" {
		addErr("code", "", "code is required")
	} else if !codePattern.MatchString(rec.Code) {
		addErr("code", rec.Code, "code must be 2-64 characters of letters, digits, dot, underscore or dash")
	}

	if rec.Tag == "" {
		addErr("tag", "", "tag is required")
	} else if !tagPattern.MatchString(rec.Tag) {
		addErr("tag", rec.Tag, "tag must be 4-64 characters of letters, digits, colon or dash")
	}

	if len(rec.Name) > maxNameLength {
		addErr("name", truncate(rec.Name, 64), fmt.Sprintf("name exceeds %d characters", maxNameLength))
	}

	if rec.Status != "" && !models.ValidAssetStatus(rec.Status) {
		addErr("status", rec.Status, "unknown status value")
	} else if rec.Status == "" {
		addWarn("status", "", "status missing, defaulting to in_storage")
	}

	if rec.Priority != "" && !models.ValidAssetPriority(rec.Priority) {
		addErr("priority", rec.Priority, "unknown priority value")
	}

	if rec.AcquiredAt != "" {
		if t, err := parseAcquiredAt(rec.AcquiredAt); err != nil {
			addErr("acquired_at", rec.AcquiredAt, "unparseable date")
		} else {
			earliest, _ := time.Parse("2006-01-02", earliestAcquiredAt)
			if t.Before(earliest) || t.After(time.Now().AddDate(1, 0, 0)) {
				addErr("acquired_at", rec.AcquiredAt, "date outside plausible window")
			}
		}
	}

	if len(rec.Extra) > maxMetaFields {
		addErr("metadata", "", fmt.Sprintf("more than %d extra columns", maxMetaFields))
	}
	for _, mf := range rec.Extra {
		if mf.Key == "" {
			addErr("metadata", truncate(mf.Value, 64), "metadata column without a header")
		} else if len(mf.Key) > maxMetaKeyLength {
			addErr("metadata", truncate(mf.Key, 64), fmt.Sprintf("metadata key exceeds %d characters", maxMetaKeyLength))
		}
		if len(mf.Value) > maxFieldLength {
			addErr(mf.Key, truncate(mf.Value, 64), fmt.Sprintf("value exceeds %d characters", maxFieldLength))
		}
	}

	if v.script != "" {
		if scriptErr := v.runScript(rec); scriptErr != nil {
			errs = append(errs, *scriptErr)
		}
	}

	return errs
}

func (v *RecordValidator) runScript(rec *models.ImportRecord) *models.ImportError {
	script := tengo.NewScript([]byte(v.script))

	script.Add("record", recordToMap(rec))
	script.Add("reject", "")

	compiled, err := script.Run()
	if err != nil {
		return &models.ImportError{
			Row:      rec.Row,
			Field:    "script",
			Category: models.ImportErrValidation,
			Message:  fmt.Sprintf("validation script failed: %v", err),
		}
	}

	if reject := compiled.Get("reject").String(); reject != "" {
		return &models.ImportError{
			Row:      rec.Row,
			Field:    "script",
			Category: models.ImportErrValidation,
			Message:  reject,
		}
	}

	return nil
}

func recordToMap(rec *models.ImportRecord) map[string]interface{} {
	extra := make(map[string]interface{}, len(rec.Extra))
	for _, mf := range rec.Extra {
		extra[mf.Key] = mf.Value
	}

	return map[string]interface{}{
		"row":         rec.Row,
		"code":        rec.Code,
		"tag":         rec.Tag,
		"name":        rec.Name,
		"status":      rec.Status,
		"priority":    rec.Priority,
		"location":    rec.Location,
		"custodian":   rec.Custodian,
		"acquired_at": rec.AcquiredAt,
		"extra":       extra,
	}
}

func parseAcquiredAt(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range acquiredAtLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// HasBlockingError reports whether any entry is a hard failure (not a warning).
func HasBlockingError(errs []models.ImportError) bool {
	for _, e := range errs {
		if !e.Warning {
			return true
		}
	}
	return false
}
