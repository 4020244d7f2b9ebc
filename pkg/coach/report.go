package coach

import (
	"strconv"
	"strings"
)

// StatusReportFromArgs builds a StatusReport from decoded tool-call
// arguments. The reasoning service declares integer and boolean parameter
// types but JSON decoding hands us float64s and occasionally stringly-typed
// values; this is a best-effort coercion that never fails. Garbage in yields
// a zeroed field, not an error.
func StatusReportFromArgs(args map[string]any) StatusReport {
	report := StatusReport{
		Exercise:      stringArg(args, "exercise_name"),
		Reps:          intArg(args, "current_reps"),
		DetectedError: stringArg(args, "detected_error"),
		Suggestion:    stringArg(args, "correction_suggestion"),
		GoodForm:      boolArg(args, "is_good_form"),
	}
	if strings.TrimSpace(report.Exercise) == "" {
		report.Exercise = IdleExercise
	}
	if report.Reps < 0 {
		report.Reps = 0
	}
	return report
}

func stringArg(args map[string]any, key string) string {
	value, ok := args[key].(string)
	if !ok {
		return ""
	}
	return value
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}
