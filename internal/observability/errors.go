package observability

import (
	"errors"
	"fmt"
)

// JoinErrors drops nil entries, logs the remaining failures under operation,
// and returns them joined. It returns nil when nothing failed.
func JoinErrors(operation string, errs ...error) error {
	failed := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	messages := make([]string, len(failed))
	for i, err := range failed {
		messages[i] = err.Error()
	}
	Log().Error("operation errors",
		F("operation", operation),
		F("error_count", len(failed)),
		F("errors", messages),
	)
	return fmt.Errorf("%s failed: %w", operation, errors.Join(failed...))
}
