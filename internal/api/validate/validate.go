package validate

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/server/internal/model"
)

// Message and owner ids come from the upstream messaging service and are
// opaque here; we only bound the character set and length.
var refRx = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// UUID validates a path id produced by this service.
func UUID(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := uuid.Parse(v); err != nil {
		return fmt.Errorf("%s must be a UUID", field)
	}
	return nil
}

// Ref validates an external reference such as a message or owner id.
func Ref(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !refRx.MatchString(v) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}

// TriggerKind validates the trigger kind string from a request body.
func TriggerKind(v string) error {
	if v == "" {
		return fmt.Errorf("kind is required")
	}
	if !model.TriggerKind(v).Valid() {
		return fmt.Errorf("unknown trigger kind %q", v)
	}
	return nil
}

// EntryStatus parses a status query parameter.
func EntryStatus(v string) (model.EntryStatus, error) {
	switch s := model.EntryStatus(v); s {
	case model.StatusPending, model.StatusProcessing, model.StatusSent, model.StatusFailed, model.StatusObsolete:
		return s, nil
	}
	return "", fmt.Errorf("unknown entry status %q", v)
}

// LeadTimes bounds the reminder offsets: positive minutes, at most 10 of them.
func LeadTimes(v []int) error {
	if len(v) > 10 {
		return fmt.Errorf("at most 10 reminder lead times")
	}
	for _, m := range v {
		if m <= 0 {
			return fmt.Errorf("reminder lead times must be positive minutes")
		}
	}
	return nil
}
