package catalog

import (
	"errors"
	"fmt"
)

// Validate checks an [Entry] for required fields and valid types.
//
// Rules:
//   - Name must be non-empty.
//   - Type must be a recognised [EntryType].
//   - Aliases must be non-empty strings.
//   - Track and album entries should name their artist; a missing artist is
//     not an error, but an empty alias is.
func Validate(entry Entry) error {
	var errs []error

	if entry.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}

	if !entry.Type.IsValid() {
		errs = append(errs, fmt.Errorf("type %q is not a recognised entry type", entry.Type))
	}

	for i, alias := range entry.Aliases {
		if alias == "" {
			errs = append(errs, fmt.Errorf("alias[%d]: must not be empty", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
