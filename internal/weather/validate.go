package weather

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrIncompleteSnapshot is returned for snapshots that are partially filled or empty.
var ErrIncompleteSnapshot = errors.New("incomplete weather snapshot")

var validate = validator.New()

// Validate enforces the all-or-nothing invariant of a snapshot.
func (s Snapshot) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrIncompleteSnapshot, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: missing or invalid %s", ErrIncompleteSnapshot, strings.Join(fields, ", "))
}
