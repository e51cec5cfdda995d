package library

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkRecord validates a record crossing the store boundary in either direction.
func checkRecord(kind string, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, kind, err)
	}
	return nil
}
