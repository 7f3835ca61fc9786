package message

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Validate checks a decoded request body against its `validate` struct
// tags before the router hands it to a handler, e.g. rejecting an empty
// type full-name on a `type` request rather than surfacing a confusing
// resolution error downstream.
func Validate(v any) error {
	return validate.Struct(v)
}
