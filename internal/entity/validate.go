package entity

import (
	"errors"
	"fmt"

	"github.com/MrWong99/photobox/pkg/types"
)

// Validate checks the attributes of a new entity of the given kind.
//
// Rules:
//   - Kind must be [types.KindSet] or [types.KindPix].
//   - The key attribute (name for a Set, filename for a Pix) must be a
//     non-empty string.
//   - Reserved Pix attributes must be convertible to their canonical types.
//
// All problems are reported together; every one of them matches
// [types.ErrInvalidAttribute].
func Validate(kind types.Kind, attrs types.Attributes) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: kind %q is not a recognised entity kind", types.ErrInvalidAttribute, kind)
	}

	var errs []error

	keyAttr := types.KeyAttribute(kind)
	switch v := attrs[keyAttr].(type) {
	case string:
		if v == "" {
			errs = append(errs, fmt.Errorf("%w: %s must not be empty", types.ErrInvalidAttribute, keyAttr))
		}
	case nil:
		errs = append(errs, fmt.Errorf("%w: %s is required", types.ErrInvalidAttribute, keyAttr))
	default:
		errs = append(errs, fmt.Errorf("%w: %s must be a string, got %T", types.ErrInvalidAttribute, keyAttr, v))
	}

	for key, v := range attrs {
		if key == keyAttr {
			continue
		}
		if _, err := types.NormalizeAttributes(types.Attributes{key: v}); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
