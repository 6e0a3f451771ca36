package query

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"
)

// ErrInvalidKey is returned when a key column holds a value that cannot be matched
var ErrInvalidKey = errors.New("invalid key value")

// KeyString normalizes a key value so ids of different driver types
// compare equal. Booleans and composite values are rejected.
func KeyString(v interface{}) (string, error) {
	switch v.(type) {
	case nil, bool, map[string]interface{}, []interface{}:
		return "", fmt.Errorf("%w: %T", ErrInvalidKey, v)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %T", ErrInvalidKey, v)
	}
	return s, nil
}
