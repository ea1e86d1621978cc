// Package validate exposes a shared struct validator.
package validate

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

// Validate returns the process-wide validator instance.
func Validate() *validator.Validate {
	once.Do(func() {
		v = validator.New()
	})
	return v
}
