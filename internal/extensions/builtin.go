// Package extensions lists the extensions compiled into venue binaries.
package extensions

import (
	"github.com/louisbranch/venue/internal/extension"
	"github.com/louisbranch/venue/internal/extensions/greeter"
)

// NewCatalog returns a catalog holding every built-in extension.
func NewCatalog() (*extension.Catalog, error) {
	catalog := extension.NewCatalog()
	for _, register := range []func(*extension.Catalog) error{
		greeter.Register,
	} {
		if err := register(catalog); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
