package extensions

import (
	"reflect"
	"testing"
)

func TestNewCatalogListsBuiltins(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if got, want := catalog.Names(), []string{"gatekeeper", "greeter"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
}
