// Package blob turns deserialized legacy BLOB values into staging rows.
package blob

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joestump/menuca-migrate/internal/csvio"
)

// Decoder maps one deserialized BLOB value to zero or more output rows.
type Decoder interface {
	// Name is the registry key, e.g. "hide_on_days".
	Name() string
	// Columns names the output columns that follow the row key.
	Columns() []string
	// Decode returns rows of len(Columns()) cells. A *PartialError means
	// some entries were dropped but the rows are still usable.
	Decode(v any) ([][]string, error)
}

// RecordDecoder is a Decoder that also reads other columns of the CSV row
// holding the BLOB. Run calls DecodeRecord instead of Decode.
type RecordDecoder interface {
	Decoder
	DecodeRecord(v any, rec csvio.Record) ([][]string, error)
}

// RawDecoder is a Decoder for cells that are not PHP serialized. Run hands it
// the cell bytes, hex already decoded, instead of an unserialized value.
type RawDecoder interface {
	Decoder
	DecodeRaw(data []byte) ([][]string, error)
}

// PartialError lists entries a decoder skipped.
type PartialError struct {
	Issues []string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d entries skipped: %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// Registry maps decoder names to Decoder implementations.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry creates a Registry with all built-in decoders registered.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	r.Register(JSON{})
	r.Register(IDList{})
	r.Register(Weekdays{})
	r.Register(HideOnDays{})
	r.Register(ModifierPricing{})
	r.Register(ComboItems{})
	r.Register(ComboRules{})
	r.Register(ComboSteps{})
	r.Register(MenuOthers{})
	return r
}

// Register adds or replaces a decoder.
func (r *Registry) Register(d Decoder) {
	r.decoders[d.Name()] = d
}

// Resolve returns the decoder registered under name.
func (r *Registry) Resolve(name string) (Decoder, error) {
	d, ok := r.decoders[name]
	if !ok {
		return nil, fmt.Errorf("blob decoder %q is not registered (have %s)", name, strings.Join(r.Names(), ", "))
	}
	return d, nil
}

// Names returns the registered decoder names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.decoders))
	for n := range r.decoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
