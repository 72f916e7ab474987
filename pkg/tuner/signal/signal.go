// Package signal declares the integration seam for the out-of-scope
// Signal layer: a preprocessor that expands a symbolic signal into a set
// of Resource+Value pairs before they become a Request. No implementation
// ships in this repository; the YAML-driven expansion logic is explicitly
// out of scope.
package signal

import "github.com/resourcetuner/resourcetuner/pkg/tuner/request"

// Expander turns a symbolic signal name into the resource triples a Tune
// request for that signal should carry.
type Expander interface {
	Expand(symbol string) ([]request.Triple, error)
}
