// Package classifier declares the integration seam for the out-of-scope
// machine-learning contextual classifier: feature extraction from /proc,
// fastText prediction, and a netlink proc-event listener. Its only
// contract to the core is "submit a synthetic Tune/Untune on behalf of
// PID X with signal S"; no implementation ships in this repository.
package classifier

// Feed is the seam pkg/tunerd plugs a classifier implementation into.
type Feed interface {
	SubmitSynthetic(pid int32, signal string) error
}
