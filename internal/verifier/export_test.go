package verifier

import "github.com/echoproof/echo/internal/proof"

// PanicInPhases makes every verification panic with v until restore is called.
func PanicInPhases(v any) (restore func()) {
	prev := runPhases
	runPhases = func(*proof.Bundle, []File) *Report { panic(v) }
	return func() { runPhases = prev }
}
