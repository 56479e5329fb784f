// Package stages holds the built-in verification gates and the adapter for
// gates served by remote agents.
package stages

import (
	"github.com/unburden/solvency/internal/pipeline"
	"github.com/unburden/solvency/internal/validate"
)

// Builtin returns every built-in gate. checker may be nil, in which case
// link_check is left out.
func Builtin(verifier *validate.Verifier, checker LinkChecker) []pipeline.Stage {
	out := []pipeline.Stage{
		NewFactCheck(verifier),
		NewCompliance(),
		NewSafety(),
		NewPetitionFunnel(),
		NewFundraisingEthics(),
		NewDesignReview(),
		NewDiagnostics(),
	}
	if checker != nil {
		out = append(out, NewLinkCheck(checker))
	}
	return out
}
