package cascade

import (
	"github.com/jordanhubbard/cascade/complexity"
	"github.com/jordanhubbard/cascade/provider"
)

// RouteTarget is the pre-router outcome.
type RouteTarget string

const (
	TargetDrafter  RouteTarget = "direct-to-drafter"
	TargetVerifier RouteTarget = "direct-to-verifier"
	TargetCascade  RouteTarget = "cascade"
	TargetReject   RouteTarget = "reject"
)

// routeDecision carries the target plus the rationale for tracing.
type routeDecision struct {
	Target RouteTarget
	Reason string
}

// preRoute evaluates the decision table in order, before any model call.
// Guardrail rejection is handled by the caller ahead of this table (a
// rejected request never reaches routing), so the table starts at the
// force-direct rule.
func (a *Agent) preRoute(verdict complexity.Verdict, opts RequestOptions) routeDecision {
	if opts.ForceDirect {
		return routeDecision{TargetVerifier, "forced-direct"}
	}
	if a.single {
		return routeDecision{TargetDrafter, "single-model"}
	}
	if a.cfg.PreRouter.SkipDrafterForHard && verdict.Level.Rank() >= complexity.Hard.Rank() {
		return routeDecision{TargetVerifier, "skip-drafter-for-" + string(verdict.Level)}
	}
	if a.cfg.PreRouter.SkipVerifierForTrivial && verdict.Level == complexity.Trivial {
		return routeDecision{TargetDrafter, "skip-verifier-for-trivial"}
	}
	if len(opts.Tools) > 0 && !a.drafter.Supports(provider.FeatureTools) {
		return routeDecision{TargetVerifier, "drafter-lacks-tools"}
	}
	return routeDecision{TargetCascade, "cascade"}
}
