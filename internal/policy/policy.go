// Package policy evaluates a user-supplied expression against a computed
// digest's Stats and metadata to decide whether to allow, flag or
// quarantine a message. Policies are data (an expression string), not
// compiled Go, so they can be changed without a rebuild — the same
// motivation that leads the rest of the ecosystem to reach for
// github.com/expr-lang/expr for this shape of problem.
package policy

import (
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/go-pyzor/pyzordigest"
)

// Verdict is the outcome of evaluating a Policy against one digest.
type Verdict string

const (
	VerdictAllow      Verdict = "allow"
	VerdictFlag       Verdict = "flag"
	VerdictQuarantine Verdict = "quarantine"
)

// Env is the set of fields a policy expression can reference.
type Env struct {
	Digest string `expr:"digest"`
	Lines  int    `expr:"lines"`
	Stats  Stats  `expr:"stats"`
}

// Stats exposes pyzordigest.Stats to policy expressions via a Has(name)
// method, since expr-lang operates on exported methods/fields rather than
// the bit-shift arithmetic pyzordigest.Stats.Has expects a Stat constant
// for.
type Stats pyzordigest.Stats

func (s Stats) Has(name string) bool {
	flag, ok := statsByName[name]
	if !ok {
		return false
	}
	return pyzordigest.Stats(s).Has(flag)
}

var statsByName = map[string]pyzordigest.Stat{
	"LineCommitted":        pyzordigest.StatLineCommitted,
	"ShortLineDropped":     pyzordigest.StatShortLineDropped,
	"LongTokenDropped":     pyzordigest.StatLongTokenDropped,
	"AddressSuppressed":    pyzordigest.StatAddressSuppressed,
	"HTMLStripped":         pyzordigest.StatHTMLStripped,
	"UnclosedTagTruncated": pyzordigest.StatUnclosedTagTruncated,
	"Scrubbed":             pyzordigest.StatScrubbed,
	"EndOfPart":            pyzordigest.StatEndOfPart,
}

// Policy is a compiled expr-lang program that must evaluate to one of
// "allow", "flag" or "quarantine".
type Policy struct {
	program *vm.Program
}

// Compile parses a policy expression, e.g.:
//
//	stats.Has("AddressSuppressed") && lines < 5 ? "flag" : "allow"
func Compile(source string) (*Policy, error) {
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsKind(reflect.String))
	if err != nil {
		return nil, fmt.Errorf("policy: compiling expression: %w", err)
	}
	return &Policy{program: program}, nil
}

// Evaluate runs the policy against one digest's environment.
func (p *Policy) Evaluate(env Env) (Verdict, error) {
	out, err := expr.Run(p.program, env)
	if err != nil {
		return "", fmt.Errorf("policy: evaluating expression: %w", err)
	}
	s, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("policy: expression returned %T, want string", out)
	}
	switch Verdict(s) {
	case VerdictAllow, VerdictFlag, VerdictQuarantine:
		return Verdict(s), nil
	default:
		return "", fmt.Errorf("policy: unrecognized verdict %q", s)
	}
}
