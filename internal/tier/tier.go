// Package tier classifies shell command strings into safety tiers (1-4) and
// derives the enforcement action for each. Tier 4 is a hard lockdown that no
// override or confirmation can lift.
package tier

import "strings"

// Action is the enforcement decision derived from a tier.
type Action string

const (
	ActionAutoRun     Action = "auto_run"
	ActionAutoCorrect Action = "auto_correct"
	ActionConfirm     Action = "confirm_then_run"
	ActionAIValidate  Action = "ai_validate"
	ActionLockdown    Action = "lockdown"
)

// Tier levels.
const (
	TierInstant  = 1.0
	TierSafe     = 2.0
	TierConfirm  = 2.5
	TierValidate = 3.0
	TierLockdown = 4.0
)

// Decision is the outcome of classifying one command.
type Decision struct {
	Tier       float64
	Action     Action
	Corrected  string  // set when a typo correction was found
	Confidence float64 // corrector confidence for the correction
}

// defaultTiers maps a command's leading verb to its default safety tier.
// Unknown verbs default to tier 3 (validation required).
var defaultTiers = map[string]float64{
	// Tier 1: instant execution, read-only navigation.
	"ls": 1, "cd": 1, "clear": 1, "cls": 1, "pwd": 1, "echo": 1, "cat": 1,
	"type": 1, "which": 1, "whoami": 1, "date": 1,
	// Tier 2: safe filters.
	"grep": 2, "head": 2, "tail": 2, "sort": 2, "uniq": 2, "wc": 2,
	// Tier 2.5: confirm before running.
	"find": 2.5, "sed": 2.5, "awk": 2.5, "xargs": 2.5,
	// Tier 3: state-changing, AI validation required.
	"cp": 3, "mv": 3, "git": 3, "npm": 3, "pip": 3, "go": 3, "make": 3,
	"mkdir": 3, "touch": 3, "chmod": 3, "chown": 3, "kill": 3, "reset": 3,
	// Tier 4: lockdown, never executed.
	"rm": 4, "del": 4, "format": 4, "dd": 4, "mkfs": 4, "shred": 4, "fdisk": 4,
}

// Validator classifies commands using the default table plus explicit user
// overrides. Overrides win over defaults, except that a default tier-4 verb
// can never be lowered below lockdown.
type Validator struct {
	overrides map[string]float64
	corrector *Corrector
}

// NewValidator builds a validator with the given override map. The map is
// passed explicitly so tests can substitute overrides without shared state.
func NewValidator(overrides map[string]float64) *Validator {
	normalized := make(map[string]float64, len(overrides))
	for verb, level := range overrides {
		normalized[strings.ToLower(strings.TrimSpace(verb))] = level
	}
	return &Validator{
		overrides: normalized,
		corrector: NewCorrector(knownVerbs()),
	}
}

// Decide classifies a command and returns its tier and enforcement action.
func (v *Validator) Decide(command string) Decision {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Decision{Tier: TierValidate, Action: ActionAIValidate}
	}
	verb := strings.ToLower(fields[0])

	if level, ok := v.lookup(verb); ok {
		return Decision{Tier: level, Action: actionFor(level)}
	}

	// Unknown verb: run the typo-correction step before falling back to
	// tier 3. A near match is treated as a tier-2 typo of the matched verb.
	if match, confidence := v.corrector.Correct(verb); match != "" {
		return v.decideCorrection(verb, match, confidence, command)
	}

	return Decision{Tier: TierValidate, Action: ActionAIValidate}
}

// lookup resolves a verb's tier from overrides then defaults, clamping
// default-lockdown verbs back to tier 4.
func (v *Validator) lookup(verb string) (float64, bool) {
	dflt, hasDefault := defaultTiers[verb]
	if hasDefault && dflt == TierLockdown {
		return TierLockdown, true
	}
	if override, ok := v.overrides[verb]; ok {
		return override, true
	}
	return dflt, hasDefault
}

// decideCorrection maps a typo correction to an action. The corrected verb's
// own tier clamps the outcome: a correction into a lockdown verb locks down,
// a correction into a tier>=3 verb always requires confirmation, and only
// corrections into tier<=2 verbs may auto-correct at high confidence.
func (v *Validator) decideCorrection(verb, match string, confidence float64, command string) Decision {
	corrected := match + strings.TrimPrefix(command, verb)
	targetTier, _ := v.lookup(match)

	if targetTier == TierLockdown {
		return Decision{Tier: TierLockdown, Action: ActionLockdown, Corrected: corrected, Confidence: confidence}
	}
	if targetTier >= TierValidate || confidence < AutoCorrectThreshold {
		return Decision{Tier: TierConfirm, Action: ActionConfirm, Corrected: corrected, Confidence: confidence}
	}
	return Decision{Tier: TierSafe, Action: ActionAutoCorrect, Corrected: corrected, Confidence: confidence}
}

func actionFor(level float64) Action {
	switch {
	case level <= TierSafe:
		return ActionAutoRun
	case level == TierConfirm:
		return ActionConfirm
	case level >= TierLockdown:
		return ActionLockdown
	default:
		return ActionAIValidate
	}
}

// DefaultTier reports the built-in tier for a verb, with ok=false for verbs
// not in the default table.
func DefaultTier(verb string) (float64, bool) {
	level, ok := defaultTiers[strings.ToLower(verb)]
	return level, ok
}

func knownVerbs() []string {
	verbs := make([]string, 0, len(defaultTiers))
	for verb := range defaultTiers {
		verbs = append(verbs, verb)
	}
	return verbs
}
