// Package classify inspects raw input lines and routes them to one of the
// four command kinds: meta-command, device-routed command, natural-language
// query, or plain shell command. It performs no I/O.
package classify

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category assigned to an input line.
type Kind string

const (
	KindMeta            Kind = "meta"
	KindDeviceRouted    Kind = "device_routed"
	KindNaturalLanguage Kind = "natural_language"
	KindShell           Kind = "shell"
)

// Markers recognized at the start of an input line.
const (
	MetaMarker    = "/"
	DeviceMarker  = "!"
	NaturalPrefix = "isaac"
)

// Mode distinguishes externally reachable sessions from the operator's own
// terminal. Internal-only triggers are rejected in external mode.
type Mode string

const (
	ModeExternal Mode = "external"
	ModeInternal Mode = "internal"
)

// Internal-only meta triggers. The forced-execution bypass must never be
// reachable from an external session.
var internalOnlyTriggers = map[string]struct{}{
	"f":     {},
	"force": {},
}

// Classification is the immutable routing decision for one input line.
type Classification struct {
	Kind              Kind
	NormalizedCommand string
	Trigger           string // meta kind only, without the marker
	TargetDevice      string // device_routed kind only
}

var (
	// ErrForceExternal is returned when an internal-only trigger arrives on
	// an external session.
	ErrForceExternal = errors.New("forced execution is not authorized in external mode")
)

// ParseError reports malformed device-routing syntax. It is the only parse
// failure the classifier can produce.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

// Classify categorizes one line of raw input. The rules apply in order:
// meta marker, device-routing marker, natural-language prefix, then shell.
func Classify(line string, mode Mode) (Classification, error) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, MetaMarker) {
		rest := strings.TrimPrefix(trimmed, MetaMarker)
		trigger := rest
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			trigger = rest[:i]
		}
		trigger = strings.ToLower(trigger)
		if _, internal := internalOnlyTriggers[trigger]; internal && mode != ModeInternal {
			return Classification{}, ErrForceExternal
		}
		return Classification{
			Kind:              KindMeta,
			NormalizedCommand: trimmed,
			Trigger:           trigger,
		}, nil
	}

	if strings.HasPrefix(trimmed, DeviceMarker) {
		parts := strings.SplitN(strings.TrimPrefix(trimmed, DeviceMarker), " ", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return Classification{}, &ParseError{
				Input:  trimmed,
				Reason: "usage: !device_alias command",
			}
		}
		return Classification{
			Kind:              KindDeviceRouted,
			NormalizedCommand: strings.TrimSpace(parts[1]),
			TargetDevice:      strings.TrimSpace(parts[0]),
		}, nil
	}

	if isNaturalLanguage(trimmed) {
		query := strings.TrimSpace(strings.TrimPrefix(trimmed[len(NaturalPrefix):], ":"))
		return Classification{
			Kind:              KindNaturalLanguage,
			NormalizedCommand: query,
		}, nil
	}

	return Classification{
		Kind:              KindShell,
		NormalizedCommand: trimmed,
	}, nil
}

// isNaturalLanguage matches the reserved leading keyword followed by a query
// ("isaac how do I ..."). A bare "isaac" is treated as shell input.
func isNaturalLanguage(line string) bool {
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, NaturalPrefix) {
		return false
	}
	rest := line[len(NaturalPrefix):]
	return len(rest) > 0 && (rest[0] == ' ' || rest[0] == ':') && strings.TrimSpace(rest[1:]) != ""
}
