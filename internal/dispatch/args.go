package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cnc-n3r4/isaac/internal/manifest"
)

// SplitArgs tokenizes a command line, honoring single and double quotes.
// Quotes group words; they do not survive into the tokens.
func SplitArgs(line string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	var quote rune
	inToken := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %q quote", quote)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// ArgError describes a rejected argument.
type ArgError struct {
	Arg    string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Arg, e.Reason)
}

// ParseArgs binds command-line tokens to a manifest's declared arguments.
// Flags come as --name value or --name=value; bool flags need no value.
// Remaining positional tokens fill declared args in manifest order.
func ParseArgs(m *manifest.Manifest, tokens []string) (map[string]any, error) {
	decls := map[string]manifest.Arg{}
	for _, a := range m.Args {
		decls[a.Name] = a
	}

	values := map[string]any{}
	var positional []string

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if !strings.HasPrefix(tok, "--") {
			positional = append(positional, tok)
			continue
		}
		name := strings.TrimPrefix(tok, "--")
		var raw string
		var hasValue bool
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			raw = name[eq+1:]
			name = name[:eq]
			hasValue = true
		}
		decl, ok := decls[name]
		if !ok {
			return nil, &ArgError{Arg: name, Reason: "not declared by plugin"}
		}
		if !hasValue {
			if decl.Type == "bool" {
				values[name] = true
				continue
			}
			if i+1 >= len(tokens) {
				return nil, &ArgError{Arg: name, Reason: "missing value"}
			}
			i++
			raw = tokens[i]
		}
		v, err := convertArg(decl, raw)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}

	// Positional tokens fill declared args in order, skipping any already
	// bound by flag.
	pi := 0
	for _, decl := range m.Args {
		if pi >= len(positional) {
			break
		}
		if _, bound := values[decl.Name]; bound {
			continue
		}
		v, err := convertArg(decl, positional[pi])
		if err != nil {
			return nil, err
		}
		values[decl.Name] = v
		pi++
	}
	if pi < len(positional) {
		return nil, &ArgError{Arg: positional[pi], Reason: "unexpected positional argument"}
	}

	for _, decl := range m.Args {
		if decl.Required {
			if _, ok := values[decl.Name]; !ok {
				return nil, &ArgError{Arg: decl.Name, Reason: "required argument missing"}
			}
		}
	}
	return values, nil
}

func convertArg(decl manifest.Arg, raw string) (any, error) {
	switch decl.Type {
	case "string", "":
		if decl.Pattern != "" {
			re, err := regexp.Compile(decl.Pattern)
			if err != nil {
				return nil, &ArgError{Arg: decl.Name, Reason: "manifest pattern does not compile"}
			}
			if !re.MatchString(raw) {
				return nil, &ArgError{Arg: decl.Name, Reason: fmt.Sprintf("value %q does not match pattern %s", raw, decl.Pattern)}
			}
		}
		return raw, nil
	case "int":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &ArgError{Arg: decl.Name, Reason: fmt.Sprintf("value %q is not an integer", raw)}
		}
		return n, nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &ArgError{Arg: decl.Name, Reason: fmt.Sprintf("value %q is not a boolean", raw)}
		}
		return b, nil
	case "enum":
		for _, allowed := range decl.Enum {
			if raw == allowed {
				return raw, nil
			}
		}
		return nil, &ArgError{Arg: decl.Name, Reason: fmt.Sprintf("value %q not in %v", raw, decl.Enum)}
	default:
		return nil, &ArgError{Arg: decl.Name, Reason: fmt.Sprintf("unsupported type %q", decl.Type)}
	}
}
