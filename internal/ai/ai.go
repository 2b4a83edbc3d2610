// Package ai defines the boundary to the external AI collaborator: risk
// assessment for tier>=3 shell commands and natural-language-to-command
// translation. Any client conforming to the request/response shapes here is
// interchangeable.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the assessor's verdict for a command.
type Status string

const (
	StatusSafe         Status = "SAFE"
	StatusNeedsConfirm Status = "NEEDS_CONFIRM"
	StatusDeny         Status = "DENY"
)

// Request carries the command under assessment plus context.
type Request struct {
	Command       string
	Shell         string
	RecentHistory []string
	PolicyContext string
}

// Decision is the assessor's structured response.
type Decision struct {
	Status               Status `json:"status"`
	Rationale            string `json:"rationale"`
	SuggestedAlternative string `json:"suggested_alternative,omitempty"`
}

// Assessor evaluates the risk of a shell command. Consulted only for
// tier>=3 commands.
type Assessor interface {
	Assess(ctx context.Context, req Request) (Decision, error)
}

// Translator converts a natural-language query into a shell command.
type Translator interface {
	Translate(ctx context.Context, query, shell string) (string, error)
}

// Client is the combined collaborator surface a provider implements.
type Client interface {
	Assessor
	Translator
}

const assessSystemPrompt = `You are a command-line safety reviewer. Given a shell command, respond with a single JSON object and nothing else:
{"status": "SAFE" | "NEEDS_CONFIRM" | "DENY", "rationale": "<one sentence>", "suggested_alternative": "<safer command or empty>"}
DENY commands that destroy data, exfiltrate secrets, or damage the system. NEEDS_CONFIRM commands with recoverable but significant effects. SAFE everything else.`

const translateSystemPrompt = `You translate natural-language requests into a single shell command. Respond with a JSON object and nothing else:
{"command": "<the command>", "explanation": "<one sentence>"}
If the request cannot be expressed as one command, set command to an empty string.`

func assessUserPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Shell: %s\nCommand: %s\n", req.Shell, req.Command)
	if len(req.RecentHistory) > 0 {
		fmt.Fprintf(&sb, "Recent commands: %s\n", strings.Join(req.RecentHistory, "; "))
	}
	if req.PolicyContext != "" {
		fmt.Fprintf(&sb, "Policy: %s\n", req.PolicyContext)
	}
	return sb.String()
}

// parseDecision decodes a model response into a Decision, tolerating markdown
// code fences around the JSON body.
func parseDecision(raw string) (Decision, error) {
	body := stripFences(raw)
	var decision Decision
	if err := json.Unmarshal([]byte(body), &decision); err != nil {
		return Decision{}, fmt.Errorf("decode assessment response: %w", err)
	}
	switch decision.Status {
	case StatusSafe, StatusNeedsConfirm, StatusDeny:
		return decision, nil
	default:
		return Decision{}, fmt.Errorf("assessment status %q is not one of SAFE, NEEDS_CONFIRM, DENY", decision.Status)
	}
}

type translation struct {
	Command     string `json:"command"`
	Explanation string `json:"explanation"`
}

func parseTranslation(raw string) (string, error) {
	body := stripFences(raw)
	var tr translation
	if err := json.Unmarshal([]byte(body), &tr); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	if strings.TrimSpace(tr.Command) == "" {
		return "", fmt.Errorf("query has no single-command translation")
	}
	return strings.TrimSpace(tr.Command), nil
}

func stripFences(raw string) string {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
	}
	return body
}
