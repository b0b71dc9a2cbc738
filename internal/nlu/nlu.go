// Package nlu provides deterministic natural-language understanding for
// PortalAssist: issue-key extraction, lookup-intent classification, and
// greeting/create-intent detection. Everything here runs without network
// access; the LLM layer only rephrases what this package decides.
package nlu

import (
	"regexp"
	"strings"
)

// Intent classifies what a lookup message asks about.
type Intent string

const (
	// IntentStatus asks for the ticket status (the default).
	IntentStatus Intent = "status"
	// IntentAssignee asks who the ticket is assigned to.
	IntentAssignee Intent = "assignee"
	// IntentReporter asks who raised the ticket.
	IntentReporter Intent = "reporter"
	// IntentAll asks for assignee and reporter together.
	IntentAll Intent = "all"
)

// issueKeyPattern matches ticket keys: uppercase letters, a hyphen, digits.
// The message is upper-cased before matching, so extraction is
// case-insensitive.
var issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*-[0-9]+\b`)

var assigneeWords = []string{"assignee", "assigned", "owner", "owns", "working on"}

var reporterWords = []string{"reporter", "reported", "raised", "created by", "opened by"}

var greetingTokens = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true,
	"howdy": true, "greetings": true, "yo": true,
}

var createVerbs = []string{"create", "raise", "open", "submit", "file", "log", "make", "new"}

var createNouns = []string{"ticket", "request", "issue", "case"}

// ExtractIssueKeys returns the distinct ticket-key-shaped tokens in the
// message, in order of first appearance, upper-cased.
func ExtractIssueKeys(message string) []string {
	matches := issueKeyPattern.FindAllString(strings.ToUpper(message), -1)
	var keys []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		keys = append(keys, m)
	}
	return keys
}

// ClassifyIntent decides what the message asks about a ticket. Both
// assignee and reporter words present yields IntentAll; neither yields
// IntentStatus.
func ClassifyIntent(message string) Intent {
	lower := strings.ToLower(message)
	hasAssignee := containsAny(lower, assigneeWords)
	hasReporter := containsAny(lower, reporterWords)
	switch {
	case hasAssignee && hasReporter:
		return IntentAll
	case hasAssignee:
		return IntentAssignee
	case hasReporter:
		return IntentReporter
	default:
		return IntentStatus
	}
}

// IsGreeting reports whether the message is a bare greeting, allowing
// trailing punctuation.
func IsGreeting(message string) bool {
	token := strings.ToLower(strings.TrimSpace(message))
	token = strings.TrimRight(token, "!.?,")
	return greetingTokens[token]
}

// DetectCreateIntent reports whether the message expresses intent to create
// a new support request: a create verb and a request noun co-occurring.
func DetectCreateIntent(message string) bool {
	lower := strings.ToLower(message)
	if !containsAny(lower, createVerbs) {
		return false
	}
	return containsAny(lower, createNouns)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
