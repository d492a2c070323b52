// Package intent classifies free-text messages into configured keyword groups.
//
// Matching is a case-insensitive literal substring search, not a tokenized word match:
// "warm" matches inside "unwarmedup". Every matching group fires; there is no priority.
package intent

import "strings"

// Group IDs of the groups the bot ships with.
const (
	GroupGreeting     = "greeting"
	GroupEvents       = "events"
	GroupWeather      = "weather"
	GroupBoard        = "board"
	GroupRegistration = "registration"
)

// Group is a named set of trigger substrings.
type Group struct {
	ID       string   `yaml:"id"`
	Keywords []string `yaml:"keywords"`
}

// Matches reports whether the already lowercased text contains any keyword of the group.
func (g Group) Matches(lowered string) bool {
	for _, kw := range g.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Classify returns all groups whose keywords occur in text, in the order the groups were given.
// Empty text or no match yields nil.
func Classify(text string, groups []Group) []Group {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	var matched []Group
	for _, g := range groups {
		if g.Matches(lowered) {
			matched = append(matched, g)
		}
	}
	return matched
}

// Contains reports whether marker occurs in text, ignoring case.
func Contains(text, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(marker))
}

// IDs returns the IDs of groups, preserving order.
func IDs(groups []Group) []string {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	return ids
}
