// Package admin parses admin commands out of raw chat text (§4.14):
// "/dotclaw <subcommand> [args...]", "/dc <subcommand> ...", and
// "@bot <subcommand> [args...]" mention forms. Recognized commands
// are handed back as a name + quote-aware argument list; anything
// that doesn't match a known command returns ok=false so the caller
// treats the message as ordinary chat text.
package admin

import (
	"strings"
)

// Command is a parsed admin invocation.
type Command struct {
	Name string
	Args []string
}

// aliases maps every recognized phrasing (lowercased) to its
// canonical command name. Multi-word phrasings let natural-language
// mention commands ("list groups") resolve to the same routing target
// as their slash-command form ("groups").
var aliases = map[string]string{
	"add-group":    "add-group",
	"add group":    "add-group",
	"remove-group": "remove-group",
	"remove group": "remove-group",
	"groups":       "groups",
	"list groups":  "groups",
	"set-model":    "set-model",
	"set model":    "set-model",
	"model":        "model",
	"tasks":        "tasks",
	"list tasks":   "tasks",
	"cancel-task":  "cancel-task",
	"cancel task":  "cancel-task",
	"memory":       "memory",
	"forget":       "forget",
	"help":         "help",
}

// Parse recognizes a "/dotclaw ...", "/dc ...", or mention-prefixed
// command in text. mentions lists the exact mention prefixes that
// introduce a command for this chat (e.g. "@dotclaw_bot"); matching is
// case-insensitive. Returns ok=false for plain chat text or an
// unrecognized command.
func Parse(text string, mentions []string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Command{}, false
	}

	rest, ok := stripPrefix(trimmed, mentions)
	if !ok {
		return Command{}, false
	}

	tokens := tokenize(rest)
	if len(tokens) == 0 {
		return Command{}, false
	}

	name, consumed, ok := matchCommand(tokens)
	if !ok {
		return Command{}, false
	}
	return Command{Name: name, Args: tokens[consumed:]}, true
}

// stripPrefix removes a recognized "/dotclaw", "/dc", or mention
// prefix from text, returning the remainder and whether a prefix
// matched.
func stripPrefix(text string, mentions []string) (string, bool) {
	for _, kw := range []string{"/dotclaw", "/dc"} {
		if rest, ok := cutPrefixWord(text, kw); ok {
			return rest, true
		}
	}
	for _, m := range mentions {
		if rest, ok := cutPrefixWord(text, m); ok {
			return rest, true
		}
	}
	return "", false
}

// cutPrefixWord removes prefix from text if text starts with prefix
// (case-insensitive) followed by whitespace or end of string.
func cutPrefixWord(text, prefix string) (string, bool) {
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return "", false
	}
	rest := text[len(prefix):]
	if rest == "" {
		return "", true
	}
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// matchCommand greedily matches the longest known alias (two tokens,
// then one) at the start of tokens, returning how many tokens it
// consumed.
func matchCommand(tokens []string) (string, int, bool) {
	if len(tokens) >= 2 {
		phrase := strings.ToLower(tokens[0] + " " + tokens[1])
		if name, ok := aliases[phrase]; ok {
			return name, 2, true
		}
	}
	if name, ok := aliases[strings.ToLower(tokens[0])]; ok {
		return name, 1, true
	}
	return "", 0, false
}

// tokenize splits s on whitespace, treating "..." as one token with
// the quotes stripped, per §4.14's quote-aware argument rule.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasToken := false

	flush := func() {
		if hasToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasToken = false
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case (r == ' ' || r == '\t') && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
			hasToken = true
		}
	}
	flush()
	return tokens
}
