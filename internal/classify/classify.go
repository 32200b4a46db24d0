// Package classify extracts advisory (action, resource) metadata from
// free-text permission names for UI filtering. Its output is never an
// authorization input.
package classify

import "strings"

// Class is the best-effort decomposition of a permission name.
type Class struct {
	Action   string
	Resource string
}

// knownActions are the verbs the surrounding application's permission names
// conventionally start with.
var knownActions = map[string]struct{}{
	"view":    {},
	"create":  {},
	"update":  {},
	"delete":  {},
	"manage":  {},
	"access":  {},
	"export":  {},
	"import":  {},
	"approve": {},
	"assign":  {},
}

// Classify splits a permission name like "view order", "orders.view" or
// "manage_users" into an action and a resource. Names that do not match any
// convention come back with the whole name as the resource and an empty
// action.
func Classify(name string) Class {
	name = strings.TrimSpace(name)
	if name == "" {
		return Class{}
	}

	tokens := tokenize(name)
	if len(tokens) == 1 {
		if _, ok := knownActions[tokens[0]]; ok {
			return Class{Action: tokens[0]}
		}
		return Class{Resource: tokens[0]}
	}

	if _, ok := knownActions[tokens[0]]; ok {
		return Class{Action: tokens[0], Resource: strings.Join(tokens[1:], " ")}
	}
	// "orders.view" style puts the verb last.
	last := tokens[len(tokens)-1]
	if _, ok := knownActions[last]; ok {
		return Class{Action: last, Resource: strings.Join(tokens[:len(tokens)-1], " ")}
	}
	return Class{Resource: strings.Join(tokens, " ")}
}

func tokenize(name string) []string {
	lowered := strings.ToLower(name)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return r == ' ' || r == '.' || r == '_' || r == '-' || r == ':'
	})
}
