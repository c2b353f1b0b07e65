package broker

import "strings"

// MatchBinding reports whether a dotted routing key matches a binding
// pattern. "*" matches exactly one segment, "#" matches zero or more
// trailing segments. Examples:
//
//	message.*            matches message.created, not message.reaction.added
//	workspace.#          matches workspace.deleted and workspace.invite.created
//	channel.member.*     matches channel.member.joined
func MatchBinding(pattern, key string) bool {
	if pattern == key || pattern == "#" {
		return true
	}

	pp := strings.Split(pattern, ".")
	kk := strings.Split(key, ".")

	for i, p := range pp {
		if p == "#" {
			return true
		}
		if i >= len(kk) {
			return false
		}
		if p != "*" && p != kk[i] {
			return false
		}
	}

	return len(pp) == len(kk)
}

// MatchAny reports whether any pattern in bindings matches key.
func MatchAny(bindings []string, key string) bool {
	for _, b := range bindings {
		if MatchBinding(b, key) {
			return true
		}
	}
	return false
}
