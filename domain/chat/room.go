package chat

import "strings"

// DMPrefix marks a room name as a direct-message room.
const DMPrefix = "dm:"

// CanonicalDM returns the DM room name for two identities. The result is the
// same regardless of argument order.
func CanonicalDM(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return DMPrefix + a + ":" + b
}

// IsDM reports whether room is in the DM namespace. Every such room is
// subject to DM authorization, well-formed or not.
func IsDM(room string) bool {
	return strings.HasPrefix(room, DMPrefix)
}

// ParseDM splits a DM room name into its two participants. ok is false when
// room is not in the DM namespace or does not split into exactly three parts.
func ParseDM(room string) (first, second string, ok bool) {
	if !IsDM(room) {
		return "", "", false
	}
	parts := strings.Split(room, ":")
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[1], parts[2], true
}
