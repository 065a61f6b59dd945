package models

import (
	"fmt"
	"strings"
)

// ChoiceActionID builds the action id of button i. With a key the id reads
// "<prefix>:<key>:<i>"; without one it is "<prefix>_<i>".
func ChoiceActionID(prefix, key string, i int) string {
	if key == "" {
		return fmt.Sprintf("%s_%d", prefix, i)
	}
	return fmt.Sprintf("%s:%s:%d", prefix, key, i)
}

// ChoiceActionKey returns the key ChoiceActionID encoded into actionID, or
// "" when there is none.
func ChoiceActionKey(prefix, actionID string) string {
	rest, ok := strings.CutPrefix(actionID, prefix+":")
	if !ok {
		return ""
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return ""
	}
	return rest[:idx]
}
