// Copyright 2024-2026 Aiku AI

package connector

import (
	"strconv"
	"strings"
)

// Action is a control action carried in inline button callback data.
type Action string

const (
	ActionResolve Action = "resolve"
	ActionReopen  Action = "reopen"
)

// MakeCallbackData encodes an action for a conversation, e.g. "resolve:42".
func MakeCallbackData(action Action, conversationID int64) string {
	return string(action) + ":" + strconv.FormatInt(conversationID, 10)
}

// ParseCallbackData decodes callback data. The bare legacy "resolve" form
// parses with a zero conversation id; the conversation is then found through
// the correlation record of the control message.
func ParseCallbackData(data string) (action Action, conversationID int64, ok bool) {
	if data == string(ActionResolve) {
		return ActionResolve, 0, true
	}
	name, rawID, found := strings.Cut(data, ":")
	if !found {
		return "", 0, false
	}
	action = Action(name)
	if action != ActionResolve && action != ActionReopen {
		return "", 0, false
	}
	conversationID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || conversationID <= 0 {
		return "", 0, false
	}
	return action, conversationID, true
}

func chatwootMessageKey(id int64) string {
	return "cw:" + strconv.FormatInt(id, 10)
}
