package motor

import "strings"

// keyMap normalizes the closed set of symbolic key names the planner emits to
// X keysym names understood by xdotool.
var keyMap = map[string]string{
	"ENTER":     "Return",
	"RETURN":    "Return",
	"TAB":       "Tab",
	"ESC":       "Escape",
	"ESCAPE":    "Escape",
	"SPACE":     "space",
	"BACKSPACE": "BackSpace",
	"DELETE":    "Delete",
	"UP":        "Up",
	"DOWN":      "Down",
	"LEFT":      "Left",
	"RIGHT":     "Right",
	"HOME":      "Home",
	"END":       "End",
	"PAGEUP":    "Prior",
	"PAGEDOWN":  "Next",
	"CTRL":      "ctrl",
	"CONTROL":   "ctrl",
	"ALT":       "alt",
	"SHIFT":     "shift",
	"CMD":       "super",
	"COMMAND":   "super",
	"WIN":       "super",
	"WINDOWS":   "super",
}

// normalizeKey maps one symbolic key name to its platform primitive. Single
// characters outside the closed set are lowercased; longer unknown names are
// assumed to already be keysyms (F5, KP_Enter) and pass through untouched.
func normalizeKey(key string) string {
	if mapped, ok := keyMap[strings.ToUpper(key)]; ok {
		return mapped
	}
	if len(key) == 1 {
		return strings.ToLower(key)
	}
	return key
}

// normalizeChord splits a combination like "ctrl+c" on '+' and normalizes
// each part, producing the xdotool chord syntax ("ctrl+c"). A bare "+" is a
// literal plus keypress, not a chord.
func normalizeChord(key string) string {
	if key == "+" {
		return "plus"
	}
	if !strings.Contains(key, "+") {
		return normalizeKey(key)
	}
	parts := strings.Split(key, "+")
	for i, p := range parts {
		parts[i] = normalizeKey(p)
	}
	return strings.Join(parts, "+")
}
