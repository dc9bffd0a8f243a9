package hotkey

import "strings"

// Qt key codes used by the KDE KGlobalAccel wire format.
const (
	qtKeyShift   = 0x01000020
	qtKeyControl = 0x01000021
	qtKeyMeta    = 0x01000022
	qtKeyAlt     = 0x01000023
	qtKeyEscape  = 0x01000000
	qtKeyTab     = 0x01000001
	qtKeyReturn  = 0x01000004
	qtKeySpace   = 0x20
	qtKeyF1      = 0x01000030
)

// qtKeyCode maps a platform-neutral key name to its Qt key code, or 0 when
// unmapped.
func qtKeyCode(code string) int32 {
	code = strings.ToLower(code)
	switch {
	case len(code) == 1 && code[0] >= 'a' && code[0] <= 'z':
		return int32(code[0] - 'a' + 'A') // Qt uses uppercase ASCII for letters
	case len(code) == 1 && code[0] >= '0' && code[0] <= '9':
		return int32(code[0])
	}
	switch code {
	case "space":
		return qtKeySpace
	case "escape":
		return qtKeyEscape
	case "tab":
		return qtKeyTab
	case "enter", "return":
		return qtKeyReturn
	}
	if strings.HasPrefix(code, "f") && len(code) <= 3 {
		n := 0
		for i := 1; i < len(code); i++ {
			c := code[i]
			if c < '0' || c > '9' {
				return 0
			}
			n = n*10 + int(c-'0')
		}
		if n >= 1 && n <= 24 {
			return int32(qtKeyF1 + n - 1)
		}
	}
	return 0
}

// kdeKeySequence builds the KGlobalAccel key list: modifier Qt codes
// followed by the key's Qt code.
func kdeKeySequence(def Definition) []int32 {
	var keys []int32
	if def.Modifiers.Has(ModShift) {
		keys = append(keys, qtKeyShift)
	}
	if def.Modifiers.Has(ModControl) {
		keys = append(keys, qtKeyControl)
	}
	if def.Modifiers.Has(ModAlt) {
		keys = append(keys, qtKeyAlt)
	}
	if def.Modifiers.Has(ModSuper) {
		keys = append(keys, qtKeyMeta)
	}
	if k := qtKeyCode(def.Code); k != 0 {
		keys = append(keys, k)
	}
	return keys
}

// gtkKeyName maps a platform-neutral key name to the GTK naming the XDG
// portal trigger grammar uses.
func gtkKeyName(code string) string {
	code = strings.ToLower(code)
	switch code {
	case "enter", "return":
		return "Return"
	case "escape":
		return "Escape"
	case "tab":
		return "Tab"
	case "space":
		return "space"
	}
	return code
}

// xdgTrigger builds the portal trigger string, e.g. "<Control><Shift>space".
func xdgTrigger(def Definition) string {
	var b strings.Builder
	if def.Modifiers.Has(ModControl) {
		b.WriteString("<Control>")
	}
	if def.Modifiers.Has(ModShift) {
		b.WriteString("<Shift>")
	}
	if def.Modifiers.Has(ModAlt) {
		b.WriteString("<Alt>")
	}
	if def.Modifiers.Has(ModSuper) {
		b.WriteString("<Super>")
	}
	b.WriteString(gtkKeyName(def.Code))
	return b.String()
}
