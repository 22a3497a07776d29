package hotkey

// Linux input-event-codes for the keys a chord can use.
const (
	KeyLeftCtrl   uint16 = 29
	KeyRightCtrl  uint16 = 97
	KeyLeftShift  uint16 = 42
	KeyRightShift uint16 = 54
	KeyLeftAlt    uint16 = 56
	KeyRightAlt   uint16 = 100
	KeyLeftMeta   uint16 = 125
	KeyRightMeta  uint16 = 126

	KeySpace uint16 = 57
)

var keyCodes = map[string]uint16{
	"esc": 1, "escape": 1,
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"minus": 12, "-": 12, "equal": 13, "=": 13,
	"backspace": 14, "tab": 15,
	"q": 16, "w": 17, "e": 18, "r": 19, "t": 20, "y": 21, "u": 22, "i": 23, "o": 24, "p": 25,
	"[": 26, "]": 27, "enter": 28, "return": 28,
	"a": 30, "s": 31, "d": 32, "f": 33, "g": 34, "h": 35, "j": 36, "k": 37, "l": 38,
	";": 39, "'": 40, "`": 41, "grave": 41, "\\": 43,
	"z": 44, "x": 45, "c": 46, "v": 47, "b": 48, "n": 49, "m": 50,
	",": 51, ".": 52, "/": 53,
	"space": 57, "capslock": 58, "caps_lock": 58,
	"f1": 59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64,
	"f7": 65, "f8": 66, "f9": 67, "f10": 68, "f11": 87, "f12": 88,
	"f13": 183, "f14": 184, "f15": 185, "f16": 186, "f17": 187, "f18": 188,
	"f19": 189, "f20": 190, "f21": 191, "f22": 192, "f23": 193, "f24": 194,
	"numlock": 69, "scrolllock": 70, "scroll_lock": 70,
	"print": 99, "print_screen": 99, "sysrq": 99,
	"home": 102, "up": 103, "pageup": 104, "page_up": 104,
	"left": 105, "right": 106, "end": 107, "down": 108,
	"pagedown": 109, "page_down": 109, "insert": 110, "delete": 111,
	"pause": 119, "menu": 127, "compose": 127,
}

var keyNames = func() map[uint16]string {
	names := make(map[uint16]string, len(keyCodes))
	for name, code := range keyCodes {
		if cur, ok := names[code]; !ok || len(name) < len(cur) || (len(name) == len(cur) && name < cur) {
			names[code] = name
		}
	}
	return names
}()

// KeyCode returns the evdev code for a key name such as "space" or "f9".
func KeyCode(name string) (uint16, bool) {
	code, ok := keyCodes[name]
	return code, ok
}
