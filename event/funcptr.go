package event

import "reflect"

// funcPointer extracts a stable identity for a func value so On/Off can
// deduplicate (handler, ctx) pairs. Go disallows comparing funcs with ==
// directly.
func funcPointer(h Handler) uintptr {
	if h == nil {
		return 0
	}
	return reflect.ValueOf(h).Pointer()
}
