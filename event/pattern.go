package event

import "regexp"

// OnPattern subscribes h to every currently-registered event name matching
// re, by enumerating Names() once at call time. Names registered after this
// call are not retroactively matched — this mirrors the "enumerating
// currently-registered names at subscription time" rule for pattern
// subscription.
func (e *Emitter) OnPattern(re *regexp.Regexp, h Handler, ctx any) {
	for _, name := range e.Names() {
		if re.MatchString(name) {
			e.On(name, h, ctx)
		}
	}
}
