package pipeline

import "github.com/pkg/errors"

// Validate checks structural invariants of a decoded event. Unknown stages are
// tolerated (forward compatibility); unknown types are not, since the reducer
// dispatches on them.
func Validate(ev Event) error {
	if ev.Type == "" {
		return errors.Errorf("%s: missing type", ErrEventUnknownType)
	}
	if !ev.Type.Known() {
		return errors.Errorf("%s: %q", ErrEventUnknownType, ev.Type)
	}
	if ev.Seq < 0 {
		return errors.Errorf("%s: negative seq %d", ErrEventMissingSeq, ev.Seq)
	}
	return nil
}
