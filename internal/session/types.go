package session

// Slot is one named parameter the user must supply. Value is nil until
// the user's turn fills it.
type Slot struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
}

// Slots is the ordered slot list for a session. Order matters: slots are
// elicited strictly in registry order, so they are persisted as a JSON
// array rather than a map.
type Slots []Slot

// NewSlots builds an all-nil slot list from required slot names,
// preserving order.
func NewSlots(names []string) Slots {
	if len(names) == 0 {
		return nil
	}
	slots := make(Slots, len(names))
	for i, name := range names {
		slots[i] = Slot{Name: name}
	}
	return slots
}

// FirstUnfilled returns the index of the lowest-index slot whose value is
// still nil, or false when every slot is filled.
func (s Slots) FirstUnfilled() (int, bool) {
	for i := range s {
		if s[i].Value == nil {
			return i, true
		}
	}
	return 0, false
}

// Complete reports whether every slot has a value.
func (s Slots) Complete() bool {
	_, unfilled := s.FirstUnfilled()
	return !unfilled
}

// Value returns the value of the named slot, or false if the slot is
// absent or unfilled.
func (s Slots) Value(name string) (string, bool) {
	for i := range s {
		if s[i].Name == name && s[i].Value != nil {
			return *s[i].Value, true
		}
	}
	return "", false
}

// State is the persisted per-conversation record.
//
// Invariants: Intent == "" means the session awaits intent resolution;
// Intent != "" with all slot values set means the session is ready to
// fulfill. A cleared session is the zero State.
type State struct {
	UserID string `json:"user_id"`
	Intent string `json:"intent"`
	Slots  Slots  `json:"slots"`
}

// AwaitingIntent reports whether the session has no resolved intent yet.
func (st State) AwaitingIntent() bool {
	return st.Intent == ""
}
