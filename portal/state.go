package portal

// State is a step of the navigation state machine.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	LoggedIn
	OnNoteList
	Filtering
	IteratingRows
	Done
	ErrorAbort
)

var stateNames = [...]string{
	LoggedOut:     "logged_out",
	LoggingIn:     "logging_in",
	LoggedIn:      "logged_in",
	OnNoteList:    "on_note_list",
	Filtering:     "filtering",
	IteratingRows: "iterating_rows",
	Done:          "done",
	ErrorAbort:    "error_abort",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
