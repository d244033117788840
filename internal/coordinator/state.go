package coordinator

// State is the coordinator lifecycle. It only moves forward.
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

var stateNames = []string{"idle", "running", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
