package node

// State is the lifecycle state of a node.
type State int32

const (
	Unstarted State = iota
	Starting
	Ready
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
