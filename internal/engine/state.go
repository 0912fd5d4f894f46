package engine

import "fmt"

// cycleState is the stage a control cycle is in. Stages advance strictly
// forward; the transition table rejects anything else.
type cycleState string

const (
	stateIdle   cycleState = "IDLE"
	stateFetch  cycleState = "FETCH"
	stateAssess cycleState = "ASSESS"
	stateDecide cycleState = "DECIDE"
	stateAct    cycleState = "ACT"
	stateRecord cycleState = "RECORD"
)

// transitions maps each state to its legal successors. ACT is skippable
// (risk gate, cooldown gate, emergency branch) so DECIDE may go straight to
// RECORD; any stage failure returns to IDLE through RECORD.
var transitions = map[cycleState][]cycleState{
	stateIdle:   {stateFetch},
	stateFetch:  {stateAssess, stateRecord},
	stateAssess: {stateDecide},
	stateDecide: {stateAct, stateRecord},
	stateAct:    {stateRecord},
	stateRecord: {stateIdle},
}

// advance moves the orchestrator to next, or reports the illegal transition.
func (o *Orchestrator) advance(next cycleState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, allowed := range transitions[o.state] {
		if next == allowed {
			o.state = next
			return nil
		}
	}
	return fmt.Errorf("engine: illegal state transition %s -> %s", o.state, next)
}
