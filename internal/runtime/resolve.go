package runtime

import "github.com/aretw0/tillflow/pkg/domain"

// resolution is a matched action: the target plus the number of subflow frames
// to pop before applying it.
type resolution struct {
	target domain.Target
	unwind int
	via    string
}

// resolve looks an action up in the active state's map, then in the return
// actions of each open frame innermost to outermost, then in the Global maps
// from the innermost flow to the root flow. The first match wins.
func (c *Conversation) resolve(action string) (resolution, bool) {
	depth := len(c.frames)

	if t, ok := c.desc.Actions[action]; ok {
		if t.Kind != domain.TargetReturn {
			return resolution{target: t, via: "state"}, true
		}
		if depth == 0 {
			return resolution{}, false
		}
		parent, ok := c.frames[depth-1].sub.Returns[t.ReturnAction]
		if !ok {
			return resolution{}, false
		}
		return resolution{target: parent, unwind: 1, via: "return"}, true
	}

	for i := depth - 1; i >= 0; i-- {
		if t, ok := c.frames[i].sub.Returns[action]; ok {
			return resolution{target: t, unwind: depth - i, via: "return"}, true
		}
	}

	if t, ok := c.flow.Global[action]; ok {
		return resolution{target: t, via: "global"}, true
	}
	for i := depth - 1; i >= 0; i-- {
		if t, ok := c.frames[i].flow.Global[action]; ok {
			return resolution{target: t, unwind: depth - i, via: "global"}, true
		}
	}
	return resolution{}, false
}

// destination returns the state a target arrives at.
func destination(t domain.Target) *domain.StateDescriptor {
	switch t.Kind {
	case domain.TargetState:
		return t.State
	case domain.TargetSubflow:
		if t.Subflow != nil && t.Subflow.Flow != nil {
			return t.Subflow.Flow.Initial
		}
	}
	return nil
}
