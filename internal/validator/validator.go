package validator

import (
	"fmt"
	"strings"

	"github.com/aretw0/tillflow/pkg/domain"
)

// ValidateGraph crawls every flow of a compiled graph from its initial state
// and reports states no action can reach, and states of the entry flow a
// conversation can never leave. The compiler already rejects broken links, so
// what is reported here are suspicious but legal graphs.
func ValidateGraph(def *domain.FlowDefinition) error {
	var problems []string
	def.Walk(func(flow *domain.FlowDefinition) {
		visited := crawl(flow)
		for _, name := range flow.Order {
			if !visited[name] {
				problems = append(problems, fmt.Sprintf("Unreachable state: '%s/%s'", flow.Name, name))
			}
		}
	})

	// Inside a subflow, a state without actions may still raise a return action.
	if len(def.Global) == 0 {
		for _, name := range def.Order {
			st := def.States[name]
			if len(st.Actions) == 0 && len(def.Order) > 1 {
				problems = append(problems, fmt.Sprintf("Dead end: '%s/%s' has no actions", def.Name, name))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("found %d problems:\n- %s", len(problems), strings.Join(problems, "\n- "))
	}
	return nil
}

// crawl returns the states of flow reachable from its initial state.
func crawl(flow *domain.FlowDefinition) map[string]bool {
	visited := make(map[string]bool)
	if flow.Initial == nil {
		return visited
	}
	queue := []string{flow.Initial.Name}

	enqueue := func(t domain.Target) {
		switch t.Kind {
		case domain.TargetState:
			if t.State != nil && t.State.Flow == flow.Name && !visited[t.State.Name] {
				queue = append(queue, t.State.Name)
			}
		case domain.TargetSubflow:
			// Return targets resume this flow.
			for _, action := range t.Subflow.ReturnActions() {
				if r := t.Subflow.Returns[action]; r.Kind == domain.TargetState && r.State != nil && !visited[r.State.Name] {
					queue = append(queue, r.State.Name)
				}
			}
		}
	}

	// Global actions apply from every state.
	for _, t := range flow.Global {
		enqueue(t)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		visited[current] = true

		st, ok := flow.States[current]
		if !ok {
			continue
		}
		for _, action := range st.ActionNames() {
			enqueue(st.Actions[action])
		}
	}
	return visited
}
