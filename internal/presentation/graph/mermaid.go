package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tillflow/pkg/domain"
)

// GraphOverlay contains conversation data to visualize on the graph.
type GraphOverlay struct {
	// Flows lists the open flows, root first.
	Flows        []string
	CurrentState string
	Pending      bool
}

// OverlayFromSnapshot builds an overlay for a conversation snapshot.
func OverlayFromSnapshot(snap *domain.Snapshot) *GraphOverlay {
	if snap == nil {
		return nil
	}
	return &GraphOverlay{
		Flows:        snap.Flows,
		CurrentState: snap.State,
		Pending:      snap.Status == domain.StatusPending,
	}
}

// GenerateMermaid produces a Mermaid flowchart of a flow and every flow it embeds.
// Each flow is a subgraph. It applies semantic styling:
// - Initial state: ((Circle))
// - Placeholder state: [/Parallelogram/]
// - Default: [Rectangle]
// Subflow transitions are dashed and return transitions point at the flow's exit node.
func GenerateMermaid(def *domain.FlowDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	def.Walk(func(flow *domain.FlowDefinition) {
		sb.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", sanitizeMermaidID("flow/"+flow.Name), flow.Name))
		for _, name := range flow.Order {
			st := flow.States[name]
			opener, closer := "[", "]"
			switch {
			case st == flow.Initial:
				opener, closer = "((", "))"
			case st.Placeholder:
				opener, closer = "[/", "/]"
			}
			sb.WriteString(fmt.Sprintf("        %s%s\"%s\"%s\n", nodeID(flow.Name, name), opener, name, closer))
		}
		sb.WriteString("    end\n")

		for _, name := range flow.Order {
			st := flow.States[name]
			for _, action := range st.ActionNames() {
				writeEdge(&sb, flow, nodeID(flow.Name, name), action, st.Actions[action], false)
			}
		}
		for _, action := range sortedTargets(flow.Global) {
			writeEdge(&sb, flow, nodeID(flow.Name, domain.GlobalStateName), action, flow.Global[action], true)
		}
	})

	if overlay != nil && overlay.CurrentState != "" && len(overlay.Flows) > 0 {
		flow := overlay.Flows[len(overlay.Flows)-1]
		style := "current"
		if overlay.Pending {
			style = "pending"
		}
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef pending fill:#e1f5fe,stroke:#01579b,stroke-width:2px,stroke-dasharray:4,color:#000;\n")
		sb.WriteString(fmt.Sprintf("    class %s %s;\n", nodeID(flow, overlay.CurrentState), style))
	}

	return sb.String()
}

func writeEdge(sb *strings.Builder, flow *domain.FlowDefinition, from, action string, t domain.Target, global bool) {
	label := strings.ReplaceAll(action, "\"", "'")
	if global {
		label = "⚑ " + label
	}
	switch t.Kind {
	case domain.TargetState:
		sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", from, label, nodeID(t.State.Flow, t.State.Name)))
	case domain.TargetSubflow:
		sub := t.Subflow.Flow
		sb.WriteString(fmt.Sprintf("    %s -. \"%s\" .-> %s\n", from, label, nodeID(sub.Name, sub.Initial.Name)))
		for _, ret := range t.Subflow.ReturnActions() {
			rt := t.Subflow.Returns[ret]
			if rt.Kind != domain.TargetState {
				continue
			}
			sb.WriteString(fmt.Sprintf("    %s -. \"↩ %s\" .-> %s\n",
				sanitizeMermaidID("flow/"+sub.Name), ret, nodeID(rt.State.Flow, rt.State.Name)))
		}
	case domain.TargetReturn:
		sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", from, label, sanitizeMermaidID("flow/"+flow.Name)))
	}
}

func nodeID(flow, state string) string {
	return sanitizeMermaidID(flow + "/" + state)
}

func sortedTargets(m map[string]domain.Target) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
