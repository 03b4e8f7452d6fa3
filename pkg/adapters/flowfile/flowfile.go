// Package flowfile reads flow declarations from YAML or JSON documents.
//
//	entry: Main
//	flows:
//	  Main:
//	    - state: Home
//	      on:
//	        Next: Checkout
//	        Pay:
//	          subflow: Payment
//	          returns: {Paid: Done}
//	          seed: {amount: 10}
//	          propagate: [receipt]
//	    - ref: Done
//	    - state: Global
//	      on: {Cancel: Home}
//	screens:
//	  Home: "# Welcome"
package flowfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Document is a parsed flow file.
type Document struct {
	Entry   string                `mapstructure:"entry" json:"entry"`
	Flows   map[string][]StateDoc `mapstructure:"flows" json:"flows"`
	Screens map[string]string     `mapstructure:"screens" json:"screens,omitempty"`
}

// StateDoc is one entry of a flow: a concrete state or a bare reference.
type StateDoc struct {
	State  string               `mapstructure:"state" json:"state,omitempty"`
	Ref    string               `mapstructure:"ref" json:"ref,omitempty"`
	Impl   string               `mapstructure:"impl" json:"impl,omitempty"`
	Screen string               `mapstructure:"screen" json:"screen,omitempty"`
	On     map[string]TargetDoc `mapstructure:"on" json:"on,omitempty"`
}

// TargetDoc is an action target. A plain string decodes as {to: <string>}.
type TargetDoc struct {
	To        string               `mapstructure:"to" json:"to,omitempty"`
	Subflow   string               `mapstructure:"subflow" json:"subflow,omitempty"`
	Returns   map[string]TargetDoc `mapstructure:"returns" json:"returns,omitempty"`
	Seed      map[string]any       `mapstructure:"seed" json:"seed,omitempty"`
	Propagate []string             `mapstructure:"propagate" json:"propagate,omitempty"`
}

var targetType = reflect.TypeOf(TargetDoc{})

// Load reads a flow file. Files ending in .json are parsed as JSON, anything else as YAML.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}

	var raw map[string]any
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		return decode(raw)
	}
	return Parse(data)
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse flow yaml: %w", err)
	}
	return decode(raw)
}

func decode(raw map[string]any) (*Document, error) {
	var doc Document
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  stringTarget,
		ErrorUnused: true,
		Result:      &doc,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid flow document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// stringTarget lets `Next: Checkout` stand for `Next: {to: Checkout}`.
func stringTarget(from, to reflect.Type, data any) (any, error) {
	if to != targetType || from.Kind() != reflect.String {
		return data, nil
	}
	return TargetDoc{To: data.(string)}, nil
}

// Validate checks the document shape. Graph-level problems are reported by Compile.
func (d *Document) Validate() error {
	var errs []error
	if len(d.Flows) == 0 {
		errs = append(errs, errors.New("flow document declares no flows"))
	}
	if d.Entry == "" {
		if len(d.Flows) != 1 {
			errs = append(errs, errors.New("entry is required when more than one flow is declared"))
		}
	} else if _, ok := d.Flows[d.Entry]; !ok {
		errs = append(errs, fmt.Errorf("entry flow %q is not declared", d.Entry))
	}
	for _, flow := range sortedKeys(d.Flows) {
		for i, s := range d.Flows[flow] {
			switch {
			case s.State == "" && s.Ref == "":
				errs = append(errs, fmt.Errorf("flow %q entry %d: one of state or ref is required", flow, i))
			case s.State != "" && s.Ref != "":
				errs = append(errs, fmt.Errorf("flow %q entry %d: state and ref are exclusive", flow, i))
			case s.Ref != "" && len(s.On) > 0:
				errs = append(errs, fmt.Errorf("flow %q ref %q: a reference declares no actions", flow, s.Ref))
			}
			for action, t := range s.On {
				if err := validateTarget(t); err != nil {
					errs = append(errs, fmt.Errorf("flow %q state %q action %q: %w", flow, s.name(), action, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateTarget(t TargetDoc) error {
	if (t.To == "") == (t.Subflow == "") {
		return errors.New("exactly one of to or subflow is required")
	}
	if t.To != "" && (len(t.Returns) > 0 || len(t.Seed) > 0 || len(t.Propagate) > 0) {
		return errors.New("returns, seed and propagate apply to subflow targets only")
	}
	for action, r := range t.Returns {
		if err := validateTarget(r); err != nil {
			return fmt.Errorf("return %q: %w", action, err)
		}
	}
	return nil
}

func (s StateDoc) name() string {
	if s.State != "" {
		return s.State
	}
	return s.Ref
}

// EntryFlow returns the flow to compile.
func (d *Document) EntryFlow() string {
	if d.Entry != "" {
		return d.Entry
	}
	for name := range d.Flows {
		return name
	}
	return ""
}

// Source converts the document into declarations. Actions are declared in
// name order.
func (d *Document) Source() dsl.Source {
	src := make(dsl.Source, len(d.Flows))
	for flow, states := range d.Flows {
		decls := make([]domain.Declaration, 0, len(states))
		for _, s := range states {
			if s.Ref != "" {
				decls = append(decls, domain.Declaration{Name: s.Ref, Impl: s.Impl})
				continue
			}
			decl := domain.Declaration{Name: s.State, Concrete: true, Impl: s.Impl}
			for _, action := range sortedKeys(s.On) {
				decl.Actions = append(decl.Actions, domain.ActionDecl{Action: action, Target: s.On[action].ref()})
			}
			decls = append(decls, decl)
		}
		src[flow] = decls
	}
	return src
}

func (t TargetDoc) ref() domain.TargetRef {
	if t.Subflow == "" {
		return domain.TargetRef{Name: t.To}
	}
	ref := domain.TargetRef{
		Name:      t.Subflow,
		Subflow:   true,
		Seed:      t.Seed,
		Propagate: t.Propagate,
	}
	if len(t.Returns) > 0 {
		ref.Returns = make(map[string]domain.TargetRef, len(t.Returns))
		for action, r := range t.Returns {
			ref.Returns[action] = r.ref()
		}
	}
	return ref
}

// ScreenText returns the text shown for a behavior id: the inline screen of a
// state with that id, then the screens section, then the id itself.
func (d *Document) ScreenText(id string) string {
	for _, flow := range sortedKeys(d.Flows) {
		for _, s := range d.Flows[flow] {
			impl := s.Impl
			if impl == "" {
				impl = s.name()
			}
			if impl == id && s.Screen != "" {
				return s.Screen
			}
		}
	}
	if text, ok := d.Screens[id]; ok {
		return text
	}
	return id
}

// Fallback returns a registry fallback that turns every unregistered id into a
// ScreenState showing the document's screen for it.
func (d *Document) Fallback() registry.Fallback {
	return func(id string) domain.StateFactory {
		text := d.ScreenText(id)
		return func() domain.State {
			return ScreenState{Text: text}
		}
	}
}

// Compile builds the entry flow. Ids missing from reg fall back to screen
// states; a nil reg uses screen states only.
func (d *Document) Compile(reg *registry.Registry) (*domain.FlowDefinition, error) {
	fallback := d.Fallback()
	resolver := resolverFunc(func(id string) (domain.StateFactory, bool) {
		if reg != nil {
			if f, ok := reg.Resolve(id); ok {
				return f, true
			}
		}
		return fallback(id), true
	})
	return dsl.Compile(d.Source(), d.EntryFlow(), resolver)
}

type resolverFunc func(id string) (domain.StateFactory, bool)

func (f resolverFunc) Resolve(id string) (domain.StateFactory, bool) { return f(id) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
