package events

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aretw0/tillflow/pkg/domain"
)

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// On registers a typed handler. The event matches when it is a T, implements T
// (for interface types) or embeds T; the handler receives the matching value.
// Without sources the handler listens to its own device only.
func On[T any](name string, fn func(ctx context.Context, target domain.Receiver, ev T, d domain.Delivery) error, sources ...domain.Source) domain.Registration {
	arg := TypeOf[T]()
	return domain.Registration{
		Name:    name,
		Sources: orSelf(sources),
		Arg:     arg,
		Handle: func(ctx context.Context, target domain.Receiver, d domain.Delivery) error {
			v, ok := Extract(d.Event, arg)
			if !ok {
				return fmt.Errorf("handler %q: event %T does not carry %s", name, d.Event, arg)
			}
			ev, _ := v.Interface().(T)
			return fn(ctx, target, ev, d)
		},
	}
}

// OnAny registers a handler receiving every event. Without sources the handler
// listens to its own device only.
func OnAny(name string, fn domain.EventHandler, sources ...domain.Source) domain.Registration {
	return domain.Registration{Name: name, Sources: orSelf(sources), Handle: fn}
}

// OnTypes registers a handler with an explicit filter: the event's concrete type
// must be exactly the type of one of the samples. Without sources the handler
// listens to its own device only.
func OnTypes(name string, fn domain.EventHandler, sources []domain.Source, samples ...any) domain.Registration {
	types := make([]reflect.Type, 0, len(samples))
	for _, s := range samples {
		if t, ok := s.(reflect.Type); ok {
			types = append(types, t)
			continue
		}
		types = append(types, reflect.TypeOf(s))
	}
	return domain.Registration{Name: name, Sources: orSelf(sources), Types: types, Handle: fn}
}

func orSelf(sources []domain.Source) []domain.Source {
	if len(sources) == 0 {
		return []domain.Source{domain.SourceSelf}
	}
	return sources
}

// Matches reports whether event passes the type filter of reg.
func Matches(reg domain.Registration, event any) bool {
	et := reflect.TypeOf(event)
	if len(reg.Types) > 0 {
		for _, t := range reg.Types {
			if et == t {
				return true
			}
		}
		return false
	}
	if reg.Arg == nil {
		return true
	}
	_, ok := Extract(event, reg.Arg)
	return ok
}

// Extract returns the part of event that is assignable to t: the event itself,
// or an embedded ancestor struct found by walking anonymous fields.
func Extract(event any, t reflect.Type) (reflect.Value, bool) {
	if event == nil {
		return reflect.Value{}, false
	}
	return extract(reflect.ValueOf(event), t, 0)
}

const maxEmbedDepth = 8

func extract(v reflect.Value, t reflect.Type, depth int) (reflect.Value, bool) {
	if !v.IsValid() || depth > maxEmbedDepth {
		return reflect.Value{}, false
	}
	if v.Type() == t || (t.Kind() == reflect.Interface && v.Type().Implements(t)) {
		return v, true
	}
	s := v
	if s.Kind() == reflect.Pointer {
		if s.IsNil() {
			return reflect.Value{}, false
		}
		s = s.Elem()
		if s.Type() == t {
			return s, true
		}
	}
	if s.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	for i := 0; i < s.NumField(); i++ {
		f := s.Type().Field(i)
		if !f.Anonymous || !f.IsExported() {
			continue
		}
		if found, ok := extract(s.Field(i), t, depth+1); ok {
			return found, true
		}
	}
	return reflect.Value{}, false
}
