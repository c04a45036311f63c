// Package medium implements the delivery media channels are built on.
package medium

import (
	"reflect"

	"github.com/pkg/errors"
)

// ErrDataClone is returned by media refusing to transfer the payload in its structured form.
var ErrDataClone = errors.New("payload could not be cloned")

// ErrClosed is returned when posting to closed medium.
var ErrClosed = errors.New("medium closed")

// Target receives posted payloads.
type Target interface {
	PostMessage(v any) error
}

// Source delivers payloads to listeners.
type Source interface {
	Listen(fn func(v any)) (unlisten func())
}

// Window is both a target and a source, like a browser window.
type Window interface {
	Target
	Source
}

// Cloneable reports whether v may cross a realm boundary in its structured form.
func Cloneable(v any) bool {
	return cloneable(reflect.ValueOf(v), map[uintptr]struct{}{})
}

func cloneable(v reflect.Value, seen map[uintptr]struct{}) bool {
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	case reflect.Interface:
		return cloneable(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return true
		}
		if _, exists := seen[v.Pointer()]; exists {
			return true
		}
		seen[v.Pointer()] = struct{}{}
		return cloneable(v.Elem(), seen)
	case reflect.Struct:
		for i := range v.NumField() {
			if !cloneable(v.Field(i), seen) {
				return false
			}
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			if !cloneable(v.Index(i), seen) {
				return false
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !cloneable(iter.Key(), seen) || !cloneable(iter.Value(), seen) {
				return false
			}
		}
	}
	return true
}

// Clone returns deep copy of v, so the receiver never shares memory with the sender. Unexported
// struct fields are copied shallowly.
func Clone(v any) (any, error) {
	if !Cloneable(v) {
		return nil, errors.Wrapf(ErrDataClone, "payload of type %T", v)
	}
	if v == nil {
		return nil, nil
	}
	return clone(reflect.ValueOf(v), map[uintptr]reflect.Value{}).Interface(), nil
}

func clone(v reflect.Value, seen map[uintptr]reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		return clone(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		if c, exists := seen[v.Pointer()]; exists {
			return c
		}
		c := reflect.New(v.Type().Elem())
		seen[v.Pointer()] = c
		c.Elem().Set(clone(v.Elem(), seen))
		return c
	case reflect.Struct:
		c := reflect.New(v.Type()).Elem()
		c.Set(v)
		for i := range v.NumField() {
			if f := c.Field(i); f.CanSet() {
				f.Set(clone(v.Field(i), seen))
			}
		}
		return c
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			c.Index(i).Set(clone(v.Index(i), seen))
		}
		return c
	case reflect.Array:
		c := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			c.Index(i).Set(clone(v.Index(i), seen))
		}
		return c
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		c := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			c.SetMapIndex(clone(iter.Key(), seen), clone(iter.Value(), seen))
		}
		return c
	default:
		return v
	}
}
