package config

import "reflect"

// Overlay copies every non-zero field of src onto dst, recursing into
// structs and maps. Both must be pointers to the same type. It is how
// command-line flags are laid over the loaded configuration.
func Overlay(dst, src any) {
	d := reflect.ValueOf(dst)
	s := reflect.ValueOf(src)
	if d.Kind() != reflect.Pointer || s.Kind() != reflect.Pointer || d.IsNil() || s.IsNil() {
		return
	}
	if d.Type() != s.Type() {
		return
	}
	overlayValue(d.Elem(), s.Elem())
}

func overlayValue(dst, src reflect.Value) {
	if !dst.CanSet() {
		return
	}

	switch dst.Kind() {
	case reflect.Struct:
		for i := range dst.NumField() {
			overlayValue(dst.Field(i), src.Field(i))
		}
	case reflect.Map:
		overlayMap(dst, src)
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}

func overlayMap(dst, src reflect.Value) {
	if src.Len() == 0 {
		return
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMapWithSize(dst.Type(), src.Len()))
	}

	iter := src.MapRange()
	for iter.Next() {
		key, val := iter.Key(), iter.Value()
		existing := dst.MapIndex(key)
		if existing.IsValid() && val.Kind() == reflect.Struct {
			merged := reflect.New(existing.Type()).Elem()
			merged.Set(existing)
			overlayValue(merged, val)
			dst.SetMapIndex(key, merged)
			continue
		}
		dst.SetMapIndex(key, val)
	}
}
