package postgres

import (
	"reflect"
	"strings"
	"sync"
)

// Columns lists the "db" tagged columns of T in field order, embedded
// structs included. Called once per table at package init.
func Columns[T any]() []string {
	var zero T
	return columnsOf(reflect.TypeOf(zero))
}

func columnsOf(t reflect.Type) []string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var cols []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous {
			cols = append(cols, columnsOf(field.Type)...)
			continue
		}
		if tag := field.Tag.Get("db"); tag != "" && tag != "-" {
			cols = append(cols, tag)
		}
	}
	return cols
}

type fieldInfo struct {
	index int
	tag   string
}

type typeMetadata struct {
	fields   []fieldInfo
	embedded []int
}

var typeCache sync.Map // map[reflect.Type]*typeMetadata

func metadataOf(t reflect.Type) *typeMetadata {
	if cached, ok := typeCache.Load(t); ok {
		return cached.(*typeMetadata)
	}

	meta := &typeMetadata{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous {
			meta.embedded = append(meta.embedded, i)
			continue
		}
		if tag := field.Tag.Get("db"); tag != "" && tag != "-" {
			meta.fields = append(meta.fields, fieldInfo{index: i, tag: tag})
		}
	}
	typeCache.Store(t, meta)
	return meta
}

// ToMap maps the "db" tagged fields of a struct (or pointer to one) to
// their values, ready for squirrel's SetMap.
func ToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := metadataOf(rv.Type())
	out := make(map[string]any, len(meta.fields))
	for _, fi := range meta.fields {
		out[fi.tag] = rv.Field(fi.index).Interface()
	}
	for _, idx := range meta.embedded {
		for k, val := range ToMap(rv.Field(idx).Interface()) {
			out[k] = val
		}
	}
	return out
}

// values returns the values of cols from m in column order, for COPY rows.
func values(m map[string]any, cols []string) []any {
	row := make([]any, len(cols))
	for i, c := range cols {
		row[i] = m[c]
	}
	return row
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
