package config

import (
	"reflect"
	"sync"
)

// envPaths maps each variable named in an `env` tag to its koanf path,
// e.g. "DB_CONN_STRING" to "database.conn_string".
var envPaths = sync.OnceValue(func() map[string]string {
	paths := make(map[string]string)
	walkEnvTags(reflect.TypeFor[Config](), "", paths)
	return paths
})

func walkEnvTags(t reflect.Type, prefix string, into map[string]string) {
	for field := range fieldsOf(t) {
		key := field.Tag.Get("koanf")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if name := field.Tag.Get("env"); name != "" && name != "-" {
			into[name] = key
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			walkEnvTags(field.Type, key, into)
		}
	}
}

func fieldsOf(t reflect.Type) func(func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() && !yield(f) {
				return
			}
		}
	}
}
