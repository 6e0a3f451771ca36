package repo

import (
	"reflect"
	"strings"
	"sync"

	"github.com/spf13/cast"
)

// binding maps db tags of a model struct to its top-level fields
type binding struct {
	typ    reflect.Type
	fields map[string]int
}

var bindings sync.Map // reflect.Type -> *binding

func bindingOf(typ reflect.Type) *binding {
	if b, ok := bindings.Load(typ); ok {
		return b.(*binding)
	}

	b := &binding{typ: typ, fields: make(map[string]int)}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("db"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		b.fields[name] = i
	}

	actual, _ := bindings.LoadOrStore(typ, b)
	return actual.(*binding)
}

// field returns the struct field tagged column on v, a struct value
func (b *binding) field(v reflect.Value, column string) (reflect.Value, bool) {
	i, ok := b.fields[column]
	if !ok {
		return reflect.Value{}, false
	}
	return v.Field(i), true
}

// values snapshots the columns of model, dereferencing pointers. Only
// the given columns are read.
func (b *binding) values(model interface{}, columns []string) map[string]interface{} {
	v := reflect.ValueOf(model).Elem()
	out := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		fv, ok := b.field(v, col)
		if !ok {
			continue
		}
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				out[col] = nil
				continue
			}
			fv = fv.Elem()
		}
		out[col] = fv.Interface()
	}
	return out
}

// id returns the model's primary key as a string, or "" when unset
func (b *binding) id(model interface{}) string {
	value, ok := b.values(model, []string{"id"})["id"]
	if !ok || value == nil {
		return ""
	}
	return cast.ToString(value)
}
