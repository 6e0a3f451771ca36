package repo

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"

	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

// timeLayouts are tried in order when a time column arrives as text
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var timeType = reflect.TypeOf(time.Time{})

func stringToTimeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != timeType {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, err
}

// decode copies input, a row or attribute map, onto out
func decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// castBoolean coerces a stored value to a strict bool. Text that is not
// a recognised boolean counts as true when non-empty.
func castBoolean(value interface{}) bool {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return false
		}
		b, err := cast.ToBoolE(s)
		if err != nil {
			return true
		}
		return b
	}

	b, err := cast.ToBoolE(value)
	if err != nil {
		return !reflect.ValueOf(value).IsZero()
	}
	return b
}

func castValue(field schema.FieldDescriptor, value interface{}) interface{} {
	switch field.Cast {
	case schema.CastBoolean:
		return castBoolean(value)
	default:
		return value
	}
}

// projectRow keeps the declared fields of model, with casts applied, plus
// keep columns and loaded relation properties. Models without declared
// fields keep every column.
func projectRow(reg *schema.Registry, model string, row query.Row, keep []string) query.Row {
	fields := reg.GetFields(model)
	out := make(query.Row, len(fields)+len(keep))

	if len(fields) == 0 {
		for k, v := range row {
			out[k] = v
		}
	} else {
		for _, f := range fields {
			if v, ok := row[f.Name]; ok {
				out[f.Name] = castValue(f, v)
			}
		}
		for _, k := range keep {
			if v, ok := row[k]; ok {
				out[k] = v
			}
		}
	}

	for _, rel := range reg.GetRelations(model) {
		value, ok := row[rel.Property]
		if !ok {
			continue
		}
		var pivotColumns []string
		if rel.Kind == schema.BelongsToMany {
			pivotColumns = rel.Pivot
		}
		out[rel.Property] = projectRelated(reg, rel.Target, value, pivotColumns)
	}
	return out
}

func projectRelated(reg *schema.Registry, model string, value interface{}, keep []string) interface{} {
	switch v := value.(type) {
	case query.Row:
		return projectRow(reg, model, v, keep)
	case []query.Row:
		out := make([]query.Row, len(v))
		for i, row := range v {
			out[i] = projectRow(reg, model, row, keep)
		}
		return out
	default:
		return value
	}
}

// formatTree calls Format on every loaded related instance under v, then
// on v itself. v must be an addressable struct value.
func formatTree(reg *schema.Registry, model string, v reflect.Value) {
	b := bindingOf(v.Type())
	for _, rel := range reg.GetRelations(model) {
		if fv, ok := b.field(v, rel.Property); ok {
			formatValue(reg, rel.Target, fv)
		}
	}
	if f, ok := v.Addr().Interface().(Formatter); ok {
		f.Format()
	}
}

func formatValue(reg *schema.Registry, model string, v reflect.Value) {
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() && v.Elem().Kind() == reflect.Struct {
			formatTree(reg, model, v.Elem())
		}
	case reflect.Struct:
		formatTree(reg, model, v)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			formatValue(reg, model, v.Index(i))
		}
	}
}
