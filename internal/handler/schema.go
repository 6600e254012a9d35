package handler

import (
	"github.com/claudebench/claudebench/internal/cberr"
)

// FieldType names the accepted shape of a schema field. Kept deliberately
// small — spec.md §6 scopes the operation surface to a handful of fixed
// shapes, not a general JSON Schema implementation.
type FieldType int

const (
	TypeAny FieldType = iota
	TypeString
	TypeInt
	TypeBool
	TypeObject
	TypeArray
)

// Field describes one parameter in a Schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema is a handler's declared input or output shape (spec.md §4.6.1).
type Schema struct {
	Fields []Field
}

// Validate checks params against the schema, returning a cberr with
// field-level detail on the first violation (spec.md §4.6.1).
func (s Schema) Validate(params map[string]interface{}) error {
	for _, f := range s.Fields {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				return cberr.WithDetail(cberr.KindInvalidParams, "missing required field", cberr.Detail{"field": f.Name})
			}
			continue
		}
		if v == nil {
			continue
		}
		if !matches(f.Type, v) {
			return cberr.WithDetail(cberr.KindInvalidParams, "field has wrong type", cberr.Detail{"field": f.Name})
		}
	}
	return nil
}

func matches(t FieldType, v interface{}) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt:
		switch v.(type) {
		case int, int64, float64:
			return true
		default:
			return false
		}
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	default:
		return true
	}
}
