package utils

import "reflect"

// ColumnTag names the struct tag that maps fields to table columns
var ColumnTag = "db"

// StructTagValues returns the column names of input in field order
func StructTagValues(input any) []string {
	var columns []string
	eachColumn(input, func(column string, _ reflect.Value) {
		columns = append(columns, column)
	})
	return columns
}

// StructToMap maps column names to field values, ready for SetMap
func StructToMap(input any) map[string]any {
	result := make(map[string]any)
	eachColumn(input, func(column string, value reflect.Value) {
		result[column] = value.Interface()
	})
	return result
}

func eachColumn(input any, fn func(column string, value reflect.Value)) {
	v := reflect.Indirect(reflect.ValueOf(input))
	if v.Kind() != reflect.Struct {
		panic("input must be a pointer to a struct or a struct")
	}

	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		column := field.Tag.Get(ColumnTag)
		if column == "" || column == "-" {
			continue
		}

		fn(column, v.Field(i))
	}
}
