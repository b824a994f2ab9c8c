package application

import "github.com/davarch/regsync/internal/domain"

// fieldTypes classifies logical attributes into registry column types.
// Keys missing here are never created as columns.
var fieldTypes = map[string]domain.FieldType{
	domain.AttrProject:     domain.FieldSingleLineText,
	domain.AttrVersion:     domain.FieldSingleLineText,
	domain.AttrProductName: domain.FieldMultilineText,
	domain.AttrVersionID:   domain.FieldMultilineText,
	domain.AttrStatus:      domain.FieldSingleSelect,
	domain.AttrTags:        domain.FieldMultiSelect,
}

// BuildTableSchema derives the schema of a new sync table from the mapped
// fields. Select options come from the project status list and task types.
func BuildTableSchema(name string, fm domain.FieldMap, statuses, taskTypes []string) domain.TableSchema {
	schema := domain.TableSchema{Name: name}
	for _, key := range domain.FieldMapKeys {
		field, ok := fm.Lookup(key)
		if !ok {
			continue
		}
		typ, ok := fieldTypes[key]
		if !ok {
			continue
		}

		fs := domain.FieldSchema{Name: field, Type: typ}
		switch key {
		case domain.AttrStatus:
			fs.Choices = uniq(statuses)
		case domain.AttrTags:
			fs.Choices = uniq(taskTypes)
		}
		schema.Fields = append(schema.Fields, fs)
	}
	return schema
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
