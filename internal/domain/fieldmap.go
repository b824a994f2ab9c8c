package domain

import "fmt"

// Logical attribute names synchronized between the pipeline and the registry.
const (
	AttrProject     = "project"
	AttrStatus      = "status"
	AttrVersion     = "version"
	AttrProductName = "product_name"
	AttrVersionID   = "version_id"
	AttrTags        = "tags"
	AttrAssignee    = "assignee"
)

// FieldMapKeys lists the fixed keys of a FieldMap in a stable order.
var FieldMapKeys = []string{
	AttrProject,
	AttrAssignee,
	AttrVersion,
	AttrStatus,
	AttrTags,
	AttrProductName,
	AttrVersionID,
}

// FieldMap translates logical attribute names to registry field names.
// A key mapped to "" does not take part in the sync.
type FieldMap struct {
	Project     string `yaml:"project" json:"project"`
	Assignee    string `yaml:"assignee" json:"assignee"`
	Version     string `yaml:"version" json:"version"`
	Status      string `yaml:"status" json:"status"`
	Tags        string `yaml:"tags" json:"tags"`
	ProductName string `yaml:"product_name" json:"product_name"`
	VersionID   string `yaml:"version_id" json:"version_id"`
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Project:     "Project",
		Assignee:    "Assignee",
		Version:     "V",
		Status:      "Status",
		Tags:        "Types",
		ProductName: "VFX_ID",
		VersionID:   "VersionId",
	}
}

// Lookup returns the registry field name for a logical key.
func (m FieldMap) Lookup(key string) (string, bool) {
	var v string
	switch key {
	case AttrProject:
		v = m.Project
	case AttrAssignee:
		v = m.Assignee
	case AttrVersion:
		v = m.Version
	case AttrStatus:
		v = m.Status
	case AttrTags:
		v = m.Tags
	case AttrProductName:
		v = m.ProductName
	case AttrVersionID:
		v = m.VersionID
	}
	return v, v != ""
}

// Set assigns a registry field name to a logical key.
func (m *FieldMap) Set(key, value string) error {
	switch key {
	case AttrProject:
		m.Project = value
	case AttrAssignee:
		m.Assignee = value
	case AttrVersion:
		m.Version = value
	case AttrStatus:
		m.Status = value
	case AttrTags:
		m.Tags = value
	case AttrProductName:
		m.ProductName = value
	case AttrVersionID:
		m.VersionID = value
	default:
		return fmt.Errorf("unknown field key %q", key)
	}
	return nil
}

// Translate maps logical values to registry field names, dropping every key
// that has no registry field configured.
func (m FieldMap) Translate(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if name, ok := m.Lookup(k); ok {
			out[name] = v
		}
	}
	return out
}
