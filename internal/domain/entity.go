package domain

const (
	AttribRegistryID   = "registryId"
	AttribRegistryPath = "registryPath"
	AttribRegistryPush = "registryPush"
)

// Version is a pipeline version entity with staged writes. Nothing reaches
// the pipeline until the owning EntityHub commits.
type Version struct {
	ID        string
	ProductID string
	TaskID    string
	Number    int
	Status    string
	Immutable bool
	Attrib    map[string]string

	changes VersionChanges
}

// VersionChanges is the pending write set of a Version.
type VersionChanges struct {
	Status string
	Attrib map[string]string
}

func (c VersionChanges) Empty() bool {
	return c.Status == "" && len(c.Attrib) == 0
}

func (v *Version) SetStatus(status string) error {
	if v.Immutable {
		return ErrEntityImmutable
	}
	if status == v.Status {
		return nil
	}
	v.Status = status
	v.changes.Status = status
	return nil
}

func (v *Version) SetAttrib(key, value string) error {
	if v.Immutable {
		return ErrEntityImmutable
	}
	if v.Attrib == nil {
		v.Attrib = make(map[string]string)
	}
	if cur, ok := v.Attrib[key]; ok && cur == value {
		return nil
	}
	v.Attrib[key] = value
	if v.changes.Attrib == nil {
		v.changes.Attrib = make(map[string]string)
	}
	v.changes.Attrib[key] = value
	return nil
}

func (v *Version) Changes() VersionChanges { return v.changes }

func (v *Version) Dirty() bool { return !v.changes.Empty() }

// ClearChanges is called by hubs after a successful commit.
func (v *Version) ClearChanges() { v.changes = VersionChanges{} }
