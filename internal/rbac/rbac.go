package rbac

type Action string

const (
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Capabilities are the per-grant flags a user holds on a single note.
type Capabilities struct {
	Read   bool
	Edit   bool
	Delete bool
}

// Owner is the capability set of the note creator's grant.
func Owner() Capabilities {
	return Capabilities{Read: true, Edit: true, Delete: true}
}

// Default is what a fresh share grants when no flags are supplied.
func Default() Capabilities {
	return Capabilities{Read: true}
}

func Can(caps Capabilities, action Action) bool {
	switch action {
	case ActionRead:
		return caps.Read
	case ActionEdit:
		return caps.Edit
	case ActionDelete:
		return caps.Delete
	default:
		return false
	}
}

// Patch overlays the supplied flags on caps. Nil pointers keep the prior value.
func Patch(caps Capabilities, read, edit, del *bool) Capabilities {
	if read != nil {
		caps.Read = *read
	}
	if edit != nil {
		caps.Edit = *edit
	}
	if del != nil {
		caps.Delete = *del
	}
	return caps
}
