// Package permission implements the workspace permission model: a closed set
// of boolean permission keys, role templates, preset modes and the
// per-workspace resolution of a user's effective permission set.
package permission

import "strings"

// Role is the platform-asserted role carried by a join ticket.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
)

// ParseRole maps a ticket role claim to a Role. Unknown or empty values
// default to STUDENT.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleTeacher:
		return RoleTeacher
	case RoleParent:
		return RoleParent
	default:
		return RoleStudent
	}
}

// Set is a total mapping over the closed set of permission keys. The zero
// value has every permission denied.
type Set struct {
	CanView              bool `json:"canView"`
	CanEditBlocks        bool `json:"canEditBlocks"`
	CanAddBlocks         bool `json:"canAddBlocks"`
	CanDeleteBlocks      bool `json:"canDeleteBlocks"`
	CanEditSprites       bool `json:"canEditSprites"`
	CanAddSprites        bool `json:"canAddSprites"`
	CanDeleteSprites     bool `json:"canDeleteSprites"`
	CanEditVariables     bool `json:"canEditVariables"`
	CanAddVariables      bool `json:"canAddVariables"`
	CanDeleteVariables   bool `json:"canDeleteVariables"`
	CanRunCode           bool `json:"canRunCode"`
	CanStopCode          bool `json:"canStopCode"`
	CanChat              bool `json:"canChat"`
	CanDraw              bool `json:"canDraw"`
	CanUploadAssets      bool `json:"canUploadAssets"`
	CanEditCostumes      bool `json:"canEditCostumes"`
	CanEditSounds        bool `json:"canEditSounds"`
	CanRecordAudio       bool `json:"canRecordAudio"`
	CanUseCamera         bool `json:"canUseCamera"`
	CanShareProject      bool `json:"canShareProject"`
	CanManageUsers       bool `json:"canManageUsers"`
	CanChangePermissions bool `json:"canChangePermissions"`
	CanKickUsers         bool `json:"canKickUsers"`
	CanLockWorkspace     bool `json:"canLockWorkspace"`
}

// keyFields maps each wire-level permission key to its field. Iteration
// order is fixed by the keys slice below.
var keyFields = map[string]func(*Set) *bool{
	"canView":              func(s *Set) *bool { return &s.CanView },
	"canEditBlocks":        func(s *Set) *bool { return &s.CanEditBlocks },
	"canAddBlocks":         func(s *Set) *bool { return &s.CanAddBlocks },
	"canDeleteBlocks":      func(s *Set) *bool { return &s.CanDeleteBlocks },
	"canEditSprites":       func(s *Set) *bool { return &s.CanEditSprites },
	"canAddSprites":        func(s *Set) *bool { return &s.CanAddSprites },
	"canDeleteSprites":     func(s *Set) *bool { return &s.CanDeleteSprites },
	"canEditVariables":     func(s *Set) *bool { return &s.CanEditVariables },
	"canAddVariables":      func(s *Set) *bool { return &s.CanAddVariables },
	"canDeleteVariables":   func(s *Set) *bool { return &s.CanDeleteVariables },
	"canRunCode":           func(s *Set) *bool { return &s.CanRunCode },
	"canStopCode":          func(s *Set) *bool { return &s.CanStopCode },
	"canChat":              func(s *Set) *bool { return &s.CanChat },
	"canDraw":              func(s *Set) *bool { return &s.CanDraw },
	"canUploadAssets":      func(s *Set) *bool { return &s.CanUploadAssets },
	"canEditCostumes":      func(s *Set) *bool { return &s.CanEditCostumes },
	"canEditSounds":        func(s *Set) *bool { return &s.CanEditSounds },
	"canRecordAudio":       func(s *Set) *bool { return &s.CanRecordAudio },
	"canUseCamera":         func(s *Set) *bool { return &s.CanUseCamera },
	"canShareProject":      func(s *Set) *bool { return &s.CanShareProject },
	"canManageUsers":       func(s *Set) *bool { return &s.CanManageUsers },
	"canChangePermissions": func(s *Set) *bool { return &s.CanChangePermissions },
	"canKickUsers":         func(s *Set) *bool { return &s.CanKickUsers },
	"canLockWorkspace":     func(s *Set) *bool { return &s.CanLockWorkspace },
}

var keys = []string{
	"canView", "canEditBlocks", "canAddBlocks", "canDeleteBlocks",
	"canEditSprites", "canAddSprites", "canDeleteSprites",
	"canEditVariables", "canAddVariables", "canDeleteVariables",
	"canRunCode", "canStopCode", "canChat", "canDraw", "canUploadAssets",
	"canEditCostumes", "canEditSounds", "canRecordAudio", "canUseCamera",
	"canShareProject", "canManageUsers", "canChangePermissions",
	"canKickUsers", "canLockWorkspace",
}

// Keys returns the closed set of permission keys in wire order.
func Keys() []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// ValidKey reports whether key is one of the known permission keys.
func ValidKey(key string) bool {
	_, ok := keyFields[key]
	return ok
}

// Value returns the boolean for key. ok is false for unknown keys.
func (s *Set) Value(key string) (value, ok bool) {
	f, ok := keyFields[key]
	if !ok {
		return false, false
	}
	return *f(s), true
}

// Apply sets key to value in place. Returns false for unknown keys.
func (s *Set) Apply(key string, value bool) bool {
	f, ok := keyFields[key]
	if !ok {
		return false
	}
	*f(s) = value
	return true
}

// AdminTemplate returns the OWNER/ADMIN template: every permission granted.
func AdminTemplate() Set {
	var s Set
	for _, k := range keys {
		s.Apply(k, true)
	}
	return s
}

// TeacherTemplate returns the TEACHER template: everything except sharing
// the project and locking the workspace.
func TeacherTemplate() Set {
	s := AdminTemplate()
	s.CanShareProject = false
	s.CanLockWorkspace = false
	return s
}

// StudentTemplate returns the STUDENT template: view and chat only.
func StudentTemplate() Set {
	return Set{CanView: true, CanChat: true}
}

// TemplateForRole returns the canonical template for a role. PARENT and
// unknown roles resolve to the student template.
func TemplateForRole(role Role) Set {
	switch role {
	case RoleAdmin:
		return AdminTemplate()
	case RoleTeacher:
		return TeacherTemplate()
	default:
		return StudentTemplate()
	}
}

// Preset modes replace the workspace's global permission set wholesale.
const (
	PresetPresentation = "presentation"
	PresetWork         = "work"
	PresetTest         = "test"
	PresetRestricted   = "restricted"
)

// PresetTemplate returns the replacement global set for a preset mode.
// Unlisted keys stay false: presets replace the previous global, they do
// not merge with it.
func PresetTemplate(mode string) (Set, bool) {
	switch mode {
	case PresetPresentation:
		return Set{CanView: true}, true
	case PresetWork:
		return Set{
			CanView:        true,
			CanEditBlocks:  true,
			CanAddBlocks:   true,
			CanEditSprites: true,
			CanRunCode:     true,
			CanChat:        true,
		}, true
	case PresetTest:
		return Set{CanView: true, CanRunCode: true}, true
	case PresetRestricted:
		return Set{CanView: true}, true
	default:
		return Set{}, false
	}
}
