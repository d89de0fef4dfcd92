package permission

// State holds one workspace's permission configuration: the global set,
// per-user overrides, recorded roles and the active preset marker.
//
// State carries no lock of its own; it is owned by a workspace and all
// access is serialized under that workspace's writer discipline.
type State struct {
	global     Set
	presetMode string
	overrides  map[string]Set
	roles      map[string]Role
}

// NewState returns a permission state with STUDENT globals, the default
// for a freshly created workspace.
func NewState() *State {
	return &State{
		global:    StudentTemplate(),
		overrides: make(map[string]Set),
		roles:     make(map[string]Role),
	}
}

// SetRole records the platform-asserted role for a user.
func (st *State) SetRole(userID string, role Role) {
	st.roles[userID] = role
}

// Role returns the recorded role for a user, defaulting to STUDENT.
func (st *State) Role(userID string) Role {
	if r, ok := st.roles[userID]; ok {
		return r
	}
	return RoleStudent
}

// EffectiveFor resolves the effective permission set for a user:
// ADMIN role wins outright, a TEACHER without an override gets the
// teacher template, an override wins otherwise, and everyone else
// falls back to the workspace globals.
func (st *State) EffectiveFor(userID string) Set {
	role := st.roles[userID]
	override, hasOverride := st.overrides[userID]
	switch {
	case role == RoleAdmin:
		return AdminTemplate()
	case role == RoleTeacher && !hasOverride:
		return TeacherTemplate()
	case hasOverride:
		return override
	default:
		return st.global
	}
}

// Global returns a copy of the current global permission set.
func (st *State) Global() Set {
	return st.global
}

// PresetMode returns the active preset mode, or "" if none was applied.
func (st *State) PresetMode() string {
	return st.presetMode
}

// UpdateGlobal sets one key in the global set. Returns false for
// unknown keys.
func (st *State) UpdateGlobal(key string, value bool) bool {
	return st.global.Apply(key, value)
}

// UpdateUser sets one key in the user's override, initialising the
// override from the current global when the user has none yet.
// Returns false for unknown keys.
func (st *State) UpdateUser(userID, key string, value bool) bool {
	if !ValidKey(key) {
		return false
	}
	override, ok := st.overrides[userID]
	if !ok {
		override = st.global
	}
	override.Apply(key, value)
	st.overrides[userID] = override
	return true
}

// SetUserAsAdmin records the ADMIN role for a user. Any override is
// discarded; the admin template always wins during resolution.
func (st *State) SetUserAsAdmin(userID string) {
	st.roles[userID] = RoleAdmin
	delete(st.overrides, userID)
}

// SetUserAsTeacher records the TEACHER role for a user and discards any
// override so the teacher template applies.
func (st *State) SetUserAsTeacher(userID string) {
	st.roles[userID] = RoleTeacher
	delete(st.overrides, userID)
}

// ClearUserOverride removes a user's override, returning them to
// role-template or global resolution.
func (st *State) ClearUserOverride(userID string) {
	delete(st.overrides, userID)
}

// ApplyPreset replaces the global set with the preset template and
// records the mode. Overrides are left in place. Returns false for
// unknown modes.
func (st *State) ApplyPreset(mode string) bool {
	tmpl, ok := PresetTemplate(mode)
	if !ok {
		return false
	}
	st.global = tmpl
	st.presetMode = mode
	return true
}
