package progression

// ProfilePatch - частичное обновление профиля.
// nil означает "не менять поле"; каждое поле применяется независимо.
type ProfilePatch struct {
	DisplayName *string           `json:"display_name,omitempty" validate:"omitempty,min=1,max=64"`
	Bio         *string           `json:"bio,omitempty" validate:"omitempty,max=500"`
	Timezone    *string           `json:"timezone,omitempty" validate:"omitempty,max=64"`
	Preferences *PreferencesPatch `json:"preferences,omitempty"`
}

// PreferencesPatch - частичное обновление настроек.
type PreferencesPatch struct {
	Notifications *bool   `json:"notifications,omitempty"`
	PublicProfile *bool   `json:"public_profile,omitempty"`
	Theme         *string `json:"theme,omitempty" validate:"omitempty,oneof=light dark system"`
}

// IsEmpty сообщает, что патч ничего не меняет.
func (p ProfilePatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Bio == nil && p.Timezone == nil &&
		(p.Preferences == nil || p.Preferences.isEmpty())
}

func (p *PreferencesPatch) isEmpty() bool {
	return p.Notifications == nil && p.PublicProfile == nil && p.Theme == nil
}

// MergeProfile возвращает новый профиль с применёнными полями патча.
// Вложенные настройки сливаются поле за полем.
func MergeProfile(current Profile, patch ProfilePatch) Profile {
	out := current
	if patch.DisplayName != nil {
		out.DisplayName = *patch.DisplayName
	}
	if patch.Bio != nil {
		out.Bio = *patch.Bio
	}
	if patch.Timezone != nil {
		out.Timezone = *patch.Timezone
	}
	if patch.Preferences != nil {
		out.Preferences = mergePreferences(current.Preferences, *patch.Preferences)
	}
	return out
}

func mergePreferences(current Preferences, patch PreferencesPatch) Preferences {
	out := current
	if patch.Notifications != nil {
		out.Notifications = *patch.Notifications
	}
	if patch.PublicProfile != nil {
		out.PublicProfile = *patch.PublicProfile
	}
	if patch.Theme != nil {
		out.Theme = *patch.Theme
	}
	return out
}
