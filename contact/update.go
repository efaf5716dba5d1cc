package contact

// FieldAction distinguishes "leave unchanged" from "set" from "clear" in a
// partial profile update. The zero value is FieldUnchanged, so an empty
// ProfileUpdate is a no-op.
type FieldAction uint8

const (
	// FieldUnchanged leaves the field as it is.
	FieldUnchanged FieldAction = iota
	// FieldSet replaces the field with the provided value.
	FieldSet
	// FieldClear resets the field to its empty state.
	FieldClear
)

// StringField is an optional string update.
type StringField struct {
	Action FieldAction
	Value  string
}

// TagsField is an optional tag-set update.
type TagsField struct {
	Action FieldAction
	Value  []string
}

// Set returns a StringField that replaces the current value.
func Set(value string) StringField {
	return StringField{Action: FieldSet, Value: value}
}

// Clear returns a StringField that resets the field.
func Clear() StringField {
	return StringField{Action: FieldClear}
}

// SetTags returns a TagsField that replaces the current tag set.
func SetTags(tags []string) TagsField {
	return TagsField{Action: FieldSet, Value: tags}
}

// ClearTags returns a TagsField that removes all tags.
func ClearTags() TagsField {
	return TagsField{Action: FieldClear}
}

// ProfileUpdate is a partial update of a friend's profile. Fields left at
// their zero value are not touched. Clearing the custom display name
// removes the override so the nickname shows again; clearing the nickname
// itself is not allowed.
type ProfileUpdate struct {
	Nickname          StringField
	Notes             StringField
	Tags              TagsField
	CustomDisplayName StringField
}
