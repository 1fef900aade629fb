package models

// FieldType is the declared type of a template or task field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypeURL      FieldType = "url"
	FieldTypeDate     FieldType = "date"
	FieldTypeUser     FieldType = "user"
	FieldTypeFile     FieldType = "file"
	FieldTypeDropdown FieldType = "dropdown"
	FieldTypeRadio    FieldType = "radio"
	FieldTypeCheckbox FieldType = "checkbox"
)

// FieldTypes lists every supported field type.
var FieldTypes = []FieldType{
	FieldTypeString,
	FieldTypeText,
	FieldTypeURL,
	FieldTypeDate,
	FieldTypeUser,
	FieldTypeFile,
	FieldTypeDropdown,
	FieldTypeRadio,
	FieldTypeCheckbox,
}

// IsSelection reports whether values of the type are chosen from predefined selections.
func (t FieldType) IsSelection() bool {
	return t == FieldTypeDropdown || t == FieldTypeRadio || t == FieldTypeCheckbox
}

// IsValid reports whether t is one of the supported field types.
func (t FieldType) IsValid() bool {
	for _, known := range FieldTypes {
		if t == known {
			return true
		}
	}

	return false
}

// FieldSelection is one choice of a dropdown, radio or checkbox field.
type FieldSelection struct {
	ID         int64  `json:"id"` // Legacy numeric reference still accepted by predicates
	APIName    string `json:"api_name"`
	Value      string `json:"value"`
	IsSelected bool   `json:"is_selected"`
}

// Attachment is a stored file linked to a FILE field.
type Attachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TaskField is a typed value container attached to a task or to the kickoff.
type TaskField struct {
	ID          string            `json:"id"`
	APIName     string            `json:"api_name"    validate:"required"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        FieldType         `json:"type"        validate:"required"`
	IsRequired  bool              `json:"is_required"`
	Order       int               `json:"order"`
	Value       string            `json:"value"`
	ClearValue  string            `json:"clear_value"`
	UserID      *int64            `json:"user_id,omitempty"`
	Selections  []*FieldSelection `json:"selections,omitempty"`
	Attachments []*Attachment     `json:"attachments,omitempty"`
}

// IsEmpty reports whether the field holds no value.
func (f *TaskField) IsEmpty() bool {
	switch f.Type {
	case FieldTypeUser:
		return f.UserID == nil
	case FieldTypeFile:
		return len(f.Attachments) == 0 && f.Value == ""
	case FieldTypeDropdown, FieldTypeRadio, FieldTypeCheckbox:
		return len(f.SelectedSelections()) == 0
	default:
		return f.Value == ""
	}
}

// SelectedSelections returns the selections currently marked as selected.
func (f *TaskField) SelectedSelections() []*FieldSelection {
	selected := make([]*FieldSelection, 0, len(f.Selections))

	for _, selection := range f.Selections {
		if selection.IsSelected {
			selected = append(selected, selection)
		}
	}

	return selected
}
