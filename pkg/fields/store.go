package fields

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxStringLength is the longest accepted STRING value in characters.
	MaxStringLength = 5000
	// MaxTextLength is the longest accepted TEXT value in characters.
	MaxTextLength = 30000

	valueSeparator = ", "
)

// AttachmentStore resolves attachments and keeps their linkage to FILE fields.
type AttachmentStore interface {
	Attachments(ctx context.Context, accountID int64, ids []int64) ([]*models.Attachment, error)
	Link(ctx context.Context, fieldID string, ids []int64) error
	Unlink(ctx context.Context, ids []int64) error
}

type setter func(s *Store, ctx context.Context, account *models.Account, field *models.TaskField, raw any) error

// Store validates raw values and writes the normalized value of task fields.
type Store struct {
	logger      *slog.Logger
	attachments AttachmentStore
	validate    *validator.Validate
	setters     map[models.FieldType]setter
}

// NewStore creates a field store. attachments may be nil when FILE fields are not used.
func NewStore(logger *slog.Logger, attachments AttachmentStore) *Store {
	return &Store{
		logger:      logger.With("module", "field_store"),
		attachments: attachments,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		setters: map[models.FieldType]setter{
			models.FieldTypeString:   (*Store).setString,
			models.FieldTypeText:     (*Store).setText,
			models.FieldTypeURL:      (*Store).setURL,
			models.FieldTypeDate:     (*Store).setDate,
			models.FieldTypeUser:     (*Store).setUser,
			models.FieldTypeFile:     (*Store).setFile,
			models.FieldTypeDropdown: (*Store).setSingleSelection,
			models.FieldTypeRadio:    (*Store).setSingleSelection,
			models.FieldTypeCheckbox: (*Store).setMultiSelection,
		},
	}
}

// GetValue returns the stored human-readable value of the field.
func (s *Store) GetValue(field *models.TaskField) string {
	return field.Value
}

// SetValue validates raw against the field type and stores the normalized value.
// The field is left untouched when validation fails.
func (s *Store) SetValue(ctx context.Context, account *models.Account, field *models.TaskField, raw any) (string, error) {
	if isBlank(raw) {
		if field.IsRequired {
			return "", NewValidationError(field.APIName, "value is required", ErrRequired)
		}

		clearField(field)

		return "", nil
	}

	set, ok := s.setters[field.Type]
	if !ok {
		return "", NewValidationError(field.APIName, fmt.Sprintf("type %q is not supported", field.Type), ErrUnknownType)
	}

	if err := set(s, ctx, account, field, raw); err != nil {
		return "", err
	}

	s.logger.DebugContext(ctx, "Field value stored", "field", field.APIName, "type", field.Type)

	return field.Value, nil
}

// ValidateRequired returns an error for the first required field without a value.
func ValidateRequired(fields []*models.TaskField) error {
	for _, field := range fields {
		if field.IsRequired && field.IsEmpty() {
			return NewValidationError(field.APIName, "value is required", ErrRequired)
		}
	}

	return nil
}

// SyncAttachments links attachments added to a FILE field and unlinks the removed ones.
func (s *Store) SyncAttachments(ctx context.Context, field *models.TaskField, previous []*models.Attachment) error {
	if s.attachments == nil {
		return nil
	}

	current := attachmentIDs(field.Attachments)
	before := attachmentIDs(previous)

	var added, removed []int64

	for _, id := range current {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}

	for _, id := range before {
		if !slices.Contains(current, id) {
			removed = append(removed, id)
		}
	}

	if len(added) > 0 {
		if err := s.attachments.Link(ctx, field.ID, added); err != nil {
			return fmt.Errorf("failed to link attachments of field %s: %w", field.APIName, err)
		}
	}

	if len(removed) > 0 {
		if err := s.attachments.Unlink(ctx, removed); err != nil {
			return fmt.Errorf("failed to unlink attachments of field %s: %w", field.APIName, err)
		}
	}

	return nil
}

// FromTemplate materializes an empty task field from its template.
func FromTemplate(template *models.FieldTemplate) *models.TaskField {
	field := &models.TaskField{
		ID:          uuid.NewString(),
		APIName:     template.APIName,
		Name:        template.Name,
		Description: template.Description,
		Type:        template.Type,
		IsRequired:  template.IsRequired,
		Order:       template.Order,
	}

	for _, selection := range template.Selections {
		field.Selections = append(field.Selections, &models.FieldSelection{
			ID:      selection.ID,
			APIName: selection.APIName,
			Value:   selection.Value,
		})
	}

	return field
}

func (s *Store) setString(_ context.Context, _ *models.Account, field *models.TaskField, raw any) error {
	return setPlain(field, raw, MaxStringLength)
}

func (s *Store) setText(_ context.Context, _ *models.Account, field *models.TaskField, raw any) error {
	return setPlain(field, raw, MaxTextLength)
}

func setPlain(field *models.TaskField, raw any, limit int) error {
	value, ok := raw.(string)
	if !ok {
		return NewValidationError(field.APIName, "value must be a string", ErrInvalidValue)
	}

	if utf8.RuneCountInString(value) > limit {
		return NewValidationError(field.APIName, fmt.Sprintf("value must be at most %d characters", limit), ErrInvalidValue)
	}

	field.Value = value
	field.ClearValue = StripMarkdown(value)

	return nil
}

func (s *Store) setURL(_ context.Context, _ *models.Account, field *models.TaskField, raw any) error {
	value, ok := raw.(string)
	if !ok {
		return NewValidationError(field.APIName, "value must be a string", ErrInvalidValue)
	}

	value = strings.TrimSpace(value)
	if err := s.validate.Var(value, "url"); err != nil {
		return NewValidationError(field.APIName, "value must be a valid URL", ErrInvalidValue)
	}

	field.Value = value
	field.ClearValue = value

	return nil
}

func (s *Store) setDate(_ context.Context, _ *models.Account, field *models.TaskField, raw any) error {
	value, ok := raw.(string)
	if !ok {
		return NewValidationError(field.APIName, "value must be a date string", ErrInvalidValue)
	}

	date, ok := ParseDate(value)
	if !ok {
		return NewValidationError(field.APIName, fmt.Sprintf("%q is not a valid date", value), ErrInvalidValue)
	}

	field.Value = FormatDate(date)
	field.ClearValue = field.Value

	return nil
}

func (s *Store) setUser(_ context.Context, account *models.Account, field *models.TaskField, raw any) error {
	id, ok := toID(raw)
	if !ok {
		return NewValidationError(field.APIName, "value must be a user id", ErrInvalidValue)
	}

	if account == nil {
		return NewValidationError(field.APIName, fmt.Sprintf("user %d not found", id), ErrInvalidValue)
	}

	user, ok := account.User(id)
	if !ok || !user.IsActive {
		return NewValidationError(field.APIName, fmt.Sprintf("user %d not found", id), ErrInvalidValue)
	}

	field.UserID = &user.ID
	field.Value = user.DisplayName()
	field.ClearValue = field.Value

	return nil
}

func (s *Store) setFile(ctx context.Context, account *models.Account, field *models.TaskField, raw any) error {
	if s.attachments == nil {
		return NewValidationError(field.APIName, "attachments are not available", ErrInvalidValue)
	}

	items := toList(raw)
	ids := make([]int64, 0, len(items))

	for _, item := range items {
		id, ok := toID(item)
		if !ok {
			return NewValidationError(field.APIName, "value must be a list of attachment ids", ErrInvalidValue)
		}

		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	var accountID int64
	if account != nil {
		accountID = account.ID
	}

	attachments, err := s.attachments.Attachments(ctx, accountID, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve attachments of field %s: %w", field.APIName, err)
	}

	if len(attachments) != len(ids) {
		return NewValidationError(field.APIName, "some attachments were not found", ErrInvalidValue)
	}

	urls := make([]string, 0, len(attachments))
	for _, attachment := range attachments {
		urls = append(urls, attachment.URL)
	}

	field.Attachments = attachments
	field.Value = strings.Join(urls, valueSeparator)
	field.ClearValue = field.Value

	return nil
}

func (s *Store) setSingleSelection(_ context.Context, _ *models.Account, field *models.TaskField, raw any) error {
	if _, isList := raw.([]any); isList {
		return NewValidationError(field.APIName, "only one selection is allowed", ErrInvalidValue)
	}

	ref, ok := toRef(raw)
	if !ok {
		return NewValidationError(field.APIName, "value must reference a selection", ErrInvalidValue)
	}

	chosen := FindSelection(field, ref)
	if chosen == nil {
		return NewValidationError(field.APIName, fmt.Sprintf("selection %q not found", ref), ErrInvalidValue)
	}

	for _, selection := range field.Selections {
		selection.IsSelected = selection == chosen
	}

	field.Value = chosen.Value
	field.ClearValue = chosen.Value

	return nil
}

func (s *Store) setMultiSelection(_ context.Context, _ *models.Account, field *models.TaskField, raw any) error {
	chosen := make([]*models.FieldSelection, 0)

	for _, item := range toList(raw) {
		ref, ok := toRef(item)
		if !ok {
			return NewValidationError(field.APIName, "value must reference selections", ErrInvalidValue)
		}

		selection := FindSelection(field, ref)
		if selection == nil {
			return NewValidationError(field.APIName, fmt.Sprintf("selection %q not found", ref), ErrInvalidValue)
		}

		chosen = append(chosen, selection)
	}

	values := make([]string, 0, len(chosen))

	for _, selection := range field.Selections {
		selection.IsSelected = slices.Contains(chosen, selection)
		if selection.IsSelected {
			values = append(values, selection.Value)
		}
	}

	field.Value = strings.Join(values, valueSeparator)
	field.ClearValue = field.Value

	return nil
}

// FindSelection resolves a selection by api_name, falling back to its legacy numeric id.
func FindSelection(field *models.TaskField, ref string) *models.FieldSelection {
	for _, selection := range field.Selections {
		if selection.APIName != "" && selection.APIName == ref {
			return selection
		}
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil
	}

	for _, selection := range field.Selections {
		if selection.ID == id {
			return selection
		}
	}

	return nil
}

func clearField(field *models.TaskField) {
	field.Value = ""
	field.ClearValue = ""
	field.UserID = nil
	field.Attachments = nil

	for _, selection := range field.Selections {
		selection.IsSelected = false
	}
}

func isBlank(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case []int64:
		return len(v) == 0
	}

	return false
}

func toList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []string:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item
		}

		return items
	case []int64:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item
		}

		return items
	}

	return []any{raw}
}

func toID(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case json.Number:
		id, err := v.Int64()

		return id, err == nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)

		return id, err == nil
	}

	return 0, false
}

func toRef(raw any) (string, bool) {
	if value, ok := raw.(string); ok {
		value = strings.TrimSpace(value)

		return value, value != ""
	}

	id, ok := toID(raw)
	if !ok {
		return "", false
	}

	return strconv.FormatInt(id, 10), true
}

func attachmentIDs(attachments []*models.Attachment) []int64 {
	ids := make([]int64, 0, len(attachments))
	for _, attachment := range attachments {
		ids = append(ids, attachment.ID)
	}

	return ids
}
