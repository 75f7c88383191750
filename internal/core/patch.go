package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Field is an optional value with explicit presence. The zero Field is
// "not set" and is left out of update payloads.
type Field[T any] struct {
	Value T
	Set   bool
}

// Some returns a Field that is present with v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// ExpensePatch carries a partial replacement of an expense's fields.
type ExpensePatch struct {
	Description   Field[string]
	Amount        Field[Money]
	Category      Field[Category]
	PaymentMethod Field[PaymentMethod]
	Date          Field[time.Time]
}

// IsEmpty reports whether no field is set.
func (p ExpensePatch) IsEmpty() bool {
	return !p.Description.Set && !p.Amount.Set && !p.Category.Set && !p.PaymentMethod.Set && !p.Date.Set
}

// Validate applies the same rules as Draft to the fields that are set.
func (p ExpensePatch) Validate() error {
	if p.IsEmpty() {
		return Validation(ErrEmptyPatch)
	}
	if p.Description.Set {
		d := strings.TrimSpace(p.Description.Value)
		if d == "" {
			return Validation(ErrEmptyDescription)
		}
		if len(d) > 200 {
			return Validation(ErrDescriptionTooLong)
		}
	}
	if p.Amount.Set && !p.Amount.Value.IsPositive() {
		return Validation(ErrInvalidAmount)
	}
	if p.Category.Set && !p.Category.Value.Valid() {
		return Validation(ErrInvalidCategory)
	}
	if p.PaymentMethod.Set && !p.PaymentMethod.Value.Valid() {
		return Validation(ErrInvalidPaymentMethod)
	}
	if p.Date.Set && p.Date.Value.IsZero() {
		return Validation(ErrInvalidDate)
	}
	return nil
}

// Apply returns e with the set fields replaced.
func (p ExpensePatch) Apply(e Expense) Expense {
	if p.Description.Set {
		e.Description = p.Description.Value
	}
	if p.Amount.Set {
		e.Amount = p.Amount.Value
	}
	if p.Category.Set {
		e.Category = p.Category.Value
	}
	if p.PaymentMethod.Set {
		e.PaymentMethod = p.PaymentMethod.Value
	}
	if p.Date.Set {
		e.Date = p.Date.Value
	}
	return e
}

// MarshalJSON writes only the fields that are set.
func (p ExpensePatch) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 5)
	if p.Description.Set {
		out["description"] = p.Description.Value
	}
	if p.Amount.Set {
		out["amount"] = p.Amount.Value
	}
	if p.Category.Set {
		out["category"] = p.Category.Value
	}
	if p.PaymentMethod.Set {
		out["paymentMethod"] = p.PaymentMethod.Value
	}
	if p.Date.Set {
		out["date"] = p.Date.Value
	}
	return json.Marshal(out)
}

// UnmarshalJSON marks every key present in the payload as set.
func (p *ExpensePatch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Description   *string        `json:"description"`
		Amount        *Money         `json:"amount"`
		Category      *Category      `json:"category"`
		PaymentMethod *PaymentMethod `json:"paymentMethod"`
		Date          *time.Time     `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = ExpensePatch{}
	if raw.Description != nil {
		p.Description = Some(*raw.Description)
	}
	if raw.Amount != nil {
		p.Amount = Some(*raw.Amount)
	}
	if raw.Category != nil {
		p.Category = Some(*raw.Category)
	}
	if raw.PaymentMethod != nil {
		p.PaymentMethod = Some(*raw.PaymentMethod)
	}
	if raw.Date != nil {
		p.Date = Some(*raw.Date)
	}
	return nil
}

// UserPatch is a partial directory update. An empty password is treated
// as "unchanged" and never sent.
type UserPatch struct {
	Username Field[string]
	Password Field[string]
	Role     Field[Role]
}

func (p UserPatch) IsEmpty() bool {
	return !p.Username.Set && !p.passwordSet() && !p.Role.Set
}

func (p UserPatch) passwordSet() bool {
	return p.Password.Set && strings.TrimSpace(p.Password.Value) != ""
}

func (p UserPatch) Validate() error {
	if p.IsEmpty() {
		return Validation(ErrEmptyPatch)
	}
	if p.Username.Set && strings.TrimSpace(p.Username.Value) == "" {
		return Validation(ErrEmptyUsername)
	}
	if p.Role.Set && !p.Role.Value.Valid() {
		return Validation(ErrInvalidRole)
	}
	return nil
}

func (p UserPatch) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 3)
	if p.Username.Set {
		out["username"] = p.Username.Value
	}
	if p.passwordSet() {
		out["password"] = p.Password.Value
	}
	if p.Role.Set {
		out["role"] = p.Role.Value
	}
	return json.Marshal(out)
}

func (p *UserPatch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Username *string `json:"username"`
		Password *string `json:"password"`
		Role     *Role   `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = UserPatch{}
	if raw.Username != nil {
		p.Username = Some(*raw.Username)
	}
	if raw.Password != nil {
		p.Password = Some(*raw.Password)
	}
	if raw.Role != nil {
		p.Role = Some(*raw.Role)
	}
	return nil
}
