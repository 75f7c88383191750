package rest

import (
	"time"

	"spesync/internal/core"
)

type messageResponse struct {
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

// userDTO accepts both "id" and the raw document key "_id", since some
// endpoints return stored documents unmodified.
type userDTO struct {
	ID        string     `json:"id"`
	DocID     string     `json:"_id"`
	Username  string     `json:"username"`
	Role      core.Role  `json:"role"`
	Password  string     `json:"password"`
	CreatedAt *time.Time `json:"createdAt"`
}

func (u userDTO) id() string {
	if u.ID != "" {
		return u.ID
	}
	return u.DocID
}

func (u userDTO) identity() core.Identity {
	return core.Identity{ID: u.id(), Username: u.Username, Role: u.Role}
}

func (u userDTO) user() core.User {
	out := core.User{ID: u.id(), Username: u.Username, Role: u.Role, Password: u.Password}
	if u.CreatedAt != nil {
		out.CreatedAt = *u.CreatedAt
	}
	return out
}

type expenseDTO struct {
	ID            string             `json:"id"`
	DocID         string             `json:"_id"`
	Description   string             `json:"description"`
	Amount        core.Money         `json:"amount"`
	Category      core.Category      `json:"category"`
	PaymentMethod core.PaymentMethod `json:"paymentMethod"`
	Date          time.Time          `json:"date"`
	Username      string             `json:"username"`
}

func (e expenseDTO) expense() core.Expense {
	id := e.ID
	if id == "" {
		id = e.DocID
	}
	return core.Expense{
		ID:            id,
		Description:   e.Description,
		Amount:        e.Amount,
		Category:      e.Category,
		PaymentMethod: e.PaymentMethod,
		Date:          e.Date,
		Username:      e.Username,
	}
}

type draftDTO struct {
	Description   string             `json:"description"`
	Amount        core.Money         `json:"amount"`
	Category      core.Category      `json:"category"`
	PaymentMethod core.PaymentMethod `json:"paymentMethod,omitempty"`
	Date          *time.Time         `json:"date,omitempty"`
}

func draftBody(d core.Draft) draftDTO {
	out := draftDTO{
		Description:   d.Description,
		Amount:        d.Amount,
		Category:      d.Category,
		PaymentMethod: d.PaymentMethod,
	}
	if !d.Date.IsZero() {
		date := d.Date
		out.Date = &date
	}
	return out
}

type newUserDTO struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	Role     core.Role `json:"role,omitempty"`
}
