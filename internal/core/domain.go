package core

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

const (
	Food          Category = "Food"
	Grocery       Category = "Grocery"
	Bills         Category = "Bills"
	Entertainment Category = "Entertainment"
	Health        Category = "Health"
	OtherCategory Category = "Other"
)

const (
	Zomato       PaymentMethod = "Zomato"
	Swiggy       PaymentMethod = "Swiggy"
	Zepto        PaymentMethod = "Zepto"
	Paytm        PaymentMethod = "Paytm"
	PhonePe      PaymentMethod = "PhonePe"
	GooglePay    PaymentMethod = "Google Pay"
	Cash         PaymentMethod = "Cash"
	Card         PaymentMethod = "Card"
	OtherPayment PaymentMethod = "Other"
)

// DefaultPaymentMethod is what the service assigns when a draft omits one.
const DefaultPaymentMethod = Cash

type (
	Role          string
	Category      string
	PaymentMethod string

	// Identity is the authenticated principal as reported by the service.
	Identity struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     Role   `json:"role"`
	}

	Expense struct {
		ID            string        `json:"id"`
		Description   string        `json:"description"`
		Amount        Money         `json:"amount"`
		Category      Category      `json:"category"`
		PaymentMethod PaymentMethod `json:"paymentMethod"`
		Date          time.Time     `json:"date"`
		Username      string        `json:"username"`
	}

	// Draft is an expense that has not been accepted by the service yet.
	// It never carries an id; zero PaymentMethod or Date let the service
	// apply its defaults.
	Draft struct {
		Description   string        `validate:"required,max=200"`
		Amount        Money         `validate:"-"`
		Category      Category      `validate:"required"`
		PaymentMethod PaymentMethod `validate:"-"`
		Date          time.Time     `validate:"-"`
	}

	// User is a directory entry. Password is only populated when the
	// service chooses to return it.
	User struct {
		ID        string    `json:"id"`
		Username  string    `json:"username"`
		Role      Role      `json:"role"`
		Password  string    `json:"password,omitempty"`
		CreatedAt time.Time `json:"createdAt,omitempty"`
	}

	NewUser struct {
		Username string `validate:"required,max=64"`
		Password string `validate:"required"`
		Role     Role   `validate:"-"`
	}
)

var (
	Categories     = []Category{Food, Grocery, Bills, Entertainment, Health, OtherCategory}
	PaymentMethods = []PaymentMethod{Zomato, Swiggy, Zepto, Paytm, PhonePe, GooglePay, Cash, Card, OtherPayment}
)

var (
	ErrEmptyDescription     = errors.New("empty description")
	ErrDescriptionTooLong   = errors.New("description too long (max 200 characters)")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidRole          = errors.New("invalid role")
	ErrEmptyUsername        = errors.New("empty username")
	ErrEmptyPassword        = errors.New("empty password")
	ErrEmptyPatch           = errors.New("update carries no fields")
	ErrInvalidDate          = errors.New("invalid date")
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

func (p PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if p == v {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity may use the directory.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Validate checks the draft locally so that obviously broken input never
// reaches the network. Every failure is reported as a ValidationError.
func (d Draft) Validate() error {
	d.Description = strings.TrimSpace(d.Description)
	if err := structValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Description":
				if verrs[0].Tag() == "max" {
					return Validation(ErrDescriptionTooLong)
				}
				return Validation(ErrEmptyDescription)
			case "Category":
				return Validation(ErrInvalidCategory)
			}
		}
		return Validation(err)
	}
	if !d.Amount.IsPositive() {
		return Validation(ErrInvalidAmount)
	}
	if !d.Category.Valid() {
		return Validation(ErrInvalidCategory)
	}
	if d.PaymentMethod != "" && !d.PaymentMethod.Valid() {
		return Validation(ErrInvalidPaymentMethod)
	}
	return nil
}

func (u NewUser) Validate() error {
	u.Username = strings.TrimSpace(u.Username)
	if err := structValidator().Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Password" {
			return Validation(ErrEmptyPassword)
		}
		return Validation(ErrEmptyUsername)
	}
	if u.Role != "" && !u.Role.Valid() {
		return Validation(ErrInvalidRole)
	}
	return nil
}
