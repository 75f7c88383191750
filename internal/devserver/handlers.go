package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"spesync/internal/core"
	"spesync/internal/log"
	"spesync/internal/service"
)

type handler struct {
	backend service.Backend
	logger  *log.Logger
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type expenseBody struct {
	Description   string             `json:"description"`
	Amount        core.Money         `json:"amount"`
	Category      core.Category      `json:"category"`
	PaymentMethod core.PaymentMethod `json:"paymentMethod"`
	Date          *time.Time         `json:"date"`
}

type userBody struct {
	Username string    `json:"username" binding:"required"`
	Password string    `json:"password" binding:"required"`
	Role     core.Role `json:"role"`
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.GetHeader("x-auth-token")
}

func (h *handler) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondMessage(c, http.StatusBadRequest, "Please enter all fields")
		return
	}
	token, who, err := h.backend.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "Login failed", log.FieldUsername, body.Username, log.FieldError, err.Error())
		respondError(c, err, loginStatus)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": who})
}

func (h *handler) currentUser(c *gin.Context) {
	who, err := h.backend.CurrentUser(c.Request.Context(), bearer(c))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, who)
}

func (h *handler) listExpenses(c *gin.Context) {
	list, err := h.backend.ListExpenses(c.Request.Context(), bearer(c))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) createExpense(c *gin.Context) {
	var body expenseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondMessage(c, http.StatusBadRequest, "Please provide description, amount and category")
		return
	}
	d := core.Draft{
		Description:   body.Description,
		Amount:        body.Amount,
		Category:      body.Category,
		PaymentMethod: body.PaymentMethod,
	}
	if body.Date != nil {
		d.Date = *body.Date
	}
	e, err := h.backend.CreateExpense(c.Request.Context(), bearer(c), d)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) updateExpense(c *gin.Context) {
	var patch core.ExpensePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	e, err := h.backend.UpdateExpense(c.Request.Context(), bearer(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) deleteExpense(c *gin.Context) {
	if err := h.backend.DeleteExpense(c.Request.Context(), bearer(c), c.Param("id")); err != nil {
		respondError(c, err, deleteStatus)
		return
	}
	respondMessage(c, http.StatusOK, "Expense removed")
}

func (h *handler) listUsers(c *gin.Context) {
	users, err := h.backend.ListUsers(c.Request.Context(), bearer(c))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *handler) createUser(c *gin.Context) {
	var body userBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondMessage(c, http.StatusBadRequest, "Please enter all fields")
		return
	}
	u, err := h.backend.CreateUser(c.Request.Context(), bearer(c), core.NewUser{Username: body.Username, Password: body.Password, Role: body.Role})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handler) updateUser(c *gin.Context) {
	var patch core.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	u, err := h.backend.UpdateUser(c.Request.Context(), bearer(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handler) deleteUser(c *gin.Context) {
	if err := h.backend.DeleteUser(c.Request.Context(), bearer(c), c.Param("id")); err != nil {
		respondError(c, err, nil)
		return
	}
	respondMessage(c, http.StatusOK, "User and associated expenses deleted")
}
