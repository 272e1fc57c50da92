package identity

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	FullName    string `json:"full_name" validate:"required,max=255"`
	CompanyName string `json:"company_name" validate:"max=255"`
	Currency    string `json:"currency" validate:"omitempty,len=3,uppercase"`
}

type walletResponse struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

type userResponse struct {
	UserID      string          `json:"user_id"`
	Email       string          `json:"email"`
	FullName    string          `json:"full_name"`
	CompanyName string          `json:"company_name,omitempty"`
	Active      bool            `json:"active"`
	Wallet      *walletResponse `json:"wallet,omitempty"`
}

func toUserResponse(user User) userResponse {
	return userResponse{
		UserID:      user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		CompanyName: user.CompanyName,
		Active:      user.Active,
	}
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, validationMessage(err))
	}

	user, wallet, err := h.service.Register(c.UserContext(), Registration{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		CompanyName: req.CompanyName,
		Currency:    req.Currency,
	})
	switch {
	case errors.Is(err, ErrUserExists):
		return fiber.NewError(http.StatusConflict, "email already registered")
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, "registration failed")
	}

	resp := toUserResponse(user)
	if wallet.ID != "" {
		resp.Wallet = &walletResponse{ID: wallet.ID, Currency: wallet.Currency, Balance: wallet.Balance.StringFixed(2)}
	}
	return c.Status(http.StatusCreated).JSON(resp)
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	user, err := h.service.FindActive(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, "user not found")
	}
	return c.JSON(toUserResponse(user))
}

// Deactivate closes the authenticated user's account.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if err := h.service.Deactivate(c.UserContext(), userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		return fiber.NewError(http.StatusInternalServerError, "deactivation failed")
	}
	return c.SendStatus(http.StatusNoContent)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "email must be a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
