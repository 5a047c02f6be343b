package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltlabs/aegis/internal/usecase"
)

// AuthHandler is the HTTP delivery layer for the authentication flows.
type AuthHandler struct {
	usecase *usecase.AuthUsecase
}

// NewAuthHandler registers the authentication routes on the provided group.
func NewAuthHandler(e *echo.Group, u *usecase.AuthUsecase) {
	handler := &AuthHandler{usecase: u}

	e.POST("/auth/register", handler.Register)
	e.POST("/auth/login", handler.Login)
	e.POST("/auth/refresh", handler.Refresh)
	e.POST("/auth/password/reset", handler.InitiatePasswordReset)
	e.POST("/auth/password/reset/complete", handler.CompletePasswordReset)
	e.POST("/auth/email/verify", handler.VerifyEmail)

	authed := e.Group("", AuthMiddleware(u))
	authed.POST("/auth/logout", handler.Logout)
	authed.POST("/auth/logout-all", handler.LogoutAll)
	authed.POST("/auth/password/change", handler.ChangePassword)
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	RoleID    string `json:"role_id"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	MFACode  string `json:"mfa_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetCompleteRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// Register creates a new account and returns the user with a token pair.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.usecase.Register(c.Request().Context(), usecase.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		RoleID:    req.RoleID,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// Login runs the login state machine. A user with MFA enrolled and no code
// supplied gets the mfa_required branch with 202, not an error.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.usecase.Login(c.Request().Context(), usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		MFACode:   req.MFACode,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	if result.MFARequired {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

// Refresh exchanges a refresh token for a new access token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.usecase.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Logout revokes the named session for the authenticated user.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	principal := CurrentPrincipal(c)
	if err := h.usecase.Logout(c.Request().Context(), principal.UserID, req.SessionID); err != nil {
		return writeDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session for the authenticated user.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	principal := CurrentPrincipal(c)
	if err := h.usecase.LogoutAll(c.Request().Context(), principal.UserID); err != nil {
		return writeDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ChangePassword rotates the password and invalidates all sessions.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	principal := CurrentPrincipal(c)
	err := h.usecase.ChangePassword(c.Request().Context(), principal.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password_changed"})
}

// InitiatePasswordReset always answers with the same generic message.
func (h *AuthHandler) InitiatePasswordReset(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	message, err := h.usecase.InitiatePasswordReset(c.Request().Context(), req.Email, c.RealIP())
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": message})
}

// CompletePasswordReset redeems a reset token.
func (h *AuthHandler) CompletePasswordReset(c echo.Context) error {
	var req resetCompleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.usecase.CompletePasswordReset(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password_reset"})
}

// VerifyEmail redeems an email-verification link token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.usecase.VerifyEmail(c.Request().Context(), req.Token); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "email_verified"})
}
