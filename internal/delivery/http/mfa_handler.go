package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cobaltlabs/aegis/internal/usecase"
)

// MFAHandler handles MFA enrollment and management. All routes require an
// authenticated principal.
type MFAHandler struct {
	usecase *usecase.AuthUsecase
}

// NewMFAHandler registers the MFA management routes.
func NewMFAHandler(e *echo.Group, u *usecase.AuthUsecase) {
	handler := &MFAHandler{usecase: u}

	authed := e.Group("/mfa", AuthMiddleware(u))
	authed.POST("/setup", handler.Setup)
	authed.POST("/enable", handler.Enable)
	authed.POST("/disable", handler.Disable)
}

type mfaSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type mfaEnableRequest struct {
	Code   string `json:"code" validate:"required,len=6"`
	Secret string `json:"secret" validate:"required"`
}

type mfaDisableRequest struct {
	Code string `json:"code" validate:"required"`
}

// Setup provisions a candidate TOTP secret and provisioning URI. Nothing is
// persisted until Enable succeeds.
func (h *MFAHandler) Setup(c echo.Context) error {
	principal := CurrentPrincipal(c)

	secret, err := h.usecase.SetupMFA(c.Request().Context(), principal.UserID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, mfaSetupResponse{
		Secret:          secret.Secret,
		ProvisioningURI: secret.ProvisioningURI,
	})
}

// Enable verifies a code against the candidate secret and turns MFA on.
// The backup codes in the response are shown exactly once.
func (h *MFAHandler) Enable(c echo.Context) error {
	var req mfaEnableRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	principal := CurrentPrincipal(c)
	codes, err := h.usecase.EnableMFA(c.Request().Context(), principal.UserID, req.Code, req.Secret)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":      "mfa_enabled",
		"backup_codes": codes,
	})
}

// Disable accepts a TOTP code or a backup code and clears the enrollment.
func (h *MFAHandler) Disable(c echo.Context) error {
	var req mfaDisableRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	principal := CurrentPrincipal(c)
	if err := h.usecase.DisableMFA(c.Request().Context(), principal.UserID, req.Code); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "mfa_disabled"})
}
