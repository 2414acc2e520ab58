package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/internal/middleware"
	"github.com/hubofallthings/hatsync/internal/services"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/response"
)

// TokenHandler stores and forgets HAT tokens.
type TokenHandler struct {
	tokens *services.TokenService
}

func NewTokenHandler(tokens *services.TokenService) (*TokenHandler, error) {
	if tokens == nil {
		return nil, errors.New("token handler: token service is required")
	}
	return &TokenHandler{tokens: tokens}, nil
}

type loginRequest struct {
	Token  string `json:"token" validate:"omitempty,jwt"`
	Domain string `json:"domain" validate:"omitempty,hatdomain"`
}

// POST /api/login
//
// The token may be sent in the body or in the X-Auth-Token header.
func (h *TokenHandler) Login(c *gin.Context) {
	var req loginRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = middleware.RequestToken(c)
	}
	if token == "" {
		response.Error(c, appErrors.NewBadRequest("token is required"))
		return
	}

	domain, err := h.tokens.Login(requestContext(c), token, req.Domain)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"domain": domain})
}

// DELETE /api/login/:domain
func (h *TokenHandler) Logout(c *gin.Context) {
	domain := strings.ToLower(strings.TrimSpace(c.Param("domain")))
	if domain == "" {
		response.Error(c, appErrors.NewBadRequest("domain is required"))
		return
	}
	if err := h.tokens.Delete(requestContext(c), domain); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	c.Status(http.StatusNoContent)
}
