package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/book-chat/internal/auth"
	"github.com/suPer8Hu/book-chat/internal/common"
	"github.com/suPer8Hu/book-chat/internal/httpapi/middleware"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) setSessionCookie(c *gin.Context, tok string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AuthCookie, tok, maxAge, "/", "", h.SecureCookie, true)
}

func (h *Handler) sessionResponse(c *gin.Context, id auth.Identity, tok string) {
	h.setSessionCookie(c, tok, h.SessionTTL)
	common.OK(c, gin.H{"user": id, "token": tok})
}

func (h *Handler) Register(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidJSON, "invalid json")
		return
	}
	id, tok, err := h.Auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.sessionResponse(c, id, tok)
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidJSON, "invalid json")
		return
	}
	id, tok, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.sessionResponse(c, id, tok)
}

func (h *Handler) Logout(c *gin.Context) {
	h.Auth.Logout(token(c))
	h.setSessionCookie(c, "", -1)
	common.OK(c, gin.H{"success": true})
}

// Session reports the current user, or null for anonymous callers.
func (h *Handler) Session(c *gin.Context) {
	id := identity(c)
	if id.IsAnonymous() {
		common.OK(c, gin.H{"user": nil})
		return
	}
	common.OK(c, gin.H{"user": id})
}
