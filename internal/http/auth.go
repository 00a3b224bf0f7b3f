package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/service"
)

type registerReq struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// @Summary Register
// @Tags auth
// @Accept json
// @Produce json
// @Param input body registerReq true "Account"
// @Success 201 {object} sessionResponse
// @Failure 400 {object} errorResponse
// @Router /auth/register [post]
func (s *Server) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name, email and password are required")
		return
	}
	u, token, err := s.users.Register(c.Request.Context(), service.RegisterInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Address:    req.Address,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.setSession(c, token)
	c.JSON(http.StatusCreated, sessionResponse{User: u, Token: token})
}

// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param input body loginReq true "Credentials"
// @Success 200 {object} sessionResponse
// @Failure 401 {object} errorResponse
// @Router /auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	u, token, err := s.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.setSession(c, token)
	c.JSON(http.StatusOK, sessionResponse{User: u, Token: token})
}

// @Summary Logout
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(tokenCookie, "", -1, "/", "", s.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) setSession(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(tokenCookie, token, int(s.sessionTTL.Seconds()), "/", "", s.secureCookie, true)
}
