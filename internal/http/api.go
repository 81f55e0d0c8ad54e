package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authkit/internal/service"
)

// Handler wires HTTP routes to the auth service.
type Handler struct {
	auth    service.AuthService
	logger  logrus.FieldLogger
	origins []string
}

func NewHandler(auth service.AuthService, logger logrus.FieldLogger, corsOrigins []string) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		auth:    auth,
		logger:  logger,
		origins: corsOrigins,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), corsMiddleware(h.origins))

	router.POST("/register", h.register)
	router.POST("/login", h.login)
	router.GET("/users/:id", h.requireUser(), h.getUser)
	router.GET("/protected", h.requireToken(), h.protected)
	router.GET("/private", h.requireUser(), h.private)
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		abortWithMessage(c, http.StatusNotFound, "route not found")
	})
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"msg": fmt.Sprintf("user %s created", user.Email)})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"msg":   "ok",
		"token": res.Token,
		"user":  loginUser{ID: res.User.ID, Email: res.User.Email},
	})
}

func (h *Handler) getUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithMessage(c, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.auth.GetUser(c.Request.Context(), id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	// refreshed token for the caller, never for the looked-up account
	token, err := h.auth.IssueToken(currentUser(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"msg":    "ok",
		"token":  token,
		"result": user.Public(),
	})
}

func (h *Handler) protected(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": fmt.Sprintf("access granted for %s", currentSubject(c))})
}

func (h *Handler) private(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		abortWithMessage(c, http.StatusUnauthorized, "missing identity")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"msg":  "access authorized",
		"user": user.Public(),
	})
}
