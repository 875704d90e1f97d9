package user

import (
	"net/http"
	"strings"

	"PSocial/middleware"
	midsec "PSocial/middleware/security"
	"PSocial/module/user/model"
	"PSocial/service/presence"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const profilePhotoPath = "/uploads/profilephotos/"

// OnlineView is the read side of the presence manager.
type OnlineView interface {
	IsOnline(userID string) bool
	OnlineUsers() map[string]presence.Conn
}

type Handler struct {
	dir     Directory
	online  OnlineView
	baseURL string
	log     *zap.Logger
}

// NewHandler builds the REST handlers. baseURL prefixes profile picture
// links; when empty it is derived from the request.
func NewHandler(dir Directory, online OnlineView, baseURL string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{dir: dir, online: online, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

func (h *Handler) Register(rt *middleware.Routes) {
	rt.GET("/api/users/online-friends", h.OnlineFriends, middleware.RouteOpt{IsAuth: true})
	rt.GET("/api/users/:id/presence", h.Presence, middleware.RouteOpt{})
	rt.GET("/api/presence/online", h.OnlineList, middleware.RouteOpt{IsAuth: true})
}

type onlineFriend struct {
	model.User
	ProfilePictureURL *string `json:"profilePictureUrl"`
}

// OnlineFriends GET /api/users/online-friends
func (h *Handler) OnlineFriends(c *gin.Context) {
	uid := midsec.UserID(c)
	friends, err := h.dir.FindFriends(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}

	online := h.online.OnlineUsers()
	base := h.base(c)
	out := make([]onlineFriend, 0, len(friends))
	for _, f := range friends {
		if _, ok := online[f.UserID()]; !ok {
			continue
		}
		item := onlineFriend{User: f}
		if f.ProfilePicture != "" {
			u := base + profilePhotoPath + f.ProfilePicture
			item.ProfilePictureURL = &u
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// Presence GET /api/users/:id/presence
// online 以内存注册表为准，status 是库里的展示值，可能滞后。
func (h *Handler) Presence(c *gin.Context) {
	id := c.Param("id")
	resp := gin.H{"userId": id, "online": h.online.IsOnline(id)}

	u, err := h.dir.FindByID(c.Request.Context(), id)
	switch {
	case err == nil:
		resp["status"] = u.Status
	case errors.Is(err, ErrNotReady):
		h.log.Warn("presence lookup without directory", zap.String("user", id))
	default:
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// OnlineList GET /api/presence/online
func (h *Handler) OnlineList(c *gin.Context) {
	online := h.online.OnlineUsers()
	ids := make([]string, 0, len(online))
	for id := range online {
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ids), "users": ids})
}

func (h *Handler) base(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
	case errors.Is(err, ErrBadID):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid user id"})
	case errors.Is(err, ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "Service unavailable"})
	default:
		h.log.Error("user handler", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Server Error"})
	}
}
