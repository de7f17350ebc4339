package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatdesk/server/admin/repository"
	commonauth "chatdesk/server/common/auth"
	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/middleware"
	"chatdesk/server/common/transport/httpresp"
)

const (
	ErrAttendantIDRequired = "attendant_id is required"
	ErrAttendantNotFound   = "Atendente não encontrado"
	ErrNotAllowed          = "Sem permissão para excluir este atendente"
	msgAttendantDeleted    = "Atendente excluído com sucesso"
)

type tokenParser interface {
	ParseToken(token string) (*commonauth.Claims, error)
}

type attendantStore interface {
	Profile(ctx context.Context, userID string) (repository.Profile, error)
	Attendant(ctx context.Context, attendantID string) (repository.Attendant, error)
	DeleteAttendant(ctx context.Context, a repository.Attendant) error
}

type Handler struct {
	auth  tokenParser
	store attendantStore
}

func NewHandler(auth tokenParser, store attendantStore) *Handler {
	return &Handler{auth: auth, store: store}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	fn := r.Group("/functions/v1")
	fn.Use(middleware.AuthRequired(h.auth))
	fn.POST("/delete-attendant", h.deleteAttendant)
}

func (h *Handler) deleteAttendant(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		AttendantID string `json:"attendant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidBody))
		return
	}
	req.AttendantID = strings.TrimSpace(req.AttendantID)
	if req.AttendantID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(ErrAttendantIDRequired))
		return
	}

	ctx := c.Request.Context()
	caller, err := h.store.Profile(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(ErrNotAllowed))
		return
	}
	if err != nil {
		commonlog.Errorf("event=delete_attendant phase=profile status=failed user_id=%s error=%v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if caller.Role != commonauth.RoleSuperAdmin && caller.Role != commonauth.RoleAdmin {
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(ErrNotAllowed))
		return
	}

	attendant, err := h.store.Attendant(ctx, req.AttendantID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(ErrAttendantNotFound))
		return
	}
	if err != nil {
		commonlog.Errorf("event=delete_attendant phase=lookup status=failed attendant_id=%s error=%v", req.AttendantID, err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if !mayDelete(caller, attendant) {
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(ErrNotAllowed))
		return
	}

	if err := h.store.DeleteAttendant(ctx, attendant); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(ErrAttendantNotFound))
			return
		}
		commonlog.Errorf("event=delete_attendant status=failed attendant_id=%s error=%v", attendant.ID, err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	commonlog.Infof("event=delete_attendant status=ok attendant_id=%s company_id=%s by=%s role=%s", attendant.ID, attendant.CompanyID, caller.UserID, caller.Role)
	c.JSON(http.StatusOK, httpresp.NewSuccessResponse(msgAttendantDeleted))
}

// mayDelete allows a super-admin anywhere and an admin inside their company.
func mayDelete(caller repository.Profile, a repository.Attendant) bool {
	switch caller.Role {
	case commonauth.RoleSuperAdmin:
		return true
	case commonauth.RoleAdmin:
		return caller.CompanyID != "" && caller.CompanyID == a.CompanyID
	}
	return false
}
