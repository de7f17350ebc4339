package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "chatdesk/server/common/auth"
	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/middleware"
	"chatdesk/server/common/transport/httpresp"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/repository"
	"chatdesk/server/dashboard/service"
)

const apiKeyHeader = "X-Api-Key"

type tokenParser interface {
	ParseToken(token string) (*commonauth.Claims, error)
}

type sessionHub interface {
	Acquire(ctx context.Context, op service.Operator) (*service.Session, func(), error)
}

type companyResolver interface {
	CompanyByAPIKey(ctx context.Context, apiKey string) (domain.Company, error)
}

type inboundIngestor interface {
	Ingest(ctx context.Context, company domain.Company, in service.InboundMessage) (domain.Message, error)
}

type transferHistory interface {
	History(ctx context.Context, companyID string) ([]domain.TransferRecord, error)
}

type Handler struct {
	auth      tokenParser
	hub       sessionHub
	companies companyResolver
	inbound   inboundIngestor
	transfers transferHistory
	origins   []string
}

func NewHandler(auth tokenParser, hub sessionHub, companies companyResolver, inbound inboundIngestor, transfers transferHistory, allowedOrigins []string) *Handler {
	return &Handler{auth: auth, hub: hub, companies: companies, inbound: inbound, transfers: transfers, origins: allowedOrigins}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	})
	r.GET("/ws", middleware.AuthRequired(h.auth), h.handleDashboardWS)
	r.POST("/api/v1/inbound", h.ingestInbound)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/contacts", h.listContacts)
		api.POST("/contacts/:id/transfer", h.transferContact)
		api.PUT("/contacts/:id/tags", h.updateTags)
		api.POST("/messages", h.sendMessage)
		api.GET("/conversations/:phone", h.getConversation)
		api.POST("/conversations/:phone/viewed", h.markViewed)
		api.GET("/transfers", middleware.RequireRoles(commonauth.RoleSuperAdmin, commonauth.RoleAdmin), h.listTransfers)
	}
}

// withSession runs fn against the operator's shared session.
func (h *Handler) withSession(c *gin.Context, fn func(s *service.Session)) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	session, release, err := h.hub.Acquire(c.Request.Context(), service.OperatorFromClaims(claims))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(err.Error()))
		return
	}
	defer release()
	fn(session)
}

func (h *Handler) listContacts(c *gin.Context) {
	h.withSession(c, func(s *service.Session) {
		if raw := strings.TrimSpace(c.Query("filter")); raw != "" {
			if err := s.SetFilter(c.Request.Context(), domain.ParseFilterMode(raw)); err != nil {
				writeError(c, err)
				return
			}
		}
		st := s.State()
		c.JSON(http.StatusOK, ContactsResponse{
			Filter:    st.Filter,
			Contacts:  st.Contacts,
			Loading:   st.Loading,
			LoadError: st.LoadError,
		})
	})
}

func (h *Handler) transferContact(c *gin.Context) {
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidBody))
		return
	}
	h.withSession(c, func(s *service.Session) {
		result, err := s.Transfer(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			var te *service.TransferError
			if errors.As(err, &te) {
				c.JSON(statusFor(err), TransferErrorResponse{Error: te.Message, Kind: string(te.Kind)})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func (h *Handler) updateTags(c *gin.Context) {
	var req struct {
		TagIDs []string `json:"tag_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidBody))
		return
	}
	h.withSession(c, func(s *service.Session) {
		contact, err := s.UpdateTags(c.Request.Context(), c.Param("id"), req.TagIDs)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, contact)
	})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidBody))
		return
	}
	h.withSession(c, func(s *service.Session) {
		m, err := s.Send(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	})
}

func (h *Handler) getConversation(c *gin.Context) {
	h.withSession(c, func(s *service.Session) {
		view, ok := s.Conversation(c.Param("phone"))
		if !ok {
			c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotFound))
			return
		}
		c.JSON(http.StatusOK, view)
	})
}

func (h *Handler) markViewed(c *gin.Context) {
	h.withSession(c, func(s *service.Session) {
		ts := s.MarkViewed(c.Param("phone"))
		c.JSON(http.StatusOK, ViewedResponse{Phone: c.Param("phone"), LastViewed: ts})
	})
}

func (h *Handler) listTransfers(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	items, err := h.transfers.History(c.Request.Context(), claims.CompanyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse[domain.TransferRecord]{Items: items})
}

// ingestInbound stores a message delivered by the messaging instance. The
// instance authenticates with its company api key.
func (h *Handler) ingestInbound(c *gin.Context) {
	apiKey := strings.TrimSpace(c.GetHeader(apiKeyHeader))
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidAPIKey))
		return
	}
	company, err := h.companies.CompanyByAPIKey(c.Request.Context(), apiKey)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidAPIKey))
		return
	}
	if err != nil {
		commonlog.Errorf("event=inbound_auth status=failed error=%v", err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
		return
	}

	var in service.InboundMessage
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidBody))
		return
	}
	m, err := h.inbound.Ingest(c.Request.Context(), company, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func statusFor(err error) int {
	var te *service.TransferError
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &te) && te.Kind == service.KindPersistenceFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), httpresp.NewErrorResponse(service.ToastMessage(err)))
}
