package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/middleware"
	"chatdesk/server/common/transport/httpresp"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/service"
)

const (
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsToastBuffer  = 16
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		return originAllowed(h.origins, r.Header.Get("Origin"))
	}}
}

// originAllowed accepts any origin when no list is configured.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	return false
}

// handleDashboardWS streams the operator's dashboard state. Every store
// change marks the connection dirty; the writer sends the latest snapshot,
// so a burst of changes collapses into one frame.
func (h *Handler) handleDashboardWS(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	op := service.OperatorFromClaims(claims)

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=ws_upgrade status=failed user_id=%s error=%v", op.UserID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, release, err := h.hub.Acquire(ctx, op)
	if err != nil {
		_ = conn.WriteJSON(toastFrame{Type: FrameToast, Toast: service.Toast{Level: "error", Message: err.Error()}})
		return
	}
	defer release()

	dirty := make(chan struct{}, 1)
	toasts := make(chan service.Toast, wsToastBuffer)
	markDirty := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	unsubscribe := session.Subscribe(func(n service.Notification) {
		switch n.Type {
		case service.NotificationToast:
			select {
			case toasts <- *n.Toast:
			default:
				commonlog.Warnf("event=ws_toast status=dropped user_id=%s", op.UserID)
			}
		default:
			markDirty()
		}
	})
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, session, dirty, toasts)
		cancel()
	}()
	markDirty()

	commonlog.Infof("event=ws_connect status=ok user_id=%s company_id=%s", op.UserID, op.CompanyID)
	h.readLoop(ctx, conn, session, toasts)
	cancel()
	<-writerDone
	commonlog.Infof("event=ws_disconnect status=ok user_id=%s company_id=%s", op.UserID, op.CompanyID)
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, session *service.Session, dirty <-chan struct{}, toasts <-chan service.Toast) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-dirty:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err = conn.WriteJSON(snapshotFrame{Type: FrameSnapshot, State: session.State()})
		case t := <-toasts:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err = conn.WriteJSON(toastFrame{Type: FrameToast, Toast: t})
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		}
		if err != nil {
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *service.Session, toasts chan<- service.Toast) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var err error
		switch frame.Type {
		case "open":
			err = session.OpenConversation(ctx, frame.Phone)
		case "viewed":
			session.MarkViewed(frame.Phone)
		case "close":
			session.CloseConversation()
		case "filter":
			err = session.SetFilter(ctx, domain.ParseFilterMode(frame.Filter))
		case "refresh":
			err = session.Refresh(ctx)
		default:
			commonlog.Debugf("event=ws_frame status=ignored type=%s", frame.Type)
		}
		if err != nil {
			select {
			case toasts <- service.Toast{Level: "error", Message: service.ToastMessage(err)}:
			default:
			}
		}
	}
}
