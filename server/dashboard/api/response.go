package api

import (
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/service"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type ContactsResponse struct {
	Filter    domain.FilterMode    `json:"filter"`
	Contacts  []domain.ContactView `json:"contacts"`
	Loading   bool                 `json:"loading"`
	LoadError string               `json:"load_error,omitempty"`
}

type TransferErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type ViewedResponse struct {
	Phone      string `json:"phone"`
	LastViewed int64  `json:"last_viewed"`
}

// Websocket frames.
const (
	FrameSnapshot = "snapshot"
	FrameToast    = "toast"
)

type snapshotFrame struct {
	Type string `json:"type"`
	service.State
}

type toastFrame struct {
	Type string `json:"type"`
	service.Toast
}

// clientFrame is what the browser sends: open, viewed, close, filter or
// refresh.
type clientFrame struct {
	Type   string `json:"type"`
	Phone  string `json:"phone"`
	Filter string `json:"filter"`
}
