package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/internal/http/middleware"
	"github.com/fitlane/chatroom/internal/httputil"
	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/reconcile"
)

// Handler exposes the reconciliation auditor operationally.
type Handler struct {
	logger  *slog.Logger
	auditor *reconcile.Auditor
}

// NewHandler creates a new admin handler.
func NewHandler(logger *slog.Logger, auditor *reconcile.Auditor) *Handler {
	return &Handler{
		logger:  logger,
		auditor: auditor,
	}
}

// AuditRequest scopes an audit run. An empty tenant_id audits everything.
type AuditRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// AuditResponse is the classified drift report.
type AuditResponse struct {
	Clean              bool                        `json:"clean"`
	OrphanedRemote     []orphanedRemoteFinding     `json:"orphaned_remote"`
	OrphanedLocal      []orphanedLocalFinding      `json:"orphaned_local"`
	NamespaceMismatch  []namespaceMismatchFinding  `json:"namespace_mismatch"`
	MembershipMismatch []membershipMismatchFinding `json:"membership_mismatch"`
	BroadcastDrift     []broadcastDriftFinding     `json:"broadcast_drift"`
}

type orphanedRemoteFinding struct {
	ChannelID     string `json:"channel_id"`
	Namespace     string `json:"namespace"`
	Kind          string `json:"kind"`
	DeadNamespace bool   `json:"dead_namespace"`
}

type orphanedLocalFinding struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id"`
}

type namespaceMismatchFinding struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id"`
	Local     string `json:"local"`
	Remote    string `json:"remote"`
}

type membershipMismatchFinding struct {
	RoomID        string   `json:"room_id"`
	ChannelID     string   `json:"channel_id"`
	MissingRemote []string `json:"missing_remote"`
	ExtraRemote   []string `json:"extra_remote"`
}

type broadcastDriftFinding struct {
	RoomID   string   `json:"room_id"`
	TenantID string   `json:"tenant_id"`
	Missing  []string `json:"missing"`
	Extra    []string `json:"extra"`
}

// Audit runs a reconciliation audit and returns the findings. The audit
// only classifies; nothing is repaired.
// POST /v1/admin/audit
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	// An empty body audits the whole deployment.
	var req AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var tenantID *uuid.UUID
	if req.TenantID != "" {
		parsed, err := uuid.Parse(req.TenantID)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "tenant_id must be a UUID")
			return
		}
		tenantID = &parsed
	}

	report, err := h.auditor.Audit(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("audit failed", "error", err)
		httputil.Error(w, http.StatusBadGateway, "audit failed")
		return
	}

	httputil.JSON(w, http.StatusOK, toAuditResponse(report))
}

// RepairRequest names a single repair action. Each action is idempotent.
type RepairRequest struct {
	Action    string `json:"action"`
	ChannelID string `json:"channel_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// Repair executes one named repair action.
// POST /v1/admin/repair
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var err error
	switch req.Action {
	case "delete_orphaned_channel":
		if req.ChannelID == "" {
			httputil.Error(w, http.StatusBadRequest, "channel_id is required")
			return
		}
		err = h.auditor.RepairOrphanedRemote(ctx, req.ChannelID, req.Force)
	case "recreate_channel":
		roomID, parseErr := uuid.Parse(req.RoomID)
		if parseErr != nil {
			httputil.Error(w, http.StatusBadRequest, "room_id must be a UUID")
			return
		}
		err = h.auditor.RepairOrphanedLocal(ctx, roomID)
	case "relabel_namespace":
		roomID, parseErr := uuid.Parse(req.RoomID)
		if parseErr != nil {
			httputil.Error(w, http.StatusBadRequest, "room_id must be a UUID")
			return
		}
		err = h.auditor.RepairNamespace(ctx, roomID)
	case "sync_membership":
		roomID, parseErr := uuid.Parse(req.RoomID)
		if parseErr != nil {
			httputil.Error(w, http.StatusBadRequest, "room_id must be a UUID")
			return
		}
		err = h.auditor.RepairMembership(ctx, roomID)
	case "sync_broadcast":
		tenantID, parseErr := uuid.Parse(req.TenantID)
		if parseErr != nil {
			httputil.Error(w, http.StatusBadRequest, "tenant_id must be a UUID")
			return
		}
		err = h.auditor.SyncBroadcastMembership(ctx, tenantID)
	default:
		httputil.Error(w, http.StatusBadRequest, "unknown repair action")
		return
	}

	switch {
	case err == nil:
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "repaired"})
	case errors.Is(err, domain.ErrEventRoomProtected):
		httputil.Error(w, http.StatusConflict, "event room channels require force=true")
	case errors.Is(err, domain.ErrRoomNotFound):
		httputil.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, domain.ErrTenantNotFound):
		httputil.Error(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, domain.ErrProviderUnavailable):
		h.logger.Error("repair failed", "action", req.Action, "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "chat provider unavailable")
	default:
		h.logger.Error("repair failed", "action", req.Action, "error", err)
		httputil.Error(w, http.StatusBadGateway, "repair failed")
	}
}

func toAuditResponse(report *reconcile.Report) AuditResponse {
	resp := AuditResponse{
		Clean:              report.Empty(),
		OrphanedRemote:     []orphanedRemoteFinding{},
		OrphanedLocal:      []orphanedLocalFinding{},
		NamespaceMismatch:  []namespaceMismatchFinding{},
		MembershipMismatch: []membershipMismatchFinding{},
		BroadcastDrift:     []broadcastDriftFinding{},
	}
	for _, f := range report.OrphanedRemote {
		resp.OrphanedRemote = append(resp.OrphanedRemote, orphanedRemoteFinding{
			ChannelID:     f.ChannelID,
			Namespace:     f.Namespace,
			Kind:          f.Kind,
			DeadNamespace: f.DeadNamespace,
		})
	}
	for _, f := range report.OrphanedLocal {
		resp.OrphanedLocal = append(resp.OrphanedLocal, orphanedLocalFinding{
			RoomID:    f.RoomID.String(),
			ChannelID: f.ChannelID,
		})
	}
	for _, f := range report.NamespaceMismatch {
		resp.NamespaceMismatch = append(resp.NamespaceMismatch, namespaceMismatchFinding{
			RoomID:    f.RoomID.String(),
			ChannelID: f.ChannelID,
			Local:     f.Local,
			Remote:    f.Remote,
		})
	}
	for _, f := range report.MembershipMismatch {
		resp.MembershipMismatch = append(resp.MembershipMismatch, membershipMismatchFinding{
			RoomID:        f.RoomID.String(),
			ChannelID:     f.ChannelID,
			MissingRemote: f.MissingRemote,
			ExtraRemote:   f.ExtraRemote,
		})
	}
	for _, f := range report.BroadcastDrift {
		finding := broadcastDriftFinding{
			RoomID:   f.RoomID.String(),
			TenantID: f.TenantID.String(),
		}
		for _, id := range f.Missing {
			finding.Missing = append(finding.Missing, id.String())
		}
		for _, id := range f.Extra {
			finding.Extra = append(finding.Extra, id.String())
		}
		resp.BroadcastDrift = append(resp.BroadcastDrift, finding)
	}
	return resp
}
