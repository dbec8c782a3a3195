package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

type AuditHandler struct {
	audit ports.AuditService
	queue ports.AuditQueue
	now   func() time.Time
}

func NewAuditHandler(audit ports.AuditService, queue ports.AuditQueue) *AuditHandler {
	return &AuditHandler{audit: audit, queue: queue, now: time.Now}
}

type auditListResponse struct {
	Entries []domain.AuditLogEntry `json:"entries"`
}

type retentionResponse struct {
	Purged int64 `json:"purged"`
}

// queryLimit reads ?limit=. Zero means "use the service default".
func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return n, nil
}

// List returns the most recent audit entries.
//
// @Summary      Recent audit entries
// @Tags         audit
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of entries"
// @Success      200    {object}  auditListResponse
// @Failure      400    {object}  map[string]string
// @Failure      403    {object}  map[string]string
// @Router       /audit [get]
func (h *AuditHandler) List(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	entries, err := h.audit.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, auditListResponse{Entries: entries})
}

// Export renders the audit log as a CSV attachment. The document is built in
// memory so a backend failure still produces a clean error response.
//
// @Summary      Export the audit log
// @Tags         audit
// @Produce      text/csv
// @Param        limit  query     int  false  "Maximum number of entries"
// @Success      200    {file}    file
// @Failure      403    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /audit/export [get]
func (h *AuditHandler) Export(c echo.Context) error {
	state, err := ctxState(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	rows, err := h.audit.Export(c.Request().Context(), &buf, limit)
	if err != nil {
		return err
	}
	h.record(state, domain.ActionAuditExported, map[string]any{"rows": rows})

	filename := fmt.Sprintf("audit-log-%s.csv", h.now().UTC().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Retention purges audit entries older than the retention window.
//
// @Summary      Enforce data retention
// @Tags         audit
// @Produce      json
// @Success      200  {object}  retentionResponse
// @Failure      403  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /audit/retention [post]
func (h *AuditHandler) Retention(c echo.Context) error {
	state, err := ctxState(c)
	if err != nil {
		return err
	}
	purged, err := h.audit.EnforceRetention(c.Request().Context())
	if err != nil {
		return err
	}
	h.record(state, domain.ActionRetentionRun, map[string]any{"purged": purged})
	return c.JSON(http.StatusOK, retentionResponse{Purged: purged})
}

func (h *AuditHandler) record(state domain.SessionState, action string, details map[string]any) {
	email := state.Session.Email
	h.queue.Enqueue(domain.AuditLogEntry{
		Action:     action,
		Severity:   domain.SeverityInfo,
		Details:    details,
		ActorEmail: &email,
		UserID:     state.Session.UserID,
	})
}
