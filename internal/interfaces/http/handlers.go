package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/engine"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"`
	Capability string      `json:"capability,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ListResponse is one page of requests
type ListResponse struct {
	Items  []*approval.Request `json:"items"`
	Total  int                 `json:"total"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

// DecisionResponse is the outcome of a vote
type DecisionResponse struct {
	Request        *approval.Request `json:"request"`
	Completed      bool              `json:"completed"`
	StepCompleted  bool              `json:"step_completed"`
	ActivatedSteps []string          `json:"activated_steps,omitempty"`
}

// DecideRequest is the body of POST /approvals/:id/decisions
type DecideRequest struct {
	StepID      string   `json:"step_id"`
	Decision    string   `json:"decision" binding:"required"`
	Notes       string   `json:"notes"`
	Attachments []string `json:"attachments"`
}

// CancelRequest is the body of POST /approvals/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason"`
}

// EscalateRequest is the body of POST /approvals/:id/escalate
type EscalateRequest struct {
	Approvers []string `json:"approvers" binding:"required,min=1"`
	Reason    string   `json:"reason"`
}

// ListRequest represents query parameters for listing requests
type ListRequest struct {
	Status      string `form:"status"`
	ObjectType  string `form:"object_type"`
	ObjectID    string `form:"object_id"`
	RequesterID string `form:"requester_id"`
	ApproverID  string `form:"approver_id"`
	PendingFor  string `form:"pending_for"`
	CreatedFrom string `form:"created_from"`
	CreatedTo   string `form:"created_to"`
	ExpiresFrom string `form:"expires_from"`
	ExpiresTo   string `form:"expires_to"`
	Sort        string `form:"sort"`
	Order       string `form:"order"`
	Limit       int    `form:"limit"`
	Offset      int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	if h.deps.HealthCheck != nil {
		if err := h.deps.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			response.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response, Error: "storage unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// Check handles POST /api/v1/approvals/check
func (h *Handlers) Check(c *gin.Context) {
	var req service.CheckInput
	if !h.bindJSON(c, &req) {
		return
	}

	check, err := h.deps.Approvals.Check(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "check", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: check})
}

// Submit handles POST /api/v1/approvals. The caller is always the requester.
func (h *Handlers) Submit(c *gin.Context) {
	var req service.SubmitInput
	if !h.bindJSON(c, &req) {
		return
	}
	req.RequesterID = principal(c)

	result, err := h.deps.Approvals.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "submit", err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
		h.logger.Info("Approval submitted",
			"approval_id", result.Request.ID,
			"object_type", req.ObjectType,
			"object_id", req.ObjectID,
			"requester", req.RequesterID)
	}
	c.JSON(status, Response{Success: true, Data: result})
}

// List handles GET /api/v1/approvals
func (h *Handlers) List(c *gin.Context) {
	q, ok := h.listQuery(c, true)
	if !ok {
		return
	}

	items, total, err := h.deps.Approvals.List(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ListResponse{
			Items:  items,
			Total:  total,
			Offset: q.Page.Offset,
			Limit:  q.Page.Limit,
		},
	})
}

// Export handles GET /api/v1/approvals/export. Filters and sorting match
// List; pagination is ignored.
func (h *Handlers) Export(c *gin.Context) {
	if h.deps.Exporter == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "export is not configured"})
		return
	}
	q, ok := h.listQuery(c, false)
	if !ok {
		return
	}

	items, _, err := h.deps.Approvals.List(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, "export", err)
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Exporter.Export(&buf, items); err != nil {
		h.respondError(c, "export", err)
		return
	}

	filename := fmt.Sprintf("approvals-%s.%s", time.Now().UTC().Format("20060102-150405"), h.deps.Exporter.FileExtension())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, h.deps.Exporter.ContentType(), buf.Bytes())
}

// Pending handles GET /api/v1/approvals/pending for the calling principal
func (h *Handlers) Pending(c *gin.Context) {
	items, err := h.deps.Approvals.PendingFor(c.Request.Context(), principal(c))
	if err != nil {
		h.respondError(c, "pending", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// Get handles GET /api/v1/approvals/:id
func (h *Handlers) Get(c *gin.Context) {
	req, err := h.deps.Approvals.Get(c.Request.Context(), c.Param("id"), principal(c))
	if err != nil {
		h.respondError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Capabilities handles GET /api/v1/approvals/:id/capabilities
func (h *Handlers) Capabilities(c *gin.Context) {
	caps, err := h.deps.Approvals.Capabilities(c.Request.Context(), c.Param("id"), principal(c))
	if err != nil {
		h.respondError(c, "capabilities", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: caps})
}

// History handles GET /api/v1/approvals/:id/history
func (h *Handlers) History(c *gin.Context) {
	events, err := h.deps.Approvals.History(c.Request.Context(), c.Param("id"), principal(c))
	if err != nil {
		h.respondError(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

// Decide handles POST /api/v1/approvals/:id/decisions
func (h *Handlers) Decide(c *gin.Context) {
	var req DecideRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.deps.Approvals.Decide(c.Request.Context(), service.DecideInput{
		ApprovalID:  c.Param("id"),
		StepID:      req.StepID,
		ActorID:     principal(c),
		Decision:    req.Decision,
		Notes:       req.Notes,
		Attachments: req.Attachments,
	})
	if err != nil {
		h.respondError(c, "decide", err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: DecisionResponse{
			Request:        result.Request,
			Completed:      result.Completed,
			StepCompleted:  result.StepCompleted,
			ActivatedSteps: result.Activated,
		},
	})
}

// Cancel handles POST /api/v1/approvals/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}

	updated, err := h.deps.Approvals.Cancel(c.Request.Context(), c.Param("id"), principal(c), req.Reason)
	if err != nil {
		h.respondError(c, "cancel", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// Escalate handles POST /api/v1/approvals/:id/escalate
func (h *Handlers) Escalate(c *gin.Context) {
	var req EscalateRequest
	if !h.bindJSON(c, &req) {
		return
	}

	updated, err := h.deps.Approvals.Escalate(c.Request.Context(), c.Param("id"), principal(c), req.Approvers, req.Reason)
	if err != nil {
		h.respondError(c, "escalate", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// Expire handles POST /api/v1/approvals/:id/expire
func (h *Handlers) Expire(c *gin.Context) {
	updated, err := h.deps.Approvals.Expire(c.Request.Context(), c.Param("id"), principal(c))
	if err != nil {
		h.respondError(c, "expire", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// ListPolicies handles GET /api/v1/policies
func (h *Handlers) ListPolicies(c *gin.Context) {
	policies, err := h.deps.Policies.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "list policies", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: policies})
}

// GetPolicy handles GET /api/v1/policies/:id
func (h *Handlers) GetPolicy(c *gin.Context) {
	policy, err := h.deps.Policies.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get policy", err)
		return
	}
	if policy == nil {
		h.respondError(c, "get policy", approval.NewError(approval.KindNotFound, "policy %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: policy})
}

func (h *Handlers) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
			Code:    string(approval.KindValidation),
		})
		return false
	}
	return true
}

// listQuery parses filter, sort and, when paged, pagination parameters
func (h *Handlers) listQuery(c *gin.Context, paged bool) (service.ListQuery, bool) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters", Code: string(approval.KindValidation)})
		return service.ListQuery{}, false
	}

	q, err := req.toQuery(paged)
	if err != nil {
		h.respondError(c, "list", err)
		return service.ListQuery{}, false
	}
	return q, true
}

func (r ListRequest) toQuery(paged bool) (service.ListQuery, error) {
	f := engine.Filter{
		ObjectType:  r.ObjectType,
		ObjectID:    r.ObjectID,
		RequesterID: r.RequesterID,
		ApproverID:  r.ApproverID,
		PendingFor:  r.PendingFor,
	}
	if r.Status != "" {
		for _, s := range strings.Split(r.Status, ",") {
			status := approval.Status(strings.TrimSpace(s))
			if !status.IsValid() {
				return service.ListQuery{}, approval.NewError(approval.KindValidation, "unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}

	for _, tf := range []struct {
		name string
		raw  string
		dst  **time.Time
	}{
		{"created_from", r.CreatedFrom, &f.CreatedFrom},
		{"created_to", r.CreatedTo, &f.CreatedTo},
		{"expires_from", r.ExpiresFrom, &f.ExpiresFrom},
		{"expires_to", r.ExpiresTo, &f.ExpiresTo},
	} {
		if tf.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, tf.raw)
		if err != nil {
			return service.ListQuery{}, approval.NewError(approval.KindValidation, "%s must be an RFC3339 timestamp", tf.name)
		}
		*tf.dst = &t
	}

	field, err := engine.ParseSortField(r.Sort)
	if err != nil {
		return service.ListQuery{}, err
	}
	var desc bool
	switch strings.ToLower(r.Order) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return service.ListQuery{}, approval.NewError(approval.KindValidation, "order must be asc or desc")
	}

	q := service.ListQuery{Filter: f, Sort: engine.Sort{Field: field, Descending: desc}}
	if paged {
		if r.Limit <= 0 || r.Limit > maxPageSize {
			r.Limit = defaultPageSize
		}
		if r.Offset < 0 {
			r.Offset = 0
		}
		q.Page = engine.Page{Offset: r.Offset, Limit: r.Limit}
	}
	return q, nil
}
