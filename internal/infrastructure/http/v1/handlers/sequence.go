package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"portalid/internal/core/sequence"
	"portalid/internal/infrastructure/http/v1/dto"
)

// SequenceService is the allocator surface used by the API.
type SequenceService interface {
	AllocateNumber(ctx context.Context, name, prefix string) (sequence.Allocation, error)
	Peek(ctx context.Context, name string) (sequence.Counter, error)
	List(ctx context.Context) ([]sequence.Counter, error)
	Seed(ctx context.Context, name string, epoch sequence.Epoch, lastNumber int64, force bool) (sequence.Counter, error)
}

// SequenceHandler serves ID allocation and counter administration.
type SequenceHandler struct {
	BaseHandler
	service SequenceService
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(service SequenceService) *SequenceHandler {
	return &SequenceHandler{service: service}
}

// CreateTaskID issues the next task ID.
// POST /api/v1/tasks/ids
func (h *SequenceHandler) CreateTaskID(c *gin.Context) {
	h.allocate(c, sequence.Task.Name, sequence.Task.Prefix)
}

// CreateIncidentID issues the next incident report ID.
// POST /api/v1/incidents/ids
func (h *SequenceHandler) CreateIncidentID(c *gin.Context) {
	h.allocate(c, sequence.Incident.Name, sequence.Incident.Prefix)
}

// Allocate issues the next ID of any sequence.
// POST /api/v1/sequences/:name/allocate
func (h *SequenceHandler) Allocate(c *gin.Context) {
	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	h.allocate(c, c.Param("name"), req.Prefix)
}

func (h *SequenceHandler) allocate(c *gin.Context, name, prefix string) {
	a, err := h.service.AllocateNumber(c.Request.Context(), name, prefix)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromAllocation(a))
}

// List returns every counter.
// GET /api/v1/sequences
func (h *SequenceHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromCounters(list)))
}

// Get returns one counter.
// GET /api/v1/sequences/:name
func (h *SequenceHandler) Get(c *gin.Context) {
	counter, err := h.service.Peek(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCounter(counter))
}

// Seed overwrites a counter.
// PUT /api/v1/sequences/:name
func (h *SequenceHandler) Seed(c *gin.Context) {
	var req dto.SeedRequest
	if !h.BindJSON(c, &req) {
		return
	}
	counter, err := h.service.Seed(c.Request.Context(), c.Param("name"), sequence.Epoch(req.Year), req.LastNumber, req.Force)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCounter(counter))
}
