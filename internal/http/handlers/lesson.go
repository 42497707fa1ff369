package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lessonforge/internal/http/response"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/compiler"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

// LessonCompiler is the compile surface the handlers drive.
type LessonCompiler interface {
	Compile(ctx context.Context, req compiler.CompileRequest) (*compiler.Result, error)
	RegenerateStage(ctx context.Context, id uuid.UUID, version int, stage lesson.StageName) (*compiler.StageRegeneration, error)
}

type DocumentReader interface {
	GetDocument(ctx context.Context, id uuid.UUID, version int) (*lesson.Document, error)
}

type LessonHandler struct {
	log       *logger.Logger
	compiler  LessonCompiler
	documents DocumentReader
}

func NewLessonHandler(log *logger.Logger, c LessonCompiler, docs DocumentReader) *LessonHandler {
	return &LessonHandler{log: log.With("handler", "LessonHandler"), compiler: c, documents: docs}
}

type compileResponse struct {
	DocumentID  uuid.UUID          `json:"document_id"`
	Version     int                `json:"version"`
	Incremental bool               `json:"incremental"`
	CacheHit    bool               `json:"cache_hit"`
	CacheHits   int                `json:"cache_hits,omitempty"`
	Pending     []lesson.StageName `json:"pending_stages,omitempty"`
	Events      string             `json:"events,omitempty"`
	Document    json.RawMessage    `json:"document"`
}

// POST /api/lessons/compile
func (h *LessonHandler) Compile(c *gin.Context) {
	var req compiler.CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.compiler.Compile(c.Request.Context(), req)
	if err != nil {
		h.log.Warn("compile failed", "descriptor_id", req.DescriptorID, "kind", lesson.Classify(err), "error", err)
		response.RespondPipelineError(c, err)
		return
	}
	raw := res.Raw
	if len(raw) == 0 {
		if raw, err = json.Marshal(res.Document); err != nil {
			response.RespondError(c, http.StatusInternalServerError, "encode_failed", err)
			return
		}
	}
	out := compileResponse{
		DocumentID:  res.DocumentID,
		Version:     res.Version,
		Incremental: res.Incremental,
		CacheHit:    res.CacheHit,
		CacheHits:   res.CacheHits,
		Document:    raw,
	}
	status := http.StatusOK
	if res.Task != nil {
		status = http.StatusAccepted
		out.Events = fmt.Sprintf("/api/lessons/%s/events", res.DocumentID)
		if res.Document != nil {
			for _, s := range lesson.Stages {
				if st := res.Document.Status[s].State; st == lesson.StatePending || st == lesson.StateGenerating {
					out.Pending = append(out.Pending, s)
				}
			}
		}
	}
	c.JSON(status, out)
}

// GET /api/lessons/:id?version=N
func (h *LessonHandler) GetDocument(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	version, ok := versionParam(c)
	if !ok {
		return
	}
	doc, err := h.documents.GetDocument(c.Request.Context(), id, version)
	if err != nil {
		response.RespondPipelineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

// POST /api/lessons/:id/stages/:stage/regenerate?version=N
func (h *LessonHandler) RegenerateStage(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	version, ok := versionParam(c)
	if !ok {
		return
	}
	stage := lesson.StageName(c.Param("stage"))
	out, err := h.compiler.RegenerateStage(c.Request.Context(), id, version, stage)
	if err != nil {
		h.log.Warn("regenerate failed", "document_id", id, "stage", stage, "error", err)
		response.RespondPipelineError(c, err)
		return
	}
	response.RespondOK(c, out)
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// versionParam reads ?version; absent means latest (0).
func versionParam(c *gin.Context) (int, bool) {
	raw := c.Query("version")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_version", fmt.Errorf("version must be a non-negative integer"))
		return 0, false
	}
	return v, true
}
