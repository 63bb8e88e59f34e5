package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

// ProgramService is implemented by controller.ProgramController.
type ProgramService interface {
	CreateProgram(ctx context.Context, program *model.Program) error
	GetProgram(ctx context.Context, id uuid.UUID) (*model.Program, error)
	ReplaceSteps(ctx context.Context, programID uuid.UUID, steps []model.Step) error
	Activate(ctx context.Context, programID uuid.UUID, contactIDs []uuid.UUID) (int64, error)
	Pause(ctx context.Context, programID uuid.UUID) (int64, error)
	Resume(ctx context.Context, programID uuid.UUID) (int64, error)
}

type ProgramHandler struct {
	programs ProgramService
	logger   *zap.Logger
}

func NewProgramHandler(programs ProgramService, logger *zap.Logger) *ProgramHandler {
	return &ProgramHandler{programs: programs, logger: logger}
}

type stepRequest struct {
	StepNumber    int    `json:"step_number" binding:"required,min=1"`
	Channel       string `json:"channel" binding:"required"`
	Condition     string `json:"condition"`
	DelayDays     int    `json:"delay_days"`
	DelayHours    int    `json:"delay_hours"`
	DelayMinutes  int    `json:"delay_minutes"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	CallToAction  string `json:"call_to_action"`
	AssistantID   string `json:"assistant_id"`
	ScriptContext string `json:"script_context"`
	Message       string `json:"message"`
}

type programCreateRequest struct {
	Name               string        `json:"name" binding:"required"`
	TimeZone           string        `json:"time_zone"`
	SendDays           []int64       `json:"send_days" binding:"required"`
	WindowStartMinute  int           `json:"window_start_minute"`
	WindowEndMinute    *int          `json:"window_end_minute"`
	StopOnReply        *bool         `json:"stop_on_reply"`
	StopOnClick        bool          `json:"stop_on_click"`
	StopOnBounce       *bool         `json:"stop_on_bounce"`
	StopOnCallAnswered bool          `json:"stop_on_call_answered"`
	SenderName         string        `json:"sender_name"`
	SenderEmail        string        `json:"sender_email"`
	AssistantID        string        `json:"assistant_id"`
	CompanyName        string        `json:"company_name"`
	ProductDescription string        `json:"product_description"`
	DailyActionLimit   int           `json:"daily_action_limit"`
	Steps              []stepRequest `json:"steps"`
}

type replaceStepsRequest struct {
	Steps []stepRequest `json:"steps" binding:"required"`
}

type activateRequest struct {
	ContactIDs []string `json:"contact_ids" binding:"required"`
}

type stepResponse struct {
	ID           string `json:"id"`
	StepNumber   int    `json:"step_number"`
	Channel      string `json:"channel"`
	Condition    string `json:"condition"`
	DelayDays    int    `json:"delay_days"`
	DelayHours   int    `json:"delay_hours"`
	DelayMinutes int    `json:"delay_minutes"`
	SentCount    int64  `json:"sent_count"`
}

type programResponse struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Status             string         `json:"status"`
	TimeZone           string         `json:"time_zone"`
	SendDays           []int64        `json:"send_days"`
	WindowStartMinute  int            `json:"window_start_minute"`
	WindowEndMinute    int            `json:"window_end_minute"`
	DailyActionLimit   int            `json:"daily_action_limit"`
	TotalSent          int64          `json:"total_sent"`
	TotalOpened        int64          `json:"total_opened"`
	TotalClicked       int64          `json:"total_clicked"`
	TotalReplied       int64          `json:"total_replied"`
	TotalBounced       int64          `json:"total_bounced"`
	TotalCallsMade     int64          `json:"total_calls_made"`
	TotalCallsAnswered int64          `json:"total_calls_answered"`
	Steps              []stepResponse `json:"steps"`
	CreatedAt          *string        `json:"created_at,omitempty"`
}

func (h *ProgramHandler) Create(c *gin.Context) {
	var req programCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	program := &model.Program{
		OwnerID:            owner(c),
		Name:               req.Name,
		TimeZone:           req.TimeZone,
		SendDays:           pq.Int64Array(req.SendDays),
		WindowStartMinute:  req.WindowStartMinute,
		WindowEndMinute:    1439,
		StopOnReply:        true,
		StopOnClick:        req.StopOnClick,
		StopOnBounce:       true,
		StopOnCallAnswered: req.StopOnCallAnswered,
		SenderName:         req.SenderName,
		SenderEmail:        req.SenderEmail,
		AssistantID:        req.AssistantID,
		CompanyName:        req.CompanyName,
		ProductDescription: req.ProductDescription,
		DailyActionLimit:   req.DailyActionLimit,
		Steps:              toSteps(req.Steps),
	}
	if req.WindowEndMinute != nil {
		program.WindowEndMinute = *req.WindowEndMinute
	}
	if req.StopOnReply != nil {
		program.StopOnReply = *req.StopOnReply
	}
	if req.StopOnBounce != nil {
		program.StopOnBounce = *req.StopOnBounce
	}

	if err := h.programs.CreateProgram(c.Request.Context(), program); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProgramResponse(program))
}

func (h *ProgramHandler) Get(c *gin.Context) {
	program, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toProgramResponse(program))
}

func (h *ProgramHandler) ReplaceSteps(c *gin.Context) {
	program, ok := h.load(c)
	if !ok {
		return
	}
	var req replaceStepsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if err := h.programs.ReplaceSteps(c.Request.Context(), program.ID, toSteps(req.Steps)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProgramHandler) Activate(c *gin.Context) {
	program, ok := h.load(c)
	if !ok {
		return
	}
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	ids := make([]uuid.UUID, 0, len(req.ContactIDs))
	for _, raw := range req.ContactIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id", "details": raw})
			return
		}
		ids = append(ids, id)
	}

	enrolled, err := h.programs.Activate(c.Request.Context(), program.ID, ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": enrolled})
}

func (h *ProgramHandler) Pause(c *gin.Context) {
	h.transition(c, h.programs.Pause, "paused")
}

func (h *ProgramHandler) Resume(c *gin.Context) {
	h.transition(c, h.programs.Resume, "resumed")
}

func (h *ProgramHandler) transition(c *gin.Context, fn func(context.Context, uuid.UUID) (int64, error), key string) {
	program, ok := h.load(c)
	if !ok {
		return
	}
	n, err := fn(c.Request.Context(), program.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: n})
}

// load fetches the program named in the path, hiding programs of other owners.
func (h *ProgramHandler) load(c *gin.Context) (*model.Program, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	program, err := h.programs.GetProgram(c.Request.Context(), id)
	if err == nil && program.OwnerID != owner(c) {
		err = store.ErrNotFound
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return program, true
}

func toSteps(in []stepRequest) []model.Step {
	steps := make([]model.Step, 0, len(in))
	for _, s := range in {
		steps = append(steps, model.Step{
			StepNumber:    s.StepNumber,
			Channel:       model.Channel(s.Channel),
			Condition:     model.Condition(s.Condition),
			DelayDays:     s.DelayDays,
			DelayHours:    s.DelayHours,
			DelayMinutes:  s.DelayMinutes,
			Subject:       s.Subject,
			Body:          s.Body,
			CallToAction:  s.CallToAction,
			AssistantID:   s.AssistantID,
			ScriptContext: s.ScriptContext,
			Message:       s.Message,
		})
	}
	return steps
}

func toProgramResponse(p *model.Program) programResponse {
	resp := programResponse{
		ID:                 p.ID.String(),
		Name:               p.Name,
		Status:             string(p.Status),
		TimeZone:           p.TimeZone,
		SendDays:           []int64(p.SendDays),
		WindowStartMinute:  p.WindowStartMinute,
		WindowEndMinute:    p.WindowEndMinute,
		DailyActionLimit:   p.DailyActionLimit,
		TotalSent:          p.TotalSent,
		TotalOpened:        p.TotalOpened,
		TotalClicked:       p.TotalClicked,
		TotalReplied:       p.TotalReplied,
		TotalBounced:       p.TotalBounced,
		TotalCallsMade:     p.TotalCallsMade,
		TotalCallsAnswered: p.TotalCallsAnswered,
		Steps:              make([]stepResponse, 0, len(p.Steps)),
	}
	if !p.CreatedAt.IsZero() {
		resp.CreatedAt = formatTime(&p.CreatedAt)
	}
	for _, s := range p.Steps {
		resp.Steps = append(resp.Steps, stepResponse{
			ID:           s.ID.String(),
			StepNumber:   s.StepNumber,
			Channel:      string(s.Channel),
			Condition:    string(s.EffectiveCondition()),
			DelayDays:    s.DelayDays,
			DelayHours:   s.DelayHours,
			DelayMinutes: s.DelayMinutes,
			SentCount:    s.SentCount,
		})
	}
	return resp
}
