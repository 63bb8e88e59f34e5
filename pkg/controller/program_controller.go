package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

var (
	ErrInvalidProgram = errors.New("invalid program")
	ErrInvalidState   = errors.New("invalid program state")
)

// Store is the slice of persistence the controller needs.
type Store interface {
	store.ProgramStore
	store.ContactStore
	store.EnrollmentStore
	store.SignalStore
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event eventbus.Event) error
}

// ProgramEvent is announced on eventbus.ChannelProgram after a lifecycle change.
type ProgramEvent struct {
	ProgramID string `json:"program_id"`
	Status    string `json:"status"`
	Affected  int64  `json:"affected"`
}

type ProgramController struct {
	store    Store
	bus      Publisher
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewProgramController(st Store, bus Publisher, logger *zap.Logger) *ProgramController {
	return &ProgramController{
		store:    st,
		bus:      bus,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

func (c *ProgramController) CreateProgram(ctx context.Context, program *model.Program) error {
	if program.TimeZone == "" {
		program.TimeZone = "UTC"
	}
	program.Status = model.ProgramDraft
	for i := range program.Steps {
		if program.Steps[i].Condition == "" {
			program.Steps[i].Condition = model.ConditionAlways
		}
	}

	if err := c.validateProgram(program); err != nil {
		return err
	}
	if err := c.store.CreateProgram(ctx, program); err != nil {
		return err
	}

	c.logger.Info("program created",
		zap.String("program_id", program.ID.String()),
		zap.Int("steps", len(program.Steps)),
	)
	return nil
}

func (c *ProgramController) GetProgram(ctx context.Context, id uuid.UUID) (*model.Program, error) {
	return c.store.GetProgram(ctx, id)
}

// ReplaceSteps swaps the whole step list. Enrollments pointing past the new
// last step complete on their next tick.
func (c *ProgramController) ReplaceSteps(ctx context.Context, programID uuid.UUID, steps []model.Step) error {
	if _, err := c.store.GetProgram(ctx, programID); err != nil {
		return err
	}
	for i := range steps {
		if steps[i].Condition == "" {
			steps[i].Condition = model.ConditionAlways
		}
		if err := c.validate.Struct(&steps[i]); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidProgram, steps[i].StepNumber, err)
		}
	}
	if err := contiguous(steps); err != nil {
		return err
	}
	return c.store.ReplaceSteps(ctx, programID, steps)
}

// Activate enrolls every eligible contact and marks the program active.
// Contacts already enrolled are ignored. It returns the number of new
// enrollments. A paused program must be resumed instead.
func (c *ProgramController) Activate(ctx context.Context, programID uuid.UUID, contactIDs []uuid.UUID) (int64, error) {
	program, err := c.store.GetProgram(ctx, programID)
	if err != nil {
		return 0, err
	}
	if program.Status != model.ProgramDraft && program.Status != model.ProgramActive {
		return 0, fmt.Errorf("%w: cannot activate a %s program", ErrInvalidState, program.Status)
	}
	first := program.StepByNumber(1)
	if first == nil {
		return 0, fmt.Errorf("%w: program has no steps", ErrInvalidState)
	}

	contacts, err := c.store.ListContacts(ctx, program.OwnerID, contactIDs)
	if err != nil {
		return 0, fmt.Errorf("list contacts: %w", err)
	}

	now := c.now()
	due := now.Add(first.Delay())
	enrollments := make([]*model.Enrollment, 0, len(contacts))
	for i := range contacts {
		eligible, err := c.eligible(ctx, program, &contacts[i])
		if err != nil {
			return 0, err
		}
		if !eligible {
			continue
		}
		at := due
		enrollments = append(enrollments, &model.Enrollment{
			ProgramID:      program.ID,
			ContactID:      contacts[i].ID,
			CurrentStep:    1,
			Status:         model.EnrollmentActive,
			NextActionAt:   &at,
			NextActionType: first.Channel,
		})
	}

	created, err := c.store.CreateEnrollments(ctx, enrollments)
	if err != nil {
		return 0, fmt.Errorf("create enrollments: %w", err)
	}
	if err := c.store.UpdateProgramStatus(ctx, program.ID, model.ProgramActive); err != nil {
		return created, err
	}

	c.logger.Info("program activated",
		zap.String("program_id", program.ID.String()),
		zap.Int("contacts", len(contacts)),
		zap.Int64("enrolled", created),
	)
	c.announce(ctx, program.ID, model.ProgramActive, created)
	return created, nil
}

// Pause stops the scheduler from acting on the program. Due times are kept.
func (c *ProgramController) Pause(ctx context.Context, programID uuid.UUID) (int64, error) {
	program, err := c.store.GetProgram(ctx, programID)
	if err != nil {
		return 0, err
	}
	if program.Status != model.ProgramActive {
		return 0, fmt.Errorf("%w: cannot pause a %s program", ErrInvalidState, program.Status)
	}

	if err := c.store.UpdateProgramStatus(ctx, programID, model.ProgramPaused); err != nil {
		return 0, err
	}
	paused, err := c.store.PauseEnrollments(ctx, programID)
	if err != nil {
		return 0, fmt.Errorf("pause enrollments: %w", err)
	}

	c.logger.Info("program paused", zap.String("program_id", programID.String()), zap.Int64("enrollments", paused))
	c.announce(ctx, programID, model.ProgramPaused, paused)
	return paused, nil
}

// Resume makes every paused enrollment due immediately.
func (c *ProgramController) Resume(ctx context.Context, programID uuid.UUID) (int64, error) {
	program, err := c.store.GetProgram(ctx, programID)
	if err != nil {
		return 0, err
	}
	if program.Status != model.ProgramPaused {
		return 0, fmt.Errorf("%w: cannot resume a %s program", ErrInvalidState, program.Status)
	}

	resumed, err := c.store.ResumeEnrollments(ctx, programID, c.now())
	if err != nil {
		return 0, fmt.Errorf("resume enrollments: %w", err)
	}
	if err := c.store.UpdateProgramStatus(ctx, programID, model.ProgramActive); err != nil {
		return resumed, err
	}

	c.logger.Info("program resumed", zap.String("program_id", programID.String()), zap.Int64("enrollments", resumed))
	c.announce(ctx, programID, model.ProgramActive, resumed)
	return resumed, nil
}

func (c *ProgramController) eligible(ctx context.Context, program *model.Program, contact *model.Contact) (bool, error) {
	if !contact.Reachable() {
		return false, nil
	}
	if contact.Email == "" {
		return true, nil
	}
	unsubscribed, err := c.store.IsUnsubscribed(ctx, program.OwnerID, contact.Email)
	if err != nil {
		return false, fmt.Errorf("check suppression list: %w", err)
	}
	return !unsubscribed, nil
}

func (c *ProgramController) announce(ctx context.Context, programID uuid.UUID, status model.ProgramStatus, affected int64) {
	if c.bus == nil {
		return
	}
	event, err := eventbus.NewEvent("program_status_changed", ProgramEvent{
		ProgramID: programID.String(),
		Status:    string(status),
		Affected:  affected,
	})
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, eventbus.ChannelProgram, event); err != nil {
		c.logger.Warn("failed to announce program change", zap.String("program_id", programID.String()), zap.Error(err))
	}
}

func (c *ProgramController) validateProgram(program *model.Program) error {
	if err := c.validate.Struct(program); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	if _, err := time.LoadLocation(program.TimeZone); err != nil {
		return fmt.Errorf("%w: unknown time zone %q", ErrInvalidProgram, program.TimeZone)
	}
	return contiguous(program.Steps)
}

// contiguous requires step numbers 1..n with no gaps or repeats.
func contiguous(steps []model.Step) error {
	numbers := make([]int, len(steps))
	for i := range steps {
		numbers[i] = steps[i].StepNumber
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		if n != i+1 {
			return fmt.Errorf("%w: step numbers must run 1..%d without gaps", ErrInvalidProgram, len(steps))
		}
	}
	return nil
}
