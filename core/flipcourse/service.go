package flipcourse

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/user"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("flip course not found")
	ErrPrescriptionNotFound = core.NewNotFoundError("prescription not found")
	ErrTaskNotFound         = core.NewNotFoundError("task not found")
	ErrForbidden            = core.NewForbiddenError("you are not allowed to do this on this flip course")
	ErrInvalidTransition    = core.NewConflictError("flip course cannot move to this stage")
	ErrWrongStage           = core.NewConflictError("flip course stage does not allow this operation")
	ErrCompleted            = core.NewConflictError("flip course is completed")
	ErrTeamMissing          = core.NewConflictError("a counselor and an analyst must be assigned first")
	ErrNoPrescription       = core.NewConflictError("the current cycle has no prescription yet")
	ErrNoAnalysis           = core.NewConflictError("the current cycle has not been analysed yet")
	ErrAnalysisExists       = core.NewConflictError("the current cycle already has an analysis")
	ErrTaskDone             = core.NewConflictError("task is already completed")
	ErrTasksStarted         = core.NewConflictError("tasks cannot be replaced once one of them is completed")
	errWrongRole            = errors.New("user does not hold the required role")
	errNotCourseProduct     = errors.New("recommended courses must be course products")
)

const EventStageChanged = "flipcourse.stage_changed"

type (
	Repository interface {
		CreateFlipCourse(ctx context.Context, fc FlipCourse) (FlipCourse, error)
		GetFlipCourse(ctx context.Context, id string) (FlipCourse, error)
		QueryFlipCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]FlipCourse, error)
		// UpdateFlipCourse saves the details and team. Stage, cycle and completion are left untouched.
		UpdateFlipCourse(ctx context.Context, fc FlipCourse) (FlipCourse, error)
		// TransitionFlipCourse saves stage, cycle and completion if the stored stage is still from,
		// or fails with ErrInvalidTransition.
		TransitionFlipCourse(ctx context.Context, fc FlipCourse, from Stage) (FlipCourse, error)

		// CreatePrescription inserts the prescription with its tasks and recommended courses.
		CreatePrescription(ctx context.Context, p Prescription) (Prescription, error)
		GetPrescription(ctx context.Context, id string) (Prescription, error)
		QueryPrescriptions(ctx context.Context, flipCourseID string) ([]Prescription, error)
		// UpdatePrescription saves the prescription. Tasks and courses are replaced when replaceTasks / replaceCourses are set.
		UpdatePrescription(ctx context.Context, p Prescription, replaceTasks, replaceCourses bool) (Prescription, error)
		CountPrescriptions(ctx context.Context, flipCourseID string, cycle int) (int, error)

		GetTask(ctx context.Context, id string) (Task, error)
		// CompleteTask sets the task's completion time; ErrTaskDone when it is already set.
		CompleteTask(ctx context.Context, id string, at time.Time) (Task, error)
		// QueryDueTasks returns the open tasks of running courses due in [from, to).
		QueryDueTasks(ctx context.Context, from, to time.Time) ([]DueTask, error)

		// CreateAnalysis fails with ErrAnalysisExists when the cycle is already analysed.
		CreateAnalysis(ctx context.Context, a Analysis) (Analysis, error)
		QueryAnalyses(ctx context.Context, flipCourseID string) ([]Analysis, error)
		CountAnalyses(ctx context.Context, flipCourseID string, cycle int) (int, error)
	}

	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ProductGetter interface {
		GetProductsByID(ctx context.Context, ids ...string) ([]catalog.Product, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, nf NewFlipCourse, caller user.User) (FlipCourse, error)
		Get(ctx context.Context, id string, caller user.User) (FlipCourse, error)
		List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, caller user.User) ([]FlipCourse, error)
		AssignTeam(ctx context.Context, id string, at AssignTeam, caller user.User) (FlipCourse, error)
		Advance(ctx context.Context, id string, to Stage, caller user.User) (FlipCourse, error)

		CreatePrescription(ctx context.Context, flipCourseID string, np NewPrescription, caller user.User) (Prescription, error)
		ListPrescriptions(ctx context.Context, flipCourseID string, caller user.User) ([]Prescription, error)
		UpdatePrescription(ctx context.Context, id string, up UpdatePrescription, caller user.User) (Prescription, error)
		CompleteTask(ctx context.Context, taskID string, caller user.User) (Task, error)

		CreateAnalysis(ctx context.Context, flipCourseID string, na NewAnalysis, caller user.User) (Analysis, error)
		ListAnalyses(ctx context.Context, flipCourseID string, caller user.User) ([]Analysis, error)

		DueTasks(ctx context.Context, from, to time.Time) ([]DueTask, error)
	}

	Service struct {
		repo     Repository
		users    UserGetter
		products ProductGetter
		notifier core.Notifier
		events   core.EventPublisher
		logger   core.Logger
		nowFunc  func() time.Time
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	users UserGetter,
	products ProductGetter,
	notifier core.Notifier,
	events core.EventPublisher,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		products: products,
		notifier: notifier,
		events:   events,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func fieldErr(field string, err error) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
}

// checkRole makes sure the user exists, is active and holds the role.
func (svc *Service) checkRole(ctx context.Context, field, id, role string) error {
	usr, err := svc.users.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return fieldErr(field, err)
		}
		return errors.Wrapf(err, "finding %s", field)
	}
	if !usr.IsActive || !usr.RoleStartsWith(role) {
		return fieldErr(field, errWrongRole)
	}
	return nil
}

func (svc *Service) checkCourses(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	prods, err := svc.products.GetProductsByID(ctx, ids...)
	if err != nil {
		return errors.Wrap(err, "finding recommended courses")
	}
	found := make(map[string]catalog.Product, len(prods))
	for _, p := range prods {
		found[p.ID] = p
	}
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			return fieldErr("course_ids", catalog.ErrProductNotFound)
		}
		if p.Kind != catalog.KindCourse {
			return fieldErr("course_ids", errNotCourseProduct)
		}
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nf NewFlipCourse, caller user.User) (FlipCourse, error) {
	if !caller.IsPlanner() && !caller.IsAdmin() {
		return FlipCourse{}, ErrForbidden
	}
	if nf.PlannerID == "" || !caller.IsAdmin() {
		nf.PlannerID = caller.ID
	}
	if nf.PlannerID != caller.ID {
		if err := svc.checkRole(ctx, "planner_id", nf.PlannerID, user.RolePlanner); err != nil {
			return FlipCourse{}, err
		}
	}
	if err := svc.checkRole(ctx, "student_id", nf.StudentID, user.RoleStudent); err != nil {
		return FlipCourse{}, err
	}
	if nf.CounselorID != nil && *nf.CounselorID != "" {
		if err := svc.checkRole(ctx, "counselor_id", *nf.CounselorID, user.RoleCounselor); err != nil {
			return FlipCourse{}, err
		}
	}
	if nf.AnalystID != nil && *nf.AnalystID != "" {
		if err := svc.checkRole(ctx, "analyst_id", *nf.AnalystID, user.RoleAnalyst); err != nil {
			return FlipCourse{}, err
		}
	}

	now := svc.nowFunc().UTC()
	return svc.repo.CreateFlipCourse(ctx, FlipCourse{
		Title:       nf.Title,
		Description: nf.Description,
		StudentID:   nf.StudentID,
		PlannerID:   nf.PlannerID,
		CounselorID: nullID(nf.CounselorID),
		AnalystID:   nullID(nf.AnalystID),
		Stage:       StageCreated,
		Cycle:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func nullID(id *string) null.String {
	if id == nil || *id == "" {
		return null.String{}
	}
	return null.StringFrom(*id)
}

// load fetches the course; non participants get ErrNotFound unless they are admins.
func (svc *Service) load(ctx context.Context, id string, caller user.User) (FlipCourse, error) {
	fc, err := svc.repo.GetFlipCourse(ctx, id)
	if err != nil {
		return FlipCourse{}, err
	}
	if !caller.IsAdmin() && !fc.IsParticipant(caller.ID) {
		return FlipCourse{}, ErrNotFound
	}
	return fc, nil
}

func (svc *Service) Get(ctx context.Context, id string, caller user.User) (FlipCourse, error) {
	return svc.load(ctx, id, caller)
}

func (svc *Service) List(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, caller user.User) ([]FlipCourse, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if !caller.IsAdmin() {
		filter.ParticipantID = caller.ID
	}
	return svc.repo.QueryFlipCourses(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) AssignTeam(ctx context.Context, id string, at AssignTeam, caller user.User) (FlipCourse, error) {
	fc, err := svc.load(ctx, id, caller)
	if err != nil {
		return FlipCourse{}, err
	}
	if fc.PlannerID != caller.ID && !caller.IsAdmin() {
		return FlipCourse{}, ErrForbidden
	}
	if fc.Stage == StageCompleted {
		return FlipCourse{}, ErrCompleted
	}
	if err := svc.checkRole(ctx, "counselor_id", at.CounselorID, user.RoleCounselor); err != nil {
		return FlipCourse{}, err
	}
	if err := svc.checkRole(ctx, "analyst_id", at.AnalystID, user.RoleAnalyst); err != nil {
		return FlipCourse{}, err
	}
	fc.CounselorID = null.StringFrom(at.CounselorID)
	fc.AnalystID = null.StringFrom(at.AnalystID)
	fc.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateFlipCourse(ctx, fc)
}

// Advance moves the course along its stage machine. Admins may take any legal edge.
func (svc *Service) Advance(ctx context.Context, id string, to Stage, caller user.User) (FlipCourse, error) {
	fc, err := svc.load(ctx, id, caller)
	if err != nil {
		return FlipCourse{}, err
	}
	e, ok := findEdge(fc.Stage, to)
	if !ok {
		return FlipCourse{}, ErrInvalidTransition
	}
	if !caller.IsAdmin() && !e.actor(fc, caller) {
		return FlipCourse{}, ErrForbidden
	}

	switch to {
	case StageCounseling:
		if !fc.CounselorID.Valid || !fc.AnalystID.Valid {
			return FlipCourse{}, ErrTeamMissing
		}
	case StageAnalyzing:
		n, err := svc.repo.CountPrescriptions(ctx, fc.ID, fc.Cycle)
		if err != nil {
			return FlipCourse{}, errors.Wrap(err, "counting prescriptions")
		}
		if n == 0 {
			return FlipCourse{}, ErrNoPrescription
		}
	case StageCycling:
		n, err := svc.repo.CountAnalyses(ctx, fc.ID, fc.Cycle)
		if err != nil {
			return FlipCourse{}, errors.Wrap(err, "counting analyses")
		}
		if n == 0 {
			return FlipCourse{}, ErrNoAnalysis
		}
	}

	now := svc.nowFunc().UTC()
	from := fc.Stage
	if from == StageCycling && to == StageCounseling {
		fc.Cycle++
	}
	if to == StageCompleted {
		fc.CompletedAt = null.TimeFrom(now)
	}
	fc.Stage = to
	fc.UpdatedAt = now
	if fc, err = svc.repo.TransitionFlipCourse(ctx, fc, from); err != nil {
		return FlipCourse{}, err
	}

	// stage changes reach every participant, the caller included
	svc.notifyAll(ctx, fc, "", core.Notice{
		Kind:      EventStageChanged,
		Title:     "Flip course moved to " + string(to),
		Body:      fmt.Sprintf("%q moved from %s to %s (cycle %d).", fc.Title, from, to, fc.Cycle),
		Data:      map[string]interface{}{"flip_course_id": fc.ID, "stage": to},
		DedupeKey: fmt.Sprintf("flipcourse.stage:%s:%d:%s", fc.ID, fc.Cycle, to),
		SendEmail: true,
	})
	event := core.NewEvent(EventStageChanged, fc.ID, map[string]interface{}{
		"id":    fc.ID,
		"from":  from,
		"to":    to,
		"cycle": fc.Cycle,
	})
	if err := svc.events.Publish(ctx, event); err != nil {
		svc.logger.Error(fmt.Sprintf("flipcourse: publishing %s: %v", event.Name, err), err)
	}
	return fc, nil
}

func (svc *Service) CreatePrescription(ctx context.Context, flipCourseID string, np NewPrescription, caller user.User) (Prescription, error) {
	fc, err := svc.load(ctx, flipCourseID, caller)
	if err != nil {
		return Prescription{}, err
	}
	if !fc.IsCounselor(caller.ID) && !caller.IsAdmin() {
		return Prescription{}, ErrForbidden
	}
	if fc.Stage != StageCounseling {
		return Prescription{}, ErrWrongStage
	}
	if err := svc.checkCourses(ctx, np.CourseIDs); err != nil {
		return Prescription{}, err
	}

	now := svc.nowFunc().UTC()
	p := Prescription{
		FlipCourseID: fc.ID,
		CounselorID:  fc.CounselorID.String,
		Cycle:        fc.Cycle,
		Title:        np.Title,
		Content:      np.Content,
		Tasks:        newTasks(np.Tasks),
		CourseIDs:    np.CourseIDs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p, err = svc.repo.CreatePrescription(ctx, p); err != nil {
		return Prescription{}, err
	}
	svc.notifyAll(ctx, fc, caller.ID, core.Notice{
		Kind:      "flipcourse.prescription",
		Title:     "New prescription",
		Body:      fmt.Sprintf("%q: %s (%d tasks).", fc.Title, p.Title, len(p.Tasks)),
		Data:      map[string]interface{}{"flip_course_id": fc.ID, "prescription_id": p.ID},
		DedupeKey: "flipcourse.prescription:" + p.ID,
		SendEmail: true,
	})
	return p, nil
}

func newTasks(nts []NewTask) []Task {
	tasks := make([]Task, 0, len(nts))
	for i, nt := range nts {
		t := Task{Title: nt.Title, Description: nt.Description, Position: i + 1}
		if nt.DueAt != nil {
			t.DueAt = null.TimeFrom(nt.DueAt.UTC())
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func (svc *Service) ListPrescriptions(ctx context.Context, flipCourseID string, caller user.User) ([]Prescription, error) {
	if _, err := svc.load(ctx, flipCourseID, caller); err != nil {
		return nil, err
	}
	return svc.repo.QueryPrescriptions(ctx, flipCourseID)
}

func (svc *Service) UpdatePrescription(ctx context.Context, id string, up UpdatePrescription, caller user.User) (Prescription, error) {
	p, err := svc.repo.GetPrescription(ctx, id)
	if err != nil {
		return Prescription{}, err
	}
	fc, err := svc.load(ctx, p.FlipCourseID, caller)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Prescription{}, ErrPrescriptionNotFound
		}
		return Prescription{}, err
	}
	if p.CounselorID != caller.ID && !caller.IsAdmin() {
		return Prescription{}, ErrForbidden
	}
	if fc.Stage == StageCompleted {
		return Prescription{}, ErrCompleted
	}

	if up.Title != nil && core.CleanString(*up.Title) != "" {
		p.Title = core.CleanString(*up.Title)
	}
	if up.Content != nil && core.CleanString(*up.Content) != "" {
		p.Content = core.CleanString(*up.Content)
	}
	replaceTasks := up.Tasks != nil
	if replaceTasks {
		if p.HasCompletedTasks() {
			return Prescription{}, ErrTasksStarted
		}
		p.Tasks = newTasks(up.Tasks)
	}
	replaceCourses := up.CourseIDs != nil
	if replaceCourses {
		if err := svc.checkCourses(ctx, up.CourseIDs); err != nil {
			return Prescription{}, err
		}
		p.CourseIDs = up.CourseIDs
	}
	p.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdatePrescription(ctx, p, replaceTasks, replaceCourses)
}

// CompleteTask marks a task done. Only the student of the course (or an admin) may do it.
func (svc *Service) CompleteTask(ctx context.Context, taskID string, caller user.User) (Task, error) {
	task, err := svc.repo.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	p, err := svc.repo.GetPrescription(ctx, task.PrescriptionID)
	if err != nil {
		return Task{}, errors.Wrap(err, "finding prescription")
	}
	fc, err := svc.repo.GetFlipCourse(ctx, p.FlipCourseID)
	if err != nil {
		return Task{}, errors.Wrap(err, "finding flip course")
	}
	if fc.StudentID != caller.ID && !caller.IsAdmin() {
		if fc.IsParticipant(caller.ID) {
			return Task{}, ErrForbidden
		}
		return Task{}, ErrTaskNotFound
	}
	if task.CompletedAt.Valid {
		return Task{}, ErrTaskDone
	}
	return svc.repo.CompleteTask(ctx, taskID, svc.nowFunc().UTC())
}

func (svc *Service) CreateAnalysis(ctx context.Context, flipCourseID string, na NewAnalysis, caller user.User) (Analysis, error) {
	fc, err := svc.load(ctx, flipCourseID, caller)
	if err != nil {
		return Analysis{}, err
	}
	if !fc.IsAnalyst(caller.ID) && !caller.IsAdmin() {
		return Analysis{}, ErrForbidden
	}
	if fc.Stage != StageAnalyzing {
		return Analysis{}, ErrWrongStage
	}

	a := Analysis{
		FlipCourseID:   fc.ID,
		AnalystID:      fc.AnalystID.String,
		Cycle:          fc.Cycle,
		Summary:        na.Summary,
		Score:          null.IntFromPtr(na.Score),
		Recommendation: na.Recommendation,
		CreatedAt:      svc.nowFunc().UTC(),
	}
	if a, err = svc.repo.CreateAnalysis(ctx, a); err != nil {
		return Analysis{}, err
	}
	svc.notifyAll(ctx, fc, caller.ID, core.Notice{
		Kind:      "flipcourse.analysis",
		Title:     "Cycle analysed",
		Body:      fmt.Sprintf("%q cycle %d: recommendation %s.", fc.Title, a.Cycle, a.Recommendation),
		Data:      map[string]interface{}{"flip_course_id": fc.ID, "analysis_id": a.ID},
		DedupeKey: "flipcourse.analysis:" + a.ID,
		SendEmail: true,
	})
	return a, nil
}

func (svc *Service) ListAnalyses(ctx context.Context, flipCourseID string, caller user.User) ([]Analysis, error) {
	if _, err := svc.load(ctx, flipCourseID, caller); err != nil {
		return nil, err
	}
	return svc.repo.QueryAnalyses(ctx, flipCourseID)
}

func (svc *Service) DueTasks(ctx context.Context, from, to time.Time) ([]DueTask, error) {
	return svc.repo.QueryDueTasks(ctx, from.UTC(), to.UTC())
}

// notifyAll sends the notice to every participant other than exceptID.
func (svc *Service) notifyAll(ctx context.Context, fc FlipCourse, exceptID string, notice core.Notice) {
	for _, uid := range fc.Participants() {
		if uid == exceptID {
			continue
		}
		n := notice
		n.UserID = uid
		if _, err := svc.notifier.Notify(ctx, n); err != nil {
			svc.logger.Error(fmt.Sprintf("flip course %s: notifying %s: %v", fc.ID, uid, err), err)
		}
	}
}
