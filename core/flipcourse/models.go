package flipcourse

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

type Stage string

const (
	StageCreated    Stage = "created"
	StagePlanning   Stage = "planning"
	StageCounseling Stage = "counseling"
	StageAnalyzing  Stage = "analyzing"
	StageCycling    Stage = "cycling"
	StageCompleted  Stage = "completed"
)

var Stages = []Stage{StageCreated, StagePlanning, StageCounseling, StageAnalyzing, StageCycling, StageCompleted}

type Recommendation string

const (
	RecommendContinue Recommendation = "continue"
	RecommendComplete Recommendation = "complete"
)

// FlipCourse is a personalised learning program run for one student by a planner, a counselor and an analyst.
type FlipCourse struct {
	ID          string      `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	Description string      `json:"description" db:"description"`
	StudentID   string      `json:"student_id" db:"student_id"`
	PlannerID   string      `json:"planner_id" db:"planner_id"`
	CounselorID null.String `json:"counselor_id" db:"counselor_id"`
	AnalystID   null.String `json:"analyst_id" db:"analyst_id"`
	Stage       Stage       `json:"stage" db:"stage"`
	Cycle       int         `json:"cycle" db:"cycle"`
	CompletedAt null.Time   `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Participants returns the IDs of every user involved in the course.
func (fc FlipCourse) Participants() []string {
	ids := []string{fc.StudentID, fc.PlannerID}
	if fc.CounselorID.Valid {
		ids = append(ids, fc.CounselorID.String)
	}
	if fc.AnalystID.Valid {
		ids = append(ids, fc.AnalystID.String)
	}
	return core.UniqueStrings(ids)
}

func (fc FlipCourse) IsParticipant(userID string) bool {
	return core.ContainsString(fc.Participants(), userID)
}

func (fc FlipCourse) IsCounselor(userID string) bool {
	return fc.CounselorID.Valid && fc.CounselorID.String == userID
}

func (fc FlipCourse) IsAnalyst(userID string) bool {
	return fc.AnalystID.Valid && fc.AnalystID.String == userID
}

// Prescription is the plan a counselor issues for one cycle: tasks for the student and recommended courses.
type Prescription struct {
	ID           string    `json:"id" db:"id"`
	FlipCourseID string    `json:"flip_course_id" db:"flip_course_id"`
	CounselorID  string    `json:"counselor_id" db:"counselor_id"`
	Cycle        int       `json:"cycle" db:"cycle"`
	Title        string    `json:"title" db:"title"`
	Content      string    `json:"content" db:"content"`
	Tasks        []Task    `json:"tasks" db:"-"`
	CourseIDs    []string  `json:"course_ids" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func (p Prescription) HasCompletedTasks() bool {
	for _, t := range p.Tasks {
		if t.CompletedAt.Valid {
			return true
		}
	}
	return false
}

type Task struct {
	ID             string    `json:"id" db:"id"`
	PrescriptionID string    `json:"prescription_id" db:"prescription_id"`
	Title          string    `json:"title" db:"title"`
	Description    string    `json:"description" db:"description"`
	DueAt          null.Time `json:"due_at" db:"due_at"`
	CompletedAt    null.Time `json:"completed_at" db:"completed_at"`
	Position       int       `json:"position" db:"position"`
}

// DueTask is an open task together with the course it belongs to.
type DueTask struct {
	Task
	FlipCourseID    string `db:"flip_course_id"`
	FlipCourseTitle string `db:"flip_course_title"`
	StudentID       string `db:"student_id"`
}

type Analysis struct {
	ID             string         `json:"id" db:"id"`
	FlipCourseID   string         `json:"flip_course_id" db:"flip_course_id"`
	AnalystID      string         `json:"analyst_id" db:"analyst_id"`
	Cycle          int            `json:"cycle" db:"cycle"`
	Summary        string         `json:"summary" db:"summary"`
	Score          null.Int       `json:"score" db:"score"`
	Recommendation Recommendation `json:"recommendation" db:"recommendation"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

type NewFlipCourse struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description"`
	StudentID   string  `json:"student_id" validate:"required,uuid"`
	PlannerID   string  `json:"planner_id" validate:"omitempty,uuid"`
	CounselorID *string `json:"counselor_id" validate:"omitempty,uuid"`
	AnalystID   *string `json:"analyst_id" validate:"omitempty,uuid"`
}

func (nf *NewFlipCourse) Validate(validate *validator.Validate) error {
	nf.Title = core.CleanString(nf.Title)
	nf.Description = core.CleanString(nf.Description)
	return validate.Struct(nf)
}

type AssignTeam struct {
	CounselorID string `json:"counselor_id" validate:"required,uuid"`
	AnalystID   string `json:"analyst_id" validate:"required,uuid"`
}

func (at *AssignTeam) Validate(validate *validator.Validate) error {
	return validate.Struct(at)
}

type Advance struct {
	To Stage `json:"to" validate:"required"`
}

func (a *Advance) Validate(validate *validator.Validate) error {
	return validate.Struct(a)
}

type NewTask struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"due_at"`
}

type NewPrescription struct {
	Title     string    `json:"title" validate:"required,max=200"`
	Content   string    `json:"content" validate:"required"`
	Tasks     []NewTask `json:"tasks" validate:"max=50,dive"`
	CourseIDs []string  `json:"course_ids" validate:"max=20,dive,uuid"`
}

func (np *NewPrescription) Validate(validate *validator.Validate) error {
	np.Title = core.CleanString(np.Title)
	np.Content = core.CleanString(np.Content)
	for i := range np.Tasks {
		np.Tasks[i].Title = core.CleanString(np.Tasks[i].Title)
		np.Tasks[i].Description = core.CleanString(np.Tasks[i].Description)
	}
	np.CourseIDs = core.UniqueStrings(np.CourseIDs)
	return validate.Struct(np)
}

// UpdatePrescription changes a prescription. Nil Tasks or CourseIDs are left untouched;
// otherwise they replace the current ones.
type UpdatePrescription struct {
	Title     *string   `json:"title" validate:"omitempty,max=200"`
	Content   *string   `json:"content"`
	Tasks     []NewTask `json:"tasks" validate:"omitempty,max=50,dive"`
	CourseIDs []string  `json:"course_ids" validate:"omitempty,max=20,dive,uuid"`
}

func (up *UpdatePrescription) Validate(validate *validator.Validate) error {
	for i := range up.Tasks {
		up.Tasks[i].Title = core.CleanString(up.Tasks[i].Title)
		up.Tasks[i].Description = core.CleanString(up.Tasks[i].Description)
	}
	if up.CourseIDs != nil {
		up.CourseIDs = core.UniqueStrings(up.CourseIDs)
	}
	return validate.Struct(up)
}

type NewAnalysis struct {
	Summary        string         `json:"summary" validate:"required"`
	Score          *int           `json:"score" validate:"omitempty,gte=0,lte=100"`
	Recommendation Recommendation `json:"recommendation" validate:"required,oneof=continue complete"`
}

func (na *NewAnalysis) Validate(validate *validator.Validate) error {
	na.Summary = core.CleanString(na.Summary)
	return validate.Struct(na)
}

type QueryFilter struct {
	Stage     Stage  `query:"stage"`
	StudentID string `query:"student_id"`
	// ParticipantID restricts results to the courses the user takes part in.
	ParticipantID string `query:"-"`
}

// OrderingFields are the fields flip courses may be sorted on.
var OrderingFields = []string{"title", "stage", "created_at", "updated_at"}
