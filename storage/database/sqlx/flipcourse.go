package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/storage/database"
)

var (
	flipCourseColumns = []string{
		"id", "title", "description", "student_id", "planner_id", "counselor_id",
		"analyst_id", "stage", "cycle", "completed_at", "created_at", "updated_at",
	}
	prescriptionColumns = []string{"id", "flip_course_id", "counselor_id", "cycle", "title", "content", "created_at", "updated_at"}
	taskColumns         = []string{"id", "prescription_id", "title", "description", "due_at", "completed_at", "position"}
	analysisColumns     = []string{"id", "flip_course_id", "analyst_id", "cycle", "summary", "score", "recommendation", "created_at"}
)

type FlipCourseRepository struct {
	db core.DB
}

var _ flipcourse.Repository = (*FlipCourseRepository)(nil)

func NewFlipCourseRepository(db core.DB) *FlipCourseRepository {
	return &FlipCourseRepository{db: db}
}

func (repo *FlipCourseRepository) CreateFlipCourse(ctx context.Context, fc flipcourse.FlipCourse) (flipcourse.FlipCourse, error) {
	fc.ID = uuid.NewString()
	b := psql.Insert("flip_courses").Columns(flipCourseColumns...).Values(
		fc.ID, fc.Title, fc.Description, fc.StudentID, fc.PlannerID, fc.CounselorID,
		fc.AnalystID, fc.Stage, fc.Cycle, fc.CompletedAt, fc.CreatedAt, fc.UpdatedAt,
	)
	if _, err := exec(ctx, repo.db, b); err != nil {
		return flipcourse.FlipCourse{}, errors.Wrap(err, "inserting flip course")
	}
	return fc, nil
}

func (repo *FlipCourseRepository) GetFlipCourse(ctx context.Context, id string) (flipcourse.FlipCourse, error) {
	if !isUUID(id) {
		return flipcourse.FlipCourse{}, flipcourse.ErrNotFound
	}
	var fc flipcourse.FlipCourse
	b := psql.Select(flipCourseColumns...).From("flip_courses").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.db, &fc, b); err != nil {
		return flipcourse.FlipCourse{}, trapNoRows(err, flipcourse.ErrNotFound, "getting flip course")
	}
	return fc, nil
}

func (repo *FlipCourseRepository) QueryFlipCourses(ctx context.Context, filter *flipcourse.QueryFilter, ordering []core.DBOrdering) ([]flipcourse.FlipCourse, error) {
	b := psql.Select(flipCourseColumns...).From("flip_courses")
	if filter != nil {
		if filter.Stage != "" {
			b = b.Where(sq.Eq{"stage": filter.Stage})
		}
		if filter.StudentID != "" {
			b = b.Where(sq.Eq{"student_id": filter.StudentID})
		}
		if id := filter.ParticipantID; id != "" {
			b = b.Where(sq.Or{
				sq.Eq{"student_id": id},
				sq.Eq{"planner_id": id},
				sq.Eq{"counselor_id": id},
				sq.Eq{"analyst_id": id},
			})
		}
	}
	b = orderBy(b, ordering, "created_at DESC")

	var courses []flipcourse.FlipCourse
	if err := selectAll(ctx, repo.db, &courses, b); err != nil {
		return nil, errors.Wrap(err, "querying flip courses")
	}
	return courses, nil
}

func (repo *FlipCourseRepository) UpdateFlipCourse(ctx context.Context, fc flipcourse.FlipCourse) (flipcourse.FlipCourse, error) {
	b := psql.Update("flip_courses").SetMap(map[string]interface{}{
		"title":        fc.Title,
		"description":  fc.Description,
		"counselor_id": fc.CounselorID,
		"analyst_id":   fc.AnalystID,
		"updated_at":   fc.UpdatedAt,
	}).Where(sq.Eq{"id": fc.ID}).Suffix("RETURNING " + joinColumns(flipCourseColumns))
	var saved flipcourse.FlipCourse
	if err := get(ctx, repo.db, &saved, b); err != nil {
		return flipcourse.FlipCourse{}, trapNoRows(err, flipcourse.ErrNotFound, "updating flip course")
	}
	return saved, nil
}

func (repo *FlipCourseRepository) TransitionFlipCourse(ctx context.Context, fc flipcourse.FlipCourse, from flipcourse.Stage) (flipcourse.FlipCourse, error) {
	b := psql.Update("flip_courses").SetMap(map[string]interface{}{
		"stage":        fc.Stage,
		"cycle":        fc.Cycle,
		"completed_at": fc.CompletedAt,
		"updated_at":   fc.UpdatedAt,
	}).Where(sq.Eq{"id": fc.ID, "stage": from}).Suffix("RETURNING " + joinColumns(flipCourseColumns))
	var saved flipcourse.FlipCourse
	if err := get(ctx, repo.db, &saved, b); err != nil {
		return flipcourse.FlipCourse{}, trapNoRows(err, flipcourse.ErrInvalidTransition, "moving flip course")
	}
	return saved, nil
}

func insertTasks(ctx context.Context, tx *sqlx.Tx, p *flipcourse.Prescription) error {
	if len(p.Tasks) == 0 {
		return nil
	}
	b := psql.Insert("prescription_tasks").Columns(taskColumns...)
	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.ID = uuid.NewString()
		t.PrescriptionID = p.ID
		b = b.Values(t.ID, t.PrescriptionID, t.Title, t.Description, t.DueAt, t.CompletedAt, t.Position)
	}
	_, err := exec(ctx, tx, b)
	return errors.Wrap(err, "inserting tasks")
}

func insertCourses(ctx context.Context, tx *sqlx.Tx, p flipcourse.Prescription) error {
	if len(p.CourseIDs) == 0 {
		return nil
	}
	b := psql.Insert("prescription_courses").Columns("prescription_id", "product_id")
	for _, id := range p.CourseIDs {
		b = b.Values(p.ID, id)
	}
	_, err := exec(ctx, tx, b)
	return errors.Wrap(err, "inserting recommended courses")
}

func (repo *FlipCourseRepository) CreatePrescription(ctx context.Context, p flipcourse.Prescription) (flipcourse.Prescription, error) {
	p.ID = uuid.NewString()
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		_, err := exec(ctx, tx, psql.Insert("flip_course_prescriptions").Columns(prescriptionColumns...).Values(
			p.ID, p.FlipCourseID, p.CounselorID, p.Cycle, p.Title, p.Content, p.CreatedAt, p.UpdatedAt,
		))
		if err != nil {
			return errors.Wrap(err, "inserting prescription")
		}
		if err := insertTasks(ctx, tx, &p); err != nil {
			return err
		}
		return insertCourses(ctx, tx, p)
	})
	if err != nil {
		return flipcourse.Prescription{}, err
	}
	if p.CourseIDs == nil {
		p.CourseIDs = []string{}
	}
	return p, nil
}

// withDetails loads the tasks and recommended courses of the prescriptions.
func (repo *FlipCourseRepository) withDetails(ctx context.Context, prescriptions []flipcourse.Prescription) error {
	if len(prescriptions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(prescriptions))
	idx := make(map[string]int, len(prescriptions))
	for i := range prescriptions {
		ids = append(ids, prescriptions[i].ID)
		idx[prescriptions[i].ID] = i
		prescriptions[i].Tasks = []flipcourse.Task{}
		prescriptions[i].CourseIDs = []string{}
	}

	var tasks []flipcourse.Task
	b := psql.Select(taskColumns...).From("prescription_tasks").Where(sq.Eq{"prescription_id": ids}).OrderBy("position ASC")
	if err := selectAll(ctx, repo.db, &tasks, b); err != nil {
		return errors.Wrap(err, "querying tasks")
	}
	for _, t := range tasks {
		p := &prescriptions[idx[t.PrescriptionID]]
		p.Tasks = append(p.Tasks, t)
	}

	var links []struct {
		PrescriptionID string `db:"prescription_id"`
		ProductID      string `db:"product_id"`
	}
	b = psql.Select("prescription_id", "product_id").From("prescription_courses").Where(sq.Eq{"prescription_id": ids})
	if err := selectAll(ctx, repo.db, &links, b); err != nil {
		return errors.Wrap(err, "querying recommended courses")
	}
	for _, l := range links {
		p := &prescriptions[idx[l.PrescriptionID]]
		p.CourseIDs = append(p.CourseIDs, l.ProductID)
	}
	return nil
}

func (repo *FlipCourseRepository) GetPrescription(ctx context.Context, id string) (flipcourse.Prescription, error) {
	if !isUUID(id) {
		return flipcourse.Prescription{}, flipcourse.ErrPrescriptionNotFound
	}
	var p flipcourse.Prescription
	b := psql.Select(prescriptionColumns...).From("flip_course_prescriptions").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.db, &p, b); err != nil {
		return flipcourse.Prescription{}, trapNoRows(err, flipcourse.ErrPrescriptionNotFound, "getting prescription")
	}
	list := []flipcourse.Prescription{p}
	if err := repo.withDetails(ctx, list); err != nil {
		return flipcourse.Prescription{}, err
	}
	return list[0], nil
}

func (repo *FlipCourseRepository) QueryPrescriptions(ctx context.Context, flipCourseID string) ([]flipcourse.Prescription, error) {
	var list []flipcourse.Prescription
	b := psql.Select(prescriptionColumns...).From("flip_course_prescriptions").
		Where(sq.Eq{"flip_course_id": flipCourseID}).
		OrderBy("cycle ASC", "created_at ASC")
	if err := selectAll(ctx, repo.db, &list, b); err != nil {
		return nil, errors.Wrap(err, "querying prescriptions")
	}
	if err := repo.withDetails(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (repo *FlipCourseRepository) UpdatePrescription(ctx context.Context, p flipcourse.Prescription, replaceTasks, replaceCourses bool) (flipcourse.Prescription, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := exec(ctx, tx, psql.Update("flip_course_prescriptions").
			Set("title", p.Title).
			Set("content", p.Content).
			Set("updated_at", p.UpdatedAt).
			Where(sq.Eq{"id": p.ID}))
		if err != nil {
			return errors.Wrap(err, "updating prescription")
		}
		if err := affected(res, flipcourse.ErrPrescriptionNotFound); err != nil {
			return err
		}
		if replaceTasks {
			if _, err := exec(ctx, tx, psql.Delete("prescription_tasks").Where(sq.Eq{"prescription_id": p.ID})); err != nil {
				return errors.Wrap(err, "deleting tasks")
			}
			if err := insertTasks(ctx, tx, &p); err != nil {
				return err
			}
		}
		if replaceCourses {
			if _, err := exec(ctx, tx, psql.Delete("prescription_courses").Where(sq.Eq{"prescription_id": p.ID})); err != nil {
				return errors.Wrap(err, "deleting recommended courses")
			}
			return insertCourses(ctx, tx, p)
		}
		return nil
	})
	if err != nil {
		return flipcourse.Prescription{}, err
	}
	return repo.GetPrescription(ctx, p.ID)
}

func (repo *FlipCourseRepository) CountPrescriptions(ctx context.Context, flipCourseID string, cycle int) (int, error) {
	var n int
	b := psql.Select("COUNT(*)").From("flip_course_prescriptions").Where(sq.Eq{"flip_course_id": flipCourseID, "cycle": cycle})
	err := get(ctx, repo.db, &n, b)
	return n, errors.Wrap(err, "counting prescriptions")
}

func (repo *FlipCourseRepository) GetTask(ctx context.Context, id string) (flipcourse.Task, error) {
	if !isUUID(id) {
		return flipcourse.Task{}, flipcourse.ErrTaskNotFound
	}
	var t flipcourse.Task
	if err := get(ctx, repo.db, &t, psql.Select(taskColumns...).From("prescription_tasks").Where(sq.Eq{"id": id})); err != nil {
		return flipcourse.Task{}, trapNoRows(err, flipcourse.ErrTaskNotFound, "getting task")
	}
	return t, nil
}

func (repo *FlipCourseRepository) CompleteTask(ctx context.Context, id string, at time.Time) (flipcourse.Task, error) {
	var t flipcourse.Task
	b := psql.Update("prescription_tasks").
		Set("completed_at", at).
		Where(sq.Eq{"id": id, "completed_at": nil}).
		Suffix("RETURNING " + joinColumns(taskColumns))
	if err := get(ctx, repo.db, &t, b); err != nil {
		return flipcourse.Task{}, trapNoRows(err, flipcourse.ErrTaskDone, "completing task")
	}
	return t, nil
}

func (repo *FlipCourseRepository) QueryDueTasks(ctx context.Context, from, to time.Time) ([]flipcourse.DueTask, error) {
	b := psql.Select(
		"t.id", "t.prescription_id", "t.title", "t.description", "t.due_at", "t.completed_at", "t.position",
		"fc.id AS flip_course_id", "fc.title AS flip_course_title", "fc.student_id",
	).
		From("prescription_tasks t").
		Join("flip_course_prescriptions p ON p.id = t.prescription_id").
		Join("flip_courses fc ON fc.id = p.flip_course_id").
		Where(sq.Eq{"t.completed_at": nil}).
		Where(sq.NotEq{"fc.stage": flipcourse.StageCompleted}).
		Where(sq.GtOrEq{"t.due_at": from}).
		Where(sq.Lt{"t.due_at": to}).
		OrderBy("t.due_at ASC")

	var tasks []flipcourse.DueTask
	if err := selectAll(ctx, repo.db, &tasks, b); err != nil {
		return nil, errors.Wrap(err, "querying due tasks")
	}
	return tasks, nil
}

func (repo *FlipCourseRepository) CreateAnalysis(ctx context.Context, a flipcourse.Analysis) (flipcourse.Analysis, error) {
	a.ID = uuid.NewString()
	_, err := exec(ctx, repo.db, psql.Insert("flip_course_analyses").Columns(analysisColumns...).Values(
		a.ID, a.FlipCourseID, a.AnalystID, a.Cycle, a.Summary, a.Score, a.Recommendation, a.CreatedAt,
	))
	if err != nil {
		if database.IsUniqueViolation(err, "flip_course_analyses_cycle_key") {
			return flipcourse.Analysis{}, flipcourse.ErrAnalysisExists
		}
		return flipcourse.Analysis{}, errors.Wrap(err, "inserting analysis")
	}
	return a, nil
}

func (repo *FlipCourseRepository) QueryAnalyses(ctx context.Context, flipCourseID string) ([]flipcourse.Analysis, error) {
	var list []flipcourse.Analysis
	b := psql.Select(analysisColumns...).From("flip_course_analyses").
		Where(sq.Eq{"flip_course_id": flipCourseID}).
		OrderBy("cycle ASC")
	if err := selectAll(ctx, repo.db, &list, b); err != nil {
		return nil, errors.Wrap(err, "querying analyses")
	}
	return list, nil
}

func (repo *FlipCourseRepository) CountAnalyses(ctx context.Context, flipCourseID string, cycle int) (int, error) {
	var n int
	b := psql.Select("COUNT(*)").From("flip_course_analyses").Where(sq.Eq{"flip_course_id": flipCourseID, "cycle": cycle})
	err := get(ctx, repo.db, &n, b)
	return n, errors.Wrap(err, "counting analyses")
}
