package model

// RetentionPolicy selects how the retention engine chooses which historical
// submissions to protect from eviction.
type RetentionPolicy string

const (
	// RetainLast protects nothing beyond the keep-count window.
	RetainLast RetentionPolicy = "last"
	// RetainBest always protects the highest-graded done submission.
	RetainBest RetentionPolicy = "best"
	// RetainPinned always protects the submission pinned on UserTaskProgress.
	RetainPinned RetentionPolicy = "pinned"
)

// Task describes the graded exercise a submission targets. Tasks are owned by
// the course configuration layer; the engine only reads them.
type Task struct {
	CourseID string `json:"course_id"`
	TaskID   string `json:"task_id"`

	// GroupWork marks tasks submitted on behalf of a whole group.
	GroupWork bool `json:"group_work"`

	// StoredSubmissions bounds how many historical submissions are kept per
	// owner. Non-positive means unlimited.
	StoredSubmissions int `json:"stored_submissions"`

	Evaluation  RetentionPolicy `json:"evaluation"`
	Environment string          `json:"environment"`

	// ReportsGrades marks courses that push grades back to an external
	// consumer when the session carries outbound-reporting context.
	ReportsGrades bool `json:"reports_grades"`
}

// Ref returns the "courseid/taskid" label used in job queue info lines.
func (t Task) Ref() string {
	return t.CourseID + "/" + t.TaskID
}
