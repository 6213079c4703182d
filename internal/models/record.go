package models

import "fmt"

// Roster column headers. Matching is exact: a header spelled differently in
// the uploaded table shows up as a missing (empty) field, not as an error.
const (
	FieldName       = "Name"
	FieldUSN        = "USN"
	FieldFatherName = "Father's Name"
	FieldMotherName = "Mother's Name"
	FieldContact    = "Contact"
)

// Course group column prefixes; the header is "<prefix> <i>" for i in 1..MaxCourses
const (
	CoursePrefix      = "Course"
	CourseCodePrefix  = "Course code"
	MaxMarksPrefix    = "Max Marks"
	MarksScoredPrefix = "Marks Scored"
	AttendancePrefix  = "Attendance"
)

// MaxCourses is the fixed number of course slots on every report
const MaxCourses = 5

// StudentRecord is one roster row keyed by column header
type StudentRecord struct {
	Row    int               `json:"row"` // 1-based data row, header excluded
	Fields map[string]string `json:"fields"`
}

// NewStudentRecord creates a record for the given data row
func NewStudentRecord(row int, fields map[string]string) StudentRecord {
	if fields == nil {
		fields = make(map[string]string)
	}
	return StudentRecord{Row: row, Fields: fields}
}

// Get returns the value for a header, or "" when the column is absent
func (r StudentRecord) Get(key string) string {
	return r.Fields[key]
}

// USN returns the student identifier used as the join key
func (r StudentRecord) USN() string {
	return r.Get(FieldUSN)
}

// Contact returns the recipient address for the report
func (r StudentRecord) Contact() string {
	return r.Get(FieldContact)
}

// CourseEntry is one row of the course table
type CourseEntry struct {
	Course      string `json:"course"`
	Code        string `json:"code"`
	MaxMarks    string `json:"max_marks"`
	MarksScored string `json:"marks_scored"`
	Attendance  string `json:"attendance"`
}

// CourseField builds the header name for slot i of a course group column
func CourseField(prefix string, i int) string {
	return fmt.Sprintf("%s %d", prefix, i)
}

// Courses returns all MaxCourses slots; absent fields are empty
func (r StudentRecord) Courses() [MaxCourses]CourseEntry {
	var courses [MaxCourses]CourseEntry
	for i := 1; i <= MaxCourses; i++ {
		courses[i-1] = CourseEntry{
			Course:      r.Get(CourseField(CoursePrefix, i)),
			Code:        r.Get(CourseField(CourseCodePrefix, i)),
			MaxMarks:    r.Get(CourseField(MaxMarksPrefix, i)),
			MarksScored: r.Get(CourseField(MarksScoredPrefix, i)),
			Attendance:  r.Get(CourseField(AttendancePrefix, i)),
		}
	}
	return courses
}
