// Package report renders one student's academic report as a PDF.
package report

import (
	"strconv"
	"time"

	"github.com/garyjia/report-dispatch/internal/models"
)

// PageSize in points (1" = 72pt)
type PageSize struct {
	Name   string
	Width  float64
	Height float64
}

var (
	LetterSize = PageSize{Name: "Letter", Width: 612, Height: 792}
	A4Size     = PageSize{Name: "A4", Width: 595.28, Height: 841.89}
)

// PageSizeByName resolves a configured page size, defaulting to Letter
func PageSizeByName(name string) PageSize {
	if name == A4Size.Name || name == "a4" {
		return A4Size
	}
	return LetterSize
}

// DefaultInstitutionName is printed in the report header
const DefaultInstitutionName = "JAIN COLLEGE OF ENGINEERING AND RESEARCH, UDYAMBAG BELAGAVI-590008"

// documentEpoch is stamped as creation and modification date so identical
// records render to identical bytes.
var documentEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Template is the fixed visual template shared by every report
type Template struct {
	InstitutionName string
	LogoPath        string // drawn only if the file exists
	FontPath        string // UTF-8 TTF; empty uses the cp1252 core font
	PageSize        PageSize
	Margin          float64
	FontFamily      string
	FontSize        float64
	LogoSize        float64
	RowHeight       float64
	CellPadding     float64
	SectionGap      float64
}

// DefaultTemplate returns the standard report layout
func DefaultTemplate() Template {
	return Template{
		InstitutionName: DefaultInstitutionName,
		LogoPath:        "logo.png",
		PageSize:        LetterSize,
		Margin:          72,
		FontFamily:      "Helvetica",
		FontSize:        10,
		LogoSize:        40,
		RowHeight:       18,
		CellPadding:     6,
		SectionGap:      12,
	}
}

// CourseHeader is the first row of the course table
var CourseHeader = []string{"Sl_No", "Course", "Course Code", "Max Marks", "Marks Scored", "Attendance"}

// Layout is the structured description handed to a Renderer
type Layout struct {
	Title         string
	Header        string
	LogoPath      string
	IdentityTable [][]string
	CourseTable   [][]string
}

// BuildLayout maps a record onto the template. It never fails: absent fields
// become empty cells and the course table always has MaxCourses data rows.
func BuildLayout(tpl Template, rec models.StudentRecord) *Layout {
	identity := [][]string{
		{models.FieldName, rec.Get(models.FieldName)},
		{models.FieldUSN, rec.Get(models.FieldUSN)},
		{models.FieldFatherName, rec.Get(models.FieldFatherName)},
		{models.FieldMotherName, rec.Get(models.FieldMotherName)},
		{models.FieldContact, rec.Get(models.FieldContact)},
	}

	courses := make([][]string, 0, models.MaxCourses+1)
	courses = append(courses, append([]string(nil), CourseHeader...))
	for i, c := range rec.Courses() {
		courses = append(courses, []string{
			strconv.Itoa(i + 1), c.Course, c.Code, c.MaxMarks, c.MarksScored, c.Attendance,
		})
	}

	return &Layout{
		Title:         rec.USN() + " report",
		Header:        tpl.InstitutionName,
		LogoPath:      tpl.LogoPath,
		IdentityTable: identity,
		CourseTable:   courses,
	}
}

// text returns every string printed on the page
func (l *Layout) text() []string {
	out := []string{l.Header}
	for _, table := range [][][]string{l.IdentityTable, l.CourseTable} {
		for _, row := range table {
			out = append(out, row...)
		}
	}
	return out
}
