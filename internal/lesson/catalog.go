package lesson

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrLessonNotFound is returned by Catalog.Lesson for an unknown id.
var ErrLessonNotFound = errors.New("lesson: not found")

// Catalog is a read-only set of languages, courses and lessons.
type Catalog struct {
	Languages []Language `yaml:"languages"`
	Courses   []Course   `yaml:"courses"`
	Lessons   []Lesson   `yaml:"lessons"`
}

// Load reads a YAML catalog and validates every lesson pattern.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Lessons))
	for _, l := range c.Lessons {
		if l.ID == "" {
			return nil, fmt.Errorf("catalog: lesson %q has no id", l.Title)
		}
		if seen[l.ID] {
			return nil, fmt.Errorf("catalog: duplicate lesson id %q", l.ID)
		}
		seen[l.ID] = true
		if err := l.VibrationPattern.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: lesson %s: %w", l.ID, err)
		}
	}
	return &c, nil
}

// ActiveLanguages returns active languages ordered by name.
func (c *Catalog) ActiveLanguages() []Language {
	var out []Language
	for _, l := range c.Languages {
		if l.IsActive {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(a, b Language) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// LanguageCourses returns the courses of a language ordered by order_index.
func (c *Catalog) LanguageCourses(languageID string) []Course {
	var out []Course
	for _, co := range c.Courses {
		if co.LanguageID == languageID {
			out = append(out, co)
		}
	}
	slices.SortStableFunc(out, func(a, b Course) int { return cmp.Compare(a.OrderIndex, b.OrderIndex) })
	return out
}

// CourseLessons returns the lessons of a course ordered by order_index.
func (c *Catalog) CourseLessons(courseID string) []Lesson {
	var out []Lesson
	for _, l := range c.Lessons {
		if l.CourseID == courseID {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(a, b Lesson) int { return cmp.Compare(a.OrderIndex, b.OrderIndex) })
	return out
}

// Lesson looks up a lesson by id.
func (c *Catalog) Lesson(id string) (*Lesson, error) {
	for i := range c.Lessons {
		if c.Lessons[i].ID == id {
			return &c.Lessons[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrLessonNotFound, id)
}
