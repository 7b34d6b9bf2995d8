// Package lesson holds the lesson catalog and the vibration pattern schema
// that is streamed to the band.
package lesson

import (
	"fmt"
	"regexp"
	"strings"
)

// Wire limits for motor frames.
const (
	MaxIntensity  = 255
	MaxDurationMS = 0xFFFF
)

// Language is a language offered by the catalog.
type Language struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Code     string `yaml:"code"`
	IsActive bool   `yaml:"is_active"`
}

// Course groups lessons within a language.
type Course struct {
	ID          string `yaml:"id"`
	LanguageID  string `yaml:"language_id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	OrderIndex  int    `yaml:"order_index"`
}

// Lesson is a single phoneme practice unit.
type Lesson struct {
	ID               string           `yaml:"id"`
	CourseID         string           `yaml:"course_id"`
	Title            string           `yaml:"title"`
	Phoneme          string           `yaml:"phoneme"`
	AnimationURL     string           `yaml:"animation_url"`
	VibrationPattern VibrationPattern `yaml:"vibration_pattern"`
	OrderIndex       int              `yaml:"order_index"`
}

// MotorFrame is one step of a pattern: four actuator intensities played for
// Duration milliseconds.
type MotorFrame struct {
	M1       int `yaml:"M1" json:"M1"`
	M2       int `yaml:"M2" json:"M2"`
	M3       int `yaml:"M3" json:"M3"`
	M4       int `yaml:"M4" json:"M4"`
	Duration int `yaml:"duration" json:"duration"`
}

// VibrationPattern is the stored haptic pattern of a lesson. Repeat and Pause
// are optional; nil means the firmware default.
type VibrationPattern struct {
	Motors []MotorFrame `yaml:"motors"`
	Notes  string       `yaml:"notes,omitempty"`
	Pause  *int         `yaml:"pause,omitempty"`
	Repeat *int         `yaml:"repeat,omitempty"`
}

// PatternDocument is the JSON document sent to the band for a lesson.
// Field order is the wire order.
type PatternDocument struct {
	Lesson  string       `json:"lesson"`
	Phoneme string       `json:"phoneme"`
	Motors  []MotorFrame `json:"motors"`
	Repeat  int          `json:"repeat"`
	Pause   int          `json:"pause"`
	Notes   string       `json:"notes"`
}

// ValidationError describes the first invalid field found.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lesson: invalid %s: %s", e.Field, e.Reason)
}

// ValidateFrames checks every motor frame against the wire limits.
func ValidateFrames(frames []MotorFrame) error {
	if len(frames) == 0 {
		return &ValidationError{Field: "motors", Reason: "at least one frame is required"}
	}
	for i, f := range frames {
		for _, m := range []struct {
			name string
			v    int
		}{{"M1", f.M1}, {"M2", f.M2}, {"M3", f.M3}, {"M4", f.M4}} {
			if m.v < 0 || m.v > MaxIntensity {
				return &ValidationError{
					Field:  fmt.Sprintf("motors[%d].%s", i, m.name),
					Reason: fmt.Sprintf("intensity %d outside 0..%d", m.v, MaxIntensity),
				}
			}
		}
		if f.Duration < 1 || f.Duration > MaxDurationMS {
			return &ValidationError{
				Field:  fmt.Sprintf("motors[%d].duration", i),
				Reason: fmt.Sprintf("%dms outside 1..%d", f.Duration, MaxDurationMS),
			}
		}
	}
	return nil
}

// Validate checks the stored pattern.
func (p VibrationPattern) Validate() error {
	if err := ValidateFrames(p.Motors); err != nil {
		return err
	}
	// A stored repeat of 0 means the default of 1.
	if p.Repeat != nil && *p.Repeat < 0 {
		return &ValidationError{Field: "repeat", Reason: fmt.Sprintf("%d must be >= 0", *p.Repeat)}
	}
	if p.Pause != nil && *p.Pause < 0 {
		return &ValidationError{Field: "pause", Reason: fmt.Sprintf("%d must be >= 0", *p.Pause)}
	}
	return nil
}

// Validate checks the document before it is serialized for the band.
func (d PatternDocument) Validate() error {
	if strings.TrimSpace(d.Lesson) == "" {
		return &ValidationError{Field: "lesson", Reason: "must not be empty"}
	}
	if strings.TrimSpace(d.Phoneme) == "" {
		return &ValidationError{Field: "phoneme", Reason: "must not be empty"}
	}
	if err := ValidateFrames(d.Motors); err != nil {
		return err
	}
	if d.Repeat < 1 {
		return &ValidationError{Field: "repeat", Reason: fmt.Sprintf("%d must be >= 1", d.Repeat)}
	}
	if d.Pause < 0 {
		return &ValidationError{Field: "pause", Reason: fmt.Sprintf("%d must be >= 0", d.Pause)}
	}
	return nil
}

// Document builds the band document for the lesson. Missing repeat defaults
// to 1 and missing pause to 0.
func (l *Lesson) Document() (PatternDocument, error) {
	doc := PatternDocument{
		Lesson:  l.Title,
		Phoneme: l.Phoneme,
		Motors:  l.VibrationPattern.Motors,
		Repeat:  1,
		Notes:   l.VibrationPattern.Notes,
	}
	if r := l.VibrationPattern.Repeat; r != nil && *r != 0 {
		doc.Repeat = *r
	}
	if p := l.VibrationPattern.Pause; p != nil {
		doc.Pause = *p
	}
	if err := doc.Validate(); err != nil {
		return PatternDocument{}, fmt.Errorf("lesson %s: %w", l.ID, err)
	}
	return doc, nil
}

var exampleWordRe = regexp.MustCompile(`\(([^)]+)\)`)

// ExampleWord returns the word in parentheses in the title, e.g. "think" for
// "Th sound (think)". Returns "" if there is none.
func (l *Lesson) ExampleWord() string {
	m := exampleWordRe.FindStringSubmatch(l.Title)
	if m == nil {
		return ""
	}
	return m[1]
}
