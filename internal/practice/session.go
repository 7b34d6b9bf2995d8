// Package practice runs a pronunciation practice session for one lesson:
// it plays the lesson's pattern on the band and scores spoken attempts.
package practice

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/linguavibe/internal/ble"
	"github.com/chaz8081/linguavibe/internal/lesson"
)

// PatternSender is the part of ble.Link a session needs.
type PatternSender interface {
	SendJSONPattern(ctx context.Context, doc lesson.PatternDocument) error
	IsConnected() bool
	SetConnectionChangeCallback(fn func(connected bool)) (release func())
}

var _ PatternSender = (*ble.Link)(nil)

// Accuracy bands used for feedback.
const (
	ExcellentThreshold = 85
	GoodThreshold      = 70
	FairThreshold      = 50
)

// Feedback is the result of scoring one attempt.
type Feedback struct {
	Accuracy    int
	Message     string
	Suggestions []string
}

// Progress summarizes a session. Completed is set once an attempt reaches
// ExcellentThreshold.
type Progress struct {
	LessonID      string
	Attempts      int
	LastAccuracy  int
	BestAccuracy  int
	Completed     bool
	LastPracticed time.Time
}

// Options configure a Session.
type Options struct {
	// Rand drives the accuracy draw. nil uses a time-seeded source.
	Rand *rand.Rand
	// Now is used for Progress timestamps. nil uses time.Now.
	Now func() time.Time
}

// Session is one practice run of a lesson. It holds the link's observer
// slot until Close.
type Session struct {
	lesson *lesson.Lesson
	sender PatternSender
	rng    *rand.Rand
	now    func() time.Time

	release func()

	mu        sync.Mutex
	connected bool
	progress  Progress
	closed    bool
}

// NewSession creates a session for l, registers as the sender's connection
// observer and seeds the connected flag from the sender.
func NewSession(l *lesson.Lesson, sender PatternSender, opts Options) *Session {
	if l == nil || sender == nil {
		panic("practice: NewSession called with nil lesson or sender")
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		lesson:   l,
		sender:   sender,
		rng:      opts.Rand,
		now:      opts.Now,
		progress: Progress{LessonID: l.ID},
	}
	s.connected = sender.IsConnected()
	s.release = sender.SetConnectionChangeCallback(s.onConnectionChange)
	return s
}

func (s *Session) onConnectionChange(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.connected = connected
	slog.Debug("[practice] band connection changed", "lesson", s.lesson.ID, "connected", connected)
}

// Connected reports the last connection state seen by the session.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SendPattern plays the lesson's pattern on the band.
func (s *Session) SendPattern(ctx context.Context) error {
	if !s.Connected() {
		return ble.ErrNotConnected
	}
	doc, err := s.lesson.Document()
	if err != nil {
		return err
	}
	if err := s.sender.SendJSONPattern(ctx, doc); err != nil {
		return fmt.Errorf("sending pattern for lesson %s: %w", s.lesson.ID, err)
	}
	slog.Info("[practice] pattern sent", "lesson", s.lesson.ID, "phoneme", doc.Phoneme)
	return nil
}

// Score rates a transcript of the learner's attempt and records it.
func (s *Session) Score(transcript string) Feedback {
	transcript = strings.ToLower(strings.TrimSpace(transcript))
	word := strings.ToLower(s.lesson.ExampleWord())

	s.mu.Lock()
	var accuracy int
	switch {
	case word != "" && strings.Contains(transcript, word):
		accuracy = ExcellentThreshold + s.rng.IntN(15)
	case transcript != "":
		accuracy = FairThreshold + s.rng.IntN(30)
	default:
		accuracy = 30 + s.rng.IntN(20)
	}

	p := &s.progress
	p.Attempts++
	p.LastAccuracy = accuracy
	p.BestAccuracy = max(p.BestAccuracy, accuracy)
	p.Completed = p.Completed || accuracy >= ExcellentThreshold
	p.LastPracticed = s.now()
	attempts := p.Attempts
	s.mu.Unlock()

	slog.Debug("[practice] attempt scored", "lesson", s.lesson.ID, "attempt", attempts, "accuracy", accuracy)
	return FeedbackFor(accuracy)
}

// FeedbackFor maps an accuracy percentage to its message and suggestions.
func FeedbackFor(accuracy int) Feedback {
	switch {
	case accuracy >= ExcellentThreshold:
		return Feedback{
			Accuracy:    accuracy,
			Message:     "Excellent pronunciation!",
			Suggestions: []string{"You nailed it! Keep practicing to maintain this level."},
		}
	case accuracy >= GoodThreshold:
		return Feedback{
			Accuracy: accuracy,
			Message:  "Good effort! Almost there.",
			Suggestions: []string{
				"Try to emphasize the sound more clearly",
				"Pay attention to tongue position",
			},
		}
	case accuracy >= FairThreshold:
		return Feedback{
			Accuracy: accuracy,
			Message:  "Keep practicing. You can do better!",
			Suggestions: []string{
				"Review the mouth animation carefully",
				"Try speaking more slowly and deliberately",
				"Focus on the exact sound shown in the lesson",
			},
		}
	default:
		return Feedback{
			Accuracy: accuracy,
			Message:  "Let's try again with more focus.",
			Suggestions: []string{
				"Watch the animation again and mimic the mouth movements",
				"Listen to native speakers pronouncing this sound",
				"Practice in front of a mirror",
			},
		}
	}
}

// Attempts returns the number of scored attempts.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.Attempts
}

// Progress returns a snapshot of the session's progress.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Close releases the observer slot unless a newer owner has taken it. Safe
// to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.release != nil {
		s.release()
	}
}
