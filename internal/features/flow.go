package features

import (
	"strings"
	"time"

	"shen/internal/domain"
)

// QuestionFlow sequences the immutable question list for one session.
// currentIndex is 0-based and only ever moves forward. The flow stays
// within [0, len(questions)) while the session is in progress.
type QuestionFlow struct {
	questions    []domain.Question
	currentIndex int
}

func NewQuestionFlow(questions []domain.Question) *QuestionFlow {
	return &QuestionFlow{questions: questions}
}

// Empty reports whether the session has no questions at all. An empty
// flow is an immediate-completion condition.
func (f *QuestionFlow) Empty() bool {
	return len(f.questions) == 0
}

// Current returns the question at the current index.
func (f *QuestionFlow) Current() (domain.Question, bool) {
	if f.currentIndex >= len(f.questions) {
		return domain.Question{}, false
	}
	return f.questions[f.currentIndex], true
}

// CurrentIndex returns the 0-based position in the sequence.
func (f *QuestionFlow) CurrentIndex() int {
	return f.currentIndex
}

// Questions returns how many questions the flow holds.
func (f *QuestionFlow) Questions() int {
	return len(f.questions)
}

// BuildAnswer validates the answer text and binds it to the current
// question. It does not advance: the caller persists the answer first and
// advances only once the delivery resolved, which keeps submissions in
// question order and leaves the index untouched on failure.
func (f *QuestionFlow) BuildAnswer(text string) (*domain.Answer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "answer", Reason: "answer text must not be empty"}
	}

	question, ok := f.Current()
	if !ok {
		return nil, &domain.ValidationError{Field: "answer", Reason: "no question to answer"}
	}

	return &domain.Answer{
		QuestionID:    question.ID,
		QuestionIndex: question.QuestionIndex,
		Text:          text,
		SubmittedAt:   time.Now(),
	}, nil
}

// Advance moves past the current question. It reports whether that was
// the last question, in which case the index stays put and the session
// should complete.
func (f *QuestionFlow) Advance() (last bool) {
	if f.currentIndex >= len(f.questions)-1 {
		return true
	}
	f.currentIndex++
	return false
}

// Progress reports display progress in [0, 1].
func (f *QuestionFlow) Progress() float64 {
	if len(f.questions) == 0 {
		return 1
	}
	p := float64(f.currentIndex+1) / float64(len(f.questions))
	if p > 1 {
		return 1
	}
	return p
}
