package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"shen/internal/domain"
	repo "shen/internal/repo"
	rcache "shen/internal/utils/redis"
	rabbit "shen/pkg/rabbit/pkg"
)

// fakeUpstream is an in-memory stand-in for the interview service. It
// records everything delivered so call counts and ordering are checkable.
type fakeUpstream struct {
	mu              sync.Mutex
	durationMinutes int32
	questions       []domain.Question
	failSubmit      error
	failComplete    error
	interviews      int
	answers         []domain.Answer
	chunks          []int32
	completeCalls   int
}

func (f *fakeUpstream) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.Job{ID: jobID, Title: "Backend Engineer", DurationMinutes: f.durationMinutes}, nil
}

func (f *fakeUpstream) CreateInterview(ctx context.Context, jobID string, candidate domain.Candidate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interviews++
	return fmt.Sprintf("interview-%d", f.interviews), nil
}

func (f *fakeUpstream) FetchQuestions(ctx context.Context, interviewID string) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Question, len(f.questions))
	copy(out, f.questions)
	return out, nil
}

func (f *fakeUpstream) SubmitAnswer(ctx context.Context, interviewID string, answer *domain.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubmit != nil {
		return f.failSubmit
	}
	f.answers = append(f.answers, *answer)
	return nil
}

func (f *fakeUpstream) UploadChunk(ctx context.Context, interviewID string, chunk *domain.MediaChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk.ChunkIndex)
	return nil
}

func (f *fakeUpstream) Complete(ctx context.Context, interviewID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return f.failComplete
}

func (f *fakeUpstream) completed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls
}

func (f *fakeUpstream) answerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

func (f *fakeUpstream) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakeUpstream) setFailSubmit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSubmit = err
}

func standardQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", QuestionIndex: 0, Content: "Tell us about yourself"},
		{ID: "q2", QuestionIndex: 1, Content: "Describe a hard bug you fixed"},
		{ID: "q3", QuestionIndex: 2, Content: "Why this role?"},
	}
}

// newTestShen wires a controller against the fake upstream with an
// on-disk store in the test's temp dir. The chunk interval is an hour so
// recording stays quiet unless a test shortens it.
func newTestShen(t *testing.T, upstream *fakeUpstream, chunkInterval time.Duration) *Shen {
	t.Helper()

	repository, err := repo.Open(filepath.Join(t.TempDir(), "shen.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { repository.Close() })

	pool := NewChunkWorkerPool(2, 4, 60)
	pool.Start(upstream, zap.NewNop())
	t.Cleanup(pool.Stop)

	s := New(upstream, repository, &rabbit.Dummy{}, rcache.Dummy(), pool, zap.NewNop(), chunkInterval)
	t.Cleanup(s.Shutdown)
	return s
}

func startStandardSession(t *testing.T, s *Shen) *StartSessionResult {
	t.Helper()
	result, err := s.StartSession(context.Background(), &StartSessionRequest{
		JobID:        "job-1",
		Candidate:    domain.Candidate{Name: "Ada", Email: "ada@example.com"},
		VideoGranted: true,
		AudioGranted: true,
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return result
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSession_RejectsIncompleteCandidate(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)

	cases := []struct {
		name string
		req  StartSessionRequest
	}{
		{"missing name", StartSessionRequest{JobID: "job-1", Candidate: domain.Candidate{Email: "a@b.c"}, VideoGranted: true, AudioGranted: true}},
		{"missing email", StartSessionRequest{JobID: "job-1", Candidate: domain.Candidate{Name: "Ada"}, VideoGranted: true, AudioGranted: true}},
		{"missing job", StartSessionRequest{Candidate: domain.Candidate{Name: "Ada", Email: "a@b.c"}, VideoGranted: true, AudioGranted: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.StartSession(context.Background(), &tc.req)
			var validationErr *domain.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	if upstream.interviews != 0 {
		t.Errorf("interview created despite validation failure: %d", upstream.interviews)
	}
}

func TestStartSession_MediaDenialKeepsSetup(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)

	_, err := s.StartSession(context.Background(), &StartSessionRequest{
		JobID:        "job-1",
		Candidate:    domain.Candidate{Name: "Ada", Email: "ada@example.com"},
		VideoGranted: false,
		AudioGranted: true,
	})

	var accessErr *domain.MediaAccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected MediaAccessError, got %v", err)
	}
	if upstream.interviews != 0 {
		t.Error("interview created despite media denial")
	}
}

func TestStartSession_BeginsInProgress(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)

	result := startStandardSession(t, s)

	if result.State != domain.StateInProgress {
		t.Errorf("state = %q, want %q", result.State, domain.StateInProgress)
	}
	if result.DurationSeconds != 1800 {
		t.Errorf("duration = %d, want 1800", result.DurationSeconds)
	}
	if result.TotalQuestions != 3 {
		t.Errorf("totalQuestions = %d, want 3", result.TotalQuestions)
	}
	if result.FirstQuestion == nil || result.FirstQuestion.ID != "q1" {
		t.Errorf("firstQuestion = %+v, want q1", result.FirstQuestion)
	}

	snapshot, err := s.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if snapshot.CurrentIndex != 0 {
		t.Errorf("currentIndex = %d, want 0", snapshot.CurrentIndex)
	}
	if snapshot.RemainingSeconds <= 0 || snapshot.RemainingSeconds > 1800 {
		t.Errorf("remainingSeconds = %d, want in (0, 1800]", snapshot.RemainingSeconds)
	}
}

func TestStartSession_EmptyQuestionListCompletesImmediately(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30}
	s := newTestShen(t, upstream, time.Hour)

	result := startStandardSession(t, s)

	if result.State != domain.StateCompleted {
		t.Fatalf("state = %q, want %q", result.State, domain.StateCompleted)
	}
	if got := upstream.completed(); got != 1 {
		t.Errorf("upstream complete calls = %d, want 1", got)
	}

	snapshot, err := s.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if snapshot.Session.CompletionReason != domain.ReasonNoQuestions {
		t.Errorf("completion reason = %q, want %q",
			snapshot.Session.CompletionReason, domain.ReasonNoQuestions)
	}
}

func TestSubmitAnswer_WalksTheSequenceAndCompletes(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	first, err := s.SubmitAnswer(context.Background(), sessionID, "answer one")
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if first.Done || first.NextQuestion == nil || first.NextQuestion.ID != "q2" {
		t.Fatalf("first submit result = %+v, want next q2", first)
	}

	second, err := s.SubmitAnswer(context.Background(), sessionID, "answer two")
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if second.Done || second.NextQuestion == nil || second.NextQuestion.ID != "q3" {
		t.Fatalf("second submit result = %+v, want next q3", second)
	}

	third, err := s.SubmitAnswer(context.Background(), sessionID, "answer three")
	if err != nil {
		t.Fatalf("third submit failed: %v", err)
	}
	if !third.Done {
		t.Fatal("third submit did not report done")
	}

	if got := upstream.completed(); got != 1 {
		t.Errorf("upstream complete calls = %d, want 1", got)
	}
	for i, answer := range upstream.answers {
		if answer.QuestionIndex != int32(i) {
			t.Errorf("answer %d delivered with index %d", i, answer.QuestionIndex)
		}
	}

	snapshot, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if snapshot.Session.State != domain.StateCompleted {
		t.Errorf("state = %q, want completed", snapshot.Session.State)
	}
	if snapshot.Session.CompletionReason != domain.ReasonLastAnswer {
		t.Errorf("completion reason = %q, want %q",
			snapshot.Session.CompletionReason, domain.ReasonLastAnswer)
	}

	answers, err := s.repo.Question.ListAnswers(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListAnswers failed: %v", err)
	}
	if len(answers) != 3 {
		t.Errorf("persisted answers = %d, want 3", len(answers))
	}
}

func TestSubmitAnswer_EmptyTextLeavesIndexUntouched(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	_, err := s.SubmitAnswer(context.Background(), sessionID, "   ")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	snapshot, _ := s.GetSession(context.Background(), sessionID)
	if snapshot.CurrentIndex != 0 {
		t.Errorf("currentIndex = %d after rejected submit, want 0", snapshot.CurrentIndex)
	}
	if upstream.answerCount() != 0 {
		t.Error("rejected answer reached upstream")
	}
}

func TestSubmitAnswer_DeliveryFailureAllowsResubmit(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	upstream.setFailSubmit(&domain.NetworkError{Op: "submit answer", Cause: errors.New("boom")})
	_, err := s.SubmitAnswer(context.Background(), sessionID, "first try")
	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}

	snapshot, _ := s.GetSession(context.Background(), sessionID)
	if snapshot.CurrentIndex != 0 {
		t.Fatalf("currentIndex advanced past failed delivery: %d", snapshot.CurrentIndex)
	}

	upstream.setFailSubmit(nil)
	result, err := s.SubmitAnswer(context.Background(), sessionID, "second try")
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if result.NextQuestion == nil || result.NextQuestion.ID != "q2" {
		t.Errorf("resubmit result = %+v, want next q2", result)
	}
	if upstream.answers[0].Text != "second try" {
		t.Errorf("delivered answer text = %q", upstream.answers[0].Text)
	}
}

func TestSubmitAnswer_UnknownSession(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)

	_, err := s.SubmitAnswer(context.Background(), "no-such-session", "answer")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCompleteSession_ConcurrentTriggersCallUpstreamOnce(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CompleteSession(context.Background(), sessionID, domain.ReasonUserAction)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("completion %d failed: %v", i, err)
		}
	}
	if got := upstream.completed(); got != 1 {
		t.Fatalf("upstream complete calls = %d, want 1", got)
	}

	// A late trigger after completion is still a quiet no-op
	if err := s.CompleteSession(context.Background(), sessionID, domain.ReasonTimerExpired); err != nil {
		t.Errorf("post-completion trigger failed: %v", err)
	}
	if got := upstream.completed(); got != 1 {
		t.Errorf("upstream complete calls after late trigger = %d, want 1", got)
	}
}

func TestCompleteSession_UpstreamFailureStillCompletesLocally(t *testing.T) {
	upstream := &fakeUpstream{
		durationMinutes: 30,
		questions:       standardQuestions(),
		failComplete:    &domain.NetworkError{Op: "complete", Cause: errors.New("boom")},
	}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	if err := s.CompleteSession(context.Background(), sessionID, domain.ReasonUserAction); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	snapshot, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if snapshot.Session.State != domain.StateCompleted {
		t.Errorf("state = %q, want completed", snapshot.Session.State)
	}
	// Exactly one attempt, no retry
	if got := upstream.completed(); got != 1 {
		t.Errorf("upstream complete calls = %d, want 1", got)
	}
}

func TestCountdownExpiry_CompletesWithPartialAnswers(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 0, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	// A zero-length countdown expires on the first tick; the slow tick
	// leaves room to get two answers in first.
	s.timers = NewSessionTimerManager(zap.NewNop(), 300*time.Millisecond)

	sessionID := startStandardSession(t, s).SessionID

	if _, err := s.SubmitAnswer(context.Background(), sessionID, "answer one"); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, err := s.SubmitAnswer(context.Background(), sessionID, "answer two"); err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	waitFor(t, "countdown-driven completion", func() bool {
		snapshot, err := s.GetSession(context.Background(), sessionID)
		return err == nil && snapshot.Session.IsDone()
	})

	if got := upstream.completed(); got != 1 {
		t.Errorf("upstream complete calls = %d, want 1", got)
	}
	snapshot, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if snapshot.Session.CompletionReason != domain.ReasonTimerExpired {
		t.Errorf("completion reason = %q, want %q",
			snapshot.Session.CompletionReason, domain.ReasonTimerExpired)
	}
	if got := upstream.answerCount(); got != 2 {
		t.Errorf("answers delivered = %d, want 2", got)
	}

	// No further answers once the countdown ended the session
	if _, err := s.SubmitAnswer(context.Background(), sessionID, "answer three"); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("post-expiry submit err = %v, want ErrNotInProgress", err)
	}
}

func TestShutdown_WithLiveRecordingQuiescesTheUploader(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, 5*time.Millisecond)
	sessionID := startStandardSession(t, s).SessionID

	for i := 0; i < 32; i++ {
		if err := s.PushChunk(context.Background(), sessionID, []byte("webm-bytes")); err != nil {
			t.Fatalf("PushChunk %d failed: %v", i, err)
		}
	}
	waitFor(t, "first chunk delivery", func() bool {
		return upstream.chunkCount() >= 1
	})

	// Shutdown joins the chunk pumps; stopping the pool right after, with
	// chunks still buffered, must not blow up.
	s.Shutdown()
	s.pool.Stop()
}

func TestRecordVisibility_NothingRecordedAfterCompletion(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID
	rt := s.runtime(sessionID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.RecordVisibility(context.Background(), sessionID, true)
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if err := s.CompleteSession(context.Background(), sessionID, domain.ReasonUserAction); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	atCompletion := rt.proctor.Violations()

	close(stop)
	wg.Wait()

	// The warning list is frozen the moment the session left in_progress
	if got := rt.proctor.Violations(); got != atCompletion {
		t.Fatalf("violations grew from %d to %d after completion", atCompletion, got)
	}
	if _, err := s.RecordVisibility(context.Background(), sessionID, true); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("post-completion visibility err = %v, want ErrNotInProgress", err)
	}
}

func TestHandleCommand_CompletesSession(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	body, err := json.Marshal(map[string]string{
		"type":       "complete_session",
		"session_id": sessionID,
	})
	if err != nil {
		t.Fatalf("failed to marshal command: %v", err)
	}
	if err := s.HandleCommand(context.Background(), amqp.Delivery{Body: body}); err != nil {
		t.Fatalf("HandleCommand failed: %v", err)
	}

	if got := upstream.completed(); got != 1 {
		t.Errorf("upstream complete calls = %d, want 1", got)
	}
	snapshot, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if snapshot.Session.State != domain.StateCompleted {
		t.Errorf("state = %q, want completed", snapshot.Session.State)
	}
}

func TestHandleCommand_RejectsBadMessages(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)

	if err := s.HandleCommand(context.Background(), amqp.Delivery{Body: []byte("{")}); err == nil {
		t.Error("malformed command body was accepted")
	}
	if err := s.HandleCommand(context.Background(), amqp.Delivery{Body: []byte(`{"type":"reticulate"}`)}); err == nil {
		t.Error("unknown command type was accepted")
	}
}

func TestSessionContext_RebuiltFromStore(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	sc, err := s.SessionContext(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("SessionContext failed: %v", err)
	}
	if sc.SessionID != sessionID || sc.JobID != "job-1" {
		t.Errorf("context identifiers = %+v", sc)
	}
	if sc.Candidate.Name != "Ada" || sc.Candidate.Email != "ada@example.com" {
		t.Errorf("context candidate = %+v", sc.Candidate)
	}
	if sc.InterviewID == "" {
		t.Error("context missing interview id")
	}

	if _, err := s.SessionContext(context.Background(), "no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v, want ErrSessionNotFound", err)
	}
}

func TestRecordVisibility_ThresholdAndPersistence(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	first, err := s.RecordVisibility(context.Background(), sessionID, true)
	if err != nil {
		t.Fatalf("first visibility failed: %v", err)
	}
	if first.Violations != 1 || first.PromptBlocked {
		t.Errorf("first violation = %+v, want violations 1 without prompt", first)
	}

	// Returning to the tab records nothing
	back, err := s.RecordVisibility(context.Background(), sessionID, false)
	if err != nil {
		t.Fatalf("visible transition failed: %v", err)
	}
	if back.Violations != 1 {
		t.Errorf("visible transition counted as violation: %d", back.Violations)
	}

	second, err := s.RecordVisibility(context.Background(), sessionID, true)
	if err != nil {
		t.Fatalf("second visibility failed: %v", err)
	}
	if second.Violations != 2 || !second.PromptBlocked {
		t.Errorf("second violation = %+v, want violations 2 with prompt", second)
	}

	warnings, err := s.repo.Session.ListWarnings(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListWarnings failed: %v", err)
	}
	if len(warnings) != 2 {
		t.Errorf("persisted warnings = %d, want 2", len(warnings))
	}
	for _, w := range warnings {
		if w.Kind != domain.WarningTabSwitch {
			t.Errorf("warning kind = %q", w.Kind)
		}
	}
}

func TestPushChunk_FlowsThroughUploaderAndStopsAtCompletion(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, 10*time.Millisecond)
	sessionID := startStandardSession(t, s).SessionID

	if err := s.PushChunk(context.Background(), sessionID, []byte("webm-bytes")); err != nil {
		t.Fatalf("PushChunk failed: %v", err)
	}

	waitFor(t, "chunk delivery", func() bool {
		return upstream.chunkCount() >= 1
	})

	if err := s.CompleteSession(context.Background(), sessionID, domain.ReasonUserAction); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	if err := s.PushChunk(context.Background(), sessionID, []byte("late")); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("post-completion push err = %v, want ErrNotInProgress", err)
	}
}

func TestSetTrackEnabled_TogglesWithoutRelease(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	if err := s.SetTrackEnabled(context.Background(), sessionID, "video", false); err != nil {
		t.Fatalf("video toggle failed: %v", err)
	}
	rt := s.runtime(sessionID)
	if rt.handles.VideoEnabled() {
		t.Error("video still enabled after toggle")
	}
	if rt.handles.isReleased() {
		t.Error("toggle released the media handles")
	}

	err := s.SetTrackEnabled(context.Background(), sessionID, "screen", false)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("unknown track err = %v, want ValidationError", err)
	}
}

func TestGetSession_FallsBackToPersistedState(t *testing.T) {
	upstream := &fakeUpstream{durationMinutes: 30, questions: standardQuestions()}
	s := newTestShen(t, upstream, time.Hour)
	sessionID := startStandardSession(t, s).SessionID

	if _, err := s.SubmitAnswer(context.Background(), sessionID, "answer one"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := s.CompleteSession(context.Background(), sessionID, domain.ReasonUserAction); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	// Evict the runtime; the read view must come from the store
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	snapshot, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession after eviction failed: %v", err)
	}
	if snapshot.Session.State != domain.StateCompleted {
		t.Errorf("state = %q, want completed", snapshot.Session.State)
	}
	if snapshot.TotalQuestions != 3 {
		t.Errorf("totalQuestions = %d, want 3", snapshot.TotalQuestions)
	}
	if snapshot.CurrentIndex != 1 {
		t.Errorf("currentIndex = %d, want 1", snapshot.CurrentIndex)
	}
	if snapshot.Progress != 1.0/3 {
		t.Errorf("progress = %f, want %f", snapshot.Progress, 1.0/3)
	}

	if _, err := s.GetSession(context.Background(), "no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v, want ErrSessionNotFound", err)
	}
}
