package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"shen/internal/domain"
	repo "shen/internal/repo"
	sv "shen/internal/service"
	gen "shen/internal/utils/generator"
	rcache "shen/internal/utils/redis"
	"shen/internal/utils/sse"
	rabbit "shen/pkg/rabbit/pkg"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotInProgress      = errors.New("session is not in progress")
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
)

type IShen interface {
	StartSession(ctx context.Context, req *StartSessionRequest) (*StartSessionResult, error)
	SubmitAnswer(ctx context.Context, sessionID, text string) (*SubmitAnswerResult, error)
	RecordVisibility(ctx context.Context, sessionID string, hidden bool) (*VisibilityResult, error)
	PushChunk(ctx context.Context, sessionID string, data []byte) error
	SetTrackEnabled(ctx context.Context, sessionID, track string, enabled bool) error
	CompleteSession(ctx context.Context, sessionID string, reason domain.CompletionReason) error
	GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error)
	SessionContext(ctx context.Context, sessionID string) (*domain.SessionContext, error)
	Shutdown()
}

// StartSessionRequest carries everything the candidate supplies at setup.
type StartSessionRequest struct {
	JobID        string
	Candidate    domain.Candidate
	VideoGranted bool
	AudioGranted bool
}

type StartSessionResult struct {
	SessionID       string
	State           domain.SessionState
	DurationSeconds int32
	TotalQuestions  int
	FirstQuestion   *domain.Question
}

type SubmitAnswerResult struct {
	Done         bool
	Progress     float64
	NextQuestion *domain.Question
}

type VisibilityResult struct {
	Violations    int
	PromptBlocked bool
}

// SessionSnapshot is the read view handed to the HTTP surface.
type SessionSnapshot struct {
	Session          *domain.InterviewSession
	CurrentIndex     int
	TotalQuestions   int
	Progress         float64
	RemainingSeconds int64
	Violations       int
	Warnings         []domain.Warning
}

// sessionRuntime is the in-memory state for one live session. The mutex
// serializes lifecycle mutations; the submitting flag is the backend twin
// of the disabled submit button.
type sessionRuntime struct {
	mu         sync.Mutex
	session    *domain.InterviewSession
	flow       *QuestionFlow
	proctor    *ProctorMonitor
	handles    *MediaHandles
	recording  *Recording
	submitting bool
	completing bool
}

// Shen drives candidate interview sessions through the
// setup -> in_progress -> completed lifecycle.
type Shen struct {
	upstream      sv.Irelia
	repo          *repo.Repository
	rabbit        rabbit.Rabbit
	cache         rcache.Redis
	adapter       *MediaAdapter
	timers        *SessionTimerManager
	pool          *ChunkWorkerPool
	logger        *zap.Logger
	chunkInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionRuntime
	pumps    sync.WaitGroup
}

// New creates the session controller service
func New(upstream sv.Irelia, repository *repo.Repository, rb rabbit.Rabbit, cache rcache.Redis, pool *ChunkWorkerPool, logger *zap.Logger, chunkInterval time.Duration) *Shen {
	return &Shen{
		upstream:      upstream,
		repo:          repository,
		rabbit:        rb,
		cache:         cache,
		adapter:       NewMediaAdapter(logger),
		timers:        NewSessionTimerManager(logger, time.Second),
		pool:          pool,
		logger:        logger,
		chunkInterval: chunkInterval,
		sessions:      make(map[string]*sessionRuntime),
	}
}

func (s *Shen) runtime(sessionID string) *sessionRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// StartSession performs the setup -> in_progress transition: validates the
// candidate, acquires media, registers the interview upstream, fetches the
// question sequence, seeds the countdown and starts recording. Validation
// and media failures leave nothing behind: the interview is never created
// upstream.
func (s *Shen) StartSession(ctx context.Context, req *StartSessionRequest) (*StartSessionResult, error) {
	if req.Candidate.Name == "" {
		return nil, &domain.ValidationError{Field: "candidate_name", Reason: "name is required"}
	}
	if req.Candidate.Email == "" {
		return nil, &domain.ValidationError{Field: "candidate_email", Reason: "email is required"}
	}
	if req.JobID == "" {
		return nil, &domain.ValidationError{Field: "job_id", Reason: "job id is required"}
	}

	handles, err := s.adapter.Acquire(ctx, NewStreamDevice(req.VideoGranted, req.AudioGranted))
	if err != nil {
		s.logger.Error("Media acquisition failed, session stays in setup", zap.Error(err))
		return nil, err
	}

	job, err := s.upstream.GetJob(ctx, req.JobID)
	if err != nil {
		handles.Release()
		s.logger.Error("Failed to retrieve job", zap.String("jobId", req.JobID), zap.Error(err))
		return nil, err
	}

	interviewID, err := s.upstream.CreateInterview(ctx, req.JobID, req.Candidate)
	if err != nil {
		handles.Release()
		s.logger.Error("Failed to create interview", zap.String("jobId", req.JobID), zap.Error(err))
		return nil, err
	}

	questions, err := s.upstream.FetchQuestions(ctx, interviewID)
	if err != nil {
		handles.Release()
		s.logger.Error("Failed to fetch questions", zap.String("interviewId", interviewID), zap.Error(err))
		return nil, err
	}

	// Generate a unique session ID
	var sessionID string
	for {
		sessionID = gen.GenerateUUID()
		exists, err := s.repo.Session.Exists(ctx, sessionID)
		if err != nil {
			handles.Release()
			s.logger.Error("Failed to query session", zap.Error(err))
			return nil, fmt.Errorf("failed to query session: %v", err)
		}
		if !exists {
			break
		}
	}

	session := &domain.InterviewSession{
		ID:              sessionID,
		InterviewID:     interviewID,
		JobID:           req.JobID,
		Candidate:       req.Candidate,
		State:           domain.StateSetup,
		DurationSeconds: job.DurationMinutes * 60,
		CreatedAt:       time.Now(),
	}
	if err := session.Transition(domain.StateInProgress); err != nil {
		handles.Release()
		return nil, err
	}

	if err := s.repo.Session.Create(ctx, session); err != nil {
		handles.Release()
		s.logger.Error("Failed to save session", zap.Error(err))
		return nil, err
	}
	if err := s.repo.Question.CreateBatch(ctx, sessionID, questions); err != nil {
		handles.Release()
		s.logger.Error("Failed to save questions", zap.Error(err))
		return nil, err
	}

	s.logger.Info("Created session",
		zap.String("sessionId", sessionID),
		zap.String("interviewId", interviewID),
		zap.Int("questions", len(questions)))

	rt := &sessionRuntime{
		session: session,
		flow:    NewQuestionFlow(questions),
		proctor: NewProctorMonitor(sessionID),
		handles: handles,
	}
	s.mu.Lock()
	s.sessions[sessionID] = rt
	s.mu.Unlock()

	sessionCtx := &domain.SessionContext{
		SessionID:   sessionID,
		InterviewID: interviewID,
		JobID:       req.JobID,
		Candidate:   req.Candidate,
		IssuedAt:    time.Now(),
	}
	contextTTL := time.Duration(session.DurationSeconds)*time.Second + 30*time.Minute
	if _, err := s.cache.Set(ctx, sessionID, sessionCtx, contextTTL); err != nil {
		s.logger.Warn("Failed to cache session context", zap.Error(err))
	}

	s.publishEvent(ctx, "session_started", sessionID, map[string]any{
		"interview_id": interviewID,
		"job_id":       req.JobID,
	})

	if rt.flow.Empty() {
		// Nothing to ask: complete immediately rather than read an empty
		// sequence.
		s.logger.Warn("Question list is empty, completing immediately", zap.String("sessionId", sessionID))
		if err := s.CompleteSession(ctx, sessionID, domain.ReasonNoQuestions); err != nil {
			return nil, err
		}
		return &StartSessionResult{
			SessionID:       sessionID,
			State:           domain.StateCompleted,
			DurationSeconds: session.DurationSeconds,
		}, nil
	}

	rt.recording = s.adapter.StartRecording(sessionID, handles, s.chunkInterval)
	s.pumps.Add(1)
	go s.pumpChunks(rt)

	s.timers.startTimer(sessionID, time.Duration(session.DurationSeconds)*time.Second,
		s.onCountdownTick, s.onCountdownExpired)

	first, _ := rt.flow.Current()
	return &StartSessionResult{
		SessionID:       sessionID,
		State:           session.State,
		DurationSeconds: session.DurationSeconds,
		TotalQuestions:  rt.flow.Questions(),
		FirstQuestion:   &first,
	}, nil
}

// pumpChunks drains the recording stream into the upload pool until the
// recording stops. Shutdown waits for the pumps so the pool can be
// stopped afterwards without live producers.
func (s *Shen) pumpChunks(rt *sessionRuntime) {
	defer s.pumps.Done()
	for chunk := range rt.recording.Chunks() {
		s.pool.EnqueueJob(s.logger, ChunkUploadJob{
			SessionID:   rt.session.ID,
			InterviewID: rt.session.InterviewID,
			Chunk:       chunk,
		})
	}
}

func (s *Shen) onCountdownTick(sessionID string, remaining time.Duration) {
	sse.SendToSession(sessionID, map[string]interface{}{
		"type":              "tick",
		"remaining_seconds": int64(remaining.Seconds()),
		"timestamp":         time.Now().Unix(),
	})
}

func (s *Shen) onCountdownExpired(sessionID string) {
	// Timer expiry forces completion regardless of how many answers exist
	if err := s.CompleteSession(context.Background(), sessionID, domain.ReasonTimerExpired); err != nil {
		s.logger.Error("Failed to complete session on timer expiry",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
}

// SubmitAnswer validates and delivers the answer for the current question,
// then advances the flow. Delivery happens outside the runtime lock but is
// serialized by the submitting flag, so answers reach the scorer in
// question order and a duplicate submit is rejected instead of queued.
func (s *Shen) SubmitAnswer(ctx context.Context, sessionID, text string) (*SubmitAnswerResult, error) {
	rt := s.runtime(sessionID)
	if rt == nil {
		return nil, ErrSessionNotFound
	}

	rt.mu.Lock()
	if rt.session.State != domain.StateInProgress || rt.completing {
		rt.mu.Unlock()
		return nil, ErrNotInProgress
	}
	if rt.submitting {
		rt.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	answer, err := rt.flow.BuildAnswer(text)
	if err != nil {
		rt.mu.Unlock()
		return nil, err
	}
	rt.submitting = true
	rt.mu.Unlock()

	if err := s.upstream.SubmitAnswer(ctx, rt.session.InterviewID, answer); err != nil {
		// The index stays put; the candidate can resubmit
		rt.mu.Lock()
		rt.submitting = false
		rt.mu.Unlock()
		s.logger.Error("Failed to submit answer",
			zap.String("sessionId", sessionID),
			zap.Int32("questionIndex", answer.QuestionIndex),
			zap.Error(err))
		return nil, err
	}

	if err := s.repo.Question.SaveAnswer(ctx, sessionID, answer); err != nil {
		s.logger.Error("Failed to persist answer locally",
			zap.String("sessionId", sessionID),
			zap.Int32("questionIndex", answer.QuestionIndex),
			zap.Error(err))
	}

	rt.mu.Lock()
	last := rt.flow.Advance()
	rt.submitting = false
	progress := rt.flow.Progress()
	var next *domain.Question
	if !last {
		if q, ok := rt.flow.Current(); ok {
			next = &q
		}
	}
	rt.mu.Unlock()

	if last {
		if err := s.CompleteSession(ctx, sessionID, domain.ReasonLastAnswer); err != nil {
			return nil, err
		}
		return &SubmitAnswerResult{Done: true, Progress: progress}, nil
	}

	return &SubmitAnswerResult{Progress: progress, NextQuestion: next}, nil
}

// RecordVisibility registers one page-visibility transition. Only
// transitions to hidden during in_progress count as violations.
func (s *Shen) RecordVisibility(ctx context.Context, sessionID string, hidden bool) (*VisibilityResult, error) {
	rt := s.runtime(sessionID)
	if rt == nil {
		return nil, ErrSessionNotFound
	}

	// Record under the runtime lock so no warning lands after the
	// completing guard flips.
	rt.mu.Lock()
	if rt.session.State != domain.StateInProgress || rt.completing {
		rt.mu.Unlock()
		return nil, ErrNotInProgress
	}
	if !hidden {
		violations := rt.proctor.Violations()
		rt.mu.Unlock()
		return &VisibilityResult{Violations: violations}, nil
	}
	warning, prompt := rt.proctor.RecordHidden(time.Now())
	violations := rt.proctor.Violations()
	rt.mu.Unlock()

	if err := s.repo.Session.SaveWarning(ctx, &warning); err != nil {
		s.logger.Error("Failed to persist warning", zap.String("sessionId", sessionID), zap.Error(err))
	}

	s.publishEvent(ctx, "proctor_warning", sessionID, map[string]any{
		"warning_id": warning.ID,
		"kind":       string(warning.Kind),
		"violations": violations,
	})

	sse.SendToSession(sessionID, map[string]interface{}{
		"type":       "proctor_warning",
		"kind":       string(warning.Kind),
		"violations": violations,
		"blocking":   prompt,
		"timestamp":  warning.Timestamp.Unix(),
	})

	return &VisibilityResult{Violations: violations, PromptBlocked: prompt}, nil
}

// PushChunk feeds one recorded media slice into the session's track
// source. Recording picks it up on the next interval.
func (s *Shen) PushChunk(ctx context.Context, sessionID string, data []byte) error {
	rt := s.runtime(sessionID)
	if rt == nil {
		return ErrSessionNotFound
	}

	rt.mu.Lock()
	inProgress := rt.session.State == domain.StateInProgress && !rt.completing
	handles := rt.handles
	rt.mu.Unlock()
	if !inProgress {
		return ErrNotInProgress
	}

	source, ok := handles.Source().(*StreamSource)
	if !ok {
		return fmt.Errorf("session media source does not accept pushed chunks")
	}
	source.Push(data)
	return nil
}

// SetTrackEnabled mutes or unmutes a single track without stopping the
// underlying stream.
func (s *Shen) SetTrackEnabled(ctx context.Context, sessionID, track string, enabled bool) error {
	rt := s.runtime(sessionID)
	if rt == nil {
		return ErrSessionNotFound
	}

	switch track {
	case "video":
		rt.handles.SetVideoEnabled(enabled)
	case "audio":
		rt.handles.SetAudioEnabled(enabled)
	default:
		return &domain.ValidationError{Field: "track", Reason: "track must be video or audio"}
	}
	return nil
}

// CompleteSession is the single completion routine all three triggers
// converge on: last answer, timer expiry and explicit user action. It is
// idempotent - the completing guard makes sure the recorder stops, media
// is released and the upstream complete call fires exactly once no matter
// how many triggers race.
func (s *Shen) CompleteSession(ctx context.Context, sessionID string, reason domain.CompletionReason) error {
	rt := s.runtime(sessionID)
	if rt == nil {
		return ErrSessionNotFound
	}

	rt.mu.Lock()
	if rt.completing || rt.session.IsDone() {
		rt.mu.Unlock()
		return nil
	}
	rt.completing = true
	rt.mu.Unlock()

	s.logger.Info("Completing session",
		zap.String("sessionId", sessionID),
		zap.String("reason", string(reason)))

	// Stop side-effect producers before notifying upstream. No tick fires
	// past this point.
	s.timers.cancelTimer(sessionID)
	if rt.recording != nil {
		rt.recording.Stop()
	}
	if err := rt.handles.Release(); err != nil {
		s.logger.Warn("Failed to release media handles", zap.String("sessionId", sessionID), zap.Error(err))
	}

	if err := s.upstream.Complete(ctx, rt.session.InterviewID); err != nil {
		// The session still completes locally; the guard above already
		// spent the one upstream attempt.
		s.logger.Error("Failed to notify upstream of completion",
			zap.String("sessionId", sessionID), zap.Error(err))
	}

	rt.mu.Lock()
	now := time.Now()
	rt.session.CompletionReason = reason
	rt.session.CompletedAt = &now
	if err := rt.session.Transition(domain.StateCompleted); err != nil {
		rt.mu.Unlock()
		return err
	}
	rt.mu.Unlock()

	if err := s.repo.Session.Update(ctx, rt.session); err != nil {
		s.logger.Error("Failed to save session completion", zap.String("sessionId", sessionID), zap.Error(err))
	}

	if _, err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to clear session context", zap.String("sessionId", sessionID), zap.Error(err))
	}

	s.publishEvent(ctx, "session_completed", sessionID, map[string]any{
		"interview_id": rt.session.InterviewID,
		"reason":       string(reason),
		"violations":   rt.proctor.Violations(),
	})

	sse.SendToSession(sessionID, map[string]interface{}{
		"type":      "completed",
		"reason":    string(reason),
		"timestamp": now.Unix(),
	})

	return nil
}

// GetSession assembles the read view for one session.
func (s *Shen) GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	rt := s.runtime(sessionID)
	if rt == nil {
		// Fall back to persisted state for completed sessions evicted
		// from memory.
		session, err := s.repo.Session.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}
		questions, err := s.repo.Question.List(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		answered, err := s.repo.Question.CountAnswers(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		warnings, err := s.repo.Session.ListWarnings(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		progress := float64(1)
		currentIndex := 0
		if len(questions) > 0 {
			progress = float64(answered) / float64(len(questions))
			if progress > 1 {
				progress = 1
			}
			currentIndex = int(answered)
			if currentIndex >= len(questions) {
				currentIndex = len(questions) - 1
			}
		}
		return &SessionSnapshot{
			Session:        session,
			CurrentIndex:   currentIndex,
			TotalQuestions: len(questions),
			Progress:       progress,
			Violations:     len(warnings),
			Warnings:       warnings,
		}, nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return &SessionSnapshot{
		Session:          rt.session,
		CurrentIndex:     rt.flow.CurrentIndex(),
		TotalQuestions:   rt.flow.Questions(),
		Progress:         rt.flow.Progress(),
		RemainingSeconds: int64(s.timers.remainingTime(sessionID).Seconds()),
		Violations:       rt.proctor.Violations(),
		Warnings:         rt.proctor.Warnings(),
	}, nil
}

// SessionContext returns the candidate identity issued when the session
// started, from the cache when present, rebuilt from the stored session
// otherwise.
func (s *Shen) SessionContext(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	data, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to read session context from cache",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	if len(data) > 0 {
		var sc domain.SessionContext
		if err := json.Unmarshal(data, &sc); err == nil {
			return &sc, nil
		}
		s.logger.Warn("Discarding malformed cached session context", zap.String("sessionId", sessionID))
	}

	session, err := s.repo.Session.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return &domain.SessionContext{
		SessionID:   session.ID,
		InterviewID: session.InterviewID,
		JobID:       session.JobID,
		Candidate:   session.Candidate,
		IssuedAt:    session.CreatedAt,
	}, nil
}

// HandleCommand consumes control messages from the command queue. The
// scoring side can force a session closed, for example when a candidate
// is disqualified mid-interview.
func (s *Shen) HandleCommand(ctx context.Context, msg amqp.Delivery) error {
	var cmd struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Type {
	case "complete_session":
		return s.CompleteSession(ctx, cmd.SessionID, domain.ReasonUserAction)
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func (s *Shen) publishEvent(ctx context.Context, eventType, sessionID string, payload map[string]any) {
	event := map[string]any{
		"type":       eventType,
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	}
	for k, v := range payload {
		event[k] = v
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.rabbit.Publish(ctx, body); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// Shutdown stops the countdowns and releases every live session's media.
func (s *Shen) Shutdown() {
	s.timers.shutdown()

	s.mu.Lock()
	runtimes := make([]*sessionRuntime, 0, len(s.sessions))
	for _, rt := range s.sessions {
		runtimes = append(runtimes, rt)
	}
	s.mu.Unlock()

	for _, rt := range runtimes {
		if rt.recording != nil {
			rt.recording.Stop()
		}
		if rt.handles != nil {
			rt.handles.Release()
		}
	}

	// Stopped recordings close their chunk streams; wait for the pumps to
	// drain so the worker pool has no live producers when it stops.
	s.pumps.Wait()
}
