package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shen/internal/domain"
)

// Irelia is the upstream Job/Interview Service contract the session
// controller depends on.
type Irelia interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CreateInterview(ctx context.Context, jobID string, candidate domain.Candidate) (string, error)
	FetchQuestions(ctx context.Context, interviewID string) ([]domain.Question, error)
	SubmitAnswer(ctx context.Context, interviewID string, answer *domain.Answer) error
	UploadChunk(ctx context.Context, interviewID string, chunk *domain.MediaChunk) error
	Complete(ctx context.Context, interviewID string) error
}

// IreliaClient implements the Irelia interface using HTTP
type IreliaClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewIreliaClient creates a new Irelia HTTP client
func NewIreliaClient(logger *zap.Logger) *IreliaClient {
	return &IreliaClient{
		client: &http.Client{},
		logger: logger,
	}
}

func (c *IreliaClient) baseURL() string {
	return viper.GetString("irelia.baseurl")
}

func (c *IreliaClient) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return &domain.NetworkError{Op: "marshal request", Cause: err}
		}
		body = bytes.NewBuffer(payloadBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &domain.NetworkError{Op: "create HTTP request", Cause: err}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &domain.NetworkError{Op: "send HTTP request", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Op: "read response body", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &domain.NetworkError{
			Op:    "call interview service",
			Cause: fmt.Errorf("non-200 status: %d, body: %s", resp.StatusCode, string(respBody)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &domain.NetworkError{Op: "unmarshal response JSON", Cause: err}
		}
	}
	return nil
}

// GetJob retrieves the job metadata, including the interview duration.
func (c *IreliaClient) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	url := fmt.Sprintf("%s/jobs/%s", c.baseURL(), jobID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateInterview registers the candidate's attempt and returns the
// upstream interview id.
func (c *IreliaClient) CreateInterview(ctx context.Context, jobID string, candidate domain.Candidate) (string, error) {
	payload := map[string]string{
		"job_id":          jobID,
		"candidate_name":  candidate.Name,
		"candidate_email": candidate.Email,
		"candidate_phone": candidate.Phone,
	}
	var resp struct {
		InterviewID string `json:"interview_id"`
	}
	url := fmt.Sprintf("%s/interviews", c.baseURL())
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return "", err
	}
	if resp.InterviewID == "" {
		return "", &domain.NetworkError{Op: "create interview", Cause: fmt.Errorf("empty interview_id in response")}
	}
	return resp.InterviewID, nil
}

// FetchQuestions retrieves the ordered question sequence for an interview.
func (c *IreliaClient) FetchQuestions(ctx context.Context, interviewID string) ([]domain.Question, error) {
	var questions []domain.Question
	url := fmt.Sprintf("%s/interviews/%s/questions", c.baseURL(), interviewID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &questions); err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].QuestionIndex = int32(i)
	}
	return questions, nil
}

// SubmitAnswer delivers one answer. The caller serializes submissions so
// the upstream scorer receives them in question order.
func (c *IreliaClient) SubmitAnswer(ctx context.Context, interviewID string, answer *domain.Answer) error {
	payload := map[string]any{
		"question_id":    answer.QuestionID,
		"answer_text":    answer.Text,
		"question_index": answer.QuestionIndex,
	}
	url := fmt.Sprintf("%s/interviews/%s/answers", c.baseURL(), interviewID)
	return c.doJSON(ctx, http.MethodPost, url, payload, nil)
}

// UploadChunk sends one recorded media chunk as multipart form data.
// Delivery is best-effort; the caller logs failures and moves on.
func (c *IreliaClient) UploadChunk(ctx context.Context, interviewID string, chunk *domain.MediaChunk) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("interview_id", interviewID); err != nil {
		return &domain.NetworkError{Op: "write multipart field", Cause: err}
	}
	if err := writer.WriteField("chunk_index", strconv.Itoa(int(chunk.ChunkIndex))); err != nil {
		return &domain.NetworkError{Op: "write multipart field", Cause: err}
	}
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk-%d.webm", chunk.ChunkIndex))
	if err != nil {
		return &domain.NetworkError{Op: "create multipart file", Cause: err}
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return &domain.NetworkError{Op: "write multipart file", Cause: err}
	}
	if err := writer.Close(); err != nil {
		return &domain.NetworkError{Op: "close multipart writer", Cause: err}
	}

	url := fmt.Sprintf("%s/interviews/%s/video-chunk", c.baseURL(), interviewID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return &domain.NetworkError{Op: "create HTTP request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &domain.NetworkError{Op: "send HTTP request", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &domain.NetworkError{
			Op:    "upload chunk",
			Cause: fmt.Errorf("non-200 status: %d, body: %s", resp.StatusCode, string(body)),
		}
	}
	return nil
}

// Complete notifies the upstream service that the session is over. The
// call is not idempotent upstream, so the controller guards it.
func (c *IreliaClient) Complete(ctx context.Context, interviewID string) error {
	url := fmt.Sprintf("%s/interviews/%s/complete", c.baseURL(), interviewID)
	return c.doJSON(ctx, http.MethodPost, url, map[string]string{}, nil)
}
