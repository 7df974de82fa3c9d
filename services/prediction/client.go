// Package predictionsvc calls the grade prediction service.
package predictionsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

// Client implements alert.Predictor over HTTP.
type Client struct {
	baseURL string
	rest    *rest.Client
	logger  core.Logger
}

var _ alert.Predictor = (*Client)(nil)

func NewClient(conf core.PredictionConfig, logger core.Logger) *Client {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(conf.BaseURL, "/") + "/" + strings.TrimPrefix(conf.Path, "/"),
		rest:    &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		logger:  logger,
	}
}

// grade accepts both 62.5 and "62.5".
type grade float64

func (g *grade) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return errors.Wrapf(err, "parsing predicted_grade %s", b)
	}
	*g = grade(v)
	return nil
}

type predictResponse struct {
	PredictedGrade *grade `json:"predicted_grade"`
}

func (c *Client) predict(ctx context.Context, studentID, courseID int) (float64, error) {
	res, err := c.rest.SendWithContext(ctx, rest.Request{
		Method:  rest.Get,
		BaseURL: c.baseURL,
		Headers: map[string]string{"Accept": "application/json"},
		QueryParams: map[string]string{
			"studentId": strconv.Itoa(studentID),
			"courseId":  strconv.Itoa(courseID),
		},
	})
	if err != nil {
		return 0, errors.Wrap(err, "calling prediction service")
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return 0, errors.Errorf("prediction service returned %d: %s", res.StatusCode, res.Body)
	}

	var body predictResponse
	if err := json.Unmarshal([]byte(res.Body), &body); err != nil {
		return 0, errors.Wrap(err, "decoding prediction")
	}
	if body.PredictedGrade == nil {
		return 0, errors.New("prediction has no predicted_grade")
	}
	return alert.Normalize(float64(*body.PredictedGrade)), nil
}

// Predict never fails: any error is logged and reported as "no prediction".
func (c *Client) Predict(ctx context.Context, studentID, courseID int) (float64, bool) {
	p, err := c.predict(ctx, studentID, courseID)
	if err != nil {
		c.logger.Warn("prediction unavailable", err, map[string]interface{}{
			"student_id": studentID, "course_id": courseID,
		})
		return 0, false
	}
	return p, true
}
