// Package client talks to a running sales prediction server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/server"
)

// Client is a REST client for the prediction API.
type Client struct {
	base string
	rest *resty.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Msg    string
	Hint   string
}

func (e *APIError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("server: %d %s (%s)", e.Status, e.Msg, e.Hint)
	}
	return fmt.Sprintf("server: %d %s", e.Status, e.Msg)
}

// BatchResult is the annotated CSV returned by a batch prediction.
type BatchResult struct {
	CSV   []byte
	Rows  int
	Total float64
}

// New creates a client for the server at base, e.g. http://localhost:8501.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict requests a single prediction.
func (c *Client) Predict(ctx context.Context, raw features.RawTransaction) (*server.PredictionResponse, error) {
	out := &server.PredictionResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(raw).
		SetResult(out).
		Post(c.base + "/api/predict")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return out, nil
}

// PredictBatch uploads a CSV file and returns it with a Predicted_Total column.
func (c *Client) PredictBatch(ctx context.Context, in io.Reader) (*BatchResult, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/csv").
		SetBody(in).
		Post(c.base + "/api/predict/batch")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	res := &BatchResult{CSV: resp.Body()}
	if v := resp.Header().Get("X-Batch-Rows"); v != "" {
		res.Rows, _ = strconv.Atoi(v)
	}
	if v := resp.Header().Get("X-Batch-Total"); v != "" {
		res.Total, _ = strconv.ParseFloat(v, 64)
	}
	return res, nil
}

// Report predicts raw and writes the PDF report to w.
func (c *Client) Report(ctx context.Context, raw features.RawTransaction, w io.Writer) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(raw).
		Post(c.base + "/api/report")
	return copyPDF(resp, err, w)
}

// StoredReport writes the PDF report of a stored prediction to w.
func (c *Client) StoredReport(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get(c.base + "/api/predictions/{id}/report")
	return copyPDF(resp, err, w)
}

// Predictions lists recent stored predictions, optionally for one branch.
func (c *Client) Predictions(ctx context.Context, limit int, branch string) (*server.PredictionList, error) {
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if branch != "" {
		params["branch"] = branch
	}

	out := &server.PredictionList{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(c.base + "/api/predictions")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelInfo describes the model the server has loaded.
func (c *Client) ModelInfo(ctx context.Context) (*server.ModelInfo, error) {
	out := &server.ModelInfo{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		Get(c.base + "/api/model")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return out, nil
}

// Drift returns the server's input drift comparison.
func (c *Client) Drift(ctx context.Context) (*ml.DriftStatus, error) {
	out := &ml.DriftStatus{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		Get(c.base + "/api/drift")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the server's health status. An unhealthy server answers
// 503 with a status body, which is returned together with an error.
func (c *Client) Health(ctx context.Context) (*ml.HealthStatus, error) {
	out := &ml.HealthStatus{}
	resp, err := c.rest.R().
		SetContext(ctx).
		Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return nil, &APIError{Status: resp.StatusCode(), Msg: strings.TrimSpace(resp.String())}
	}
	if resp.StatusCode() != http.StatusOK {
		return out, &APIError{Status: resp.StatusCode(), Msg: "unhealthy"}
	}
	return out, nil
}

func copyPDF(resp *resty.Response, err error, w io.Writer) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	if !bytes.HasPrefix(resp.Body(), []byte("%PDF")) {
		return fmt.Errorf("unexpected report content type %q", resp.Header().Get("Content-Type"))
	}
	_, err = w.Write(resp.Body())
	return err
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var body server.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode(), Msg: strings.TrimSpace(resp.String())}
	}
	return &APIError{Status: resp.StatusCode(), Msg: body.Error, Hint: body.Hint}
}
