package sink

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/record"
)

const cloudSink = "cloud"

// UploadResult is the outcome of a successful upload call.
type UploadResult int

const (
	Delivered UploadResult = iota + 1
	// Duplicate means the cloud already holds the reading; it counts as delivered
	Duplicate
)

func (r UploadResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("upload_result(%d)", int(r))
	}
}

// Uploader sends one measurement to the health cloud on behalf of account.
// Failures are DeliveryErrors.
type Uploader interface {
	Upload(ctx context.Context, account string, m record.Measurement) (UploadResult, error)
}

// duplicateWindow is how far apart two readings with identical values may
// be and still count as the same measurement
const duplicateWindow = 60 * time.Second

// HTTPConfig configures the cloud API client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// CheckDuplicates queries the day's readings before uploading
	CheckDuplicates bool
}

// HTTPUploader talks to the cloud's blood-pressure REST API.
type HTTPUploader struct {
	client *resty.Client
	tokens TokenSource
	cfg    HTTPConfig
	logger *logrus.Logger
}

func NewHTTPUploader(cfg HTTPConfig, tokens TokenSource, logger *logrus.Logger) *HTTPUploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPUploader{client: client, tokens: tokens, cfg: cfg, logger: logger}
}

// cloudReading is the API's reading representation.
type cloudReading struct {
	Systolic                  int    `json:"systolic"`
	Diastolic                 int    `json:"diastolic"`
	Pulse                     int    `json:"pulse"`
	MeasurementTimestampLocal string `json:"measurementTimestampLocal"`
	Notes                     string `json:"notes,omitempty"`
}

type readingsResponse struct {
	MeasurementSummaries []struct {
		Measurements []cloudReading `json:"measurements"`
	} `json:"measurementSummaries"`
}

func (u *HTTPUploader) Upload(ctx context.Context, account string, m record.Measurement) (UploadResult, error) {
	token, err := u.tokens.Token(account)
	if err != nil {
		return 0, permanent(cloudSink, err, "authentication for %s", account)
	}

	log := u.logger.WithFields(logrus.Fields{
		"account":  account,
		"identity": m.Identity(),
	})

	if u.cfg.CheckDuplicates {
		dup, err := u.isDuplicate(ctx, token, m)
		switch {
		case err != nil:
			log.WithField("error", err).Warn("Cloud duplicate check failed, uploading anyway")
		case dup:
			log.Info("Reading already in cloud, skipping upload")
			return Duplicate, nil
		}
	}

	requestID := uuid.NewString()
	resp, err := u.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Request-ID", requestID).
		SetBody(cloudReading{
			Systolic:                  m.Systolic,
			Diastolic:                 m.Diastolic,
			Pulse:                     m.Pulse,
			MeasurementTimestampLocal: m.Timestamp.Format(record.TimestampLayout),
			Notes:                     notes(m),
		}).
		Post("/bloodpressure")
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, transient(cloudSink, err, "upload request %s", requestID)
	}

	if resp.StatusCode() == http.StatusConflict {
		log.Info("Cloud reports reading as duplicate")
		return Duplicate, nil
	}
	if err := classify(resp); err != nil {
		return 0, err
	}

	log.WithFields(logrus.Fields{
		"request_id": requestID,
		"status":     resp.StatusCode(),
	}).Info("Uploaded reading to cloud")
	return Delivered, nil
}

func (u *HTTPUploader) isDuplicate(ctx context.Context, token string, m record.Measurement) (bool, error) {
	day := m.Timestamp.Format(time.DateOnly)
	var existing readingsResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{"startDate": day, "endDate": day}).
		SetResult(&existing).
		Get("/bloodpressure")
	if err != nil {
		return false, err
	}
	if err := classify(resp); err != nil {
		return false, err
	}

	for _, summary := range existing.MeasurementSummaries {
		for _, r := range summary.Measurements {
			if sameReading(r, m) {
				return true, nil
			}
		}
	}
	return false, nil
}

// sameReading matches identical values taken within duplicateWindow.
func sameReading(r cloudReading, m record.Measurement) bool {
	if r.Systolic != m.Systolic || r.Diastolic != m.Diastolic || r.Pulse != m.Pulse {
		return false
	}
	// "2025-12-26T22:59:00.0": fractional seconds and zone are dropped
	ts, _, _ := strings.Cut(strings.TrimSuffix(r.MeasurementTimestampLocal, "Z"), ".")
	t, err := time.ParseInLocation(record.TimestampLayout, ts, m.Timestamp.Location())
	if err != nil {
		return false
	}
	diff := t.Sub(m.Timestamp)
	return diff <= duplicateWindow && diff >= -duplicateWindow
}

func notes(m record.Measurement) string {
	parts := []string{fmt.Sprintf("OMRON BLE import (slot %d)", m.Slot)}
	if m.IrregularHeartbeat {
		parts = append(parts, "IHB detected")
	}
	if m.BodyMovement {
		parts = append(parts, "Body movement detected")
	}
	return strings.Join(parts, " | ")
}

// classify maps an HTTP status to a delivery error. Throttling and server
// errors are transient; rejected credentials and requests are permanent.
func classify(resp *resty.Response) error {
	status := resp.StatusCode()
	switch {
	case resp.IsSuccess():
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return transient(cloudSink, nil, "HTTP %d: %s", status, snippet(resp.String()))
	default:
		return permanent(cloudSink, nil, "HTTP %d: %s", status, snippet(resp.String()))
	}
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
