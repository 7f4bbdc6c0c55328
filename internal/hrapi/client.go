// Package hrapi is the HR-system REST client. It deliberately surfaces raw
// HTTP status codes and response bodies: the reconciler classifies failures
// by substring tables, never by typed exceptions, because delivery outcomes
// such as duplicate-timestamp only exist as error message text on the HR side.
package hrapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/meden/biosync"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/model"
)

// Client for interacting with the HR system.
type Client interface {
	// CreateCheckin delivers one punch. Transport failures return err;
	// anything the server answered comes back as Response for
	// classification, including non-200s.
	CreateCheckin(ctx context.Context, req CheckinRequest) (Response, error)

	// GetChangedEmployees returns Active employees modified since the given
	// time, with their fingerprint templates. Zero since returns all Active
	// employees (full-sync mode).
	GetChangedEmployees(ctx context.Context, since time.Time) ([]model.Employee, error)

	// GetLeftEmployees returns Left employees that have a device user id,
	// each with its relieving date.
	GetLeftEmployees(ctx context.Context) ([]model.Employee, error)

	GetFingerprintRecords(ctx context.Context, employeeID string) ([]model.FingerTemplate, error)
	DeleteFingerprintRecord(ctx context.Context, recordID string) error

	TestConnection(ctx context.Context) error
}

// CheckinRequest is one punch delivery.
type CheckinRequest struct {
	EmployeeFieldValue string
	Timestamp          time.Time
	DeviceID           string
	Direction          model.Direction
	Latitude           float64
	Longitude          float64
}

// Response is what the HR server answered, raw.
type Response struct {
	Status int
	Body   string
}

// OK reports a 2xx answer.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type client struct {
	c *http.Client

	baseURL   string
	apiKey    string
	apiSecret string
}

// New creates the HR client from config.
func New(cfg config.HR) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, model.Error("hr base_url is empty")
	}

	timeout := cfg.Timeout.Std()
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &client{
		c:         &http.Client{Timeout: timeout},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
	}, nil
}

const (
	checkinEndpoint     = "/api/method/hrms.hr.doctype.employee_checkin.employee_checkin.add_log_based_on_employee_field"
	employeeEndpoint    = "/api/resource/Employee"
	fingerprintEndpoint = "/api/resource/Fingerprint Data"
	whoamiEndpoint      = "/api/method/frappe.auth.get_logged_user"

	hrTimestampLayout = "2006-01-02 15:04:05"
	hrDateLayout      = "2006-01-02"
)

func (c *client) do(ctx context.Context, method, endpoint string, query url.Values, body interface{}) (Response, error) {
	logger := zerolog.Ctx(ctx).With().Str("pkg", "hrapi").Logger()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("marshalling request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	requestURL := c.baseURL + endpoint
	request, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("making request: %w", err)
	}

	if query != nil {
		request.URL.RawQuery = query.Encode()
	}

	request.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.apiSecret))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", biosync.UserAgent())

	logger.Debug().Str("method", method).Str("endpoint", endpoint).Msg("sending request")

	response, err := c.c.Do(request)
	if err != nil {
		return Response{}, fmt.Errorf("proceeding request: %w", err)
	}

	responseData, err := io.ReadAll(response.Body)
	_ = response.Body.Close()
	if err != nil {
		return Response{}, fmt.Errorf("reading response body: %w", err)
	}

	logger.Debug().Int("status", response.StatusCode).Str("endpoint", endpoint).Msg("accepted response")

	return Response{Status: response.StatusCode, Body: string(responseData)}, nil
}

func (c *client) CreateCheckin(ctx context.Context, req CheckinRequest) (Response, error) {
	payload := map[string]interface{}{
		"employee_field_value": req.EmployeeFieldValue,
		"timestamp":            req.Timestamp.Format(hrTimestampLayout),
		"device_id":            req.DeviceID,
	}

	// unknown direction is sent as absent, not rejected
	if req.Direction == model.DirectionIn || req.Direction == model.DirectionOut {
		payload["log_type"] = string(req.Direction)
	}

	if req.Latitude != 0 || req.Longitude != 0 {
		payload["latitude"] = req.Latitude
		payload["longitude"] = req.Longitude
	}

	return c.do(ctx, http.MethodPost, checkinEndpoint, nil, payload)
}

func (c *client) GetChangedEmployees(ctx context.Context, since time.Time) ([]model.Employee, error) {
	filters := `[["status","=","Active"],["attendance_device_id","!=",""]]`
	if !since.IsZero() {
		filters = fmt.Sprintf(`[["status","=","Active"],["attendance_device_id","!=",""],["modified",">=","%s"]]`,
			since.Format(hrTimestampLayout))
	}

	employees, err := c.listEmployees(ctx, filters)
	if err != nil {
		return nil, err
	}

	for i := range employees {
		templates, err := c.GetFingerprintRecords(ctx, employees[i].ID)
		if err != nil {
			return nil, fmt.Errorf("fetching fingerprints for %s: %w", employees[i].ID, err)
		}

		employees[i].Templates = templates
	}

	return employees, nil
}

func (c *client) GetLeftEmployees(ctx context.Context) ([]model.Employee, error) {
	return c.listEmployees(ctx, `[["status","=","Left"],["attendance_device_id","!=",""]]`)
}

func (c *client) listEmployees(ctx context.Context, filters string) ([]model.Employee, error) {
	query := url.Values{}
	query.Set("filters", filters)
	query.Set("fields", `["name","employee","employee_name","attendance_device_id","status","relieving_date","modified"]`)
	query.Set("limit_page_length", "0")

	resp, err := c.do(ctx, http.MethodGet, employeeEndpoint, query, nil)
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		return nil, model.Error(fmt.Sprintf("listing employees: status %d: %s", resp.Status, resp.Body))
	}

	v, err := fastjson.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing employee list: %w", err)
	}

	items := v.GetArray("data")
	employees := make([]model.Employee, 0, len(items))
	for _, item := range items {
		emp := model.Employee{
			ID:           string(item.GetStringBytes("name")),
			Code:         string(item.GetStringBytes("employee")),
			Name:         string(item.GetStringBytes("employee_name")),
			DeviceUserID: string(item.GetStringBytes("attendance_device_id")),
			Status:       model.EmployeeStatus(item.GetStringBytes("status")),
		}

		if raw := string(item.GetStringBytes("relieving_date")); raw != "" {
			if ts, errParse := time.ParseInLocation(hrDateLayout, raw, time.Local); errParse == nil {
				emp.RelievingDate = ts
			}
		}

		if raw := string(item.GetStringBytes("modified")); raw != "" {
			if ts, errParse := parseModified(raw); errParse == nil {
				emp.ModifiedAt = ts
			}
		}

		employees = append(employees, emp)
	}

	return employees, nil
}

func parseModified(raw string) (time.Time, error) {
	// the HR side appends microseconds inconsistently
	for _, layout := range []string{hrTimestampLayout + ".000000", hrTimestampLayout} {
		if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp %q", raw)
}

func (c *client) GetFingerprintRecords(ctx context.Context, employeeID string) ([]model.FingerTemplate, error) {
	resp, err := c.do(ctx, http.MethodGet, employeeEndpoint+"/"+url.PathEscape(employeeID), nil, nil)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusNotFound {
		return nil, fmt.Errorf("fetching employee %s: %w", employeeID, model.ErrNotFound)
	}

	if !resp.OK() {
		return nil, model.Error(fmt.Sprintf("fetching employee %s: status %d: %s", employeeID, resp.Status, resp.Body))
	}

	v, err := fastjson.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing employee doc: %w", err)
	}

	items := v.GetArray("data", "custom_fingerprints")
	templates := make([]model.FingerTemplate, 0, len(items))
	for _, item := range items {
		blob := string(item.GetStringBytes("template_data"))
		if blob == "" {
			continue
		}

		templates = append(templates, model.FingerTemplate{
			RecordID:    string(item.GetStringBytes("name")),
			FingerIndex: item.GetInt("finger_index"),
			Blob:        blob,
		})
	}

	return templates, nil
}

func (c *client) DeleteFingerprintRecord(ctx context.Context, recordID string) error {
	resp, err := c.do(ctx, http.MethodDelete, fingerprintEndpoint+"/"+url.PathEscape(recordID), nil, nil)
	if err != nil {
		return err
	}

	if resp.Status == http.StatusNotFound {
		return fmt.Errorf("deleting fingerprint %s: %w", recordID, model.ErrNotFound)
	}

	if !resp.OK() {
		return model.Error(fmt.Sprintf("deleting fingerprint %s: status %d: %s", recordID, resp.Status, resp.Body))
	}

	return nil
}

func (c *client) TestConnection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, whoamiEndpoint, nil, nil)
	if err != nil {
		return err
	}

	if !resp.OK() {
		return model.Error(fmt.Sprintf("auth check failed: status %d", resp.Status))
	}

	return nil
}
