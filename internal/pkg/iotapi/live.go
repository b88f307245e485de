package iotapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/logging"
)

const (
	DefaultDownSampling = "1s"
	DefaultPageSize     = 20
	MaxPageSize         = 100

	apiPrefix = "/api/v1/"
)

var _ Platform = (*Live)(nil)

// Live talks to the platform over HTTP.  Authentication and correlation
// headers are the business of the client's transport.
type Live struct {
	baseURL string
	client  *http.Client
}

func NewLiveClient(baseURL string) *Live {
	return &Live{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
	}
}

func (c *Live) WithHTTPClient(hc *http.Client) *Live {
	nc := *c
	nc.client = hc
	return &nc
}

func (c *Live) BaseURL() string {
	return c.baseURL
}

// ClampPageSize forces n into [1, MaxPageSize], zero meaning the default
func ClampPageSize(n int) int {
	switch {
	case n == 0:
		return DefaultPageSize
	case n < 1:
		return 1
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func (c *Live) post(ctx context.Context, endpoint string, payload interface{}) (*Response, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s request", endpoint)
	}

	url := c.baseURL + apiPrefix + endpoint
	logging.Logger(ctx).Debugf("POST %s: %s", url, reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrapf(err, "building %s request", endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		var ae *apperror.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperror.Network(err, "%s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Network(err, "%s: reading response body: %v", endpoint, err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperror.New(apperror.CodeAuthFailed, "%s: HTTP %d %s", endpoint, resp.StatusCode, snippet(bodyBytes))
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, apperror.New(apperror.CodeNetworkError, "%s: HTTP %d %s", endpoint, resp.StatusCode, snippet(bodyBytes))
	}

	result := &Response{}
	if err := json.Unmarshal(bodyBytes, result); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, apperror.New(apperror.CodeAPIFailed, "%s: HTTP %d %s", endpoint, resp.StatusCode, snippet(bodyBytes))
		}
		return nil, apperror.Wrap(err, apperror.CodeAPIFailed, "%s: undecodable response: %s", endpoint, snippet(bodyBytes))
	}

	if !result.Success && (result.Code == http.StatusUnauthorized || result.Code == http.StatusForbidden) {
		return nil, apperror.New(apperror.CodeAuthFailed, "%s: %s", endpoint, result.ErrorMessage)
	}

	if !result.Success && result.ErrorMessage == "" && resp.StatusCode/100 != 2 {
		result.ErrorMessage = http.StatusText(resp.StatusCode)
	}

	return result, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func downSampling(s string) string {
	if s == "" {
		return DefaultDownSampling
	}
	return s
}

func (c *Live) QueryThingModel(ctx context.Context, productKey string) (*Response, error) {
	return c.post(ctx, "thing/queryThingModel", map[string]interface{}{
		"productKey": productKey,
	})
}

func (c *Live) QueryDevicePropertyData(ctx context.Context, q HistoryQuery) (*Response, error) {
	var identifier string
	if len(q.Identifiers) > 0 {
		identifier = q.Identifiers[0]
	}

	return c.post(ctx, "thing/queryDevicePropertyData", map[string]interface{}{
		"deviceName":   q.DeviceName,
		"identifier":   identifier,
		"startTime":    q.StartTime,
		"endTime":      q.EndTime,
		"downSampling": downSampling(q.DownSampling),
	})
}

func (c *Live) QueryDevicePropertiesData(ctx context.Context, q HistoryQuery) (*Response, error) {
	return c.post(ctx, "thing/queryDevicePropertiesData", map[string]interface{}{
		"deviceName":   q.DeviceName,
		"identifier":   q.Identifiers,
		"startTime":    q.StartTime,
		"endTime":      q.EndTime,
		"downSampling": downSampling(q.DownSampling),
	})
}

func (c *Live) QueryDeviceEventData(ctx context.Context, q HistoryQuery) (*Response, error) {
	var identifier string
	if len(q.Identifiers) > 0 {
		identifier = q.Identifiers[0]
	}

	return c.post(ctx, "thing/queryDeviceEventData", map[string]interface{}{
		"deviceName": q.DeviceName,
		"identifier": identifier,
		"startTime":  q.StartTime,
		"endTime":    q.EndTime,
	})
}

// QueryDeviceServiceData reads the invocation history of one service
func (c *Live) QueryDeviceServiceData(ctx context.Context, q HistoryQuery) (*Response, error) {
	var identifier string
	if len(q.Identifiers) > 0 {
		identifier = q.Identifiers[0]
	}

	return c.post(ctx, "thing/queryDeviceServiceData", map[string]interface{}{
		"deviceName": q.DeviceName,
		"identifier": identifier,
		"startTime":  q.StartTime,
		"endTime":    q.EndTime,
	})
}

func (c *Live) SetDevicesProperty(ctx context.Context, deviceName string, points []Point) (*Response, error) {
	return c.post(ctx, "thing/setDevicesProperty", map[string]interface{}{
		"deviceName": deviceName,
		"pointList":  points,
	})
}

func (c *Live) InvokeThingsService(ctx context.Context, deviceName string, pointList []Point, service map[string]interface{}) (*Response, error) {
	if pointList == nil {
		pointList = []Point{}
	}

	return c.post(ctx, "thing/invokeThingsService", map[string]interface{}{
		"deviceName":   deviceName,
		"pointList":    pointList,
		"servicePoint": service,
	})
}

func (c *Live) GetDeviceStatus(ctx context.Context, deviceName string) (*Response, error) {
	return c.post(ctx, "quickdevice/status", map[string]interface{}{
		"deviceName": deviceName,
	})
}

func (c *Live) QueryDevicesByProduct(ctx context.Context, q DeviceQuery) (*Response, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}

	return c.post(ctx, "quickdevice/queryDevice", map[string]interface{}{
		"productKey": q.ProductKey,
		"page":       page,
		"pageSize":   ClampPageSize(q.PageSize),
	})
}

func (c *Live) QueryAlarmList(ctx context.Context, q AlarmQuery) (*Response, error) {
	return c.post(ctx, "alarm/queryAlarmListAll", q)
}

func (c *Live) QueryProductList(ctx context.Context, q ProductQuery) (*Response, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	q.PageSize = ClampPageSize(q.PageSize)

	return c.post(ctx, "product/queryListAll", q)
}
