package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/config"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
	"github.com/jake-scott/iotctl/internal/pkg/logging"
	"github.com/jake-scott/iotctl/internal/pkg/modelcache"
	"github.com/jake-scott/iotctl/internal/pkg/policy"
	"github.com/jake-scott/iotctl/internal/pkg/resilience"
	"github.com/jake-scott/iotctl/internal/pkg/timewindow"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const thingModel = `{
	"properties": [
		{"identifier": "power", "name": "Power Switch", "access_mode": "rw", "data_type": {"type": "bool"}},
		{"identifier": "temperature", "name": "Temperature", "access_mode": "r", "data_type": {"type": "float"}}
	],
	"events": [{"identifier": "fault", "name": "Fault"}],
	"actions": [{"identifier": "reboot", "name": "Reboot"}]
}`

type fakePlatform struct {
	iotapi.Platform

	mu    sync.Mutex
	calls map[string]int

	lastAlarm   iotapi.AlarmQuery
	lastProduct iotapi.ProductQuery

	status    func(n int) (*iotapi.Response, error)
	devices   func(q iotapi.DeviceQuery) (*iotapi.Response, error)
	setProps  func(points []iotapi.Point) (*iotapi.Response, error)
	history   func(q iotapi.HistoryQuery) (*iotapi.Response, error)
	lastPoint []iotapi.Point
}

func newFake() *fakePlatform {
	return &fakePlatform{calls: map[string]int{}}
}

func (f *fakePlatform) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.calls[op]
}

func (f *fakePlatform) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakePlatform) QueryThingModel(ctx context.Context, productKey string) (*iotapi.Response, error) {
	f.count("model")
	return &iotapi.Response{Success: true, Data: json.RawMessage(thingModel)}, nil
}

func (f *fakePlatform) GetDeviceStatus(ctx context.Context, deviceName string) (*iotapi.Response, error) {
	return f.status(f.count("status"))
}

func (f *fakePlatform) QueryDevicesByProduct(ctx context.Context, q iotapi.DeviceQuery) (*iotapi.Response, error) {
	f.count("devices")
	return f.devices(q)
}

func (f *fakePlatform) SetDevicesProperty(ctx context.Context, deviceName string, points []iotapi.Point) (*iotapi.Response, error) {
	f.count("set")
	f.lastPoint = points
	return f.setProps(points)
}

func (f *fakePlatform) InvokeThingsService(ctx context.Context, deviceName string, pointList []iotapi.Point, service map[string]interface{}) (*iotapi.Response, error) {
	f.count("invoke")
	return &iotapi.Response{Success: true}, nil
}

func (f *fakePlatform) QueryDevicePropertyData(ctx context.Context, q iotapi.HistoryQuery) (*iotapi.Response, error) {
	f.count("propertyData")
	return f.history(q)
}

func (f *fakePlatform) QueryDevicePropertiesData(ctx context.Context, q iotapi.HistoryQuery) (*iotapi.Response, error) {
	f.count("propertiesData")
	return f.history(q)
}

func (f *fakePlatform) QueryDeviceEventData(ctx context.Context, q iotapi.HistoryQuery) (*iotapi.Response, error) {
	f.count("eventData")
	return f.history(q)
}

func (f *fakePlatform) QueryAlarmList(ctx context.Context, q iotapi.AlarmQuery) (*iotapi.Response, error) {
	f.count("alarms")
	f.lastAlarm = q
	return ok(`{"list":[]}`), nil
}

func (f *fakePlatform) QueryProductList(ctx context.Context, q iotapi.ProductQuery) (*iotapi.Response, error) {
	f.count("products")
	f.lastProduct = q
	return ok(`{"list":[{"productKey":"pk"}]}`), nil
}

func ok(data string) *iotapi.Response {
	return &iotapi.Response{Success: true, Data: json.RawMessage(data)}
}

func testSettings() config.Settings {
	return config.Settings{
		Resilience: resilience.Config{
			ReadTimeout: time.Second,
			RetryCount:  2,
			RetryDelay:  100 * time.Millisecond,
		},
		Cache:  config.Cache{Enabled: false, TTL: time.Minute},
		Policy: policy.DefaultPolicy(),
	}
}

type harness struct {
	out    bytes.Buffer
	sleeps []time.Duration
	built  int
}

func (h *harness) dispatcher(s config.Settings, p iotapi.Platform) *Dispatcher {
	return New(s, &h.out).
		WithClock(func() time.Time { return epoch }).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}).
		WithPlatform(func(ctx context.Context, s config.Settings) (iotapi.Platform, error) {
			h.built++
			return p, nil
		}).
		WithStore(func(s config.Settings, logger *logrus.Entry) (modelcache.Store, error) {
			return modelcache.OpenBadgerStore("", nil)
		})
}

func (h *harness) envelope(t *testing.T) map[string]interface{} {
	t.Helper()
	line := h.out.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Equal(t, 1, strings.Count(line, "\n"), "exactly one line of output")

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &env))
	return env
}

func run(t *testing.T, s config.Settings, p iotapi.Platform, req Request) (int, map[string]interface{}, *harness) {
	t.Helper()
	h := &harness{}
	code := h.dispatcher(s, p).WithUsage("usage: iotctl --action <name>").Run(context.Background(), req)
	return code, h.envelope(t), h
}

func TestMain(m *testing.M) {
	logging.SetAuditOutput(nil)
	logrus.SetLevel(logrus.PanicLevel)
	m.Run()
}

func TestMissingAndInvalidAction(t *testing.T) {
	code, env, _ := run(t, testSettings(), newFake(), Request{})
	assert.Equal(t, 1, code)
	assert.Equal(t, false, env["ok"])
	assert.Equal(t, apperror.CodeMissingAction, env["errorCode"])
	assert.Equal(t, "usage: iotctl --action <name>", env["usage"])
	assert.NotEmpty(t, env["requestId"])

	code, env, _ = run(t, testSettings(), newFake(), Request{Action: "reboot-everything"})
	assert.Equal(t, 1, code)
	assert.Equal(t, apperror.CodeInvalidAction, env["errorCode"])
	assert.Equal(t, string(apperror.TypeValidation), env["errorType"])
	assert.Nil(t, env["usage"])
}

func TestValidationBeforeRemoteCall(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"missing deviceName", Request{Action: "device-status"}, apperror.CodeMissingArg},
		{"missing productKey", Request{Action: "list-devices"}, apperror.CodeMissingArg},
		{"bad status", Request{Action: "list-devices", ProductKey: "pk", Status: "asleep"}, apperror.CodeInvalidArg},
		{"bad page", Request{Action: "list-devices", ProductKey: "pk", Page: "x"}, apperror.CodeInvalidArg},
		{"both identifier forms", Request{Action: "query-history", DeviceName: "d1", Identifier: "a", Identifiers: "b"}, apperror.CodeInvalidArg},
		{"no identifiers", Request{Action: "query-history", DeviceName: "d1"}, apperror.CodeMissingArg},
		{"half a window", Request{Action: "query-prop", DeviceName: "d1", Identifier: "a", StartTime: "2024-06-01 00:00:00"}, apperror.CodeInvalidArg},
		{"bad aggregate mode", Request{Action: "query-history", DeviceName: "d1", Identifier: "a", AggregateModes: "median"}, apperror.CodeInvalidArg},
		{"points not json", Request{Action: "set-props", DeviceName: "d1", Points: "[{"}, apperror.CodeInvalidJSON},
		{"points not array", Request{Action: "set-props", DeviceName: "d1", Points: `{"identifier":"power","value":1}`}, apperror.CodeInvalidArg},
		{"points empty", Request{Action: "set-props", DeviceName: "d1", Points: `[]`}, apperror.CodeInvalidArg},
		{"points missing", Request{Action: "set-props", DeviceName: "d1"}, apperror.CodeMissingArg},
		{"point without identifier", Request{Action: "set-props", DeviceName: "d1", Points: `[{"value":1}]`}, apperror.CodeMissingArg},
		{"servicePoint missing", Request{Action: "call-service", DeviceName: "d1"}, apperror.CodeMissingArg},
		{"servicePoint not object", Request{Action: "call-service", DeviceName: "d1", ServicePoint: `[1]`}, apperror.CodeInvalidArg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFake()
			code, env, h := run(t, testSettings(), p, tt.req)
			assert.Equal(t, 1, code)
			assert.Equal(t, tt.code, env["errorCode"], env["message"])
			assert.Equal(t, 0, h.built, "platform must not be built")
		})
	}
}

func TestReadRetriesNetworkFailures(t *testing.T) {
	p := newFake()
	p.status = func(n int) (*iotapi.Response, error) {
		if n < 3 {
			return nil, apperror.Network(errors.New("connection reset"), "quickdevice/status")
		}
		return ok(`{"status":"ONLINE"}`), nil
	}

	var audit bytes.Buffer
	logging.SetAuditOutput(&audit)
	defer logging.SetAuditOutput(nil)

	code, env, h := run(t, testSettings(), p, Request{Action: "device-status", DeviceName: "d1"})
	assert.Equal(t, 0, code)
	assert.Equal(t, true, env["ok"])
	assert.Equal(t, 3, p.called("status"))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.sleeps)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(audit.Bytes(), &rec))
	assert.Equal(t, "audit", rec["entrytype"])
	assert.Equal(t, env["requestId"], rec["requestId"])
	assert.EqualValues(t, 2, rec["retryCount"])

	retries, _ := rec["retries"].([]interface{})
	require.Len(t, retries, 2)
	assert.EqualValues(t, 100, retries[0].(map[string]interface{})["delayMs"])
	assert.EqualValues(t, 200, retries[1].(map[string]interface{})["delayMs"])
}

func TestReadRetriesExhausted(t *testing.T) {
	p := newFake()
	p.status = func(n int) (*iotapi.Response, error) {
		return nil, apperror.Network(errors.New("connection refused"), "quickdevice/status")
	}

	code, env, _ := run(t, testSettings(), p, Request{Action: "device-status", DeviceName: "d1"})
	assert.Equal(t, 1, code)
	assert.Equal(t, apperror.CodeNetworkError, env["errorCode"])
	assert.Equal(t, 3, p.called("status"))
}

func TestPlatformFailureNotRetried(t *testing.T) {
	p := newFake()
	p.status = func(n int) (*iotapi.Response, error) {
		return &iotapi.Response{Success: false, ErrorMessage: "device not found"}, nil
	}

	code, env, _ := run(t, testSettings(), p, Request{Action: "device-status", DeviceName: "d1"})
	assert.Equal(t, 1, code)
	assert.Equal(t, apperror.CodeAPIFailed, env["errorCode"])
	assert.Equal(t, "device not found", env["message"])
	assert.Equal(t, 1, p.called("status"))
}

func TestWriteRunsOnce(t *testing.T) {
	p := newFake()
	p.setProps = func(points []iotapi.Point) (*iotapi.Response, error) {
		return nil, apperror.Network(errors.New("connection reset"), "thing/setDevicesProperty")
	}

	code, env, h := run(t, testSettings(), p, Request{
		Action:     "set-props",
		DeviceName: "d1",
		Points:     `[{"identifier":"power","value":1}]`,
	})
	assert.Equal(t, 1, code)
	assert.Equal(t, apperror.CodeNetworkError, env["errorCode"])
	assert.Equal(t, 1, p.called("set"))
	assert.Empty(t, h.sleeps)
}

func TestSetPropsKeepsNumbers(t *testing.T) {
	p := newFake()
	p.setProps = func(points []iotapi.Point) (*iotapi.Response, error) {
		return ok(`{"accepted":true}`), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{
		Action:     "set-props",
		DeviceName: "d1",
		Points:     `[{"identifier":"target","value":21.50}]`,
	})
	assert.Equal(t, 0, code)
	assert.Equal(t, true, env["success"])
	require.Len(t, p.lastPoint, 1)
	assert.Equal(t, json.Number("21.50"), p.lastPoint[0].Value)
}

func TestDryRunMakesNoRemoteCall(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		data string
	}{
		{
			"set-props",
			Request{Action: "set-props", DeviceName: "d1", Points: `[{"identifier":"power","value":1}]`, DryRun: true},
			`{"points":[{"identifier":"power","value":1}]}`,
		},
		{
			"call-service",
			Request{Action: "call-service", DeviceName: "d1", ServicePoint: `{"identifier":"reboot"}`, DryRun: true},
			`{"pointList":[],"servicePoint":{"identifier":"reboot"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFake()
			code, env, h := run(t, testSettings(), p, tt.req)
			assert.Equal(t, 0, code)
			assert.Equal(t, true, env["ok"])
			assert.Equal(t, true, env["success"])
			assert.Equal(t, true, env["dryRun"])
			assert.Equal(t, 0, h.built)
			assert.Equal(t, 0, p.called("set")+p.called("invoke"))

			data, err := json.Marshal(env["data"])
			require.NoError(t, err)
			assert.JSONEq(t, tt.data, string(data))
		})
	}
}

func TestWritePolicy(t *testing.T) {
	write := Request{Action: "set-props", DeviceName: "d1", Points: `[{"identifier":"power","value":1}]`, DryRun: true}
	offset := 0

	tests := []struct {
		name   string
		adjust func(s *config.Settings)
		req    func(r Request) Request
		code   string
	}{
		{
			"writes disabled",
			func(s *config.Settings) { s.Policy.AllowWrite = false },
			nil,
			apperror.CodeWriteDisabled,
		},
		{
			"night block",
			func(s *config.Settings) {
				s.Policy.NightBlock = true
				s.Policy.NightStart = 11 * 60
				s.Policy.NightEnd = 13 * 60
				s.Policy.TZOffsetMinutes = &offset
			},
			nil,
			apperror.CodeWriteNightBlocked,
		},
		{
			"sensitive without confirm",
			func(s *config.Settings) { s.Policy.Sensitive = map[string]struct{}{"set-props": {}} },
			nil,
			apperror.CodeConfirmRequired,
		},
		{
			"identifier not whitelisted",
			func(s *config.Settings) { s.WritableIdentifiers = []string{"brightness"} },
			nil,
			apperror.CodeWriteGuardBlocked,
		},
		{
			"sensitive with confirm",
			func(s *config.Settings) { s.Policy.Sensitive = map[string]struct{}{"set-props": {}} },
			func(r Request) Request { r.Confirm = true; return r },
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.adjust(&s)
			req := write
			if tt.req != nil {
				req = tt.req(req)
			}

			code, env, _ := run(t, s, newFake(), req)
			if tt.code == "" {
				assert.Equal(t, 0, code)
				assert.Equal(t, true, env["ok"])
				return
			}
			assert.Equal(t, 1, code)
			assert.Equal(t, tt.code, env["errorCode"])
			assert.Equal(t, string(apperror.TypeValidation), env["errorType"])
		})
	}
}

func TestReadsIgnoreWritePolicy(t *testing.T) {
	s := testSettings()
	s.Policy.AllowWrite = false

	p := newFake()
	p.status = func(n int) (*iotapi.Response, error) { return ok(`{"status":"ONLINE"}`), nil }

	code, _, _ := run(t, s, p, Request{Action: "device-status", DeviceName: "d1"})
	assert.Equal(t, 0, code)
}

func devicePages(total int) func(q iotapi.DeviceQuery) (*iotapi.Response, error) {
	return func(q iotapi.DeviceQuery) (*iotapi.Response, error) {
		var items []string
		for i := (q.Page - 1) * q.PageSize; i < total && i < q.Page*q.PageSize; i++ {
			items = append(items, fmt.Sprintf(`{"deviceName":"dev-%02d","status":"ONLINE"}`, i))
		}
		return ok(fmt.Sprintf(`{"total":%d,"list":[%s]}`, total, strings.Join(items, ","))), nil
	}
}

func TestListDevicesFetchAll(t *testing.T) {
	tests := []struct {
		page    string
		count   int
		hasMore bool
	}{
		{"1", 20, true},
		{"2", 20, true},
		{"3", 5, false},
		{"4", 0, false},
	}

	for _, tt := range tests {
		t.Run("page "+tt.page, func(t *testing.T) {
			p := newFake()
			p.devices = devicePages(45)

			code, env, _ := run(t, testSettings(), p, Request{Action: "list-devices", ProductKey: "pk", FetchAll: true, Page: tt.page})
			require.Equal(t, 0, code)
			assert.Equal(t, 1, p.called("devices"))

			data := env["data"].(map[string]interface{})
			assert.Len(t, data["items"], tt.count)
			assert.Equal(t, tt.hasMore, data["hasMore"])
			assert.EqualValues(t, 45, data["total"])
			assert.Equal(t, "local", data["pagination"])
		})
	}
}

func TestListDevicesServerIgnoresPaging(t *testing.T) {
	p := newFake()
	p.devices = func(q iotapi.DeviceQuery) (*iotapi.Response, error) {
		return devicePages(45)(iotapi.DeviceQuery{Page: 1, PageSize: 100})
	}

	code, env, _ := run(t, testSettings(), p, Request{Action: "list-devices", ProductKey: "pk", Page: "2"})
	require.Equal(t, 0, code)

	data := env["data"].(map[string]interface{})
	assert.Len(t, data["items"], 20)
	assert.Equal(t, true, data["hasMore"])
	assert.Equal(t, "local", data["pagination"])
	assert.NotEmpty(t, data["note"])
	first := data["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "dev-20", first["deviceName"])
}

func TestListDevicesFilters(t *testing.T) {
	p := newFake()
	p.devices = func(q iotapi.DeviceQuery) (*iotapi.Response, error) {
		return ok(`[{"deviceName":"Kitchen-1","status":"ONLINE"},{"deviceName":"hall","nickName":"kitchen lamp","status":"OFFLINE"},{"deviceName":"garage","status":"ONLINE"}]`), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{Action: "list-devices", ProductKey: "pk", Keyword: "KITCHEN", Status: "online"})
	require.Equal(t, 0, code)

	data := env["data"].(map[string]interface{})
	require.Len(t, data["items"], 1)
	assert.Equal(t, "Kitchen-1", data["items"].([]interface{})[0].(map[string]interface{})["deviceName"])
	assert.Equal(t, "ONLINE", env["status"])
}

func TestListDevicesServerPageFilterCounts(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		filtered interface{}
		note     bool
	}{
		{name: "unfiltered", status: ""},
		{name: "status filter", status: "offline", filtered: float64(0), note: true},
		{name: "status filter all match", status: "online", filtered: float64(20), note: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFake()
			p.devices = devicePages(45)

			code, env, _ := run(t, testSettings(), p, Request{Action: "list-devices", ProductKey: "pk", Status: tt.status})
			require.Equal(t, 0, code)

			data := env["data"].(map[string]interface{})
			assert.Equal(t, "server", data["pagination"])
			assert.EqualValues(t, 45, data["total"])
			assert.Equal(t, true, data["hasMore"])
			assert.Equal(t, tt.filtered, data["filtered"])
			if tt.note {
				assert.Contains(t, data["note"], "unfiltered")
			} else {
				assert.Nil(t, data["note"])
			}
		})
	}
}

func TestDeviceStatusOfflineDuration(t *testing.T) {
	p := newFake()
	ts := epoch.Add(-90*time.Second).UnixNano() / int64(time.Millisecond)
	p.status = func(n int) (*iotapi.Response, error) {
		return ok(fmt.Sprintf(`{"status":"OFFLINE","timestamp":%d}`, ts)), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{Action: "device-status", DeviceName: "d1"})
	require.Equal(t, 0, code)
	assert.EqualValues(t, 90000, env["data"].(map[string]interface{})["offlineForMs"])
}

func TestQueryHistory(t *testing.T) {
	p := newFake()
	var got iotapi.HistoryQuery
	p.history = func(q iotapi.HistoryQuery) (*iotapi.Response, error) {
		got = q
		return ok(`[{"point":{"identifier":"temperature","name":"Temperature"},"dataList":[
			{"time":1,"value":"20.5"},{"time":2,"value":19},{"time":3,"value":"n/a"},{"time":4,"value":22}
		]}]`), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{
		Action:         "query-history",
		DeviceName:     "d1",
		Identifiers:    "temperature, temperature",
		Range:          "last_1h",
		Limit:          "2",
		AggregateModes: "min,max,count",
	})
	require.Equal(t, 0, code)
	assert.Equal(t, 1, p.called("propertyData"))
	assert.Equal(t, []string{"temperature"}, got.Identifiers)
	assert.Equal(t, epoch.Add(-time.Hour).In(time.Local).Format(timewindow.Layout), got.StartTime)
	assert.Equal(t, epoch.In(time.Local).Format(timewindow.Layout), got.EndTime)
	assert.Equal(t, iotapi.DefaultDownSampling, got.DownSampling)

	data := env["data"].(map[string]interface{})
	assert.Equal(t, true, data["truncated"])
	assert.EqualValues(t, 4, data["summary"].(map[string]interface{})["totalPoints"])
	assert.EqualValues(t, 2, data["returned"].(map[string]interface{})["totalPoints"])

	aggs := data["aggregates"].([]interface{})
	require.Len(t, aggs, 1)
	agg := aggs[0].(map[string]interface{})
	assert.Equal(t, "temperature", agg["identifier"])
	assert.EqualValues(t, 4, agg["count"])
	assert.EqualValues(t, 19, agg["min"].(map[string]interface{})["value"])
	assert.EqualValues(t, 22, agg["max"].(map[string]interface{})["value"])
}

func TestQueryHistoryManyIdentifiers(t *testing.T) {
	p := newFake()
	p.history = func(q iotapi.HistoryQuery) (*iotapi.Response, error) {
		return ok(`{}`), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{
		Action:         "query-history",
		DeviceName:     "d1",
		Identifiers:    `["a","b"]`,
		AggregateModes: "none",
	})
	require.Equal(t, 0, code)
	assert.Equal(t, 1, p.called("propertiesData"))
	assert.NotContains(t, env["data"], "aggregates")
}

func TestQueryProp(t *testing.T) {
	p := newFake()
	var got iotapi.HistoryQuery
	p.history = func(q iotapi.HistoryQuery) (*iotapi.Response, error) {
		got = q
		return ok(`[{"time":1,"value":2}]`), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{
		Action:       "query-prop",
		DeviceName:   "d1",
		Identifier:   "power",
		StartTime:    "2024-06-01 00:00:00",
		EndTime:      "2024-06-01 01:00:00",
		DownSampling: "1m",
	})
	require.Equal(t, 0, code)
	assert.Equal(t, []string{"power"}, got.Identifiers)
	assert.Equal(t, "1m", got.DownSampling)
	assert.Equal(t, "explicit", env["window"].(map[string]interface{})["source"])
	assert.Len(t, env["data"], 1)
}

func TestQueryPropsIdentifierForms(t *testing.T) {
	tests := []struct {
		name        string
		identifier  string
		identifiers string
		want        []string
		errorCode   string
	}{
		{name: "single identifier", identifier: "temperature", want: []string{"temperature"}},
		{name: "identifier list", identifiers: "temperature,power", want: []string{"temperature", "power"}},
		{name: "both forms", identifier: "temperature", identifiers: "power", errorCode: apperror.CodeInvalidArg},
		{name: "neither form", errorCode: apperror.CodeMissingArg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFake()
			var got iotapi.HistoryQuery
			p.history = func(q iotapi.HistoryQuery) (*iotapi.Response, error) {
				got = q
				return ok(`{}`), nil
			}

			code, env, _ := run(t, testSettings(), p, Request{
				Action:      "query-props",
				DeviceName:  "d1",
				Identifier:  tt.identifier,
				Identifiers: tt.identifiers,
			})

			if tt.errorCode != "" {
				assert.Equal(t, 1, code)
				assert.Equal(t, tt.errorCode, env["errorCode"])
				assert.Equal(t, 0, p.called("propertiesData"))
				return
			}
			require.Equal(t, 0, code)
			assert.Equal(t, 1, p.called("propertiesData"))
			assert.Equal(t, tt.want, got.Identifiers)
		})
	}
}

func TestQueryEventsTrims(t *testing.T) {
	p := newFake()
	p.history = func(q iotapi.HistoryQuery) (*iotapi.Response, error) {
		return ok(`[{"time":1,"value":"a"},{"time":2,"value":"b"},{"time":3,"value":"c"}]`), nil
	}

	code, env, _ := run(t, testSettings(), p, Request{Action: "query-events", DeviceName: "d1", Identifier: "fault", Limit: "1"})
	require.Equal(t, 0, code)
	assert.Equal(t, 1, p.called("eventData"))
	assert.Equal(t, true, env["truncated"])
	assert.EqualValues(t, 3, env["summary"].(map[string]interface{})["totalPoints"])

	data := env["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, "c", data[0].(map[string]interface{})["value"])
}

func TestAlarmsWindow(t *testing.T) {
	p := newFake()
	code, env, _ := run(t, testSettings(), p, Request{Action: "alarms", Status: "open", Range: "last_7d"})
	require.Equal(t, 0, code)
	assert.Equal(t, "open", p.lastAlarm.Status)
	assert.Equal(t, "", p.lastAlarm.DeviceName)
	assert.Equal(t, epoch.Add(-7*24*time.Hour).In(time.Local).Format(timewindow.Layout), p.lastAlarm.StartTime)
	assert.Equal(t, "open", env["params"].(map[string]interface{})["status"])
}

func TestListProductsClampsPageSize(t *testing.T) {
	p := newFake()
	code, env, _ := run(t, testSettings(), p, Request{Action: "list-products", PageSize: "500", ProductName: "lamp"})
	require.Equal(t, 0, code)
	assert.Equal(t, iotapi.ProductQuery{ProductName: "lamp", Page: 1, PageSize: iotapi.MaxPageSize}, p.lastProduct)
	assert.Equal(t, "list-products", env["action"])
}

func TestDiscoverAndIntent(t *testing.T) {
	s := testSettings()
	s.Cache.Enabled = true

	p := newFake()
	code, env, _ := run(t, s, p, Request{Action: "discover", ProductKey: "pk"})
	require.Equal(t, 0, code)
	counts := env["data"].(map[string]interface{})["counts"].(map[string]interface{})
	assert.EqualValues(t, 2, counts["properties"])
	assert.Equal(t, "remote", env["cache"].(map[string]interface{})["source"])

	code, env, _ = run(t, s, p, Request{Action: "resolve-intent", ProductKey: "pk", Query: "power switch", WritableOnly: true})
	require.Equal(t, 0, code)
	data := env["data"].(map[string]interface{})
	require.NotZero(t, data["count"])
	first := data["candidates"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "power", first["identifier"])
}

func TestListWritableIdentifiers(t *testing.T) {
	s := testSettings()
	s.WritableIdentifiers = []string{"power"}

	code, env, _ := run(t, s, newFake(), Request{Action: "list-writable-identifiers", ProductKey: "pk"})
	require.Equal(t, 0, code)
	assert.Equal(t, true, env["whitelistEnabled"])

	data := env["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["count"])
	assert.EqualValues(t, 1, data["allowedCount"])
}

func TestPanicBecomesUnexpectedError(t *testing.T) {
	p := newFake()
	p.setProps = func(points []iotapi.Point) (*iotapi.Response, error) {
		panic("boom")
	}

	code, env, _ := run(t, testSettings(), p, Request{
		Action:     "set-props",
		DeviceName: "d1",
		Points:     `[{"identifier":"power","value":true}]`,
	})
	assert.Equal(t, 1, code)
	assert.Equal(t, apperror.CodeUnexpected, env["errorCode"])
	assert.Equal(t, "set-props", env["action"])
}

func TestPlatformConstructionFailure(t *testing.T) {
	h := &harness{}
	d := h.dispatcher(testSettings(), nil).WithPlatform(func(ctx context.Context, s config.Settings) (iotapi.Platform, error) {
		return nil, apperror.New(apperror.CodeMissingEnv, "IOT_BASE_URL is not configured")
	})

	code := d.Run(context.Background(), Request{Action: "device-status", DeviceName: "d1"})
	assert.Equal(t, 1, code)
	env := h.envelope(t)
	assert.Equal(t, apperror.CodeMissingEnv, env["errorCode"])
}

func TestLivePlatformNeedsBaseURL(t *testing.T) {
	_, err := LivePlatform(context.Background(), testSettings())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeMissingEnv, apperror.Normalize(err).Code)
}

func TestParseIdentifiers(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
		code string
	}{
		{"", nil, ""},
		{"a,b,a", []string{"a", "b"}, ""},
		{" a , ,b ", []string{"a", "b"}, ""},
		{`["b","a","b"]`, []string{"b", "a"}, ""},
		{`["a",`, nil, apperror.CodeInvalidJSON},
	}

	for _, tt := range tests {
		got, err := ParseIdentifiers(tt.raw)
		if tt.code != "" {
			require.Error(t, err, tt.raw)
			assert.Equal(t, tt.code, apperror.Normalize(err).Code)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestEnvelopeFinalizesOnce(t *testing.T) {
	env := NewEnvelope("rid", func() time.Time { return epoch })
	assert.True(t, env.Message("hello"))
	assert.False(t, env.Fail(errors.New("late"), nil))

	var out bytes.Buffer
	assert.Equal(t, 0, env.Write(&out))
	assert.JSONEq(t, `{"ok":true,"requestId":"rid","elapsedMs":0,"message":"hello"}`, out.String())

	env = NewEnvelope("rid", func() time.Time { return epoch })
	out.Reset()
	assert.Equal(t, 1, env.Write(&out))
	assert.Contains(t, out.String(), apperror.CodeUnexpected)
}
