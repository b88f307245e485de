package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/jake-scott/iotctl/internal/pkg/history"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
	"github.com/jake-scott/iotctl/internal/pkg/timewindow"
)

// DefaultHistoryLimit bounds the points kept per series
const DefaultHistoryLimit = 200

func resolveWindow(req Request, now time.Time) (timewindow.Window, error) {
	return timewindow.Resolve(timewindow.Input{
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Range:     req.Range,
	}, now)
}

type seriesAggregate struct {
	Identifier *string `json:"identifier"`
	Name       *string `json:"name"`
	history.Aggregate
}

type historyInput struct {
	DeviceName  string   `json:"deviceName" validate:"required"`
	Identifiers []string `json:"identifiers" validate:"required,min=1"`
}

// queryHistory fetches property history for one or more identifiers,
// normalizes it, trims it and aggregates each series
type queryHistory struct {
	in           historyInput
	window       timewindow.Window
	downSampling string
	limit        int
	modes        []history.Mode
}

func (w *queryHistory) Validate(req Request, now time.Time) error {
	w.in.DeviceName = strings.TrimSpace(req.DeviceName)
	ids, err := identifierList(req)
	if err != nil {
		return err
	}
	w.in.Identifiers = ids
	if err := check(&w.in); err != nil {
		return err
	}

	if w.window, err = resolveWindow(req, now); err != nil {
		return err
	}
	if w.limit, err = intArg(req.Limit, "limit", DefaultHistoryLimit); err != nil {
		return err
	}
	if w.modes, err = history.ParseModes(req.AggregateModes); err != nil {
		return err
	}

	w.downSampling = strings.TrimSpace(req.DownSampling)
	if w.downSampling == "" {
		w.downSampling = iotapi.DefaultDownSampling
	}
	return nil
}

func (w *queryHistory) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	q := iotapi.HistoryQuery{
		DeviceName:   w.in.DeviceName,
		Identifiers:  w.in.Identifiers,
		StartTime:    w.window.StartTime,
		EndTime:      w.window.EndTime,
		DownSampling: w.downSampling,
	}

	var resp *iotapi.Response
	var err error
	if len(q.Identifiers) == 1 {
		resp, err = rt.read(ctx, "queryDevicePropertyData", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
			return p.QueryDevicePropertyData(ctx, q)
		})
	} else {
		resp, err = rt.read(ctx, "queryDevicePropertiesData", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
			return p.QueryDevicePropertiesData(ctx, q)
		})
	}
	if err != nil {
		return nil, err
	}

	r := newResult(ActionQueryHistory).
		with("deviceName", w.in.DeviceName).
		with("identifiers", w.in.Identifiers).
		with("window", w.window).
		with("downSampling", w.downSampling)
	if !resp.Success {
		return r.fromResponse(resp)
	}

	data, err := decodeData(resp)
	if err != nil {
		return nil, err
	}

	received := history.Summarize(data)
	trimmed := history.Trim(data, w.limit)
	returned := history.Summarize(trimmed)

	out := map[string]interface{}{
		"shape":          history.Detect(data).String(),
		"limit":          w.limit,
		"aggregateModes": w.modes,
		"summary":        received,
		"returned":       returned,
		"truncated":      returned.TotalPoints < received.TotalPoints,
		"series":         history.Normalize(trimmed),
	}

	// aggregates cover every point received, not just the retained tail
	if len(w.modes) > 0 {
		aggregates := []seriesAggregate{}
		for _, s := range history.Normalize(data) {
			aggregates = append(aggregates, seriesAggregate{
				Identifier: s.Identifier,
				Name:       s.Name,
				Aggregate:  history.Compute(s, w.modes),
			})
		}
		out["aggregates"] = aggregates
	}

	r.Data = out
	r.Success = true
	return r, nil
}

type propInput struct {
	DeviceName string `json:"deviceName" validate:"required"`
	Identifier string `json:"identifier" validate:"required"`
}

// queryProp returns the raw history of one property
type queryProp struct {
	in           propInput
	window       timewindow.Window
	downSampling string
}

func (w *queryProp) Validate(req Request, now time.Time) error {
	w.in = propInput{
		DeviceName: strings.TrimSpace(req.DeviceName),
		Identifier: strings.TrimSpace(req.Identifier),
	}
	if err := check(&w.in); err != nil {
		return err
	}

	var err error
	w.window, err = resolveWindow(req, now)
	w.downSampling = strings.TrimSpace(req.DownSampling)
	return err
}

func (w *queryProp) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	q := iotapi.HistoryQuery{
		DeviceName:   w.in.DeviceName,
		Identifiers:  []string{w.in.Identifier},
		StartTime:    w.window.StartTime,
		EndTime:      w.window.EndTime,
		DownSampling: w.downSampling,
	}

	resp, err := rt.read(ctx, "queryDevicePropertyData", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.QueryDevicePropertyData(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	return newResult(ActionQueryProp).
		with("deviceName", w.in.DeviceName).
		with("identifier", w.in.Identifier).
		with("window", w.window).
		fromResponse(resp)
}

// queryProps returns the raw history of several properties
type queryProps struct {
	in           historyInput
	window       timewindow.Window
	downSampling string
}

func (w *queryProps) Validate(req Request, now time.Time) error {
	ids, err := identifierList(req)
	if err != nil {
		return err
	}

	w.in = historyInput{DeviceName: strings.TrimSpace(req.DeviceName), Identifiers: ids}
	if err := check(&w.in); err != nil {
		return err
	}

	w.window, err = resolveWindow(req, now)
	w.downSampling = strings.TrimSpace(req.DownSampling)
	return err
}

func (w *queryProps) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	q := iotapi.HistoryQuery{
		DeviceName:   w.in.DeviceName,
		Identifiers:  w.in.Identifiers,
		StartTime:    w.window.StartTime,
		EndTime:      w.window.EndTime,
		DownSampling: w.downSampling,
	}

	resp, err := rt.read(ctx, "queryDevicePropertiesData", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.QueryDevicePropertiesData(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	return newResult(ActionQueryProps).
		with("deviceName", w.in.DeviceName).
		with("identifiers", w.in.Identifiers).
		with("window", w.window).
		fromResponse(resp)
}

// queryEvents returns an event's history, trimmed to the most recent
type queryEvents struct {
	in     propInput
	window timewindow.Window
	limit  int
}

func (w *queryEvents) Validate(req Request, now time.Time) error {
	w.in = propInput{
		DeviceName: strings.TrimSpace(req.DeviceName),
		Identifier: strings.TrimSpace(req.Identifier),
	}
	if err := check(&w.in); err != nil {
		return err
	}

	var err error
	if w.window, err = resolveWindow(req, now); err != nil {
		return err
	}
	w.limit, err = intArg(req.Limit, "limit", DefaultHistoryLimit)
	return err
}

func (w *queryEvents) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	q := iotapi.HistoryQuery{
		DeviceName:  w.in.DeviceName,
		Identifiers: []string{w.in.Identifier},
		StartTime:   w.window.StartTime,
		EndTime:     w.window.EndTime,
	}

	resp, err := rt.read(ctx, "queryDeviceEventData", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.QueryDeviceEventData(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	r, err := newResult(ActionQueryEvents).
		with("deviceName", w.in.DeviceName).
		with("identifier", w.in.Identifier).
		with("window", w.window).
		fromResponse(resp)
	if err != nil || !r.Success {
		return r, err
	}

	received := history.Summarize(r.Data)
	r.Data = history.Trim(r.Data, w.limit)
	returned := history.Summarize(r.Data)

	r.with("limit", w.limit).
		with("summary", received).
		with("truncated", returned.TotalPoints < received.TotalPoints)
	return r, nil
}

// alarms lists alarms in a window, optionally for one device and status
type alarms struct {
	q iotapi.AlarmQuery
}

func (w *alarms) Validate(req Request, now time.Time) error {
	win, err := resolveWindow(req, now)
	if err != nil {
		return err
	}

	w.q = iotapi.AlarmQuery{
		DeviceName: strings.TrimSpace(req.DeviceName),
		Status:     strings.TrimSpace(req.Status),
		StartTime:  win.StartTime,
		EndTime:    win.EndTime,
	}
	return nil
}

func (w *alarms) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	resp, err := rt.read(ctx, "queryAlarmList", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.QueryAlarmList(ctx, w.q)
	})
	if err != nil {
		return nil, err
	}

	return newResult(ActionAlarms).with("params", w.q).fromResponse(resp)
}
