package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
)

type pointInput struct {
	Identifier string      `json:"identifier" validate:"required"`
	Value      interface{} `json:"value"`
}

// pointsArg decodes a JSON array of {identifier, value} objects
func pointsArg(raw string, field string) ([]pointInput, bool, error) {
	v, present, err := jsonArg(raw, field)
	if err != nil || !present {
		return nil, present, err
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, true, apperror.InvalidArg("%s must be a JSON array of {identifier, value} objects", field)
	}

	points := make([]pointInput, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, true, apperror.InvalidArg("%s[%d] must be an object", field, i)
		}
		value, has := obj["value"]
		if !has || value == nil {
			return nil, true, apperror.InvalidArg("%s[%d].value is required", field, i)
		}
		id, _ := obj["identifier"].(string)
		points = append(points, pointInput{Identifier: strings.TrimSpace(id), Value: value})
	}
	return points, true, nil
}

func toPoints(in []pointInput) []iotapi.Point {
	out := make([]iotapi.Point, len(in))
	for i, p := range in {
		out[i] = iotapi.Point{Identifier: p.Identifier, Value: p.Value}
	}
	return out
}

func pointIdentifiers(in []pointInput) []string {
	ids := make([]string, len(in))
	for i, p := range in {
		ids[i] = p.Identifier
	}
	return ids
}

type setPropsInput struct {
	DeviceName string       `json:"deviceName" validate:"required"`
	Points     []pointInput `json:"points" validate:"required,min=1,dive"`
}

// setProps writes one or more properties of a device
type setProps struct {
	in     setPropsInput
	dryRun bool
}

func (w *setProps) Validate(req Request, now time.Time) error {
	w.in.DeviceName = strings.TrimSpace(req.DeviceName)
	w.dryRun = req.DryRun

	points, _, err := pointsArg(req.Points, "points")
	if err != nil {
		return err
	}
	w.in.Points = points

	return check(&w.in)
}

func (w *setProps) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	if err := rt.Guard.Check(pointIdentifiers(w.in.Points)...); err != nil {
		return nil, err
	}

	points := toPoints(w.in.Points)
	r := newResult(ActionSetProps).with("deviceName", w.in.DeviceName)

	if w.dryRun {
		r.with("dryRun", true)
		r.Data = map[string]interface{}{"points": points}
		r.Success = true
		return r, nil
	}

	resp, err := rt.write(ctx, "setDevicesProperty", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.SetDevicesProperty(ctx, w.in.DeviceName, points)
	})
	if err != nil {
		return nil, err
	}
	return r.fromResponse(resp)
}

type callServiceInput struct {
	DeviceName   string       `json:"deviceName" validate:"required"`
	ServicePoint *pointInput  `json:"servicePoint" validate:"required"`
	PointList    []pointInput `json:"pointList" validate:"omitempty,dive"`
}

// callService invokes a device service
type callService struct {
	in      callServiceInput
	service map[string]interface{}
	dryRun  bool
}

func (w *callService) Validate(req Request, now time.Time) error {
	w.in.DeviceName = strings.TrimSpace(req.DeviceName)
	w.dryRun = req.DryRun

	v, present, err := jsonArg(req.ServicePoint, "servicePoint")
	if err != nil {
		return err
	}
	if present {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return apperror.InvalidArg("servicePoint must be a JSON object")
		}
		id, _ := obj["identifier"].(string)
		w.service = obj
		w.in.ServicePoint = &pointInput{Identifier: strings.TrimSpace(id), Value: obj["value"]}
	}

	points, _, err := pointsArg(req.PointList, "pointList")
	if err != nil {
		return err
	}
	w.in.PointList = points

	return check(&w.in)
}

func (w *callService) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	if err := rt.Guard.Check(pointIdentifiers(w.in.PointList)...); err != nil {
		return nil, err
	}

	pointList := toPoints(w.in.PointList)
	r := newResult(ActionCallService).
		with("deviceName", w.in.DeviceName).
		with("service", w.in.ServicePoint.Identifier)

	if w.dryRun {
		r.with("dryRun", true)
		r.Data = map[string]interface{}{
			"pointList":    pointList,
			"servicePoint": w.service,
		}
		r.Success = true
		return r, nil
	}

	resp, err := rt.write(ctx, "invokeThingsService", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.InvokeThingsService(ctx, w.in.DeviceName, pointList, w.service)
	})
	if err != nil {
		return nil, err
	}
	return r.fromResponse(resp)
}
