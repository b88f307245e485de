package iotapi

import (
	"context"
	"encoding/json"
	"strings"
)

// Response is the platform's uniform reply
type Response struct {
	Success      bool            `json:"success"`
	Code         int             `json:"code,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// DecodeData unmarshals the data member, numbers kept as json.Number
func (r *Response) DecodeData() (interface{}, error) {
	if r == nil || len(r.Data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(string(r.Data)))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type Entry struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Desc       string `json:"desc,omitempty"`
}

type DataType struct {
	Type  string          `json:"type"`
	Specs json.RawMessage `json:"specs,omitempty"`
}

type Property struct {
	Entry
	AccessMode string    `json:"access_mode"`
	DataType   *DataType `json:"data_type,omitempty"`
}

// Writable reports whether the access mode permits writes ("w", "rw")
func (p Property) Writable() bool {
	return strings.Contains(strings.ToLower(p.AccessMode), "w")
}

// ThingModel is a product's schema
type ThingModel struct {
	Properties []Property `json:"properties"`
	Events     []Entry    `json:"events"`
	Actions    []Entry    `json:"actions"`
}

// Point is an identifier/value pair for property writes
type Point struct {
	Identifier string      `json:"identifier"`
	Value      interface{} `json:"value"`
}

type HistoryQuery struct {
	DeviceName   string
	Identifiers  []string
	StartTime    string
	EndTime      string
	DownSampling string
}

type DeviceQuery struct {
	ProductKey string
	Page       int
	PageSize   int
}

type AlarmQuery struct {
	DeviceName string `json:"deviceName,omitempty"`
	Status     string `json:"status,omitempty"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

type ProductQuery struct {
	ProductName string `json:"productName,omitempty"`
	Page        int    `json:"page"`
	PageSize    int    `json:"pageSize"`
}

// Platform is the narrow surface of the IoT platform used by the workflows
type Platform interface {
	QueryThingModel(ctx context.Context, productKey string) (*Response, error)
	QueryDevicePropertyData(ctx context.Context, q HistoryQuery) (*Response, error)
	QueryDevicePropertiesData(ctx context.Context, q HistoryQuery) (*Response, error)
	QueryDeviceEventData(ctx context.Context, q HistoryQuery) (*Response, error)
	QueryDeviceServiceData(ctx context.Context, q HistoryQuery) (*Response, error)
	SetDevicesProperty(ctx context.Context, deviceName string, points []Point) (*Response, error)
	InvokeThingsService(ctx context.Context, deviceName string, pointList []Point, service map[string]interface{}) (*Response, error)
	GetDeviceStatus(ctx context.Context, deviceName string) (*Response, error)
	QueryDevicesByProduct(ctx context.Context, q DeviceQuery) (*Response, error)
	QueryAlarmList(ctx context.Context, q AlarmQuery) (*Response, error)
	QueryProductList(ctx context.Context, q ProductQuery) (*Response, error)
}
