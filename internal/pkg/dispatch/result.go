package dispatch

import (
	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
)

// Result is the outcome of a workflow.  Fields are merged into the top
// level of the envelope next to data.
type Result struct {
	Action       Action
	Fields       map[string]interface{}
	Data         interface{}
	Success      bool
	ErrorMessage string
}

func newResult(a Action) *Result {
	return &Result{Action: a, Fields: map[string]interface{}{}}
}

func (r *Result) with(key string, value interface{}) *Result {
	r.Fields[key] = value
	return r
}

func decodeData(resp *iotapi.Response) (interface{}, error) {
	data, err := resp.DecodeData()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeAPIFailed, "undecodable data in platform response")
	}
	return data, nil
}

// fromResponse copies a platform reply into the result
func (r *Result) fromResponse(resp *iotapi.Response) (*Result, error) {
	data, err := decodeData(resp)
	if err != nil {
		return nil, err
	}

	r.Data = data
	r.Success = resp.Success
	r.ErrorMessage = resp.ErrorMessage
	return r, nil
}
