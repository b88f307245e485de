package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jake-scott/iotctl/internal/pkg/history"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
)

const (
	fetchAllPageSize = iotapi.MaxPageSize
	maxFetchPages    = 500

	paginationLocal  = "local"
	paginationServer = "server"
)

// listKeys are the members a paged reply may carry its items in
var listKeys = []string{"list", "records", "rows", "items", "data"}

// deviceItems extracts the item list of a paged reply, and its total when
// the platform reports one
func deviceItems(data interface{}) ([]interface{}, interface{}) {
	switch v := data.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		for _, k := range listKeys {
			if list, ok := v[k].([]interface{}); ok {
				return list, v["total"]
			}
		}
	}
	return []interface{}{}, nil
}

func paginate(items []interface{}, page, pageSize int) ([]interface{}, bool) {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []interface{}{}, false
	}

	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], end < len(items)
}

type listDevicesInput struct {
	ProductKey string `json:"productKey" validate:"required"`
	Page       int    `json:"page" validate:"min=1"`
	Status     string `json:"status" validate:"omitempty,oneof=ONLINE OFFLINE UNACTIVE"`
}

// listDevices lists a product's devices, paging on the platform or, with
// fetchAll, locally after fetching everything
type listDevices struct {
	in       listDevicesInput
	pageSize int
	keyword  string
	fetchAll bool
}

func (w *listDevices) Validate(req Request, now time.Time) error {
	page, err := intArg(req.Page, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := intArg(req.PageSize, "pageSize", iotapi.DefaultPageSize)
	if err != nil {
		return err
	}

	w.in = listDevicesInput{
		ProductKey: strings.TrimSpace(req.ProductKey),
		Page:       page,
		Status:     strings.ToUpper(strings.TrimSpace(req.Status)),
	}
	w.pageSize = iotapi.ClampPageSize(pageSize)
	w.keyword = strings.ToLower(strings.TrimSpace(req.Keyword))
	w.fetchAll = req.FetchAll

	return check(&w.in)
}

func (w *listDevices) matches(item interface{}) bool {
	d, ok := item.(map[string]interface{})
	if !ok {
		return w.in.Status == "" && w.keyword == ""
	}

	if w.in.Status != "" {
		status, _ := d["status"].(string)
		if !strings.EqualFold(status, w.in.Status) {
			return false
		}
	}

	if w.keyword != "" {
		for _, k := range []string{"deviceName", "nickName", "deviceId"} {
			if s := fmt.Sprint(d[k]); d[k] != nil && strings.Contains(strings.ToLower(s), w.keyword) {
				return true
			}
		}
		return false
	}

	return true
}

func (w *listDevices) filter(items []interface{}) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		if w.matches(item) {
			out = append(out, item)
		}
	}
	return out
}

func (w *listDevices) queryPage(ctx context.Context, rt *Runtime, page, pageSize int) (*iotapi.Response, error) {
	return rt.read(ctx, "queryDevicesByProduct", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.QueryDevicesByProduct(ctx, iotapi.DeviceQuery{
			ProductKey: w.in.ProductKey,
			Page:       page,
			PageSize:   pageSize,
		})
	})
}

func (w *listDevices) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	r := newResult(ActionListDevices).
		with("productKey", w.in.ProductKey).
		with("fetchAll", w.fetchAll)
	if w.in.Status != "" {
		r.with("status", w.in.Status)
	}
	if w.keyword != "" {
		r.with("keyword", w.keyword)
	}

	if w.fetchAll {
		return w.executeFetchAll(ctx, rt, r)
	}

	resp, err := w.queryPage(ctx, rt, w.in.Page, w.pageSize)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return r.fromResponse(resp)
	}

	data, err := decodeData(resp)
	if err != nil {
		return nil, err
	}
	items, total := deviceItems(data)

	out := map[string]interface{}{
		"page":     w.in.Page,
		"pageSize": w.pageSize,
	}

	if len(items) > w.pageSize {
		// the platform ignored the paging request
		filtered := w.filter(items)
		pageItems, hasMore := paginate(filtered, w.in.Page, w.pageSize)
		out["items"] = pageItems
		out["total"] = len(filtered)
		out["hasMore"] = hasMore
		out["pagination"] = paginationLocal
		out["note"] = fmt.Sprintf("platform returned %d items for pageSize %d, paged locally", len(items), w.pageSize)
	} else {
		// total and hasMore describe the server page, not the filtered items
		filtered := w.filter(items)
		out["items"] = filtered
		out["total"] = total
		out["hasMore"] = len(items) == w.pageSize
		out["pagination"] = paginationServer
		if w.in.Status != "" || w.keyword != "" {
			out["filtered"] = len(filtered)
			out["note"] = fmt.Sprintf("filters applied to this server page only: %d of %d items kept, total and hasMore are unfiltered",
				len(filtered), len(items))
		}
	}

	r.Data = out
	r.Success = true
	return r, nil
}

func (w *listDevices) executeFetchAll(ctx context.Context, rt *Runtime, r *Result) (*Result, error) {
	var all []interface{}
	var note string

	for page := 1; ; page++ {
		resp, err := w.queryPage(ctx, rt, page, fetchAllPageSize)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return r.fromResponse(resp)
		}

		data, err := decodeData(resp)
		if err != nil {
			return nil, err
		}
		items, _ := deviceItems(data)

		if len(items) > fetchAllPageSize {
			all = items
			note = fmt.Sprintf("platform returned %d items for pageSize %d, treated as the full set", len(items), fetchAllPageSize)
			break
		}

		all = append(all, items...)
		if len(items) < fetchAllPageSize {
			break
		}
		if page >= maxFetchPages {
			note = fmt.Sprintf("stopped after %d pages", maxFetchPages)
			break
		}
	}

	filtered := w.filter(all)
	pageItems, hasMore := paginate(filtered, w.in.Page, w.pageSize)

	out := map[string]interface{}{
		"items":      pageItems,
		"total":      len(filtered),
		"fetched":    len(all),
		"page":       w.in.Page,
		"pageSize":   w.pageSize,
		"hasMore":    hasMore,
		"pagination": paginationLocal,
	}
	if note != "" {
		out["note"] = note
	}

	r.Data = out
	r.Success = true
	return r, nil
}

type deviceInput struct {
	DeviceName string `json:"deviceName" validate:"required"`
}

// deviceStatus reports ONLINE/OFFLINE/UNACTIVE, and for offline devices
// how long they have been gone
type deviceStatus struct {
	in deviceInput
}

func (w *deviceStatus) Validate(req Request, now time.Time) error {
	w.in.DeviceName = strings.TrimSpace(req.DeviceName)
	return check(&w.in)
}

func (w *deviceStatus) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	resp, err := rt.read(ctx, "getDeviceStatus", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.GetDeviceStatus(ctx, w.in.DeviceName)
	})
	if err != nil {
		return nil, err
	}

	r, err := newResult(ActionDeviceStatus).with("deviceName", w.in.DeviceName).fromResponse(resp)
	if err != nil || !r.Success {
		return r, err
	}

	if d, ok := r.Data.(map[string]interface{}); ok {
		status, _ := d["status"].(string)
		if ts, ok := history.ParseNumber(d["timestamp"]); ok && ts > 0 && strings.EqualFold(status, "OFFLINE") {
			if offline := rt.Now().UnixNano()/int64(time.Millisecond) - int64(ts); offline >= 0 {
				d["offlineForMs"] = offline
			}
		}
	}
	return r, nil
}

type productListInput struct {
	Page int `json:"page" validate:"min=1"`
}

// listProducts lists the products visible to the credentials
type listProducts struct {
	in          productListInput
	productName string
	pageSize    int
}

func (w *listProducts) Validate(req Request, now time.Time) error {
	page, err := intArg(req.Page, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := intArg(req.PageSize, "pageSize", iotapi.DefaultPageSize)
	if err != nil {
		return err
	}

	w.in.Page = page
	w.pageSize = iotapi.ClampPageSize(pageSize)
	w.productName = strings.TrimSpace(req.ProductName)
	return check(&w.in)
}

func (w *listProducts) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	q := iotapi.ProductQuery{ProductName: w.productName, Page: w.in.Page, PageSize: w.pageSize}

	resp, err := rt.read(ctx, "queryProductList", func(ctx context.Context, p iotapi.Platform) (*iotapi.Response, error) {
		return p.QueryProductList(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	return newResult(ActionListProducts).with("params", q).fromResponse(resp)
}
