package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/jake-scott/iotctl/internal/pkg/intent"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
	"github.com/jake-scott/iotctl/internal/pkg/modelcache"
)

type productInput struct {
	ProductKey string `json:"productKey" validate:"required"`
}

type propertySummary struct {
	Identifier string  `json:"identifier"`
	Name       string  `json:"name"`
	AccessMode string  `json:"access_mode"`
	Type       *string `json:"type"`
}

type entrySummary struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

type modelCounts struct {
	Properties int `json:"properties"`
	Events     int `json:"events"`
	Actions    int `json:"actions"`
}

type modelSummary struct {
	Counts     modelCounts       `json:"counts"`
	Properties []propertySummary `json:"properties"`
	Events     []entrySummary    `json:"events"`
	Actions    []entrySummary    `json:"actions"`
}

func dataType(p iotapi.Property) *string {
	if p.DataType == nil || p.DataType.Type == "" {
		return nil
	}
	t := p.DataType.Type
	return &t
}

func entries(in []iotapi.Entry) []entrySummary {
	out := make([]entrySummary, 0, len(in))
	for _, e := range in {
		out = append(out, entrySummary{Identifier: e.Identifier, Name: e.Name})
	}
	return out
}

func summarizeModel(m iotapi.ThingModel) modelSummary {
	s := modelSummary{
		Counts: modelCounts{
			Properties: len(m.Properties),
			Events:     len(m.Events),
			Actions:    len(m.Actions),
		},
		Properties: make([]propertySummary, 0, len(m.Properties)),
		Events:     entries(m.Events),
		Actions:    entries(m.Actions),
	}

	for _, p := range m.Properties {
		s.Properties = append(s.Properties, propertySummary{
			Identifier: p.Identifier,
			Name:       p.Name,
			AccessMode: p.AccessMode,
			Type:       dataType(p),
		})
	}
	return s
}

func cacheInfo(r *modelcache.Result, ttl time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"source":   r.Source,
		"cachedAt": r.CachedAt,
		"ageMs":    r.AgeMs,
		"ttlMs":    ttl.Milliseconds(),
	}
}

func fetchModel(ctx context.Context, rt *Runtime, productKey string, force bool) (*modelcache.Result, time.Duration, error) {
	cache, err := rt.ModelCache(ctx)
	if err != nil {
		return nil, 0, err
	}

	m, err := cache.Fetch(ctx, productKey, force)
	if err != nil {
		return nil, 0, err
	}
	return m, cache.TTL(), nil
}

// discover summarizes (or returns in full) a product's thing model
type discover struct {
	in        productInput
	fullModel bool
	force     bool
}

func (w *discover) Validate(req Request, now time.Time) error {
	w.in.ProductKey = strings.TrimSpace(req.ProductKey)
	w.fullModel = req.FullModel
	w.force = req.ForceRefresh
	return check(&w.in)
}

func (w *discover) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	m, ttl, err := fetchModel(ctx, rt, w.in.ProductKey, w.force)
	if err != nil {
		return nil, err
	}

	r := newResult(ActionDiscover).
		with("productKey", w.in.ProductKey).
		with("fullModel", w.fullModel).
		with("cache", cacheInfo(m, ttl))

	if w.fullModel {
		full, err := (&iotapi.Response{Data: m.Raw}).DecodeData()
		if err != nil {
			return nil, err
		}
		r.Data = full
	} else {
		r.Data = summarizeModel(m.Model)
	}

	r.Success = true
	return r, nil
}

type intentInput struct {
	ProductKey string `json:"productKey" validate:"required"`
	Query      string `json:"query" validate:"required"`
}

// resolveIntent ranks model entries against free text
type resolveIntent struct {
	in           intentInput
	topK         int
	writableOnly bool
	force        bool
}

func (w *resolveIntent) Validate(req Request, now time.Time) error {
	w.in = intentInput{
		ProductKey: strings.TrimSpace(req.ProductKey),
		Query:      strings.TrimSpace(req.Query),
	}
	w.writableOnly = req.WritableOnly
	w.force = req.ForceRefresh

	topK, err := intArg(req.TopK, "topK", intent.DefaultTopK)
	if err != nil {
		return err
	}
	w.topK = topK

	return check(&w.in)
}

func (w *resolveIntent) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	m, ttl, err := fetchModel(ctx, rt, w.in.ProductKey, w.force)
	if err != nil {
		return nil, err
	}

	candidates := intent.Resolve(m.Model, w.in.Query, intent.Options{TopK: w.topK, WritableOnly: w.writableOnly})
	if candidates == nil {
		candidates = []intent.Candidate{}
	}

	r := newResult(ActionResolveIntent).
		with("productKey", w.in.ProductKey).
		with("query", w.in.Query).
		with("topK", w.topK).
		with("writableOnly", w.writableOnly).
		with("cache", cacheInfo(m, ttl))
	r.Data = map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	}
	r.Success = true
	return r, nil
}

type writableIdentifier struct {
	Identifier  string  `json:"identifier"`
	Name        string  `json:"name"`
	AccessMode  string  `json:"access_mode"`
	Type        *string `json:"type"`
	Whitelisted bool    `json:"whitelisted"`
}

// listWritable lists the writable properties, flagged against the
// identifier whitelist
type listWritable struct {
	in    productInput
	force bool
}

func (w *listWritable) Validate(req Request, now time.Time) error {
	w.in.ProductKey = strings.TrimSpace(req.ProductKey)
	w.force = req.ForceRefresh
	return check(&w.in)
}

func (w *listWritable) Execute(ctx context.Context, rt *Runtime) (*Result, error) {
	m, ttl, err := fetchModel(ctx, rt, w.in.ProductKey, w.force)
	if err != nil {
		return nil, err
	}

	items := []writableIdentifier{}
	allowed := 0
	for _, p := range m.Model.Properties {
		if !p.Writable() {
			continue
		}

		ok := rt.Guard.Allows(p.Identifier)
		if ok {
			allowed++
		}
		items = append(items, writableIdentifier{
			Identifier:  p.Identifier,
			Name:        p.Name,
			AccessMode:  p.AccessMode,
			Type:        dataType(p),
			Whitelisted: ok,
		})
	}

	r := newResult(ActionListWritable).
		with("productKey", w.in.ProductKey).
		with("whitelistEnabled", rt.Guard != nil).
		with("whitelist", rt.Guard.Identifiers()).
		with("cache", cacheInfo(m, ttl))
	r.Data = map[string]interface{}{
		"identifiers":  items,
		"count":        len(items),
		"allowedCount": allowed,
	}
	r.Success = true
	return r, nil
}
