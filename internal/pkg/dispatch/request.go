package dispatch

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// Request carries the raw command line inputs of one run.  Environment
// defaults for productKey and deviceName are already merged in.
type Request struct {
	Action string

	ProductKey  string
	ProductName string
	DeviceName  string
	Identifier  string
	Identifiers string

	StartTime    string
	EndTime      string
	Range        string
	DownSampling string

	Limit          string
	AggregateModes string

	Query        string
	TopK         string
	WritableOnly bool

	Status   string
	Keyword  string
	Page     string
	PageSize string
	FetchAll bool

	Points       string
	ServicePoint string
	PointList    string

	FullModel    bool
	ForceRefresh bool
	DryRun       bool
	Confirm      bool
}

// ParseIdentifiers accepts a JSON array of strings or a comma list.  Blanks
// and repeats are dropped, first occurrence order is kept.
func ParseIdentifiers(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var items []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, apperror.InvalidJSON("identifiers", err)
		}
	} else {
		items = strings.Split(raw, ",")
	}

	seen := map[string]struct{}{}
	var out []string
	for _, id := range items {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// identifierList merges --identifier and --identifiers, exactly one of
// which may be given
func identifierList(req Request) ([]string, error) {
	single := strings.TrimSpace(req.Identifier)
	multi := strings.TrimSpace(req.Identifiers)

	switch {
	case single != "" && multi != "":
		return nil, apperror.InvalidArg("give either identifier or identifiers, not both")
	case single != "":
		return []string{single}, nil
	}

	ids, err := ParseIdentifiers(multi)
	if err != nil {
		return nil, err
	}
	if multi != "" && len(ids) == 0 {
		return nil, apperror.InvalidArg("identifiers must be a non-empty list")
	}
	return ids, nil
}

// intArg parses an optional integer flag
func intArg(raw string, field string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.InvalidArg("%s must be an integer, got %q", field, raw)
	}
	return n, nil
}

// jsonArg decodes an optional JSON flag, numbers kept as json.Number
func jsonArg(raw string, field string) (interface{}, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, true, apperror.InvalidJSON(field, err)
	}
	if dec.More() {
		return nil, true, apperror.New(apperror.CodeInvalidJSON, "%s must be a single JSON value", field)
	}
	return v, true, nil
}
