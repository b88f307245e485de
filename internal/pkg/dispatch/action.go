package dispatch

import (
	"strings"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/resilience"
)

// Action names one workflow
type Action string

const (
	ActionDiscover      Action = "discover"
	ActionResolveIntent Action = "resolve-intent"
	ActionListWritable  Action = "list-writable-identifiers"
	ActionListDevices   Action = "list-devices"
	ActionDeviceStatus  Action = "device-status"
	ActionQueryHistory  Action = "query-history"
	ActionQueryProp     Action = "query-prop"
	ActionQueryProps    Action = "query-props"
	ActionSetProps      Action = "set-props"
	ActionCallService   Action = "call-service"
	ActionQueryEvents   Action = "query-events"
	ActionAlarms        Action = "alarms"
	ActionListProducts  Action = "list-products"
)

// Actions in usage order
var Actions = []Action{
	ActionDiscover,
	ActionResolveIntent,
	ActionListWritable,
	ActionListDevices,
	ActionDeviceStatus,
	ActionQueryHistory,
	ActionQueryProp,
	ActionQueryProps,
	ActionSetProps,
	ActionCallService,
	ActionQueryEvents,
	ActionAlarms,
	ActionListProducts,
}

// ParseAction is case insensitive.  An empty name is MISSING_ACTION.
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", apperror.New(apperror.CodeMissingAction, "missing --action")
	}

	a := Action(name)
	if _, ok := registry[a]; !ok {
		return a, apperror.New(apperror.CodeInvalidAction, "unsupported action: %s", name)
	}
	return a, nil
}

// Class is Write for actions that change device state
func (a Action) Class() resilience.Class {
	switch a {
	case ActionSetProps, ActionCallService:
		return resilience.Write
	}
	return resilience.Read
}

func (a Action) IsWrite() bool {
	return a.Class() == resilience.Write
}

func (a Action) String() string {
	return string(a)
}
