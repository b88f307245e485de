package cmd

import (
	"fmt"
	"strings"

	"github.com/jake-scott/iotctl/internal/pkg/dispatch"
)

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func usage() string {
	names := make([]string, len(dispatch.Actions))
	for i, a := range dispatch.Actions {
		names[i] = a.String()
	}

	return fmt.Sprintf("usage: iotctl --action <%s> [options]; "+
		"explicit --startTime/--endTime bounds are validated (YYYY-MM-DD HH:mm:ss, start not after end); "+
		"run iotctl --help for the option list",
		strings.Join(names, "|"))
}
