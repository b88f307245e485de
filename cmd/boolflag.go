package cmd

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jake-scott/iotctl/internal/pkg/config"
)

// boolArg is a bool flag value that understands the same spellings as
// the environment: true/false, 1/0, yes/no and on/off
type boolArg struct {
	v *bool
}

func (b boolArg) String() string {
	if b.v == nil {
		return "false"
	}
	return strconv.FormatBool(*b.v)
}

func (b boolArg) Set(s string) error {
	v, ok := config.ParseBool(s)
	if !ok {
		return errors.Errorf("invalid boolean %q", s)
	}
	*b.v = v
	return nil
}

func (b boolArg) Type() string {
	return "bool"
}

// boolFlag registers a flag that is true when given bare
func boolFlag(fs *pflag.FlagSet, p *bool, name string, usage string) *pflag.Flag {
	f := fs.VarPF(boolArg{v: p}, name, "", usage)
	f.NoOptDefVal = "true"
	return f
}

// boolFlagNames lists the flags of cmd that may be given without a value
func boolFlagNames(cmd *cobra.Command) map[string]struct{} {
	names := map[string]struct{}{}
	visit := func(f *pflag.Flag) {
		if f.NoOptDefVal == "true" {
			names[f.Name] = struct{}{}
		}
	}
	cmd.Flags().VisitAll(visit)
	cmd.PersistentFlags().VisitAll(visit)
	return names
}

// normalizeBoolArgs joins "--name value" into "--name=value" for bool
// flags when value is a boolean.  pflag never consumes the token after a
// flag with a no-option default, so "--confirm false" would otherwise set
// confirm and leave "false" as a positional argument.
func normalizeBoolArgs(args []string, names map[string]struct{}) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			out = append(out, args[i:]...)
			break
		}

		name := strings.TrimPrefix(a, "--")
		if name != a && !strings.Contains(name, "=") && i+1 < len(args) {
			if _, isBool := names[name]; isBool {
				if _, ok := config.ParseBool(args[i+1]); ok {
					out = append(out, a+"="+args[i+1])
					i++
					continue
				}
			}
		}
		out = append(out, a)
	}
	return out
}
