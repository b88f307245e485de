package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jake-scott/iotctl/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the version number of the tool",

	RunE: func(cmd *cobra.Command, args []string) error {
		return doVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

type versionResult struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// doVersion keeps to the one JSON object per run convention
func doVersion() error {
	b, err := json.Marshal(versionResult{OK: true, Version: version.Version})
	if err != nil {
		return err
	}

	fmt.Println(string(b))
	return nil
}
