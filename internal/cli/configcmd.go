package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lazypower/orgmem/internal/config"
)

var (
	configOut   string
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the orgmem configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configOut
		if path == "" {
			dir, err := config.DefaultDir()
			if err != nil {
				return err
			}
			path = filepath.Join(dir, "orgmem.toml")
		}
		if err := config.Write(path, config.Default(), configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configOut, "output", "o", "", "file to write (default ~/.orgmem/orgmem.toml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
