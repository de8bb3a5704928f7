package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/annosync/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration files",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

// ConfigValidateResult reports a successful validation.
type ConfigValidateResult struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
}

func (r ConfigValidateResult) String() string {
	return fmt.Sprintf("%s: ok", r.Path)
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a .yaml or .cue configuration file against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)
			path := args[0]
			formatter.VerboseLog("Validating %s", path)

			if _, err := config.Load(path); err != nil {
				var le *config.LoadError
				if errors.As(err, &le) {
					exit := ExitFailure
					if le.Code == config.ErrCodeRead {
						exit = ExitCommandError
					}
					return formatter.Fail(exit, le.Code, le.Message, map[string]string{"path": le.Path}, err)
				}
				return WrapExitError(ExitCommandError, "cannot load config", err)
			}
			return formatter.Success(ConfigValidateResult{Path: path, Valid: true})
		},
	}
}

// configView renders a Config as YAML in text mode.
type configView struct {
	config.Config
}

func (v configView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Config)
}

func (v configView) WriteText(w io.Writer) error {
	out, err := yaml.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Prints the configuration the engine would run with: the defaults, or the
given file merged over them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			return formatter.Success(configView{cfg})
		},
	}
	cmd.Flags().StringVar(&path, "config", "", "path to a .yaml or .cue configuration file")
	return cmd
}
