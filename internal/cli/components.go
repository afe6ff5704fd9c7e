package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/onion/internal/catalog"
)

// ComponentInfo describes one catalog component.
type ComponentInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// NewComponentsCommand creates the components command.
func NewComponentsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List the middleware components a manifest can use",
		Long: `List the built-in catalog components.

A manifest entry refers to a component through "uses", or through its id
when "uses" is omitted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComponents(rootOpts, cmd)
		},
	}
}

func runComponents(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	comps := catalog.New().Components()
	infos := make([]ComponentInfo, len(comps))
	for i, c := range comps {
		infos[i] = ComponentInfo{Name: c.Name, Kind: c.Kind.String(), Description: c.Description}
	}

	if f.JSON() {
		return f.Success(infos)
	}

	w := cmd.OutOrStdout()
	for _, c := range infos {
		fmt.Fprintf(w, "%-10s %-9s %s\n", c.Name, c.Kind, c.Description)
	}
	return nil
}
