package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/onion/internal/catalog"
	"github.com/roach88/onion/internal/manifest"
)

// OrderOptions holds flags for the order command.
type OrderOptions struct {
	*RootOptions
	Mode string
}

// OrderStep is one position of the resolved order.
type OrderStep struct {
	Position  int      `json:"position"`
	ID        string   `json:"id"`
	Component string   `json:"component"`
	Kind      string   `json:"kind"`
	Order     int      `json:"order"`
	Before    []string `json:"before,omitempty"`
	After     []string `json:"after,omitempty"`
}

// OrderResult is the output of the order command.
type OrderResult struct {
	Manifest string      `json:"manifest"`
	Name     string      `json:"name,omitempty"`
	Mode     string      `json:"mode"`
	Digest   string      `json:"digest"`
	Steps    []OrderStep `json:"steps"`
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "order <manifest>",
		Short: "Resolve and print the middleware order",
		Long: `Resolve the execution order of a manifest without running it.

The manifest may be a single .cue file or a directory holding one CUE
package. Ordering constraints that form a cycle, and identities declared
twice, are reported as build errors.

Exit codes:
  0 - Order resolved
  1 - Build error (CYCLE_DETECTED, DUPLICATE_IDENTITY, EMPTY_IDENTITY)
  2 - Command error (manifest not found, schema violation, unknown component)

Examples:
  onion order ./pipeline.cue
  onion order ./manifests/checkout --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "override the manifest mode (blocking|async)")

	return cmd
}

func runOrder(opts *OrderOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	p, err := loadPipeline(f, catalog.New(), path, opts.Mode)
	if err != nil {
		return err
	}
	defer p.Close()

	digest, err := p.Manifest.Digest()
	if err != nil {
		return f.Fail(ExitCommandError, manifest.ErrCodeGeneric, fmt.Sprintf("failed to hash manifest: %v", err), nil)
	}

	entries := make(map[string]manifest.Entry, len(p.Manifest.Middleware))
	for _, e := range p.Manifest.Middleware {
		entries[e.ID] = e
	}

	result := OrderResult{
		Manifest: p.Manifest.Source,
		Name:     p.Manifest.Name,
		Mode:     p.Manifest.Mode,
		Digest:   digest,
		Steps:    make([]OrderStep, 0, len(p.Resolved)),
	}
	for i, d := range p.Resolved {
		e := entries[d.Identity.String()]
		result.Steps = append(result.Steps, OrderStep{
			Position:  i + 1,
			ID:        d.Identity.String(),
			Component: e.Component(),
			Kind:      d.Kind.String(),
			Order:     d.Order,
			Before:    e.Before,
			After:     e.After,
		})
	}

	if f.JSON() {
		return f.Success(result)
	}
	return outputOrderText(cmd, result, opts.Verbose)
}

func outputOrderText(cmd *cobra.Command, result OrderResult, verbose bool) error {
	w := cmd.OutOrStdout()

	title := result.Manifest
	if result.Name != "" {
		title = result.Name
	}
	fmt.Fprintf(w, "Pipeline: %s (%s)\n", title, result.Mode)
	if verbose {
		fmt.Fprintf(w, "Digest: %s\n", result.Digest)
	}
	fmt.Fprintln(w)

	if len(result.Steps) == 0 {
		fmt.Fprintln(w, "  (no middleware)")
		return nil
	}

	for _, s := range result.Steps {
		fmt.Fprintf(w, "  %d. %s", s.Position, s.ID)
		if s.Component != s.ID {
			fmt.Fprintf(w, " [%s]", s.Component)
		}
		fmt.Fprintf(w, " (%s, order %d)\n", s.Kind, s.Order)
		if verbose {
			if len(s.Before) > 0 {
				fmt.Fprintf(w, "       before: %s\n", strings.Join(s.Before, ", "))
			}
			if len(s.After) > 0 {
				fmt.Fprintf(w, "       after:  %s\n", strings.Join(s.After, ", "))
			}
		}
	}
	return nil
}
