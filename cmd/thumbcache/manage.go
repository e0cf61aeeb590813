package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giobyte8/thumbcache/internal/options"
)

func newGetCmd() *cobra.Command {
	var opts []string

	cmd := &cobra.Command{
		Use:   "get <source> <geometry>",
		Short: "Get or create a thumbnail and print its record",
		Example: `  thumbcache get albums/a.jpg 200x100
  thumbcache get albums/a.jpg 100x100 -o crop=center -o format=PNG`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseOptions(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			thumb, err := a.thumbsSvc.GetThumbnail(ctx, args[0], args[1], parsed)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(thumb)
		},
	}

	cmd.Flags().StringArrayVarP(&opts, "option", "o", nil, "rendering option as key=value (repeatable)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var keepFiles bool

	cmd := &cobra.Command{
		Use:   "delete <source>",
		Short: "Delete a source and every thumbnail recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			return a.thumbsSvc.Delete(ctx, args[0], !keepFiles)
		},
	}

	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "only drop key-value entries, leave source and thumbnail files in place")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove key-value entries whose files no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			removed, err := a.thumbsSvc.Cleanup(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every key-value entry, leaving files in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			return a.thumbsSvc.Clear(ctx)
		},
	}
}

// parseOptions turns key=value pairs into rendering options. Values are
// typed the way a JSON request would carry them.
func parseOptions(pairs []string) (options.Options, error) {
	opts := options.Options{}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}

		if key == options.AlternativeResolutions {
			ratios := []float64{}
			for _, part := range strings.Split(value, ",") {
				if strings.TrimSpace(part) == "" {
					continue
				}
				r, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return nil, fmt.Errorf("invalid ratio %q: %w", part, err)
				}
				ratios = append(ratios, r)
			}
			opts[key] = ratios
			continue
		}

		opts[key] = typedValue(value)
	}

	return opts, nil
}

func typedValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
