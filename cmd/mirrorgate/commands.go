package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/mirrorgate/internal/app"
	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/ui"
)

func refreshCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Update the transfer config and reload the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Refresh(ctx); err != nil {
					return err
				}
				c, err := e.Catalog()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "catalog: %s games at %s, mirrors: %d\n",
					ui.FormatCount(int64(c.Len())), c.LoadedAt().Format(time.DateTime), len(e.Pool.Available()))
				return nil
			})
		},
	}
}

func catalogCmd(g *globalFlags) *cobra.Command {
	var (
		search string
		fuzzy  bool
		sortBy string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the games available on the mirrors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Start(ctx); err != nil {
					return err
				}
				c, err := e.Catalog()
				if err != nil {
					return err
				}

				var records []catalog.GameRecord
				switch {
				case fuzzy && search != "":
					records = c.FuzzySearch(search)
				default:
					records = c.Search(search)
				}
				if err := sortRecords(records, sortBy, fuzzy && search != ""); err != nil {
					return err
				}
				if limit > 0 && len(records) > limit {
					records = records[:limit]
				}
				return printCatalog(cmd.OutOrStdout(), c, records)
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only show games matching TERM")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "fuzzy-match --search against game names")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "sort by name, popularity, size or updated")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most N games")
	return cmd
}

// sortRecords orders records in place. Fuzzy results keep their rank
// unless a sort key was requested explicitly.
func sortRecords(records []catalog.GameRecord, by string, ranked bool) error {
	switch by {
	case "name":
		if ranked {
			return nil
		}
		slices.SortStableFunc(records, func(a, b catalog.GameRecord) int {
			return strings.Compare(strings.ToLower(a.ReleaseName), strings.ToLower(b.ReleaseName))
		})
	case "popularity":
		slices.SortStableFunc(records, func(a, b catalog.GameRecord) int {
			return cmp.Compare(b.Popularity.Week, a.Popularity.Week)
		})
	case "size":
		slices.SortStableFunc(records, func(a, b catalog.GameRecord) int {
			return cmp.Compare(b.SizeBytes(), a.SizeBytes())
		})
	case "updated":
		slices.SortStableFunc(records, func(a, b catalog.GameRecord) int {
			return b.LastUpdated.Compare(a.LastUpdated)
		})
	default:
		return fmt.Errorf("unknown sort key %q", by)
	}
	return nil
}

func printCatalog(w io.Writer, c *catalog.Catalog, records []catalog.GameRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RELEASE\tPACKAGE\tSIZE\tPOP 1D/7D/30D\tUPDATED\t")
	for _, r := range records {
		flag := ""
		if c.Blacklisted(r) {
			flag = "blacklisted"
		}
		updated := "-"
		if !r.LastUpdated.IsZero() {
			updated = r.LastUpdated.Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d/%d\t%s\t%s\n",
			r.ReleaseName, r.PackageName, ui.FormatBytes(r.SizeBytes()),
			r.Popularity.Day, r.Popularity.Week, r.Popularity.Month,
			updated, flag)
	}
	return tw.Flush()
}

func downloadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "download <release>...",
		Short: "Download one or more releases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Start(ctx); err != nil {
					return err
				}
				var errs []error
				for _, release := range args {
					if _, err := e.Download(ctx, release); err != nil {
						if errors.Is(err, context.Canceled) {
							return downloadFailed(err)
						}
						errs = append(errs, err)
					}
				}
				if len(errs) > 0 {
					return downloadFailed(errors.Join(errs...))
				}
				return nil
			})
		},
	}
}

func sizeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "size <release>",
		Short: "Ask the mirror for the size of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Start(ctx); err != nil {
					return err
				}
				rec, err := e.Lookup(args[0])
				if err != nil {
					return err
				}
				n, err := e.Downloads.Size(ctx, rec)
				if err != nil {
					return err
				}
				if n == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  unknown (catalog says %s)\n",
						rec.ReleaseName, ui.FormatBytes(rec.SizeBytes()))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", rec.ReleaseName, ui.FormatBytes(*n))
				return nil
			})
		},
	}
}

func mirrorsCmd(g *globalFlags) *cobra.Command {
	var (
		switchTo string
		reload   bool
	)
	cmd := &cobra.Command{
		Use:   "mirrors",
		Short: "Show or change the mirror selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				switch {
				case reload:
					if err := e.Pool.Reload(ctx, false); err != nil {
						return err
					}
				case switchTo != "":
					if err := e.Pool.ManualSwitch(ctx, switchTo); err != nil {
						if errors.Is(err, mirror.ErrBusy) {
							return fmt.Errorf("cannot switch mirrors while a refresh or download is running: %w", err)
						}
						return err
					}
				default:
					if _, err := e.Pool.EnsureSelected(ctx); err != nil && !errors.Is(err, mirror.ErrNoMirrors) {
						return err
					}
				}
				printMirrors(cmd.OutOrStdout(), e.Pool)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&switchTo, "switch", "", "select mirror NAME")
	cmd.Flags().BoolVar(&reload, "reload", false, "re-list mirrors and clear exclusions")
	cmd.MarkFlagsMutuallyExclusive("switch", "reload")
	return cmd
}

func printMirrors(w io.Writer, p *mirror.Pool) {
	selected := p.Selected()
	excluded := p.Excluded()
	for _, m := range p.Available() {
		mark := " "
		switch {
		case m == selected:
			mark = "*"
		case slices.Contains(excluded, m):
			mark = "x"
		}
		fmt.Fprintf(w, "%s %s\n", mark, m)
	}
}

func historyCmd(g *globalFlags) *cobra.Command {
	var (
		limit    int
		failures string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show completed downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				if failures != "" {
					fails, err := e.History.Failures(ctx, failures)
					if err != nil {
						return err
					}
					fmt.Fprintln(tw, "WHEN\tMIRROR\tERROR")
					for _, f := range fails {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", f.At.Format(time.DateTime), f.Mirror, f.Error)
					}
					return tw.Flush()
				}

				downloads, err := e.History.Downloads(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "WHEN\tRELEASE\tMIRROR\tSIZE\tATTEMPTS")
				for _, d := range downloads {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
						d.CompletedAt.Format(time.DateTime), d.Release, d.Mirror,
						ui.FormatBytes(d.Bytes), d.Attempts)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most N downloads")
	cmd.Flags().StringVar(&failures, "failures", "", "show failed attempts for RELEASE")
	return cmd
}

func trailersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "trailers",
		Short: "Download the optional trailers pack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Start(ctx); err != nil && !errors.Is(err, mirror.ErrNoMirrors) {
					return err
				}
				dest, err := e.DownloadTrailers(ctx)
				if err != nil {
					return downloadFailed(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trailers: %s\n", dest)
				return nil
			})
		},
	}
}
