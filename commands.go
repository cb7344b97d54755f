package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/api"
	"github.com/fabfab/recollect/collector"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/results"
	"github.com/fabfab/recollect/selection"
	"github.com/fabfab/recollect/snapshot"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var (
		addr    string
		collect bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP bridge for the desktop UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Address
			}

			if collect {
				sched, err := collector.NewScheduler(a.cfg.Collector.Schedule, a.logger,
					collector.Job{Name: "safari", Run: func(ctx context.Context) error {
						_, err := a.collector.SyncSafari(ctx, false)
						return err
					}},
					collector.Job{Name: "notes", Run: func(ctx context.Context) error {
						if a.cfg.Collector.NotesFile == "" {
							return nil
						}
						_, err := a.collector.SyncNotes(ctx, false)
						return err
					}},
				)
				if err != nil {
					return err
				}
				go func() { _ = sched.Run(ctx) }()
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.New(a.session, a.thumbs, a.bus, a.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
			case <-ctx.Done():
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("http shutdown", zap.Error(err))
				}
			}

			if a.cfg.Snapshot.WriteOnExit {
				selected := a.session.Selection()
				if err := a.snapshots.Update(func(s *snapshot.Snapshot) { s.Selection = selected }); err != nil {
					a.logger.Warn("write snapshot on exit", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.address)")
	cmd.Flags().BoolVar(&collect, "collect", false, "run the Safari and notes collectors on schedule")
	return cmd
}

type filterFlags struct {
	docType string
	slider  float64
	domain  string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.docType, "type", "t", "", "document type ("+strings.Join(filters.Labels(), ", ")+")")
	cmd.Flags().Float64Var(&f.slider, "time", 0, "time slider position 0..100 (0 means any time)")
	cmd.Flags().StringVar(&f.domain, "domain", "", "restrict web pages and notes to a domain")
}

func (f *filterFlags) build() (filters.Filters, error) {
	return filters.Build(filters.Input{Type: f.docType, Slider: f.slider, Domain: f.domain}, time.Now())
}

func searchCmd() *cobra.Command {
	var (
		ff       filterFlags
		jsonOut  bool
		snippets bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the knowledge index",
		Long: `Search the knowledge index and print the matching documents.

Examples:
  recollect search "machine learning"
  recollect search "release notes" --type Article --time 25
  recollect search "groceries" --type "Apple Notes" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			f, err := ff.build()
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.session.Search(ctx, strings.Join(args, " "), f)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if jsonOut {
				return printJSON(outcome)
			}
			if outcome.Empty {
				fmt.Println("No results.")
				return nil
			}
			printDocuments(outcome.Documents, snippets)
			return nil
		},
	}
	ff.register(cmd)
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	cmd.Flags().BoolVarP(&snippets, "snippets", "s", false, "print the matched text under each result")
	return cmd
}

func gistCmd() *cobra.Command {
	var (
		ff  filterFlags
		ids []string
		top int
	)
	cmd := &cobra.Command{
		Use:   "gist [query]",
		Short: "Search, pick documents and stream a synthesis of them",
		Long: `Search, peel the chosen documents and stream a synthesis of them.
The synthesis is saved back to the index once it completes.

Examples:
  recollect gist "machine learning" --top 3
  recollect gist "machine learning" --id doc_1 --id doc_7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			f, err := ff.build()
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.session.Search(ctx, strings.Join(args, " "), f)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if outcome.Empty {
				return fmt.Errorf("no results to synthesize")
			}

			picked := ids
			if len(picked) == 0 {
				for i, doc := range outcome.Documents {
					if i == top {
						break
					}
					picked = append(picked, doc.ID)
				}
			}
			for _, id := range picked {
				if _, _, err := a.session.Peel(id, selection.Position{}); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			synth, err := a.session.Synthesize(ctx, func(fragment string) {
				fmt.Fprint(out, fragment)
			})
			fmt.Fprintln(out)
			if err != nil {
				if synth != nil {
					return fmt.Errorf("synthesis %s: %w", synth.State, err)
				}
				return err
			}
			if synth.ArtifactID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "saved as %s\n", synth.ArtifactID)
			}
			return nil
		},
	}
	ff.register(cmd)
	cmd.Flags().StringSliceVar(&ids, "id", nil, "document ids to synthesize (defaults to the top results)")
	cmd.Flags().IntVarP(&top, "top", "n", 3, "number of top results to synthesize when no ids are given")
	return cmd
}

func syncCmd() *cobra.Command {
	var force bool
	run := func(name string, sync func(*collector.Collector, context.Context, bool) (collector.Report, error)) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Upload local " + name + " data for indexing",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := signalContext()
				defer cancel()

				a, err := newApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				report, err := sync(a.collector, ctx, force)
				if err != nil {
					return err
				}
				if report.Skipped {
					fmt.Printf("%s: last sync is recent, skipped (use --force)\n", report.Source)
					return nil
				}
				fmt.Printf("%s: uploaded %d of %d\n", report.Source, report.Uploaded, report.Found)
				return nil
			},
		}
	}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload locally collected data",
	}
	cmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "sync even if the last sync is within the interval")
	cmd.AddCommand(run("safari", (*collector.Collector).SyncSafari))
	cmd.AddCommand(run("notes", (*collector.Collector).SyncNotes))
	return cmd
}

func timeRangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timerange [0-100]",
		Short: "Show the time window a slider position selects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("slider value: %w", err)
			}
			tr, err := filters.RangeFromSlider(value)
			if err != nil {
				return err
			}
			fmt.Println(tr.Label())
			if start := tr.StartTime(time.Now()); start != "" {
				fmt.Println("start_time:", start)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent syntheses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.snapshots.Load()
			if err != nil {
				return err
			}
			if len(snap.Syntheses) == 0 {
				fmt.Println("No syntheses yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSTATE\tDOCS\tQUERY")
			for i, s := range snap.Syntheses {
				if limit > 0 && i == limit {
					break
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.At.Local().Format(time.DateTime), s.State, len(s.IDs), s.Query)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum entries")
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printDocuments(docs []results.Document, snippets bool) {
	for i, doc := range docs {
		fmt.Printf("%2d. %s [%s] %s\n", i+1, doc.DisplayTitle(), doc.DocType, doc.ID)
		if doc.URL != "" {
			fmt.Printf("    %s\n", doc.URL)
		}
		if snippets {
			for _, line := range strings.Split(results.Truncate(doc.Snippet(), 300), "\n") {
				fmt.Printf("    > %s\n", line)
			}
		}
	}
}
