package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/epidata/client"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/printer"
	"github.com/bascanada/epidata/pkg/query"
	"github.com/bascanada/epidata/pkg/ty"
)

// parseVars turns key=value flags into a map.
func parseVars(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", f)
		}
		out[key] = value
	}
	return out, nil
}

// buildRequest creates a factory request from the CLI flags.
func buildRequest(kind string) (factory.Request, error) {
	req := factory.Request{
		Engine:   engineName,
		Kind:     kind,
		Inherits: inherits,
	}

	fq, err := query.ParseFlags(fields)
	if err != nil {
		return req, err
	}
	if fieldsFile != "" {
		ms := ty.MS{}
		if err := ms.LoadMS(fieldsFile); err != nil {
			return req, fmt.Errorf("reading fields file: %w", err)
		}
		fromFile, err := query.FromMS(ms)
		if err != nil {
			return req, err
		}
		fq = fromFile.Merge(fq)
	}
	if len(fq) > 0 {
		req.Query.Fields = fq
	}

	if from != "" {
		req.Query.Range.Begin.S(from)
	}
	if to != "" {
		req.Query.Range.End.S(to)
	}
	if last != "" {
		req.Query.Range.Last.S(last)
	}

	flagVars, err := parseVars(vars)
	if err != nil {
		return req, err
	}
	fileVars := ty.MS{}
	if varsFile != "" {
		if err := fileVars.LoadMS(varsFile); err != nil {
			return req, fmt.Errorf("reading variables file: %w", err)
		}
	}
	req.Variables = ty.MergeM(fileVars, flagVars)
	return req, nil
}

// printOptions reads the output flags.
func printOptions() (printer.Options, error) {
	format, err := printer.ParseFormat(outputFormat)
	if err != nil {
		return printer.Options{}, err
	}
	opts := printer.Options{Format: format}
	switch strings.ToLower(colorMode) {
	case "", "auto":
	case "always":
		on := true
		opts.Color = &on
	case "never":
		off := false
		opts.Color = &off
	default:
		return opts, fmt.Errorf("invalid --color %q, expected auto, always or never", colorMode)
	}
	return opts, nil
}

// output opens the destination of the results. Parquet is binary and is
// refused on a terminal without --out.
func output(w io.Writer, format printer.Format) (io.Writer, func() error, error) {
	if outputFile == "" {
		if format == printer.FormatParquet {
			if f, ok := w.(*os.File); ok && f == os.Stdout && isTerminal(f) {
				return nil, nil, fmt.Errorf("parquet output needs --out or a redirected stdout")
			}
		}
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RunQuery runs req and prints the resulting table to w.
func RunQuery(ctx context.Context, w io.Writer, qf factory.QueryFactory, req factory.Request, opts printer.Options) error {
	result, err := qf.Run(ctx, req)
	if err != nil {
		return err
	}
	return printer.Print(w, result.Table, opts)
}

// RunKeys lists the keys of an engine and prints them to w.
func RunKeys(ctx context.Context, w io.Writer, qf factory.QueryFactory, engine string, opts printer.Options) error {
	t, err := qf.ListKeys(ctx, engine)
	if err != nil {
		return err
	}
	return printer.Print(w, t, opts)
}

// withEngines loads the configuration, opens its engines for the duration
// of fn and cancels on interrupt.
func withEngines(cmd *cobra.Command, fn func(ctx context.Context, qf factory.QueryFactory, cfgContext string) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	engines, qf, err := openFactories(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engines.Close(); err != nil {
			cmd.PrintErrln("error closing engines:", err)
		}
	}()

	return fn(ctx, qf, selectedContext(cfg))
}

var queryCommand = &cobra.Command{
	Use:   "query [original|cleansed|summary]",
	Short: "Query measurements over a time range",
	Long: `Query measurements over the time range [from, to).

The kind selects the engine view: original measurements (the default),
cleansed measurements without failed or flagged values, or a summary per
measurement key.

Examples:
  # Last day of a configured context
  epidata query -i daily --last 24h

  # Cleansed measurements of two sites, as CSV
  epidata query cleansed -e lite -f company=Company-1 -f site=Site-1,Site-2 \
    --from 2015-04-02T00:00:00Z --to 2015-04-03T00:00:00Z -o csv

  # Without a config file, launching the engine artifact directly
  epidata query summary --classpath ./epidata-spark-assembly.jar --last 1h -o parquet --out summary.parquet`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(client.KindOriginal), string(client.KindCleansed), string(client.KindSummary)},
	PreRun:    onCommandStart,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) == 1 {
			kind = args[0]
		}
		if _, err := client.ParseKind(kind); err != nil {
			return err
		}

		req, err := buildRequest(kind)
		if err != nil {
			return err
		}
		opts, err := printOptions()
		if err != nil {
			return err
		}
		w, closeOut, err := output(cmd.OutOrStdout(), opts.Format)
		if err != nil {
			return err
		}

		err = withEngines(cmd, func(ctx context.Context, qf factory.QueryFactory, cfgContext string) error {
			req.ContextID = cfgContext
			return RunQuery(ctx, w, qf, req, opts)
		})
		if cerr := closeOut(); err == nil {
			err = cerr
		}
		return err
	},
}

var keysCommand = &cobra.Command{
	Use:    "keys",
	Short:  "List the measurement keys known to an engine",
	Args:   cobra.NoArgs,
	PreRun: onCommandStart,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := printOptions()
		if err != nil {
			return err
		}
		w, closeOut, err := output(cmd.OutOrStdout(), opts.Format)
		if err != nil {
			return err
		}

		err = withEngines(cmd, func(ctx context.Context, qf factory.QueryFactory, _ string) error {
			return RunKeys(ctx, w, qf, engineName, opts)
		})
		if cerr := closeOut(); err == nil {
			err = cerr
		}
		return err
	},
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, csv, json or parquet")
	cmd.Flags().StringVar(&outputFile, "out", "", "write the output to this file instead of stdout")
	cmd.Flags().StringVar(&colorMode, "color", "auto", "colorize output: auto, always or never")
	_ = cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		names := make([]string, 0, len(printer.Formats))
		for _, f := range printer.Formats {
			names = append(names, string(f))
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

func init() {
	queryCommand.Flags().StringVarP(&contextID, "id", "i", "", "context id to execute")
	_ = queryCommand.RegisterFlagCompletionFunc("id", completeContextIDs)
	queryCommand.Flags().StringArrayVar(&inherits, "inherits", []string{}, "saved queries to merge before the flags")
	queryCommand.Flags().StringArrayVar(&vars, "var", []string{}, "context variable as key=value")

	queryCommand.Flags().StringArrayVarP(&fields, "field", "f", []string{}, "field filter: key=value, or key=a,b for any of a set")
	queryCommand.Flags().StringVar(&fieldsFile, "fields-file", "", "file of key=value field filters, overridden by --field")
	queryCommand.Flags().StringVar(&varsFile, "vars-file", "", "file of key=value context variables, overridden by --var")
	queryCommand.Flags().StringVar(&from, "from", "", "inclusive start: RFC3339, date-time or duration back from now")
	queryCommand.Flags().StringVar(&to, "to", "", "exclusive end, defaults to now")
	queryCommand.Flags().StringVar(&last, "last", "", "window ending at --to, e.g. 24h")

	addEngineFlags(queryCommand)
	addOutputFlags(queryCommand)

	addEngineFlags(keysCommand)
	addOutputFlags(keysCommand)
}
