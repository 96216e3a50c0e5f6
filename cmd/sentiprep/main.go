package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cognicore/sentiprep/pkg/sentiprep"
	"github.com/cognicore/sentiprep/pkg/sentiprep/config"
	"github.com/cognicore/sentiprep/pkg/sentiprep/extract"
	"github.com/cognicore/sentiprep/pkg/sentiprep/fingerprint"
)

type options struct {
	configPath string
	file       string
	format     string
	text       string
	offline    bool
	jsonOut    bool
	pretty     bool
	stats      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file (optional)")
	flag.StringVar(&opts.file, "file", "", "CSV or JSON file to analyze, - for stdin")
	flag.StringVar(&opts.format, "format", "", "Input format (csv|json); detected from the file extension when empty")
	flag.StringVar(&opts.text, "text", "", "Analyze a single text instead of a file")
	flag.BoolVar(&opts.offline, "offline", false, "Use keyword sentiment and skip the model service")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print the full result as JSON")
	flag.BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")
	flag.BoolVar(&opts.stats, "stats", false, "Print cache statistics after the run")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	if (opts.file == "") == (opts.text == "") {
		return fmt.Errorf("exactly one of --file or --text is required")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loader := config.Loader{
		Config:     cfg,
		Offline:    opts.offline,
		Registerer: prometheus.NewRegistry(),
	}
	comp, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	var res *sentiprep.AggregateResult
	if opts.text != "" {
		res, err = comp.Engine.AnalyzeText(ctx, opts.text)
	} else {
		var (
			format extract.Format
			buf    []byte
		)
		format, err = resolveFormat(opts.file, opts.format)
		if err != nil {
			return err
		}
		buf, err = readInput(opts.file, stdin, cfg.Limits.MaxBytes)
		if err != nil {
			return err
		}
		res, err = comp.Engine.AnalyzeFile(ctx, buf, format)
	}
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if opts.jsonOut || opts.pretty {
		enc := json.NewEncoder(stdout)
		if opts.pretty {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(stdout, res)
	}

	if opts.stats {
		fmt.Fprintln(stdout, "\nCache:")
		for _, op := range []fingerprint.Op{fingerprint.OpDetect, fingerprint.OpTranslate, fingerprint.OpInfer} {
			s := comp.Cache.Stats(op)
			fmt.Fprintf(stdout, "  %-9s entries=%d hits=%d l2_hits=%d misses=%d evictions=%d\n",
				op, comp.Cache.Len(op), s.Hits, s.L2Hits, s.Misses, s.Evictions)
		}
	}
	return nil
}

// resolveFormat prefers an explicit format over the file extension.
func resolveFormat(file, format string) (extract.Format, error) {
	if format != "" {
		return extract.ParseFormat(format)
	}
	if file == "-" {
		return "", fmt.Errorf("--format is required when reading stdin")
	}
	return extract.DetectFormat(file)
}

// readInput reads one byte past limit so the extractor can report an
// oversized payload instead of silently analyzing a prefix.
func readInput(file string, stdin io.Reader, limit int64) ([]byte, error) {
	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return buf, nil
}

func printResult(w io.Writer, res *sentiprep.AggregateResult) {
	s := res.Summary
	fmt.Fprintf(w, "Job %s: %d records, %d units in %s\n", res.JobID, res.Stats.Records, res.Stats.Units, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Languages: %s\n", strings.Join(res.Languages, ", "))
	fmt.Fprintf(w, "Positive %d  Neutral %d  Negative %d  Errored %d\n", s.Positive, s.Neutral, s.Negative, s.Errored)
	d := res.Stats.Dispatch
	fmt.Fprintf(w, "Inference: %d calls, %d cache hits, %d deduplicated, %d errors\n", d.Calls, d.CacheHits, d.Deduplicated, d.Errors)
	if res.Stats.Translated > 0 || res.Stats.TranslationFailed > 0 {
		fmt.Fprintf(w, "Translation: %d units translated, %d failed\n", res.Stats.Translated, res.Stats.TranslationFailed)
	}

	fmt.Fprintln(w)
	for _, rec := range res.Records {
		label := string(rec.Label)
		if label == "" {
			label = "error"
		}
		fmt.Fprintf(w, "%-4d %-8s %.2f [%s] %s\n", rec.Record.Index, label, rec.Confidence, rec.SourceLang, preview(rec.Record.Text, 60))
		for _, e := range rec.Errors {
			fmt.Fprintf(w, "       ! %s\n", e)
		}
	}

	if res.Insights != nil && len(res.Insights.Lines) > 0 {
		fmt.Fprintln(w, "\nInsights:")
		for _, line := range res.Insights.Lines {
			fmt.Fprintln(w, "  •", line)
		}
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
