/*
Package main is the entry point for the bitsquat command-line application.

bitsquat enumerates the single-bit-flip variants of domain names. A memory
error on a resolver, proxy or client can flip one bit in a stored hostname;
the flipped name is then resolved instead of the intended one. Registering
such variants ("bitsquatting") lets an attacker passively receive that
misdirected traffic. This tool shows, for a given domain, which bit-flipped
TLD variants are registrable against a reference TLD set and which
bit-flipped name variants exist, so defenders can audit and pre-register
them. All analysis is local; the tool performs no DNS or WHOIS lookups.

Its primary functionalities include:
  - Auditing domains given directly as arguments, from files, or from stdin.
  - Classifying bit-flipped TLD candidates against a reference TLD set
    (embedded in the binary, replaceable with --tld-file).
  - Rendering reports as human-readable text, CSV, or JSON lines, to stdout,
    a single file, or one file per input source.
  - Listing the reference TLD set.

The application uses the Cobra library for command-line interface structure
and flag parsing. It leverages several internal packages:
  - `internal/bitflip`: For the bit-flip enumeration and report rendering.
  - `internal/tldset`: For the reference TLD set candidates are classified against.
  - `internal/core`: For the core processing engine, including a concurrent
    scheduler, input normalization, and the audit pipeline.
  - `internal/io`: For asynchronous buffered output files.
  - `internal/metrics`: For exposing Prometheus metrics (opt-in via --metrics-port).

Graceful shutdown is handled via context cancellation triggered by OS
signals (SIGINT, SIGTERM); a cancelled run leaves partial outputs under
their .tmp names.
*/
package main

/*
bitsquat — bit-flip domain name auditing tool in Go
Copyright (C) 2025  Pepijn van der Stap <bitsquat@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/x-stp/bitsquat/internal/buildinfo"
	"github.com/x-stp/bitsquat/internal/core"
	"github.com/x-stp/bitsquat/internal/metrics"
)

// Global flags (persistent across commands)
var (
	tldFile      string
	debugLogging bool
)

// Flags specific to the scan command
var (
	outputPath  string
	outputDir   string
	format      string
	showInvalid bool
	tldOnly     bool
	showStats   bool
	bufferSize  int
	compress    bool
	workers     int
	rateLimit   float64
	metricsPort int
)

var rootCmd = &cobra.Command{
	Use:   "bitsquat [domain...]",
	Short: "bitsquat - A bit-flip domain name (bitsquatting) auditing tool",
	Long: `Enumerates single-bit-flip variants of domain names and classifies the
flipped TLD candidates against a reference TLD set. Domains given as
arguments are audited directly with a text report on stdout; use the scan
command for file input and output control.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Progress logging is opt-in; reports and statistics stay readable
		// without it. Errors still surface through command results.
		if !debugLogging {
			log.SetOutput(io.Discard)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		// Direct mode: arguments are domains, not files.
		src := core.Source{
			Name:   "args",
			Reader: strings.NewReader(strings.Join(args, "\n") + "\n"),
		}
		return runScan([]core.Source{src}, nil)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [file...]",
	Short: "Audit domains read from files or stdin",
	Long: `Reads one domain per line from the given files ("-" or no argument for
stdin), enumerates bit-flip variants, and writes one report per domain.
Blank lines and lines starting with '#' are ignored; malformed domains are
counted and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, closers, err := openSources(args)
		if err != nil {
			return err
		}
		return runScan(sources, closers)
	},
}

var tldsCmd = &cobra.Command{
	Use:   "tlds",
	Short: "List the reference TLD set used for classification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTlds()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildinfo.String())
	},
}

func init() {
	// Persistent flags (available for all commands)
	rootCmd.PersistentFlags().StringVar(&tldFile, "tld-file", "", "Reference TLD file (one TLD per line) instead of the embedded set")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")

	// Flags for the scan command
	scanCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file for all reports (default stdout)")
	scanCmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory with one report file per input source")
	scanCmd.Flags().StringVarP(&format, "format", "f", core.FormatText, "Report format: text, csv or jsonl")
	scanCmd.Flags().BoolVarP(&showInvalid, "show-invalid", "i", false, "Include unregistrable TLD variants in reports")
	scanCmd.Flags().BoolVarP(&tldOnly, "tld-only", "t", false, "Audit only the TLD, skip name variants")
	scanCmd.Flags().BoolVarP(&showStats, "stats", "s", true, "Show statistics during processing")
	scanCmd.Flags().IntVarP(&bufferSize, "buffer", "b", core.DefaultDiskBufferSize, "Internal buffer size in bytes for disk I/O")
	scanCmd.Flags().BoolVar(&compress, "compress", false, "Compress output files with gzip")
	scanCmd.Flags().IntVar(&workers, "workers", 0, "Number of worker goroutines (0 for auto based on CPU)")
	scanCmd.Flags().Float64Var(&rateLimit, "rate-limit", core.DefaultRatePerSec, "Per-worker audit rate limit in domains/second")
	scanCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Prometheus metrics port (0 disables the metrics server)")

	// Add subcommands to the root command
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(tldsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openSources opens the scan inputs. No arguments or "-" selects stdin.
// On error every already-opened file is closed before returning.
func openSources(args []string) ([]core.Source, []io.Closer, error) {
	if len(args) == 0 {
		return []core.Source{{Name: "stdin", Reader: os.Stdin}}, nil, nil
	}

	var sources []core.Source
	var closers []io.Closer
	for _, arg := range args {
		if arg == "-" {
			sources = append(sources, core.Source{Name: "stdin", Reader: os.Stdin})
			continue
		}
		f, err := os.Open(arg)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("failed to open input file %q: %w", arg, err)
		}
		sources = append(sources, core.Source{Name: arg, Reader: f})
		closers = append(closers, f)
	}
	return sources, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("Error closing input: %v", err)
		}
	}
}

// runScan is the handler for the scan command and the direct-domain mode.
func runScan(sources []core.Source, closers []io.Closer) error {
	defer closeAll(closers)

	log.Printf("Starting bit-flip scan: output=%q, output-dir=%q, format=%s, buffer=%d, stats=%t, compress=%t",
		outputPath, outputDir, format, bufferSize, showStats, compress)

	// 1. Initialize metrics (opt-in).
	if metricsPort > 0 {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(fmt.Sprintf(":%d", metricsPort)); err != nil {
			log.Printf("Failed to start metrics server: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := metrics.ShutdownMetricsServer(shutdownCtx); err != nil {
				log.Printf("Error shutting down metrics server: %v", err)
			}
		}()
	}

	// 2. Resolve the reference TLD set. A bad --tld-file aborts startup.
	ref, err := core.LoadReferenceTlds(tldFile)
	if err != nil {
		return err
	}

	// 3. Build the audit configuration.
	config := &core.AuditConfig{
		OutputPath:     outputPath,
		OutputDir:      outputDir,
		Format:         format,
		ShowInvalid:    showInvalid,
		TldOnly:        tldOnly,
		BufferSize:     bufferSize,
		CompressOutput: compress,
		Workers:        workers,
		RatePerSec:     rateLimit,
		ReferenceTlds:  ref,
	}

	// 4. Setup context and signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Ensure context is cancelled on exit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Goroutine to listen for signals and trigger shutdown
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		log.Printf("Received signal %v, initiating shutdown...", sig)
		fmt.Fprintf(os.Stderr, "\nInterrupt received, shutting down (partial outputs keep their .tmp names)...\n")
		cancel() // Cancel context first
	}()

	// 5. Create the auditor.
	auditor, err := core.NewAuditor(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create auditor: %w", err)
	}

	// 6. Launch stats display goroutine (if enabled).
	var statsWg sync.WaitGroup
	if showStats {
		statsWg.Add(1)
		go func() {
			defer statsWg.Done()
			displayAuditStats(ctx, auditor)
		}()
	}

	// 7. Start the audit (BLOCKING CALL).
	runErr := auditor.Run(sources)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Error during audit: %v", runErr)
	}
	log.Println("Main audit process finished or cancelled.")

	// 8. Ensure the stats goroutine finishes (if started).
	if showStats {
		cancel() // Ensure context is cancelled
		statsWg.Wait()
	}

	// 9. Display final stats.
	displayFinalAuditStats(auditor)

	if errors.Is(runErr, context.Canceled) {
		// Conventional exit code for termination by SIGINT.
		os.Exit(130)
	}
	return runErr
}

// displayAuditStats periodically shows audit progress on stderr, keeping
// stdout free for reports.
func displayAuditStats(ctx context.Context, auditor *core.Auditor) {
	ticker := time.NewTicker(core.StatsDisplayInterval)
	defer ticker.Stop()
	startTime := auditor.GetStats().StartTime

	for {
		select {
		case <-ticker.C:
			stats := auditor.GetStats()
			elapsed := time.Since(startTime).Seconds()
			if elapsed < 0.1 {
				elapsed = 0.1
			} // Avoid division by zero initially

			processed := stats.ProcessedDomains.Load()
			total := stats.TotalDomains.Load()
			domainsPerSec := float64(processed) / elapsed

			// Use carriage return to update the line in place
			fmt.Fprintf(os.Stderr, "\rProcessed: %d/%d domains | Variants: %d TLD / %d name | Registrable: %d | Skipped: %d | Rate: %.0f dom/s | Written: %.2fMB | Retries: %.2f%%",
				processed,
				total,
				stats.TldVariantsFound.Load(),
				stats.NameVariantsFound.Load(),
				stats.RegistrableFound.Load(),
				stats.SkippedInputs.Load(),
				domainsPerSec,
				float64(stats.OutputBytesWritten.Load())/(1024*1024),
				stats.GetRetryRate()*100,
			)
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return
		}
	}
}

// displayFinalAuditStats shows the summary statistics at the end.
func displayFinalAuditStats(auditor *core.Auditor) {
	stats := auditor.GetStats()
	elapsed := time.Since(stats.StartTime)
	processed := stats.ProcessedDomains.Load()
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(processed) / elapsed.Seconds()
	}

	// Ensure the final stats appear on a new line after the progress indicator
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "\n--- Final Bit-Flip Audit Statistics ---\n")
	fmt.Fprintf(os.Stderr, "  Processing Time: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "    Total Domains: %d\n", stats.TotalDomains.Load())
	fmt.Fprintf(os.Stderr, "Processed Domains: %d (%.2f%% first try)\n",
		processed,
		float64(stats.SuccessFirstTry.Load())/float64(processed+1)*100) // +1 to avoid div by zero if no domains
	fmt.Fprintf(os.Stderr, "   Failed Domains: %d\n", stats.FailedDomains.Load())
	fmt.Fprintf(os.Stderr, "   Skipped Inputs: %d\n", stats.SkippedInputs.Load())
	fmt.Fprintf(os.Stderr, "     TLD Variants: %d considered\n", stats.TldVariantsFound.Load())
	fmt.Fprintf(os.Stderr, "    Name Variants: %d generated\n", stats.NameVariantsFound.Load())
	fmt.Fprintf(os.Stderr, " Registrable Hits: %d\n", stats.RegistrableFound.Load())
	fmt.Fprintf(os.Stderr, "     Overall Rate: %.0f domains/sec\n", rate)
	fmt.Fprintf(os.Stderr, "       Retry Rate: %.2f%% (Total Retries: %d)\n",
		stats.GetRetryRate()*100, stats.RetryCount.Load())
	fmt.Fprintf(os.Stderr, "   Output Written: %.2f MB\n", float64(stats.OutputBytesWritten.Load())/(1024*1024))
	fmt.Fprintf(os.Stderr, "---------------------------------------\n")
}

// listTlds is the handler for the 'tlds' command.
func listTlds() error {
	tlds, err := core.ListReferenceTlds(tldFile)
	if err != nil {
		return fmt.Errorf("error listing reference TLDs: %w", err)
	}

	for _, tld := range tlds {
		fmt.Printf(".%s\n", tld)
	}

	// Print final count
	fmt.Printf("Found %d reference TLDs\n", len(tlds))
	return nil
}
