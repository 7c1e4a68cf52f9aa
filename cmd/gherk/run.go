package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/gherk"
	"pkt.systems/pslog"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [folder|file]",
		Short: "Execute .feature files",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runE,
	}

	addLoggingFlags(runCmd.Flags())
	runCmd.Flags().String("env", "", "Path to env file with key: value lines")
	runCmd.Flags().StringArray("var", nil, "Override scope variable (key=value)")
	runCmd.Flags().StringSlice("steps", nil, "JavaScript step definition files (repeatable)")
	runCmd.Flags().String("base-url", "", "Base URL for the built-in HTTP steps")
	runCmd.Flags().StringSlice("tags", nil, "Only run scenarios with these tags")
	runCmd.Flags().StringSlice("exclude-tags", nil, "Skip scenarios with these tags")
	runCmd.Flags().Bool("bail", false, "Stop after first failed or errored scenario")
	runCmd.Flags().BoolP("recursive", "r", true, "Recurse into subfolders")
	runCmd.Flags().Int("timeout", 15, "Per-step timeout seconds")
	runCmd.Flags().Bool("parallel", false, "Run scenarios in parallel")
	runCmd.Flags().Int("workers", 0, "Worker pool size for --parallel (0 = GOMAXPROCS)")
	runCmd.Flags().StringP("output", "o", "", "Write summary to file (see --format)")
	runCmd.Flags().StringP("format", "f", "json", "Output format: json|junit|html")
	runCmd.Flags().String("reporter-json", "", "Write JSON report to path")
	runCmd.Flags().String("reporter-junit", "", "Write JUnit XML report to path")
	runCmd.Flags().String("reporter-html", "", "Write HTML report to path")
	runCmd.Flags().Bool("insecure", false, "Skip TLS verification for HTTP steps")

	return runCmd
}

func newLogger(structured bool, level string, flagSet bool, caller bool, w io.Writer) (pslog.Logger, error) {
	if w == nil {
		w = os.Stdout
	}

	var logger pslog.Logger
	opts := pslog.Options{CallerKeyval: caller}
	if structured {
		opts.Mode = pslog.ModeStructured
	}
	logger = pslog.NewWithOptions(w, opts)

	logger = logger.LogLevel(pslog.InfoLevel)

	if flagSet {
		if lvl, ok := pslog.ParseLevel(level); ok {
			return logger.LogLevel(lvl), nil
		}
		return nil, fmt.Errorf("unknown level %q", level)
	}

	if lvl, ok := pslog.LevelFromEnv("LOG_LEVEL"); ok {
		return logger.LogLevel(lvl), nil
	}
	if lvl, ok := pslog.ParseLevel(level); ok {
		return logger.LogLevel(lvl), nil
	}
	return logger, nil
}

func runE(cmd *cobra.Command, args []string) error {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	envPath, _ := cmd.Flags().GetString("env")
	varsList, _ := cmd.Flags().GetStringArray("var")
	stepFiles, _ := cmd.Flags().GetStringSlice("steps")
	baseURL, _ := cmd.Flags().GetString("base-url")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	exclude, _ := cmd.Flags().GetStringSlice("exclude-tags")
	bail, _ := cmd.Flags().GetBool("bail")
	recursive, _ := cmd.Flags().GetBool("recursive")
	timeoutSec, _ := cmd.Flags().GetInt("timeout")
	parallel, _ := cmd.Flags().GetBool("parallel")
	workers, _ := cmd.Flags().GetInt("workers")
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	reportJSON, _ := cmd.Flags().GetString("reporter-json")
	reportJUnit, _ := cmd.Flags().GetString("reporter-junit")
	reportHTML, _ := cmd.Flags().GetString("reporter-html")
	insecure, _ := cmd.Flags().GetBool("insecure")

	logger := loggerFromCmd(cmd)

	// --env local resolves to environments/local.env
	if envPath != "" {
		if !strings.Contains(envPath, string(os.PathSeparator)) && !strings.HasSuffix(envPath, ".env") {
			envPath = filepath.Join("environments", envPath+".env")
		}
		if _, err := os.Stat(envPath); err != nil {
			logger.Fatal("env file not found", "path", envPath, "err", err)
			return nil
		}
	}

	vars := map[string]string{}
	for _, kv := range varsList {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			logger.Fatal("invalid --var", "value", kv)
			return nil
		}
		vars[parts[0]] = parts[1]
	}

	reg := gherk.NewRegistry()
	if err := gherk.RegisterHTTPSteps(reg, gherk.HTTPStepOptions{
		BaseURL: baseURL,
		Client:  buildHTTPClient(insecure, timeoutSec),
	}); err != nil {
		logger.Fatal("register http steps", "err", err)
		return nil
	}
	if err := gherk.LoadScriptSteps(reg, stepFiles, logger); err != nil {
		logger.Fatal("load step scripts", "err", err)
		return nil
	}

	g, err := gherk.New(cmd.Context(),
		gherk.WithLogger(logger),
		gherk.WithRegistry(reg),
		gherk.WithTimeout(time.Duration(timeoutSec)*time.Second),
		gherk.WithWorkers(workers),
	)
	if err != nil {
		logger.Fatal("init", "err", err)
		return nil
	}

	opts := gherk.RunOptions{
		EnvPath:       envPath,
		Vars:          vars,
		Tags:          tags,
		ExcludeTags:   exclude,
		Bail:          bail,
		Parallel:      parallel,
		Workers:       workers,
		Recursive:     recursive,
		RecursiveSet:  true,
		OutputPath:    output,
		OutputFormat:  format,
		ReporterJSON:  reportJSON,
		ReporterJUnit: reportJUnit,
		ReporterHTML:  reportHTML,
	}
	if timeoutSec > 0 {
		opts.Timeout = time.Duration(timeoutSec) * time.Second
	}

	info, err := os.Stat(target)
	if err != nil {
		logger.Fatal("stat", "path", target, "err", err)
		return nil
	}

	var summary gherk.RunSummary
	if info.IsDir() {
		summary, err = g.RunFolder(cmd.Context(), target, opts)
	} else {
		summary, err = g.RunFile(cmd.Context(), target, opts)
	}
	if err != nil {
		logger.Fatal("run", "err", err)
		return nil
	}
	if err := writeOutputs(opts, summary, logger); err != nil {
		logger.Fatal("report", "err", err)
		return nil
	}
	printSummary(summary, logger)
	if !summary.OK() {
		logger.Fatal("run not clean",
			"failed", summary.Failed,
			"errored", summary.Errored,
			"parseErrors", len(summary.ParseErrors))
	}
	return nil
}

func buildHTTPClient(insecure bool, timeoutSec int) *http.Client {
	client := &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
	if insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // user opted in
			Proxy:           http.ProxyFromEnvironment,
		}
	}
	return client
}

func printSummary(sum gherk.RunSummary, logger pslog.Base) {
	for _, sc := range sum.Scenarios {
		printScenario(sc, logger)
	}
	for _, pe := range sum.ParseErrors {
		logger.Error("parse", "err", pe)
	}
	logger.Info("summary",
		"total", sum.Total,
		"passed", sum.Passed,
		"failed", sum.Failed,
		"errored", sum.Errored,
		"skipped", sum.Skipped,
		"cancelled", sum.Cancelled,
		"elapsed", sum.TotalElapsed.String())
}

func printScenario(res gherk.ScenarioResult, logger pslog.Base) {
	switch res.Status {
	case gherk.ScenarioPassed:
		logger.Info("pass", "feature", res.Feature, "scenario", res.Name, "dur", res.Duration.String())
	case gherk.ScenarioSkipped:
		logger.Info("skip", "feature", res.Feature, "scenario", res.Name)
	case gherk.ScenarioCancelled:
		logger.Warn("cancelled", "feature", res.Feature, "scenario", res.Name)
	default:
		logger.Error(res.Status.String(),
			"feature", res.Feature,
			"scenario", res.Name,
			"file", res.FilePath,
			"dur", res.Duration.String(),
			"err", res.Error)
		for _, st := range res.Steps {
			if st.Status == gherk.StepPassed || st.Status == gherk.StepSkipped {
				continue
			}
			logger.Error("step", "keyword", st.Keyword, "text", st.Text, "status", st.Status.String(), "err", st.Error)
		}
	}
}

func writeOutputs(opts gherk.RunOptions, sum gherk.RunSummary, logger pslog.Base) error {
	if opts.OutputPath != "" {
		if err := gherk.WriteReport(opts.OutputFormat, opts.OutputPath, sum); err != nil {
			return err
		}
	}
	if opts.ReporterJSON != "" {
		if err := gherk.WriteReportJSON(opts.ReporterJSON, sum); err != nil {
			return err
		}
	}
	if opts.ReporterJUnit != "" {
		if err := gherk.WriteReportJUnit(opts.ReporterJUnit, sum); err != nil {
			return err
		}
	}
	if opts.ReporterHTML != "" {
		if err := gherk.WriteReportHTML(opts.ReporterHTML, sum); err != nil {
			return err
		}
	}
	return nil
}
