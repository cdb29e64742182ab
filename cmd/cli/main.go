package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"goabtest/adapters/loader"
	"goabtest/adapters/rng"
	"goabtest/adapters/scenario"
	"goabtest/app"
	"goabtest/internal"
	"goabtest/internal/config"
	"goabtest/internal/cuped"
	"goabtest/internal/report"
	"goabtest/internal/simulate"
	"goabtest/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// env is the state shared by every subcommand
type env struct {
	cfg      *config.Config
	logger   *internal.Logger
	rngPort  ports.RNGPort
	scenario *scenario.Scenario
}

func main() {
	// A missing .env file is fine; the process environment is used as is
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	e := &env{
		cfg:     cfg,
		logger:  internal.NewLogger(cfg.LogLevel),
		rngPort: rng.NewAdapter(),
	}

	if err := newRootCmd(e).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree around e
func newRootCmd(e *env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "goabtest",
		Short: "CUPED and regression adjustment for A/B experiments",
		Long: `goabtest estimates treatment effects in randomised experiments with
variance reduction: CUPED on a pre-period covariate, and OLS/logistic
regression on user covariates.

Configuration is read from the environment (and a .env file when present):
ABTEST_SAMPLE_SIZE, ABTEST_SEED, ABTEST_PERMUTATIONS, ABTEST_WORKERS,
ABTEST_ALPHA, ABTEST_FALLBACK, ABTEST_COVARIANCE, ABTEST_DATA_FILE,
ABTEST_SCENARIO_FILE and LOG_LEVEL. Flags override the environment.`,
		SilenceUsage: true,
	}

	var scenarioPath string
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "scenario", e.cfg.Paths.ScenarioFile, "JSON scenario file overriding simulation parameters")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return e.loadScenario(scenarioPath)
	}

	rootCmd.AddCommand(
		newSimulateCmd(e),
		newCUPEDCmd(e),
		newRegressCmd(e),
		newReportCmd(e),
	)

	return rootCmd
}

func (e *env) loadScenario(path string) error {
	s := scenario.Default()
	s.CUPED.N = e.cfg.Experiment.SampleSize
	s.CUPED.Seed = e.cfg.Experiment.Seed
	s.Regression.N = e.cfg.Experiment.SampleSize
	s.Regression.Seed = e.cfg.Experiment.Seed

	if path != "" {
		loaded, err := scenario.LoadOnto(s, path)
		if err != nil {
			return err
		}
		e.logger.Info("Loaded scenario %q from %s", loaded.Name, path)
		s = loaded
		if s.Analysis.Permutations > 0 {
			e.cfg.Analysis.Permutations = s.Analysis.Permutations
		}
		if s.Analysis.Alpha > 0 {
			e.cfg.Analysis.Alpha = s.Analysis.Alpha
		}
		if s.Analysis.Fallback != nil {
			e.cfg.Analysis.Fallback = *s.Analysis.Fallback
		}
	}
	e.scenario = s
	return nil
}

// sampleFlags are the --n/--seed overrides shared by the generating commands
type sampleFlags struct {
	n    int
	seed uint64
}

func (f *sampleFlags) register(cmd *cobra.Command, e *env) {
	cmd.Flags().IntVar(&f.n, "n", e.cfg.Experiment.SampleSize, "Number of simulated units")
	cmd.Flags().Uint64Var(&f.seed, "seed", e.cfg.Experiment.Seed, "Random seed for deterministic operations")
}

func (f *sampleFlags) cupedConfig(cmd *cobra.Command, e *env) simulate.CUPEDConfig {
	c := e.scenario.CUPED
	if cmd.Flags().Changed("n") {
		c.N = f.n
	}
	if cmd.Flags().Changed("seed") {
		c.Seed = f.seed
	}
	return c
}

func (f *sampleFlags) regressionConfig(cmd *cobra.Command, e *env) simulate.RegressionConfig {
	c := e.scenario.Regression
	if cmd.Flags().Changed("n") {
		c.N = f.n
	}
	if cmd.Flags().Changed("seed") {
		c.Seed = f.seed
	}
	return c
}

// analysisFlags configure the CUPED analysis
type analysisFlags struct {
	permutations int
	workers      int
	alpha        float64
	fallback     bool
	covariance   string
}

func (f *analysisFlags) register(cmd *cobra.Command, e *env) {
	cmd.Flags().IntVar(&f.permutations, "permutations", e.cfg.Analysis.Permutations, "Permutation shuffles (0 disables)")
	cmd.Flags().IntVar(&f.workers, "workers", e.cfg.Analysis.Workers, "Concurrent permutation workers")
	cmd.Flags().Float64Var(&f.alpha, "alpha", e.cfg.Analysis.Alpha, "Significance level")
	cmd.Flags().BoolVar(&f.fallback, "fallback", e.cfg.Analysis.Fallback, "Analyse the raw metric when CUPED cannot be applied")
	cmd.Flags().StringVar(&f.covariance, "covariance", e.cfg.Analysis.Convention.String(), "Moment convention: population|sample")
}

func (f *analysisFlags) request(cmd *cobra.Command, e *env, seed uint64) (app.AnalysisRequest, error) {
	req := app.DefaultAnalysisRequest()
	convention, err := cuped.ParseConvention(f.covariance)
	if err != nil {
		return req, err
	}
	req.Convention = convention
	req.Workers = f.workers
	req.Seed = seed

	// Scenario values apply unless the flag was given explicitly
	req.Permutations = e.cfg.Analysis.Permutations
	req.Alpha = e.cfg.Analysis.Alpha
	req.FallbackOnDegenerate = e.cfg.Analysis.Fallback
	if cmd.Flags().Changed("permutations") {
		req.Permutations = f.permutations
	}
	if cmd.Flags().Changed("alpha") {
		req.Alpha = f.alpha
	}
	if cmd.Flags().Changed("fallback") {
		req.FallbackOnDegenerate = f.fallback
	}
	return req, nil
}

func newSimulateCmd(e *env) *cobra.Command {
	var samples sampleFlags
	var out, kind string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic experiment and write it to CSV or XLSX",
		Long: `Generate a synthetic experiment.

--kind cuped writes pre, post and treatment columns.
--kind regression writes treatment, age, engagement, revenue and converted.

Example: goabtest simulate --n 5000 --seed 7 --out experiment.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch kind {
			case "cuped":
				ds, err := simulate.NewCUPEDGenerator(samples.cupedConfig(cmd, e), e.rngPort).Generate(ctx)
				if err != nil {
					return err
				}
				if err := loader.WriteDataset(out, ds); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d observations to %s (fingerprint %s)\n", ds.Len(), out, ds.Fingerprint().Short())
			case "regression":
				sample, err := simulate.NewRegressionGenerator(samples.regressionConfig(cmd, e), e.rngPort).Generate(ctx)
				if err != nil {
					return err
				}
				if err := loader.WriteRegressionSample(out, sample); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d users to %s\n", sample.Len(), out)
			default:
				return fmt.Errorf("unknown kind %q (want cuped|regression)", kind)
			}
			return nil
		},
	}

	samples.register(cmd, e)
	cmd.Flags().StringVar(&out, "out", "experiment.csv", "Output file (.csv or .xlsx)")
	cmd.Flags().StringVar(&kind, "kind", "cuped", "Dataset kind: cuped|regression")

	return cmd
}

func newCUPEDCmd(e *env) *cobra.Command {
	var samples sampleFlags
	var analysis analysisFlags
	var dataFile string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "cuped",
		Short: "Run a CUPED analysis on a data file or a simulated experiment",
		Long: `Adjust the post-period metric by the pre-period metric and compare
Welch t-tests on the raw and adjusted metric.

Example: goabtest cuped --data experiment.csv --permutations 2000 --fallback`,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := cupedSource(cmd, e, &samples, dataFile)
			req, err := analysis.request(cmd, e, samples.cupedConfig(cmd, e).Seed)
			if err != nil {
				return err
			}

			svc := app.NewExperimentService(e.rngPort, e.logger)
			result, err := svc.AnalyzeCUPED(cmd.Context(), source, req)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printCUPED(cmd.OutOrStdout(), result)
			return nil
		},
	}

	samples.register(cmd, e)
	analysis.register(cmd, e)
	cmd.Flags().StringVar(&dataFile, "data", e.cfg.Paths.DataFile, "CSV/XLSX file with pre, post and treatment columns (simulates when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full analysis as JSON")

	return cmd
}

func newRegressCmd(e *env) *cobra.Command {
	var samples sampleFlags
	var dataFile string
	var alpha float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "regress",
		Short: "Estimate the treatment effect with OLS and logistic regression",
		Long: `Compare the naive difference of means against OLS with and without the
age and engagement covariates, and fit a logistic model of conversion.

Example: goabtest regress --n 2000 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := regressionSource(cmd, e, &samples, dataFile)
			sample, err := source.LoadRegressionSample(cmd.Context())
			if err != nil {
				return err
			}

			// Scenario alpha applies unless the flag was given explicitly
			if !cmd.Flags().Changed("alpha") {
				alpha = e.cfg.Analysis.Alpha
			}

			svc := app.NewExperimentService(e.rngPort, e.logger)
			result, err := svc.AnalyzeRegression(cmd.Context(), sample, alpha)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printRegression(cmd.OutOrStdout(), result)
			return nil
		},
	}

	samples.register(cmd, e)
	cmd.Flags().StringVar(&dataFile, "data", "", "CSV/XLSX file with regression columns (simulates when empty)")
	cmd.Flags().Float64Var(&alpha, "alpha", e.cfg.Analysis.Alpha, "Significance level")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full analysis as JSON")

	return cmd
}

func newReportCmd(e *env) *cobra.Command {
	var samples sampleFlags
	var analysis analysisFlags
	var dataFile, regressionFile, format, out, title string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run both analyses and write a Markdown or HTML report",
		Long: `Run the CUPED and regression analyses and render a report.

Example: goabtest report --data experiment.csv --format html --out report.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			req, err := analysis.request(cmd, e, samples.cupedConfig(cmd, e).Seed)
			if err != nil {
				return err
			}

			svc := app.NewExperimentService(e.rngPort, e.logger)
			cupedResult, err := svc.AnalyzeCUPED(ctx, cupedSource(cmd, e, &samples, dataFile), req)
			if err != nil {
				return err
			}

			sample, err := regressionSource(cmd, e, &samples, regressionFile).LoadRegressionSample(ctx)
			if err != nil {
				return err
			}
			regressionResult, err := svc.AnalyzeRegression(ctx, sample, req.Alpha)
			if err != nil {
				return err
			}

			if title == "" && e.scenario.Name != "default" {
				title = "Experiment report: " + e.scenario.Name
			}
			rendered, err := (&report.Report{
				Title:      title,
				CUPED:      cupedResult,
				Regression: regressionResult,
			}).Render(f)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(rendered)
				return err
			}
			if err := os.WriteFile(out, rendered, 0o644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			e.logger.Info("Report written to %s", out)
			return nil
		},
	}

	samples.register(cmd, e)
	analysis.register(cmd, e)
	cmd.Flags().StringVar(&dataFile, "data", e.cfg.Paths.DataFile, "CUPED data file (simulates when empty)")
	cmd.Flags().StringVar(&regressionFile, "regression-data", "", "Regression data file (simulates when empty)")
	cmd.Flags().StringVar(&format, "format", "md", "Report format: md|html")
	cmd.Flags().StringVar(&out, "out", "-", "Output file (- for stdout)")
	cmd.Flags().StringVar(&title, "title", "", "Report title")

	return cmd
}

func cupedSource(cmd *cobra.Command, e *env, samples *sampleFlags, dataFile string) ports.DatasetSource {
	if dataFile != "" {
		return loader.NewSource(dataFile)
	}
	return simulate.NewCUPEDGenerator(samples.cupedConfig(cmd, e), e.rngPort)
}

func regressionSource(cmd *cobra.Command, e *env, samples *sampleFlags, dataFile string) ports.RegressionSource {
	if dataFile != "" {
		return loader.NewSource(dataFile)
	}
	return simulate.NewRegressionGenerator(samples.regressionConfig(cmd, e), e.rngPort)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCUPED(w io.Writer, a *app.CUPEDAnalysis) {
	fmt.Fprintf(w, "Run %s on %s (n=%d, control=%d, treatment=%d)\n", a.RunID, a.DatasetName, a.N, a.ControlN, a.TreatmentN)
	if a.Fallback {
		fmt.Fprintf(w, "CUPED not applied: %s\n", a.FallbackReason)
	} else if adj := a.Adjustment; adj != nil {
		fmt.Fprintf(w, "theta=%.6f  rho=%.4f  variance %.4f -> %.4f (%.2f%% reduction)\n",
			adj.Theta, adj.Correlation, adj.OriginalVariance, adj.AdjustedVariance, adj.VarianceReduction)
	}
	fmt.Fprintf(w, "raw:      %s\n", a.Raw)
	if !a.Fallback {
		fmt.Fprintf(w, "adjusted: %s\n", a.Adjusted)
		fmt.Fprintf(w, "standard error reduction: %.1f%%\n", a.StandardErrorReduction())
	}
	if p := a.RawPermutation; p != nil {
		fmt.Fprintf(w, "permutation (raw):      p=%.4g over %d shuffles\n", p.PValue, p.Shuffles)
	}
	if p := a.AdjustedPermutation; p != nil && !a.Fallback {
		fmt.Fprintf(w, "permutation (adjusted): p=%.4g over %d shuffles\n", p.PValue, p.Shuffles)
	}
	fmt.Fprintf(w, "significant at alpha=%.2g: %t\n", a.Alpha, a.Significant())
}

func printRegression(w io.Writer, a *app.RegressionAnalysis) {
	fmt.Fprintf(w, "Run %s (n=%d)\n\n", a.RunID, a.N)
	fmt.Fprintf(w, "%-45s %10s %10s %10s\n", "model", "estimate", "std.err", "p-value")
	for _, est := range a.TreatmentEstimates() {
		fmt.Fprintf(w, "%-45s %10.4f %10.4f %10.4g\n", est.Model, est.Estimate, est.StdError, est.PValue)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, a.AdjustedOLS.Summary())
	if a.Logistic != nil {
		fmt.Fprintln(w, a.Logistic.Summary())
	} else if a.LogisticErr != "" {
		fmt.Fprintf(w, "Logistic model not fitted: %s\n", a.LogisticErr)
	}
}
