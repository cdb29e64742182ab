// Package report renders analysis results as Markdown, and as HTML through
// gomarkdown.
package report

import (
	"fmt"
	"strings"

	"goabtest/app"
	"goabtest/internal/errors"
	"goabtest/internal/hypothesis"
	"goabtest/internal/permutation"
	"goabtest/internal/regression"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Format selects the rendered output
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts md, markdown or html
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", errors.InvalidInput(fmt.Sprintf("unknown report format %q (want md|html)", s))
}

// Report collects the analyses to render. Either section may be nil.
type Report struct {
	Title      string
	CUPED      *app.CUPEDAnalysis
	Regression *app.RegressionAnalysis
}

// Render produces the report in the requested format
func (r *Report) Render(format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(r.Markdown()), nil
	case FormatHTML:
		return r.HTML(), nil
	}
	return nil, errors.InvalidInput(fmt.Sprintf("unknown report format %q", format))
}

// HTML renders the Markdown report as a complete HTML page
func (r *Report) HTML() []byte {
	return ToHTML(r.Markdown(), r.title())
}

// ToHTML converts Markdown to a standalone HTML page
func ToHTML(md, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))

	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.Render(doc, renderer)
}

func (r *Report) title() string {
	if r.Title != "" {
		return r.Title
	}
	return "Experiment report"
}

// Markdown renders every non-nil section
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.title())

	if r.CUPED != nil {
		writeCUPED(&b, r.CUPED)
	}
	if r.Regression != nil {
		writeRegression(&b, r.Regression)
	}
	if r.CUPED == nil && r.Regression == nil {
		b.WriteString("No analyses were run.\n")
	}
	return b.String()
}

func writeCUPED(b *strings.Builder, a *app.CUPEDAnalysis) {
	b.WriteString("## CUPED variance reduction\n\n")
	fmt.Fprintf(b, "- Run: `%s` at %s\n", a.RunID, a.CreatedAt)
	fmt.Fprintf(b, "- Dataset: %s (fingerprint `%s`)\n", a.DatasetName, a.Fingerprint.Short())
	fmt.Fprintf(b, "- Units: %d (control %d, treatment %d)\n", a.N, a.ControlN, a.TreatmentN)

	if a.Fallback {
		fmt.Fprintf(b, "- **CUPED not applied**: %s. Results below use the raw metric.\n\n", a.FallbackReason)
	} else if adj := a.Adjustment; adj != nil {
		fmt.Fprintf(b, "- θ = %.6f (%s moments), pre-period mean %.4f\n", adj.Theta, adj.Convention, adj.PreMean)
		fmt.Fprintf(b, "- Correlation ρ = %.4f\n", adj.Correlation)
		fmt.Fprintf(b, "- Variance %.4f → %.4f (**%.2f%% reduction**)\n\n", adj.OriginalVariance, adj.AdjustedVariance, adj.VarianceReduction)
	}

	b.WriteString("| metric | difference | std. error | 95% CI | t | df | p-value |\n")
	b.WriteString("|---|---:|---:|---|---:|---:|---:|\n")
	writeTTestRow(b, "raw", a.Raw)
	if !a.Fallback {
		writeTTestRow(b, "CUPED-adjusted", a.Adjusted)
	}
	b.WriteString("\n")

	if !a.Fallback {
		fmt.Fprintf(b, "Standard error of the effect shrinks by %.1f%%.\n\n", a.StandardErrorReduction())
	}

	if len(a.Profiles) > 0 {
		b.WriteString("### Metric profile\n\n")
		b.WriteString("| metric | mean | sd | median | IQR | skew | kurtosis | outliers | normal? |\n")
		b.WriteString("|---|---:|---:|---:|---|---:|---:|---:|---|\n")
		for _, p := range a.Profiles {
			normal := "no"
			if p.LooksNormal {
				normal = "yes"
			}
			fmt.Fprintf(b, "| %s | %.4f | %.4f | %.4f | [%.4f, %.4f] | %.3f | %.3f | %d | %s |\n",
				p.Name, p.Mean, p.StdDev, p.Median, p.Q25, p.Q75, p.Skewness, p.Kurtosis, p.Outliers, normal)
		}
		b.WriteString("\n")
	}

	if a.RawPermutation != nil {
		b.WriteString("### Permutation test\n\n")
		b.WriteString("| metric | observed | shuffles | p-value | null sd |\n")
		b.WriteString("|---|---:|---:|---:|---:|\n")
		writePermutationRow(b, "raw", a.RawPermutation)
		if !a.Fallback && a.AdjustedPermutation != nil {
			writePermutationRow(b, "CUPED-adjusted", a.AdjustedPermutation)
		}
		b.WriteString("\n")
	}

	verdict := "not significant"
	if a.Significant() {
		verdict = "significant"
	}
	fmt.Fprintf(b, "At α = %.2g the treatment effect is **%s**.\n\n", a.Alpha, verdict)
}

func writeTTestRow(b *strings.Builder, label string, r *hypothesis.TTestResult) {
	if r == nil {
		return
	}
	fmt.Fprintf(b, "| %s | %.4f | %.4f | [%.4f, %.4f] | %.3f | %.1f | %s |\n",
		label, r.Difference, r.StandardError, r.CILower, r.CIUpper, r.TStatistic, r.DegreesOfFreedom, formatP(r.PValue))
}

func writePermutationRow(b *strings.Builder, label string, r *permutation.Result) {
	fmt.Fprintf(b, "| %s | %.4f | %d | %s | %.4f |\n", label, r.Observed, r.Shuffles, formatP(r.PValue), r.NullStdDev)
}

func writeRegression(b *strings.Builder, a *app.RegressionAnalysis) {
	b.WriteString("## Regression adjustment\n\n")
	fmt.Fprintf(b, "- Run: `%s` at %s\n", a.RunID, a.CreatedAt)
	fmt.Fprintf(b, "- Units: %d\n\n", a.N)

	b.WriteString("### Treatment effect on revenue\n\n")
	b.WriteString("| model | estimate | std. error | p-value |\n")
	b.WriteString("|---|---:|---:|---:|\n")
	for _, e := range a.TreatmentEstimates() {
		fmt.Fprintf(b, "| %s | %.4f | %.4f | %s |\n", e.Model, e.Estimate, e.StdError, formatP(e.PValue))
	}
	b.WriteString("\n")

	if a.AdjustedOLS != nil {
		fmt.Fprintf(b, "### OLS: `%s`\n\n", a.AdjustedOLS.Formula)
		fmt.Fprintf(b, "R² = %.4f, adjusted R² = %.4f, F = %.3f (p %s)\n\n",
			a.AdjustedOLS.RSquared, a.AdjustedOLS.AdjRSquared, a.AdjustedOLS.FStatistic, formatP(a.AdjustedOLS.FPValue))
		writeCoefficients(b, a.AdjustedOLS.Coefficients, nil)
	}

	switch {
	case a.Logistic != nil:
		fmt.Fprintf(b, "### Logistic: `%s`\n\n", a.Logistic.Formula)
		fmt.Fprintf(b, "Log-likelihood %.3f, McFadden pseudo R² = %.4f, %d iterations\n\n",
			a.Logistic.LogLikelihood, a.Logistic.PseudoR2, a.Logistic.Iterations)
		writeCoefficients(b, a.Logistic.Coefficients, a.Logistic.OddsRatios)
	case a.LogisticErr != "":
		fmt.Fprintf(b, "### Logistic model\n\nNot fitted: %s\n\n", a.LogisticErr)
	}
}

func writeCoefficients(b *strings.Builder, coefs []regression.Coefficient, odds []float64) {
	if odds != nil {
		b.WriteString("| term | estimate | std. error | p-value | odds ratio |\n")
		b.WriteString("|---|---:|---:|---:|---:|\n")
	} else {
		b.WriteString("| term | estimate | std. error | p-value |\n")
		b.WriteString("|---|---:|---:|---:|\n")
	}
	for i, c := range coefs {
		fmt.Fprintf(b, "| %s | %.4f | %.4f | %s |", c.Name, c.Estimate, c.StdError, formatP(c.PValue))
		if odds != nil {
			fmt.Fprintf(b, " %.4f |", odds[i])
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func formatP(p float64) string {
	if p < 1e-4 {
		return "< 0.0001"
	}
	return fmt.Sprintf("%.4f", p)
}
