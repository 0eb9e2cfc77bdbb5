package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ayusman/bhava/internal/capture"
	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/temporal"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type classifyOptions struct {
	Independent bool
	JSON        bool
	MaxWidth    int
}

var classifyOpts classifyOptions

var classifyCmd = &cobra.Command{
	Use:   "classify <image>...",
	Short: "Classify still images as one sequence and print a summary",
	Long: `Classify runs every image through the same detector in the order given,
so smoothing and confidence stability treat them as consecutive frames.
Use --independent to classify each image on its own.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClassify(cmd, args, classifyOpts)
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyOpts.Independent, "independent", false, "Reset smoothing and history before every image")
	classifyCmd.Flags().BoolVar(&classifyOpts.JSON, "json", false, "Print results as JSON")
	classifyCmd.Flags().IntVar(&classifyOpts.MaxWidth, "max-width", capture.MaxStillWidth, "Downscale images wider than this before classification (0 disables)")

	rootCmd.AddCommand(classifyCmd)
}

type classifyRow struct {
	Path   string         `json:"path"`
	Result *fusion.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type classifyReport struct {
	Results   []classifyRow      `json:"results"`
	Analytics temporal.Analytics `json:"analytics"`
}

func runClassify(cmd *cobra.Command, paths []string, co classifyOptions) error {
	ctx := cmd.Context()

	cfg, _, err := loadTuning(db, opts)
	if err != nil {
		return err
	}
	estimator, err := newEstimator(opts.EstimatorScript)
	if err != nil {
		return err
	}

	d, err := detector.New(cfg, estimator)
	if err != nil {
		return err
	}
	defer d.Dispose()
	if err := d.Init(ctx); err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	report := classifyReport{Results: make([]classifyRow, 0, len(paths))}
	failed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := classifyPath(ctx, d, path, co)
		if row.Error != "" {
			failed++
		}
		report.Results = append(report.Results, row)
		bar.Add(1)
	}
	bar.Finish()

	report.Analytics = d.Analytics()

	out := cmd.OutOrStdout()
	if co.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if failed == len(paths) {
		return fmt.Errorf("no image could be classified")
	}
	return nil
}

func classifyPath(ctx context.Context, d *detector.Detector, path string, co classifyOptions) classifyRow {
	row := classifyRow{Path: path}

	frame, err := capture.ReadImageFile(path, co.MaxWidth)
	if err != nil {
		row.Error = err.Error()
		return row
	}

	if co.Independent {
		d.Reset()
	}
	result, err := d.ClassifyFused(ctx, frame, nil)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Result = &result
	return row
}

func printReport(out io.Writer, report classifyReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tLABEL\tCONFIDENCE\tRELIABILITY\tSOURCES\tFLAGS")
	fmt.Fprintln(w, "-----\t-----\t----------\t-----------\t-------\t-----")
	for _, row := range report.Results {
		if row.Result == nil {
			fmt.Fprintf(w, "%s\terror\t-\t-\t-\t%s\n", row.Path, row.Error)
			continue
		}
		r := row.Result
		flags := r.Primary.Flags.String()
		if flags == "" {
			flags = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\t%s\n",
			row.Path, r.Primary.Label, r.Confidence, r.Reliability, r.Sources, flags)
	}
	w.Flush()

	a := report.Analytics
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Samples:              %d\n", a.Samples)
	fmt.Fprintf(out, "Dominant label:       %s\n", a.DominantLabel)
	fmt.Fprintf(out, "Current run length:   %d\n", a.EmotionDuration)
	fmt.Fprintf(out, "Transition frequency: %.3f\n", a.TransitionFrequency)
	fmt.Fprintf(out, "Average confidence:   %.3f\n", a.AverageConfidence)
	fmt.Fprintf(out, "Confidence stability: %.3f\n", a.ConfidenceStability)
}
