package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/images"
	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/lehigh-university-libraries/platecheck/internal/session"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var imagePath, text, voicePath, lang string
	var corrections []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one meal from a photo or a description",
		Long: `Runs one analysis session: the meal is analyzed from a photo or a text
description, then every --correct is applied in order. A --voice recording
is transcribed and applied as a final correction.`,
		Example: `  # Analyze a photo
  platecheck analyze --image lunch.jpg
  platecheck analyze --image https://example.com/lunch.jpg

  # Describe the meal and fix the estimate
  platecheck analyze --text "two eggs, toast with butter" --correct "the toast was rye" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (imagePath == "") == (text == "") {
				return errors.New("exactly one of --image or --text is required")
			}

			cfg, service, err := loadService(opts)
			if err != nil {
				return err
			}
			if lang == "" {
				lang = cfg.Language
			}

			machine := session.New(service, analysis.MatchLanguage(lang))
			machine.OnChange(func(s session.State) {
				slog.Debug("Session state changed", "lifecycle", s.Lifecycle)
			})

			ctx := cmd.Context()
			var state session.State
			if imagePath != "" {
				data, mimeType, err := loadImage(ctx, imagePath, cfg.Limits.MaxImageBytes)
				if err != nil {
					return err
				}
				state, err = machine.SubmitImage(ctx, data, mimeType)
				if err != nil {
					return err
				}
			} else {
				state, err = machine.SubmitDescription(ctx, text)
				if err != nil {
					return err
				}
			}
			if state.Lifecycle == session.Error {
				return describedError(state.LastError)
			}

			for _, correction := range corrections {
				state, err = machine.SubmitCorrection(ctx, correction)
				if err != nil {
					return err
				}
				if state.LastError != nil {
					return describedError(state.LastError)
				}
			}

			if voicePath != "" {
				data, mimeType, err := readMedia(voicePath)
				if err != nil {
					return err
				}
				state, err = machine.SubmitVoiceCorrection(ctx, data, mimeType)
				if err != nil {
					return err
				}
				if state.LastError != nil {
					return describedError(state.LastError)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Heard: %q\n", state.PendingCorrectionText)
				state, err = machine.SubmitCorrection(ctx, "")
				if err != nil {
					return err
				}
				if state.LastError != nil {
					return describedError(state.LastError)
				}
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(state.CurrentResult)
			}
			return printResult(cmd.OutOrStdout(), state.CurrentResult)
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Path or http(s) URL of a meal photo")
	cmd.Flags().StringVar(&text, "text", "", "Description of the meal")
	cmd.Flags().StringArrayVar(&corrections, "correct", nil, "Correction to apply, repeatable")
	cmd.Flags().StringVar(&voicePath, "voice", "", "Path to a recorded correction")
	cmd.Flags().StringVar(&lang, "lang", "", "Language for error messages (en, es, de)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func describedError(d *models.ErrorDescriptor) error {
	if d == nil {
		return errors.New("analysis failed")
	}
	slog.Debug("Analysis failed", "kind", d.Kind, "details", d.TechnicalDetail)
	return fmt.Errorf("%s (%s)", d.UserMessage, d.Kind)
}

// loadImage reads a local photo or downloads it when ref is an http(s) URL
func loadImage(ctx context.Context, ref string, maxBytes int64) ([]byte, string, error) {
	if !images.IsURL(ref) {
		return readMedia(ref)
	}
	fetcher := images.NewFetcher(maxBytes)
	// the CLI runs on the user's machine, local hosts are theirs to read
	fetcher.AllowPrivate = true
	img, err := fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return img.Data, img.MIMEType, nil
}

// readMedia reads a file and guesses its MIME type from the extension, then the content
func readMedia(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = mimeType[:i]
	}
	return data, mimeType, nil
}

func printResult(w io.Writer, result *models.AnalysisResult) error {
	if result == nil {
		_, err := fmt.Fprintln(w, "No result.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tGRAMS\tKCAL\tPROTEIN\tFAT\tCARBS\tCONF")
	for _, item := range result.Items {
		fmt.Fprintf(tw, "%s\t%.0f\t%.0f\t%.1f\t%.1f\t%.1f\t%.0f%%\n",
			item.Name, item.WeightGrams, item.Macros.Calories, item.Macros.Protein,
			item.Macros.Fat, item.Macros.Carbs, item.Confidence*100)
	}
	fmt.Fprintf(tw, "TOTAL\t\t%.0f\t%.1f\t%.1f\t%.1f\t\n",
		result.Total.Calories, result.Total.Protein, result.Total.Fat, result.Total.Carbs)
	if err := tw.Flush(); err != nil {
		return err
	}

	if result.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", result.Summary)
	}
	if result.ModelTier != "" {
		fmt.Fprintf(w, "(model tier: %s)\n", result.ModelTier)
	}
	return nil
}
