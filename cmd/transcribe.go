package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	var audioPath string

	cmd := &cobra.Command{
		Use:     "transcribe",
		Short:   "Transcribe a recorded correction to text",
		Example: `  platecheck transcribe --audio note.webm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, service, err := loadService(opts)
			if err != nil {
				return err
			}
			data, mimeType, err := readMedia(audioPath)
			if err != nil {
				return err
			}
			text, err := service.Transcribe(cmd.Context(), data, mimeType)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Path to the recording (required)")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}
