package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindfulchat/meditation-gateway/internal/tts"
)

func NewSpeakCmd(deps *Dependencies) *cobra.Command {
	var (
		voice   string
		out     string
		publish bool
	)

	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize text to an MP3 file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := tts.ParseVoice(voice); !ok {
				return fmt.Errorf("unknown voice %q (available: %s)", voice, voiceList())
			}
			services, err := deps.Services()
			if err != nil {
				return err
			}

			svc := services.TTS
			if !publish {
				svc = tts.NewService(services.Speech, nil, nil, services.Config.TTSMaxTextLength, deps.Logger)
			}
			res, err := svc.Speak(cmd.Context(), tts.Request{Text: strings.Join(args, " "), Voice: voice})
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, res.Audio, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Wrote %d bytes to %s\n", len(res.Audio), out)
			if res.PublicURL != "" {
				fmt.Fprintf(w, "Public URL: %s\n", res.PublicURL)
			} else if publish {
				fmt.Fprintln(w, "Audio was not published")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&voice, "voice", string(tts.DefaultVoice), "voice to use ("+voiceList()+")")
	cmd.Flags().StringVarP(&out, "out", "o", "narration.mp3", "output file")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the audio as a GitHub gist")

	return cmd
}

func voiceList() string {
	names := make([]string, 0, len(tts.Voices()))
	for _, v := range tts.Voices() {
		names = append(names, string(v))
	}
	return strings.Join(names, ", ")
}
