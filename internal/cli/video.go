package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/video"
)

func NewVideoCmd(deps *Dependencies) *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "video",
		Short: "Submit and track Tavus video renders",
	}
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Tavus API key (defaults to TAVUS_API_KEY)")

	key := func() (string, *video.TavusClient, error) {
		services, err := deps.Services()
		if err != nil {
			return "", nil, err
		}
		k := apiKey
		if k == "" {
			k = services.Config.TavusAPIKey
		}
		return k, services.Tavus, nil
	}

	cmd.AddCommand(newVideoSubmitCmd(deps, key))
	cmd.AddCommand(newVideoStatusCmd(key))
	cmd.AddCommand(newVideoWaitCmd(key))
	return cmd
}

type keyFunc func() (string, *video.TavusClient, error)

func newVideoSubmitCmd(deps *Dependencies, key keyFunc) *cobra.Command {
	var name, replica string

	cmd := &cobra.Command{
		Use:   "submit <script>",
		Short: "Submit a script for rendering and print the video id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, client, err := key()
			if err != nil {
				return err
			}
			if name == "" {
				name = fmt.Sprintf("Meditation_%d", time.Now().UnixMilli())
			}
			if replica == "" {
				services, _ := deps.Services()
				replica = services.Config.TavusReplicaID
			}
			id, err := client.Submit(cmd.Context(), k, video.SubmitRequest{
				ReplicaID: replica,
				Script:    strings.Join(args, " "),
				VideoName: name,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "video name (default Meditation_<unix ms>)")
	cmd.Flags().StringVar(&replica, "replica", "", "replica id (default TAVUS_REPLICA_ID)")
	return cmd
}

func newVideoStatusCmd(key keyFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status <video-id>",
		Short: "Print the current status of a render",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, client, err := key()
			if err != nil {
				return err
			}
			report, err := client.Status(cmd.Context(), k, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Status: %s\n", report.Status.Message())
			if report.HostedURL != "" {
				fmt.Fprintf(w, "URL: %s\n", report.HostedURL)
			}
			return nil
		},
	}
}

func newVideoWaitCmd(key keyFunc) *cobra.Command {
	var interval, horizon time.Duration

	cmd := &cobra.Command{
		Use:   "wait <video-id>",
		Short: "Poll a render until it completes, fails or times out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, client, err := key()
			if err != nil {
				return err
			}
			id := args[0]
			w := cmd.OutOrStdout()

			p := video.NewPoller(id, clock.Real(), interval, horizon, func(ctx context.Context) (video.Report, error) {
				return client.Status(ctx, k, id)
			})
			p.OnSample = func(s video.Sample) {
				fmt.Fprintf(w, "[%3.0f%%] %d min  %s\n", s.Progress, s.ElapsedMinutes, s.Job.Status.Message())
			}

			outcome, err := p.Run(cmd.Context())
			switch outcome {
			case video.OutcomeCompleted:
				fmt.Fprintf(w, "Video is ready: %s\n", p.Job().HostedURL)
				return nil
			case video.OutcomeError:
				return fmt.Errorf("checking video status: %w", err)
			default:
				if err != nil {
					return err
				}
				return fmt.Errorf("video %s: %s", id, outcome)
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", video.DefaultPollInterval, "time between status checks")
	cmd.Flags().DurationVar(&horizon, "horizon", video.DefaultHorizon, "give up after this long")
	return cmd
}
