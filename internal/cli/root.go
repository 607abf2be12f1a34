package cli

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mindfulchat/meditation-gateway/internal/app"
	"github.com/mindfulchat/meditation-gateway/internal/config"
)

const version = "1.0.0"

// Dependencies are resolved lazily so commands that need no remote service
// run without configuration.
type Dependencies struct {
	LoadConfig func() (*config.Config, error)
	Logger     zerolog.Logger

	once     sync.Once
	services *app.Services
	err      error
}

// Services builds the service graph on first use.
func (d *Dependencies) Services() (*app.Services, error) {
	d.once.Do(func() {
		cfg, err := d.LoadConfig()
		if err != nil {
			d.err = err
			return
		}
		d.services = app.Build(cfg, d.Logger)
	})
	return d.services, d.err
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meditatectl",
		Short:         "Operate the meditation gateway's speech and video services",
		Long:          "A CLI for synthesizing narration, previewing suggested questions and driving Tavus video renders outside a browser session.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version

	rootCmd.AddCommand(NewSpeakCmd(deps))
	rootCmd.AddCommand(NewSuggestCmd())
	rootCmd.AddCommand(NewVideoCmd(deps))

	return rootCmd
}
