package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindfulchat/meditation-gateway/internal/suggest"
)

func NewSuggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <reply>",
		Short: "Print the follow-up questions offered for an AI reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply := strings.Join(args, " ")
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Topic: %s\n", suggest.Topic(reply))
			for i, q := range suggest.Generate(reply) {
				fmt.Fprintf(w, "%d. %s\n", i+1, q)
			}
			return nil
		},
	}
}
