package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/pageagent"
	"github.com/standardbeagle/tabgate/internal/pageagent/htmldoc"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <url>",
	Short: "Fetch a page and run a tunnel command against it",
	Long: `Fetch a page over HTTP and answer a tunnel command the way the control script would.

Without --command the page info is printed. Commands take their arguments after the URL.`,
	Example: `  tabgate snapshot https://example.com
  tabgate snapshot https://example.com --command querySelector a
  tabgate snapshot https://example.com --command getElement h1 --proxied`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSnapshot,
}

var (
	snapshotCommand string
	snapshotTimeout time.Duration
	snapshotRetries int
	snapshotProxied bool
)

func init() {
	snapshotCmd.Flags().StringVar(&snapshotCommand, "command", protocol.CmdGetPageInfo, "Tunnel command to run")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 30*time.Second, "HTTP timeout")
	snapshotCmd.Flags().IntVar(&snapshotRetries, "retries", 1, "HTTP retry count")
	snapshotCmd.Flags().BoolVar(&snapshotProxied, "proxied", false, "Rewrite page links into proxied form")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	var rewrite codec.Codec
	if snapshotProxied {
		c, err := commandCodec(cmd)
		if err != nil {
			return err
		}
		rewrite = c
	}

	client := htmldoc.NewClient(htmldoc.FetchConfig{
		Timeout: snapshotTimeout,
		Retries: snapshotRetries,
		Rewrite: rewrite,
	})
	session := htmldoc.NewSession(htmldoc.HTTPLoader(client, rewrite))
	if err := session.Navigate(cmd.Context(), args[0]); err != nil {
		return err
	}

	cmdArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		cmdArgs = append(cmdArgs, a)
	}
	data, err := protocol.Encode(protocol.NewCommand(uuid.NewString(), snapshotCommand, "", cmdArgs...))
	if err != nil {
		return err
	}

	agent := pageagent.New(session, session, pageagent.Config{})
	resp, ok := agent.Handle(cmd.Context(), "*", data)
	if !ok {
		return fmt.Errorf("command %q produced no response", snapshotCommand)
	}
	if !resp.OK() {
		return fmt.Errorf("%s: %s", snapshotCommand, resp.Error)
	}

	var v any
	if err := resp.Decode(&v); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
