package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabgate/internal/codec"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <hostname|url>...",
	Short: "Encode hostnames or URLs into their proxied form",
	Example: `  tabgate encode www.example.com          # www-example-com
  tabgate encode https://a--b.com/x        # https://a----b-com.<proxy-domain>/x`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := commandCodec(cmd)
		if err != nil {
			return err
		}
		for _, arg := range args {
			if strings.Contains(arg, "://") {
				fmt.Fprintln(cmd.OutOrStdout(), c.ToProxy(arg))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), codec.EncodeHost(arg))
			}
		}
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <subdomain|url>...",
	Short: "Decode subdomain labels or proxied URLs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := commandCodec(cmd)
		if err != nil {
			return err
		}
		for _, arg := range args {
			if strings.Contains(arg, "://") {
				fmt.Fprintln(cmd.OutOrStdout(), c.FromProxy(arg))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), codec.DecodeHost(arg))
			}
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{encodeCmd, decodeCmd} {
		c.Flags().String("domain", "", "Proxy domain (default: from config)")
	}
}

func commandCodec(cmd *cobra.Command) (codec.Codec, error) {
	if domain, _ := cmd.Flags().GetString("domain"); domain != "" {
		return codec.New(domain), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return codec.Codec{}, err
	}
	return codec.New(cfg.Gateway.ProxyDomain), nil
}
