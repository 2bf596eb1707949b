package main

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"github.com/killerfoxi/whodis/pkg/dnsupdate"
)

// newCmdKey groups commands that inspect the signing key without contacting
// the DNS server.
func newCmdKey(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "key",
		Short:              "Inspect the SIG(0) signing key",
		Args:               cobra.NoArgs,
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableSuggestions: true,
		RunE:               func(cmd *cobra.Command, args []string) error { return fmt.Errorf("invalid command") },
	}
	cmd.AddCommand(newCmdKeyPubkey(a))
	cmd.AddCommand(newCmdKeyCheck(a))
	return cmd
}

// newCmdKeyPubkey prints the KEY record to publish in the zone.
func newCmdKeyPubkey(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the KEY record the server needs to verify updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateSigning(); err != nil {
				return err
			}

			identity, err := loadIdentity(cmd.Context(), a)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), identity.KEY().String())
			return nil
		},
	}
}

// newCmdKeyCheck signs a throwaway update twice and verifies both signatures
// against the derived public key.
func newCmdKeyCheck(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Sign a dry update and verify the signature locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if err := cfg.ValidateSigning(); err != nil {
				return err
			}

			identity, err := loadIdentity(cmd.Context(), a)
			if err != nil {
				return err
			}

			host := cfg.Hostname
			if host == "" {
				host = cfg.Zone
			}

			msg, err := dnsupdate.NewUpdate(cfg.Zone, host, []netip.Addr{netip.MustParseAddr("192.0.2.1")})
			if err != nil {
				return err
			}

			signer := newSigner(cfg, identity)
			for i := range 2 {
				wire, err := signer.Sign(msg)
				if err != nil {
					return err
				}
				if err := identity.Verify(wire); err != nil {
					return fmt.Errorf("signature %d does not verify: %w", i+1, err)
				}
			}

			a.logger.Debug("signatures verified", slog.Int("id", int(msg.Id)))

			fmt.Fprintf(cmd.OutOrStdout(), "key ok: %s %s key tag %d\n",
				identity.Zone(), dns.AlgorithmToString[identity.KEY().Algorithm], identity.KeyTag())
			return nil
		},
	}
}
