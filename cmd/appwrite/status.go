package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appwrite "github.com/appwrite/sdk-for-go"
	"github.com/spf13/cobra"
)

var statusCheck bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "verify the session against the server")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and realtime endpoint",
	Long:  "Display the current configuration and the realtime URL the SDK derives from it.\nWith --check, fetch the account owning the configured session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Endpoint:    %s\n", valueOrDefault(cfg.Default.Endpoint, "(default)"))
		fmt.Fprintf(out, "  Project:     %s\n", valueOrDefault(cfg.Default.Project, "(not set)"))
		if cfg.Default.SelfSigned {
			fmt.Fprintln(out, "  Self-signed: allowed")
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Session:")
		if cfg.Session.Cookie != "" {
			name := cfg.Session.Cookie
			if cookies, err := http.ParseCookie(cfg.Session.Cookie); err == nil && len(cookies) > 0 {
				name = cookies[0].Name
			} else if i := strings.IndexByte(name, '='); i > 0 {
				name = name[:i]
			}
			fmt.Fprintf(out, "  Cookie:      %s (%s)\n", name, maskValue(cfg.Session.Cookie))
		} else {
			fmt.Fprintln(out, "  Cookie:      (none, guest access)")
		}

		if cfg.Default.Project == "" {
			return nil
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Realtime:")
		fmt.Fprintf(out, "  Endpoint:    %s\n", client.EndpointRealtime())

		if !statusCheck {
			return nil
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		user, err := client.Account(ctx)
		if err != nil {
			var ex *appwrite.Exception
			if errors.As(err, &ex) && ex.Code == http.StatusUnauthorized {
				fmt.Fprintln(out, "  Session:     not authenticated")
				return nil
			}
			fmt.Fprintf(out, "  Error fetching account: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  User:        %s <%s>\n", valueOrDefault(user.Name, user.ID), user.Email)
		return nil
	},
}
