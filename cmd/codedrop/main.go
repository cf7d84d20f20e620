package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"codedrop/internal/client"
)

var (
	serverURL string
	password  string
)

var rootCmd = &cobra.Command{
	Use:          "codedrop",
	Short:        "Share files with a 5-digit code",
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:   "send <paths...>",
	Short: "Upload files or directories (zipped) and print the share code",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")

		bundle, err := client.Pack(args, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Uploading %s (%d bytes)...\n", bundle.Name, len(bundle.Data))

		share, err := client.New(serverURL, nil).Send(cmd.Context(), bundle, client.SendOptions{
			Code:     code,
			Password: password,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Share code: %s\n", share.ShareCode)
		fmt.Fprintf(out, "  Expires:    %s\n", share.ExpiresAt.Local().Format(time.RFC1123))
		if share.IsPasswordProtected {
			fmt.Fprintln(out, "  Protected:  yes")
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <code>",
	Short: "Download a shared file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		f, err := client.New(serverURL, nil).Get(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}

		if output == "" {
			output = filepath.Base(f.Name)
		}
		if err := os.WriteFile(output, f.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s (%d bytes)\n", output, len(f.Data))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <code>",
	Short: "Show metadata of a share",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		share, err := client.New(serverURL, nil).Info(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Code:       %s\n", share.ShareCode)
		fmt.Fprintf(out, "File:       %s (%d bytes, %s)\n", share.FileName, share.FileSize, share.MimeType)
		fmt.Fprintf(out, "Uploaded:   %s\n", share.CreatedAt.Local().Format(time.RFC1123))
		fmt.Fprintf(out, "Expires:    %s\n", share.ExpiresAt.Local().Format(time.RFC1123))
		fmt.Fprintf(out, "Downloads:  %d\n", share.DownloadsCount)
		return nil
	},
}

func init() {
	defaultURL := os.Getenv("CODEDROP_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "codedrop server URL (env CODEDROP_URL)")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "share password")

	sendCmd.Flags().String("code", "", "request a specific 5-digit code")
	getCmd.Flags().StringP("output", "o", "", "output file (defaults to the shared file name)")

	rootCmd.AddCommand(sendCmd, getCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
