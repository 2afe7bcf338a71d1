package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/roofsync/internal/output"
	"github.com/marcus/roofsync/internal/syncclient"
	"github.com/marcus/roofsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API key for the inspection server",
	Long: `Checks that the server is reachable and accepts the key, then saves the key
and the server URL to ~/.config/roofsync/auth.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			return fail(output.ErrCodeInvalidInput, "--key is required")
		}
		serverURL, _ := cmd.Flags().GetString("url")
		if serverURL == "" {
			serverURL = syncconfig.GetServerURL()
		}
		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			return fail(output.ErrCodeDatabaseError, "get device id: %v", err)
		}

		client := syncclient.New(serverURL, key, deviceID)
		if _, err := client.HealthCheck(cmd.Context()); err != nil {
			return failErr("reach "+serverURL, err)
		}
		// an empty delta still authenticates the key and names the user
		now := time.Now().UTC()
		resp, err := client.Bootstrap(cmd.Context(), &now)
		if err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				return fail(output.ErrCodeUnauthorized, "the server rejected the key")
			}
			return failErr("verify key", err)
		}

		creds := &syncconfig.AuthCredentials{
			APIKey:    key,
			ServerURL: serverURL,
			DeviceID:  deviceID,
			UserID:    resp.User.ID,
			Email:     resp.User.Email,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			return fail(output.ErrCodeDatabaseError, "save credentials: %v", err)
		}

		if jsonOutput {
			return output.JSON(map[string]string{"user_id": creds.UserID, "email": creds.Email, "server_url": serverURL})
		}
		who := creds.Email
		if who == "" {
			who = creds.UserID
		}
		output.Success("Logged in as %s", who)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return fail(output.ErrCodeDatabaseError, "load auth: %v", err)
		}
		if err := syncconfig.ClearAuth(); err != nil {
			return fail(output.ErrCodeDatabaseError, "logout: %v", err)
		}
		// the device keeps its identity across logins
		if creds != nil && creds.DeviceID != "" {
			if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{DeviceID: creds.DeviceID}); err != nil {
				return fail(output.ErrCodeDatabaseError, "keep device id: %v", err)
			}
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return fail(output.ErrCodeDatabaseError, "load auth: %v", err)
		}

		key := syncconfig.GetAPIKey()
		if jsonOutput {
			out := map[string]any{"authenticated": key != "", "server_url": syncconfig.GetServerURL()}
			if creds != nil {
				out["email"] = creds.Email
				out["device_id"] = creds.DeviceID
			}
			return output.JSON(out)
		}
		if key == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		keyPrefix := key
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}
		if creds != nil {
			fmt.Printf("Email:  %s\n", creds.Email)
			fmt.Printf("Device: %s\n", creds.DeviceID)
		}
		fmt.Printf("Server: %s\n", syncconfig.GetServerURL())
		fmt.Printf("Key:    %s\n", keyPrefix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)

	authLoginCmd.Flags().String("key", "", "API key issued by the inspection server")
	authLoginCmd.Flags().String("url", "", "server URL (default from config)")
}
