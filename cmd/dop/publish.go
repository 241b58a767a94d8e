package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/dopamine-pm/dopamine/internal/config"
	"github.com/dopamine-pm/dopamine/internal/httputil"
	"github.com/dopamine-pm/dopamine/internal/registryclient"
)

var publishUpstreamURL string
var publishLicense string
var publishDescription string

var publishCmd = &cobra.Command{
	Use:   "publish <recipe.toml>",
	Short: "Publish a recipe revision to the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args[0])
		if err != nil {
			exitWithCode(ExitRecipeError)
			return err
		}
		version, err := r.ParsedVersion()
		if err != nil {
			return err
		}
		revision, err := r.Revision("")
		if err != nil {
			return err
		}

		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}

		opts := []registryclient.Option{registryclient.WithHTTPClient(httputil.NewSecureClient(httputil.ClientOptions{Timeout: config.GetAPITimeout()}))}
		if ts, err := loginTokenSource(cfg.LoginFile); err == nil {
			opts = append(opts, registryclient.WithTokenSource(ts))
		}
		client, err := registryclient.New(cfg.Registry, opts...)
		if err != nil {
			exitWithCode(ExitRegistry)
			return err
		}

		result, err := client.PublishRecipe(cmd.Context(), registryclient.PublishRequest{
			Name:        r.Name(),
			Version:     version.String(),
			Revision:    revision,
			Description: publishDescription,
			UpstreamURL: publishUpstreamURL,
			License:     publishLicense,
		})
		if err != nil {
			exitWithCode(ExitRegistry)
			return err
		}

		printInfof("published %s@%s (%s), new=%q\n", r.Name(), version, revision, result.New)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishUpstreamURL, "upstream-url", "", "upstream source URL")
	publishCmd.Flags().StringVar(&publishLicense, "license", "", "SPDX license identifier")
	publishCmd.Flags().StringVar(&publishDescription, "description", "", "one-line package description")
}

// loginRecord is the on-disk shape of cfg.LoginFile, written by an
// out-of-scope `dop login` flow; publish only needs to read it.
type loginRecord struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// loginTokenSource reads a saved login record and wraps its access
// token as a static oauth2.TokenSource. Refreshing on expiry is left to
// the out-of-scope login flow; publish treats an expired token as a
// registry-rejected request.
func loginTokenSource(path string) (oauth2.TokenSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec loginRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return registryclient.StaticTokenSource(rec.AccessToken), nil
}
