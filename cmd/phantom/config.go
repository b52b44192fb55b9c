package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wrale/phantom/internal/credentials"
)

// configKey is a setting that can be read and written with phantom config
type configKey struct {
	get      func(credentials.Config) string
	set      func(*credentials.Config, string)
	validate func(string) error
}

var configKeys = map[string]configKey{
	"server-url": {
		get:      func(c credentials.Config) string { return c.ServerURL },
		set:      func(c *credentials.Config, v string) { c.ServerURL = strings.TrimSuffix(v, "/") },
		validate: validateServerURL,
	},
	"client-id": {
		get: func(c credentials.Config) string { return c.ClientID },
		set: func(c *credentials.Config, v string) { c.ClientID = v },
		validate: func(v string) error {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("client id must not be empty")
			}
			return nil
		},
	},
}

func configKeyNames() string {
	names := make([]string, 0, len(configKeys))
	for name := range configKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func lookupConfigKey(name string) (configKey, error) {
	key, ok := configKeys[name]
	if !ok {
		return configKey{}, fmt.Errorf("unknown key %q (known keys: %s)", name, configKeyNames())
	}
	return key, nil
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change settings in ~/.phantom/config.yaml",
		Long: `Read or change persisted settings. Flags and the PHANTOM_SERVER_URL and
PHANTOM_CLIENT_ID environment variables take precedence over these.

Keys: ` + configKeyNames(),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := lookupConfigKey(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.store.LoadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, key.get(cfg))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := lookupConfigKey(args[0])
			if err != nil {
				return err
			}
			if err := key.validate(args[1]); err != nil {
				return err
			}
			cfg, err := a.store.LoadConfig()
			if err != nil {
				return err
			}
			key.set(&cfg, args[1])
			if err := a.store.SaveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Set %s to %s\n", args[0], key.get(cfg))
			return nil
		},
	})

	return cmd
}
