package cli

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. HSMCTL_DB.
const envPrefix = "HSMCTL"

// configKeys are the root persistent flags that may also be set from the
// environment or the config file.
var configKeys = []string{"db", "network", "format", "verbose"}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig merges flags, environment and config file into opts.
// Precedence: explicit flag, environment, config file, flag default.
func loadConfig(v *viper.Viper, cmd *cobra.Command, opts *RootOptions) error {
	rootFlags := cmd.Root().PersistentFlags()
	for _, key := range configKeys {
		if err := v.BindPFlag(key, rootFlags.Lookup(key)); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	opts.Database = v.GetString("db")
	opts.Network = v.GetString("network")
	opts.Format = v.GetString("format")
	opts.Verbose = v.GetBool("verbose")

	if !isValidFormat(opts.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
	}

	params, err := networkParams(opts.Network)
	if err != nil {
		return err
	}
	opts.Params = params
	return nil
}

// networkParams maps a network name to its chain parameters.
func networkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
