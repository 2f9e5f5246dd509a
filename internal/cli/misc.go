package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/toxcore/internal/config"
	"github.com/TheusHen/toxcore/toxcore/identity"
	"github.com/TheusHen/toxcore/toxcore/savestate"
)

var errNoState = errors.New("no saved state; run the node once or configure [state]")

func init() {
	rootCmd.AddCommand(configCmd, addressCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return config.Write(cmd.OutOrStdout(), cfg)
	},
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the Tox address stored in the save state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		addr, err := storedAddress(cfg.State)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)
		return nil
	},
}

func storedAddress(cfg config.StateConfig) (identity.Address, error) {
	store, err := openStore(cfg)
	if err != nil {
		return identity.Address{}, err
	}
	defer store.Close()
	blob, err := store.Load()
	if err != nil {
		return identity.Address{}, err
	}
	if blob == nil {
		return identity.Address{}, errNoState
	}
	st, err := savestate.Decode(blob, passphrase(cfg))
	if err != nil {
		return identity.Address{}, err
	}
	defer st.Wipe()
	id, err := identity.FromSecret(st.Secret, st.Nospam)
	if err != nil {
		return identity.Address{}, err
	}
	defer id.Wipe()
	return id.Address(), nil
}
