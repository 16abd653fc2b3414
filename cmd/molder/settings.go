package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"molder/internal/storage"
	"molder/internal/types"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the stored tunables.",
	Long: "The store is locked while the controller runs; use the " +
		"molder:settings Redis list to change a running controller.",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored tunables and the total part count.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.Path, l)
		if err != nil {
			return err
		}
		defer store.Close()

		s, found, err := store.LoadSettings()
		if err != nil {
			return err
		}
		source := "stored"
		if !found {
			s = cfg.Defaults.Settings()
			source = "defaults"
		}
		total, err := store.LoadTotalCount()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Settings (%s):\n", source)
		fmt.Fprintf(out, "  cycle time:     %v\n", s.CycleTime)
		fmt.Fprintf(out, "  inject time:    %v\n", s.InjectTime)
		fmt.Fprintf(out, "  open delay:     %v\n", s.OpenDelay)
		fmt.Fprintf(out, "  double eject:   %v\n", s.DoubleEject)
		fmt.Fprintf(out, "  double inject:  %v\n", s.DoubleInject)
		fmt.Fprintf(out, "Total parts:      %s\n", humanize.Comma(int64(total)))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change stored tunables. Unset flags keep their value.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.Path, l)
		if err != nil {
			return err
		}
		defer store.Close()

		s, found, err := store.LoadSettings()
		if err != nil {
			return err
		}
		if !found {
			s = cfg.Defaults.Settings()
		}

		if err := applySettingFlags(cmd, &s); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if err := store.SaveSettings(s); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Saved: cycle=%v inject=%v open-delay=%v double-eject=%v double-inject=%v\n",
			s.CycleTime, s.InjectTime, s.OpenDelay, s.DoubleEject, s.DoubleInject)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	addSettingFlags(settingsSetCmd)
}

func addSettingFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("cycle-time", 0, "Time from mold close to mold open")
	f.Duration("inject-time", 0, "Time the inject output stays on")
	f.Duration("open-delay", 0, "Time from mold open to eject")
	f.Bool("double-eject", false, "Pump the mold once more after ejecting")
	f.Bool("double-inject", false, "Double inject flag")
}

// applySettingFlags copies the flags given on the command line into s.
func applySettingFlags(cmd *cobra.Command, s *types.Settings) error {
	f := cmd.Flags()

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"cycle-time", &s.CycleTime},
		{"inject-time", &s.InjectTime},
		{"open-delay", &s.OpenDelay},
	}
	for _, d := range durations {
		if !f.Changed(d.name) {
			continue
		}
		v, err := f.GetDuration(d.name)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	switches := []struct {
		name string
		dst  *bool
	}{
		{"double-eject", &s.DoubleEject},
		{"double-inject", &s.DoubleInject},
	}
	for _, sw := range switches {
		if !f.Changed(sw.name) {
			continue
		}
		v, err := f.GetBool(sw.name)
		if err != nil {
			return err
		}
		*sw.dst = v
	}
	return nil
}
