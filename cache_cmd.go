package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNoDiskCache = errors.New("the audio cache is disabled or kept in memory only")

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Show or clean the synthesized audio cache",
	Long:    paragraph(fmt.Sprintf("\nShow the %s kept for the piper and gtts backends, or remove old or all entries.", keyword("audio cache"))),
	Example: paragraph("readaloud cache\nreadaloud cache --prune\nreadaloud cache --clear"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		clearAll, _ := cmd.Flags().GetBool("clear")
		prune, _ := cmd.Flags().GetBool("prune")

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cc, ok, err := cfg.CacheOptions()
		if err != nil {
			return err
		}
		if !ok || cc.Dir == "" {
			return errNoDiskCache
		}

		ac, err := cache.New(cc)
		if err != nil {
			return fmt.Errorf("unable to open cache: %w", err)
		}
		defer func() { _ = ac.Close() }()

		switch {
		case clearAll:
			_, before := ac.Stats()
			if err := ac.Clear(); err != nil {
				return fmt.Errorf("unable to clear cache: %w", err)
			}
			fmt.Printf("%s Removed %s items (%s)\n", okMark, humanize.Comma(before.Items), humanize.IBytes(uint64(before.Size)))
		case prune:
			n := ac.Prune()
			fmt.Printf("%s Removed %s items older than %s\n", okMark, humanize.Comma(int64(n)), cc.TTL)
		}

		_, disk := ac.Stats()
		fmt.Printf("%s %s\n", keyword(cc.Dir), faint(disk.String()))
		return nil
	},
}

func init() {
	cacheCmd.Flags().Bool("clear", false, "remove every cached clip")
	cacheCmd.Flags().Bool("prune", false, "remove clips older than cache.ttl")
	cacheCmd.MarkFlagsMutuallyExclusive("clear", "prune")
}
