package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	livecache "github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/cache"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/session"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the local session cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached snapshot for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, st, err := openCache()
		if err != nil {
			return err
		}
		defer st.Close()

		feature := viper.GetString("feature")
		sessionID := viper.GetString("session")
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}

		entry, err := c.Get(feature, sessionID)
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Printf("No cached snapshot for %s/%s\n", feature, sessionID)
			return nil
		}

		var items []session.Item
		if err := entry.Decode(&items); err != nil {
			return err
		}

		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		staleness := "fresh"
		if entry.Stale(staleAfter, time.Now()) {
			staleness = "STALE"
		}
		fmt.Printf("%d item(s), cached %s (%s)\n", len(items),
			entry.CachedAt.Format(time.RFC3339), staleness)
		for _, it := range items {
			fmt.Printf("  %s  %s: %s\n", it.ID, it.AuthorID, it.Content)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached snapshot for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, st, err := openCache()
		if err != nil {
			return err
		}
		defer st.Close()

		sessionID := viper.GetString("session")
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}

		c.Clear(viper.GetString("feature"), sessionID)
		fmt.Println("Cache cleared")
		return nil
	},
}

func openCache() (*livecache.Cache, *store.Store, error) {
	st, err := store.Open(storePath())
	if err != nil {
		return nil, nil, err
	}
	config := livecache.DefaultConfig()
	config.Logger = log.New(os.Stderr, "[gc-live] ", log.LstdFlags)
	return livecache.New(st, config), st, nil
}

func init() {
	cacheShowCmd.Flags().Duration("stale-after", 30*time.Minute, "staleness threshold for the freshness report")
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
