package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/cache"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/netmon"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/outbox"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/session"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/store"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/transport"
)

var rootCmd = &cobra.Command{
	Use:   "gc-live",
	Short: "Diagnostic client for GlobalConnect live sessions",
	Long: `gc-live is a diagnostic client for the live session sync engine.

It joins a session over the real-time transport, mirrors the engine's
behavior (optimistic sends, offline outbox, reconciliation), and exposes
the local cache for inspection. Configuration is read from flags,
GC_LIVE_* environment variables, and ~/.gc-live.yaml, in that order.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("server", "ws://localhost:8080/ws", "websocket endpoint")
	pf.String("session", "", "session id to join")
	pf.String("event", "", "event id the session belongs to")
	pf.String("feature", "chat", "feature scope (chat, qa, polls, agenda)")
	pf.String("author", "", "author id stamped on sent items")
	pf.String("store", "", "path to the local store database (default: ~/.gc-live/live.db)")

	for _, name := range []string{"server", "session", "event", "feature", "author", "store"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".gc-live")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("GC_LIVE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
		}
	}
}

func storePath() string {
	if p := viper.GetString("store"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".gc-live", "live.db")
	}
	return filepath.Join(home, ".gc-live", "live.db")
}

// stack is the assembled engine for one CLI invocation.
type stack struct {
	store   *store.Store
	outbox  *outbox.Outbox
	cache   *cache.Cache
	monitor *netmon.Monitor
	client  *transport.Client
	session *session.Session
}

// openStack wires the full engine from configuration. logger applies to
// every component so commands can redirect output in one place.
func openStack(logger *log.Logger) (*stack, error) {
	sessionID := viper.GetString("session")
	if sessionID == "" {
		return nil, fmt.Errorf("--session is required")
	}
	eventID := viper.GetString("event")
	if eventID == "" {
		return nil, fmt.Errorf("--event is required")
	}

	st, err := store.Open(storePath())
	if err != nil {
		return nil, err
	}

	obConfig := outbox.DefaultConfig()
	obConfig.Logger = logger
	ob := outbox.New(st, obConfig)

	cConfig := cache.DefaultConfig()
	cConfig.Logger = logger
	c := cache.New(st, cConfig)

	mon := netmon.New(&netmon.Config{Logger: logger})

	tConfig := transport.DefaultConfig(viper.GetString("server"))
	tConfig.Logger = logger
	client := transport.NewClient(tConfig)

	sess, err := session.New(&session.Config{
		Feature:   viper.GetString("feature"),
		SessionID: sessionID,
		EventID:   eventID,
		AuthorID:  viper.GetString("author"),
		Transport: client,
		Outbox:    ob,
		Cache:     c,
		Monitor:   mon,
		Logger:    logger,
	})
	if err != nil {
		ob.Close()
		mon.Close()
		_ = st.Close()
		return nil, err
	}

	return &stack{store: st, outbox: ob, cache: c, monitor: mon, client: client, session: sess}, nil
}

// close tears the stack down in dependency order.
func (s *stack) close() {
	s.session.Leave()
	_ = s.client.Close()
	s.monitor.Close()
	s.outbox.Close()
	_ = s.store.Close()
}

// waitSettled polls until no item is pending or the timeout passes.
func (s *stack) waitSettled(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		settled := true
		for _, it := range s.session.Items() {
			if it.Pending {
				settled = false
				break
			}
		}
		if settled && s.session.Phase() == session.PhaseJoined {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
