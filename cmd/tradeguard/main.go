package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeguard/config"
	"tradeguard/db"
	"tradeguard/decision"
	"tradeguard/featureflag"
	"tradeguard/manager"
	"tradeguard/market"
	"tradeguard/sizing"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("📝 no .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ load config: %v", err)
	}

	flags := featureflag.NewRuntimeFlags(featureflag.WithEnvOverrides(featureflag.DefaultState()))
	feed := market.NewBinanceFeed()
	mgr := manager.NewAgentManager(flags, feed)

	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		dbURL = os.Getenv("POSTGRES_URL")
	}

	var stores []*db.PositionStore
	for _, agentCfg := range cfg.Agents {
		source := decision.NewMomentumSource(feed, agentCfg.Symbols)

		var history sizing.HistoryProvider
		var store *db.PositionStore
		if dbURL != "" && flags.PersistenceEnabled() {
			store, err = db.NewPositionStore(dbURL)
			if err != nil {
				log.Printf("⚠️  persistence unavailable for %s, running in-memory: %v", agentCfg.ID, err)
			} else {
				store.BindAgent(agentCfg.ID)
				history = store
				stores = append(stores, store)
			}
		}

		if err := mgr.AddAgent(cfg, agentCfg, source, history); err != nil {
			log.Fatalf("❌ add agent %s: %v", agentCfg.ID, err)
		}

		if store != nil {
			agent, err := mgr.Agent(agentCfg.ID)
			if err != nil {
				log.Fatalf("❌ lookup agent %s: %v", agentCfg.ID, err)
			}
			agent.Ledger().SetPersistFunc(store.SavePosition)
			mgr.Tracker().SetPersistFunc(store.SaveEquity)
		}
	}

	mgr.StartAll()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("⏹  received %s, shutting down...", sig)

	mgr.StopAll()

	for _, store := range stores {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := store.Close(ctx); err != nil {
			log.Printf("⚠️  persistence drain incomplete: %v", err)
		}
		cancel()
	}
	log.Println("✓ shutdown complete")
}
