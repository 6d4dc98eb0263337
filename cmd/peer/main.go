package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/config"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/peer"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/persist"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/physics"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/presence"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/script"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/session"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/world"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/ws"
)

func main() {
	logger := log.Default()
	if err := config.LoadEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadPeer()
	if err != nil {
		log.Fatal(err)
	}
	flag.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay websocket url")
	flag.StringVar(&cfg.GameID, "game", cfg.GameID, "game id to join")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "player display name")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "local sqlite database")
	flag.StringVar(&cfg.Script, "script", cfg.Script, "lua script driving this peer")
	flag.Parse()

	db, err := persist.Open(cfg.DBPath, persist.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	id, err := presence.LoadOrCreateID(db)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The peer exists before the relay link so early subscriptions are kept
	// and installed on Attach.
	p := peer.New(id, nil, peer.Options{
		GameID:         cfg.GameID,
		Name:           cfg.Name,
		Tick:           cfg.TickRate,
		MinPlayers:     cfg.MinPlayers,
		VotingDuration: cfg.VotingDuration,
		StaleAfter:     cfg.StaleAfter,
		Characters:     cfg.Characters,
		Logger:         logger,
		OnPhase: func(prev, next session.Phase) {
			logging.Info(logger, "phase", "from", prev, "to", next)
		},
		OnControl: func(ref model.Ref, controller string) {
			logging.Debug(logger, "control", "object", ref, "controller", controller)
		},
	})
	go p.Run()
	p.Level(level)

	conn, err := ws.Dial(ctx, cfg.RelayURL, ws.DialOptions{Logger: logger})
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	p.Attach(conn)

	if err := p.Start(ctx); err != nil {
		logging.Error(logger, "join failed", "game", cfg.GameID, "err", err)
	}
	logging.Info(logger, "peer started", "id", id, "name", cfg.Name, "game", cfg.GameID, "relay", cfg.RelayURL)

	if cfg.Script != "" {
		r := script.New(p, script.Options{Logger: logger})
		if err := r.RunFile(ctx, cfg.Script); err != nil && ctx.Err() == nil {
			logging.Error(logger, "script failed", "file", cfg.Script, "err", err)
		}
	}

	<-ctx.Done()
	p.Close()
	logging.Info(logger, "peer stopped", "id", id)
}

var _ script.API = (*peer.Peer)(nil)

// level is the shared object layout every peer registers.
func level(w *world.World) {
	w.AddBox("box1", physics.NewKinematic(model.Transform{X: 200, Y: 300}))
	w.AddBox("box2", physics.NewKinematic(model.Transform{X: 260, Y: 300}))
	w.AddDropbox("dropbox1", physics.NewKinematic(model.Transform{X: 480, Y: 120}))
	w.AddItem("key1", physics.NewKinematic(model.Transform{X: 640, Y: 280}))
	w.AddEgg("egg1", physics.NewKinematic(model.Transform{X: 320, Y: 100}), 100)
}
