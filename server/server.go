package server

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/config"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// Server composes the store, scheduler, sessions and front end.
type Server struct {
	cfg      *config.Config
	store    *db.Store
	sessions *SessionManager
	sched    *Scheduler
	listener *Listener
	stopCkpt chan struct{}
}

func New(cfg *config.Config, store *db.Store) *Server {
	sessions := NewSessionManager()
	budgets := Budgets{
		FgTicks: cfg.FgTicks, BgTicks: cfg.BgTicks,
		FgSeconds: cfg.FgSeconds, BgSeconds: cfg.BgSeconds,
		Retries: cfg.Retries, Workers: cfg.Workers,
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		sched:    NewScheduler(store, builtins.Default(), sessions, budgets),
		stopCkpt: make(chan struct{}),
	}
	s.listener = NewListener(sessions, s.login)
	return s
}

// Scheduler exposes the task engine (the CLI eval path uses it).
func (s *Server) Scheduler() *Scheduler { return s.sched }

// Sessions exposes the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Run starts everything and blocks serving the listen address.
func (s *Server) Run() error {
	s.sched.Start()
	s.sched.SubmitHook(0, "server_started", types.ObjNothing, nil)

	if s.cfg.CheckpointPath != "" && s.cfg.CheckpointMinutes > 0 {
		go s.checkpointLoop()
	}
	return s.listener.Serve(fmt.Sprintf(":%d", s.cfg.Port))
}

// Stop shuts the server down, taking a final checkpoint.
func (s *Server) Stop() {
	close(s.stopCkpt)
	s.listener.Close()
	s.sched.Stop()
	if s.cfg.CheckpointPath != "" {
		s.checkpoint()
	}
}

func (s *Server) checkpointLoop() {
	ticker := time.NewTicker(time.Duration(s.cfg.CheckpointMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCkpt:
			return
		case <-ticker.C:
			s.checkpoint()
		}
	}
}

func (s *Server) checkpoint() {
	start := time.Now()
	tasks := s.sched.SuspendedImages()
	if err := s.store.Checkpoint(s.cfg.CheckpointPath, tasks); err != nil {
		log.Printf("Checkpoint failed: %v", err)
		return
	}
	log.Printf("Checkpoint complete in %v (%d suspended tasks)",
		time.Since(start).Round(time.Millisecond), len(tasks))
}

// login resolves `connect <name> [password]`: it matches player names
// and verifies a `password` property with the crypt builtin's format
// when one is set. $do_login_command is not consulted.
func (s *Server) login(name, password string) (types.ObjID, bool) {
	var player types.ObjID = types.ObjNothing
	s.store.View(func(tx *db.Tx) {
		for _, p := range tx.Players() {
			n, _ := tx.Name(p)
			if strings.EqualFold(n, name) {
				player = p
				return
			}
		}
	})
	if player == types.ObjNothing {
		return types.ObjNothing, false
	}

	ok := true
	s.store.View(func(tx *db.Tx) {
		v, code := tx.GetProperty(db.Perms{Who: player}, player, "password")
		if code != types.E_NONE {
			return // no password property: open world
		}
		hash, isStr := v.(types.StrValue)
		if !isStr || hash.Value() == "" {
			return
		}
		ok = builtins.VerifyPassword(password, hash.Value())
	})
	if !ok {
		return types.ObjNothing, false
	}

	s.sched.SubmitHook(0, "user_connected", player,
		[]types.Value{types.NewObj(player)})
	return player, true
}
