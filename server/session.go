package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Oliver2213/moor/types"
)

// Conn is the transport half of a session: whatever the front end
// uses to push lines at a client.
type Conn interface {
	WriteLine(line string) error
	WriteBinary(data []byte) error
	Close() error
}

// Session is one attached client. Output reaches the connection only
// through commit-time flushes, in task-commit order.
type Session struct {
	ID     int64
	Player types.ObjID
	conn   Conn

	mu        sync.Mutex
	reading   int64 // task id awaiting a line, 0 none
	pendingIn []string
}

// SessionManager tracks attached sessions and owns the line routing
// between connections and the scheduler.
type SessionManager struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*Session
	byPlayer map[types.ObjID]*Session

	// Submit routes a command line to the scheduler.
	Submit func(player types.ObjID, sessionID int64, line string)
	// Deliver routes input to a task blocked in read().
	Deliver func(taskID int64, line string)
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*Session),
		byPlayer: make(map[types.ObjID]*Session),
	}
}

// Attach binds a connection to a player, booting any prior session
// for the same player.
func (sm *SessionManager) Attach(player types.ObjID, conn Conn) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if old, ok := sm.byPlayer[player]; ok {
		old.conn.WriteLine("*** Redirecting connection to new port ***")
		old.conn.Close()
		delete(sm.sessions, old.ID)
	}
	sm.nextID++
	s := &Session{ID: sm.nextID, Player: player, conn: conn}
	sm.sessions[s.ID] = s
	sm.byPlayer[player] = s
	return s
}

// Disconnect removes a session.
func (sm *SessionManager) Disconnect(id int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return
	}
	delete(sm.sessions, id)
	if sm.byPlayer[s.Player] == s {
		delete(sm.byPlayer, s.Player)
	}
	s.conn.Close()
}

// HandleLine routes one input line: a task blocked in read() on this
// session gets it, otherwise it becomes a new command task.
func (sm *SessionManager) HandleLine(sessionID int64, line string) {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	readerTask := s.reading
	if readerTask != 0 {
		s.reading = 0
	}
	s.mu.Unlock()

	if readerTask != 0 {
		sm.Deliver(readerTask, line)
		return
	}
	sm.Submit(s.Player, s.ID, expandShorthand(line))
}

// AwaitInput marks a task as reading from the session.
func (sm *SessionManager) AwaitInput(sessionID, taskID int64) {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.reading = taskID
	s.mu.Unlock()
}

// SendLine writes directly to a player's session, bypassing task
// buffering. Used for tracebacks and server notices.
func (sm *SessionManager) SendLine(player types.ObjID, line string) {
	sm.mu.Lock()
	s, ok := sm.byPlayer[player]
	sm.mu.Unlock()
	if ok {
		s.conn.WriteLine(line)
	}
}

// ConnectedPlayers lists players with live sessions.
func (sm *SessionManager) ConnectedPlayers() []types.ObjID {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]types.ObjID, 0, len(sm.byPlayer))
	for p := range sm.byPlayer {
		out = append(out, p)
	}
	return out
}

// Boot drops a player's session.
func (sm *SessionManager) Boot(player types.ObjID) {
	sm.mu.Lock()
	s, ok := sm.byPlayer[player]
	sm.mu.Unlock()
	if ok {
		sm.Disconnect(s.ID)
	}
}

// SessionFor reports the live session for a player.
func (sm *SessionManager) SessionFor(player types.ObjID) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.byPlayer[player]
	return s, ok
}

// expandShorthand rewrites the say/emote/eval prefixes.
func expandShorthand(line string) string {
	switch {
	case strings.HasPrefix(line, "\""):
		return "say " + line[1:]
	case strings.HasPrefix(line, ":"):
		return "emote " + line[1:]
	case strings.HasPrefix(line, ";"):
		return "eval " + line[1:]
	}
	return line
}

// outputBuffer stages task output until commit; it implements the
// builtins session surface. Conflicted and aborted attempts discard
// their buffers, so clients only ever see committed output.
type outputBuffer struct {
	sm    *SessionManager
	lines []bufferedLine
}

type bufferedLine struct {
	player types.ObjID
	line   string
}

func newOutputBuffer(sm *SessionManager) *outputBuffer {
	return &outputBuffer{sm: sm}
}

func (b *outputBuffer) SendLine(player types.ObjID, line string) {
	b.lines = append(b.lines, bufferedLine{player: player, line: line})
}

func (b *outputBuffer) ConnectedPlayers() []types.ObjID {
	return b.sm.ConnectedPlayers()
}

func (b *outputBuffer) Boot(player types.ObjID) {
	// Boots take effect at commit with the rest of the output.
	b.lines = append(b.lines, bufferedLine{player: player, line: "\x00boot"})
}

// flush delivers the buffer in order.
func (b *outputBuffer) flush() {
	for _, l := range b.lines {
		if l.line == "\x00boot" {
			b.sm.Boot(l.player)
			continue
		}
		b.sm.SendLine(l.player, l.line)
	}
	b.lines = nil
}

// discard drops everything staged.
func (b *outputBuffer) discard() { b.lines = nil }

// tcpConn adapts a net.Conn to the session transport.
type tcpConn struct {
	c  net.Conn
	w  *bufio.Writer
	mu sync.Mutex
}

func (t *tcpConn) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *tcpConn) WriteBinary(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(data); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *tcpConn) Close() error { return t.c.Close() }

// Listener is the minimal line-oriented TCP front end. Connections
// log in with `connect <player> [password]`; the login callback
// decides whether the attempt succeeds.
type Listener struct {
	sessions *SessionManager
	login    func(name, password string) (types.ObjID, bool)
	closed   atomic.Bool
	ln       net.Listener
}

func NewListener(sessions *SessionManager, login func(name, password string) (types.ObjID, bool)) *Listener {
	return &Listener{sessions: sessions, login: login}
}

// Serve accepts connections until Close.
func (l *Listener) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.ln = ln
	log.Printf("Listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		go l.serveConn(conn)
	}
}

func (l *Listener) Close() {
	l.closed.Store(true)
	if l.ln != nil {
		l.ln.Close()
	}
}

func (l *Listener) serveConn(nc net.Conn) {
	conn := &tcpConn{c: nc, w: bufio.NewWriter(nc)}
	conn.WriteLine("*** Welcome ***")
	scanner := bufio.NewScanner(nc)

	var session *Session
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if session == nil {
			fields := strings.Fields(line)
			if len(fields) >= 2 && strings.EqualFold(fields[0], "connect") {
				password := ""
				if len(fields) > 2 {
					password = fields[2]
				}
				if player, ok := l.login(fields[1], password); ok {
					session = l.sessions.Attach(player, conn)
					conn.WriteLine(fmt.Sprintf("*** Connected as #%d ***", int(player)))
					continue
				}
			}
			conn.WriteLine("*** Invalid login; try: connect <player> [password] ***")
			continue
		}
		l.sessions.HandleLine(session.ID, line)
	}
	if session != nil {
		l.sessions.Disconnect(session.ID)
	} else {
		nc.Close()
	}
}
