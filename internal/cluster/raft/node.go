package raft

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/metrics"
	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// membershipTimeout es el timeout por defecto para operaciones de membership (AddVoter, RemoveServer).
const membershipTimeout = 10 * time.Second

var (
	ErrNotInitialized = errors.New("raft: not initialized")
	ErrInvalidOptions = errors.New("raft: invalid node options")
)

// Node es un wrapper liviano alrededor de *raft.Raft que inicializa stores
// (BoltDB o memoria), snapshots y transporte (TCP, mTLS o memoria).
type Node struct {
	r            *hraft.Raft
	fsm          *FSM
	applyTimeout time.Duration
	id           hraft.ServerID
	addr         hraft.ServerAddress
	peers        map[string]string // nodeID -> raftAddr
	membershipMu sync.Mutex        // protege operaciones de membership (AddVoter, RemoveServer)
	transport    hraft.Transport
	log          *zap.Logger

	closeOnce sync.Once
	stop      chan struct{}
}

type NodeOptions struct {
	NodeID   string            // Identidad de este nodo
	RaftAddr string            // host:port para transporte Raft (o dirección lógica en memoria)
	RaftDir  string            // Directorio de datos de Raft (no se usa en memoria)
	Peers    map[string]string // Conjunto estático de peers (nodeID->raftAddr). Si >1, bootstrap estático en 1 nodo.
	// BootstrapPreferred: si true, este nodo intentará ser el bootstrapper inicial cuando no hay estado.
	// Úsese solo en un nodo. Si es false, se elige el de menor NodeID.
	BootstrapPreferred bool

	// DisableBootstrap: si true, este nodo NO hará bootstrap aunque no tenga estado previo.
	// Útil para nodos que van a unirse dinámicamente a un cluster existente ("join-only" mode).
	DisableBootstrap bool

	// InMemory usa stores y transporte en memoria con timeouts cortos.
	InMemory bool

	// TLS (optional). If enabled, create a TLS stream layer with mTLS.
	TLSEnable     bool
	TLSCertFile   string
	TLSKeyFile    string
	TLSCAFile     string
	TLSServerName string

	Logger *zap.Logger
}

func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeID == "" || opts.RaftAddr == "" || (!opts.InMemory && opts.RaftDir == "") {
		return nil, ErrInvalidOptions
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("cluster.raft")
	}
	log = log.With(logger.MemberID(opts.NodeID))

	cfg := hraft.DefaultConfig()
	cfg.LocalID = hraft.ServerID(opts.NodeID)

	var (
		logStore    hraft.LogStore
		stableStore hraft.StableStore
		snapStore   hraft.SnapshotStore
		trans       hraft.Transport
		boltPath    string
	)
	if opts.InMemory {
		mem := hraft.NewInmemStore()
		logStore, stableStore = mem, mem
		snapStore = hraft.NewInmemSnapshotStore()
		_, trans = hraft.NewInmemTransport(hraft.ServerAddress(opts.RaftAddr))
		cfg.HeartbeatTimeout = 50 * time.Millisecond
		cfg.ElectionTimeout = 50 * time.Millisecond
		cfg.LeaderLeaseTimeout = 50 * time.Millisecond
		cfg.CommitTimeout = 5 * time.Millisecond
		cfg.LogOutput = io.Discard
	} else {
		if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir raft dir: %w", err)
		}
		// Stores: log + stable en la misma Bolt DB.
		boltPath = filepath.Join(opts.RaftDir, "raft.db")
		boltStore, err := raftboltdb.NewBoltStore(boltPath)
		if err != nil {
			return nil, fmt.Errorf("bolt store: %w", err)
		}
		logStore, stableStore = boltStore, boltStore

		// Snapshots en disco (retenemos 2).
		snapStore, err = hraft.NewFileSnapshotStore(opts.RaftDir, 2, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		trans, err = networkTransport(opts)
		if err != nil {
			return nil, err
		}
	}

	fsm := NewFSM()
	r, err := hraft.NewRaft(cfg, fsm, logStore, stableStore, snapStore, trans)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	n := &Node{
		r:            r,
		fsm:          fsm,
		applyTimeout: 5 * time.Second,
		id:           cfg.LocalID,
		addr:         trans.LocalAddr(),
		peers:        opts.Peers,
		transport:    trans,
		log:          log,
		stop:         make(chan struct{}),
	}

	// Bootstrap si no hay estado previo
	hasState, err := hraft.HasExistingState(logStore, stableStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("check state: %w", err)
	}
	if !hasState {
		if err := n.bootstrap(opts); err != nil {
			_ = r.Shutdown().Error()
			return nil, err
		}
	}

	// Tamaño del archivo de log (solo con BoltDB)
	if boltPath != "" {
		go n.trackLogSize(boltPath)
	}
	return n, nil
}

func networkTransport(opts NodeOptions) (hraft.Transport, error) {
	// Transporte: TCP plano o TLS mTLS si está habilitado
	if opts.TLSEnable {
		bundle, err := loadTLSBundle(opts.TLSCertFile, opts.TLSKeyFile, opts.TLSCAFile, opts.TLSServerName)
		if err != nil {
			return nil, fmt.Errorf("raft tls: %w", err)
		}
		ln, err := tls.Listen("tcp", opts.RaftAddr, bundle.server)
		if err != nil {
			return nil, fmt.Errorf("tls listen: %w", err)
		}
		stream := &tlsStream{ln: ln, cfg: bundle.client}
		return hraft.NewNetworkTransport(stream, 3, 10*time.Second, os.Stderr), nil
	}
	plain, err := hraft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("tcp transport: %w", err)
	}
	return plain, nil
}

func (n *Node) bootstrap(opts NodeOptions) error {
	// Join-only mode: el nodo esperará a ser agregado por el leader.
	if opts.DisableBootstrap {
		n.log.Info("join-only mode: skipping bootstrap", logger.String("addr", string(n.addr)))
		return nil
	}
	if len(opts.Peers) <= 1 {
		conf := hraft.Configuration{Servers: []hraft.Server{{ID: n.id, Address: n.addr}}}
		if err := n.r.BootstrapCluster(conf).Error(); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		n.log.Info("bootstrapped single-node cluster", logger.String("addr", string(n.addr)))
		return nil
	}

	// Bootstrap estático en un único nodo determinístico (menor NodeID)
	smallest := opts.NodeID
	for k := range opts.Peers {
		if k < smallest {
			smallest = k
		}
	}
	if !opts.BootstrapPreferred && opts.NodeID != smallest {
		n.log.Info("waiting to join static cluster", logger.String("bootstrapper", smallest))
		return nil
	}
	servers := make([]hraft.Server, 0, len(opts.Peers))
	for id, addr := range opts.Peers {
		servers = append(servers, hraft.Server{ID: hraft.ServerID(id), Address: hraft.ServerAddress(addr)})
	}
	if err := n.r.BootstrapCluster(hraft.Configuration{Servers: servers}).Error(); err != nil {
		return fmt.Errorf("bootstrap(static): %w", err)
	}
	n.log.Info("bootstrapped static cluster", logger.Count(len(servers)))
	return nil
}

func (n *Node) trackLogSize(path string) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-t.C:
			if st, err := os.Stat(path); err == nil {
				metrics.RaftLogSizeBytes.Set(float64(st.Size()))
			}
		}
	}
}

// Apply serializa el comando y espera commit o timeout.
func (n *Node) Apply(ctx context.Context, c Command) (uint64, error) {
	if n == nil || n.r == nil {
		return 0, ErrNotInitialized
	}
	buf, err := json.Marshal(c)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	fut := n.r.Apply(buf, n.applyTimeout)

	// Respetar cancelación de ctx mientras esperamos el futuro.
	if err := wait(ctx, fut); err != nil {
		return 0, err
	}
	metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
	if resp, ok := fut.Response().(error); ok && resp != nil {
		return 0, resp
	}
	return fut.Index(), nil
}

// Get lee una clave del estado replicado local.
func (n *Node) Get(key string) (string, bool) { return n.fsm.Get(key) }

func wait(ctx context.Context, fut hraft.Future) error {
	done := make(chan error, 1)
	go func() { done <- fut.Error() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (n *Node) IsLeader() bool {
	if n == nil || n.r == nil {
		return false
	}
	return n.r.State() == hraft.Leader
}

func (n *Node) LeaderID() string {
	if n == nil || n.r == nil {
		return ""
	}
	addr, id := n.r.LeaderWithID()
	if id != "" {
		return string(id)
	}
	return string(addr)
}

func (n *Node) NodeID() string   { return string(n.id) }
func (n *Node) RaftAddr() string { return string(n.addr) }

// Transport devuelve el transporte (útil para conectar nodos en memoria).
func (n *Node) Transport() hraft.Transport { return n.transport }

// Stats expone métricas de Raft del nodo embebido.
func (n *Node) Stats() map[string]string {
	if n == nil || n.r == nil {
		return map[string]string{}
	}
	return n.r.Stats()
}

func (n *Node) registerObserver(o *hraft.Observer)   { n.r.RegisterObserver(o) }
func (n *Node) deregisterObserver(o *hraft.Observer) { n.r.DeregisterObserver(o) }

func (n *Node) Close() error {
	if n == nil || n.r == nil {
		return nil
	}
	var err error
	n.closeOnce.Do(func() {
		close(n.stop)
		err = n.r.Shutdown().Error()
	})
	return err
}

// ─── Membership helpers ───

// GetConfiguration devuelve la configuración actual del cluster Raft.
func (n *Node) GetConfiguration(ctx context.Context) (hraft.Configuration, error) {
	if n == nil || n.r == nil {
		return hraft.Configuration{}, ErrNotInitialized
	}
	fut := n.r.GetConfiguration()
	if err := wait(ctx, fut); err != nil {
		return hraft.Configuration{}, err
	}
	return fut.Configuration(), nil
}

// AddVoter agrega un nodo votante al cluster.
// Si el server ya existe con la misma dirección retorna nil; si existe con
// otra dirección, se remueve y se vuelve a agregar.
func (n *Node) AddVoter(ctx context.Context, id, addr string) error {
	if n == nil || n.r == nil {
		return ErrNotInitialized
	}
	if id == "" || addr == "" {
		return ErrInvalidOptions
	}

	n.membershipMu.Lock()
	defer n.membershipMu.Unlock()

	config, err := n.GetConfiguration(ctx)
	if err != nil {
		return fmt.Errorf("get configuration: %w", err)
	}
	serverID := hraft.ServerID(id)
	serverAddr := hraft.ServerAddress(addr)
	for _, srv := range config.Servers {
		if srv.ID != serverID {
			continue
		}
		if srv.Address == serverAddr {
			return nil
		}
		if err := n.removeServerLocked(ctx, id); err != nil {
			return fmt.Errorf("remove server before re-add: %w", err)
		}
		break
	}
	return wait(ctx, n.r.AddVoter(serverID, serverAddr, 0, membershipTimeout))
}

// RemoveServer remueve un nodo del cluster. Idempotente.
func (n *Node) RemoveServer(ctx context.Context, id string) error {
	if n == nil || n.r == nil {
		return ErrNotInitialized
	}
	if id == "" {
		return ErrInvalidOptions
	}
	n.membershipMu.Lock()
	defer n.membershipMu.Unlock()
	return n.removeServerLocked(ctx, id)
}

// removeServerLocked asume membershipMu tomado.
func (n *Node) removeServerLocked(ctx context.Context, id string) error {
	config, err := n.GetConfiguration(ctx)
	if err != nil {
		return fmt.Errorf("get configuration: %w", err)
	}
	serverID := hraft.ServerID(id)
	for _, srv := range config.Servers {
		if srv.ID == serverID {
			return wait(ctx, n.r.RemoveServer(serverID, 0, membershipTimeout))
		}
	}
	return nil
}

// ─── TLS helpers ───

type tlsBundle struct {
	server *tls.Config
	client *tls.Config
}

func loadTLSBundle(certFile, keyFile, caFile, serverName string) (*tlsBundle, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("invalid CA file")
	}
	server := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}
	client := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   serverName,
	}
	return &tlsBundle{server: server, client: client}, nil
}

type tlsStream struct {
	ln  net.Listener
	cfg *tls.Config
}

func (t *tlsStream) Dial(address hraft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(d, "tcp", string(address), t.cfg)
}
func (t *tlsStream) Accept() (net.Conn, error) { return t.ln.Accept() }
func (t *tlsStream) Close() error              { return t.ln.Close() }
func (t *tlsStream) Addr() net.Addr            { return t.ln.Addr() }
