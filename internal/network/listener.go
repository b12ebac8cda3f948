package network

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/rs/zerolog/log"
)

var (
	ErrAETitleInUse  = errors.New("network: ae title already listening")
	ErrNotListening  = errors.New("network: not listening")
	ErrNoContexts    = errors.New("network: listener offers no presentation contexts")
	ErrNilStartAssoc = errors.New("network: nil association factory")
	ErrTLSMismatch   = errors.New("network: tls settings differ from existing listener")
)

type application struct {
	params ListenerParameters
	start  StartAssociation
}

// portListener accepts connections on one address and routes each
// association to the application named by its called AE title.
type portListener struct {
	key string
	ln  net.Listener
	tls TLSConfig

	mu    sync.RWMutex
	apps  map[string]*application
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
}

// TCPTransport is the Transport used by the daemon. Several AE titles may
// share one address and port.
type TCPTransport struct {
	mu        sync.Mutex
	listeners map[string]*portListener
}

var _ Transport = (*TCPTransport)(nil)

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{listeners: make(map[string]*portListener)}
}

func listenKey(address string, port int) string {
	return net.JoinHostPort(strings.TrimSpace(address), strconv.Itoa(port))
}

func (t *TCPTransport) Listen(params ListenerParameters, start StartAssociation) error {
	if start == nil {
		return ErrNilStartAssoc
	}
	if err := dicom.ValidateAETitle(params.AETitle); err != nil {
		return err
	}
	if params.Contexts == nil || len(params.Contexts.PresentationContexts()) == 0 {
		return ErrNoContexts
	}
	params = params.WithDefaults()
	ae := strings.TrimSpace(params.AETitle)
	app := &application{params: params, start: start}

	t.mu.Lock()
	defer t.mu.Unlock()
	key := listenKey(params.Address, params.Port)
	if pl, ok := t.listeners[key]; ok {
		if pl.tls != params.TLS {
			return fmt.Errorf("%w: %s", ErrTLSMismatch, key)
		}
		return pl.add(ae, app)
	}

	ln, err := listen(key, params.TLS)
	if err != nil {
		return err
	}
	pl := &portListener{
		key:   key,
		ln:    ln,
		tls:   params.TLS,
		apps:  map[string]*application{ae: app},
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	t.listeners[key] = pl
	pl.wg.Add(1)
	go pl.acceptLoop()
	log.Info().Str("ae", ae).Str("addr", ln.Addr().String()).Bool("tls", params.TLS.Enabled).Msg("network.listen")
	return nil
}

func (t *TCPTransport) StopListening(params ListenerParameters) error {
	key := listenKey(params.Address, params.Port)
	ae := strings.TrimSpace(params.AETitle)

	t.mu.Lock()
	pl, ok := t.listeners[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotListening, key)
	}
	remaining, err := pl.remove(ae)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if remaining > 0 {
		t.mu.Unlock()
		return nil
	}
	delete(t.listeners, key)
	t.mu.Unlock()

	pl.close()
	log.Info().Str("ae", ae).Str("addr", key).Msg("network.stop listening")
	return nil
}

// Addr returns the bound address for a listen request, resolving port 0.
func (t *TCPTransport) Addr(address string, port int) (net.Addr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pl, ok := t.listeners[listenKey(address, port)]
	if !ok {
		return nil, false
	}
	return pl.ln.Addr(), true
}

// Close stops every listener.
func (t *TCPTransport) Close() {
	t.mu.Lock()
	all := make([]*portListener, 0, len(t.listeners))
	for key, pl := range t.listeners {
		all = append(all, pl)
		delete(t.listeners, key)
	}
	t.mu.Unlock()
	for _, pl := range all {
		pl.close()
	}
}

func listen(addr string, cfg TLSConfig) (net.Listener, error) {
	tlsCfg, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return net.Listen("tcp", addr)
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

func (pl *portListener) add(ae string, app *application) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, ok := pl.apps[ae]; ok {
		return fmt.Errorf("%w: %s on %s", ErrAETitleInUse, ae, pl.key)
	}
	pl.apps[ae] = app
	return nil
}

func (pl *portListener) remove(ae string) (int, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, ok := pl.apps[ae]; !ok {
		return len(pl.apps), fmt.Errorf("%w: %s on %s", ErrNotListening, ae, pl.key)
	}
	delete(pl.apps, ae)
	return len(pl.apps), nil
}

func (pl *portListener) lookup(ae string) (*application, bool) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	app, ok := pl.apps[strings.TrimSpace(ae)]
	return app, ok
}

// defaults picks the parameters used before the called AE is known.
func (pl *portListener) defaults() ListenerParameters {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	for _, app := range pl.apps {
		return app.params
	}
	return ListenerParameters{}.WithDefaults()
}

func (pl *portListener) acceptLoop() {
	defer pl.wg.Done()
	failures := 0
	for {
		nc, err := pl.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			delay := NextBackoffDelay(acceptBackoff, failures)
			log.Warn().Err(err).Str("addr", pl.key).Int("failures", failures).Dur("retry_in", delay).Msg("network.accept failed")
			select {
			case <-pl.done:
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if !pl.track(nc) {
			_ = nc.Close()
			return
		}
		pl.wg.Add(1)
		go func() {
			defer pl.wg.Done()
			defer pl.untrack(nc)
			newConn(nc, pl.defaults(), pl.lookup).serve()
		}()
	}
}

func (pl *portListener) track(nc net.Conn) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.conns == nil {
		return false
	}
	pl.conns[nc] = struct{}{}
	return true
}

func (pl *portListener) untrack(nc net.Conn) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.conns, nc)
}

func (pl *portListener) close() {
	pl.closeOnce.Do(func() { close(pl.done) })
	_ = pl.ln.Close()
	pl.mu.Lock()
	for nc := range pl.conns {
		_ = nc.Close()
	}
	pl.conns = nil
	pl.mu.Unlock()
	pl.wg.Wait()
}
