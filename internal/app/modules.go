package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
)

type module interface {
	Name() string
	Start(ctx context.Context, env *runtimeEnv, fatalErrCh chan<- error) (*runningModule, error)
}

type runningModule struct {
	name     string
	started  bool
	shutdown func(context.Context) error
	close    func() error
}

func (m *runningModule) Stop(ctx context.Context) {
	if m == nil {
		return
	}
	if m.shutdown != nil {
		_ = m.shutdown(ctx)
	}
	if m.close != nil {
		_ = m.close()
	}
}

type tlsFiles struct {
	cert string
	key  string
}

// listenAndServe binds synchronously so that bind and certificate errors
// surface at startup, then serves in the background.
func listenAndServe(env *runtimeEnv, name string, server *http.Server, certs *tlsFiles, required bool, fatalErrCh chan<- error) (net.Addr, error) {
	log := env.log.WithField("server", name)

	if certs != nil {
		pair, err := tls.LoadX509KeyPair(certs.cert, certs.key)
		if err != nil {
			return nil, fmt.Errorf("%s: load TLS key pair: %w", name, err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		if required {
			return nil, fmt.Errorf("%s listen %s: %w", name, server.Addr, err)
		}
		log.WithError(err).Warnf("listen failed on %s; %s disabled", server.Addr, name)
		return nil, nil
	}

	scheme := "http"
	if certs != nil {
		scheme = "https"
	}
	log.Infof("listening on %s://%s", scheme, ln.Addr())

	env.sup.Go(name, func() {
		var err error
		if certs != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			if required && fatalErrCh != nil {
				select {
				case fatalErrCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				return
			}
			log.WithError(err).Warn("server stopped")
		}
	})
	return ln.Addr(), nil
}
