package app

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aq2208/group-order-api/configs"
)

// InitPaymentGWConn dials the payment gateway and returns a conn + cleanup.
// The connection is used only for health probes: the gateway pushes payment
// outcomes to us over Kafka, we never call it to move money.
func InitPaymentGWConn(ctx context.Context, cfg configs.Config) (*grpc.ClientConn, func(), error) {
	dialTimeout := cfg.PaymentGW.Timeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  200 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   5 * time.Second,
			},
			MinConnectTimeout: dialTimeout,
		}),
	}

	// TLS vs. insecure
	if cfg.PaymentGW.UseTLS {
		var creds credentials.TransportCredentials
		if cfg.PaymentGW.CACertPath != "" {
			pem, err := os.ReadFile(cfg.PaymentGW.CACertPath)
			if err != nil {
				return nil, nil, err
			}
			pool := x509.NewCertPool()
			if ok := pool.AppendCertsFromPEM(pem); !ok {
				return nil, nil, ErrBadCACert
			}
			tlsCfg := &tls.Config{RootCAs: pool}
			if sn := cfg.PaymentGW.ServerName; sn != "" {
				tlsCfg.ServerName = sn
			}
			creds = credentials.NewTLS(tlsCfg)
		} else {
			creds = credentials.NewClientTLSFromCert(nil, cfg.PaymentGW.ServerName)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(cfg.PaymentGW.Target, opts...)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return conn, cleanup, nil
}

// ProbePaymentGW runs one health check against the gateway. Startup is not
// gated on it; an unreachable gateway only delays payment-status ingestion.
func ProbePaymentGW(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	return err
}

var ErrBadCACert = badCACert{"unable to parse CA cert"}

type badCACert struct{ msg string }

func (e badCACert) Error() string { return e.msg }
