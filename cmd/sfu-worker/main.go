// Command sfu-worker runs a single worker (spec.md §5) over one DTLS
// secure channel: it terminates the DTLS handshake, demultiplexes the
// plaintext datagrams it receives into RTP/RTCP, and drives the pacer and
// compound-RTCP clock on a fixed tick.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/sfu-worker/internal/rtc/metrics"
	"github.com/arzzra/sfu-worker/internal/rtc/rtcp"
	"github.com/arzzra/sfu-worker/internal/rtc/transport"
	"github.com/arzzra/sfu-worker/internal/rtc/worker"
)

const defaultTransportID worker.TransportID = 1

func main() {
	var (
		listenAddr     = flag.String("listen", "127.0.0.1:0", "local UDP address for the secure channel")
		remoteAddr     = flag.String("remote", "", "peer UDP address; if set, dial as the DTLS client, otherwise accept as the server")
		insecure       = flag.Bool("insecure", false, "skip DTLS peer certificate verification (testing only)")
		metricsAddr    = flag.String("metrics", "127.0.0.1:9100", "address to serve Prometheus metrics on")
		pacingRateBps  = flag.Int64("pacing-rate-bps", 2_000_000, "pacer media budget")
		paddingRateBps = flag.Int64("padding-rate-bps", 100_000, "pacer padding budget")
		tickInterval   = flag.Duration("tick", 5*time.Millisecond, "pacer/RTCP tick interval")
	)
	flag.Parse()

	cert, err := generateSelfSignedCert()
	if err != nil {
		log.Fatalf("generate certificate: %v", err)
	}

	chCfg := transport.SecureChannelConfig{
		Socket: transport.SocketConfig{LocalAddr: *listenAddr, RemoteAddr: *remoteAddr},
		DTLS: &dtls.Config{
			Certificates:         []tls.Certificate{cert},
			InsecureSkipVerify:   *insecure,
			ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		},
	}
	ch, err := transport.NewSecureChannel(chCfg)
	if err != nil {
		log.Fatalf("open secure channel: %v", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if *remoteAddr != "" {
		err = ch.ConnectClient(ctx)
	} else {
		err = ch.ConnectServer(ctx)
	}
	if err != nil {
		log.Fatalf("DTLS handshake: %v", err)
	}

	m := metrics.New(metrics.DefaultConfig())
	w := worker.New(worker.Config{
		ExtensionIDs: worker.ExtensionIDs{MID: 1, RID: 2},
		Metrics:      m,
	})
	w.AddTransport(defaultTransportID, *pacingRateBps, *paddingRateBps)
	// Producer/consumer registration is driven by a front-end control
	// plane, out of scope here; a real deployment calls w.AddProducer/
	// w.AddConsumer as its signaling layer negotiates each one.

	go serveMetrics(*metricsAddr)
	go ingressLoop(ch, w)
	egressLoop(ch, w, *tickInterval)
}

// ingressLoop reads plaintext datagrams off the secure channel and routes
// each to the worker's RTP or RTCP ingestion path, per RFC 5761's
// multiplexing rule (rtcp.IsRTCP).
func ingressLoop(ch *transport.SecureChannel, w *worker.Worker) {
	buf := make([]byte, 1500)
	for {
		n, err := ch.Receive(context.Background(), buf)
		if err != nil {
			log.Printf("secure channel receive: %v", err)
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		nowMs := time.Now().UnixMilli()

		var ingestErr error
		if rtcp.IsRTCP(datagram) {
			ingestErr = w.HandleRTCP(defaultTransportID, datagram, nowMs)
		} else {
			ingestErr = w.HandleRTP(defaultTransportID, datagram, nowMs)
		}
		if ingestErr != nil {
			log.Printf("ingest: %v", ingestErr)
		}
	}
}

// egressLoop drives the pacer and periodic compound RTCP on a fixed tick,
// writing whatever the worker produces back out the secure channel.
func egressLoop(ch *transport.SecureChannel, w *worker.Worker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		nowMs := time.Now().UnixMilli()
		w.Tick(defaultTransportID, nowMs, func(data []byte) {
			if err := ch.Send(data); err != nil {
				log.Printf("secure channel send: %v", err)
			}
		})
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server: %v", err)
	}
}

// generateSelfSignedCert produces an ephemeral RSA certificate for the
// DTLS handshake; production deployments supply their own via a config
// file rather than generating one per process.
func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
