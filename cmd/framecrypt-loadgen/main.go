// Command framecrypt-loadgen drives N simulated concurrent media streams,
// each with its own key store and processor (no replay window), and each
// carried as one hashicorp/yamux stream over its own yamux session on its
// own in-process net.Pipe, and reports latency/throughput statistics plus
// Prometheus metrics.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	hyamux "github.com/hashicorp/yamux"

	"github.com/meshcall/framecrypt/keystore"
	"github.com/meshcall/framecrypt/observability/prom"
	"github.com/meshcall/framecrypt/processor"
)

type loadConfig struct {
	streams        int
	framesPerSecond int
	frameBytes     int
	duration       time.Duration
	reportInterval time.Duration
	metricsAddr    string
	historySize    int
	rotateInterval time.Duration
}

type latencyStats struct {
	Count  int     `json:"count"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

type resourceStats struct {
	MaxHeapAlloc  uint64 `json:"max_heap_alloc_bytes"`
	MaxHeapInuse  uint64 `json:"max_heap_inuse_bytes"`
	MaxSysBytes   uint64 `json:"max_sys_bytes"`
	MaxGoroutines int    `json:"max_goroutines"`
}

type statsCollector struct {
	mu          sync.Mutex
	roundTrips  []int64 // nanoseconds
	sent        int64
	dropped     int64
}

func (s *statsCollector) record(d time.Duration) {
	s.mu.Lock()
	s.roundTrips = append(s.roundTrips, int64(d))
	s.sent++
	s.mu.Unlock()
}

func (s *statsCollector) recordDrop() {
	atomic.AddInt64(&s.dropped, 1)
}

func (s *statsCollector) snapshot() latencyStats {
	s.mu.Lock()
	samples := append([]int64(nil), s.roundTrips...)
	s.mu.Unlock()
	if len(samples) == 0 {
		return latencyStats{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	var sum int64
	for _, v := range samples {
		sum += v
	}
	mean := float64(sum) / float64(len(samples))
	return latencyStats{
		Count:  len(samples),
		MinMs:  nsToMs(samples[0]),
		MaxMs:  nsToMs(samples[len(samples)-1]),
		MeanMs: mean / 1e6,
		P50Ms:  nsToMs(percentile(samples, 0.50)),
		P95Ms:  nsToMs(percentile(samples, 0.95)),
		P99Ms:  nsToMs(percentile(samples, 0.99)),
	}
}

func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 1 {
		return samples[len(samples)-1]
	}
	rank := int(float64(len(samples)-1) * p)
	return samples[rank]
}

func nsToMs(ns int64) float64 { return float64(ns) / 1e6 }

func startResourceSampler(ctx context.Context, interval time.Duration) *resourceStats {
	stats := &resourceStats{}
	if interval <= 0 {
		return stats
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				stats.MaxHeapAlloc = maxU64(stats.MaxHeapAlloc, ms.HeapAlloc)
				stats.MaxHeapInuse = maxU64(stats.MaxHeapInuse, ms.HeapInuse)
				stats.MaxSysBytes = maxU64(stats.MaxSysBytes, ms.Sys)
				if g := runtime.NumGoroutine(); g > stats.MaxGoroutines {
					stats.MaxGoroutines = g
				}
			}
		}
	}()
	return stats
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// mediaStream ties one simulated participant's key store, processor, and
// a single yamux-multiplexed net.Conn together.
type mediaStream struct {
	id    int
	ks    *keystore.Store
	proc  *processor.Processor
	conn  net.Conn
}

func runStream(ctx context.Context, st *mediaStream, cfg loadConfig, stats *statsCollector) {
	plaintext := make([]byte, cfg.frameBytes)
	_, _ = rand.Read(plaintext)

	ticker := time.NewTicker(time.Second / time.Duration(maxInt(cfg.framesPerSecond, 1)))
	defer ticker.Stop()

	readBuf := make([]byte, cfg.frameBytes+64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			wire, err := st.proc.EncryptFrame(plaintext)
			if err != nil {
				stats.recordDrop()
				continue
			}
			if _, err := st.conn.Write(wire); err != nil {
				stats.recordDrop()
				continue
			}
			n, err := st.conn.Read(readBuf)
			if err != nil {
				stats.recordDrop()
				continue
			}
			if _, ok := st.proc.DecryptFrame(readBuf[:n]); !ok {
				stats.recordDrop()
				continue
			}
			stats.record(time.Since(start))
		}
	}
}

// echoLoop runs the far end of a yamux stream: it decrypts nothing, it just
// mirrors bytes back, simulating a media relay that forwards encrypted
// frames unchanged.
func echoLoop(conn net.Conn) {
	buf := make([]byte, 1<<16)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return
		}
	}
}

func main() {
	cfg := loadConfig{
		streams:         16,
		framesPerSecond: 50,
		frameBytes:      256,
		duration:        30 * time.Second,
		reportInterval:  2 * time.Second,
		metricsAddr:     ":9090",
		historySize:     keystore.DefaultHistorySize,
		rotateInterval:  0,
	}
	flag.IntVar(&cfg.streams, "streams", cfg.streams, "number of simulated concurrent media streams")
	flag.IntVar(&cfg.framesPerSecond, "fps", cfg.framesPerSecond, "frames per second per stream")
	flag.IntVar(&cfg.frameBytes, "frame-bytes", cfg.frameBytes, "plaintext payload size per frame")
	flag.DurationVar(&cfg.duration, "duration", cfg.duration, "total run duration")
	flag.DurationVar(&cfg.reportInterval, "report-interval", cfg.reportInterval, "status report interval")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", cfg.metricsAddr, "Prometheus /metrics listen address")
	flag.IntVar(&cfg.historySize, "history-size", cfg.historySize, "per-stream key store history size")
	flag.DurationVar(&cfg.rotateInterval, "rotate-interval", cfg.rotateInterval, "per-stream auto-rotation interval (0 = disabled)")
	flag.Parse()

	logger := log.New(os.Stderr, "[loadgen] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	reg := prom.NewRegistry()
	procObs := prom.NewProcessorObserver(reg)
	ksObs := prom.NewKeyStoreObserver(reg)

	metricsServer := &http.Server{Addr: cfg.metricsAddr, Handler: prom.Handler(reg)}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()

	stats := &statsCollector{}
	resources := startResourceSampler(ctx, cfg.reportInterval)

	streams := make([]*mediaStream, 0, cfg.streams)
	var wg sync.WaitGroup
	for i := 0; i < cfg.streams; i++ {
		clientConn, serverConn := net.Pipe()
		session, err := hyamux.Client(clientConn, hyamux.DefaultConfig())
		if err != nil {
			logger.Fatalf("yamux client: %v", err)
		}
		peerSession, err := hyamux.Server(serverConn, hyamux.DefaultConfig())
		if err != nil {
			logger.Fatalf("yamux server: %v", err)
		}

		localStream, err := session.Open()
		if err != nil {
			logger.Fatalf("yamux open: %v", err)
		}
		remoteStream, err := peerSession.Accept()
		if err != nil {
			logger.Fatalf("yamux accept: %v", err)
		}
		go echoLoop(remoteStream)

		ks := keystore.New(
			keystore.WithHistorySize(cfg.historySize),
			keystore.WithObserver(ksObs),
		)
		if cfg.rotateInterval > 0 {
			ks = keystore.New(
				keystore.WithHistorySize(cfg.historySize),
				keystore.WithObserver(ksObs),
				keystore.WithAutoRotation(cfg.rotateInterval),
			)
		}
		if _, err := ks.Generate(); err != nil {
			logger.Fatalf("stream %d: generate key: %v", i, err)
		}

		st := &mediaStream{
			id:   i,
			ks:   ks,
			proc: processor.New(ks, processor.WithObserver(procObs)),
			conn: localStream,
		}
		streams = append(streams, st)

		wg.Add(1)
		go func(st *mediaStream) {
			defer wg.Done()
			runStream(ctx, st, cfg, stats)
		}(st)
	}

	runCtx, runCancel := context.WithTimeout(ctx, cfg.duration)
	defer runCancel()

	reportTicker := time.NewTicker(cfg.reportInterval)
	defer reportTicker.Stop()
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-reportTicker.C:
			printReport(os.Stderr, stats, resources)
		}
	}

	cancel()
	wg.Wait()
	for _, st := range streams {
		_ = st.conn.Close()
		st.ks.Destroy()
	}
	_ = metricsServer.Close()

	printFinalReport(os.Stdout, stats, resources)
}

func printReport(w io.Writer, stats *statsCollector, resources *resourceStats) {
	ls := stats.snapshot()
	fmt.Fprintf(w, "[loadgen] sent=%d dropped=%d p50=%.2fms p99=%.2fms goroutines=%d\n",
		ls.Count, atomic.LoadInt64(&stats.dropped), ls.P50Ms, ls.P99Ms, resources.MaxGoroutines)
}

type finalReport struct {
	Latency   latencyStats  `json:"latency"`
	Dropped   int64         `json:"dropped"`
	Resources resourceStats `json:"resources"`
}

func printFinalReport(w io.Writer, stats *statsCollector, resources *resourceStats) {
	_ = json.NewEncoder(w).Encode(finalReport{
		Latency:   stats.snapshot(),
		Dropped:   atomic.LoadInt64(&stats.dropped),
		Resources: *resources,
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
