// ABOUTME: mvstore CLI: put/get/scan/delete/compact/dump/stats subcommands plus a serve mode for the admin surface
// ABOUTME: Replaces the teacher's cmd/treestore, which wired a gRPC document service that no longer has a generated package to import

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/arvindrathore/mvstore/internal/admin"
	"github.com/arvindrathore/mvstore/internal/logger"
	"github.com/arvindrathore/mvstore/internal/metrics"
	"github.com/arvindrathore/mvstore/pkg/housekeeping"
	"github.com/arvindrathore/mvstore/pkg/mvstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "put":
		runPut(args)
	case "get":
		runGet(args)
	case "delete":
		runDelete(args)
	case "scan":
		runScan(args)
	case "dump":
		runDump(args)
	case "stats":
		runStats(args)
	case "compact":
		runCompact(args)
	case "serve":
		runServe(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mvstore <put|get|delete|scan|dump|stats|compact|serve> [flags]")
}

func fileFlags(fs *flag.FlagSet) *string {
	return fs.String("file", "", "store file path (required)")
}

func openStore(file string, readOnly bool) (*mvstore.Store, error) {
	if file == "" {
		return nil, fmt.Errorf("-file is required")
	}
	cfg := mvstore.DefaultConfig()
	cfg.FileName = file
	cfg.ReadOnly = readOnly
	return mvstore.Open(cfg)
}

func runPut(args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	file := fileFlags(fs)
	mapName := fs.String("map", "default", "map name")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: mvstore put -file=path -map=name <key> <value>")
		os.Exit(1)
	}

	s, err := openStore(*file, false)
	must(err)
	defer s.Close()

	m, err := s.OpenMap(*mapName)
	must(err)
	_, _, err = m.Put([]byte(fs.Arg(0)), []byte(fs.Arg(1)))
	must(err)
	version, err := s.Commit()
	must(err)
	fmt.Printf("ok version=%d\n", version)
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	file := fileFlags(fs)
	mapName := fs.String("map", "default", "map name")
	version := fs.Int64("version", 0, "read as of this version (0 = current)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mvstore get -file=path -map=name <key>")
		os.Exit(1)
	}

	s, err := openStore(*file, true)
	must(err)
	defer s.Close()

	if *version == 0 {
		m, err := s.OpenMap(*mapName)
		must(err)
		val, ok, err := m.Get([]byte(fs.Arg(0)))
		must(err)
		printGetResult(val, ok)
		return
	}

	snap, err := s.OpenVersion(*version)
	must(err)
	defer s.Release(snap)
	m, ok := snap.Map(*mapName)
	if !ok {
		fmt.Fprintf(os.Stderr, "map %q not found at version %d\n", *mapName, *version)
		os.Exit(1)
	}
	val, found, err := m.Get([]byte(fs.Arg(0)))
	must(err)
	printGetResult(val, found)
}

func printGetResult(val []byte, ok bool) {
	if !ok {
		fmt.Println("(not found)")
		os.Exit(1)
	}
	fmt.Printf("%s\n", val)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	file := fileFlags(fs)
	mapName := fs.String("map", "default", "map name")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mvstore delete -file=path -map=name <key>")
		os.Exit(1)
	}

	s, err := openStore(*file, false)
	must(err)
	defer s.Close()

	m, err := s.OpenMap(*mapName)
	must(err)
	_, existed, err := m.Remove([]byte(fs.Arg(0)))
	must(err)
	version, err := s.Commit()
	must(err)
	fmt.Printf("existed=%v version=%d\n", existed, version)
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	file := fileFlags(fs)
	mapName := fs.String("map", "default", "map name")
	from := fs.String("from", "", "start key (inclusive, empty = start of map)")
	limit := fs.Int("limit", 0, "max entries to print (0 = unlimited)")
	fs.Parse(args)

	s, err := openStore(*file, true)
	must(err)
	defer s.Close()

	m, err := s.OpenMap(*mapName)
	must(err)

	var fromKey []byte
	if *from != "" {
		fromKey = []byte(*from)
	}
	c, err := m.Cursor(fromKey)
	must(err)

	count := 0
	c.Scan(func(key, val []byte) bool {
		fmt.Printf("%s = %s\n", key, val)
		count++
		return *limit == 0 || count < *limit
	})
}

func runDump(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	file := fileFlags(fs)
	fs.Parse(args)

	s, err := openStore(*file, true)
	must(err)
	defer s.Close()
	must(s.Dump(os.Stdout))
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	file := fileFlags(fs)
	fs.Parse(args)

	s, err := openStore(*file, true)
	must(err)
	defer s.Close()

	st := s.Stats()
	fmt.Printf("version=%d maps=%d chunks=%d fill_rate=%.3f fragmented=%v blocks=%d/%d\n",
		st.Version, st.MapCount, st.ChunkCount, st.OverallFill, st.Fragmented, st.UsedBlocks, st.TotalBlocks)
}

func runCompact(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	file := fileFlags(fs)
	threshold := fs.Int("threshold", 50, "fill-rate percentage below which a chunk is a candidate")
	fs.Parse(args)

	s, err := openStore(*file, false)
	must(err)
	defer s.Close()

	cfg := housekeeping.DefaultConfig()
	cfg.FillRateThreshold = *threshold
	e := housekeeping.New(s, cfg)

	must(e.RunCycle(context.Background()))
	fmt.Printf("compaction cycle finished, last phase=%s\n", e.LastPhase())
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	file := fileFlags(fs)
	adminPort := fs.Int("admin-port", 9090, "admin HTTP port (metrics/health/pprof)")
	grpcPort := fs.Int("grpc-port", 9091, "gRPC health port")
	interval := fs.Duration("compact-interval", 30*time.Second, "housekeeping cycle interval")
	fs.Parse(args)

	log := logger.GetGlobalLogger()
	m := metrics.NewMetrics()

	s, err := openStore(*file, false)
	must(err)
	defer s.Close()

	hkCfg := housekeeping.DefaultConfig()
	hkCfg.Interval = *interval
	hk := housekeeping.New(s, hkCfg)
	hk.Start()
	defer hk.Stop()

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(admin.GrpcMetricsInterceptor(m, log)))
	healthSrv := admin.NewHealthServer()
	admin.RegisterHealth(grpcServer, healthSrv)

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(*grpcPort))
	must(err)
	go func() {
		log.Info("grpc health server starting").Int("port", *grpcPort).Send()
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server stopped").Err(err).Send()
		}
	}()

	adminServer := admin.NewServer(*adminPort, s, m, log)
	go func() {
		if err := adminServer.Start(); err != nil {
			log.Error("admin server stopped").Err(err).Send()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down").Send()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	adminServer.Shutdown(ctx)
	grpcServer.GracefulStop()
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
