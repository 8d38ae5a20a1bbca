// Command miniplex is the MiniPlex UDP datagram multiplexer: a CLI
// binary wiring spec.md's components together -- Cobra flag parsing
// (github.com/spf13/cobra, the teacher's own CLI library), the
// Datagram Pipeline, the Forwarding Engine in one of Hub/Trunk/Prune/
// Switch mode, and the Endpoint Directory -- grounded on
// original_source/src/main.cpp's overall shape (parse args, configure
// logging, start the thread pool, wait on a termination signal, drain,
// exit 0/1) adapted to Go's goroutine/context idiom in place of asio's
// io_context/signal_set.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"miniplex/internal/bench"
	"miniplex/internal/bufpool"
	"miniplex/internal/config"
	"miniplex/internal/directory"
	"miniplex/internal/endpoint"
	"miniplex/internal/flog"
	"miniplex/internal/forwarding"
	"miniplex/internal/pipeline"
	"miniplex/internal/strand"
	"miniplex/internal/vm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		hub, trunkFlag, prune, switchFlag bool
		cfg                                config.Config
		localAddr                          string
		localPort, trunkPort               uint16
		trunkIP                            string
		branchIPs                          []string
		branchPortStrs                     []string
		bytecodePath                       string
		soRcvBuf, timeoutMS, concurrency, maxProcessQ int
		consoleLevel, fileLevel           string
		logFilePath                       string
		logRotateKB, logRotateCount       int
		benchmark                         bool
		benchmarkDuration                 int
	)

	rootCmd := &cobra.Command{
		Use:           "miniplex",
		Short:         "A minimal UDP datagram multiplexer/hub/broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case hub:
				cfg.Mode = config.ModeHub
			case trunkFlag:
				cfg.Mode = config.ModeTrunk
			case prune:
				cfg.Mode = config.ModePrune
			case switchFlag:
				cfg.Mode = config.ModeSwitch
			}
			cfg.LocalAddr = localAddr
			cfg.LocalPort = localPort
			cfg.TrunkIP = trunkIP
			cfg.TrunkPort = trunkPort
			cfg.BranchIPs = branchIPs
			branchPorts := make([]uint16, len(branchPortStrs))
			for i, s := range branchPortStrs {
				port, err := parseUint16(s)
				if err != nil {
					return fmt.Errorf("invalid branch_port %q: %w", s, err)
				}
				branchPorts[i] = port
			}
			cfg.BranchPorts = branchPorts
			cfg.BytecodePath = bytecodePath
			cfg.SoRcvBuf = soRcvBuf
			cfg.TimeoutMS = timeoutMS
			cfg.Concurrency = concurrency
			cfg.MaxProcessQ = maxProcessQ
			cfg.ConsoleLevel = parseLevel(consoleLevel)
			cfg.FileLevel = parseLevel(fileLevel)
			cfg.LogFilePath = logFilePath
			cfg.LogRotateKB = logRotateKB
			cfg.LogRotateCount = logRotateCount
			cfg.Benchmark = benchmark
			cfg.BenchmarkDuration = benchmarkDuration

			cfg.SetDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(&cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&hub, "hub", "H", false, "Hub/Star mode: forward datagrams from/to all endpoints")
	flags.BoolVarP(&trunkFlag, "trunk", "T", false, "Trunk mode: forward from a trunk to other endpoints and vice versa")
	flags.BoolVarP(&prune, "prune", "P", false, "Like trunk mode, but limits flow to the first-seen branch")
	flags.BoolVarP(&switchFlag, "switch", "X", false, "Switch mode: classify with an RV64IM bytecode program")
	rootCmd.MarkFlagsMutuallyExclusive("hub", "trunk", "prune", "switch")
	rootCmd.MarkFlagsOneRequired("hub", "trunk", "prune", "switch")

	flags.StringVarP(&localAddr, "local", "l", "0.0.0.0", "Local IP address")
	flags.Uint16VarP(&localPort, "port", "p", 0, "Local port to listen/receive on (required)")
	flags.IntVarP(&timeoutMS, "timeout", "o", 10000, "Milliseconds to keep an idle endpoint cached")
	flags.StringVarP(&trunkIP, "trunk_ip", "r", "", "Remote trunk IP address")
	flags.Uint16VarP(&trunkPort, "trunk_port", "t", 0, "Remote trunk port")
	flags.StringArrayVar(&branchIPs, "branch_ip", nil, "Branch IP address (repeatable)")
	flags.StringArrayVar(&branchPortStrs, "branch_port", nil, "Branch port (repeatable)")
	flags.StringVar(&bytecodePath, "byte_code", "", "Path to an RV64IM bytecode program (required in switch mode)")
	flags.IntVar(&soRcvBuf, "so_rcvbuf", 512*1024, "UDP socket receive buffer size in bytes")
	flags.IntVarP(&concurrency, "concurrency", "x", runtime.NumCPU(), "Thread pool concurrency hint")
	flags.IntVar(&maxProcessQ, "max_process_q", 1024, "Maximum in-flight receive buffers")
	flags.StringVarP(&consoleLevel, "console_logging", "c", "info", "Console log level: off, debug, info, warn, error")
	flags.StringVarP(&fileLevel, "file_logging", "f", "off", "File log level: off, debug, info, warn, error")
	flags.StringVarP(&logFilePath, "log_file", "F", "MiniPlex.log", "Log filename")
	flags.IntVarP(&logRotateKB, "log_size", "S", 5000, "Roll the log file at this many KiB")
	flags.IntVarP(&logRotateCount, "log_num", "N", 3, "Number of rolled log files to keep")
	flags.BoolVar(&benchmark, "benchmark", false, "Run the loopback throughput benchmark instead of serving")
	flags.IntVar(&benchmarkDuration, "benchmark_duration", 10000, "Benchmark duration in milliseconds")

	return rootCmd.Execute()
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseLevel(s string) flog.Level {
	switch s {
	case "debug":
		return flog.Debug
	case "info":
		return flog.Info
	case "warn":
		return flog.Warn
	case "error":
		return flog.Error
	default:
		return flog.None
	}
}

// serve wires every SPEC_FULL.md component together and runs until a
// termination signal arrives, matching original_source/src/main.cpp's
// signal-driven shutdown and exit-code contract (0 clean, 1 init error
// -- reported by run() returning an error up to main()).
func serve(cfg *config.Config) error {
	flog.Configure(cfg.ConsoleLevel, cfg.FileLevel, cfg.LogFilePath, cfg.LogRotateKB/1024, cfg.LogRotateCount)
	defer flog.Close()

	if cfg.Concurrency > 0 {
		runtime.GOMAXPROCS(cfg.Concurrency)
	}

	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.LocalAddr), Port: int(cfg.LocalPort)}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("miniplex: failed to bind %s:%d: %w", cfg.LocalAddr, cfg.LocalPort, err)
	}
	defer conn.Close()
	if err := conn.SetReadBuffer(cfg.SoRcvBuf); err != nil {
		flog.Warnf("miniplex: SetReadBuffer(%d) failed: %v", cfg.SoRcvBuf, err)
	}

	pool := bufpool.NewPool(cfg.MaxProcessQ)
	socketStrand := strand.New(cfg.MaxProcessQ)
	defer socketStrand.Close()
	processStrand := strand.New(cfg.MaxProcessQ)
	defer processStrand.Close()

	var trunkEP endpoint.Endpoint
	hasTrunk := cfg.Mode == config.ModeTrunk || cfg.Mode == config.ModePrune
	if hasTrunk {
		addr, err := endpoint.Parse(cfg.TrunkIP, cfg.TrunkPort)
		if err != nil {
			return fmt.Errorf("miniplex: invalid trunk endpoint: %w", err)
		}
		trunkEP = addr
	}

	perma := make([]endpoint.Endpoint, 0, len(cfg.BranchIPs))
	for i, ip := range cfg.BranchIPs {
		ep, err := endpoint.Parse(ip, cfg.BranchPorts[i])
		if err != nil {
			return fmt.Errorf("miniplex: invalid branch endpoint: %w", err)
		}
		perma = append(perma, ep)
	}

	dir := directory.New(processStrand, time.Duration(cfg.TimeoutMS)*time.Millisecond, trunkEP, hasTrunk, perma)

	var classifyVM *vm.VM
	var entryPoint uint64
	const maxVMInstructions = 100000
	if cfg.Mode == config.ModeSwitch {
		prog, err := os.ReadFile(cfg.BytecodePath)
		if err != nil {
			return fmt.Errorf("miniplex: failed to read byte_code file: %w", err)
		}
		classifyVM = vm.New(4096)
		entryPoint, err = classifyVM.ProgramLoad(prog)
		if err != nil {
			return fmt.Errorf("miniplex: failed to load byte_code: %w", err)
		}
	}

	engine := forwarding.New(modeOf(cfg.Mode), dir, classifyVM, entryPoint, maxVMInstructions)
	pl := pipeline.New(conn, pool, socketStrand, processStrand, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- pl.Run(ctx) }()

	if cfg.Benchmark {
		var rxCount atomic.Uint64
		pl.SetRxCounter(&rxCount)
		go bench.Run(ctx, udpAddr, time.Duration(cfg.BenchmarkDuration)*time.Millisecond, &rxCount)
	}

	flog.Infof("miniplex: listening on %s in %s mode", udpAddr, cfg.Mode)

	select {
	case <-ctx.Done():
		flog.Infof("miniplex: signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("miniplex: pipeline failure: %w", err)
		}
	}
	return nil
}

func modeOf(m config.Mode) forwarding.Mode {
	switch m {
	case config.ModeHub:
		return forwarding.Hub
	case config.ModeTrunk:
		return forwarding.Trunk
	case config.ModePrune:
		return forwarding.Prune
	case config.ModeSwitch:
		return forwarding.Switch
	default:
		return forwarding.Hub
	}
}
