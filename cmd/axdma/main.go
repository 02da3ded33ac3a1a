package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma"
	"github.com/slackhq/axdma/config"
	"github.com/slackhq/axdma/descpool"
	"github.com/slackhq/axdma/hwsim"
	"github.com/slackhq/axdma/util"
)

// Build is the version string, set it with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// or it is taken from the module build info.
var Build string

func init() {
	if Build != "" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	skipSelftest := flag.Bool("skip-selftest", false, "Start the engine without running the selftest workload")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	switch {
	case *printVersion:
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	case *printUsage:
		flag.Usage()
		os.Exit(0)
	case *configPath == "":
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if err := c.Load(*configPath); err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	os.Exit(run(l, c, *configTest, *skipSelftest))
}

// run starts the engine over a simulated device, drives the selftest through
// it and returns the process exit code.
func run(l *logrus.Logger, c *config.C, configTest, skipSelftest bool) int {
	ram := hwsim.NewRAM(c.GetUint64("sim.ram_base", 0x10000000), c.GetInt("sim.ram_size", 64<<20))
	newDevice := func(pool *descpool.Pool) (axdma.Device, error) {
		dev := hwsim.New(l, pool, ram)
		dev.SetAuto(true, c.GetDuration("sim.latency", 0))
		return dev, nil
	}

	ctrl, err := axdma.Main(c, configTest, Build, l, newDevice)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		return 1
	}
	if configTest {
		return 0
	}

	ctrl.Start()

	if !skipSelftest {
		if err := selftestEngine(l, c, ram, ctrl.Engine()); err != nil {
			util.LogWithContextIfNeeded("Selftest failed", err, l)
			ctrl.Stop()
			return 1
		}
		printStats(os.Stdout, ctrl.Engine().Stats())
	}

	// keep serving while something is watching the stats
	if kind := c.GetString("stats.type", "none"); kind != "none" && kind != "" {
		ctrl.ShutdownBlock()
	} else {
		ctrl.Stop()
	}
	return 0
}

func selftestEngine(l *logrus.Logger, c *config.C, ram *hwsim.RAM, e *axdma.Engine) error {
	st, err := selftestFromConfig(c, ram)
	if err != nil {
		return util.NewContextualError("Invalid selftest config", nil, err)
	}
	return st.run(context.Background(), l, e)
}
