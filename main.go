package axdma

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/config"
	"github.com/slackhq/axdma/descpool"
	"github.com/slackhq/axdma/hw"
	"github.com/slackhq/axdma/util"
	"go.yaml.in/yaml/v3"
)

// Device is what Main drives: the engine register window and its interrupt
// line. hwsim.Device is one, a platform binding is another.
type Device interface {
	hw.Registers
	SetIRQHandler(func())
}

// DeviceFactory binds the device once the descriptor pool it reads chains
// from has been mapped.
type DeviceFactory func(pool *descpool.Pool) (Device, error)

func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, newDevice DeviceFactory) (retcon *Control, reterr error) {
	ctx, cancel := context.WithCancel(context.Background())
	// Automatically cancel the context if Main returns an error, to signal all created goroutines to quit.
	defer func() {
		if reterr != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	pool, err := NewPoolFromConfig(c)
	if err != nil {
		return nil, util.NewContextualError("Failed to map the descriptor pool", logrus.Fields{"descriptors": c.GetInt("dma.pool.descriptors", 4096)}, err)
	}
	defer func() {
		if reterr != nil {
			_ = pool.Close()
		}
	}()
	l.WithFields(logrus.Fields{"descriptors": pool.Size(), "bus_base": pool.BusBase()}).Debug("Descriptor pool mapped")

	dev, err := newDevice(pool)
	if err != nil {
		return nil, util.NewContextualError("Failed to bind the dma device", nil, err)
	}

	e, err := NewEngineFromConfig(l, c, dev, pool)
	if err != nil {
		return nil, util.NewContextualError("Failed to create the dma engine", nil, err)
	}
	dev.SetIRQHandler(e.HandleInterrupt)

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.NewContextualError("Failed to start stats emitter", nil, err)
	}

	if configTest {
		_ = e.Close()
		_ = pool.Close()
		cancel()
		return nil, nil
	}

	c.CatchHUP(ctx)

	return &Control{
		e:          e,
		pool:       pool,
		l:          l,
		ctx:        ctx,
		cancel:     cancel,
		statsStart: statsStart,
	}, nil
}
