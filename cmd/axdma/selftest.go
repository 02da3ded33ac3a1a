package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma"
	"github.com/slackhq/axdma/config"
	"github.com/slackhq/axdma/hwsim"
	"github.com/slackhq/axdma/util"
	"golang.org/x/sync/errgroup"
)

// selftest copies one random source buffer into a destination slot per
// worker, over and over, and checks every copy and a checksum of the source.
type selftest struct {
	ram         *hwsim.RAM
	transfers   int
	size        uint32
	concurrency int
}

func selftestFromConfig(c *config.C, ram *hwsim.RAM) (*selftest, error) {
	st := &selftest{
		ram:         ram,
		transfers:   c.GetInt("selftest.transfers", 64),
		size:        c.GetUint32("selftest.size", 0x10000),
		concurrency: c.GetInt("selftest.concurrency", 4),
	}

	fields := logrus.Fields{"transfers": st.transfers, "size": st.size, "concurrency": st.concurrency, "ram_size": ram.Size()}
	switch {
	case st.transfers < 0 || st.concurrency < 1 || st.size == 0:
		return nil, util.NewContextualError("selftest values must be positive", fields, nil)
	case uint64(st.size)*uint64(st.concurrency+1) > uint64(ram.Size()):
		return nil, util.NewContextualError("sim.ram_size can not hold the selftest buffers", fields, nil)
	case st.size%32 != 0:
		return nil, util.NewContextualError("selftest.size must be a multiple of 32", fields, nil)
	}
	return st, nil
}

func (st *selftest) slot(i int) uint64 {
	return st.ram.Base() + uint64(i)*uint64(st.size)
}

func (st *selftest) run(ctx context.Context, l *logrus.Logger, e *axdma.Engine) error {
	src := make([]byte, st.size)
	for i := range src {
		src[i] = byte(rand.IntN(256))
	}
	if err := st.ram.Write(st.slot(0), src); err != nil {
		return err
	}

	start := time.Now()
	res, err := e.SubmitRequest(axdma.Request{
		Mode:   axdma.ModeChecksum,
		Blocks: []axdma.Block{{Src: st.slot(0), Size: st.size}},
	})
	if err != nil {
		return util.NewContextualError("Checksum transfer failed", nil, err)
	}
	if want := hwsim.Checksum(src); res.Checksum != want {
		return util.NewContextualError("Checksum mismatch", logrus.Fields{"got": res.Checksum, "want": want}, nil)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(st.concurrency)
	slots := make(chan int, st.concurrency)
	for i := 1; i <= st.concurrency; i++ {
		slots <- i
	}

	for n := 0; n < st.transfers; n++ {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			i := <-slots
			defer func() { slots <- i }()

			dst := st.slot(i)
			if err := e.SubmitSync(st.slot(0), dst, st.size); err != nil {
				return util.NewContextualError("Copy failed", logrus.Fields{"transfer": n, "dst": dst}, err)
			}

			got := make([]byte, st.size)
			if err := st.ram.Read(dst, got); err != nil {
				return err
			}
			if !bytes.Equal(got, src) {
				return util.NewContextualError("Copy does not match source", logrus.Fields{"transfer": n, "dst": dst}, nil)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	l.WithFields(logrus.Fields{
		"transfers": st.transfers + 1,
		"bytes":     uint64(st.transfers+1) * uint64(st.size),
		"duration":  time.Since(start),
	}).Info("Selftest passed")
	return nil
}

func printStats(w io.Writer, s axdma.Stats) {
	fmt.Fprintf(w, "channels: %d\n", s.Channels)
	fmt.Fprintf(w, "transfers: total=%d outstanding=%d pending=%d handles=%d\n", s.Total, s.Outstanding, s.Pending, s.Handles)
	fmt.Fprintf(w, "descriptors: free=%d/%d\n", s.FreeDescriptors, s.Descriptors)
	for _, h := range s.History {
		fmt.Fprintf(w, "  handle=%d mode=%s status=%s size=%d wait=%s run=%s\n", h.Handle, h.Mode, h.Status, h.Size, h.Wait, h.Run)
	}
}
