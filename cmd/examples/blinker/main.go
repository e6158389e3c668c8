// Command blinker demonstrates the kernel's task, timer, queue, and
// mutex surfaces: a periodic software timer feeds "blink" commands to a
// worker task through a queue, while a low-priority reporter prints
// scheduler statistics, all driven by the background ticker.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cortexk/rtkernel"
	"github.com/cortexk/rtkernel/kernlog"
)

func main() {
	logger := kernlog.New(slog.New(slog.NewTextHandler(os.Stderr, nil)), kernlog.LevelInfo)

	k, err := rtkernel.New(
		rtkernel.WithCores(2),
		rtkernel.WithTickRate(time.Millisecond),
		rtkernel.WithLogger(logger),
		rtkernel.WithTrace(256),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmds, err := rtkernel.NewQueue[int](k, 8)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var stdout = k.NewMutex()

	_, err = k.CreateTask("blinker", 4096, 5, rtkernel.AnyCore, func(k *rtkernel.Kernel, t *rtkernel.Task) {
		for {
			n, err := cmds.Receive(t, rtkernel.Forever)
			if err != nil {
				return
			}
			if err := stdout.Lock(t, rtkernel.Forever); err != nil {
				return
			}
			fmt.Printf("blink %d at tick %d on core %d\n", n, k.TickCount(), t.Core())
			_ = stdout.Unlock(t)
			if n >= 5 {
				return
			}
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, err = k.CreateTask("reporter", 4096, 1, rtkernel.AnyCore, func(k *rtkernel.Kernel, t *rtkernel.Task) {
		for {
			t.Delay(100)
			s := k.Stats()
			if err := stdout.Lock(t, rtkernel.Forever); err != nil {
				return
			}
			for _, c := range s.Cores {
				fmt.Printf("core %d: load=%d%% switches=%d\n", c.Index, c.LoadPercent, c.ContextSwitches)
			}
			_ = stdout.Unlock(t)
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	seq := 0
	blink, err := k.NewTimer(50, rtkernel.Periodic, func() {
		seq++
		_ = cmds.SendISR(seq)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	blink.Start()

	go func() {
		time.Sleep(500 * time.Millisecond)
		blink.Stop()
		k.Shutdown()
	}()
	_ = k.Run()
}
