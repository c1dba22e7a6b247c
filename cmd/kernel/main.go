/*
 * mlkernel - main process
 *
 * Copyright 2026, mlkernel contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	getopt "github.com/pborman/getopt/v2"

	"mlkernel/internal/config"
	"mlkernel/internal/console"
	"mlkernel/internal/kernel"
	"mlkernel/internal/kernel/sched"
	"mlkernel/internal/telnet"
	"mlkernel/internal/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "mlkernel.cfg", "Boot configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optRAM := getopt.StringLong("ram", 'r', "", "Override configured RAM size in bytes")
	optPort := getopt.StringLong("console-port", 'p', "", "Telnet port for a remote operator console")
	optBoot := getopt.StringLong("boot", 'b', "", "Binary id to IPL immediately at startup")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			slog.Error("mlkernel: can't create log file", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	log := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, false))
	slog.SetDefault(log)

	log.Info("mlkernel started")

	cfg, err := config.Load(*optConfig)
	if err != nil {
		log.Error("mlkernel: can't load configuration", slog.String("path", *optConfig), slog.String("err", err.Error()))
		os.Exit(1)
	}
	ramBytes := cfg.RAMBytes
	if *optRAM != "" {
		v, err := strconv.ParseUint(*optRAM, 0, 64)
		if err != nil {
			log.Error("mlkernel: bad --ram value", slog.String("value", *optRAM))
			os.Exit(1)
		}
		ramBytes = v
	}
	if cfg.LogPath != "" && *optLogFile == "" {
		if file, err = os.Create(cfg.LogPath); err == nil {
			log = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, false))
			slog.SetDefault(log)
		}
	}

	const kernelReserve = 4 * 1024 * 1024 // identity-mapped kernel region, spec.md §4.2
	k := kernel.New(ramBytes, kernelReserve, log)

	binaries := make([]kernel.BootBinary, len(cfg.Binaries))
	for i, b := range cfg.Binaries {
		binaries[i] = kernel.BootBinary{ID: b.ID, Path: b.Path}
	}
	devices := make([]kernel.BootDevice, len(cfg.Devices))
	for i, d := range cfg.Devices {
		devices[i] = kernel.BootDevice{Name: d.Name, Base: d.Base, Size: d.Size}
	}
	if err := k.Boot(binaries, devices); err != nil {
		log.Error("mlkernel: boot failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	con := console.New(k)

	var listener *telnet.Listener
	if *optPort != "" {
		listener, err = telnet.Listen(":"+*optPort, "mlk> ", func() telnet.Handler { return con.Process })
		if err != nil {
			log.Error("mlkernel: telnet listener failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		log.Info("operator console reachable over telnet", slog.String("port", *optPort))
	}

	if *optBoot != "" {
		id, err := strconv.ParseUint(*optBoot, 0, 32)
		if err != nil {
			log.Error("mlkernel: bad --boot value", slog.String("value", *optBoot))
			os.Exit(1)
		}
		proc, err := k.Spawn(uint32(id), sched.Normal)
		if err != nil {
			log.Error("mlkernel: boot spawn failed", slog.String("err", err.Error()))
		} else {
			log.Info("ipl", slog.Uint64("pid", uint64(proc.PID)), slog.Uint64("binary", id))
		}
	}

	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for k.Step() {
			// Drive the single logical CPU until every process exits;
			// the operator console can IPL new binaries at any time,
			// which keeps Step returning true.
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		con.Run()
		close(done)
	}()

	select {
	case <-sigChan:
		log.Info("mlkernel: got quit signal")
	case <-done:
		log.Info("mlkernel: console exited")
	case <-stop:
		log.Info("mlkernel: all processes exited")
		// Give the operator a moment to read the final console state
		// before the process tears down the listener and log file.
		time.Sleep(50 * time.Millisecond)
	}

	if listener != nil {
		listener.Stop()
	}
	log.Info("mlkernel: shut down")
}
