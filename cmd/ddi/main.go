// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	backing     string
	concurrency int
	direct      bool
	duration    time.Duration
	numOps      uint64
	rate        float64
	readDelay   time.Duration
	retunes     []string
	sectors     int64
	verbose     bool
	writeDelay  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ddi [command] (flags)",
	Short: "ddi delay injection workload driver",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		benchCmd,
		replayCmd,
	)

	for _, cmd := range []*cobra.Command{benchCmd, replayCmd} {
		cmd.Flags().StringVar(
			&backing, "backing", "mem", "device backing: mem or file")
		cmd.Flags().Int64Var(
			&sectors, "size", 1<<20, "size of mem-backed devices in sectors")
		cmd.Flags().BoolVar(
			&direct, "direct", false, "open file-backed devices with O_DIRECT")
		cmd.Flags().DurationVar(
			&readDelay, "read-delay", 100*time.Millisecond, "delay applied to reads")
		cmd.Flags().DurationVar(
			&writeDelay, "write-delay", 100*time.Millisecond,
			"delay applied to writes (requires a write device)")
		cmd.Flags().StringArrayVar(
			&retunes, "retune", nil,
			"schedule a control surface set, e.g. 2s:read_delay=200 (repeatable)")
		cmd.Flags().BoolVarP(
			&verbose, "verbose", "v", false, "enable verbose event logging")
	}

	benchCmd.Flags().IntVarP(
		&concurrency, "concurrency", "c", 1, "number of concurrent workers")
	benchCmd.Flags().DurationVarP(
		&duration, "duration", "d", 10*time.Second, "the duration to run (0, run forever)")
	benchCmd.Flags().Uint64VarP(
		&numOps, "num-ops", "n", 0, "maximum number of operations (0 means unlimited)")
	benchCmd.Flags().Float64Var(
		&rate, "rate", 0, "operations per second across all workers (0 means unpaced)")
	benchCmd.Flags().IntVar(
		&benchReadPercent, "read-percent", 75,
		"percent (0-100) of operations that are reads")
	benchCmd.Flags().Int64Var(
		&benchPayload, "payload", 8, "sectors transferred per operation")
	benchCmd.Flags().BoolVar(
		&benchVerify, "verify", false,
		"stamp writes and verify reads (forces single-sector operations)")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
