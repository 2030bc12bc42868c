// Package main provides the Rill command line tool.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rill-ml/rill/attn"
	"github.com/rill-ml/rill/tensor"
)

const version = "v0.1.0-dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Rill %s\n", version)
			return
		case "bench":
			bench()
			return
		}
	}

	fmt.Println("Rill - streaming attention kernels for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  bench      Run a forward pass and report timing")
}

func bench() {
	batch, seqLen, headDim := 4, 1024, 64
	rng := rand.New(rand.NewSource(1))

	q := tensor.Randn[float32](tensor.Shape{batch, seqLen, headDim}, rng)
	k := tensor.Randn[float32](tensor.Shape{batch, seqLen, headDim}, rng)
	v := tensor.Randn[float32](tensor.Shape{batch, seqLen, headDim}, rng)

	kernel, err := attn.New(attn.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("kernel configuration failed")
	}
	qb, kb := kernel.BlockSizes()
	log.Info().
		Stringer("strategy", kernel.Kind()).
		Int("query_block", qb).
		Int("key_block", kb).
		Int("batch", batch).
		Int("seq_len", seqLen).
		Int("head_dim", headDim).
		Msg("running forward pass")

	start := time.Now()
	if _, _, err := kernel.Forward(q, k, v, nil, attn.Options{}); err != nil {
		log.Fatal().Err(err).Msg("forward pass failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("done")
}
