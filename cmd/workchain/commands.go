package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hamba/cmd"
	"github.com/nrwiersma/workchain/behavior"
	"github.com/nrwiersma/workchain/chainfile"
	"github.com/nrwiersma/workchain/server"
	"github.com/nrwiersma/workchain/work"
	"gopkg.in/urfave/cli.v2"
)

func runBlur(c *cli.Context) error {
	ctx, err := cmd.NewContext(c)
	if err != nil {
		return err
	}

	chain, err := blurChain(ctx.String(flagImage), ctx.Int(flagBlurLevel))
	if err != nil {
		return err
	}

	o, release, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer o.Close()

	app := newApplication(ctx, o)
	defer app.Close()

	h, err := o.Submit(chain)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-cmd.WaitForSignals()
		cancel()
	}()

	state, err := h.Wait(waitCtx)
	if err != nil {
		return err
	}
	ctx.Logger().Info("Chain finished", "chain", h.Name, "state", state.String())

	return nil
}

// blurChain builds the blur chain for an image path or uri.
func blurChain(image string, levels int) (work.Chain, error) {
	if image == "" {
		return work.Chain{}, errors.New("an image is required")
	}
	if !strings.Contains(image, "://") {
		image = behavior.URI(image)
	}
	return behavior.BlurChain(behavior.ChainName, levels, image)
}

func runCancel(c *cli.Context) error {
	ctx, err := cmd.NewContext(c)
	if err != nil {
		return err
	}

	o, release, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer release()

	name := ctx.String(flagName)
	if err := o.Cancel(name); err != nil {
		_ = o.Close()
		return err
	}

	if err := o.Close(); err != nil {
		return err
	}

	fmt.Printf("Cancelled chain %s\n", name)
	return nil
}

func runServe(c *cli.Context) error {
	ctx, err := cmd.NewContext(c)
	if err != nil {
		return err
	}

	o, release, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer o.Close()

	if path := ctx.String(flagChainFile); path != "" {
		def, err := chainfile.Load(path)
		if err != nil {
			return err
		}
		chain, err := def.Chain()
		if err != nil {
			return err
		}
		if _, err = o.Submit(chain); err != nil {
			return err
		}
	}

	app := newApplication(ctx, o)
	defer app.Close()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-cmd.WaitForSignals()
		cancel()
	}()

	srv := server.New(ctx.String(flagAddr), o, ctx.Logger())
	return srv.Run(runCtx)
}
