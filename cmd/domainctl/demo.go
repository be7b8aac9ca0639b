package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/wippyai/domain-runtime/config"
	"github.com/wippyai/domain-runtime/domains/shadowblk"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/kernel"
	"github.com/wippyai/domain-runtime/sheap"
)

// demoRounds is the number of reads issued per block domain.
const demoRounds = 6

func runDemo(ctx context.Context, sys *system, w io.Writer) error {
	k := sys.kernel
	for _, d := range sys.cfg.Domains {
		fmt.Fprintf(w, "== %s (%s)\n", d.Name, d.Kind)
		var err error
		switch d.Kind {
		case config.KindRAMBlock:
			err = demoBlock(ctx, k, d.Name, w)
		case config.KindShadowBlock:
			err = demoShadow(ctx, k, d.Name, w)
		case config.KindWasm:
			err = demoInvoker(ctx, k, d.Name, w)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	fmt.Fprintln(w)
	printInfo(w, k.Info())
	return nil
}

func newBlock(k *kernel.Kernel, fill byte) (*sheap.Array[byte], error) {
	buf, err := sheap.NewArray[byte](k.Scope(), iface.BlockSize)
	if err != nil {
		return nil, err
	}
	for i := range buf.Slice() {
		buf.Slice()[i] = fill
	}
	return buf, nil
}

func demoBlock(ctx context.Context, k *kernel.Kernel, name string, w io.Writer) error {
	blk, err := kernel.Get[*iface.BlockProxy](k, name)
	if err != nil {
		return err
	}
	capacity, err := blk.Capacity(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "capacity %d bytes, served by %s\n", capacity, blk.DomainID())

	data, err := newBlock(k, 0x5a)
	if err != nil {
		return err
	}
	if _, err := blk.WriteBlock(ctx, 0, data); err != nil {
		return err
	}

	for i := range demoRounds {
		buf, err := newBlock(k, 0)
		if err != nil {
			return err
		}
		out, err := blk.ReadBlock(ctx, 0, buf)
		switch {
		case err == nil:
			fmt.Fprintf(w, "read %d: %#x from %s\n", i, out.Slice()[0], blk.DomainID())
		case stderrors.Is(err, errors.ErrDomainCrashed):
			fmt.Fprintf(w, "read %d: %v\n", i, err)
			if err := k.Reload(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(w, "reloaded as %s\n", blk.DomainID())
		default:
			return err
		}
	}
	return nil
}

func demoShadow(ctx context.Context, k *kernel.Kernel, name string, w io.Writer) error {
	sh, err := kernel.Get[*iface.ShadowProxy](k, name)
	if err != nil {
		return err
	}
	for i := range demoRounds {
		buf, err := newBlock(k, 0)
		if err != nil {
			return err
		}
		out, err := sh.ReadBlock(ctx, 0, buf)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "read %d through shadow: %#x\n", i, out.Slice()[0])
	}
	if impl, ok := sh.Current(); ok {
		if s, ok := impl.(*shadowblk.Shadow); ok {
			fmt.Fprintf(w, "shadow reloaded its device %d times\n", s.Reloads())
		}
	}
	return nil
}

func demoInvoker(ctx context.Context, k *kernel.Kernel, name string, w io.Writer) error {
	inv, err := kernel.Get[*iface.InvokerProxy](k, name)
	if err != nil {
		return err
	}
	exports, err := inv.Exports(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "exports: %s\n", strings.Join(exports, ", "))
	return nil
}

func printInfo(w io.Writer, info kernel.Info) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tINTERFACE\tKIND\tSIZE")
	for _, img := range info.Images {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", img.Name, img.Interface, img.Kind, img.Size)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DOMAIN\tIMAGE\tID\tACTIVE\tGEN\tCALLS\tCRASHES")
	for _, d := range info.Domains {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%d\n",
			d.Name, d.Image, d.ID, d.Active, d.Stats.Generation,
			d.Stats.FastCalls+d.Stats.SlowCalls, d.Stats.Crashes)
	}
	_ = tw.Flush()
}
