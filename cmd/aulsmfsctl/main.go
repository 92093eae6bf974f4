// Command aulsmfsctl is a direct CLI over an aulsmfs volume file: put, get,
// delete, scan, and compact, each opening the volume, performing one
// operation, saving (put, del and compact only), and closing. Its
// subcommand-dispatch-over-flag.FlagSet
// shape is grounded in the teacher's cmd/treestore/main.go, generalized from
// a single gRPC-client CLI into a direct-to-volume one since this repo ships
// no domain-specific gRPC service (see DESIGN.md).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/lsm"
	"github.com/nainya/aulsmfs/pkg/mtree"
	"github.com/nainya/aulsmfs/pkg/volume"
)

const defaultPageSize = 4096

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "put":
		err = runPut(args)
	case "get":
		err = runGet(args)
	case "del":
		err = runDel(args)
	case "scan":
		err = runScan(args)
	case "compact":
		err = runCompact(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "aulsmfsctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: aulsmfsctl <put|get|del|scan|compact> -volume <path> [flags]")
}

func openVolume(path string, pageSize int) (*volume.Volume, error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return volume.Format(path, pageSize, mtree.BytesCompare)
	}
	return volume.Open(path, pageSize, mtree.BytesCompare)
}

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	volPath := fs.String("volume", "", "volume file path")
	pageSize := fs.Int("page-size", defaultPageSize, "page size for a newly created volume")
	key := fs.String("key", "", "key")
	val := fs.String("value", "", "value")
	fs.Parse(args)
	if *volPath == "" || *key == "" {
		return fmt.Errorf("-volume and -key are required")
	}

	v, err := openVolume(*volPath, *pageSize)
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.LSM.Add([]byte(*key), []byte(*val)); err != nil {
		return err
	}
	return v.Save()
}

func runDel(args []string) error {
	fs := flag.NewFlagSet("del", flag.ExitOnError)
	volPath := fs.String("volume", "", "volume file path")
	pageSize := fs.Int("page-size", defaultPageSize, "page size for a newly created volume")
	key := fs.String("key", "", "key")
	fs.Parse(args)
	if *volPath == "" || *key == "" {
		return fmt.Errorf("-volume and -key are required")
	}

	v, err := openVolume(*volPath, *pageSize)
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.LSM.Del([]byte(*key)); err != nil {
		return err
	}
	return v.Save()
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	volPath := fs.String("volume", "", "volume file path")
	pageSize := fs.Int("page-size", defaultPageSize, "page size for a newly created volume")
	key := fs.String("key", "", "key")
	fs.Parse(args)
	if *volPath == "" || *key == "" {
		return fmt.Errorf("-volume and -key are required")
	}

	v, err := openVolume(*volPath, *pageSize)
	if err != nil {
		return err
	}
	defer v.Close()

	it, found, err := v.LSM.Lookup([]byte(*key))
	if err != nil {
		return err
	}
	if !found {
		return errs.ErrNotFound
	}
	if len(it.Value()) == 0 {
		return fmt.Errorf("key %q is tombstoned", *key)
	}
	fmt.Println(string(it.Value()))
	return nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	volPath := fs.String("volume", "", "volume file path")
	pageSize := fs.Int("page-size", defaultPageSize, "page size for a newly created volume")
	from := fs.String("from", "", "inclusive lower bound key (optional, scans from the start if empty)")
	fs.Parse(args)
	if *volPath == "" {
		return fmt.Errorf("-volume is required")
	}

	v, err := openVolume(*volPath, *pageSize)
	if err != nil {
		return err
	}
	defer v.Close()

	var it *lsm.MergingIterator
	if *from != "" {
		it, err = v.LSM.LowerBound([]byte(*from))
	} else {
		it, err = v.LSM.Begin()
	}
	if err != nil {
		return err
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for it.Valid() {
		if len(it.Value()) != 0 {
			fmt.Fprintf(w, "%s\t%s\n", it.Key(), it.Value())
		}
		if err := it.Next(); err != nil {
			return err
		}
	}
	return nil
}

func runCompact(args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	volPath := fs.String("volume", "", "volume file path")
	pageSize := fs.Int("page-size", defaultPageSize, "page size for a newly created volume")
	target := fs.Int("target", 0, "merge target layer: 0 freezes C0 into C1, 2..N-1 pushes a layer pair down")
	dropTombstones := fs.Bool("drop-tombstones", false, "drop tombstoned entries when this merge's shadowed layers are all empty")
	fs.Parse(args)
	if *volPath == "" {
		return fmt.Errorf("-volume is required")
	}

	v, err := openVolume(*volPath, *pageSize)
	if err != nil {
		return err
	}
	defer v.Close()

	var policy lsm.Policy = lsm.DefaultPolicy{}
	if *dropTombstones {
		policy = lsm.TombstonePolicy{}
	}
	if err := v.LSM.Merge(*target, policy); err != nil {
		return err
	}
	return v.Save()
}
