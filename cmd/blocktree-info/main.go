// Command blocktree-info prints header and B+-tree metadata for one or
// more database files, mirroring dbinfo's output shape: disk version,
// update sequence, document counts, deleted count, data size, B-tree
// size, and total file size. Exit code 0 on success, the storage error's
// negative code on failure (spec §6).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	store "github.com/blocktree/store"
	"github.com/blocktree/store/internal/fileops"
	"github.com/blocktree/store/internal/storeerr"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <file> [file...]\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(-1)
	}

	// Each file is its own independent read-only snapshot (spec §5: readers
	// need no coordination), so multiple paths are inspected concurrently
	// and printed back out in argument order.
	paths := flag.Args()
	reports := make([]bytes.Buffer, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			return printInfo(&reports[i], path)
		})
	}

	err := g.Wait()
	for i := range paths {
		os.Stdout.Write(reports[i].Bytes())
	}
	if err != nil {
		code, ok := storeerr.As(err)
		if !ok {
			log.Printf("%v", err)
			os.Exit(-1)
		}
		fmt.Printf("ERROR: %s\n", code)
		os.Exit(int(code))
	}
}

func printInfo(out *bytes.Buffer, path string) error {
	db, err := store.Open(path, fileops.OpenExisting, fileops.NewPOSIX())
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "DB Info (%s)\n", path)
	fmt.Fprintf(out, "   file format version: %d\n", stats.DiskVersion)
	fmt.Fprintf(out, "   update_seq: %d\n", stats.UpdateSeq)
	if stats.DocCount == 0 {
		fmt.Fprintln(out, "   no documents")
	} else {
		fmt.Fprintf(out, "   doc count: %d\n", stats.DocCount)
		fmt.Fprintf(out, "   deleted doc count: %d\n", stats.DeletedCount)
		fmt.Fprintf(out, "   data size: %s\n", sizeStr(stats.DataSize))
	}
	fmt.Fprintf(out, "   B-tree size: %s\n", sizeStr(stats.BTreeSize))
	fmt.Fprintf(out, "   total disk size: %s\n", sizeStr(uint64(stats.FileSize)))
	return nil
}

var sizeUnits = [...]string{"bytes", "kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

func sizeStr(size uint64) string {
	f := float64(size)
	i := 0
	for f > 1024 && i < len(sizeUnits)-1 {
		f /= 1024
		i++
	}
	return fmt.Sprintf("%.*f %s", i, f, sizeUnits[i])
}
