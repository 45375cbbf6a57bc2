package store

import (
	"github.com/blocktree/store/internal/btree"
	"github.com/blocktree/store/internal/term"
)

// byIDReduceFuncs implements the by-id tree's reduce contract (spec §4.4):
// (count, deleted-count, total-size), componentwise summed on rereduce.
var byIDReduceFuncs = btree.ReduceFuncs{
	Reduce: func(entries []btree.Entry) ([]byte, error) {
		var r term.ByIDReduce
		for _, e := range entries {
			info, err := decodeDocInfo(e.Value)
			if err != nil {
				return nil, err
			}
			r.Count++
			if info.Deleted {
				r.Deleted++
			}
			r.Size += info.Size
		}
		return term.MarshalByIDReduce(r)
	},
	Rereduce: func(childReduces [][]byte) ([]byte, error) {
		var total term.ByIDReduce
		for _, cr := range childReduces {
			r, err := term.UnmarshalByIDReduce(cr)
			if err != nil {
				return nil, err
			}
			total.Count += r.Count
			total.Deleted += r.Deleted
			total.Size += r.Size
		}
		return term.MarshalByIDReduce(total)
	},
}

// bySeqReduceFuncs implements the by-seq tree's reduce: a plain count.
var bySeqReduceFuncs = btree.ReduceFuncs{
	Reduce: func(entries []btree.Entry) ([]byte, error) {
		return term.MarshalBySeqReduce(term.BySeqReduce{Count: uint64(len(entries))})
	},
	Rereduce: func(childReduces [][]byte) ([]byte, error) {
		var total uint64
		for _, cr := range childReduces {
			r, err := term.UnmarshalBySeqReduce(cr)
			if err != nil {
				return nil, err
			}
			total += r.Count
		}
		return term.MarshalBySeqReduce(term.BySeqReduce{Count: total})
	},
}

// noReduceFuncs backs the local-docs tree, which spec §3 defines as having
// no reduce at all; BulkModify still calls through these on every split, so
// they're wired up as pure no-ops rather than left nil.
var noReduceFuncs = btree.ReduceFuncs{
	Reduce:   func(entries []btree.Entry) ([]byte, error) { return nil, nil },
	Rereduce: func(childReduces [][]byte) ([]byte, error) { return nil, nil },
}
