package coordinator

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// addDownload appends (height, hash) to the download queue unless it is
// already tracked there, inflight on some peer, or buffered awaiting
// import — the coordinator's own bookkeeping for "already downloaded",
// since HeaderChain's BlocksToDownload only knows chain structure, not
// in-flight requests.
func (s *state) addDownload(height uint32, hash chainhash.Hash) {
	if s.hasDownloadOrInflight(height, hash) {
		return
	}
	s.downloadSeq++
	s.blocksToDownload[height] = append(s.blocksToDownload[height], downloadEntry{
		Height: height,
		Hash:   hash,
		seq:    s.downloadSeq,
	})
}

func (s *state) hasDownloadOrInflight(height uint32, hash chainhash.Hash) bool {
	for _, e := range s.blocksToDownload[height] {
		if e.Hash == hash {
			return true
		}
	}
	for _, entries := range s.inflightMerkles {
		for _, e := range entries {
			if e.Height == height && e.Hash == hash {
				return true
			}
		}
	}
	for _, dmb := range s.receivedMerkle[height] {
		if dmb.Hash == hash {
			return true
		}
	}
	return false
}

// flattenDownload returns every queued entry in ascending (height,
// insertion order) — the order downloadBlocks serves requests in.
func (s *state) flattenDownload() []downloadEntry {
	heights := make([]uint32, 0, len(s.blocksToDownload))
	for h := range s.blocksToDownload {
		heights = append(heights, h)
	}
	sortUint32s(heights)

	out := make([]downloadEntry, 0, len(s.blocksToDownload))
	for _, h := range heights {
		entries := append([]downloadEntry(nil), s.blocksToDownload[h]...)
		sortBySeq(entries)
		out = append(out, entries...)
	}
	return out
}

// removeDownloadBatch deletes the batch's queued entries, used once it
// has been moved inflight.
func (s *state) removeDownloadBatch(batch []downloadEntry) {
	byHeight := make(map[uint32]map[chainhash.Hash]bool, len(batch))
	for _, e := range batch {
		if byHeight[e.Height] == nil {
			byHeight[e.Height] = make(map[chainhash.Hash]bool)
		}
		byHeight[e.Height][e.Hash] = true
	}
	for height, hashes := range byHeight {
		remaining := s.blocksToDownload[height][:0]
		for _, e := range s.blocksToDownload[height] {
			if !hashes[e.Hash] {
				remaining = append(remaining, e)
			}
		}
		if len(remaining) == 0 {
			delete(s.blocksToDownload, height)
		} else {
			s.blocksToDownload[height] = remaining
		}
	}
}

func (s *state) downloadQueueLen() int {
	n := 0
	for _, entries := range s.blocksToDownload {
		n += len(entries)
	}
	return n
}

func (s *state) inflightMerkleLen() int {
	n := 0
	for _, entries := range s.inflightMerkles {
		n += len(entries)
	}
	return n
}

func sortUint32s(xs []uint32) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

func sortBySeq(xs []downloadEntry) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1].seq > xs[j].seq; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
