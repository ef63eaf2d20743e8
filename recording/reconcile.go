package recording

import (
	"os"
	"time"

	"edge-nvr/logging"
)

// ReconcileStartup closes out every leftover complete=false recording
// for stream using file stat, per §6: "On startup the supervisor calls
// list_incomplete_for_stream for each configured stream and marks each
// leftover complete=true using file stat." If the file no longer exists
// (deleted out from under a crashed writer), the row is still marked
// complete with size 0 and actual_end_time = now, since there is nothing
// further that could ever close it gracefully.
func ReconcileStartup(store Store, stream string) error {
	log := logging.New("recording", stream)
	ids, err := store.ListIncompleteForStream(stream)
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, err := store.Get(id)
		if err != nil {
			log.Printf("reconcile: could not load recording %d: %v", id, err)
			continue
		}
		var size int64
		end := time.Now()
		if info, statErr := os.Stat(rec.Path); statErr == nil {
			size = info.Size()
			end = info.ModTime()
		}
		if err := store.MarkComplete(id, end, size); err != nil {
			log.Printf("reconcile: mark_complete failed for %d: %v", id, err)
			continue
		}
		log.Printf("reconciled dangling recording %d (%s)", id, rec.Path)
	}
	return nil
}
