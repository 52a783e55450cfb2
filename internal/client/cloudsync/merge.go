package cloudsync

import (
	"github.com/pixelartvj/officesync/internal/client/models"
)

// Merge compares local and remote collections keyed by id using
// last-write-wins. pull holds remote records that are new or strictly newer
// than their local copy; push holds local records that are new or strictly
// newer than their remote copy. Equal timestamps stage nothing; a missing
// or unparseable timestamp counts as older than any real one.
func Merge(local, remote []models.Record) (pull, push []models.Record) {
	localByID := make(map[string]models.Record, len(local))
	for _, l := range local {
		if id := l.ID(); id != "" {
			localByID[id] = l
		}
	}
	remoteByID := make(map[string]models.Record, len(remote))
	for _, r := range remote {
		if id := r.ID(); id != "" {
			remoteByID[id] = r
		}
	}

	for _, r := range remote {
		id := r.ID()
		if id == "" {
			continue
		}
		l, ok := localByID[id]
		if !ok || r.Timestamp().After(l.Timestamp()) {
			pull = append(pull, r)
		}
	}

	for _, l := range local {
		id := l.ID()
		if id == "" {
			continue
		}
		r, ok := remoteByID[id]
		if !ok || l.Timestamp().After(r.Timestamp()) {
			push = append(push, l)
		}
	}
	return pull, push
}
